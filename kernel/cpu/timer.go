package cpu

// SetTimerHandler registers fn as the timer interrupt handler. The handler
// runs with interrupts disabled and is never re-entered.
func (c *Core) SetTimerHandler(fn func()) {
	c.timerFn = fn
}

// TSC returns the value of the time-stamp counter.
func (c *Core) TSC() uint64 {
	return c.tsc
}

// Pause executes a single spin-wait iteration, advancing the time-stamp
// counter and delivering any timer interrupt that became due.
func (c *Core) Pause() {
	c.advance(c.tsc + c.cfg.PauseCycles)
}

// Idle halts the core until the next interrupt. With interrupts disabled or
// no timer armed it behaves like Pause.
func (c *Core) Idle() {
	if c.rflags&FlagInterrupt == 0 || c.cfg.TimerPeriod == 0 || c.timerFn == nil || c.inTimer {
		c.Pause()
		return
	}
	c.advance(c.nextTimer)
}

func (c *Core) advance(to uint64) {
	if to > c.tsc {
		c.tsc = to
	}

	if c.cfg.TimerPeriod == 0 || c.tsc < c.nextTimer {
		return
	}

	for c.nextTimer <= c.tsc {
		c.nextTimer += c.cfg.TimerPeriod
	}

	if c.timerFn == nil || c.inTimer || c.rflags&FlagInterrupt == 0 {
		return
	}

	// Interrupt gates clear IF on entry and iretq restores it.
	c.inTimer = true
	c.rflags &^= FlagInterrupt
	c.timerFn()
	c.rflags |= FlagInterrupt
	c.inTimer = false
}
