package cpu

import "github.com/portasynthinca3/neutron-sub000/kernel"

// Exception vectors raised by the core.
const (
	VectorGPF       = uint8(13)
	VectorPageFault = uint8(14)
)

// Fault describes an exception raised by the core.
type Fault struct {
	Vector uint8

	// Addr is the faulting virtual address (CR2) for page faults.
	Addr uintptr

	Err *kernel.Error
}

// FaultHandler is invoked by the core whenever an exception is raised.
type FaultHandler func(Fault)

// SetFaultHandler installs the exception handler for this core.
func (c *Core) SetFaultHandler(handler FaultHandler) {
	c.faultHandler = handler
}

// fault delivers f to the installed handler. A fault with no handler
// installed escalates to a triple fault which resets the machine; on this
// core that stops execution of the caller.
func (c *Core) fault(f Fault) {
	if c.faultHandler == nil {
		panic(f.Err)
	}
	c.faultHandler(f)
}
