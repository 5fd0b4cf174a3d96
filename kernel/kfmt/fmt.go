// Package kfmt implements the kernel's formatted output. It is usable from the
// very first instructions of the boot path: output produced before a console
// sink is attached is kept in a ring buffer and replayed once SetOutputSink is
// called.
package kfmt

import "io"

// numBufSize is large enough to hold a 64-bit value in base 8 plus a sign.
const numBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")

	// earlyPrintBuffer captures Printf output while outputSink is nil.
	earlyPrintBuffer ringBuffer

	outputSink io.Writer
)

// SetOutputSink redirects Printf output to w and flushes anything that was
// buffered before a sink became available.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the writer currently used by Printf. Before a sink is
// attached this is the early ring buffer.
func GetOutputSink() io.Writer {
	if outputSink == nil {
		return &earlyPrintBuffer
	}
	return outputSink
}

// Printf writes a formatted string to the active output sink. It supports a
// subset of the fmt verbs:
//
//	%s  string or byte slice
//	%d  base 10 integer
//	%x  base 16 integer, lower-case
//	%o  base 8 integer
//	%t  boolean
//
// An optional decimal width may precede the verb. Strings and base-10 values
// are left-padded with spaces, base-8 and base-16 values with zeroes.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to w. A nil w selects the early
// ring buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	p := printer{w: w, args: args}
	p.run(format)
}

// printer holds the state of a single Fprintf call.
type printer struct {
	w       io.Writer
	args    []interface{}
	argIdx  int
	scratch [1]byte
	num     [numBufSize]byte
}

func (p *printer) run(format string) {
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			p.writeByte(format[i])
			continue
		}

		width := 0
		i++
		for ; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			p.write(errNoVerb)
			break
		}

		switch verb := format[i]; verb {
		case '%':
			p.writeByte('%')
		case 'd', 'x', 'o', 's', 't':
			p.printArg(verb, width)
		default:
			p.write(errNoVerb)
		}
	}

	for ; p.argIdx < len(p.args); p.argIdx++ {
		p.write(errExtraArg)
	}
}

func (p *printer) printArg(verb byte, width int) {
	if p.argIdx >= len(p.args) {
		p.write(errMissingArg)
		return
	}

	arg := p.args[p.argIdx]
	p.argIdx++

	switch verb {
	case 'd':
		p.fmtInt(arg, 10, width)
	case 'x':
		p.fmtInt(arg, 16, width)
	case 'o':
		p.fmtInt(arg, 8, width)
	case 's':
		p.fmtString(arg, width)
	case 't':
		p.fmtBool(arg)
	}
}

func (p *printer) fmtBool(arg interface{}) {
	v, ok := arg.(bool)
	switch {
	case !ok:
		p.write(errWrongArgType)
	case v:
		p.writeString("true")
	default:
		p.writeString("false")
	}
}

func (p *printer) fmtString(arg interface{}, width int) {
	switch v := arg.(type) {
	case string:
		p.pad(' ', width-len(v))
		p.writeString(v)
	case []byte:
		p.pad(' ', width-len(v))
		p.write(v)
	default:
		p.write(errWrongArgType)
	}
}

func (p *printer) fmtInt(arg interface{}, base uint64, width int) {
	var (
		val uint64
		neg bool
	)

	switch v := arg.(type) {
	case uint8:
		val = uint64(v)
	case uint16:
		val = uint64(v)
	case uint32:
		val = uint64(v)
	case uint64:
		val = v
	case uint:
		val = uint64(v)
	case uintptr:
		val = uint64(v)
	case int8:
		val, neg = abs(int64(v))
	case int16:
		val, neg = abs(int64(v))
	case int32:
		val, neg = abs(int64(v))
	case int64:
		val, neg = abs(v)
	case int:
		val, neg = abs(int64(v))
	default:
		p.write(errWrongArgType)
		return
	}

	if width > numBufSize-1 {
		width = numBufSize - 1
	}

	// Digits are produced right-to-left starting at the end of the buffer.
	end := len(p.num)
	start := end
	for {
		digit := byte(val % base)
		start--
		if digit < 10 {
			p.num[start] = '0' + digit
		} else {
			p.num[start] = 'a' + digit - 10
		}

		if val /= base; val == 0 {
			break
		}
	}

	padCh := byte('0')
	if base == 10 {
		padCh = ' '
	}

	if neg && padCh == ' ' {
		start--
		p.num[start] = '-'
	}

	for end-start < width && start > 1 {
		start--
		p.num[start] = padCh
	}

	if neg && padCh == '0' {
		start--
		p.num[start] = '-'
	}

	p.write(p.num[start:end])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func (p *printer) pad(ch byte, count int) {
	for ; count > 0; count-- {
		p.writeByte(ch)
	}
}

func (p *printer) writeString(s string) {
	for i := 0; i < len(s); i++ {
		p.writeByte(s[i])
	}
}

func (p *printer) writeByte(b byte) {
	p.scratch[0] = b
	p.write(p.scratch[:])
}

func (p *printer) write(b []byte) {
	if p.w != nil {
		_, _ = p.w.Write(b)
		return
	}
	_, _ = earlyPrintBuffer.Write(b)
}
