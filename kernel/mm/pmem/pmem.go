// Package pmem provides the physical RAM backing store that the core's MMU
// and DMA-style accesses operate on.
package pmem

import (
	"encoding/binary"

	"github.com/portasynthinca3/neutron-sub000/kernel/mm"
)

// openBus is the value returned by reads that do not hit installed RAM.
const openBus = ^uint64(0)

// RAM is a contiguous block of physical memory starting at address 0.
// Accesses outside of the installed range behave like an unclaimed bus:
// reads return all ones and writes are dropped.
type RAM struct {
	mem []byte
}

// New returns RAM with the given size rounded up to a page multiple.
func New(size mm.Size) *RAM {
	return &RAM{
		mem: make([]byte, mm.AlignUp(uintptr(size), mm.PageSize)),
	}
}

// Size returns the number of installed bytes.
func (r *RAM) Size() uintptr {
	return uintptr(len(r.mem))
}

// Contains returns true if [addr, addr+n) lies entirely within installed RAM.
func (r *RAM) Contains(addr, n uintptr) bool {
	end := addr + n
	return end >= addr && end <= uintptr(len(r.mem))
}

// Bytes returns a slice aliasing n bytes of RAM starting at addr or nil if
// the range is not installed.
func (r *RAM) Bytes(addr, n uintptr) []byte {
	if !r.Contains(addr, n) {
		return nil
	}
	return r.mem[addr : addr+n : addr+n]
}

// Read32 reads a little-endian 32-bit value from physical address addr.
func (r *RAM) Read32(addr uintptr) uint32 {
	if b := r.Bytes(addr, 4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return ^uint32(0)
}

// Write32 writes a little-endian 32-bit value to physical address addr.
func (r *RAM) Write32(addr uintptr, val uint32) {
	if b := r.Bytes(addr, 4); b != nil {
		binary.LittleEndian.PutUint32(b, val)
	}
}

// Read64 reads a little-endian 64-bit value from physical address addr.
func (r *RAM) Read64(addr uintptr) uint64 {
	if b := r.Bytes(addr, 8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return openBus
}

// Write64 writes a little-endian 64-bit value to physical address addr.
func (r *RAM) Write64(addr uintptr, val uint64) {
	if b := r.Bytes(addr, 8); b != nil {
		binary.LittleEndian.PutUint64(b, val)
	}
}
