package cpu

import (
	"encoding/binary"

	"github.com/portasynthinca3/neutron-sub000/kernel"
)

// kernelMemset is used by tests to observe bulk fills.
var kernelMemset = kernel.Memset

// access splits the virtual range [virtAddr, virtAddr+len(buf)) into page
// sized chunks and hands each translated chunk to fn. It stops at the first
// faulting page.
func (c *Core) access(virtAddr uintptr, buf []byte, fn func(phys uintptr, chunk []byte)) bool {
	for len(buf) > 0 {
		n := int(pageMask + 1 - virtAddr&pageMask)
		if n > len(buf) {
			n = len(buf)
		}

		phys, ok := c.translate(virtAddr)
		if !ok {
			return false
		}

		fn(phys, buf[:n])
		buf = buf[n:]
		virtAddr += uintptr(n)
	}

	return true
}

// ReadBytes copies len(dst) bytes from virtual address virtAddr into dst.
func (c *Core) ReadBytes(virtAddr uintptr, dst []byte) bool {
	return c.access(virtAddr, dst, func(phys uintptr, chunk []byte) {
		if src := c.ram.Bytes(phys, uintptr(len(chunk))); src != nil {
			kernel.Memcopy(src, chunk)
			return
		}
		for i := range chunk {
			chunk[i] = 0xff
		}
	})
}

// WriteBytes copies src to virtual address virtAddr.
func (c *Core) WriteBytes(virtAddr uintptr, src []byte) bool {
	return c.access(virtAddr, src, func(phys uintptr, chunk []byte) {
		if dst := c.ram.Bytes(phys, uintptr(len(chunk))); dst != nil {
			kernel.Memcopy(chunk, dst)
		}
	})
}

// Load32 reads a 32-bit value from virtual address virtAddr.
func (c *Core) Load32(virtAddr uintptr) uint32 {
	var buf [4]byte
	if !c.ReadBytes(virtAddr, buf[:]) {
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

// Store32 writes a 32-bit value to virtual address virtAddr.
func (c *Core) Store32(virtAddr uintptr, val uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	c.WriteBytes(virtAddr, buf[:])
}

// Load64 reads a 64-bit value from virtual address virtAddr.
func (c *Core) Load64(virtAddr uintptr) uint64 {
	var buf [8]byte
	if !c.ReadBytes(virtAddr, buf[:]) {
		return 0
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// Store64 writes a 64-bit value to virtual address virtAddr.
func (c *Core) Store64(virtAddr uintptr, val uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	c.WriteBytes(virtAddr, buf[:])
}

// Fill sets size bytes starting at virtual address virtAddr to value.
func (c *Core) Fill(virtAddr, size uintptr, value byte) bool {
	for size > 0 {
		n := pageMask + 1 - virtAddr&pageMask
		if n > size {
			n = size
		}

		phys, ok := c.translate(virtAddr)
		if !ok {
			return false
		}

		if dst := c.ram.Bytes(phys, n); dst != nil {
			kernelMemset(dst, value)
		}

		size -= n
		virtAddr += n
	}

	return true
}
