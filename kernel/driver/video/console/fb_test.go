package console

import (
	"encoding/binary"
	"testing"
)

const testBase = uintptr(0xffff880000000000)

type fakeMemory struct {
	buf []byte
}

func (m *fakeMemory) slice(virtAddr uintptr, n int) []byte {
	if virtAddr < testBase || virtAddr-testBase+uintptr(n) > uintptr(len(m.buf)) {
		return nil
	}
	off := virtAddr - testBase
	return m.buf[off : off+uintptr(n)]
}

func (m *fakeMemory) ReadBytes(virtAddr uintptr, dst []byte) bool {
	src := m.slice(virtAddr, len(dst))
	if src == nil {
		return false
	}
	copy(dst, src)
	return true
}

func (m *fakeMemory) WriteBytes(virtAddr uintptr, src []byte) bool {
	dst := m.slice(virtAddr, len(src))
	if dst == nil {
		return false
	}
	copy(dst, src)
	return true
}

func newTestFb() (*Fb, *fakeMemory) {
	const width, height = 70, 39
	mem := &fakeMemory{buf: make([]byte, width*height*bytesPerPixel)}

	var cons Fb
	cons.Init(mem, testBase, width, height, width*bytesPerPixel)
	return &cons, mem
}

func (cons *Fb) pixelAt(mem *fakeMemory, x, y uint32) uint32 {
	off := y*cons.pitch + x*bytesPerPixel
	return binary.LittleEndian.Uint32(mem.buf[off:])
}

// cellPixels counts the foreground pixels of the character cell at (x, y).
func (cons *Fb) cellPixels(mem *fakeMemory, x, y uint16, fg uint32) int {
	var count int
	for gy := uint32(0); gy < uint32(cons.face.Height); gy++ {
		for gx := uint32(0); gx < uint32(cons.face.Advance); gx++ {
			if cons.pixelAt(mem, uint32(x)*uint32(cons.face.Advance)+gx, uint32(y)*uint32(cons.face.Height)+gy) == fg {
				count++
			}
		}
	}
	return count
}

func TestFbDimensions(t *testing.T) {
	cons, _ := newTestFb()
	if w, h := cons.Dimensions(); w != 10 || h != 3 {
		t.Fatalf("expected console dimensions to be 10x3; got %dx%d", w, h)
	}
}

func TestFbWrite(t *testing.T) {
	cons, mem := newTestFb()
	white := pixel(White)

	cons.Write('A', (Blue<<4)|White, 1, 1)

	if got := cons.cellPixels(mem, 1, 1, white); got == 0 {
		t.Fatal("expected glyph pixels to be drawn in the foreground color")
	}

	if got := cons.cellPixels(mem, 1, 1, pixel(Blue)); got == 0 {
		t.Fatal("expected the rest of the cell to use the background color")
	}

	if got := cons.cellPixels(mem, 0, 0, white); got != 0 {
		t.Fatal("expected neighbouring cells to be left alone")
	}

	t.Run("glyphs differ", func(t *testing.T) {
		cons.Write('I', White, 2, 1)
		if cons.cellPixels(mem, 1, 1, white) == cons.cellPixels(mem, 2, 1, white) {
			t.Error("expected A and I to have different shapes")
		}

		cons.Write(' ', White, 3, 1)
		if got := cons.cellPixels(mem, 3, 1, white); got != 0 {
			t.Errorf("expected a blank glyph for space; got %d lit pixels", got)
		}
	})

	t.Run("out of bounds", func(t *testing.T) {
		before := append([]byte(nil), mem.buf...)
		cons.Write('X', White, 10, 0)
		cons.Write('X', White, 0, 3)
		for i := range before {
			if before[i] != mem.buf[i] {
				t.Fatal("expected writes outside the console to be ignored")
			}
		}
	})
}

func TestFbClear(t *testing.T) {
	cons, mem := newTestFb()
	white := pixel(White)

	for x := uint16(0); x < 10; x++ {
		cons.Write('#', White, x, 0)
		cons.Write('#', White, x, 1)
	}

	cons.Clear(2, 0, 3, 1)

	specs := []struct {
		x, y  uint16
		exLit bool
	}{
		{1, 0, true},
		{2, 0, false},
		{4, 0, false},
		{5, 0, true},
		{3, 1, true},
	}

	for specIndex, spec := range specs {
		if lit := cons.cellPixels(mem, spec.x, spec.y, white) != 0; lit != spec.exLit {
			t.Errorf("[spec %d] expected cell (%d, %d) lit to be %t", specIndex, spec.x, spec.y, spec.exLit)
		}
	}

	// Clipped to the console size.
	cons.Clear(8, 1, 100, 100)
	if cons.cellPixels(mem, 9, 1, white) != 0 || cons.cellPixels(mem, 7, 1, white) == 0 {
		t.Error("expected clipped clear to only affect cells inside the console")
	}
}

func TestFbScroll(t *testing.T) {
	cons, mem := newTestFb()
	white := pixel(White)

	cons.Write('A', White, 0, 1)
	expA := cons.cellPixels(mem, 0, 1, white)

	cons.Scroll(Up, 1)
	if got := cons.cellPixels(mem, 0, 0, white); got != expA {
		t.Fatalf("expected glyph to move up one line; got %d lit pixels, want %d", got, expA)
	}

	cons.Scroll(Down, 2)
	if got := cons.cellPixels(mem, 0, 2, white); got != expA {
		t.Fatalf("expected glyph to move down two lines; got %d lit pixels, want %d", got, expA)
	}

	before := append([]byte(nil), mem.buf...)
	cons.Scroll(Up, 0)
	cons.Scroll(Up, 4)
	for i := range before {
		if before[i] != mem.buf[i] {
			t.Fatal("expected invalid scroll requests to be ignored")
		}
	}
}
