package console

import (
	"encoding/binary"

	"golang.org/x/image/font/basicfont"
)

const bytesPerPixel = 4

// Memory gives the console access to the framebuffer through the virtual
// address it is mapped at. Accesses to unmapped addresses are dropped.
type Memory interface {
	ReadBytes(virtAddr uintptr, dst []byte) bool
	WriteBytes(virtAddr uintptr, src []byte) bool
}

// Fb implements a text console on top of a 32bpp linear framebuffer using
// the 7x13 fixed font.
type Fb struct {
	mem  Memory
	base uintptr

	// Framebuffer dimensions in pixels and size of a row in bytes.
	widthPx, heightPx uint32
	pitch             uint32

	face *basicfont.Face

	// Console dimensions in characters.
	width, height uint16

	// scratch holds one row of pixels.
	scratch []byte
}

// Init sets up the console for a framebuffer of the given geometry mapped at
// virtual address base.
func (cons *Fb) Init(mem Memory, base uintptr, width, height, pitch uint32) {
	cons.mem, cons.base = mem, base
	cons.widthPx, cons.heightPx, cons.pitch = width, height, pitch

	cons.face = basicfont.Face7x13
	cons.width = uint16(width / uint32(cons.face.Advance))
	cons.height = uint16(height / uint32(cons.face.Height))
	cons.scratch = make([]byte, width*bytesPerPixel)
}

// Dimensions returns the console width and height in characters.
func (cons *Fb) Dimensions() (uint16, uint16) {
	return cons.width, cons.height
}

// Clear clears the specified rectangular region
func (cons *Fb) Clear(x, y, width, height uint16) {
	// clip rectangle
	if x >= cons.width {
		x = cons.width
	}
	if y >= cons.height {
		y = cons.height
	}

	if x+width > cons.width {
		width = cons.width - x
	}
	if y+height > cons.height {
		height = cons.height - y
	}

	var (
		glyphW = uint32(cons.face.Advance)
		glyphH = uint32(cons.face.Height)
		row    = cons.scratch[:uint32(width)*glyphW*bytesPerPixel]
		bg     = pixel(Black)
	)

	for i := 0; i < len(row); i += bytesPerPixel {
		binary.LittleEndian.PutUint32(row[i:], bg)
	}

	pX := uint32(x) * glyphW
	for pY := uint32(y) * glyphH; pY < uint32(y+height)*glyphH; pY++ {
		cons.mem.WriteBytes(cons.offset(pX, pY), row)
	}
}

// Scroll a particular number of lines to the specified direction. The caller
// is responsible for clearing the lines that were scrolled in.
func (cons *Fb) Scroll(dir ScrollDir, lines uint16) {
	if lines == 0 || lines > cons.height {
		return
	}

	var (
		glyphH = uint32(cons.face.Height)
		shift  = uint32(lines) * glyphH
		textH  = uint32(cons.height) * glyphH
		row    = cons.scratch
	)

	switch dir {
	case Up:
		for pY := uint32(0); pY+shift < textH; pY++ {
			cons.mem.ReadBytes(cons.offset(0, pY+shift), row)
			cons.mem.WriteBytes(cons.offset(0, pY), row)
		}
	case Down:
		for pY := textH - 1; pY >= shift; pY-- {
			cons.mem.ReadBytes(cons.offset(0, pY-shift), row)
			cons.mem.WriteBytes(cons.offset(0, pY), row)
		}
	}
}

// Write a char to the specified location.
func (cons *Fb) Write(ch byte, attr Attr, x, y uint16) {
	if x >= cons.width || y >= cons.height {
		return
	}

	var (
		face   = cons.face
		fg     = pixel(attr & 0xf)
		bg     = pixel((attr >> 4) & 0xf)
		glyphY = cons.glyphOffset(ch)
		row    = cons.scratch[:face.Advance*bytesPerPixel]
		pX     = uint32(x) * uint32(face.Advance)
		pY     = uint32(y) * uint32(face.Height)
	)

	for gy := 0; gy < face.Height; gy++ {
		for gx := 0; gx < face.Advance; gx++ {
			color := bg
			if gx >= face.Left && gx-face.Left < face.Width {
				if _, _, _, a := face.Mask.At(gx-face.Left, glyphY+gy).RGBA(); a >= 0x8000 {
					color = fg
				}
			}
			binary.LittleEndian.PutUint32(row[gx*bytesPerPixel:], color)
		}
		cons.mem.WriteBytes(cons.offset(pX, pY+uint32(gy)), row)
	}
}

// glyphOffset returns the first row of the glyph for ch in the font mask.
// Characters the font does not cover use the replacement glyph at row 0.
func (cons *Fb) glyphOffset(ch byte) int {
	r := rune(ch)
	for _, rr := range cons.face.Ranges {
		if r >= rr.Low && r < rr.High {
			return (int(r-rr.Low) + rr.Offset) * cons.face.Height
		}
	}
	return 0
}

// offset returns the virtual address of the pixel at (x,y).
func (cons *Fb) offset(x, y uint32) uintptr {
	return cons.base + uintptr(y*cons.pitch+x*bytesPerPixel)
}

// pixel returns the 32bpp xRGB encoding of a palette color.
func pixel(attr Attr) uint32 {
	c := egaPalette[attr&0xf]
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}
