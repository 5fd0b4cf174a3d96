// Package console implements text consoles drawn into the framebuffer.
package console

import "image/color"

// Attr defines a color attribute. The low nibble selects the foreground and
// the high nibble the background color.
type Attr uint16

// The set of attributes that can be passed to Write().
const (
	Black Attr = iota
	Blue
	Green
	Cyan
	Red
	Magenta
	Brown
	LightGrey
	Grey
	LightBlue
	LightGreen
	LightCyan
	LightRed
	LightMagenta
	LightBrown
	White
)

// ScrollDir defines a scroll direction.
type ScrollDir uint8

// The supported list of scroll directions for the console Scroll() calls.
const (
	Up ScrollDir = iota
	Down
)

// egaPalette maps the 16 color attributes to RGB values.
var egaPalette = [16]color.RGBA{
	{R: 0, G: 0, B: 0},       /* black */
	{R: 0, G: 0, B: 128},     /* blue */
	{R: 0, G: 128, B: 1},     /* green */
	{R: 0, G: 128, B: 128},   /* cyan */
	{R: 128, G: 0, B: 1},     /* red */
	{R: 128, G: 0, B: 128},   /* magenta */
	{R: 64, G: 64, B: 1},     /* brown */
	{R: 128, G: 128, B: 128}, /* light gray */
	{R: 64, G: 64, B: 64},    /* dark gray */
	{R: 0, G: 0, B: 255},     /* light blue */
	{R: 0, G: 255, B: 1},     /* light green */
	{R: 0, G: 255, B: 255},   /* light cyan */
	{R: 255, G: 0, B: 1},     /* light red */
	{R: 255, G: 0, B: 255},   /* light magenta */
	{R: 255, G: 255, B: 1},   /* yellow */
	{R: 255, G: 255, B: 255}, /* white */
}

// The Console interface is implemented by objects that can function as physical consoles.
type Console interface {
	// Dimensions returns the width and height of the console in characters.
	Dimensions() (uint16, uint16)

	// Clear clears the specified rectangular region
	Clear(x, y, width, height uint16)

	// Scroll a particular number of lines to the specified direction.
	Scroll(dir ScrollDir, lines uint16)

	// Write a char to the specified location.
	Write(ch byte, attr Attr, x, y uint16)
}
