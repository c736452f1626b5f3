package rimage

import (
	"fmt"
	"image/color"
)

// Color is a 3-channel 8-bit RGB pixel.
type Color struct {
	R, G, B uint8
}

// NewColor creates a Color from 8-bit components.
func NewColor(r, g, b uint8) Color {
	return Color{r, g, b}
}

// NewColorFromColor converts any color.Color to a Color, dropping alpha.
func NewColorFromColor(c color.Color) Color {
	switch cc := c.(type) {
	case Color:
		return cc
	case color.NRGBA:
		return Color{cc.R, cc.G, cc.B}
	}
	r, g, b, _ := c.RGBA()
	return Color{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)}
}

func (c Color) String() string {
	return fmt.Sprintf("#%.2x%.2x%.2x", c.R, c.G, c.B)
}

// RGB255 returns the 8-bit components.
func (c Color) RGB255() (uint8, uint8, uint8) {
	return c.R, c.G, c.B
}

// NRGBA returns the color as an opaque color.NRGBA.
func (c Color) NRGBA() color.NRGBA {
	return color.NRGBA{c.R, c.G, c.B, 255}
}

// RGBA implements color.Color.
func (c Color) RGBA() (r, g, b, a uint32) {
	r = uint32(c.R)
	r |= r << 8
	g = uint32(c.G)
	g |= g << 8
	b = uint32(c.B)
	b |= b << 8
	a = 0xffff
	return
}

// Luminance returns the Rec. 601 luma of the color, in [0,255].
func (c Color) Luminance() float64 {
	return 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
}

// TheColorModel is the color.Model for Color.
type TheColorModel struct{}

// Convert implements color.Model.
func (cm *TheColorModel) Convert(c color.Color) color.Color {
	return NewColorFromColor(c)
}
