package rimage

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestImageBasic(t *testing.T) {
	img := NewImage(4, 3)
	test.That(t, img.Width(), test.ShouldEqual, 4)
	test.That(t, img.Height(), test.ShouldEqual, 3)
	test.That(t, img.Bounds(), test.ShouldResemble, image.Rect(0, 0, 4, 3))
	test.That(t, img.GetXY(0, 0), test.ShouldResemble, Color{0, 0, 0})

	c := NewColor(10, 20, 30)
	img.SetXY(3, 2, c)
	test.That(t, img.GetXY(3, 2), test.ShouldResemble, c)
	test.That(t, img.Get(image.Point{3, 2}), test.ShouldResemble, c)

	test.That(t, img.In(3, 2), test.ShouldBeTrue)
	test.That(t, img.In(4, 2), test.ShouldBeFalse)
	test.That(t, img.In(-1, 0), test.ShouldBeFalse)
}

func TestImageCloneAndCopy(t *testing.T) {
	img := NewImage(2, 2)
	img.SetXY(1, 1, NewColor(255, 0, 0))

	clone := img.Clone()
	test.That(t, clone.GetXY(1, 1), test.ShouldResemble, NewColor(255, 0, 0))
	clone.SetXY(0, 0, NewColor(0, 255, 0))
	test.That(t, img.GetXY(0, 0), test.ShouldResemble, Color{0, 0, 0})

	dst := NewImage(2, 2)
	test.That(t, dst.CopyFrom(img), test.ShouldBeNil)
	test.That(t, dst.GetXY(1, 1), test.ShouldResemble, NewColor(255, 0, 0))

	wrong := NewImage(3, 2)
	err := wrong.CopyFrom(img)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "dimensions")
}

func TestConvertImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.SetRGBA(2, 1, color.RGBA{9, 8, 7, 255})

	img := ConvertImage(src)
	test.That(t, img.Width(), test.ShouldEqual, 3)
	test.That(t, img.Height(), test.ShouldEqual, 2)
	test.That(t, img.GetXY(2, 1), test.ShouldResemble, NewColor(9, 8, 7))

	// offset-bounds images normalize to (0,0)
	sub, ok := src.SubImage(image.Rect(1, 0, 3, 2)).(*image.RGBA)
	test.That(t, ok, test.ShouldBeTrue)
	img2 := ConvertImage(sub)
	test.That(t, img2.Width(), test.ShouldEqual, 2)
	test.That(t, img2.GetXY(1, 1), test.ShouldResemble, NewColor(9, 8, 7))
}

func TestLuminance(t *testing.T) {
	img := NewImage(2, 1)
	img.SetXY(0, 0, NewColor(255, 255, 255))
	lum := img.Luminance()
	test.That(t, lum.Get(0, 0), test.ShouldAlmostEqual, 255, 1e-3)
	test.That(t, lum.Get(1, 0), test.ShouldEqual, 0)
}

func TestColor(t *testing.T) {
	c := NewColor(1, 2, 3)
	r, g, b := c.RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{1, 2, 3})
	test.That(t, c.String(), test.ShouldEqual, "#010203")

	cc := NewColorFromColor(color.NRGBA{4, 5, 6, 255})
	test.That(t, cc, test.ShouldResemble, NewColor(4, 5, 6))

	r32, g32, b32, a32 := c.RGBA()
	test.That(t, r32, test.ShouldEqual, uint32(0x0101))
	test.That(t, g32, test.ShouldEqual, uint32(0x0202))
	test.That(t, b32, test.ShouldEqual, uint32(0x0303))
	test.That(t, a32, test.ShouldEqual, uint32(0xffff))
}
