package gige

import "github.com/youtalk/rgbd/rimage"

// demosaicRGGB converts a raw RGGB Bayer mosaic to a full RGB image by
// bilinear interpolation of the missing channels. Border samples clamp to
// the frame edge.
func demosaicRGGB(raw []byte, width, height int) *rimage.Image {
	img := rimage.NewImage(width, height)

	at := func(x, y int) int {
		if x < 0 {
			x = 0
		} else if x >= width {
			x = width - 1
		}
		if y < 0 {
			y = 0
		} else if y >= height {
			y = height - 1
		}
		return int(raw[y*width+x])
	}
	cross := func(x, y int) int {
		return (at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1)) / 4
	}
	diag := func(x, y int) int {
		return (at(x-1, y-1) + at(x+1, y-1) + at(x-1, y+1) + at(x+1, y+1)) / 4
	}
	horiz := func(x, y int) int {
		return (at(x-1, y) + at(x+1, y)) / 2
	}
	vert := func(x, y int) int {
		return (at(x, y-1) + at(x, y+1)) / 2
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var r, g, b int
			switch {
			case y%2 == 0 && x%2 == 0: // red site
				r = at(x, y)
				g = cross(x, y)
				b = diag(x, y)
			case y%2 == 0: // green site on a red row
				r = horiz(x, y)
				g = at(x, y)
				b = vert(x, y)
			case x%2 == 0: // green site on a blue row
				r = vert(x, y)
				g = at(x, y)
				b = horiz(x, y)
			default: // blue site
				r = diag(x, y)
				g = cross(x, y)
				b = at(x, y)
			}
			img.SetXY(x, y, rimage.NewColor(uint8(r), uint8(g), uint8(b)))
		}
	}
	return img
}
