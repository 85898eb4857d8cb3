package geometry

import (
	"image"
)

// Rotation identifies one of the orientations a frame is scanned at.
type Rotation int

const (
	// RotateNone leaves the frame untouched.
	RotateNone Rotation = iota
	// RotateCW turns the frame 90 degrees clockwise before scanning.
	RotateCW
	// RotateCCW turns the frame 90 degrees counter-clockwise before scanning.
	RotateCCW
)

// String returns the short name used in logs and status payloads.
func (r Rotation) String() string {
	switch r {
	case RotateCW:
		return "cw"
	case RotateCCW:
		return "ccw"
	default:
		return "none"
	}
}

// Rotate90 returns a new image holding src turned 90 degrees clockwise or
// counter-clockwise. The result swaps width and height.
func Rotate90(src *image.RGBA, r Rotation) *image.RGBA {
	if r == RotateNone {
		return src
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.RGBAAt(b.Min.X+x, b.Min.Y+y)
			if r == RotateCW {
				dst.SetRGBA(h-1-y, x, c)
			} else {
				dst.SetRGBA(y, w-1-x, c)
			}
		}
	}
	return dst
}

// MapRotatedBox maps a box detected on a rotated frame back into the
// coordinate space of the original w x h frame. The four corners are run
// through the inverse transform and the axis-aligned hull of the results is
// clamped to the frame, never smaller than 1x1.
func MapRotatedBox(b Box, r Rotation, w, h int) Box {
	if r == RotateNone {
		return Clamp(b, w, h)
	}

	corners := [4][2]int{
		{b.X, b.Y},
		{b.X + b.W, b.Y},
		{b.X, b.Y + b.H},
		{b.X + b.W, b.Y + b.H},
	}

	var mapped [4][2]int
	for i, c := range corners {
		px, py := c[0], c[1]
		switch r {
		case RotateCW:
			mapped[i] = [2]int{w - 1 - py, px}
		case RotateCCW:
			mapped[i] = [2]int{py, h - 1 - px}
		}
	}

	xMin, yMin := mapped[0][0], mapped[0][1]
	xMax, yMax := xMin, yMin
	for _, p := range mapped[1:] {
		xMin = min(xMin, p[0])
		yMin = min(yMin, p[1])
		xMax = max(xMax, p[0])
		yMax = max(yMax, p[1])
	}

	xMin = clampInt(xMin, 0, w-1)
	yMin = clampInt(yMin, 0, h-1)
	xMax = clampInt(xMax, 0, w-1)
	yMax = clampInt(yMax, 0, h-1)

	return Box{
		X: xMin,
		Y: yMin,
		W: max(1, xMax-xMin),
		H: max(1, yMax-yMin),
	}
}
