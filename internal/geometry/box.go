package geometry

// Box is an axis-aligned rectangle in pixel coordinates.
type Box struct {
	X, Y, W, H int
}

// Area returns the box area in pixels.
func (b Box) Area() int {
	return b.W * b.H
}

// Intersection returns the area of the overlap between two boxes.
func Intersection(a, b Box) int {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X+a.W, b.X+b.W)
	y2 := min(a.Y+a.H, b.Y+b.H)

	w := max(0, x2-x1)
	h := max(0, y2-y1)
	return w * h
}

// Clamp restricts the box to [0,w-1]x[0,h-1] keeping a minimum size of 1x1.
func Clamp(b Box, w, h int) Box {
	xMin := clampInt(b.X, 0, w-1)
	yMin := clampInt(b.Y, 0, h-1)
	xMax := clampInt(b.X+b.W, 0, w-1)
	yMax := clampInt(b.Y+b.H, 0, h-1)

	return Box{
		X: xMin,
		Y: yMin,
		W: max(1, xMax-xMin),
		H: max(1, yMax-yMin),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
