package overlay

import (
	"image"
	"testing"
)

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	FillRect(img, img.Bounds(), White)
	return img
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	FillRect(img, img.Bounds(), Red)

	data, err := EncodeJPEG(img)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	decoded, err := DecodeRGBA(data)
	if err != nil {
		t.Fatalf("DecodeRGBA: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Fatalf("bounds = %v, want %v", decoded.Bounds(), img.Bounds())
	}
	px := decoded.RGBAAt(16, 12)
	if px.R < 240 || px.G > 40 || px.B > 40 {
		t.Errorf("center pixel = %+v, want approximately red", px)
	}
}

func TestDecodeRGBARejectsGarbage(t *testing.T) {
	if _, err := DecodeRGBA([]byte("not an image")); err == nil {
		t.Fatal("want decode error")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	img := solidImage(8, 8)
	clone := Clone(img)
	clone.SetRGBA(4, 4, Red)

	if got := img.RGBAAt(4, 4); got != White {
		t.Errorf("source pixel changed to %+v after mutating clone", got)
	}
}

func TestDrawBoxOutlinesWithoutFilling(t *testing.T) {
	img := solidImage(20, 20)
	DrawBox(img, 5, 5, 10, 10, Red, 1)

	if got := img.RGBAAt(5, 5); got != Red {
		t.Errorf("corner pixel = %+v, want red", got)
	}
	if got := img.RGBAAt(10, 5); got != Red {
		t.Errorf("top edge pixel = %+v, want red", got)
	}
	if got := img.RGBAAt(10, 10); got != White {
		t.Errorf("interior pixel = %+v, want untouched", got)
	}
	if got := img.RGBAAt(18, 18); got != White {
		t.Errorf("outside pixel = %+v, want untouched", got)
	}
}

func TestDrawBoxClampsToBounds(t *testing.T) {
	img := solidImage(10, 10)
	DrawBox(img, -5, -5, 100, 100, Red, 2)
}

func TestBorderMarksFrameEdges(t *testing.T) {
	img := solidImage(30, 20)
	Border(img, Red, 2)

	for _, p := range []image.Point{{0, 0}, {29, 0}, {0, 19}, {15, 0}, {0, 10}} {
		if got := img.RGBAAt(p.X, p.Y); got != Red {
			t.Errorf("edge pixel %v = %+v, want red", p, got)
		}
	}
	if got := img.RGBAAt(15, 10); got != White {
		t.Errorf("center pixel = %+v, want untouched", got)
	}
}

func TestFillRectIsSolidAndBounded(t *testing.T) {
	img := solidImage(20, 20)
	FillRect(img, image.Rect(5, 5, 10, 10), Black)

	if got := img.RGBAAt(7, 7); got != Black {
		t.Errorf("inside pixel = %+v, want black", got)
	}
	if got := img.RGBAAt(12, 12); got != White {
		t.Errorf("outside pixel = %+v, want untouched", got)
	}
}

func TestBlendRectDarkens(t *testing.T) {
	img := solidImage(20, 20)
	BlendRect(img, image.Rect(0, 0, 10, 10), Black, 0.3)

	inside := img.RGBAAt(5, 5)
	if inside.R >= 255 || inside.R < 150 {
		t.Errorf("blended pixel R = %d, want partially darkened", inside.R)
	}
	if got := img.RGBAAt(15, 15); got != White {
		t.Errorf("outside pixel = %+v, want untouched", got)
	}
}

func TestPlaceholderCarriesMessage(t *testing.T) {
	img := Placeholder(640, 480, "Camera 3 unavailable")
	if img.Bounds().Dx() != 640 || img.Bounds().Dy() != 480 {
		t.Fatalf("bounds = %v", img.Bounds())
	}

	lit := 0
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			if img.RGBAAt(x, y).R > 200 {
				lit++
			}
		}
	}
	if lit == 0 {
		t.Error("placeholder has no rendered text pixels")
	}
}

func TestDrawLabelStaysInsideFrame(t *testing.T) {
	img := solidImage(100, 40)
	DrawLabel(img, -10, -10, "edge", Green)

	if got := img.RGBAAt(0, 9); got == White {
		t.Error("label background not drawn at clamped origin")
	}
}
