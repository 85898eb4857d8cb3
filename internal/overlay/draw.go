// Package overlay renders detection annotations, status banners and
// placeholder frames onto RGBA images, and owns JPEG encode/decode for the
// processing pipeline.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Colors used by the annotation layers.
var (
	Red    = color.RGBA{255, 0, 0, 255}
	Green  = color.RGBA{0, 255, 0, 255}
	Blue   = color.RGBA{0, 0, 255, 255}
	White  = color.RGBA{255, 255, 255, 255}
	Black  = color.RGBA{0, 0, 0, 255}
	Orange = color.RGBA{255, 165, 0, 255}
	Gray   = color.RGBA{128, 128, 128, 255}
	Sky    = color.RGBA{0, 200, 255, 255}
)

// jpegQuality is used for every frame encoded by the pipeline.
const jpegQuality = 85

// DecodeRGBA decodes an encoded image (JPEG or PNG) into an RGBA image.
func DecodeRGBA(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba, nil
}

// EncodeJPEG encodes an image as JPEG at the pipeline quality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Clone returns an independent copy of an RGBA image.
func Clone(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	return out
}

// DrawBox draws a rectangle outline on the image.
func DrawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()

	for t := 0; t < thickness; t++ {
		// Top edge
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if y+t >= 0 && y+t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+t, c)
			}
		}
		// Bottom edge
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if y+h-t >= 0 && y+h-t < bounds.Max.Y && i >= 0 {
				img.Set(i, y+h-t, c)
			}
		}
		// Left edge
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if x+t >= 0 && x+t < bounds.Max.X && j >= 0 {
				img.Set(x+t, j, c)
			}
		}
		// Right edge
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if x+w-t >= 0 && x+w-t < bounds.Max.X && j >= 0 {
				img.Set(x+w-t, j, c)
			}
		}
	}
}

// Border draws a frame-edge border of the given thickness.
func Border(img *image.RGBA, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	DrawBox(img, 0, 0, bounds.Dx()-1, bounds.Dy()-1, c, thickness)
}

// FillRect fills a rectangle with a solid color.
func FillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

// BlendRect blends a color into a rectangle. alpha is the weight of the
// blended color, so 0.3 keeps 70% of the underlying pixel.
func BlendRect(img *image.RGBA, r image.Rectangle, c color.RGBA, alpha float64) {
	r = r.Intersect(img.Bounds())
	keep := 1 - alpha
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			px := img.RGBAAt(x, y)
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(float64(px.R)*keep + float64(c.R)*alpha),
				G: uint8(float64(px.G)*keep + float64(c.G)*alpha),
				B: uint8(float64(px.B)*keep + float64(c.B)*alpha),
				A: px.A,
			})
		}
	}
}

// DrawText draws text with its baseline at (x, y).
func DrawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// DrawLabel draws text over a dark background rectangle, clamped so the
// label stays inside the frame.
func DrawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}

	bgColor := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 12; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			px, py := x+dx, y+dy
			if px >= 0 && px < img.Bounds().Max.X && py >= 0 && py < img.Bounds().Max.Y {
				img.Set(px, py, bgColor)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}

// Placeholder builds a dark frame carrying a centered status message, used
// when a camera has no frame to serve.
func Placeholder(width, height int, text string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	FillRect(img, img.Bounds(), color.RGBA{16, 16, 16, 255})

	x := (width - len(text)*7) / 2
	if x < 0 {
		x = 0
	}
	DrawText(img, x, height/2, text, White)
	return img
}
