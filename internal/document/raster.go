package document

import (
	"context"
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/listenupapp/listenup-reader/internal/domain"
)

// bandHeight is the number of destination rows drawn between cancellation checks.
const bandHeight = 128

var (
	paperColor = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	frameColor = color.RGBA{R: 0xd0, G: 0xd0, B: 0xd0, A: 0xff}
)

// Rasterize draws src into a new image sized to vp, rotated clockwise by rotation.
// A nil src yields a blank framed page. Drawing stops early when ctx is done.
func Rasterize(ctx context.Context, src image.Image, vp domain.Viewport, rotation domain.Rotation) (*image.RGBA, error) {
	w, h := vp.PixelSize()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(paperColor), image.Point{}, draw.Src)

	if src == nil {
		drawFrame(dst)
		return dst, ctx.Err()
	}

	m := pageTransform(src.Bounds(), w, h, rotation)
	for y := 0; y < h; y += bandHeight {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		band := dst.SubImage(image.Rect(0, y, w, min(y+bandHeight, h))).(*image.RGBA)
		xdraw.ApproxBiLinear.Transform(band, m, src, src.Bounds(), xdraw.Over, nil)
	}
	return dst, ctx.Err()
}

// pageTransform maps source pixels onto a w x h destination, rotating clockwise.
func pageTransform(sr image.Rectangle, w, h int, rotation domain.Rotation) f64.Aff3 {
	uw, uh := float64(w), float64(h)
	if rotation.Swaps() {
		uw, uh = uh, uw
	}
	kx := uw / float64(max(sr.Dx(), 1))
	ky := uh / float64(max(sr.Dy(), 1))
	ox, oy := -float64(sr.Min.X)*kx, -float64(sr.Min.Y)*ky

	switch rotation {
	case domain.Rotate90:
		return f64.Aff3{0, -ky, uh - oy, kx, 0, ox}
	case domain.Rotate180:
		return f64.Aff3{-kx, 0, uw - ox, 0, -ky, uh - oy}
	case domain.Rotate270:
		return f64.Aff3{0, ky, oy, -kx, 0, uw - ox}
	default:
		return f64.Aff3{kx, 0, ox, 0, ky, oy}
	}
}

func drawFrame(dst *image.RGBA) {
	b := dst.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		dst.SetRGBA(x, b.Min.Y, frameColor)
		dst.SetRGBA(x, b.Max.Y-1, frameColor)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		dst.SetRGBA(b.Min.X, y, frameColor)
		dst.SetRGBA(b.Max.X-1, y, frameColor)
	}
}
