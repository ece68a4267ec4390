package document

import (
	"errors"
	"fmt"
	"image"

	"github.com/bbrks/go-blurhash"
	xdraw "golang.org/x/image/draw"
)

// placeholderSize bounds the thumbnail the BlurHash is computed from.
const placeholderSize = 64

// Placeholder computes a BlurHash for a rendered page, shown while the page is redrawn.
func Placeholder(img image.Image) (string, error) {
	if img == nil || img.Bounds().Empty() {
		return "", errors.New("placeholder: empty image")
	}

	// 3x4 components suit portrait pages.
	hash, err := blurhash.Encode(3, 4, thumbnail(img))
	if err != nil {
		return "", fmt.Errorf("encode blurhash: %w", err)
	}
	return hash, nil
}

func thumbnail(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= placeholderSize && h <= placeholderSize {
		return img
	}

	if w > h {
		w, h = placeholderSize, max(h*placeholderSize/w, 1)
	} else {
		w, h = max(w*placeholderSize/h, 1), placeholderSize
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
