package images

import (
	"image"
	"image/color"
	"image/draw"
)

// Blank returns opaque canvas filled with c.
func Blank(w, h int, c color.Color) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return dst
}

// Flatten composes img over opaque background, result has no transparency
// and its bounds start at origin.
func Flatten(img image.Image, bg color.Color) *image.RGBA {
	b := img.Bounds()
	dst := Blank(b.Dx(), b.Dy(), bg)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
