// Package markup aligns hand drawn annotation layers with reconstructed pages
// and composites them.
package markup

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/webp"

	"kae/common"
	"kae/utils/images"
	"kae/viewport"
)

// ErrInvalidMarkup is returned for corrupt or empty annotation layers.
var ErrInvalidMarkup = errors.New("invalid markup")

// Overlay is annotation layer scaled to page width. Vector layers are kept
// as drawings and rasterized only for the window covering the page, so
// layers captured over long chapters never lose width.
type Overlay struct {
	// Size at page width.
	Width, Height int
	// Native drawing size before scaling.
	NativeW, NativeH float64

	raster *image.NRGBA
	vector *images.SVG
}

// Position describes where page window is inside the chapter.
type Position struct {
	Mode        common.MarkupMode
	Progress    viewport.Progress
	CropTop     int
	TotalHeight int
}

// Load prepares annotation layer scaled to width keeping aspect ratio.
// Device stores vector drawings, raster captures are accepted as well.
func Load(data []byte, width int) (*Overlay, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrInvalidMarkup)
	}
	if width <= 0 {
		return nil, fmt.Errorf("%w: bad page width %d", ErrInvalidMarkup, width)
	}

	if filetype.IsImage(data) {
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidMarkup, err)
		}
		b := img.Bounds()
		if b.Empty() {
			return nil, fmt.Errorf("%w: zero area capture", ErrInvalidMarkup)
		}
		resized := imaging.Resize(img, width, 0, imaging.Lanczos)
		return &Overlay{
			Width:   width,
			Height:  resized.Bounds().Dy(),
			NativeW: float64(b.Dx()),
			NativeH: float64(b.Dy()),
			raster:  resized,
		}, nil
	}

	svg, err := images.ParseSVG(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMarkup, err)
	}
	return &Overlay{
		Width:   width,
		Height:  svg.HeightAt(width),
		NativeW: svg.Size.W,
		NativeH: svg.Size.H,
		vector:  svg,
	}, nil
}

// offset returns overlay row matching the top of the page. Layers captured
// over the whole chapter are shifted by crop position scaled to the overlay
// height, everything else starts at the top.
func (o *Overlay) offset(pageHeight int, pos Position) int {
	if pos.Mode != common.MarkupModeChapter || !pos.Progress.Known() || pos.TotalHeight <= 0 {
		return 0
	}
	scale := float64(o.Height) / float64(pos.TotalHeight)
	offset := int(math.Round(float64(pos.CropTop) * scale))
	return min(max(offset, 0), max(0, o.Height-pageHeight))
}

// Window returns part of the overlay covering the page, at most pageHeight
// rows tall and always overlay width wide.
func (o *Overlay) Window(pageHeight int, pos Position) (image.Image, error) {
	top := o.offset(pageHeight, pos)
	height := min(pageHeight, o.Height-top)
	if o.vector != nil {
		img, err := o.vector.Rasterize(o.Width, top, height)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidMarkup, err)
		}
		return img, nil
	}
	return imaging.Crop(o.raster, image.Rect(0, top, o.Width, top+height)), nil
}

// Composite draws overlay over the page and flattens result onto white. The
// result always has page dimensions and is fully opaque.
func Composite(page image.Image, o *Overlay, pos Position) (*image.RGBA, error) {
	layer, err := o.Window(page.Bounds().Dy(), pos)
	if err != nil {
		return nil, err
	}
	out := imaging.Overlay(page, layer, image.Pt(0, 0), 1.0)
	return images.Flatten(out, color.White), nil
}

// Apply loads annotation layer for page and composites it.
func Apply(page image.Image, data []byte, pos Position) (*image.RGBA, error) {
	o, err := Load(data, page.Bounds().Dx())
	if err != nil {
		return nil, err
	}
	return Composite(page, o, pos)
}
