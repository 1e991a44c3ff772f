package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

var (
	// ErrEmptySVG is returned for drawings without usable size.
	ErrEmptySVG = errors.New("svg has zero area")
	// ErrSVGTooLarge is returned when requested raster exceeds maxRasterDim.
	ErrSVGTooLarge = errors.New("svg raster is too large")
)

// maxRasterDim is the maximum pixel dimension (width or height) of a single
// raster produced from SVG. Taller drawings are rasterized by windows.
var maxRasterDim = 8192

// SVGSize is intrinsic drawing size taken from viewBox or width and height
// attributes.
type SVGSize struct {
	W, H float64
}

// SVG is parsed drawing ready to be rasterized at any width.
type SVG struct {
	icon *oksvg.SvgIcon
	Size SVGSize
}

// ParseSVG reads drawing and checks that it has usable size.
func ParseSVG(svgData []byte) (*SVG, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(svgData))
	if err != nil {
		return nil, fmt.Errorf("unable to parse svg: %w", err)
	}
	size := SVGSize{W: icon.ViewBox.W, H: icon.ViewBox.H}
	if !(size.W > 0 && size.H > 0) || math.IsInf(size.W, 0) || math.IsInf(size.H, 0) {
		return nil, ErrEmptySVG
	}
	return &SVG{icon: icon, Size: size}, nil
}

// HeightAt returns drawing height when scaled to width keeping aspect ratio.
func (s *SVG) HeightAt(width int) int {
	return max(int(math.Round(s.Size.H*float64(width)/s.Size.W)), 1)
}

// Rasterize draws horizontal band [top, top+height) of the drawing scaled to
// width onto transparent canvas. Band is clamped to the drawing, non positive
// height means everything below top.
func (s *SVG) Rasterize(width, top, height int) (*image.RGBA, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: width %d", ErrEmptySVG, width)
	}
	full := s.HeightAt(width)
	top = min(max(top, 0), full-1)
	if height <= 0 || top+height > full {
		height = full - top
	}
	if width > maxRasterDim || height > maxRasterDim {
		return nil, fmt.Errorf("%w: %dx%d", ErrSVGTooLarge, width, height)
	}

	s.icon.SetTarget(0, -float64(top), float64(width), s.Size.H*float64(width)/s.Size.W)

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, dst, dst.Bounds())
	dasher := rasterx.NewDasher(width, height, scanner)
	s.icon.Draw(dasher, 1.0)
	return dst, nil
}

// RasterizeSVG rasterizes whole SVG onto transparent canvas. When width is
// positive drawing is scaled to that width keeping aspect ratio and must fit
// into maxRasterDim, otherwise intrinsic size is used, reduced proportionally
// when too large.
func RasterizeSVG(svgData []byte, width int) (*image.RGBA, SVGSize, error) {
	s, err := ParseSVG(svgData)
	if err != nil {
		return nil, SVGSize{}, err
	}
	if width <= 0 {
		width = max(int(math.Ceil(s.Size.W)), 1)
		if h := s.HeightAt(width); width > maxRasterDim || h > maxRasterDim {
			k := min(float64(maxRasterDim)/float64(width), float64(maxRasterDim)/float64(h))
			width = max(int(math.Floor(float64(width)*k)), 1)
		}
	}
	img, err := s.Rasterize(width, 0, 0)
	if err != nil {
		return nil, s.Size, err
	}
	return img, s.Size, nil
}
