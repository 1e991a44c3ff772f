// Package render turns chapter documents into bitmaps using external layout
// engine.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"
)

var (
	// ErrRender is returned when layout engine fails to produce bitmap.
	ErrRender = errors.New("unable to render chapter")
	// ErrResourceInline marks referenced resources which could not be
	// embedded into the document. It is never fatal.
	ErrResourceInline = errors.New("unable to inline resource")
)

// Resolver reads package resources. References are relative to package
// entry base, empty base stands for the document itself.
type Resolver interface {
	Resolve(base, href string) (name string, data []byte, err error)
}

// Document is chapter markup with access to its package.
type Document struct {
	Name     string
	Data     []byte
	Resolver Resolver
	// Elements named by device container paths are highlighted.
	StartContainer string
	EndContainer   string
}

// Preferences are reader settings affecting layout.
type Preferences struct {
	FontFamily     string
	FontSizePx     int
	ZoomFactor     float64
	UseDeviceFont  bool
	DeviceFontName string
}

// Zoom returns usable zoom factor.
func (p Preferences) Zoom() float64 {
	if p.ZoomFactor <= 0 || math.IsNaN(p.ZoomFactor) || math.IsInf(p.ZoomFactor, 0) {
		return 1
	}
	return p.ZoomFactor
}

// Canvas is page size in pixels.
type Canvas struct {
	Width  int
	Height int
}

// Scale returns canvas adjusted for reader zoom.
func (c Canvas) Scale(zoom float64) Canvas {
	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		zoom = 1
	}
	return Canvas{
		Width:  max(int(math.Round(float64(c.Width)*zoom)), 1),
		Height: max(int(math.Round(float64(c.Height)*zoom)), 1),
	}
}

// Bitmap is rendered chapter.
type Bitmap struct {
	Image image.Image
	// TotalHeight is full chapter height in pixels as far as it was measured.
	TotalHeight int
	// Truncated is set when chapter is taller than measuring bound.
	Truncated bool
}

// Options control adapter behavior.
type Options struct {
	// MeasureBound is bitmap height used to measure chapter.
	MeasureBound int
	// GrowthLimit, when larger than MeasureBound, allows measuring to retry
	// with doubled bound while chapter does not fit.
	GrowthLimit int
	// FontsDir is directory with device fonts.
	FontsDir string
}

// Adapter prepares documents and drives rasterizer.
type Adapter struct {
	r    Rasterizer
	opts Options
	log  *zap.Logger
}

const defaultMeasureBound = 10000

func NewAdapter(r Rasterizer, opts Options, log *zap.Logger) *Adapter {
	if opts.MeasureBound <= 0 {
		opts.MeasureBound = defaultMeasureBound
	}
	return &Adapter{r: r, opts: opts, log: log.Named("render")}
}

// Prepared is self contained HTML ready for rasterization.
type Prepared struct {
	ID     string
	HTML   string
	Canvas Canvas
	// Failed lists resources which could not be inlined.
	Failed []string
}

// Prepare assembles self contained HTML for the document.
func (a *Adapter) Prepare(id string, doc Document, prefs Preferences, canvas Canvas) (*Prepared, error) {
	font := findDeviceFont(a.opts.FontsDir, prefs, a.log)
	html, failed, err := BuildDocument(doc, prefs, canvas, font, a.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	return &Prepared{ID: id, HTML: html, Canvas: canvas, Failed: failed}, nil
}

// Measure rasterizes document with large height bound and reports resulting
// height. Content taller than bound is truncated.
func (a *Adapter) Measure(ctx context.Context, p *Prepared) (*Bitmap, error) {
	bound := a.opts.MeasureBound
	for {
		img, err := a.rasterize(ctx, p, bound, true)
		if err != nil {
			return nil, err
		}
		h := img.Bounds().Dy()
		if h < bound {
			return &Bitmap{Image: img, TotalHeight: h}, nil
		}
		if a.opts.GrowthLimit <= bound {
			a.log.Warn("Chapter is taller than measuring bound, bottom is truncated", zap.String("id", p.ID), zap.Int("bound", bound))
			return &Bitmap{Image: img, TotalHeight: h, Truncated: true}, nil
		}
		bound = min(bound*2, a.opts.GrowthLimit)
		a.log.Debug("Growing measuring bound", zap.String("id", p.ID), zap.Int("bound", bound))
	}
}

// Render rasterizes document into bitmap of exactly requested height.
func (a *Adapter) Render(ctx context.Context, p *Prepared, height int) (*Bitmap, error) {
	img, err := a.rasterize(ctx, p, height, false)
	if err != nil {
		return nil, err
	}
	return &Bitmap{Image: img, TotalHeight: img.Bounds().Dy()}, nil
}

func (a *Adapter) rasterize(ctx context.Context, p *Prepared, height int, measure bool) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := a.r.Rasterize(ctx, Request{
		ID:         p.ID,
		HTML:       p.HTML,
		Width:      p.Canvas.Width,
		Height:     height,
		Measure:    measure,
		PageHeight: p.Canvas.Height,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty bitmap", ErrRender)
	}
	return img, nil
}
