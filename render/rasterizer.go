package render

import (
	"context"
	"fmt"
	"image"

	"go.uber.org/zap"

	"kae/common"
)

// Request is a single rasterization job.
type Request struct {
	// ID names temporary artifacts.
	ID    string
	HTML  string
	Width int
	// Height is bitmap height, or its upper bound when Measure is set.
	Height int
	// Measure requests bitmap following content height.
	Measure bool
	// PageHeight is viewport height used while measuring.
	PageHeight int
}

// Rasterizer is an external layout engine.
type Rasterizer interface {
	Rasterize(ctx context.Context, req Request) (image.Image, error)
	Close() error
}

// EngineConfig selects and configures layout engine.
type EngineConfig struct {
	Engine common.RasterEngine
	Chrome ChromeOptions
	Exec   ExecOptions
}

// NewRasterizer creates configured engine.
func NewRasterizer(ctx context.Context, cfg EngineConfig, log *zap.Logger) (Rasterizer, error) {
	switch cfg.Engine {
	case common.RasterEngineChrome:
		return NewChrome(ctx, cfg.Chrome, log)
	case common.RasterEngineWkhtmltoimage:
		return NewExec(cfg.Exec, log)
	default:
		return nil, fmt.Errorf("unsupported layout engine: %s", cfg.Engine)
	}
}
