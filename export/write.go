package export

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"kae/common"
	"kae/config"
	"kae/page"
	"kae/state"
	"kae/utils/images"
)

// deviceDPI is recorded in JPEG density, it matches high resolution readers.
const deviceDPI = 300

var errDestinationExists = errors.New("destination already exists")

func encodePage(img image.Image, cfg config.OutputConfig) ([]byte, error) {
	switch cfg.Format {
	case common.OutputFmtPng:
		return images.EncodePNG(img, cfg.Grayscale)
	case common.OutputFmtJpeg:
		return images.EncodeJPEG(img, cfg.JPEGQuality, cfg.Grayscale, images.DpiPxPerInch, deviceDPI, deviceDPI)
	default:
		return nil, fmt.Errorf("unsupported output format: %s", cfg.Format)
	}
}

func writePage(out string, img image.Image, env *state.LocalEnv) error {
	if img == nil {
		return errors.New("no page image")
	}
	data, err := encodePage(img, env.Cfg.Output)
	if err != nil {
		return fmt.Errorf("unable to encode page: %w", err)
	}
	return writeFile(out, data, env.Overwrite)
}

// writeText stores bookmark text and reader note as plain text.
func writeText(out string, res *page.Result, env *state.LocalEnv) error {
	var b strings.Builder
	if len(res.Text) > 0 {
		b.WriteString(res.Text)
		b.WriteString("\n")
	}
	if len(res.Annotation) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(res.Annotation)
		b.WriteString("\n")
	}
	return writeFile(out, []byte(b.String()), env.Overwrite)
}

func writeFile(out string, data []byte, overwrite bool) error {
	if _, err := os.Stat(out); err == nil {
		if !overwrite {
			return fmt.Errorf("%w: %s", errDestinationExists, out)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("unable to check destination: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("unable to create output directory: %w", err)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("unable to write '%s': %w", out, err)
	}
	return nil
}
