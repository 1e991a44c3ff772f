package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"kae/misc"
)

// ExecOptions configure external process engine.
type ExecOptions struct {
	// Bin is wkhtmltoimage compatible executable.
	Bin string
	// TempDir is parent directory for request artifacts, system default when
	// empty.
	TempDir string
	// Args are appended to generated command line.
	Args []string
}

// Exec rasterizes documents by running external program. Every request works
// in its own temporary directory.
type Exec struct {
	opts ExecOptions
	log  *zap.Logger
}

// NewExec makes sure program could be found.
func NewExec(opts ExecOptions, log *zap.Logger) (*Exec, error) {
	if len(opts.Bin) == 0 {
		opts.Bin = "wkhtmltoimage"
	}
	bin, err := exec.LookPath(opts.Bin)
	if err != nil {
		return nil, fmt.Errorf("unable to find layout engine '%s': %w", opts.Bin, err)
	}
	opts.Bin = bin
	return &Exec{opts: opts, log: log.Named("exec")}, nil
}

// Rasterize implements Rasterizer.
func (e *Exec) Rasterize(ctx context.Context, req Request) (image.Image, error) {
	dir, err := os.MkdirTemp(e.opts.TempDir, misc.GetAppName()+"-"+safeID(req.ID)+"-")
	if err != nil {
		return nil, fmt.Errorf("unable to create work directory: %w", err)
	}
	defer os.RemoveAll(dir)

	in, out := filepath.Join(dir, "page.html"), filepath.Join(dir, "page.png")
	if err := os.WriteFile(in, []byte(req.HTML), 0600); err != nil {
		return nil, fmt.Errorf("unable to write document: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.opts.Bin, e.args(req, in, out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	e.log.Debug("Running layout engine", zap.String("id", req.ID), zap.Strings("args", cmd.Args))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("layout engine failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("layout engine produced no image: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to decode layout engine output: %w", err)
	}
	if b := img.Bounds(); req.Measure && b.Dy() > req.Height {
		img = subImage(img, image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+req.Height))
	}
	return img, nil
}

func (e *Exec) args(req Request, in, out string) []string {
	args := []string{
		"--quiet",
		"--format", "png",
		"--encoding", "utf-8",
		"--enable-local-file-access",
		"--disable-smart-width",
		"--width", strconv.Itoa(req.Width),
	}
	if !req.Measure {
		args = append(args, "--height", strconv.Itoa(req.Height))
	}
	args = append(args, e.opts.Args...)
	return append(args, in, out)
}

// Close implements Rasterizer.
func (e *Exec) Close() error {
	return nil
}

func subImage(img image.Image, r image.Rectangle) image.Image {
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(r)
	}
	return img
}

// safeID keeps request id usable as a part of file name.
func safeID(id string) string {
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
	if len(id) > 64 {
		id = id[:64]
	}
	return id
}
