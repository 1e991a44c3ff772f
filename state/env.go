// Package state defines shared program state.
package state

import (
	"context"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"

	"kae/config"
	"kae/location"
)

type envKey struct{}

// LocalEnv keeps everything program needs in a single place.
type LocalEnv struct {
	Cfg *config.Config
	Rpt *config.Report
	Log *zap.Logger

	// Formats is device location format table, loaded once per run.
	Formats *location.Formats

	// used by render subcommand
	Overwrite bool
	CodePage  encoding.Encoding

	start         time.Time
	restoreStdLog func()
}

func EnvFromContext(ctx context.Context) *LocalEnv {
	if env, ok := ctx.Value(envKey{}).(*LocalEnv); ok {
		return env
	}
	// this should never happen
	panic("localenv not found in context")
}

func ContextWithEnv(ctx context.Context) context.Context {
	return context.WithValue(ctx, envKey{}, newLocalEnv())
}

func (e *LocalEnv) Uptime() time.Duration {
	return time.Since(e.start)
}

// LoadFormats reads location format table, path overrides configured one.
// Table is loaded once and kept for the rest of the run.
func (e *LocalEnv) LoadFormats(path string) (*location.Formats, error) {
	if e.Formats != nil {
		return e.Formats, nil
	}
	if len(path) == 0 && e.Cfg != nil {
		path = e.Cfg.Formats.Path
	}
	f, err := location.LoadFormats(path)
	if err != nil {
		return nil, err
	}
	e.Formats = f
	e.Rpt.Store("formats/"+filepath.Base(path), path)
	if e.Log != nil {
		e.Log.Debug("Location formats loaded", zap.String("path", path), zap.Int("kepub", len(f.Kepub)), zap.Int("epub", len(f.Epub)))
	}
	return f, nil
}

func (e *LocalEnv) RedirectStdLog() {
	if e.Log == nil {
		return
	}
	e.restoreStdLog = zap.RedirectStdLog(e.Log)
}

func (e *LocalEnv) RestoreStdLog() {
	if e.Log != nil {
		_ = e.Log.Sync()
	}
	if e.restoreStdLog != nil {
		e.restoreStdLog()
	}
}
