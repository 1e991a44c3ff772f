// Package export implements command line actions: it reads bookmarks from the
// device, reconstructs their pages and writes results to the destination.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/ianaindex"

	"kae/config"
	"kae/epub"
	"kae/kobo"
	"kae/page"
	"kae/render"
	"kae/state"
)

// Run renders pages for selected bookmarks of the mounted device.
func Run(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("export")

	device, dst, err := deviceAndDestination(cmd, log)
	if err != nil {
		return err
	}

	ids, volume, all := cmd.StringSlice("id"), cmd.String("volume"), cmd.Bool("all")
	if len(ids) == 0 && len(volume) == 0 && !all {
		return errors.New("no bookmarks selected, use --id, --volume or --all")
	}

	env.Overwrite = cmd.Bool("overwrite")
	selectCodePage(env, cmd.String("force-zip-cp"), log)

	formats, err := env.LoadFormats(cmd.String("formats"))
	if err != nil {
		return fmt.Errorf("unable to prepare location formats: %w", err)
	}

	if env.Rpt != nil {
		// snapshot before anything touches the database
		if err := env.Rpt.StoreCopy("device/KoboReader.sqlite", filepath.Join(device, filepath.FromSlash(kobo.DatabasePath))); err != nil {
			log.Warn("Unable to store device database in the report", zap.Error(err))
		}
	}

	store, err := kobo.Open(device, kobo.Options{
		Prefixes:   env.Cfg.Device.OnboardPrefixes,
		MarkupsDir: onDevice(device, env.Cfg.Device.MarkupsDir),
		MarkupMode: env.Cfg.Markup.Mode,
	}, env.Log)
	if err != nil {
		return err
	}
	defer func() {
		if e := store.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close device database: %w", e))
		}
	}()

	engine, err := render.NewRasterizer(ctx, engineConfig(env.Cfg), env.Log)
	if err != nil {
		return fmt.Errorf("unable to prepare layout engine: %w", err)
	}
	defer func() {
		if e := engine.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close layout engine: %w", e))
		}
	}()

	adapter := render.NewAdapter(engine, render.Options{
		MeasureBound: env.Cfg.Render.MeasureBound,
		GrowthLimit:  env.Cfg.Render.GrowthLimit,
		FontsDir:     onDevice(device, env.Cfg.Device.FontsDir),
	}, env.Log)

	opts := page.Options{
		Canvas:    render.Canvas{Width: env.Cfg.Render.Width, Height: env.Cfg.Render.Height},
		CacheSize: env.Cfg.Render.CacheSize,
	}
	if env.Rpt != nil {
		opts.Artifacts = env.Rpt
	}
	open := func(p string) (*epub.Package, error) {
		return epub.Open(store.ResolvePackage(p), env.CodePage, env.Log)
	}
	renderer := page.NewRenderer(formats, adapter, open, opts, env.Log)

	bookmarks, err := selectBookmarks(ctx, store, ids, volume, log)
	if err != nil {
		return err
	}

	log.Info("Processing starting", zap.String("device", device), zap.String("destination", dst), zap.Int("bookmarks", len(bookmarks)))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	j := &job{
		store:    store,
		renderer: renderer,
		defaults: Defaults(env.Cfg.Render.Defaults),
		dst:      dst,
		env:      env,
		log:      log,
	}
	sum, err := j.run(ctx, bookmarks)
	sum.report(log)
	return err
}

func deviceAndDestination(cmd *cli.Command, log *zap.Logger) (device, dst string, err error) {
	device = cmd.Args().Get(0)
	if len(device) == 0 {
		return "", "", errors.New("no device mount point has been specified")
	}
	if device, err = filepath.Abs(device); err != nil {
		return "", "", err
	}

	dst = cmd.Args().Get(1)
	if len(dst) == 0 {
		if dst, err = os.Getwd(); err != nil {
			return "", "", fmt.Errorf("unable to get working directory: %w", err)
		}
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return "", "", err
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Mailformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}
	return device, dst, nil
}

// selectCodePage handles packages with file names in archaic code pages, zip
// "standard" does not define file name encoding.
func selectCodePage(env *state.LocalEnv, cp string, log *zap.Logger) {
	if len(cp) == 0 {
		return
	}
	var err error
	env.CodePage, err = ianaindex.IANA.Encoding(cp)
	if err != nil || env.CodePage == nil {
		log.Warn("Unknown character set specification. Ignoring...", zap.String("charset", cp), zap.Error(err))
		env.CodePage = nil
		return
	}
	n, _ := ianaindex.IANA.Name(env.CodePage)
	log.Debug("Forcefully converting all non UTF-8 file names in packages", zap.String("charset", n))
}

// onDevice resolves configured directory against device mount root.
func onDevice(root, dir string) string {
	if len(dir) == 0 || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

func engineConfig(cfg *config.Config) render.EngineConfig {
	return render.EngineConfig{
		Engine: cfg.Render.Engine,
		Chrome: render.ChromeOptions{
			Bin:       cfg.Render.Chrome.Bin,
			RemoteURL: cfg.Render.Chrome.RemoteURL.Reveal(),
			NoSandbox: cfg.Render.Chrome.NoSandbox,
			Timeout:   cfg.Render.Chrome.Timeout,
		},
		Exec: render.ExecOptions{
			Bin:     cfg.Render.Wkhtmltoimage.Bin,
			TempDir: cfg.Render.Wkhtmltoimage.TempDir,
			Args:    cfg.Render.Wkhtmltoimage.Args,
		},
	}
}

// Defaults converts configured reading settings.
func Defaults(p config.PreferencesConfig) render.Preferences {
	return render.Preferences{
		FontFamily:     p.FontFamily,
		FontSizePx:     p.FontSize,
		ZoomFactor:     p.ZoomFactor,
		UseDeviceFont:  p.UseDeviceFont,
		DeviceFontName: p.DeviceFontName,
	}
}

func selectBookmarks(ctx context.Context, store *kobo.Store, ids []string, volume string, log *zap.Logger) ([]*kobo.Bookmark, error) {
	if len(ids) == 0 {
		list, err := store.Bookmarks(ctx, volume)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			log.Warn("No annotations found", zap.String("volume", volume))
		}
		return list, nil
	}

	list := make([]*kobo.Bookmark, 0, len(ids))
	for _, id := range ids {
		b, err := store.Bookmark(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Error("Skipping bookmark", zap.String("bookmark", id), zap.Error(err))
			continue
		}
		list = append(list, b)
	}
	return list, nil
}

type job struct {
	store    *kobo.Store
	renderer *page.Renderer
	defaults render.Preferences
	dst      string
	env      *state.LocalEnv
	log      *zap.Logger
}

// summary counts results by status.
type summary struct {
	statuses map[page.Status]int
	failed   int
}

func (s summary) report(log *zap.Logger) {
	fields := make([]zap.Field, 0, len(s.statuses)+1)
	for _, st := range []page.Status{page.StatusOK, page.StatusNoOverlay, page.StatusPlaceholder, page.StatusTextOnly} {
		if n := s.statuses[st]; n > 0 {
			fields = append(fields, zap.Int(st.String(), n))
		}
	}
	if s.failed > 0 {
		fields = append(fields, zap.Int("failed", s.failed))
	}
	log.Info("Pages summary", fields...)
}

// run processes bookmarks one by one. Problem with a single bookmark is
// logged and does not stop the batch, only cancellation does.
func (j *job) run(ctx context.Context, bookmarks []*kobo.Bookmark) (summary, error) {
	sum := summary{statuses: make(map[page.Status]int)}
	for _, b := range bookmarks {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		res, err := j.one(ctx, b)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.failed++
			j.log.Error("Unable to export bookmark", zap.String("bookmark", b.BookmarkID), zap.Error(err))
			continue
		}
		sum.statuses[res.Status]++
	}
	return sum, nil
}

func (j *job) one(ctx context.Context, b *kobo.Bookmark) (res page.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			j.log.Error("Bookmark export ended with panic", zap.String("bookmark", b.BookmarkID), zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("bookmark export panic: %v", p)
		}
	}()

	prefs, err := j.store.Preferences(ctx, b.ContentID, j.defaults)
	if err != nil {
		return res, err
	}

	res = j.renderer.Render(ctx, b.Record, prefs)
	if res.Status.Degraded() {
		j.log.Warn("Page reconstruction degraded", zap.String("bookmark", b.BookmarkID), zap.Stringer("status", res.Status), zap.Error(res.Err))
	}

	out := buildOutputPath(b, &res, j.dst, j.env)
	if err := writePage(out, res.Image, j.env); err != nil {
		return res, err
	}
	j.log.Debug("Page written", zap.String("bookmark", b.BookmarkID), zap.String("file", out), zap.Stringer("status", res.Status))

	if res.Status == page.StatusTextOnly && j.env.Cfg.Output.TextFallback {
		txt := textFileName(out)
		if err := writeText(txt, &res, j.env); err != nil {
			return res, err
		}
		j.log.Debug("Bookmark text written", zap.String("bookmark", b.BookmarkID), zap.String("file", txt))
	}
	return res, nil
}
