// Package page reconstructs device pages for bookmarks: it locates chapter,
// renders it, cuts the page reader was looking at and puts annotation layer
// over it.
package page

import (
	"context"
	"fmt"
	"html"
	"image"
	"image/color"
	rdebug "runtime/debug"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"kae/epub"
	"kae/location"
	"kae/markup"
	"kae/render"
	"kae/utils/debug"
	"kae/utils/images"
	"kae/viewport"
)

// DefaultCanvas is device page size at zoom 1.
var DefaultCanvas = render.Canvas{Width: 800, Height: 1800}

// Page is a single device page cut from rendered chapter.
type Page struct {
	CropTop int
	Image   *image.RGBA
}

// Result is outcome of page reconstruction. Image is never nil, degraded
// results carry blank page and the error which caused degradation.
type Result struct {
	BookmarkID string
	Image      image.Image
	CropTop    int
	Status     Status
	Location   location.Location
	Err        error
	// Text and Annotation are bookmark texts stripped of any markup.
	Text       string
	Annotation string
}

// Artifacts receives intermediate results for debugging.
type Artifacts interface {
	StoreData(name string, data []byte)
}

// PackageOpener opens book package by its path from content id.
type PackageOpener func(packagePath string) (*epub.Package, error)

// Options are renderer settings.
type Options struct {
	// Canvas is page size at zoom 1.
	Canvas render.Canvas
	// CacheSize is number of rendered chapters to keep, 0 disables caching.
	CacheSize int
	// Artifacts, when set, receives assembled documents and rendered
	// chapters.
	Artifacts Artifacts
}

// Renderer drives page reconstruction. It is safe for concurrent use as long
// as its adapter is.
type Renderer struct {
	formats *location.Formats
	adapter *render.Adapter
	open    PackageOpener
	opts    Options
	cache   *cache
	log     *zap.Logger
}

var textPolicy = bluemonday.StrictPolicy()

func NewRenderer(formats *location.Formats, adapter *render.Adapter, open PackageOpener, opts Options, log *zap.Logger) *Renderer {
	if opts.Canvas.Width <= 0 || opts.Canvas.Height <= 0 {
		opts.Canvas = DefaultCanvas
	}
	return &Renderer{
		formats: formats,
		adapter: adapter,
		open:    open,
		opts:    opts,
		cache:   newCache(opts.CacheSize),
		log:     log.Named("page"),
	}
}

// Invalidate drops all cached chapters.
func (r *Renderer) Invalidate() {
	r.cache.clear()
}

// Render reconstructs page for the bookmark. It never fails: problems are
// reported through result status and error.
func (r *Renderer) Render(ctx context.Context, rec location.Record, prefs render.Preferences) (res Result) {
	canvas := r.opts.Canvas.Scale(prefs.Zoom())
	req := requestID()
	log := r.log.With(zap.String("bookmark", rec.BookmarkID), zap.String("request", req))
	prefix := fmt.Sprintf("pages/%s-%s/", rec.BookmarkID, req)

	res = Result{
		BookmarkID: rec.BookmarkID,
		Text:       PlainText(rec.Text),
		Annotation: PlainText(rec.Annotation),
	}

	log.Debug("Page reconstruction starting", zap.String("content", rec.ContentID), zap.Int("width", canvas.Width), zap.Int("height", canvas.Height))
	defer func(start time.Time) {
		// NOTE: graphic libraries and layout engines are not always well
		// behaved, one bookmark should not take the rest of the batch down.
		if p := recover(); p != nil {
			log.Error("Page reconstruction ended with panic", zap.Any("panic", p), zap.ByteString("stack", rdebug.Stack()))
			res = degrade(res, canvas, StatusPlaceholder, fmt.Errorf("page reconstruction panic: %v", p))
		}
		log.Debug("Page reconstruction completed", zap.Stringer("status", res.Status), zap.Duration("elapsed", time.Since(start)), zap.Error(res.Err))
		if r.opts.Artifacts != nil {
			r.store(prefix+"result.txt", []byte(describe(rec, &res)))
		}
	}(time.Now())

	loc, err := r.formats.DecodeRecord(rec)
	if err != nil {
		log.Debug("Unable to decode location", zap.String("stage", "decode"), zap.Error(err))
		return degrade(res, canvas, StatusTextOnly, err)
	}
	res.Location = loc
	log.Debug("Location decoded", zap.String("stage", "decode"), zap.Stringer("kind", loc.Kind),
		zap.Int("chapter", loc.ChapterNumber), zap.Stringer("progress", loc.Progress), zap.String("package", loc.PackagePath))

	if err := ctx.Err(); err != nil {
		return degrade(res, canvas, StatusTextOnly, err)
	}

	pkg, err := r.open(loc.PackagePath)
	if err != nil {
		log.Debug("Unable to open package", zap.String("stage", "open"), zap.Error(err))
		return degrade(res, canvas, StatusTextOnly, err)
	}
	defer func() {
		if err := pkg.Close(); err != nil {
			log.Warn("Unable to close package", zap.String("package", loc.PackagePath), zap.Error(err))
		}
	}()

	ch, err := pkg.Locate(loc, r.formats)
	if err != nil {
		log.Debug("Unable to locate chapter", zap.String("stage", "locate"), zap.Error(err))
		return degrade(res, canvas, StatusTextOnly, err)
	}
	log.Debug("Chapter located", zap.String("stage", "locate"), zap.String("entry", ch.Name))

	bmp, err := r.renderChapter(ctx, rec.BookmarkID, ch, loc, prefs, canvas, prefix, log)
	if err != nil {
		log.Debug("Unable to render chapter", zap.String("stage", "render"), zap.Error(err))
		return degrade(res, canvas, StatusPlaceholder, err)
	}

	pg := Cut(bmp, loc.Progress, canvas)
	res.Image, res.CropTop, res.Status = pg.Image, pg.CropTop, StatusOK
	log.Debug("Page cut", zap.String("stage", "crop"), zap.Int("top", pg.CropTop), zap.Int("total", bmp.TotalHeight))

	if len(rec.Markup) == 0 {
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Status, res.Err = StatusNoOverlay, err
		return res
	}
	out, err := markup.Apply(pg.Image, rec.Markup, markup.Position{
		Mode:        loc.MarkupMode,
		Progress:    loc.Progress,
		CropTop:     pg.CropTop,
		TotalHeight: bmp.TotalHeight,
	})
	if err != nil {
		log.Warn("Annotation layer skipped", zap.String("stage", "composite"), zap.Error(err))
		res.Status, res.Err = StatusNoOverlay, err
		return res
	}
	log.Debug("Annotation layer applied", zap.String("stage", "composite"), zap.Stringer("mode", loc.MarkupMode))
	res.Image = out
	return res
}

// renderChapter produces chapter bitmap. Chapters with known progress are
// measured first and rendered to their full height, otherwise single page
// from the top is enough. Engine artifacts are named after the bookmark.
func (r *Renderer) renderChapter(ctx context.Context, id string, ch *epub.Chapter, loc location.Location, prefs render.Preferences, canvas render.Canvas, prefix string, log *zap.Logger) (*render.Bitmap, error) {
	key := cacheKey{
		pkg:    loc.PackagePath,
		entry:  ch.Name,
		start:  loc.StartContainer,
		end:    loc.EndContainer,
		prefs:  prefs,
		canvas: canvas,
		full:   loc.Progress.Known(),
	}
	if bmp, ok := r.cache.get(key); ok {
		log.Debug("Rendered chapter found in cache", zap.String("stage", "render"))
		return bmp, nil
	}

	if len(id) == 0 {
		id = ch.Name
	}
	p, err := r.adapter.Prepare(id, render.Document{
		Name:           ch.Name,
		Data:           ch.Data,
		Resolver:       ch,
		StartContainer: loc.StartContainer,
		EndContainer:   loc.EndContainer,
	}, prefs, canvas)
	if err != nil {
		return nil, err
	}
	r.store(prefix+"document.html", []byte(p.HTML))
	if len(p.Failed) > 0 {
		log.Debug("Some resources were not embedded", zap.String("stage", "prepare"), zap.Strings("refs", p.Failed))
	}

	height := canvas.Height
	if loc.Progress.Known() {
		m, err := r.adapter.Measure(ctx, p)
		if err != nil {
			return nil, err
		}
		height = m.TotalHeight
		log.Debug("Chapter measured", zap.String("stage", "measure"), zap.Int("height", height), zap.Bool("truncated", m.Truncated))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	bmp, err := r.adapter.Render(ctx, p, height)
	if err != nil {
		return nil, err
	}
	log.Debug("Chapter rendered", zap.String("stage", "render"), zap.Int("height", bmp.TotalHeight))
	if r.opts.Artifacts != nil {
		if data, err := images.EncodePNG(bmp.Image, false); err == nil {
			r.store(prefix+"chapter.png", data)
		}
	}
	r.cache.put(key, bmp)
	return bmp, nil
}

func (r *Renderer) store(name string, data []byte) {
	if r.opts.Artifacts == nil {
		return
	}
	r.opts.Artifacts.StoreData(name, data)
}

// Cut returns device page from rendered chapter centered on progress
// position. Pages of chapters shorter than canvas are padded with white.
func Cut(bmp *render.Bitmap, p viewport.Progress, canvas render.Canvas) Page {
	total := bmp.Image.Bounds().Dy()
	top := viewport.ComputeCrop(p, total, canvas.Height)
	rect := viewport.Window(canvas.Width, total, canvas.Height, top).Add(bmp.Image.Bounds().Min)

	img := imaging.Paste(images.Blank(canvas.Width, canvas.Height, color.White), imaging.Crop(bmp.Image, rect), image.Pt(0, 0))
	return Page{CropTop: top, Image: images.Flatten(img, color.White)}
}

func degrade(res Result, canvas render.Canvas, status Status, err error) Result {
	res.Image = Placeholder(canvas)
	res.CropTop = 0
	res.Status = status
	res.Err = err
	return res
}

// Placeholder is a blank page used when chapter could not be rendered.
func Placeholder(canvas render.Canvas) *image.RGBA {
	return images.Blank(canvas.Width, canvas.Height, color.White)
}

// PlainText strips markup from bookmark text.
func PlainText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

func requestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// describe dumps result for debug report.
func describe(rec location.Record, res *Result) string {
	tw := debug.NewTreeWriter()
	tw.Line(0, "bookmark %s", rec.BookmarkID)
	tw.Field(1, "status", res.Status)
	if res.Err != nil {
		tw.Field(1, "error", res.Err)
	}
	tw.TextBlock(1, "content", rec.ContentID)
	tw.Field(1, "progress", fmt.Sprintf("%v", rec.ChapterProgress))
	tw.Field(1, "markup", len(rec.Markup))
	if res.Image != nil {
		tw.Field(1, "page", res.Image.Bounds().Size())
		tw.Field(1, "top", res.CropTop)
	}
	loc := res.Location
	if len(loc.PackagePath) > 0 {
		tw.Line(1, "location")
		tw.Field(2, "kind", loc.Kind)
		tw.TextBlock(2, "package", loc.PackagePath)
		tw.Field(2, "chapter", loc.ChapterNumber)
		tw.Field(2, "offset", loc.Offset)
		tw.Field(2, "progress", loc.Progress)
		tw.TextBlock(2, "start", loc.StartContainer)
		tw.TextBlock(2, "end", loc.EndContainer)
		tw.Field(2, "mode", loc.MarkupMode)
	}
	return tw.String()
}
