package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ChromeOptions configure headless browser engine.
type ChromeOptions struct {
	// Bin is browser executable, empty to let launcher find or download one.
	Bin string
	// RemoteURL connects to already running browser instead of launching.
	RemoteURL string
	NoSandbox bool
	// Timeout limits single rasterization.
	Timeout time.Duration
}

// contentHeight reports layout height of the document body.
const contentHeight = `() => {
	const b = document.body, e = document.documentElement;
	return Math.max(b ? b.scrollHeight : 0, b ? b.getBoundingClientRect().height : 0, e ? e.getBoundingClientRect().height : 0);
}`

// Chrome rasterizes documents with headless Chromium. Browser is shared,
// every request uses its own page.
type Chrome struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	timeout  time.Duration
	log      *zap.Logger
}

// NewChrome launches or connects to browser.
func NewChrome(ctx context.Context, opts ChromeOptions, log *zap.Logger) (*Chrome, error) {
	log = log.Named("chrome")

	c := &Chrome{timeout: opts.Timeout, log: log}
	u := opts.RemoteURL
	if len(u) == 0 {
		l := launcher.New().Context(ctx).Headless(true).NoSandbox(opts.NoSandbox)
		if len(opts.Bin) > 0 {
			l = l.Bin(opts.Bin)
		}
		var err error
		if u, err = l.Launch(); err != nil {
			return nil, fmt.Errorf("unable to launch browser: %w", err)
		}
		c.launcher = l
		log.Debug("Browser launched", zap.String("control", u))
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		if c.launcher != nil {
			c.launcher.Kill()
		}
		return nil, fmt.Errorf("unable to connect to browser: %w", err)
	}
	c.browser = browser
	return c, nil
}

// Rasterize implements Rasterizer.
func (c *Chrome) Rasterize(ctx context.Context, req Request) (img image.Image, err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// Page is created and closed outside of request context: closing
	// must still reach the browser after timeout or cancellation.
	base, err := c.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("unable to open page: %w", err)
	}
	defer func() {
		if e := base.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close page: %w", e))
		}
	}()
	page := base.Context(ctx)

	height := req.Height
	if req.Measure && req.PageHeight > 0 {
		// layout against a page sized viewport, otherwise viewport height
		// becomes the minimum document height
		height = min(req.Height, req.PageHeight)
	}
	if err := c.viewport(page, req.Width, height); err != nil {
		return nil, err
	}
	if err := page.SetDocumentContent(req.HTML); err != nil {
		return nil, fmt.Errorf("unable to load document: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("unable to wait for document: %w", err)
	}

	if req.Measure {
		res, err := page.Eval(contentHeight)
		if err != nil {
			return nil, fmt.Errorf("unable to measure document: %w", err)
		}
		height = min(max(int(math.Ceil(res.Value.Num())), 1), req.Height)
		if err := c.viewport(page, req.Width, height); err != nil {
			return nil, err
		}
		c.log.Debug("Document measured", zap.String("id", req.ID), zap.Int("height", height))
	}

	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:                proto.PageCaptureScreenshotFormatPng,
		CaptureBeyondViewport: true,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to capture page: %w", err)
	}
	if img, err = png.Decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("unable to decode page capture: %w", err)
	}
	return img, nil
}

func (c *Chrome) viewport(page *rod.Page, w, h int) error {
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("unable to set viewport: %w", err)
	}
	return nil
}

// Close shuts browser down.
func (c *Chrome) Close() (err error) {
	if c.browser != nil {
		if e := c.browser.Close(); e != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close browser: %w", e))
		}
	}
	if c.launcher != nil {
		c.launcher.Kill()
		c.launcher.Cleanup()
	}
	return err
}
