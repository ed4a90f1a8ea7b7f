// Package playwright drives Chromium with persistent per-instance profiles
// through playwright-go.
package playwright

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/loykin/sessionkeeper/internal/engine"
)

// DefaultArgs are passed to every Chromium launch before Options.Args.
var DefaultArgs = []string{
	"--no-first-run",
	"--disable-default-apps",
	"--disable-dev-shm-usage",
	"--disable-setuid-sandbox",
	"--no-sandbox",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
	"--start-maximized",
}

// SystemChromiumPaths are probed in order when no executable is configured.
var SystemChromiumPaths = []string{
	"/usr/bin/chromium-browser",
	"/usr/bin/chromium",
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/snap/bin/chromium",
}

const defaultNavigationTimeout = 30 * time.Second

// Options configure the Chromium launch.
type Options struct {
	Headless          bool
	ExecutablePath    string
	Args              []string
	NavigationTimeout time.Duration
	// Install downloads the playwright driver and bundled browsers on first use.
	Install bool
}

// Engine implements engine.Engine. The playwright driver is started lazily
// on the first Launch.
type Engine struct {
	opts Options

	mu  sync.Mutex
	drv *pw.Playwright
}

// New returns an engine; no process is started until Launch.
func New(opts Options) *Engine {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = defaultNavigationTimeout
	}
	if opts.ExecutablePath == "" {
		opts.ExecutablePath = FindChromium(SystemChromiumPaths)
	}
	return &Engine{opts: opts}
}

// FindChromium returns the first existing path, or "" to use the bundled browser.
func FindChromium(candidates []string) string {
	for _, p := range candidates {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

func (e *Engine) driver() (*pw.Playwright, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.drv != nil {
		return e.drv, nil
	}
	ro := &pw.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if e.opts.Install {
		if e.opts.ExecutablePath != "" {
			ro.SkipInstallBrowsers = true
		}
		if err := pw.Install(ro); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	d, err := pw.Run(ro)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	e.drv = d
	return d, nil
}

func (e *Engine) Launch(ctx context.Context, lo engine.LaunchOptions) (engine.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if lo.UserDataDir == "" {
		return nil, errors.New("user data dir required")
	}
	d, err := e.driver()
	if err != nil {
		return nil, err
	}
	args := append(append([]string(nil), DefaultArgs...), e.opts.Args...)
	po := pw.BrowserTypeLaunchPersistentContextOptions{
		Headless:   pw.Bool(e.opts.Headless),
		Args:       args,
		NoViewport: pw.Bool(true),
		Timeout:    pw.Float(ms(e.timeout(ctx))),
	}
	if e.opts.ExecutablePath != "" {
		po.ExecutablePath = pw.String(e.opts.ExecutablePath)
	}
	bctx, err := d.Chromium.LaunchPersistentContext(lo.UserDataDir, po)
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	var p pw.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		p = pages[0]
	} else if p, err = bctx.NewPage(); err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	p.SetDefaultTimeout(ms(e.opts.NavigationTimeout))
	slog.Debug("chromium launched", "user_data_dir", lo.UserDataDir, "executable", e.opts.ExecutablePath)
	return &page{bctx: bctx, p: p, timeout: e.opts.NavigationTimeout}, nil
}

// Close stops the playwright driver.
func (e *Engine) Close() error {
	e.mu.Lock()
	d := e.drv
	e.drv = nil
	e.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Stop()
}

func (e *Engine) timeout(ctx context.Context) time.Duration {
	return boundedTimeout(ctx, e.opts.NavigationTimeout)
}

type page struct {
	bctx    pw.BrowserContext
	p       pw.Page
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (p *page) check(ctx context.Context) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return engine.ErrClosed
	}
	return ctx.Err()
}

func (p *page) Navigate(ctx context.Context, url string) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	_, err := p.p.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateDomcontentloaded,
		Timeout:   pw.Float(ms(boundedTimeout(ctx, p.timeout))),
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (p *page) Reload(ctx context.Context) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	_, err := p.p.Reload(pw.PageReloadOptions{
		WaitUntil: pw.WaitUntilStateDomcontentloaded,
		Timeout:   pw.Float(ms(boundedTimeout(ctx, p.timeout))),
	})
	if err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

func (p *page) Content(ctx context.Context) (engine.Content, error) {
	if err := p.check(ctx); err != nil {
		return engine.Content{}, err
	}
	html, err := p.p.Content()
	if err != nil {
		return engine.Content{}, fmt.Errorf("content: %w", err)
	}
	title, err := p.p.Title()
	if err != nil {
		return engine.Content{}, fmt.Errorf("title: %w", err)
	}
	return engine.Content{URL: p.p.URL(), Title: title, HTML: html}, nil
}

func (p *page) Cookies(ctx context.Context) ([]engine.Cookie, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	cs, err := p.bctx.Cookies()
	if err != nil {
		return nil, fmt.Errorf("cookies: %w", err)
	}
	out := make([]engine.Cookie, 0, len(cs))
	for _, c := range cs {
		ec := engine.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			ec.SameSite = string(*c.SameSite)
		}
		out = append(out, ec)
	}
	return out, nil
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	b, err := p.p.Screenshot(pw.PageScreenshotOptions{
		FullPage: pw.Bool(true),
		Type:     pw.ScreenshotTypePng,
		Timeout:  pw.Float(ms(boundedTimeout(ctx, p.timeout))),
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return b, nil
}

// Close closes the persistent context, which terminates the browser process.
func (p *page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	return p.bctx.Close()
}

// boundedTimeout shortens def to the context deadline when that is sooner.
func boundedTimeout(ctx context.Context, def time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < def {
			if left < time.Millisecond {
				left = time.Millisecond
			}
			return left
		}
	}
	return def
}

func ms(d time.Duration) float64 { return float64(d / time.Millisecond) }
