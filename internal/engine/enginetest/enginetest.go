// Package enginetest provides an in-memory engine.Engine for tests. Failure
// injection is per call type and every launched page is tracked so tests
// can assert how many browser sessions are actually open.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/loykin/sessionkeeper/internal/engine"
)

// ErrInjected is the default error returned by failure toggles.
var ErrInjected = errors.New("injected engine failure")

// Engine is a fake engine.Engine.
type Engine struct {
	mu          sync.Mutex
	launchErr   error
	navigateErr error
	reloadErr   error
	cookiesErr  error
	shotErr     error
	cookies     int
	launches    int
	pages       []*Page
	closed      bool

	// BeforeLaunch, when set, runs at the start of every Launch outside the
	// engine lock. Tests use it to hold launches open and force races.
	BeforeLaunch func(opts engine.LaunchOptions)
}

// New returns a fake engine whose pages report zero cookies.
func New() *Engine { return &Engine{} }

func (e *Engine) FailLaunch(err error)     { e.set(&e.launchErr, err) }
func (e *Engine) FailNavigate(err error)   { e.set(&e.navigateErr, err) }
func (e *Engine) FailReload(err error)     { e.set(&e.reloadErr, err) }
func (e *Engine) FailCookies(err error)    { e.set(&e.cookiesErr, err) }
func (e *Engine) FailScreenshot(err error) { e.set(&e.shotErr, err) }

func (e *Engine) set(dst *error, err error) {
	e.mu.Lock()
	*dst = err
	e.mu.Unlock()
}

// SetCookieCount sets how many cookies every page reports.
func (e *Engine) SetCookieCount(n int) {
	e.mu.Lock()
	e.cookies = n
	e.mu.Unlock()
}

func (e *Engine) Launch(ctx context.Context, opts engine.LaunchOptions) (engine.Page, error) {
	if hook := e.BeforeLaunch; hook != nil {
		hook(opts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.launches++
	if e.launchErr != nil {
		return nil, e.launchErr
	}
	if e.closed {
		return nil, errors.New("engine closed")
	}
	p := &Page{eng: e, UserDataDir: opts.UserDataDir}
	e.pages = append(e.pages, p)
	return p, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Launches counts Launch calls, including failed ones.
func (e *Engine) Launches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.launches
}

// OpenPages counts pages launched and not yet closed.
func (e *Engine) OpenPages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, p := range e.pages {
		if !p.closed {
			n++
		}
	}
	return n
}

// Pages returns every page launched so far in launch order.
func (e *Engine) Pages() []*Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Page(nil), e.pages...)
}

// Page is a fake engine.Page.
type Page struct {
	eng         *Engine
	UserDataDir string

	// guarded by eng.mu
	url     string
	reloads int
	closed  bool
}

// URL returns the last navigated URL.
func (p *Page) URL() string {
	p.eng.mu.Lock()
	defer p.eng.mu.Unlock()
	return p.url
}

// Reloads counts successful reloads.
func (p *Page) Reloads() int {
	p.eng.mu.Lock()
	defer p.eng.mu.Unlock()
	return p.reloads
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.eng.mu.Lock()
	defer p.eng.mu.Unlock()
	return p.closed
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.eng.mu.Lock()
	defer p.eng.mu.Unlock()
	if p.closed {
		return engine.ErrClosed
	}
	if p.eng.navigateErr != nil {
		return p.eng.navigateErr
	}
	p.url = url
	return ctx.Err()
}

func (p *Page) Reload(ctx context.Context) error {
	p.eng.mu.Lock()
	defer p.eng.mu.Unlock()
	if p.closed {
		return engine.ErrClosed
	}
	if p.eng.reloadErr != nil {
		return p.eng.reloadErr
	}
	p.reloads++
	return ctx.Err()
}

func (p *Page) Content(context.Context) (engine.Content, error) {
	p.eng.mu.Lock()
	defer p.eng.mu.Unlock()
	if p.closed {
		return engine.Content{}, engine.ErrClosed
	}
	return engine.Content{
		URL:   p.url,
		Title: "fake " + p.url,
		HTML:  fmt.Sprintf("<html><body>%s</body></html>", p.url),
	}, nil
}

func (p *Page) Cookies(context.Context) ([]engine.Cookie, error) {
	p.eng.mu.Lock()
	defer p.eng.mu.Unlock()
	if p.closed {
		return nil, engine.ErrClosed
	}
	if p.eng.cookiesErr != nil {
		return nil, p.eng.cookiesErr
	}
	out := make([]engine.Cookie, p.eng.cookies)
	for i := range out {
		out[i] = engine.Cookie{Name: fmt.Sprintf("c%d", i), Value: "v", Domain: "example.test", Path: "/"}
	}
	return out, nil
}

// PNGHeader is the payload prefix returned by Screenshot.
var PNGHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func (p *Page) Screenshot(context.Context) ([]byte, error) {
	p.eng.mu.Lock()
	defer p.eng.mu.Unlock()
	if p.closed {
		return nil, engine.ErrClosed
	}
	if p.eng.shotErr != nil {
		return nil, p.eng.shotErr
	}
	return append([]byte(nil), PNGHeader...), nil
}

func (p *Page) Close() error {
	p.eng.mu.Lock()
	defer p.eng.mu.Unlock()
	p.closed = true
	return nil
}
