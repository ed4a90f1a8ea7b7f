// Package engine defines the browser automation boundary. The orchestrator
// only talks to these interfaces; engine/playwright drives real Chromium and
// engine/enginetest provides an in-memory fake.
package engine

import (
	"context"
	"errors"
)

// ErrClosed is returned by Page methods after Close.
var ErrClosed = errors.New("page closed")

// LaunchOptions describes one browser session.
type LaunchOptions struct {
	// UserDataDir is the persistent profile directory of the instance.
	UserDataDir string
}

// Cookie is the subset of cookie attributes the orchestrator reports.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Content is a page snapshot.
type Content struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	HTML  string `json:"content"`
}

// Engine launches browser sessions. Implementations must be safe for
// concurrent use.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Page, error)
	// Close releases engine-wide resources after all pages are closed.
	Close() error
}

// Page is a live browser session with a single active tab.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Content(ctx context.Context) (Content, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	// Screenshot returns a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}
