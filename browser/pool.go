// Package browser manages the long-lived browser processes and the
// warm page pool behind the browser-backed fetch methods. Browsers are
// launched lazily on first demand and torn down only by Cleanup.
package browser

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/errgroup"

	"github.com/JakeLiuMe/webpeel-sub001/config"
	"github.com/JakeLiuMe/webpeel-sub001/models"
)

// Pool owns the shared default browser and its warm page queue, the
// stealth browser singleton, and one browser per persistent profile
// directory. A buffered-channel semaphore caps the number of pages
// checked out at once, across all browsers. Safe for concurrent use.
type Pool struct {
	cfg config.Browser

	mu             sync.Mutex
	browser        *rod.Browser // default, shared
	stealthBrowser *rod.Browser // stealth singleton, shared
	profiles       map[string]*rod.Browser
	idle           []*rod.Page
	checkedOut     map[*rod.Page]struct{}
	gen            int  // bumped on default-browser teardown; stale fills abandon
	filling        bool // one warm-fill goroutine at a time
	closed         bool

	slots chan struct{} // checkout semaphore, cap = MaxConcurrentPages
}

// NewPool creates an empty pool. No browser is launched until the first
// checkout.
func NewPool(cfg config.Browser) *Pool {
	if cfg.MaxConcurrentPages < 1 {
		cfg.MaxConcurrentPages = 1
	}
	return &Pool{
		cfg:        cfg,
		profiles:   make(map[string]*rod.Browser),
		checkedOut: make(map[*rod.Page]struct{}),
		slots:      make(chan struct{}, cfg.MaxConcurrentPages),
	}
}

// Acquire checks out a page from the default browser, waiting for a
// free slot when the concurrency ceiling is reached. The caller must
// hand the page back with Release or Discard on every exit path.
func (p *Pool) Acquire(ctx context.Context) (*rod.Page, error) {
	if err := p.acquireSlot(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.releaseSlot()
		return nil, models.NewFetchError(models.ErrCodeNetwork, "browser pool is closed", nil)
	}

	b, err := p.defaultBrowserLocked()
	if err != nil {
		p.mu.Unlock()
		p.releaseSlot()
		return nil, err
	}

	// Prefer a warm page.
	if n := len(p.idle); n > 0 {
		page := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.checkedOut[page] = struct{}{}
		p.mu.Unlock()
		return page, nil
	}
	p.mu.Unlock()

	page, err := newStealthPage(b)
	if err != nil {
		p.releaseSlot()
		return nil, models.NewFetchError(models.ErrCodeNetwork, "failed to create page", err)
	}

	p.mu.Lock()
	p.checkedOut[page] = struct{}{}
	p.mu.Unlock()
	return page, nil
}

// Release returns a checked-out page. When healthy, the page is reset
// to a blank, cookie-cleared, header-cleared state and pushed back to
// the idle queue; if the reset fails (or healthy is false) the page is
// closed instead of being recycled in an unknown state. Either way the
// pool tops the idle queue back up toward its target.
func (p *Pool) Release(page *rod.Page, healthy bool) {
	if page == nil {
		return
	}

	p.mu.Lock()
	_, tracked := p.checkedOut[page]
	delete(p.checkedOut, page)
	closed := p.closed
	p.mu.Unlock()

	if tracked {
		defer p.releaseSlot()
	}

	if closed || !healthy || !p.resetPage(page) {
		_ = page.Close()
	} else {
		p.mu.Lock()
		if !p.closed && len(p.idle) < p.cfg.WarmPages {
			p.idle = append(p.idle, page)
			page = nil
		}
		p.mu.Unlock()
		if page != nil {
			_ = page.Close()
		}
	}

	go p.topUp()
}

// Discard closes a checked-out page without recycling it. Used after a
// timeout or navigation failure, when the page state is unknown.
func (p *Pool) Discard(page *rod.Page) {
	p.Release(page, false)
}

// StealthPage checks out a fresh page on the stealth browser singleton,
// launching it lazily. Stealth pages are never pooled; return them with
// Discard.
func (p *Pool) StealthPage(ctx context.Context) (*rod.Page, error) {
	if err := p.acquireSlot(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.releaseSlot()
		return nil, models.NewFetchError(models.ErrCodeNetwork, "browser pool is closed", nil)
	}

	if p.stealthBrowser != nil && !alive(p.stealthBrowser) {
		slog.Warn("stealth browser connection lost, relaunching")
		p.stealthBrowser = nil
	}
	if p.stealthBrowser == nil {
		b, err := launch(p.cfg, "")
		if err != nil {
			p.mu.Unlock()
			p.releaseSlot()
			return nil, models.NewFetchError(models.ErrCodeNetwork, "failed to launch stealth browser", err)
		}
		p.stealthBrowser = b
		slog.Info("stealth browser launched")
	}
	b := p.stealthBrowser
	p.mu.Unlock()

	page, err := newStealthPage(b)
	if err != nil {
		p.releaseSlot()
		return nil, models.NewFetchError(models.ErrCodeNetwork, "failed to create stealth page", err)
	}

	p.mu.Lock()
	p.checkedOut[page] = struct{}{}
	p.mu.Unlock()
	return page, nil
}

// ProfilePage checks out a fresh page on the persistent browser bound
// to profileDir, launching it lazily. Profile browsers are 1:1 with
// their directory, never shared with the pool, and live until
// CloseProfile or Cleanup. Return pages with Discard.
func (p *Pool) ProfilePage(ctx context.Context, profileDir string) (*rod.Page, error) {
	if err := p.acquireSlot(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.releaseSlot()
		return nil, models.NewFetchError(models.ErrCodeNetwork, "browser pool is closed", nil)
	}

	b, ok := p.profiles[profileDir]
	if ok && !alive(b) {
		delete(p.profiles, profileDir)
		ok = false
	}
	if !ok {
		var err error
		b, err = launch(p.cfg, profileDir)
		if err != nil {
			p.mu.Unlock()
			p.releaseSlot()
			return nil, models.NewFetchError(models.ErrCodeNetwork, "failed to launch profile browser", err)
		}
		p.profiles[profileDir] = b
		slog.Info("profile browser launched", "profile", profileDir)
	}
	p.mu.Unlock()

	page, err := newStealthPage(b)
	if err != nil {
		p.releaseSlot()
		return nil, models.NewFetchError(models.ErrCodeNetwork, "failed to create profile page", err)
	}

	p.mu.Lock()
	p.checkedOut[page] = struct{}{}
	p.mu.Unlock()
	return page, nil
}

// CloseProfile shuts down the browser bound to profileDir, if any.
func (p *Pool) CloseProfile(profileDir string) {
	p.mu.Lock()
	b, ok := p.profiles[profileDir]
	delete(p.profiles, profileDir)
	p.mu.Unlock()
	if ok {
		_ = b.Close()
	}
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() models.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	browsers := len(p.profiles)
	if p.browser != nil {
		browsers++
	}
	if p.stealthBrowser != nil {
		browsers++
	}
	return models.PoolStats{
		MaxConcurrentPages: p.cfg.MaxConcurrentPages,
		ActivePages:        len(p.checkedOut),
		IdlePages:          len(p.idle),
		Browsers:           browsers,
	}
}

// Cleanup closes all pages and browsers. Safe to call more than once
// and when nothing was ever launched. Checked-out pages are closed
// best-effort; their in-flight fetches will fail.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.gen++

	idle := p.idle
	p.idle = nil
	checkedOut := make([]*rod.Page, 0, len(p.checkedOut))
	for page := range p.checkedOut {
		checkedOut = append(checkedOut, page)
	}
	p.checkedOut = make(map[*rod.Page]struct{})

	browsers := make([]*rod.Browser, 0, len(p.profiles)+2)
	if p.browser != nil {
		browsers = append(browsers, p.browser)
		p.browser = nil
	}
	if p.stealthBrowser != nil {
		browsers = append(browsers, p.stealthBrowser)
		p.stealthBrowser = nil
	}
	for _, b := range p.profiles {
		browsers = append(browsers, b)
	}
	p.profiles = make(map[string]*rod.Browser)
	p.mu.Unlock()

	for _, page := range append(idle, checkedOut...) {
		_ = page.Close()
	}

	var g errgroup.Group
	for _, b := range browsers {
		g.Go(func() error {
			return b.Close()
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("browser shutdown reported errors", "error", err)
	}
	slog.Info("browser pool cleaned up", "browsers", len(browsers))
}

// defaultBrowserLocked returns the shared default browser, probing an
// existing one for liveness first. A dead connection drops all pool
// bookkeeping so stale references are never reused across a crash.
// Caller must hold p.mu.
func (p *Pool) defaultBrowserLocked() (*rod.Browser, error) {
	if p.browser != nil {
		if alive(p.browser) {
			return p.browser, nil
		}
		slog.Warn("default browser connection lost, discarding pool state")
		p.browser = nil
		p.idle = nil
		p.gen++
	}

	b, err := launch(p.cfg, "")
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeNetwork, "failed to launch browser", err)
	}
	p.browser = b
	slog.Info("default browser launched")
	go p.topUp()
	return b, nil
}

// resetPage puts a page back into a neutral state: blank document, no
// cookies, no extra headers. Reports whether the reset fully succeeded.
func (p *Pool) resetPage(page *rod.Page) bool {
	if err := page.Navigate("about:blank"); err != nil {
		return false
	}
	if err := (proto.NetworkClearBrowserCookies{}).Call(page); err != nil {
		return false
	}
	if err := (proto.NetworkSetExtraHTTPHeaders{Headers: proto.NetworkHeaders{}}).Call(page); err != nil {
		return false
	}
	return true
}

// topUp refills the idle queue toward the warm target. Only one fill
// runs at a time, and a fill started against a browser that has since
// been torn down abandons itself.
func (p *Pool) topUp() {
	p.mu.Lock()
	if p.closed || p.filling || p.browser == nil || len(p.idle) >= p.cfg.WarmPages {
		p.mu.Unlock()
		return
	}
	p.filling = true
	gen := p.gen
	b := p.browser
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.filling = false
		p.mu.Unlock()
	}()

	for {
		p.mu.Lock()
		if p.closed || p.gen != gen || len(p.idle) >= p.cfg.WarmPages {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		if !alive(b) {
			return
		}
		page, err := newStealthPage(b)
		if err != nil {
			slog.Debug("warm page creation failed", "error", err)
			return
		}

		p.mu.Lock()
		if p.closed || p.gen != gen || len(p.idle) >= p.cfg.WarmPages {
			p.mu.Unlock()
			_ = page.Close()
			return
		}
		p.idle = append(p.idle, page)
		p.mu.Unlock()
	}
}

// acquireSlot blocks until a checkout slot frees or the context ends.
func (p *Pool) acquireSlot(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return models.NewFetchError(models.ErrCodeTimeout, "timed out waiting for a page slot", ctx.Err())
		}
		return models.NewFetchError(models.ErrCodeNetwork, "canceled waiting for a page slot", ctx.Err())
	}
}

func (p *Pool) releaseSlot() {
	select {
	case <-p.slots:
	default:
	}
}

// alive probes a browser connection with a cheap CDP call.
func alive(b *rod.Browser) bool {
	_, err := proto.BrowserGetVersion{}.Call(b)
	return err == nil
}
