package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/JakeLiuMe/webpeel-sub001/browser"
	"github.com/JakeLiuMe/webpeel-sub001/config"
	"github.com/JakeLiuMe/webpeel-sub001/models"
)

// Rod is a browser-backed fetch method. The same navigation lifecycle
// serves both the pooled-browser rung and the stealth rung; the
// stealth variant draws its pages from the dedicated stealth browser
// and waits longer for challenge scripts to settle.
type Rod struct {
	cfg     config.Fetcher
	pool    *browser.Pool
	stealth bool
	method  models.Method
}

// NewBrowser creates the pooled-browser fetch method.
func NewBrowser(cfg config.Fetcher, pool *browser.Pool) *Rod {
	return &Rod{cfg: cfg, pool: pool, method: models.MethodBrowser}
}

// NewStealth creates the stealth-browser fetch method.
func NewStealth(cfg config.Fetcher, pool *browser.Pool) *Rod {
	return &Rod{cfg: cfg, pool: pool, stealth: true, method: models.MethodStealth}
}

// Fetch navigates the URL in a real browser page and returns the
// rendered document. The page is borrowed from the pool and handed
// back deterministically: recycled only after a fully clean pooled
// run, discarded on any timeout, navigation failure, or when the page
// came from the stealth or a profile browser.
//
// Lifecycle ordering matters:
//   - headers, cookies, and the hijack router must be installed before
//     Navigate, or they won't apply to the navigation;
//   - cleanup uses the original page reference (no request context),
//     so the page is still handed back after the deadline has fired.
func (r *Rod) Fetch(ctx context.Context, rawURL string, opts *models.FetchOptions) (result *models.FetchResult, err error) {
	page, pooled, err := r.acquirePage(ctx, opts)
	if err != nil {
		return nil, err
	}

	defer func() {
		if pooled && err == nil {
			r.pool.Release(page, true)
		} else {
			r.pool.Discard(page)
		}
	}()

	if opts.UserAgent != "" {
		_ = (&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}).Call(page)
	}

	// Extra headers: caller's, plus a Google-search referer for the
	// host unless the caller set one.
	extraHeaders := make(map[string]string, len(opts.Headers)+1)
	if _, hasReferer := opts.Headers["Referer"]; !hasReferer {
		if u, parseErr := url.Parse(rawURL); parseErr == nil {
			extraHeaders["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
		}
	}
	for k, v := range opts.Headers {
		extraHeaders[k] = v
	}
	if len(extraHeaders) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(extraHeaders),
		}.Call(page)
	}

	for _, cookie := range opts.Cookies {
		domain := cookie.Domain
		if domain == "" {
			if u, parseErr := url.Parse(rawURL); parseErr == nil {
				domain = u.Host
			}
		}
		path := cookie.Path
		if path == "" {
			path = "/"
		}
		_, _ = proto.NetworkSetCookie{
			Name:   cookie.Name,
			Value:  cookie.Value,
			Domain: domain,
			Path:   path,
		}.Call(page)
	}

	router := setupHijack(page, r.cfg.BlockedResourceTypes)
	if router != nil {
		defer func() { _ = router.Stop() }()
	}

	// Bind the attempt deadline to all following page operations.
	p := page.Context(ctx)

	if err = p.Navigate(rawURL); err != nil {
		return nil, categorizeError(err, "navigation failed")
	}

	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		if errors.Is(stableErr, context.DeadlineExceeded) {
			err = models.NewFetchError(models.ErrCodeTimeout, "page never settled", stableErr)
			return nil, err
		}
		slog.Debug("DOM did not converge, proceeding with current state", "error", stableErr)
	}

	if wait := r.settleWait(opts); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			err = models.NewFetchError(models.ErrCodeTimeout, "deadline during settle wait", ctx.Err())
			return nil, err
		}
	}

	// Status code via the page's own navigation timing entry; no CDP
	// event listeners needed.
	statusCode := 0
	if res, evalErr := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); evalErr == nil {
		statusCode = res.Value.Int()
	}

	rawHTML, htmlErr := p.HTML()
	if htmlErr != nil {
		err = categorizeError(htmlErr, "failed to extract page HTML")
		return nil, err
	}

	result = &models.FetchResult{
		FinalURL:    evalStringOrEmpty(p, `() => window.location.href`),
		HTML:        rawHTML,
		StatusCode:  statusCode,
		ContentType: "text/html",
		Title:       evalStringOrEmpty(p, `() => document.title`),
		Method:      r.method,
	}
	if result.FinalURL == "" {
		result.FinalURL = rawURL
	}

	if opts.Screenshot {
		shot, shotErr := p.Screenshot(opts.ScreenshotFullPage, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
		if shotErr != nil {
			err = categorizeError(shotErr, "failed to capture screenshot")
			return nil, err
		}
		result.Screenshot = shot
	}

	return result, nil
}

// acquirePage borrows a page from the right browser for this request.
// The pooled flag is true only for default-pool pages, which are the
// only pages eligible for recycling.
func (r *Rod) acquirePage(ctx context.Context, opts *models.FetchOptions) (*rod.Page, bool, error) {
	switch {
	case opts.Profile != "":
		page, err := r.pool.ProfilePage(ctx, opts.Profile)
		return page, false, err
	case r.stealth:
		page, err := r.pool.StealthPage(ctx)
		return page, false, err
	default:
		page, err := r.pool.Acquire(ctx)
		return page, true, err
	}
}

// settleWait combines the caller's extra wait with the fixed stealth
// settle delay that gives challenge scripts time to resolve.
func (r *Rod) settleWait(opts *models.FetchOptions) time.Duration {
	wait := time.Duration(opts.WaitMs) * time.Millisecond
	if r.stealth {
		wait += r.cfg.StealthSettleWait
	}
	return wait
}

// evalStringOrEmpty evaluates a JS expression and returns the string
// result, swallowing any errors (optional metadata only).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders
// type (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw rod errors into typed FetchErrors.
func categorizeError(err error, msg string) *models.FetchError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewFetchError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewFetchError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewFetchError(models.ErrCodeNetwork, msg, err)
	}
}
