// Package webpeel fetches web pages with automatic method escalation:
// a direct HTTP request first, then a pooled headless-browser page,
// then a stealth-hardened page, climbing only when evidence says the
// cheaper method failed. Results are cached with stale-while-revalidate
// semantics and per-domain fetch history shortcuts the ladder for
// sites with a known profile.
//
// The hosting process owns the Client lifecycle: construct one with
// New, call Fetch for each URL, and call Cleanup before exit to
// release browser processes.
package webpeel

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/JakeLiuMe/webpeel-sub001/browser"
	"github.com/JakeLiuMe/webpeel-sub001/cache"
	"github.com/JakeLiuMe/webpeel-sub001/config"
	"github.com/JakeLiuMe/webpeel-sub001/engine"
	"github.com/JakeLiuMe/webpeel-sub001/intel"
	"github.com/JakeLiuMe/webpeel-sub001/models"
)

// Client is the single entry point to the fetch core. Safe for
// concurrent use.
type Client struct {
	cfg      *config.Config
	pool     *browser.Pool
	cache    *cache.Cache
	intel    *intel.Store
	engine   *engine.Engine
	validate *validator.Validate
}

// New builds a Client from config. Nothing is launched yet: browsers
// start lazily on the first browser-backed fetch. Passing nil uses the
// environment-driven defaults.
func New(cfg *config.Config) *Client {
	if cfg == nil {
		cfg = config.Load()
	}
	initLogger(cfg.Log)

	pool := browser.NewPool(cfg.Browser)
	c := cache.New(cfg.Cache)
	st := intel.New(cfg.Intel)

	return &Client{
		cfg:      cfg,
		pool:     pool,
		cache:    c,
		intel:    st,
		engine:   engine.New(cfg, c, st, pool),
		validate: validator.New(),
	}
}

// Fetch retrieves one URL, escalating through the method ladder as
// needed. The returned result is owned by the caller. Errors are
// always typed *models.FetchError.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts *models.FetchOptions) (*models.FetchResult, error) {
	if opts == nil {
		opts = &models.FetchOptions{}
	}
	if err := c.validate.Struct(opts); err != nil {
		return nil, models.NewFetchError(models.ErrCodeValidation, "invalid fetch options", err)
	}
	return c.engine.Fetch(ctx, rawURL, opts)
}

// ClearCache drops every cached response.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// CloseProfile shuts down the persistent browser bound to a profile
// directory, if one was launched.
func (c *Client) CloseProfile(profileDir string) {
	c.pool.CloseProfile(profileDir)
}

// Stats reports the browser pool's current state.
func (c *Client) Stats() models.PoolStats {
	return c.pool.Stats()
}

// Cleanup releases all browser processes and pages. Must be called by
// the hosting process before exit; safe to call more than once and
// when nothing was ever launched.
func (c *Client) Cleanup() {
	c.pool.Cleanup()
}

// initLogger configures slog from the log config.
func initLogger(cfg config.Log) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
