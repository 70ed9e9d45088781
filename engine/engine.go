// Package engine is the escalation decision engine: it consults the
// response cache and the domain learner, picks the cheapest fetch
// method likely to succeed, classifies each outcome, and climbs the
// simple → browser → stealth ladder only when evidence says the
// cheaper rung failed.
package engine

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JakeLiuMe/webpeel-sub001/browser"
	"github.com/JakeLiuMe/webpeel-sub001/cache"
	"github.com/JakeLiuMe/webpeel-sub001/config"
	"github.com/JakeLiuMe/webpeel-sub001/fetcher"
	"github.com/JakeLiuMe/webpeel-sub001/guard"
	"github.com/JakeLiuMe/webpeel-sub001/intel"
	"github.com/JakeLiuMe/webpeel-sub001/models"
)

// MethodFunc runs one fetch attempt. Indirection keeps the ladder
// independent of the concrete fetchers, so tests can substitute
// doubles.
type MethodFunc func(ctx context.Context, rawURL string, opts *models.FetchOptions) (*models.FetchResult, error)

// Engine orchestrates a fetch end to end.
type Engine struct {
	fcfg       config.Fetcher
	cache      *cache.Cache
	intel      *intel.Store
	classifier Classifier
	limiter    *domainLimiter

	simple  MethodFunc
	browser MethodFunc
	stealth MethodFunc
}

// New wires the engine against the real fetch methods.
func New(cfg *config.Config, c *cache.Cache, st *intel.Store, pool *browser.Pool) *Engine {
	simple := fetcher.NewSimple(cfg.Fetcher, cfg.Browser.DefaultProxy)
	browserFetch := fetcher.NewBrowser(cfg.Fetcher, pool)
	stealthFetch := fetcher.NewStealth(cfg.Fetcher, pool)

	return &Engine{
		fcfg:       cfg.Fetcher,
		cache:      c,
		intel:      st,
		classifier: &Heuristic{MinBodyBytes: cfg.Fetcher.MinBodyBytes},
		limiter:    newDomainLimiter(cfg.Limiter),
		simple:     simple.Fetch,
		browser:    browserFetch.Fetch,
		stealth:    stealthFetch.Fetch,
	}
}

// Fetch resolves one URL: cache first, then the escalation ladder.
// A stale cache hit is served immediately while exactly one background
// refresh re-runs the ladder for the key.
func (e *Engine) Fetch(ctx context.Context, rawURL string, opts *models.FetchOptions) (*models.FetchResult, error) {
	if opts == nil {
		opts = &models.FetchOptions{}
	}
	opts.Defaults()

	if !opts.NoCache {
		if res, freshness := e.cache.Get(rawURL); freshness == cache.Fresh {
			return res, nil
		} else if freshness == cache.Stale {
			if e.cache.MarkRevalidating(rawURL) {
				o := *opts
				go e.refresh(rawURL, &o)
			}
			return res, nil
		}
	}

	return e.run(ctx, rawURL, opts)
}

// run walks the ladder for a cache miss (or bypass) and applies the
// terminal side effects: cache write-through and a domain-intelligence
// sample.
func (e *Engine) run(ctx context.Context, rawURL string, opts *models.FetchOptions) (*models.FetchResult, error) {
	if err := guard.Validate(rawURL); err != nil {
		return nil, err
	}

	reqID := uuid.NewString()
	host := hostOf(rawURL)
	if err := e.limiter.Wait(ctx, host); err != nil {
		return nil, models.NewFetchError(models.ErrCodeNetwork, "canceled waiting for domain rate limit", err)
	}

	timeout := e.attemptTimeout(opts)
	rung := e.startingRung(rawURL, opts)
	slog.Debug("fetch starting", "req", reqID, "url", rawURL, "rung", rung)

	for {
		result, err := e.attempt(ctx, rung, rawURL, opts, timeout)

		if err == nil {
			verdict := VerdictOK
			// Non-HTML payloads (PDFs etc.) carry no bot-challenge
			// evidence worth classifying.
			if result.Body == nil {
				verdict = e.classifier.Classify(result.HTML, result.StatusCode, rung)
			}

			if verdict == VerdictOK {
				e.finish(rawURL, opts, result)
				slog.Info("fetch succeeded", "req", reqID, "url", rawURL,
					"method", result.Method, "elapsedMs", result.ElapsedMs)
				return result, nil
			}

			if rung == models.MethodStealth {
				// Ladder exhausted while still blocked: hand back the
				// best content we have, flagged, and let the caller
				// decide. There is no fourth rung.
				result.ChallengeDetected = true
				e.finish(rawURL, opts, result)
				slog.Warn("challenge persisted through stealth", "req", reqID, "url", rawURL)
				return result, nil
			}

			slog.Debug("escalating", "req", reqID, "url", rawURL,
				"from", rung, "verdict", verdict)
			rung = nextRung(rung)
			continue
		}

		switch models.CodeOf(err) {
		case models.ErrCodeValidation:
			return nil, err
		case models.ErrCodeBlocked, models.ErrCodeTimeout, models.ErrCodeNetwork:
			if rung == models.MethodStealth {
				slog.Warn("fetch failed at final rung", "req", reqID, "url", rawURL, "error", err)
				return nil, err
			}
			slog.Debug("escalating after failure", "req", reqID, "url", rawURL,
				"from", rung, "error", err)
			rung = nextRung(rung)
		default:
			return nil, models.NewFetchError(models.ErrCodeNetwork, "fetch failed", err)
		}
	}
}

// attempt runs one rung, bounded by the per-attempt timeout. Transient
// network failures on the browser rungs are retried here with backoff;
// the simple fetcher carries its own retry loop.
func (e *Engine) attempt(ctx context.Context, rung models.Method, rawURL string, opts *models.FetchOptions, timeout time.Duration) (*models.FetchResult, error) {
	method := e.methodFor(rung)
	tries := 1
	if rung != models.MethodSimple && e.fcfg.Retries > 1 {
		tries = e.fcfg.Retries
	}

	var lastErr error
	for i := 0; i < tries; i++ {
		if i > 0 {
			backoff := e.fcfg.RetryBase << (i - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, models.NewFetchError(models.ErrCodeTimeout, "deadline reached during retry backoff", ctx.Err())
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		result, err := method(attemptCtx, rawURL, opts)
		cancel()

		if err == nil {
			result.ElapsedMs = time.Since(start).Milliseconds()
			return result, nil
		}
		if models.CodeOf(err) != models.ErrCodeNetwork {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// finish applies the terminal side effects for a returned result.
func (e *Engine) finish(rawURL string, opts *models.FetchOptions, result *models.FetchResult) {
	if !opts.NoCache {
		e.cache.Set(rawURL, result)
	}
	e.intel.Record(rawURL, result.Method, result.ElapsedMs)
}

// refresh is the stale-while-revalidate background pass: the full
// ladder with the engine's own deadline, writing through on success.
// The revalidation right is released on every exit path.
func (e *Engine) refresh(rawURL string, opts *models.FetchOptions) {
	defer e.cache.EndRevalidation(rawURL)

	ctx, cancel := context.WithTimeout(context.Background(), e.fcfg.MaxTimeout)
	defer cancel()

	if _, err := e.run(ctx, rawURL, opts); err != nil {
		slog.Debug("background revalidation failed", "url", rawURL, "error", err)
	}
}

// startingRung picks the ladder entry point from request options,
// learned domain history, and URL shape.
func (e *Engine) startingRung(rawURL string, opts *models.FetchOptions) models.Method {
	if opts.ForceStealth {
		return models.MethodStealth
	}
	if mode, ok := e.intel.Recommend(rawURL); ok {
		if mode == intel.ModeStealth {
			return models.MethodStealth
		}
		return models.MethodBrowser
	}
	if opts.ForceBrowser || opts.Screenshot || opts.Profile != "" {
		return models.MethodBrowser
	}
	if isPDFURL(rawURL) || strings.Contains(rawURL, "#!") {
		return models.MethodBrowser
	}
	return models.MethodSimple
}

func (e *Engine) methodFor(rung models.Method) MethodFunc {
	switch rung {
	case models.MethodBrowser:
		return e.browser
	case models.MethodStealth:
		return e.stealth
	default:
		return e.simple
	}
}

// attemptTimeout caps the caller's per-attempt deadline.
func (e *Engine) attemptTimeout(opts *models.FetchOptions) time.Duration {
	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = e.fcfg.DefaultTimeout
	}
	if timeout > e.fcfg.MaxTimeout {
		timeout = e.fcfg.MaxTimeout
	}
	return timeout
}

// nextRung is the only climb: simple → browser → stealth.
func nextRung(rung models.Method) models.Method {
	if rung == models.MethodSimple {
		return models.MethodBrowser
	}
	return models.MethodStealth
}

// isPDFURL recognizes known-PDF suffixes, which the simple rung cannot
// render.
func isPDFURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}

// hostOf extracts the lower-cased hostname.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
