// Package intel learns, per hostname, which fetch method historically
// succeeds, so the escalation ladder can skip rungs that are known to
// fail for a site.
package intel

import (
	"container/list"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JakeLiuMe/webpeel-sub001/config"
	"github.com/JakeLiuMe/webpeel-sub001/models"
)

// emaAlpha is the smoothing factor for the latency moving average.
const emaAlpha = 0.3

// Mode is a method recommendation for a domain.
type Mode string

const (
	ModeBrowser Mode = "browser"
	ModeStealth Mode = "stealth"
)

// record is the learned state for one hostname. Holding the intel
// fields and the per-method counters in one struct keeps them evicted
// together.
type record struct {
	host         string
	needsBrowser bool
	needsStealth bool
	avgLatencyMs float64
	lastSeen     time.Time
	sampleCount  int

	simpleCount  int
	browserCount int
	stealthCount int
}

// Store is the domain intelligence map: bounded, TTL-expiring, safe for
// concurrent use.
type Store struct {
	mu         sync.Mutex
	order      *list.List               // front = most recently used
	items      map[string]*list.Element // host -> element holding *record
	ttl        time.Duration
	maxDomains int
	minSamples int
	now        func() time.Time // swappable in tests
}

// New creates a Store from config.
func New(cfg config.Intel) *Store {
	if cfg.MaxDomains < 1 {
		cfg.MaxDomains = 1
	}
	return &Store{
		order:      list.New(),
		items:      make(map[string]*list.Element),
		ttl:        cfg.TTL,
		maxDomains: cfg.MaxDomains,
		minSamples: cfg.MinSamples,
		now:        time.Now,
	}
}

// Record folds one fetch outcome into the domain's history. An expired
// entry is discarded first, so a domain that goes quiet restarts its
// learning instead of inheriting a stale verdict.
func (s *Store) Record(rawURL string, method models.Method, latencyMs int64) {
	host := hostOf(rawURL)
	if host == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r := s.getLocked(host, now)
	if r == nil {
		for s.order.Len() >= s.maxDomains {
			s.removeLocked(s.order.Back())
		}
		r = &record{host: host}
		s.items[host] = s.order.PushFront(r)
	}

	if r.sampleCount == 0 {
		// Seed the average rather than blending from zero.
		r.avgLatencyMs = float64(latencyMs)
	} else {
		r.avgLatencyMs = emaAlpha*float64(latencyMs) + (1-emaAlpha)*r.avgLatencyMs
	}
	r.sampleCount++
	r.lastSeen = now

	switch method {
	case models.MethodSimple:
		r.simpleCount++
	case models.MethodBrowser:
		r.browserCount++
		r.needsBrowser = true
	case models.MethodStealth:
		r.stealthCount++
		r.needsBrowser = true
		r.needsStealth = true
	}
}

// Recommend returns the learned starting mode for a URL's hostname.
// It stays silent (ok=false) below MinSamples, and for any mixed
// history: one simple success is enough to keep the ladder starting at
// simple, because a false "always needs browser" verdict costs more
// than an occasional extra escalation.
func (s *Store) Recommend(rawURL string) (Mode, bool) {
	host := hostOf(rawURL)
	if host == "" {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.getLocked(host, s.now())
	if r == nil || r.sampleCount < s.minSamples {
		return "", false
	}

	if r.stealthCount == r.sampleCount {
		return ModeStealth, true
	}
	if r.simpleCount == 0 && r.needsBrowser {
		return ModeBrowser, true
	}
	return "", false
}

// AvgLatencyMs exposes the learned latency average for a hostname,
// or 0 when unknown.
func (s *Store) AvgLatencyMs(rawURL string) float64 {
	host := hostOf(rawURL)
	if host == "" {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r := s.getLocked(host, s.now()); r != nil {
		return r.avgLatencyMs
	}
	return 0
}

// Len returns the number of tracked domains.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// getLocked returns the live record for host, lazily purging it when
// expired, and promotes it to most-recently-used. Caller must hold
// s.mu.
func (s *Store) getLocked(host string, now time.Time) *record {
	el, ok := s.items[host]
	if !ok {
		return nil
	}
	r := el.Value.(*record)
	if r.sampleCount > 0 && now.Sub(r.lastSeen) > s.ttl {
		s.removeLocked(el)
		return nil
	}
	s.order.MoveToFront(el)
	return r
}

// removeLocked deletes an element. Caller must hold s.mu.
func (s *Store) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	r := el.Value.(*record)
	s.order.Remove(el)
	delete(s.items, r.host)
}

// hostOf extracts the lower-cased hostname from a raw URL. A bare
// hostname (no scheme) is accepted as-is.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "" && !strings.Contains(rawURL, "/") {
		host = rawURL
	}
	return strings.ToLower(host)
}
