// Package cache is the in-memory response cache: LRU-bounded,
// TTL-expiring, with stale-while-revalidate semantics. It is safe for
// concurrent use.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/JakeLiuMe/webpeel-sub001/config"
	"github.com/JakeLiuMe/webpeel-sub001/models"
)

// Freshness classifies a cache lookup.
type Freshness int

const (
	// Miss: no usable entry.
	Miss Freshness = iota
	// Fresh: entry younger than the TTL, serve directly.
	Fresh
	// Stale: past the TTL but within the stale window; serve
	// immediately and refresh in the background.
	Stale
)

// entry holds a cached response with its creation timestamp.
type entry struct {
	key          string
	result       *models.FetchResult
	storedAt     time.Time
	revalidating bool
}

// Cache maps normalized URLs to fetch results. Reads promote entries to
// most-recently-used; inserts evict the least-recently-used entry once
// the cap is reached.
type Cache struct {
	mu         sync.Mutex
	order      *list.List               // front = most recently used
	items      map[string]*list.Element // key -> element holding *entry
	maxEntries int
	ttl        time.Duration
	staleFor   time.Duration
	now        func() time.Time // swappable in tests
}

// New creates a Cache from config. StaleWindow <= TTL disables the
// stale band entirely.
func New(cfg config.Cache) *Cache {
	if cfg.MaxEntries < 1 {
		cfg.MaxEntries = 1
	}
	return &Cache{
		order:      list.New(),
		items:      make(map[string]*list.Element),
		maxEntries: cfg.MaxEntries,
		ttl:        cfg.TTL,
		staleFor:   cfg.StaleWindow,
		now:        time.Now,
	}
}

// Get looks up a URL and reports its freshness band. Entries past the
// stale window are evicted and reported as a miss. A hit of either band
// promotes the entry to most-recently-used.
func (c *Cache) Get(rawURL string) (*models.FetchResult, Freshness) {
	key, err := Normalize(rawURL)
	if err != nil {
		return nil, Miss
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, Miss
	}
	e := el.Value.(*entry)

	age := c.now().Sub(e.storedAt)
	if age > c.ttl && (c.staleFor <= c.ttl || age > c.staleFor) {
		c.removeLocked(el)
		return nil, Miss
	}

	c.order.MoveToFront(el)
	if age <= c.ttl {
		return e.result, Fresh
	}
	return e.result, Stale
}

// Set stores a result under the URL's normalized key. An existing entry
// is replaced (and becomes most-recent); at capacity the
// least-recently-used entry is evicted.
func (c *Cache) Set(rawURL string, result *models.FetchResult) {
	key, err := Normalize(rawURL)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	for c.order.Len() >= c.maxEntries {
		c.removeLocked(c.order.Back())
	}

	el := c.order.PushFront(&entry{key: key, result: result, storedAt: c.now()})
	c.items[key] = el
}

// MarkRevalidating attempts to acquire the single revalidation right
// for a key. It returns true for exactly one caller until
// EndRevalidation releases the right (or the entry is evicted).
func (c *Cache) MarkRevalidating(rawURL string) bool {
	key, err := Normalize(rawURL)
	if err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	e := el.Value.(*entry)
	if e.revalidating {
		return false
	}
	e.revalidating = true
	return true
}

// EndRevalidation releases the revalidation right for a key. Called by
// the refresher on every exit path; a following Set clears the flag
// implicitly by replacing the entry.
func (c *Cache) EndRevalidation(rawURL string) {
	key, err := Normalize(rawURL)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).revalidating = false
	}
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// removeLocked deletes an element. Caller must hold c.mu.
func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.items, e.key)
}
