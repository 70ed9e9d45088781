package models

// Method identifies which rung of the escalation ladder produced a
// result.
type Method string

const (
	MethodSimple  Method = "simple"
	MethodBrowser Method = "browser"
	MethodStealth Method = "stealth"
)

// FetchResult is the uniform result of a fetch, whichever method
// produced it. Immutable once returned; owned by the caller.
type FetchResult struct {
	// FinalURL is the URL after following all redirects.
	FinalURL string

	// HTML is the document body for HTML responses.
	HTML string

	// Body holds the raw bytes for non-HTML responses (PDF, JSON, ...).
	Body []byte

	// StatusCode is the HTTP status of the final response. Browser
	// rungs report it best-effort (0 when the page gave no navigation
	// timing entry).
	StatusCode int

	// ContentType is the response Content-Type, when known.
	ContentType string

	// Title is the document title, when available.
	Title string

	// Method is the rung that produced this result.
	Method Method

	// ElapsedMs is the wall time of the winning attempt.
	ElapsedMs int64

	// Screenshot holds PNG bytes when a screenshot was requested.
	Screenshot []byte

	// ChallengeDetected is set when the ladder was exhausted and the
	// content still looks like a bot challenge. The result carries the
	// best content obtained; the caller decides whether it is usable.
	ChallengeDetected bool
}

// PoolStats reports the state of the browser page pool.
type PoolStats struct {
	MaxConcurrentPages int `json:"max_concurrent_pages"`
	ActivePages        int `json:"active_pages"`
	IdlePages          int `json:"idle_pages"`
	Browsers           int `json:"browsers"`
}
