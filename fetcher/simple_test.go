package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/JakeLiuMe/webpeel-sub001/config"
	"github.com/JakeLiuMe/webpeel-sub001/models"
)

func testFetcherConfig() config.Fetcher {
	return config.Fetcher{
		DefaultTimeout: 5 * time.Second,
		MaxTimeout:     10 * time.Second,
		MaxBodyBytes:   1 << 20,
		MinBodyBytes:   10,
		Retries:        3,
		RetryBase:      time.Millisecond,
	}
}

func TestSimpleFetch_Success(t *testing.T) {
	page := "<html><head><title>Hello Page</title></head><body>" +
		strings.Repeat("content ", 20) + "</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	s := NewSimple(testFetcherConfig(), "")
	res, err := s.Fetch(context.Background(), srv.URL+"/article", &models.FetchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StatusCode != 200 {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	if res.HTML != page {
		t.Error("HTML body does not round-trip")
	}
	if res.Title != "Hello Page" {
		t.Errorf("title = %q, want %q", res.Title, "Hello Page")
	}
	if res.Method != models.MethodSimple {
		t.Errorf("method = %q, want simple", res.Method)
	}
	if res.Body != nil {
		t.Error("Body should be nil for HTML responses")
	}
}

func TestSimpleFetch_BrowserHeadersSent(t *testing.T) {
	var gotUA, gotAccept, gotCustom string
	var gotCookie *http.Cookie
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotCustom = r.Header.Get("X-Custom")
		gotCookie, _ = r.Cookie("session")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>" + strings.Repeat("x", 100) + "</body></html>"))
	}))
	defer srv.Close()

	s := NewSimple(testFetcherConfig(), "")
	opts := &models.FetchOptions{
		UserAgent: "custom-agent/1.0",
		Headers:   map[string]string{"X-Custom": "yes"},
		Cookies:   []http.Cookie{{Name: "session", Value: "abc123"}},
	}
	if _, err := s.Fetch(context.Background(), srv.URL, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUA != "custom-agent/1.0" {
		t.Errorf("user agent = %q", gotUA)
	}
	if !strings.Contains(gotAccept, "text/html") {
		t.Errorf("accept header = %q", gotAccept)
	}
	if gotCustom != "yes" {
		t.Errorf("custom header = %q", gotCustom)
	}
	if gotCookie == nil || gotCookie.Value != "abc123" {
		t.Errorf("session cookie = %+v", gotCookie)
	}
}

func TestSimpleFetch_RotatesUserAgentWhenUnset(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>" + strings.Repeat("x", 100) + "</body></html>"))
	}))
	defer srv.Close()

	s := NewSimple(testFetcherConfig(), "")
	if _, err := s.Fetch(context.Background(), srv.URL, &models.FetchOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(gotUA, "Mozilla/5.0") {
		t.Errorf("rotated user agent %q does not look like a browser", gotUA)
	}
}

func TestSimpleFetch_BlockedStatusNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(strings.Repeat("denied ", 20)))
	}))
	defer srv.Close()

	s := NewSimple(testFetcherConfig(), "")
	_, err := s.Fetch(context.Background(), srv.URL, &models.FetchOptions{})
	if models.CodeOf(err) != models.ErrCodeBlocked {
		t.Fatalf("error code = %q, want blocked", models.CodeOf(err))
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1 (blocked outcomes go to the engine, not the retry loop)", hits.Load())
	}
}

func TestSimpleFetch_TinyBodyIsBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	s := NewSimple(testFetcherConfig(), "")
	_, err := s.Fetch(context.Background(), srv.URL, &models.FetchOptions{})
	if models.CodeOf(err) != models.ErrCodeBlocked {
		t.Fatalf("error code = %q, want blocked", models.CodeOf(err))
	}
}

func TestSimpleFetch_NetworkErrorRetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			// Drop the connection mid-request to look like a transient
			// network failure.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer does not support hijacking")
				return
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Errorf("hijack: %v", err)
				return
			}
			conn.Close()
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>" + strings.Repeat("recovered ", 20) + "</body></html>"))
	}))
	defer srv.Close()

	s := NewSimple(testFetcherConfig(), "")
	res, err := s.Fetch(context.Background(), srv.URL, &models.FetchOptions{})
	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}
	if res.StatusCode != 200 {
		t.Errorf("status = %d, want 200", res.StatusCode)
	}
	if hits.Load() != 3 {
		t.Errorf("server hit %d times, want 3", hits.Load())
	}
}

func TestSimpleFetch_NonHTMLGoesToBody(t *testing.T) {
	payload := []byte(`{"items": [1, 2, 3], "padding": "` + strings.Repeat("p", 50) + `"}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}))
	defer srv.Close()

	s := NewSimple(testFetcherConfig(), "")
	res, err := s.Fetch(context.Background(), srv.URL, &models.FetchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HTML != "" {
		t.Error("HTML should be empty for non-HTML responses")
	}
	if string(res.Body) != string(payload) {
		t.Error("raw body does not round-trip")
	}
	if res.ContentType != "application/json" {
		t.Errorf("content type = %q", res.ContentType)
	}
}

func TestSimpleFetch_FollowsRedirects(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>" + strings.Repeat("moved ", 20) + "</body></html>"))
	}))
	defer srv.Close()
	srvURL = srv.URL

	s := NewSimple(testFetcherConfig(), "")
	res, err := s.Fetch(context.Background(), srvURL+"/old", &models.FetchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FinalURL != srvURL+"/new" {
		t.Errorf("final URL = %q, want %q", res.FinalURL, srvURL+"/new")
	}
}

func TestSimpleFetch_BodySizeCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(strings.Repeat("a", 5000)))
	}))
	defer srv.Close()

	cfg := testFetcherConfig()
	cfg.MaxBodyBytes = 1000
	s := NewSimple(cfg, "")
	res, err := s.Fetch(context.Background(), srv.URL, &models.FetchOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.HTML) != 1000 {
		t.Errorf("body length = %d, want truncation at 1000", len(res.HTML))
	}
}

func TestSimpleFetch_UnsupportedProxyScheme(t *testing.T) {
	s := NewSimple(testFetcherConfig(), "")
	_, err := s.Fetch(context.Background(), "https://example.com/",
		&models.FetchOptions{Proxy: "ftp://proxy.example.com:21"})
	if models.CodeOf(err) != models.ErrCodeValidation {
		t.Fatalf("error code = %q, want validation", models.CodeOf(err))
	}
}

func TestExtractTitle(t *testing.T) {
	tests := []struct {
		name, html, want string
	}{
		{"plain", "<html><head><title>My Page</title></head></html>", "My Page"},
		{"entities", "<title>Q&amp;A</title>", "Q&A"},
		{"whitespace", "<title>\n  Padded  \n</title>", "Padded"},
		{"missing", "<html><body><h1>No title tag</h1></body></html>", ""},
		{"attributes", `<title data-x="1">Attr Title</title>`, "Attr Title"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractTitle(tt.html); got != tt.want {
				t.Errorf("extractTitle = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChromeHelloSpec_FreshPinnedSpecPerDial(t *testing.T) {
	first, err := chromeHelloSpec()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := chromeHelloSpec()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Specs are single-use; each dial must get its own instance.
	if first == second {
		t.Fatal("spec instance reused across builds")
	}

	for _, spec := range []*utls.ClientHelloSpec{first, second} {
		pinned := false
		for _, ext := range spec.Extensions {
			alpn, ok := ext.(*utls.ALPNExtension)
			if !ok {
				continue
			}
			pinned = true
			if len(alpn.AlpnProtocols) != 1 || alpn.AlpnProtocols[0] != "http/1.1" {
				t.Errorf("ALPN protocols = %v, want [http/1.1]", alpn.AlpnProtocols)
			}
		}
		if !pinned {
			t.Error("spec carries no ALPN extension")
		}
	}
}
