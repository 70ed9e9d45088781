// Package fetcher implements the three interchangeable fetch methods:
// a direct HTTP request with a Chrome TLS fingerprint, a pooled
// headless-browser page, and a stealth-hardened browser page.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"

	"github.com/JakeLiuMe/webpeel-sub001/config"
	"github.com/JakeLiuMe/webpeel-sub001/models"
)

// chromeHelloSpec builds a Chrome-like TLS ClientHello with ALPN
// forced to http/1.1 only, so the server never negotiates HTTP/2
// (which Go's http.Transport cannot handle over a utls connection).
// ClientHelloSpecs are single-use, so every dial builds a fresh one.
func chromeHelloSpec() (*tls.ClientHelloSpec, error) {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return nil, fmt.Errorf("fetcher: build tls spec: %w", err)
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	return &spec, nil
}

// Simple is the cheapest rung: one HTTP request, no JavaScript. It
// speaks with a Chrome TLS fingerprint so plain TLS-level bot filters
// don't flag it.
type Simple struct {
	cfg          config.Fetcher
	defaultProxy string
}

// NewSimple creates the simple HTTP fetcher.
func NewSimple(cfg config.Fetcher, defaultProxy string) *Simple {
	return &Simple{cfg: cfg, defaultProxy: defaultProxy}
}

// Fetch retrieves the URL over plain HTTP, retrying transient network
// failures with backoff. Blocked and timeout outcomes are returned
// unretried for the escalation engine to act on.
func (s *Simple) Fetch(ctx context.Context, rawURL string, opts *models.FetchOptions) (*models.FetchResult, error) {
	return withRetry(ctx, s.cfg.Retries, s.cfg.RetryBase, func() (*models.FetchResult, error) {
		return s.fetchOnce(ctx, rawURL, opts)
	})
}

func (s *Simple) fetchOnce(ctx context.Context, rawURL string, opts *models.FetchOptions) (*models.FetchResult, error) {
	proxyURL := opts.Proxy
	if proxyURL == "" {
		proxyURL = s.defaultProxy
	}

	client, err := s.newClient(proxyURL)
	if err != nil {
		return nil, err
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeValidation, "failed to build request", err)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = randomUserAgent()
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "identity") // no compression for simplicity
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	for i := range opts.Cookies {
		req.AddCookie(&opts.Cookies[i])
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, models.NewFetchError(models.ErrCodeTimeout, "request exceeded its deadline", err)
		}
		return nil, models.NewFetchError(models.ErrCodeNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, models.NewFetchError(models.ErrCodeTimeout, "reading body exceeded the deadline", err)
		}
		return nil, models.NewFetchError(models.ErrCodeNetwork, "failed to read body", err)
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, models.NewFetchError(models.ErrCodeBlocked,
			fmt.Sprintf("blocked status %d", resp.StatusCode), nil)
	}
	if len(body) < s.cfg.MinBodyBytes {
		return nil, models.NewFetchError(models.ErrCodeBlocked,
			fmt.Sprintf("implausibly small body (%d bytes)", len(body)), nil)
	}

	ct := resp.Header.Get("Content-Type")
	result := &models.FetchResult{
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: ct,
		Method:      models.MethodSimple,
	}
	if isHTMLContentType(ct) {
		result.HTML = string(body)
		result.Title = extractTitle(string(body))
	} else {
		result.Body = body
	}
	return result, nil
}

// newClient builds an HTTP client whose TLS dials present the Chrome
// fingerprint. An http/https proxy goes through the transport; socks5
// through a dedicated dialer.
func (s *Simple) newClient(proxyAddr string) (*http.Client, error) {
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return (&net.Dialer{Timeout: 10 * time.Second}).DialContext(ctx, network, addr)
	}

	transport := &http.Transport{
		ForceAttemptHTTP2: false,
	}

	if proxyAddr != "" {
		pu, err := url.Parse(proxyAddr)
		if err != nil {
			return nil, models.NewFetchError(models.ErrCodeValidation, "invalid proxy URL", err)
		}
		switch pu.Scheme {
		case "http", "https":
			transport.Proxy = http.ProxyURL(pu)
		case "socks5", "socks5h":
			var auth *proxy.Auth
			if pu.User != nil {
				pw, _ := pu.User.Password()
				auth = &proxy.Auth{User: pu.User.Username(), Password: pw}
			}
			socks, err := proxy.SOCKS5("tcp", pu.Host, auth, &net.Dialer{Timeout: 10 * time.Second})
			if err != nil {
				return nil, models.NewFetchError(models.ErrCodeNetwork, "failed to build socks5 dialer", err)
			}
			cd := socks.(proxy.ContextDialer)
			dial = cd.DialContext
		default:
			return nil, models.NewFetchError(models.ErrCodeValidation, "unsupported proxy scheme "+pu.Scheme, nil)
		}
	}

	transport.DialContext = dial
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		rawConn, err := dial(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		spec, err := chromeHelloSpec()
		if err != nil {
			rawConn.Close()
			return nil, err
		}
		host, _, _ := net.SplitHostPort(addr)
		tlsConn := tls.UClient(rawConn, &tls.Config{ServerName: host}, tls.HelloCustom)
		if err := tlsConn.ApplyPreset(spec); err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("fetcher: apply tls spec: %w", err)
		}
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return nil, err
		}
		return tlsConn, nil
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}, nil
}

// isHTMLContentType returns true if the content-type header looks like HTML.
func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}
