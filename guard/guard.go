// Package guard validates candidate URLs before any network or browser
// work is issued. It is a pure pre-flight check: no DNS resolution, no
// state.
package guard

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeLiuMe/webpeel-sub001/models"
)

// MaxURLLength is the longest raw URL accepted.
const MaxURLLength = 2048

// Validate rejects URLs that are malformed, use a non-HTTP scheme, or
// point at localhost / private / link-local address space, including
// IPs written in decimal, hex, or octal notation. A nil return means
// the URL is safe to fetch.
func Validate(rawURL string) error {
	if rawURL == "" {
		return models.NewFetchError(models.ErrCodeValidation, "empty URL", nil)
	}
	if len(rawURL) > MaxURLLength {
		return models.NewFetchError(models.ErrCodeValidation, "URL exceeds maximum length", nil)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return models.NewFetchError(models.ErrCodeValidation, "malformed URL", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return models.NewFetchError(models.ErrCodeValidation, "scheme must be http or https", nil)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return models.NewFetchError(models.ErrCodeValidation, "URL has no host", nil)
	}

	if isLocalHostname(host) {
		return models.NewFetchError(models.ErrCodeValidation, "local hostnames are not allowed", nil)
	}

	if ip := parseHostIP(host); ip != nil && isDisallowedIP(ip) {
		return models.NewFetchError(models.ErrCodeValidation, "IP address is in a disallowed range", nil)
	}

	return nil
}

// isLocalHostname catches hostnames that resolve locally by convention.
func isLocalHostname(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	return strings.HasSuffix(host, ".local")
}

// parseHostIP interprets the host as an IP literal. Beyond the standard
// dotted-quad and IPv6 forms it decodes the lesser-known IPv4 spellings
// (bare decimal "2130706433", hex "0x7f000001", octal "0177.0.0.1",
// and mixed-radix dotted forms) that are commonly used to smuggle
// loopback addresses past naive checks.
func parseHostIP(host string) net.IP {
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	return decodeNumericIPv4(host)
}

// decodeNumericIPv4 decodes the inet_aton-style IPv4 notations: each
// dot-separated part may be decimal, octal (leading 0), or hex (0x),
// and fewer than four parts fold the final part into the remaining
// bytes. Returns nil if the host is not such a literal.
func decodeNumericIPv4(host string) net.IP {
	parts := strings.Split(host, ".")
	if len(parts) < 1 || len(parts) > 4 {
		return nil
	}

	vals := make([]uint64, len(parts))
	for i, p := range parts {
		if p == "" {
			return nil
		}
		// ParseUint with base 0 honors 0x (hex) and leading-0 (octal)
		// prefixes, matching inet_aton.
		v, err := strconv.ParseUint(p, 0, 64)
		if err != nil {
			return nil
		}
		vals[i] = v
	}

	// All parts except the last must fit in one byte; the last part
	// fills the remaining bytes of the address.
	var addr uint64
	for i := 0; i < len(vals)-1; i++ {
		if vals[i] > 0xff {
			return nil
		}
		addr = addr<<8 | vals[i]
	}
	last := vals[len(vals)-1]
	remaining := uint(4 - (len(vals) - 1))
	if last >= 1<<(8*remaining) {
		return nil
	}
	addr = addr<<(8*remaining) | last

	return net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}

// isDisallowedIP reports whether the address is loopback, private,
// link-local, unspecified, or multicast. IPv4-mapped IPv6 addresses are
// unwrapped first so ::ffff:127.0.0.1 is caught.
func isDisallowedIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified() ||
		ip.IsMulticast()
}
