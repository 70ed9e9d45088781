package cache

import "testing"

func TestNormalize_QueryOrderInsensitive(t *testing.T) {
	a, err := Normalize("https://example.com/page?a=1&b=2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Normalize("https://example.com/page?b=2&a=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Errorf("query order changed the key: %q vs %q", a, b)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	once, err := Normalize("HTTPS://Example.COM:443/Page?b=2&a=1#frag")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, err := Normalize(once)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if once != twice {
		t.Errorf("normalize is not idempotent: %q vs %q", once, twice)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "https://EXAMPLE.com/path", "https://example.com/path"},
		{"strips default https port", "https://example.com:443/x", "https://example.com/x"},
		{"strips default http port", "http://example.com:80/x", "http://example.com/x"},
		{"keeps explicit port", "https://example.com:8443/x", "https://example.com:8443/x"},
		{"drops fragment", "https://example.com/x#section", "https://example.com/x"},
		{"sorts query params", "https://example.com/?z=1&a=2", "https://example.com/?a=2&z=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	if _, err := Normalize("http://exa mple.com/%zz"); err == nil {
		t.Error("expected an error for a malformed URL")
	}
}
