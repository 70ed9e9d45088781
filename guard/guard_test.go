package guard

import (
	"strings"
	"testing"

	"github.com/JakeLiuMe/webpeel-sub001/models"
)

func TestValidate_AllowsPublicURLs(t *testing.T) {
	urls := []string{
		"https://example.com/",
		"http://example.com/page?q=1",
		"https://sub.domain.example.co.uk:8443/deep/path",
		"https://93.184.216.34/",
		"https://[2606:2800:220:1:248:1893:25c8:1946]/",
	}
	for _, u := range urls {
		if err := Validate(u); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", u, err)
		}
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no scheme", "example.com/page"},
		{"ftp scheme", "ftp://example.com/file"},
		{"file scheme", "file:///etc/passwd"},
		{"localhost", "http://localhost/admin"},
		{"localhost subdomain", "http://foo.localhost/"},
		{"mdns local", "http://printer.local/"},
		{"loopback v4", "http://127.0.0.1/"},
		{"loopback v4 other", "http://127.8.9.1/"},
		{"private 10", "http://10.0.0.5/"},
		{"private 172", "http://172.16.1.1/"},
		{"private 192", "http://192.168.1.1/"},
		{"link local", "http://169.254.169.254/latest/meta-data/"},
		{"unspecified", "http://0.0.0.0/"},
		{"loopback v6", "http://[::1]/"},
		{"v4-mapped v6 loopback", "http://[::ffff:127.0.0.1]/"},
		{"unique local v6", "http://[fd00::1]/"},
		{"link local v6", "http://[fe80::1]/"},
		{"decimal encoded loopback", "http://2130706433/"},
		{"hex encoded loopback", "http://0x7f000001/"},
		{"octal encoded loopback", "http://0177.0.0.1/"},
		{"mixed radix private", "http://0xc0.168.0.1/"},
		{"two part loopback", "http://127.1/"},
		{"overlong", "https://example.com/" + strings.Repeat("a", MaxURLLength)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.url)
			if err == nil {
				t.Fatalf("Validate(%q) = nil, want rejection", tt.url)
			}
			if code := models.CodeOf(err); code != models.ErrCodeValidation {
				t.Errorf("error code = %q, want %q", code, models.ErrCodeValidation)
			}
		})
	}
}

func TestDecodeNumericIPv4(t *testing.T) {
	tests := []struct {
		host string
		want string // "" means not a numeric literal
	}{
		{"2130706433", "127.0.0.1"},
		{"0x7f000001", "127.0.0.1"},
		{"0177.0.0.1", "127.0.0.1"},
		{"0xc0.0xa8.0x00.0x01", "192.168.0.1"},
		{"127.1", "127.0.0.1"},
		{"example.com", ""},
		{"999.1.1.1", ""},
		{"1.2.3.4.5", ""},
	}
	for _, tt := range tests {
		got := decodeNumericIPv4(tt.host)
		if tt.want == "" {
			if got != nil {
				t.Errorf("decodeNumericIPv4(%q) = %v, want nil", tt.host, got)
			}
			continue
		}
		if got == nil || got.String() != tt.want {
			t.Errorf("decodeNumericIPv4(%q) = %v, want %s", tt.host, got, tt.want)
		}
	}
}
