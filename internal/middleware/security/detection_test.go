package security

import (
	"net/http/httptest"
	"testing"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		expected   string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.10:54321",
			expected:   "203.0.113.10",
		},
		{
			name:       "forwarded for from trusted proxy",
			remoteAddr: "10.0.0.5:443",
			xff:        "203.0.113.10",
			expected:   "203.0.113.10",
		},
		{
			name:       "forwarded for chain takes first hop",
			remoteAddr: "127.0.0.1:8080",
			xff:        "203.0.113.10, 10.0.0.5, 10.0.0.6",
			expected:   "203.0.113.10",
		},
		{
			name:       "forwarded for ignored from untrusted peer",
			remoteAddr: "198.51.100.7:1234",
			xff:        "203.0.113.10",
			expected:   "198.51.100.7",
		},
		{
			name:       "x-real-ip from trusted proxy",
			remoteAddr: "192.168.1.1:80",
			xRealIP:    "203.0.113.99",
			expected:   "203.0.113.99",
		},
		{
			name:       "invalid forwarded value falls back to direct",
			remoteAddr: "10.0.0.5:443",
			xff:        "not-an-ip",
			expected:   "10.0.0.5",
		},
	}

	d := NewDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/accounts", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			got := d.ExtractClientIP(r)
			if got != tt.expected {
				t.Errorf("ExtractClientIP() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestDetectSuspiciousRequest(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		suspicious bool
	}{
		{
			name:   "normal api request",
			method: "GET",
			target: "/api/transactions?account_id=1",
		},
		{
			name:       "path traversal",
			method:     "GET",
			target:     "/api/../../etc/passwd",
			suspicious: true,
		},
		{
			name:       "sql injection probe in query",
			method:     "GET",
			target:     "/api/transactions?id=1%20union%20select",
			suspicious: true,
		},
		{
			name:       "wordpress scanner",
			method:     "GET",
			target:     "/wp-admin/setup.php",
			suspicious: true,
		},
		{
			name:       "trace method",
			method:     "TRACE",
			target:     "/api/accounts",
			suspicious: true,
		},
		{
			name:   "curl user agent is fine",
			method: "POST",
			target: "/api/transactions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector()
			r := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.name == "curl user agent is fine" {
				r.Header.Set("User-Agent", "curl/8.5.0")
			}

			if got := d.DetectSuspiciousRequest(r); got != tt.suspicious {
				t.Errorf("DetectSuspiciousRequest() = %v, expected %v", got, tt.suspicious)
			}
		})
	}
}
