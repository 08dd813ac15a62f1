package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
)

// probePatterns are substrings that show up in scanner and injection
// traffic but never in legitimate API calls.
var probePatterns = []string{
	"../", "..\\", ".env", ".git", ".ssh",
	"wp-admin", "phpmyadmin", "admin.php", "config.php",
	"<script", "javascript:", "eval(", "union select",
	"etc/passwd", "cmd.exe",
}

// unusualMethods never appear in normal API traffic.
var unusualMethods = map[string]bool{
	"TRACE":   true,
	"TRACK":   true,
	"DEBUG":   true,
	"CONNECT": true,
}

// DetectionMetrics counts security events since startup.
type DetectionMetrics struct {
	SuspiciousRequests int64
	InvalidIPAttempts  int64
}

// Detector flags scanner-looking requests and resolves real client IPs
// behind trusted proxies.
type Detector struct {
	suspicious int64
	invalidIPs int64

	trustedProxies []*net.IPNet
}

// NewDetector trusts loopback and the RFC 1918 ranges as proxies.
func NewDetector() *Detector {
	return &Detector{
		trustedProxies: []*net.IPNet{
			mustCIDR("127.0.0.0/8"),
			mustCIDR("10.0.0.0/8"),
			mustCIDR("172.16.0.0/12"),
			mustCIDR("192.168.0.0/16"),
		},
	}
}

func mustCIDR(cidr string) *net.IPNet {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(fmt.Sprintf("bad trusted proxy CIDR %s: %v", cidr, err))
	}
	return network
}

// AddTrustedProxy extends the set of proxies whose forwarded headers are
// believed.
func (d *Detector) AddTrustedProxy(cidr string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR %s: %w", cidr, err)
	}
	d.trustedProxies = append(d.trustedProxies, network)
	return nil
}

// DetectSuspiciousRequest reports whether the request looks like probe
// traffic. User-Agent is deliberately not inspected: curl and scripting
// clients are legitimate consumers of a JSON API.
func (d *Detector) DetectSuspiciousRequest(r *http.Request) bool {
	hit := unusualMethods[r.Method] ||
		looksLikeProbe(r.URL.Path) ||
		looksLikeProbe(decodedQuery(r)) ||
		len(r.URL.String()) > 2048 ||
		forgedForwardChain(r)

	if hit {
		atomic.AddInt64(&d.suspicious, 1)
	}
	return hit
}

func looksLikeProbe(s string) bool {
	s = strings.ToLower(s)
	for _, p := range probePatterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// decodedQuery percent-decodes the raw query so "%20union%20select" and
// friends cannot slip past the substring match.
func decodedQuery(r *http.Request) string {
	raw := r.URL.RawQuery
	if decoded, err := url.QueryUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// forgedForwardChain flags requests carrying both forwarding headers with
// an implausibly long hop list.
func forgedForwardChain(r *http.Request) bool {
	if r.Header.Get("X-Forwarded-For") == "" || r.Header.Get("X-Real-IP") == "" {
		return false
	}
	return strings.Count(r.Header.Get("X-Forwarded-For"), ",") > 5
}

// ExtractClientIP resolves the caller's address. Forwarded headers are
// only believed when the direct peer is a trusted proxy; anyone else
// could forge them.
func (d *Detector) ExtractClientIP(r *http.Request) string {
	direct, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		direct = r.RemoteAddr
	}

	peer := net.ParseIP(direct)
	if peer == nil || !d.isTrustedProxy(peer) {
		return direct
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		first = strings.TrimSpace(first)
		if net.ParseIP(first) != nil {
			return first
		}
		atomic.AddInt64(&d.invalidIPs, 1)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
		atomic.AddInt64(&d.invalidIPs, 1)
	}

	return direct
}

func (d *Detector) isTrustedProxy(ip net.IP) bool {
	for _, network := range d.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// GetMetrics returns current security counters.
func (d *Detector) GetMetrics() DetectionMetrics {
	return DetectionMetrics{
		SuspiciousRequests: atomic.LoadInt64(&d.suspicious),
		InvalidIPAttempts:  atomic.LoadInt64(&d.invalidIPs),
	}
}
