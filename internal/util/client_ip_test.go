package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIPForwardedHeaders(t *testing.T) {
	proxies, err := NewTrustedProxies([]string{"172.16.0.0/12", " 192.0.2.1 "})
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}

	cases := map[string]struct {
		remote  string
		headers map[string]string
		proxies *TrustedProxies
		want    string
	}{
		"direct peer without allowlist": {
			remote:  "198.51.100.4:5050",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9"},
			want:    "198.51.100.4",
		},
		"untrusted peer cannot spoof": {
			remote:  "198.51.100.4:5050",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			proxies: proxies,
			want:    "198.51.100.4",
		},
		"load balancer in front": {
			remote:  "172.20.1.1:443",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9"},
			proxies: proxies,
			want:    "203.0.113.9",
		},
		"spoofed hop left of the real client": {
			remote:  "192.0.2.1:443",
			headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.9, 172.16.5.5"},
			proxies: proxies,
			want:    "203.0.113.9",
		},
		"x-real-ip fallback": {
			remote:  "172.20.1.1:443",
			headers: map[string]string{"X-Forwarded-For": "garbage", "X-Real-IP": "203.0.113.10"},
			proxies: proxies,
			want:    "203.0.113.10",
		},
		"ipv4 mapped peer": {
			remote:  "[::ffff:198.51.100.7]:80",
			proxies: proxies,
			want:    "198.51.100.7",
		},
		"unparsable remote addr": {
			remote: "pipe",
			want:   "pipe",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/generate", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req, tc.proxies); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxiesEmptyAndInvalid(t *testing.T) {
	got, err := NewTrustedProxies([]string{"", "  "})
	if err != nil || got != nil {
		t.Fatalf("blank entries = (%v, %v), want (nil, nil)", got, err)
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatal("expected error for bad prefix length")
	}
	if _, err := NewTrustedProxies([]string{"proxy.internal"}); err == nil {
		t.Fatal("expected error for hostname entry")
	}
}
