package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		xff               string
		xRealIP           string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.5:44321",
			want:       "203.0.113.5",
		},
		{
			name:       "XFF ignored when proxy not trusted",
			remoteAddr: "203.0.113.5:44321",
			xff:        "198.51.100.7",
			want:       "203.0.113.5",
		},
		{
			name:       "single proxy",
			remoteAddr: "10.0.0.1:80",
			xff:        "198.51.100.7, 10.0.0.1",
			trustProxy: true,
			want:       "198.51.100.7",
		},
		{
			name:              "two trusted proxies",
			remoteAddr:        "10.0.0.1:80",
			xff:               "198.51.100.7, 10.0.0.2, 10.0.0.1",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "198.51.100.7",
		},
		{
			name:       "X-Real-IP fallback",
			remoteAddr: "10.0.0.1:80",
			xRealIP:    "198.51.100.7",
			trustProxy: true,
			want:       "198.51.100.7",
		},
		{
			name:       "garbage XFF falls back to remote addr",
			remoteAddr: "10.0.0.1:80",
			xff:        "not-an-ip",
			trustProxy: true,
			want:       "10.0.0.1",
		},
		{
			name:       "IPv6 remote addr",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/token", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}
			if got := GetClientIP(r, tt.trustProxy, tt.trustedProxyCount); got != tt.want {
				t.Errorf("GetClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
