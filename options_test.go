package httpbridge

import (
	"net/url"
	"testing"
	"time"
)

func TestCacheKeyIgnoresNonClientFields(t *testing.T) {
	boolTrue := true

	a := &Options{
		Proxy:   ProxyURL("http://proxyhost:8080"),
		Verify:  &VerifyConfig{Insecure: true},
		Timeout: 5 * time.Second,
		Extra:   map[string]interface{}{"debug": true},
	}
	b := &Options{
		Proxy:         ProxyURL("http://proxyhost:8080"),
		Verify:        &VerifyConfig{Insecure: true},
		DecodeContent: &boolTrue,
		Timeout:       90 * time.Second,
		Sink:          nil,
		Extra:         map[string]interface{}{"trace_id": "abc"},
	}

	if a.cacheKey() != b.cacheKey() {
		t.Fatalf("cacheKey() differs for option sets agreeing on all client-affecting fields: %d != %d", a.cacheKey(), b.cacheKey())
	}
}

func TestCacheKeyDefaultSentinel(t *testing.T) {
	boolTrue := true

	tests := []struct {
		name string
		opts *Options
	}{
		{name: "empty", opts: &Options{}},
		{name: "explicit defaults", opts: &Options{Verify: &VerifyConfig{}, DecodeContent: &boolTrue}},
		{name: "non-client fields only", opts: &Options{Timeout: time.Second, Extra: map[string]interface{}{"x": 1}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if key := tt.opts.cacheKey(); key != defaultClientKey {
				t.Fatalf("cacheKey() = %d, want default sentinel %d", key, defaultClientKey)
			}
		})
	}
}

func TestCacheKeyDistinguishesClientFields(t *testing.T) {
	boolFalse := false

	base := &Options{}
	variants := []*Options{
		{Proxy: ProxyURL("http://proxyhost:8080")},
		{Verify: &VerifyConfig{Insecure: true}},
		{Verify: &VerifyConfig{CAFile: "/tmp/ca.pem"}},
		{DecodeContent: &boolFalse},
		{ForceIPFamily: "v4"},
		{Cert: &CertConfig{File: "/tmp/client.pem"}},
	}

	seen := map[uint64]int{base.cacheKey(): -1}
	for i, v := range variants {
		key := v.cacheKey()
		if prev, ok := seen[key]; ok {
			t.Fatalf("variant %d collides with %d on key %d", i, prev, key)
		}
		seen[key] = i
	}
}

func TestProxyResolve(t *testing.T) {
	tests := []struct {
		name   string
		proxy  *ProxyConfig
		target string
		want   string
	}{
		{
			name:   "nil config goes direct",
			proxy:  nil,
			target: "http://example.com/",
			want:   "",
		},
		{
			name:   "single proxy applies to all schemes",
			proxy:  ProxyURL("http://proxyhost:8080"),
			target: "https://example.com/",
			want:   "http://proxyhost:8080",
		},
		{
			name:   "per-scheme selection",
			proxy:  &ProxyConfig{HTTP: "http://plain:8080", HTTPS: "http://secure:8080"},
			target: "https://example.com/",
			want:   "http://secure:8080",
		},
		{
			name:   "no-proxy exact match",
			proxy:  &ProxyConfig{Default: "http://proxyhost:8080", NoProxy: []string{"example.com"}},
			target: "http://example.com/",
			want:   "",
		},
		{
			name:   "no-proxy subdomain match",
			proxy:  &ProxyConfig{Default: "http://proxyhost:8080", NoProxy: []string{".example.com"}},
			target: "http://api.example.com/",
			want:   "",
		},
		{
			name:   "no-proxy wildcard subdomain form",
			proxy:  &ProxyConfig{Default: "http://proxyhost:8080", NoProxy: []string{"*.example.com"}},
			target: "http://api.example.com/",
			want:   "",
		},
		{
			name:   "no-proxy wildcard",
			proxy:  &ProxyConfig{Default: "http://proxyhost:8080", NoProxy: []string{"*"}},
			target: "http://anything.test/",
			want:   "",
		},
		{
			name:   "no-proxy miss keeps proxy",
			proxy:  &ProxyConfig{Default: "http://proxyhost:8080", NoProxy: []string{"other.com"}},
			target: "http://example.com/",
			want:   "http://proxyhost:8080",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			target, err := url.Parse(tt.target)
			if err != nil {
				t.Fatalf("unable to parse target, %s", err)
			}
			if got := tt.proxy.resolve(target); got != tt.want {
				t.Fatalf("resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}
