package httpbridge

import (
	"encoding/json"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// defaultClientKey is the cache key used when none of the client-affecting
// options are set. It is reserved and never produced by hashing.
const defaultClientKey uint64 = 0

// CertConfig describes a client certificate. File points at a PEM bundle; if
// KeyFile is empty the private key is expected in the same file. Passphrase
// decrypts a legacy-encrypted PEM key and is ignored for plaintext keys.
type CertConfig struct {
	File       string `json:"file"`
	KeyFile    string `json:"key_file,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
}

// VerifyConfig controls peer certificate verification. The zero value means
// default verification against the system roots, Insecure disables
// verification entirely, and CAFile points at a custom CA bundle.
type VerifyConfig struct {
	Insecure bool   `json:"insecure"`
	CAFile   string `json:"ca_file,omitempty"`
}

func (v *VerifyConfig) isDefault() bool {
	return v == nil || (!v.Insecure && v.CAFile == "")
}

// ProxyConfig selects a proxy per request scheme. Default applies to any
// scheme without a dedicated entry. Hosts matching NoProxy bypass the proxy
// entirely.
type ProxyConfig struct {
	Default string `json:"default,omitempty"`
	HTTP    string `json:"http,omitempty"`
	HTTPS   string `json:"https,omitempty"`

	// NoProxy lists hosts that go direct. An entry is either "*" (match
	// everything), a bare host name (exact or dot-boundary suffix match),
	// or a domain pattern in the ".example.com" or "*.example.com" form
	// covering the domain and its subdomains.
	NoProxy []string `json:"no_proxy,omitempty"`
}

// ProxyURL is a convenience constructor for a single proxy applied to all
// request schemes.
func ProxyURL(rawurl string) *ProxyConfig {
	return &ProxyConfig{Default: rawurl}
}

// resolve returns the proxy URL to use for the given request target, or the
// empty string when the request should go direct.
func (p *ProxyConfig) resolve(target *url.URL) string {
	if p == nil {
		return ""
	}

	var proxy string
	switch target.Scheme {
	case "https":
		proxy = p.HTTPS
	default:
		proxy = p.HTTP
	}
	if proxy == "" {
		proxy = p.Default
	}
	if proxy == "" {
		return ""
	}

	host := target.Hostname()
	for _, skip := range p.NoProxy {
		if hostMatches(host, skip) {
			return ""
		}
	}
	return proxy
}

// hostMatches reports whether host falls under the no-proxy pattern. A bare
// "*" matches everything, a leading "." or "*." matches the domain and any
// subdomain, and anything else requires an exact or dot-boundary suffix
// match.
func hostMatches(host, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	host = strings.ToLower(host)
	pattern = strings.TrimPrefix(pattern, "*.")
	pattern = strings.ToLower(strings.TrimPrefix(pattern, "."))
	if host == pattern {
		return true
	}
	return strings.HasSuffix(host, "."+pattern)
}

// TransportOptions carries transport-native overrides that pass straight
// through to the underlying connection handling. These do not participate in
// client caching.
type TransportOptions struct {
	// Protocols restricts the HTTP versions offered, e.g. []string{"1.1"}.
	// An empty list keeps the transport default.
	Protocols []string

	// MaxResponseHeaderBytes caps the size of the response header block.
	MaxResponseHeaderBytes int64

	// MaxResponseBodySize caps the number of body bytes a response may
	// deliver; reads past the limit fail.
	MaxResponseBodySize int64
}

// Options is the per-request configuration accepted by the bridge. Only
// Cert, Proxy, Verify, DecodeContent and ForceIPFamily affect which transport
// client handles the request; everything else is applied per request or
// passed through.
type Options struct {
	// Cert attaches a client certificate to the TLS handshake.
	Cert *CertConfig

	// Proxy routes the request through an HTTP, HTTPS or SOCKS5 proxy.
	Proxy *ProxyConfig

	// Verify overrides peer certificate verification. Nil means default
	// verification.
	Verify *VerifyConfig

	// DecodeContent controls transparent decompression of gzip and deflate
	// response bodies. Nil defaults to true.
	DecodeContent *bool

	// ForceIPFamily restricts name resolution to "v4" or "v6". Empty means
	// both families.
	ForceIPFamily string

	// Timeout bounds the whole transfer, from dialing through reading the
	// body. Zero means no limit beyond the caller's context.
	Timeout time.Duration

	// ConnectTimeout bounds establishing the connection only.
	ConnectTimeout time.Duration

	// Sink receives a copy of the response body as the caller reads it.
	Sink io.Writer

	// SinkFile names a file the response body is copied into. Mutually
	// exclusive with Sink.
	SinkFile string

	// Transport holds transport-native overrides.
	Transport *TransportOptions

	// Extra collects unrecognized option keys. They are ignored and never
	// affect client construction.
	Extra map[string]interface{}
}

// decodeEnabled reports whether transparent decompression applies.
func (o *Options) decodeEnabled() bool {
	return o.DecodeContent == nil || *o.DecodeContent
}

// isCacheDefault reports whether all five client-affecting fields hold their
// defaults, collapsing the options onto the shared default client.
func (o *Options) isCacheDefault() bool {
	return o.Cert == nil &&
		o.Proxy == nil &&
		o.Verify.isDefault() &&
		o.decodeEnabled() &&
		o.ForceIPFamily == ""
}

// cacheKeyFields is the canonical serialization of the five fields that
// select a transport client. Field order is fixed by the struct, absent
// fields marshal as null, so equal configurations always hash identically.
type cacheKeyFields struct {
	Cert   *CertConfig   `json:"cert"`
	Proxy  *ProxyConfig  `json:"proxy"`
	Verify *VerifyConfig `json:"verify"`
	Decode bool          `json:"decode"`
	Family *string       `json:"family"`
}

// cacheKey derives the client cache key from the options.
func (o *Options) cacheKey() uint64 {
	if o.isCacheDefault() {
		return defaultClientKey
	}

	fields := cacheKeyFields{
		Cert:   o.Cert,
		Proxy:  o.Proxy,
		Verify: o.Verify,
		Decode: o.decodeEnabled(),
	}
	if o.ForceIPFamily != "" {
		fields.Family = &o.ForceIPFamily
	}

	// Marshaling a struct of concrete types cannot fail.
	buf, _ := json.Marshal(fields)
	key := xxhash.Sum64(buf)
	if key == defaultClientKey {
		key++
	}
	return key
}
