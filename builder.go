package httpbridge

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/net/proxy"
)

var (
	// Default connection establishment limits, applied when the options do
	// not override them.
	defaultConnectTimeout = 30 * time.Second
	defaultKeepAlive      = 30 * time.Second
)

// Interceptor wraps a round tripper with application-level behavior. The
// builder layers interceptors around every client it constructs.
type Interceptor func(http.RoundTripper) http.RoundTripper

// ClientBuilder constructs and caches transport clients keyed by the
// configuration fields that affect connection handling. One builder owns one
// cache; the cache grows with distinct configurations and is never evicted.
type ClientBuilder struct {
	// Interceptors are layered around each newly built client in reverse
	// registration order, so the first registered interceptor is outermost.
	Interceptors []Interceptor

	// Logger receives debug output. Defaults to an hclog-backed logger.
	Logger Logger

	mu      sync.Mutex
	clients map[uint64]*http.Client
}

// NewClientBuilder creates a builder with an empty client cache.
func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{
		Logger:  defaultLogger(),
		clients: make(map[uint64]*http.Client),
	}
}

// GetClient returns the transport client for the given request target and
// options, building and caching one the first time a configuration is seen.
// Two option sets agreeing on certificate, proxy, verification, decode and
// IP-family configuration share a client regardless of their other fields.
func (b *ClientBuilder) GetClient(target *url.URL, opts *Options) (*http.Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	key := opts.cacheKey()

	b.mu.Lock()
	if client, ok := b.clients[key]; ok {
		b.mu.Unlock()
		observeCache("hit")
		return client, nil
	}
	b.mu.Unlock()
	observeCache("miss")

	client, err := b.buildClient(target, opts)
	if err != nil {
		return nil, err
	}

	// Concurrent requests may have raced to build the same configuration.
	// Keep whichever client landed first; an unused duplicate holds no OS
	// resources and is simply discarded.
	b.mu.Lock()
	if existing, ok := b.clients[key]; ok {
		client = existing
	} else {
		b.clients[key] = client
	}
	b.mu.Unlock()

	return client, nil
}

// buildClient assembles a transport client matching the options: TLS
// context, proxy connector, resolution family and the decode filter.
func (b *ClientBuilder) buildClient(target *url.URL, opts *Options) (*http.Client, error) {
	transport := cleanhttp.DefaultPooledTransport()
	// The bridge's normalizer owns response decompression.
	transport.DisableCompression = true

	network, err := dialNetwork(opts.ForceIPFamily)
	if err != nil {
		return nil, err
	}

	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: defaultKeepAlive,
	}
	transport.DialContext = func(ctx context.Context, _, addr string) (net.Conn, error) {
		return dialer.DialContext(ctx, network, addr)
	}

	tlsConfig, err := buildTLSConfig(opts)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	if proxyURL := opts.Proxy.resolve(target); proxyURL != "" {
		if err := configureProxy(transport, proxyURL, network, connectTimeout); err != nil {
			return nil, err
		}
	}

	if err := applyTransportOptions(transport, opts.Transport); err != nil {
		return nil, err
	}

	var rt http.RoundTripper = transport
	if opts.Transport != nil && opts.Transport.MaxResponseBodySize > 0 {
		rt = &limitTransport{next: rt, limit: opts.Transport.MaxResponseBodySize}
	}
	if opts.decodeEnabled() {
		rt = &decodeTransport{next: rt}
	}
	for i := len(b.Interceptors) - 1; i >= 0; i-- {
		rt = b.Interceptors[i](rt)
	}

	b.logger().Debugf("built transport client for %s://%s", target.Scheme, target.Host)
	observeBuild()

	return &http.Client{Transport: rt}, nil
}

func (b *ClientBuilder) logger() Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return defaultLogger()
}

// dialNetwork maps the forced-IP-family option onto a dial network.
func dialNetwork(family string) (string, error) {
	switch family {
	case "":
		return "tcp", nil
	case "v4":
		return "tcp4", nil
	case "v6":
		return "tcp6", nil
	default:
		return "", &ConfigError{
			Option: "force_ip_family",
			Value:  family,
			Reason: `must be "v4" or "v6"`,
		}
	}
}

// buildTLSConfig derives a TLS client configuration from the certificate and
// verification options. A nil return keeps the transport default.
func buildTLSConfig(opts *Options) (*tls.Config, error) {
	if opts.Cert == nil && opts.Verify.isDefault() {
		return nil, nil
	}

	config := &tls.Config{}
	if v := opts.Verify; v != nil {
		switch {
		case v.Insecure:
			config.InsecureSkipVerify = true
		case v.CAFile != "":
			caPEM, err := os.ReadFile(v.CAFile)
			if err != nil {
				return nil, &ConfigError{Option: "verify", Value: v.CAFile, Reason: err.Error()}
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caPEM) {
				return nil, &ConfigError{Option: "verify", Value: v.CAFile, Reason: "no CA certificates found in file"}
			}
			config.RootCAs = pool
		}
	}

	if opts.Cert != nil {
		cert, err := loadClientCert(opts.Cert)
		if err != nil {
			return nil, &ConfigError{Option: "cert", Value: opts.Cert.File, Reason: err.Error()}
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

// loadClientCert reads a client certificate from disk, decrypting a
// legacy-encrypted PEM key when a passphrase is supplied.
func loadClientCert(c *CertConfig) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(c.File)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := certPEM
	if c.KeyFile != "" {
		keyPEM, err = os.ReadFile(c.KeyFile)
		if err != nil {
			return tls.Certificate{}, err
		}
	}
	if c.Passphrase != "" {
		keyPEM, err = decryptKeyPEM(keyPEM, []byte(c.Passphrase))
		if err != nil {
			return tls.Certificate{}, err
		}
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

// decryptKeyPEM decrypts the first encrypted PEM block found in data. Data
// without an encrypted block is returned unchanged, so a passphrase given
// alongside a plaintext key is ignored.
func decryptKeyPEM(data, passphrase []byte) ([]byte, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return data, nil
		}
		if x509.IsEncryptedPEMBlock(block) {
			der, err := x509.DecryptPEMBlock(block, passphrase)
			if err != nil {
				return nil, fmt.Errorf("decrypt private key: %w", err)
			}
			return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
		}
	}
}

// configureProxy installs the connector for the proxy's own scheme: a SOCKS5
// dialer, or an HTTP/HTTPS CONNECT tunnel with optional Basic credentials
// taken from the proxy URL's user info.
func configureProxy(transport *http.Transport, rawurl, network string, connectTimeout time.Duration) error {
	proxyURL, err := url.Parse(rawurl)
	if err != nil {
		return &ConfigError{Option: "proxy", Value: rawurl, Reason: err.Error()}
	}

	switch proxyURL.Scheme {
	case "socks5":
		forward := &net.Dialer{Timeout: connectTimeout, KeepAlive: defaultKeepAlive}
		socks, err := proxy.SOCKS5(network, proxyURL.Host, socksAuth(proxyURL.User), forward)
		if err != nil {
			return &ConfigError{Option: "proxy", Value: rawurl, Reason: err.Error()}
		}
		transport.Proxy = nil
		transport.DialContext = func(ctx context.Context, _, addr string) (net.Conn, error) {
			if cd, ok := socks.(proxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return socks.Dial(network, addr)
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
		if proxyURL.User != nil {
			transport.ProxyConnectHeader = http.Header{
				"Proxy-Authorization": []string{basicProxyAuth(proxyURL.User)},
			}
		}
	default:
		return &ConfigError{
			Option: "proxy",
			Value:  rawurl,
			Reason: fmt.Sprintf("unsupported proxy scheme %q", proxyURL.Scheme),
		}
	}
	return nil
}

// socksAuth derives SOCKS5 credentials from URL user info: the user name is
// everything before the first colon, the password everything after. No user
// info means no credentials.
func socksAuth(user *url.Userinfo) *proxy.Auth {
	if user == nil {
		return nil
	}
	password, _ := user.Password()
	return &proxy.Auth{
		User:     user.Username(),
		Password: password,
	}
}

// basicProxyAuth builds a Proxy-Authorization value from URL user info.
func basicProxyAuth(user *url.Userinfo) string {
	password, _ := user.Password()
	credentials := user.Username() + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

// applyTransportOptions maps the vendor-specific overrides onto the
// transport.
func applyTransportOptions(transport *http.Transport, to *TransportOptions) error {
	if to == nil {
		return nil
	}
	if len(to.Protocols) > 0 {
		http2 := false
		for _, p := range to.Protocols {
			switch p {
			case "2", "2.0":
				http2 = true
			case "1.1", "1.0":
			default:
				return &ConfigError{Option: "protocols", Value: p, Reason: "unsupported protocol version"}
			}
		}
		transport.ForceAttemptHTTP2 = http2
		if !http2 {
			transport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
		}
	}
	if to.MaxResponseHeaderBytes > 0 {
		transport.MaxResponseHeaderBytes = to.MaxResponseHeaderBytes
	}
	return nil
}

// limitTransport enforces the response body size override. Reads past the
// limit fail instead of silently truncating.
type limitTransport struct {
	next  http.RoundTripper
	limit int64
}

func (t *limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	resp.Body = &limitReader{src: resp.Body, remaining: t.limit}
	return resp, nil
}

var errBodyLimit = errors.New("httpbridge: response body exceeds configured size limit")

type limitReader struct {
	src       io.ReadCloser
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		// A body of exactly the limit is fine; only more data past the
		// limit is an error. Probe for one byte so a trailing EOF from
		// the source passes through.
		var probe [1]byte
		n, err := l.src.Read(probe[:])
		if n > 0 {
			return 0, errBodyLimit
		}
		return 0, err
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.src.Read(p)
	l.remaining -= int64(n)
	return n, err
}

func (l *limitReader) Close() error { return l.src.Close() }
