// The httpbridge package adapts a simple request/response API onto net/http
// transports. Code written against the bridge's request model executes
// through standard transports configured from a per-request options
// structure: client certificates, peer verification overrides, HTTP CONNECT
// and SOCKS5 proxies, forced IPv4/IPv6 resolution and transparent response
// decompression.
//
// Transport clients are built once per distinct configuration and cached for
// the lifetime of the builder, so arbitrarily many requests that agree on
// the connection-affecting options share one connection pool. Transport
// failures are re-expressed in the bridge's own error types (ConnectError,
// RequestError), keeping caller error handling independent of net/http's
// error vocabulary.
package httpbridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Request describes one HTTP exchange to perform through the bridge.
type Request struct {
	Method  string // defaults to GET
	URL     string
	Header  http.Header
	Body    io.Reader
	Options *Options
}

// Response is the caller-facing result of a request. The caller owns Body
// and must close it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client executes bridge requests through cached transport clients. The zero
// value is not usable; create one with NewClient.
type Client struct {
	// Builder owns the transport client cache. Interceptors registered on
	// it apply to every client it constructs.
	Builder *ClientBuilder

	Logger Logger
}

// NewClient creates a Client with a fresh builder and default logger.
func NewClient() *Client {
	return &Client{
		Builder: NewClientBuilder(),
		Logger:  defaultLogger(),
	}
}

// Do executes the request and returns the normalized response. Configuration
// errors surface before any connection is attempted; transport failures are
// translated into the bridge's error types exactly once. Cancellation of ctx
// propagates through the underlying transport.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// do runs the full pipeline and hands back the underlying response, shared
// by Do and the StandardClient adapter.
func (c *Client) do(ctx context.Context, req *Request) (*http.Response, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, &ConfigError{Option: "url", Value: req.URL, Reason: err.Error()}
	}

	opts := req.Options
	if opts == nil {
		opts = &Options{}
	}

	client, err := c.Builder.GetClient(target, opts)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	// The transfer timeout covers dialing through reading the body, so the
	// deadline must outlive this call; it is released when the body closes.
	cancel := context.CancelFunc(nil)
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), req.Body)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		return nil, &ConfigError{Option: "request", Value: req.URL, Reason: err.Error()}
	}
	for name, values := range req.Header {
		httpReq.Header[name] = values
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		if cancel != nil {
			cancel()
		}
		err = translateError(req.URL, err)
		c.logger().Errorf("%s %s failed: %v", method, req.URL, err)
		observeRequest(method, "error", time.Since(start))
		return nil, err
	}
	observeRequest(method, fmt.Sprintf("%d", resp.StatusCode), time.Since(start))
	c.logger().Debugf("%s %s -> %d", method, req.URL, resp.StatusCode)

	if cancel != nil {
		resp.Body = &cancelReader{src: resp.Body, cancel: cancel}
	}

	if err := attachSink(resp, opts); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp, nil
}

func (c *Client) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return defaultLogger()
}

// Get is a convenience helper for simple GET requests.
func (c *Client) Get(ctx context.Context, url string, opts *Options) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: url, Options: opts})
}

// Post is a convenience helper for simple POST requests.
func (c *Client) Post(ctx context.Context, url, bodyType string, body io.Reader, opts *Options) (*Response, error) {
	header := http.Header{}
	if bodyType != "" {
		header.Set("Content-Type", bodyType)
	}
	return c.Do(ctx, &Request{
		Method:  http.MethodPost,
		URL:     url,
		Header:  header,
		Body:    body,
		Options: opts,
	})
}

// Head is a convenience helper for simple HEAD requests.
func (c *Client) Head(ctx context.Context, url string, opts *Options) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodHead, URL: url, Options: opts})
}

// PostForm is a convenience helper for posting url-encoded form data.
func (c *Client) PostForm(ctx context.Context, u string, data url.Values, opts *Options) (*Response, error) {
	return c.Post(ctx, u, "application/x-www-form-urlencoded", strings.NewReader(data.Encode()), opts)
}

// attachSink tees the response body into the configured sink, if any. The
// caller still reads the body normally; the copy happens as they read.
func attachSink(resp *http.Response, opts *Options) error {
	sink := opts.Sink
	closeSink := io.Closer(nil)
	if opts.SinkFile != "" {
		f, err := os.Create(opts.SinkFile)
		if err != nil {
			return &ConfigError{Option: "sink", Value: opts.SinkFile, Reason: err.Error()}
		}
		sink = f
		closeSink = f
	}
	if sink == nil {
		return nil
	}
	resp.Body = &teeReadCloser{
		src:       resp.Body,
		tee:       io.TeeReader(resp.Body, sink),
		closeSink: closeSink,
	}
	return nil
}

type teeReadCloser struct {
	src       io.ReadCloser
	tee       io.Reader
	closeSink io.Closer
}

func (t *teeReadCloser) Read(p []byte) (int, error) { return t.tee.Read(p) }

func (t *teeReadCloser) Close() error {
	err := t.src.Close()
	if t.closeSink != nil {
		if cerr := t.closeSink.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// cancelReader releases a per-request timeout when the body is closed.
type cancelReader struct {
	src    io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelReader) Read(p []byte) (int, error) { return r.src.Read(p) }

func (r *cancelReader) Close() error {
	err := r.src.Close()
	r.cancel()
	return err
}
