package httpbridge

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"net/http"
	"strings"
)

const (
	encodingGzip    = "gzip"
	encodingDeflate = "deflate"

	acceptEncodingHeader  = "Accept-Encoding"
	contentEncodingHeader = "Content-Encoding"
)

// NormalizeResponse rewrites a response carrying a gzip or deflate body so
// downstream consumers see decoded content: the body is replaced with a
// decompressing stream and the Content-Encoding header removed. Any other
// encoding, including none, leaves the response untouched.
//
// The transport applies this to every direct response automatically; it must
// also be called on responses delivered outside the normal round trip, such
// as server-pushed responses, since those bypass the transport filter.
//
// Malformed compressed data is not detected here. Decompression failures
// surface when the body is read.
func NormalizeResponse(resp *http.Response) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get(contentEncodingHeader)))
	switch encoding {
	case encodingGzip, encodingDeflate:
	default:
		return
	}

	resp.Body = &decodeReader{src: resp.Body, encoding: encoding}
	resp.Header.Del(contentEncodingHeader)
	// The declared length describes the compressed payload, which no longer
	// matches what the body yields.
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	observeDecode(encoding)
}

// decodeReader lazily wraps the raw body in a decompressor on first read, so
// that corrupt data fails at read time rather than at normalization time.
// Closing it closes the raw body, releasing the connection.
type decodeReader struct {
	src      io.ReadCloser
	encoding string
	reader   io.Reader
	err      error
}

func (d *decodeReader) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}
	if d.reader == nil {
		if err := d.init(); err != nil {
			d.err = err
			return 0, err
		}
	}
	return d.reader.Read(p)
}

func (d *decodeReader) init() error {
	switch d.encoding {
	case encodingGzip:
		gz, err := gzip.NewReader(d.src)
		if err != nil {
			return err
		}
		d.reader = gz
	case encodingDeflate:
		d.reader = newDeflateReader(d.src)
	}
	return nil
}

func (d *decodeReader) Close() error {
	if c, ok := d.reader.(io.Closer); ok {
		c.Close()
	}
	return d.src.Close()
}

// newDeflateReader handles both flavors of "deflate" seen in the wild: the
// zlib-wrapped form RFC 9110 mandates, and the raw DEFLATE stream some
// servers send instead. The zlib header is sniffed from the first two bytes.
func newDeflateReader(src io.Reader) io.Reader {
	br := bufio.NewReader(src)
	head, err := br.Peek(2)
	if err == nil && isZlibHeader(head) {
		zr, zerr := zlib.NewReader(br)
		if zerr == nil {
			return zr
		}
	}
	return flate.NewReader(br)
}

func isZlibHeader(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	// CMF low nibble 8 = deflate, and the CMF/FLG pair is a multiple of 31.
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

// decodeTransport is the response-path filter attached to clients built with
// content decoding enabled. It advertises the supported encodings on the way
// out and normalizes the response on the way back.
type decodeTransport struct {
	next http.RoundTripper
}

func (t *decodeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(acceptEncodingHeader) == "" {
		// Round trippers must not modify the caller's request.
		clone := req.Clone(req.Context())
		clone.Header.Set(acceptEncodingHeader, "gzip, deflate")
		req = clone
	}
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	NormalizeResponse(resp)
	return resp, nil
}
