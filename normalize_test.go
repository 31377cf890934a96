package httpbridge

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func gzipBytes(t *testing.T, plaintext string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write([]byte(plaintext)); err != nil {
		t.Fatalf("unable to compress, %s", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("unable to close writer, %s", err)
	}
	return buf.Bytes()
}

func zlibBytes(t *testing.T, plaintext string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(plaintext)); err != nil {
		t.Fatalf("unable to compress, %s", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("unable to close writer, %s", err)
	}
	return buf.Bytes()
}

func rawDeflateBytes(t *testing.T, plaintext string) []byte {
	t.Helper()
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("unable to create writer, %s", err)
	}
	if _, err := fw.Write([]byte(plaintext)); err != nil {
		t.Fatalf("unable to compress, %s", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("unable to close writer, %s", err)
	}
	return buf.Bytes()
}

func responseWithEncoding(encoding string, body []byte) *http.Response {
	header := http.Header{}
	if encoding != "" {
		header.Set("Content-Encoding", encoding)
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        header,
		Body:          ioutil.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func TestNormalizeResponse_Decodes(t *testing.T) {
	const plaintext = "hello compressed world"

	tests := []struct {
		name     string
		encoding string
		body     func(*testing.T, string) []byte
	}{
		{name: "gzip", encoding: "gzip", body: gzipBytes},
		{name: "gzip upper case with whitespace", encoding: " GZIP ", body: gzipBytes},
		{name: "deflate zlib wrapped", encoding: "deflate", body: zlibBytes},
		{name: "deflate raw stream", encoding: "Deflate", body: rawDeflateBytes},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			resp := responseWithEncoding(tt.encoding, tt.body(t, plaintext))
			NormalizeResponse(resp)

			if got := resp.Header.Get("Content-Encoding"); got != "" {
				t.Fatalf("Content-Encoding = %q, want removed", got)
			}
			if resp.ContentLength != -1 {
				t.Fatalf("ContentLength = %d, want -1", resp.ContentLength)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("unable to read body, %s", err)
			}
			if string(body) != plaintext {
				t.Fatalf("body = %q, want %q", body, plaintext)
			}
			if err := resp.Body.Close(); err != nil {
				t.Fatalf("unable to close body, %s", err)
			}
		})
	}
}

func TestNormalizeResponse_UnrecognizedEncodingIsNoop(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
	}{
		{name: "brotli", encoding: "br"},
		{name: "zstd", encoding: "zstd"},
		{name: "absent", encoding: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			raw := []byte("raw untouched payload")
			resp := responseWithEncoding(tt.encoding, raw)
			wantHeader := resp.Header.Clone()

			NormalizeResponse(resp)

			if diff := cmp.Diff(wantHeader, resp.Header); diff != "" {
				t.Fatalf("headers changed (-want +got):\n%s", diff)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("unable to read body, %s", err)
			}
			if !bytes.Equal(body, raw) {
				t.Fatalf("body = %q, want untouched %q", body, raw)
			}
		})
	}
}

func TestNormalizeResponse_MalformedDataFailsOnRead(t *testing.T) {
	resp := responseWithEncoding("gzip", []byte("definitely not gzip"))

	// Normalization itself must not touch the stream.
	NormalizeResponse(resp)
	if got := resp.Header.Get("Content-Encoding"); got != "" {
		t.Fatalf("Content-Encoding = %q, want removed", got)
	}

	if _, err := io.ReadAll(resp.Body); err == nil {
		t.Fatal("expected a read error from malformed gzip data")
	}
}

func TestDecodeTransport_SetsAcceptEncoding(t *testing.T) {
	var seen string
	rt := &decodeTransport{next: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		seen = req.Header.Get("Accept-Encoding")
		return responseWithEncoding("", nil), nil
	})}

	req, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	if err != nil {
		t.Fatalf("unable to create request, %s", err)
	}
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if seen != "gzip, deflate" {
		t.Fatalf("Accept-Encoding = %q, want %q", seen, "gzip, deflate")
	}
	// The caller's request must not be modified; the header goes on a clone.
	if got := req.Header.Get("Accept-Encoding"); got != "" {
		t.Fatalf("caller's request gained Accept-Encoding = %q", got)
	}

	// An explicit value set by the caller wins.
	req.Header.Set("Accept-Encoding", "identity")
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	if seen != "identity" {
		t.Fatalf("Accept-Encoding = %q, want caller value %q", seen, "identity")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestIsZlibHeader(t *testing.T) {
	if !isZlibHeader([]byte{0x78, 0x9c}) {
		t.Fatal("default zlib header not recognized")
	}
	if isZlibHeader([]byte(strings.Repeat("x", 2))) {
		t.Fatal("arbitrary bytes recognized as zlib header")
	}
}
