// File: internal/network/compression.go
package network

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// AcceptEncoding is advertised on requests that do not set their own.
const AcceptEncoding = "br, gzip, deflate"

var (
	gzipPool   = sync.Pool{New: func() any { return new(gzip.Reader) }}
	brotliPool = sync.Pool{New: func() any { return brotli.NewReader(nil) }}
)

// CompressionMiddleware negotiates compressed responses and decodes them
// before the caller sees the body. Large SPARQL result sets compress well,
// and several public endpoints answer with br only.
type CompressionMiddleware struct {
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps transport, defaulting to http.DefaultTransport.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", AcceptEncoding)
	}
	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := DecompressResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// DecompressResponse replaces resp.Body with a decoding reader for every
// Content-Encoding layer, last applied first. On error the body is left
// partially read and must be discarded.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	var layers []string
	for _, value := range encodings {
		for _, enc := range strings.Split(value, ",") {
			layers = append(layers, strings.ToLower(strings.TrimSpace(enc)))
		}
	}

	for i := len(layers) - 1; i >= 0; i-- {
		body, err := decoderFor(layers[i], resp.Body)
		if err != nil {
			return err
		}
		resp.Body = body
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

func decoderFor(encoding string, body io.ReadCloser) (io.ReadCloser, error) {
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr := gzipPool.Get().(*gzip.Reader)
		if err := zr.Reset(body); err != nil {
			gzipPool.Put(zr)
			return nil, fmt.Errorf("gzip initialization error: %w", err)
		}
		return &decodedBody{Reader: zr, closeFn: zr.Close, release: func() { gzipPool.Put(zr) }, orig: body}, nil
	case "br":
		br := brotliPool.Get().(*brotli.Reader)
		if err := br.Reset(body); err != nil {
			brotliPool.Put(br)
			return nil, fmt.Errorf("brotli initialization error: %w", err)
		}
		return &decodedBody{Reader: br, release: func() { brotliPool.Put(br) }, orig: body}, nil
	case "deflate":
		rc, err := openDeflate(body)
		if err != nil {
			return nil, fmt.Errorf("deflate initialization error: %w", err)
		}
		return &decodedBody{Reader: rc, closeFn: rc.Close, orig: body}, nil
	default:
		return nil, fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
	}
}

// decodedBody closes the decoder and the wrapped body, then hands pooled
// decoders back.
type decodedBody struct {
	io.Reader
	closeFn func() error
	release func()
	orig    io.ReadCloser
	closed  bool
}

func (b *decodedBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	var errs []error
	if b.closeFn != nil {
		errs = append(errs, b.closeFn())
	}
	errs = append(errs, b.orig.Close())
	if b.release != nil {
		b.release()
	}
	return errors.Join(errs...)
}

// openDeflate reads zlib-wrapped deflate and falls back to a raw stream,
// which some servers send despite the header.
func openDeflate(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(head) == 2 && head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0 {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}
