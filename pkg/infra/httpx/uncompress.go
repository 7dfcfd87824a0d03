package httpx

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// AcceptEncoding lists every coding DecodeChain understands.
const AcceptEncoding = "br, zstd, gzip, deflate"

// ReadBody reads at most limit bytes of resp.Body, closes it and removes the
// Content-Encoding. On a decode error the raw body is returned with the error.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	decoded, _, err := DecodeChain(resp.Header.Get("Content-Encoding"), body)
	if err != nil {
		return body, fmt.Errorf("failed to decode response body: %w", err)
	}
	return decoded, nil
}

type decoder func([]byte) ([]byte, error)

var decoders = map[string]decoder{
	"br": func(b []byte) ([]byte, error) {
		return io.ReadAll(brotli.NewReader(bytes.NewReader(b)))
	},
	"gzip": func(b []byte) ([]byte, error) {
		r, err := gzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		return readAndClose(r)
	},
	"zstd": func(b []byte) ([]byte, error) {
		d, err := zstd.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer d.Close()
		return io.ReadAll(d)
	},
	"deflate": inflate,
}

// inflate accepts zlib-wrapped data (RFC 9110) and falls back to raw DEFLATE,
// which some servers send instead.
func inflate(b []byte) ([]byte, error) {
	if r, err := zlib.NewReader(bytes.NewReader(b)); err == nil {
		return readAndClose(r)
	}
	return readAndClose(flate.NewReader(bytes.NewReader(b)))
}

func readAndClose(r io.ReadCloser) ([]byte, error) {
	out, err := io.ReadAll(r)
	if cerr := r.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeChain undoes a Content-Encoding value such as "gzip, br", last
// coding first. It reports whether the body changed.
func DecodeChain(contentEncoding string, body []byte) ([]byte, bool, error) {
	if contentEncoding == "" {
		return body, false, nil
	}
	codings := strings.Split(contentEncoding, ",")
	changed := false
	for i := len(codings) - 1; i >= 0; i-- {
		name := strings.ToLower(strings.TrimSpace(codings[i]))
		switch name {
		case "", "identity", "compress":
			continue
		}
		decode, ok := decoders[name]
		if !ok {
			return nil, false, fmt.Errorf("unsupported content-encoding: %q", codings[i])
		}
		out, err := decode(body)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", name, err)
		}
		body = out
		changed = true
	}
	return body, changed, nil
}
