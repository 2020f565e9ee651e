package chain

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

// maxDecodedBytes caps decompressed bodies.
const maxDecodedBytes = 32 << 20

// Normalize decodes the content encoding and character set of a response
// and returns valid UTF-8 text without NUL bytes.
func Normalize(resp crawler.FetchResponse) (string, error) {
	body := decodeContentEncoding(resp.Body, resp.Headers.Get("Content-Encoding"))
	if !utf8.Valid(body) {
		reader, err := charset.NewReader(bytes.NewReader(body), resp.Headers.Get("Content-Type"))
		if err != nil {
			return "", fmt.Errorf("detect charset: %w", err)
		}
		decoded, err := io.ReadAll(reader)
		if err != nil {
			return "", fmt.Errorf("transcode body: %w", err)
		}
		body = decoded
	}
	text := strings.ToValidUTF8(string(body), "")
	return strings.ReplaceAll(text, "\x00", ""), nil
}

// decodeContentEncoding undoes br, gzip, and deflate. Bodies that fail to
// decode are returned unchanged since HTTP clients often decompress already
// while leaving the header in place.
func decodeContentEncoding(body []byte, encoding string) []byte {
	var (
		reader io.Reader
		err    error
	)
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "br":
		reader = brotli.NewReader(bytes.NewReader(body))
	case "gzip", "x-gzip":
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body
		}
		reader, err = gzip.NewReader(bytes.NewReader(body))
	case "deflate":
		reader, err = zlib.NewReader(bytes.NewReader(body))
	default:
		return body
	}
	if err != nil {
		return body
	}
	decoded, err := io.ReadAll(io.LimitReader(reader, maxDecodedBytes))
	if err != nil {
		return body
	}
	return decoded
}
