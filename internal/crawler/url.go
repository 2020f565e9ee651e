package crawler

import (
	"net/url"
	"strings"
)

// URL schemes accepted as crawl input.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
	SchemeRaw   = "raw"
)

// RawPrefix introduces inline HTML passed in place of a URL.
const RawPrefix = "raw:"

// SchemeOf returns the lower-cased scheme of rawURL, or "" when it has none.
// Inline HTML ("raw:<html>") is reported as SchemeRaw without parsing the payload.
func SchemeOf(rawURL string) string {
	trimmed := strings.TrimSpace(rawURL)
	if len(trimmed) >= len(RawPrefix) && strings.EqualFold(trimmed[:len(RawPrefix)], RawPrefix) {
		return SchemeRaw
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// IsWebURL reports whether rawURL is an absolute http(s) URL with a host.
func IsWebURL(rawURL string) bool {
	switch SchemeOf(rawURL) {
	case SchemeHTTP, SchemeHTTPS:
	default:
		return false
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	return err == nil && u.Host != ""
}

// IsSupportedURL mirrors the accepted input forms: http(s), file and raw.
func IsSupportedURL(rawURL string) bool {
	switch SchemeOf(rawURL) {
	case SchemeHTTP, SchemeHTTPS:
		return IsWebURL(rawURL)
	case SchemeFile, SchemeRaw:
		return true
	default:
		return false
	}
}

// HostOf returns the lower-cased hostname, or "unknown".
func HostOf(rawURL string) string {
	if !IsWebURL(rawURL) {
		return "unknown"
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
