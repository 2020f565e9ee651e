// Package detector decides when a direct-http body is a JavaScript shell that
// should be retried with a browser strategy.
package detector

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

const (
	// DefaultBodyThreshold is the body size under which script-heavy pages
	// are promoted.
	DefaultBodyThreshold = 2048
	// DefaultMinTextChars is the visible text length under which a page that
	// carries SPA markers is treated as a shell.
	DefaultMinTextChars = 200
	// scriptSharePercent of the body spent in <script> marks a small page as a shell.
	scriptSharePercent = 25
)

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("enable javascript"),
}

// Heuristic flags shells from body size, script share, and framework markers.
type Heuristic struct {
	BodyLengthThreshold int
	MinTextChars        int
}

// NewHeuristic returns a detector; threshold <= 0 uses DefaultBodyThreshold.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultBodyThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinTextChars: DefaultMinTextChars}
}

// ShouldPromote reports whether resp looks like a page that only renders in a
// browser. Non-2xx responses are never promoted.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	m := measure(body)
	if len(body) < h.BodyLengthThreshold && m.scriptBytes*100 >= len(body)*scriptSharePercent {
		return true
	}
	if m.textRunes >= h.MinTextChars {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range spaMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

type pageMeasure struct {
	// textRunes counts visible text outside script, style, noscript, and template.
	textRunes int
	// scriptBytes counts raw bytes of script elements, tags included.
	scriptBytes int
}

func measure(body []byte) pageMeasure {
	var (
		m      pageMeasure
		hidden int
		script bool
	)
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return m
		}
		raw := len(z.Raw())
		name, _ := z.TagName()
		tag := atom.Lookup(name)
		switch tt {
		case html.StartTagToken:
			if isHidden(tag) {
				hidden++
			}
			if tag == atom.Script {
				script = true
				m.scriptBytes += raw
			}
		case html.EndTagToken:
			if isHidden(tag) && hidden > 0 {
				hidden--
			}
			if tag == atom.Script {
				script = false
				m.scriptBytes += raw
			}
		case html.TextToken:
			if script {
				m.scriptBytes += raw
			}
			if hidden == 0 {
				m.textRunes += utf8.RuneCount(bytes.TrimSpace(z.Text()))
			}
		}
	}
}

func isHidden(tag atom.Atom) bool {
	switch tag {
	case atom.Script, atom.Style, atom.Noscript, atom.Template:
		return true
	}
	return false
}
