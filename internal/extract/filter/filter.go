// Package filter prunes low-density blocks from cleaned HTML.
package filter

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/docucrawl/internal/extract/cleaner"
)

// Options tune scoring independent of the keep/prune Strategy.
type Options struct {
	// MinWords scores blocks with fewer words as -1. Zero disables the check.
	MinWords int
	// KeepCode exempts pre/code-bearing blocks from pruning.
	KeepCode bool
}

const (
	weightTextDensity = 0.4
	weightLinkDensity = 0.2
	weightTag         = 0.2
	weightClassID     = 0.1
	weightTextLength  = 0.1
)

var tagWeights = map[string]float64{
	"div":     0.5,
	"p":       1.0,
	"article": 1.5,
	"section": 1.0,
	"span":    0.3,
	"li":      0.5,
	"ul":      0.5,
	"ol":      0.5,
	"h1":      1.2,
	"h2":      1.1,
	"h3":      1.0,
	"h4":      0.9,
	"h5":      0.8,
	"h6":      0.7,
}

var negativeClassID = regexp.MustCompile(`nav|footer|header|sidebar|ads|comment|promo|advert|social|share`)

// Filter scores elements top-down from body and removes those its Strategy rejects.
type Filter struct {
	strategy Strategy
	opts     Options
}

// New returns a Filter. A nil strategy defaults to Fixed at the default threshold.
func New(strategy Strategy, opts Options) *Filter {
	if strategy == nil {
		strategy = Fixed{Threshold: 0.2}
	}
	return &Filter{strategy: strategy, opts: opts}
}

// Filter returns the inner HTML of the pruned body, or "" when nothing survives.
func (f *Filter) Filter(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	body := findBody(doc)
	if body == nil {
		return "", nil
	}
	if !f.keep(body) {
		return "", nil
	}
	f.prune(body)
	var buf bytes.Buffer
	for child := body.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&buf, child); err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

func (f *Filter) prune(n *html.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		if child.Type == html.ElementNode {
			if f.keep(child) {
				f.prune(child)
			} else {
				n.RemoveChild(child)
			}
		}
		child = next
	}
}

func (f *Filter) keep(n *html.Node) bool {
	if f.opts.KeepCode && cleaner.ContainsCode(n) {
		return true
	}
	return f.strategy.Keep(f.score(n))
}

func (f *Filter) score(n *html.Node) Block {
	text := strings.TrimSpace(textContent(n))
	b := Block{
		Tag:         n.Data,
		TextLen:     utf8.RuneCountInString(text),
		TagLen:      innerLength(n),
		LinkTextLen: directLinkTextLen(n),
	}
	if f.opts.MinWords > 0 && strings.Count(text, " ")+1 < f.opts.MinWords {
		b.Score = -1
		return b
	}
	textDensity := b.TextRatio()
	linkDensity := 1.0
	if b.TextLen > 0 {
		linkDensity = 1 - float64(b.LinkTextLen)/float64(b.TextLen)
	}
	tagWeight, ok := tagWeights[n.Data]
	if !ok {
		tagWeight = 0.5
	}
	classID := 0.0
	for _, attr := range n.Attr {
		if (attr.Key == "class" || attr.Key == "id") && negativeClassID.MatchString(strings.ToLower(attr.Val)) {
			classID = -0.5
			break
		}
	}
	b.Score = weightTextDensity*textDensity +
		weightLinkDensity*linkDensity +
		weightTag*tagWeight +
		weightClassID*classID +
		weightTextLength*math.Log(float64(b.TextLen)+1)
	return b
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if body := findBody(child); body != nil {
			return body
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		sb.WriteString(textContent(child))
	}
	return sb.String()
}

func directLinkTextLen(n *html.Node) int {
	total := 0
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.DataAtom == atom.A {
			total += utf8.RuneCountInString(strings.TrimSpace(textContent(child)))
		}
	}
	return total
}

type countingWriter struct {
	n int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += len(p)
	return len(p), nil
}

func innerLength(n *html.Node) int {
	w := &countingWriter{}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(w, child); err != nil {
			return w.n
		}
	}
	return w.n
}
