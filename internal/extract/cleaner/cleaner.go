// Package cleaner strips structural boilerplate from HTML while keeping code samples.
package cleaner

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultTags are removed wherever they appear.
var DefaultTags = []string{
	"script", "style", "noscript", "template", "iframe",
	"nav", "footer", "aside", "form", "dialog",
}

// DefaultTerms are matched as substrings of lower-cased class and id values.
var DefaultTerms = []string{
	"navbar", "navigation", "menu", "breadcrumb", "sidebar", "footer",
	"advert", "ads-", "-ads", "sponsor", "banner", "popup", "modal",
	"cookie", "overlay", "newsletter", "subscribe", "social", "share-",
}

// Cleaner removes deny-listed elements. It is safe for concurrent use.
type Cleaner struct {
	tags  map[string]struct{}
	terms []string
}

// New returns a Cleaner using the default deny-lists.
func New() *Cleaner {
	return NewWithDenyList(DefaultTags, DefaultTerms)
}

// NewWithDenyList returns a Cleaner with custom tag and class/id term lists.
func NewWithDenyList(tags, terms []string) *Cleaner {
	c := &Cleaner{tags: make(map[string]struct{}, len(tags))}
	for _, tag := range tags {
		c.tags[strings.ToLower(strings.TrimSpace(tag))] = struct{}{}
	}
	for _, term := range terms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			c.terms = append(c.terms, term)
		}
	}
	return c
}

// Clean parses rawHTML and returns the document with boilerplate removed.
// Any element that is or contains pre/code survives, even when deny-listed.
func (c *Cleaner) Clean(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	c.prune(doc)
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}

func (c *Cleaner) prune(n *html.Node) {
	for child := n.FirstChild; child != nil; {
		next := child.NextSibling
		switch {
		case child.Type == html.CommentNode:
			n.RemoveChild(child)
		case child.Type == html.ElementNode && c.denied(child) && !ContainsCode(child):
			n.RemoveChild(child)
		default:
			c.prune(child)
		}
		child = next
	}
}

func (c *Cleaner) denied(n *html.Node) bool {
	if _, ok := c.tags[n.Data]; ok {
		return true
	}
	for _, attr := range n.Attr {
		if attr.Namespace != "" || (attr.Key != "class" && attr.Key != "id") {
			continue
		}
		value := strings.ToLower(attr.Val)
		for _, term := range c.terms {
			if strings.Contains(value, term) {
				return true
			}
		}
	}
	return false
}

// ContainsCode reports whether n is, or has a descendant, pre or code element.
func ContainsCode(n *html.Node) bool {
	if n.Type == html.ElementNode && (n.DataAtom == atom.Pre || n.DataAtom == atom.Code) {
		return true
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if ContainsCode(child) {
			return true
		}
	}
	return false
}
