package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Metadata is the title and description pulled from a page head.
type Metadata struct {
	Title       string
	Description string
}

func (m Metadata) complete() bool {
	return m.Title != "" && m.Description != ""
}

// ExtractMetadata reads title and description from the document head and
// falls back to a readability pass for whatever is missing.
func ExtractMetadata(doc *goquery.Document, rawHTML, pageURL string) Metadata {
	meta := Metadata{
		Title:       firstNonEmpty(doc.Find("title").First().Text(), metaContent(doc, `meta[property="og:title"]`)),
		Description: firstNonEmpty(metaContent(doc, `meta[name="description"]`), metaContent(doc, `meta[property="og:description"]`)),
	}
	if meta.complete() {
		return meta
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return meta
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), parsed)
	if err != nil {
		return meta
	}
	meta.Title = firstNonEmpty(meta.Title, article.Title)
	meta.Description = firstNonEmpty(meta.Description, article.Excerpt)
	return meta
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return content
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.Join(strings.Fields(v), " "); v != "" {
			return v
		}
	}
	return ""
}
