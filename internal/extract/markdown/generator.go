// Package markdown converts filtered HTML into LLM-friendly markdown.
package markdown

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

// WrapWidth is the column limit applied when line wrapping is enabled.
const WrapWidth = 80

var (
	codeLineAnchor = regexp.MustCompile(`\\?\[\\?\]\(#(?:\\?_){2}codelineno-\d+-\d+\)`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
)

// Result holds markdown rendered from the filtered and the unfiltered HTML.
type Result struct {
	Fit string
	Raw string
}

// Preferred returns Fit when it has content, else Raw, with the matching kind.
func (r Result) Preferred() (string, crawler.ContentKind) {
	if strings.TrimSpace(r.Fit) != "" {
		return r.Fit, crawler.ContentFitMarkdown
	}
	return r.Raw, crawler.ContentRawMarkdown
}

// Generator renders markdown. It holds no state and is safe for concurrent use.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// Generate converts both HTML inputs using the same options.
func (g *Generator) Generate(filteredHTML, rawHTML, pageURL string, opts crawler.MarkdownOptions) (Result, error) {
	conv := newConverter(pageURL, opts)
	fit, err := convert(conv, filteredHTML, opts)
	if err != nil {
		return Result{}, fmt.Errorf("convert filtered html: %w", err)
	}
	raw, err := convert(conv, rawHTML, opts)
	if err != nil {
		return Result{}, fmt.Errorf("convert raw html: %w", err)
	}
	return Result{Fit: fit, Raw: raw}, nil
}

func convert(conv *md.Converter, html string, opts crawler.MarkdownOptions) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}
	out, err := conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("html to markdown: %w", err)
	}
	return Sanitize(out, opts.WrapLines), nil
}

func newConverter(pageURL string, opts crawler.MarkdownOptions) *md.Converter {
	options := &md.Options{
		HeadingStyle:     "atx",
		BulletListMarker: "-",
		CodeBlockStyle:   "indented",
		Fence:            "```",
		EscapeMode:       "disabled",
	}
	if opts.MarkCodeBlocks {
		options.CodeBlockStyle = "fenced"
	}
	if opts.EscapeHTML {
		options.EscapeMode = "basic"
	}
	conv := md.NewConverter(hostOf(pageURL), true, options)
	conv.Use(plugin.GitHubFlavored())
	conv.AddRules(md.Rule{
		Filter: []string{"a"},
		Replacement: func(content string, selec *goquery.Selection, _ *md.Options) *string {
			href, _ := selec.Attr("href")
			switch {
			case !opts.PreserveLinks:
				return md.String(content)
			case opts.SkipInternalLinks && strings.HasPrefix(strings.TrimSpace(href), "#"):
				return md.String(content)
			default:
				return nil
			}
		},
	})
	if !opts.MarkCodeBlocks {
		conv.AddRules(md.Rule{
			Filter: []string{"pre"},
			Replacement: func(_ string, selec *goquery.Selection, _ *md.Options) *string {
				return md.String("\n\n" + indentCode(selec.Text()) + "\n\n")
			},
		})
	}
	if opts.PreserveSupSub {
		conv.AddRules(md.Rule{
			Filter: []string{"sup", "sub"},
			Replacement: func(content string, selec *goquery.Selection, _ *md.Options) *string {
				tag := goquery.NodeName(selec)
				return md.String("<" + tag + ">" + content + "</" + tag + ">")
			},
		})
	}
	return conv
}

func indentCode(code string) string {
	lines := strings.Split(strings.TrimRight(code, "\n"), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = "    " + line
		}
	}
	return strings.Join(lines, "\n")
}

// Sanitize strips line-number anchors and NUL bytes, collapses blank runs,
// and optionally wraps prose lines.
func Sanitize(text string, wrap bool) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = codeLineAnchor.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if wrap {
		text = wrapLines(text, WrapWidth)
	}
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func hostOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.Host
}
