package filter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

const article = `<html><body>` +
	`<p>Go is an open source programming language that makes it simple to build secure, scalable systems.</p>` +
	`<div><a href="/a">A</a><a href="/b">B</a></div>` +
	`</body></html>`

func TestFixedThresholdPrunesLinkFarms(t *testing.T) {
	t.Parallel()

	out, err := New(Fixed{Threshold: 0.3}, Options{}).Filter(article)
	require.NoError(t, err)
	require.Contains(t, out, "open source programming language")
	require.NotContains(t, out, `href="/a"`)
}

func TestLowThresholdKeepsEverything(t *testing.T) {
	t.Parallel()

	out, err := New(Fixed{Threshold: 0}, Options{}).Filter(article)
	require.NoError(t, err)
	require.Contains(t, out, `href="/a"`)
}

func TestNegativeClassLowersScore(t *testing.T) {
	t.Parallel()

	in := `<html><body><p>Plenty of readable prose lives in this paragraph for the scorer.</p>` +
		`<div class="comment-links"><a href="/a">A</a><a href="/b">B</a></div></body></html>`
	out, err := New(Fixed{Threshold: crawler.DefaultFilterThreshold}, Options{}).Filter(in)
	require.NoError(t, err)
	require.Contains(t, out, "readable prose")
	require.NotContains(t, out, "comment-links")
}

func TestKeepCodeProtectsCodeBlocks(t *testing.T) {
	t.Parallel()

	in := `<html><body><p>Some words that describe the example below in detail.</p>` +
		`<div class="share"><a href="/a">A</a><code>x</code></div></body></html>`

	pruned, err := New(Fixed{Threshold: 0.3}, Options{}).Filter(in)
	require.NoError(t, err)
	require.NotContains(t, pruned, "<code>x</code>")

	kept, err := New(Fixed{Threshold: 0.3}, Options{KeepCode: true}).Filter(in)
	require.NoError(t, err)
	require.Contains(t, kept, "<code>x</code>")
}

func TestMinWords(t *testing.T) {
	t.Parallel()

	in := `<html><body><p>short</p><p>this paragraph has enough words to pass</p></body></html>`
	out, err := New(Fixed{Threshold: 0.2}, Options{MinWords: 3}).Filter(in)
	require.NoError(t, err)
	require.NotContains(t, out, "<p>short</p>")
	require.Contains(t, out, "enough words")
}

func TestEverythingPrunedYieldsEmpty(t *testing.T) {
	t.Parallel()

	out, err := New(Fixed{Threshold: 5}, Options{}).Filter(article)
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = New(nil, Options{}).Filter("")
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestDynamicStrategy(t *testing.T) {
	t.Parallel()

	paragraph := Block{Tag: "p", Score: 0.17, TextLen: 50, TagLen: 60}
	require.False(t, Fixed{Threshold: 0.2}.Keep(paragraph))
	require.True(t, Dynamic{Base: 0.2}.Keep(paragraph))

	links := Block{Tag: "div", Score: 0.22, TextLen: 10, TagLen: 100, LinkTextLen: 9}
	require.True(t, Fixed{Threshold: 0.2}.Keep(links))
	require.False(t, Dynamic{Base: 0.2}.Keep(links))
}

func TestNewStrategy(t *testing.T) {
	t.Parallel()

	s, err := NewStrategy(crawler.FilterFixed, 0.2)
	require.NoError(t, err)
	require.Equal(t, Fixed{Threshold: 0.2}, s)

	s, err = NewStrategy(crawler.FilterDynamic, 0.3)
	require.NoError(t, err)
	require.Equal(t, Dynamic{Base: 0.3}, s)

	_, err = NewStrategy("bm25", 0.3)
	var cfgErr *crawler.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
