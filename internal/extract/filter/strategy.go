package filter

import (
	"fmt"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

// Block carries the metrics of one scored element.
type Block struct {
	Tag         string
	Score       float64
	TextLen     int
	TagLen      int
	LinkTextLen int
}

// TextRatio is visible text length over inner markup length.
func (b Block) TextRatio() float64 {
	if b.TagLen == 0 {
		return 0
	}
	return float64(b.TextLen) / float64(b.TagLen)
}

// LinkRatio is link text length over visible text length.
func (b Block) LinkRatio() float64 {
	if b.TextLen == 0 {
		return 1
	}
	return float64(b.LinkTextLen) / float64(b.TextLen)
}

// Strategy decides whether a scored block survives pruning.
type Strategy interface {
	Keep(b Block) bool
}

// Fixed keeps blocks scoring at or above a constant threshold.
type Fixed struct {
	Threshold float64
}

// Keep implements Strategy.
func (f Fixed) Keep(b Block) bool {
	return b.Score >= f.Threshold
}

var tagImportance = map[string]float64{
	"article": 1.5,
	"main":    1.4,
	"section": 1.3,
	"p":       1.2,
	"h1":      1.4,
	"h2":      1.3,
	"h3":      1.2,
	"div":     0.7,
	"span":    0.6,
}

// Dynamic relaxes the threshold for important, text-heavy blocks and tightens
// it for link-heavy ones.
type Dynamic struct {
	Base float64
}

// Keep implements Strategy.
func (d Dynamic) Keep(b Block) bool {
	threshold := d.Base
	importance, ok := tagImportance[b.Tag]
	if !ok {
		importance = 0.7
	}
	if importance > 1 {
		threshold *= 0.8
	}
	if b.TextRatio() > 0.4 {
		threshold *= 0.9
	}
	if b.LinkRatio() > 0.6 {
		threshold *= 1.2
	}
	return b.Score >= threshold
}

// NewStrategy builds a Strategy from its configured kind.
func NewStrategy(kind string, threshold float64) (Strategy, error) {
	switch kind {
	case "", crawler.FilterFixed:
		return Fixed{Threshold: threshold}, nil
	case crawler.FilterDynamic:
		return Dynamic{Base: threshold}, nil
	default:
		return nil, &crawler.ConfigurationError{Field: "extraction.filter.type", Reason: fmt.Sprintf("unknown filter %q", kind)}
	}
}
