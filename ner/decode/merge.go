package decode

import "strings"

// ContinuationMarker prefixes WordPiece tokens that continue the previous word.
const ContinuationMarker = "##"

// EntitySpan is a merged run of same-type tokens.
type EntitySpan struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"` // lowest member token score
}

// MergeOptions tunes span merging.
type MergeOptions struct {
	// StrictBIO starts a new span on every B- tag that begins a word, even
	// when the running span has the same type. "##" pieces always attach to the
	// running span. The default merges on type alone.
	StrictBIO bool
}

// EntityType strips the B-/I- prefix from a tag: everything after the first
// '-', or the whole tag when there is none.
func EntityType(tag string) string {
	if _, after, ok := strings.Cut(tag, "-"); ok {
		return after
	}
	return tag
}

// MergeSpans collapses consecutive labels of the same entity type into spans.
func MergeSpans(labels []TokenLabel) []EntitySpan {
	return MergeSpansWith(labels, MergeOptions{})
}

// MergeSpansWith is MergeSpans with explicit options.
func MergeSpansWith(labels []TokenLabel, opts MergeOptions) []EntitySpan {
	spans := make([]EntitySpan, 0, len(labels))
	for _, l := range labels {
		spans = step(spans, l, opts)
	}
	return spans
}

// step folds one label into the span list: it either extends the last span or
// appends a new one.
func step(spans []EntitySpan, l TokenLabel, opts MergeOptions) []EntitySpan {
	typ := EntityType(l.Tag)
	piece, continued := strings.CutPrefix(l.Text, ContinuationMarker)

	n := len(spans)
	if n == 0 || spans[n-1].Type != typ || (opts.StrictBIO && !continued && strings.HasPrefix(l.Tag, "B-")) {
		return append(spans, EntitySpan{Text: piece, Type: typ, Confidence: l.Score})
	}

	last := spans[n-1]
	if continued {
		last.Text += piece
	} else {
		last.Text += " " + piece
	}
	if l.Score < last.Confidence {
		last.Confidence = l.Score
	}
	spans[n-1] = last
	return spans
}
