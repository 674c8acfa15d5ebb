package decode

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Special markers emitted by BERT-style tokenizers. They never carry a label.
const (
	TokenCLS = "[CLS]"
	TokenSEP = "[SEP]"
	TokenPAD = "[PAD]"
)

// TokenLabel is one accepted per-token prediction.
type TokenLabel struct {
	Position int     // index in the packed sequence
	Text     string  // token text as produced by the tokenizer (may carry "##")
	Tag      string  // BIO tag, e.g. "B-Medication"
	Class    int     // winning class index
	Score    float64 // softmax probability of the winning class
}

// IsSpecialToken reports whether tok is one of [CLS], [SEP], [PAD].
func IsSpecialToken(tok string) bool {
	switch tok {
	case TokenCLS, TokenSEP, TokenPAD:
		return true
	}
	return false
}

// Softmax returns the probability distribution for scores. The maximum is
// subtracted before exponentiating so large logits cannot overflow.
func Softmax(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	out := make([]float64, len(scores))
	copy(out, scores)
	floats.AddConst(-floats.Max(out), out)
	for i, v := range out {
		out[i] = math.Exp(v)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// Argmax returns the index and value of the largest probability. Ties resolve
// to the lowest index.
func Argmax(p []float64) (int, float64) {
	if len(p) == 0 {
		return -1, 0
	}
	i := floats.MaxIdx(p)
	return i, p[i]
}

// DecodeLabels turns the classifier scores into per-token labels. tokens must
// hold one entry per sequence position and scores must have shape
// (1, len(tokens), vocab.Len()). Tokens whose winning class is O, or whose
// winning probability is below threshold, are dropped; the remaining labels
// keep sequence order. A NaN or infinite score at a non-special position
// fails the whole call with ErrNonFiniteScore.
func DecodeLabels(tokens []string, scores *ScoreTensor, vocab *Vocabulary, threshold float64) ([]TokenLabel, error) {
	if scores == nil || vocab == nil {
		return nil, fmt.Errorf("%w: nil scores or vocabulary", ErrShapeMismatch)
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	if err := scores.Expect(1, len(tokens), vocab.Len()); err != nil {
		return nil, err
	}

	labels := make([]TokenLabel, 0, 16)
	for i, tok := range tokens {
		if IsSpecialToken(tok) {
			continue
		}
		row, err := scores.Row(0, i)
		if err != nil {
			return nil, err
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: position %d (%s)", ErrNonFiniteScore, i, tok)
			}
		}
		class, p := Argmax(Softmax(row))
		if class == 0 || p < threshold {
			continue
		}
		tag, _ := vocab.Tag(class)
		labels = append(labels, TokenLabel{
			Position: i,
			Text:     tok,
			Tag:      tag,
			Class:    class,
			Score:    p,
		})
	}
	return labels, nil
}
