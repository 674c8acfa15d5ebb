package tokenizer

import (
	"errors"
	"fmt"
	"strings"
)

// PadID is the id written into padding positions.
const PadID = 0

// PadToken is the token text paired with padding positions.
const PadToken = "[PAD]"

var (
	// ErrEmptyText is returned when there is nothing to tokenize. Callers are
	// expected to short-circuit before reaching the adapter.
	ErrEmptyText = errors.New("empty input text")

	// ErrUnsupported indicates the tokenizer could not be initialized
	ErrUnsupported = fmt.Errorf("unsupported tokenizer configuration")
)

// Encoder converts raw text into subword ids and their token strings,
// including any special tokens the model expects ([CLS] ... [SEP]).
type Encoder interface {
	Encode(text string) (ids []int, tokens []string, err error)
}

// TokenSequence is a fixed-length, right-padded model input.
type TokenSequence struct {
	IDs    []int64
	Mask   []int64
	Tokens []string
	// Count is the number of real (unpadded) positions.
	Count int
}

// Len returns the fixed sequence length.
func (s TokenSequence) Len() int { return len(s.IDs) }

// Pack cuts ids/tokens at maxLength and right-pads them with PadID/PadToken.
// The mask is 1 for the first min(len(ids), maxLength) positions, else 0.
// tokens may be shorter than ids; missing entries are left empty.
func Pack(ids []int, tokens []string, maxLength int) TokenSequence {
	if maxLength <= 0 {
		return TokenSequence{IDs: []int64{}, Mask: []int64{}, Tokens: []string{}}
	}
	n := min(len(ids), maxLength)

	seq := TokenSequence{
		IDs:    make([]int64, maxLength),
		Mask:   make([]int64, maxLength),
		Tokens: make([]string, maxLength),
		Count:  n,
	}
	for i := 0; i < n; i++ {
		seq.IDs[i] = int64(ids[i])
		seq.Mask[i] = 1
		if i < len(tokens) {
			seq.Tokens[i] = tokens[i]
		}
	}
	for i := n; i < maxLength; i++ {
		seq.IDs[i] = PadID
		seq.Tokens[i] = PadToken
	}
	return seq
}

// Adapter packs text into fixed-length sequences using an Encoder.
type Adapter struct {
	Encoder   Encoder
	MaxLength int
}

// NewAdapter returns an adapter packing to maxLength positions.
func NewAdapter(enc Encoder, maxLength int) (*Adapter, error) {
	if enc == nil {
		return nil, fmt.Errorf("%w: nil encoder", ErrUnsupported)
	}
	if maxLength <= 0 {
		return nil, fmt.Errorf("%w: max length %d", ErrUnsupported, maxLength)
	}
	return &Adapter{Encoder: enc, MaxLength: maxLength}, nil
}

// Pack encodes text and packs it. Empty text yields ErrEmptyText.
func (a *Adapter) Pack(text string) (TokenSequence, error) {
	if strings.TrimSpace(text) == "" {
		return TokenSequence{}, ErrEmptyText
	}
	ids, tokens, err := a.Encoder.Encode(text)
	if err != nil {
		return TokenSequence{}, fmt.Errorf("encode text: %w", err)
	}
	return Pack(ids, tokens, a.MaxLength), nil
}
