package tokenizer

import (
	"strings"
	"unicode"
)

// WordPiece is a small greedy longest-match WordPiece encoder over a vocab.
// It is the fallback when the sugarme tokenizer cannot be built and is handy
// in tests. Normalization is limited to optional lower-casing and splitting on
// whitespace and punctuation.
type WordPiece struct {
	vocab     map[string]int
	unkID     int
	clsID     int
	sepID     int
	lowercase bool
	// maxWordRunes bounds the per-word search like BERT's max_input_chars_per_word
	maxWordRunes int
}

// LoadWordPieceFromVocab reads vocab.txt (the line number is the id) or
// vocab.json. A directory is searched for either.
func LoadWordPieceFromVocab(path string, lowercase bool) (*WordPiece, error) {
	path, err := ResolveVocabPath(path)
	if err != nil {
		return nil, err
	}
	vocab, err := LoadVocab(path)
	if err != nil {
		return nil, err
	}
	return NewWordPieceFromMap(vocab, lowercase)
}

// NewWordPiece builds an encoder from tokens in id order.
func NewWordPiece(tokens []string, lowercase bool) (*WordPiece, error) {
	vocab := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		vocab[tok] = i
	}
	return NewWordPieceFromMap(vocab, lowercase)
}

// NewWordPieceFromMap builds an encoder from a token to id mapping.
func NewWordPieceFromMap(vocab map[string]int, lowercase bool) (*WordPiece, error) {
	wp := &WordPiece{vocab: vocab, lowercase: lowercase, maxWordRunes: 100}
	var err error
	if wp.unkID, err = specialID(vocab, "[UNK]"); err != nil {
		return nil, err
	}
	if wp.clsID, err = specialID(vocab, "[CLS]"); err != nil {
		return nil, err
	}
	if wp.sepID, err = specialID(vocab, "[SEP]"); err != nil {
		return nil, err
	}
	return wp, nil
}

// Encode implements Encoder.
func (w *WordPiece) Encode(text string) ([]int, []string, error) {
	if w.lowercase {
		text = strings.ToLower(text)
	}
	ids := []int{w.clsID}
	toks := []string{"[CLS]"}
	for _, word := range splitWords(text) {
		pieces := w.pieces(word)
		for _, p := range pieces {
			ids = append(ids, w.vocab[p])
			toks = append(toks, p)
		}
	}
	ids = append(ids, w.sepID)
	toks = append(toks, "[SEP]")
	return ids, toks, nil
}

// pieces splits one word greedily; an unsplittable word becomes [UNK].
func (w *WordPiece) pieces(word string) []string {
	runes := []rune(word)
	if len(runes) > w.maxWordRunes {
		return []string{"[UNK]"}
	}
	var out []string
	for start := 0; start < len(runes); {
		end := len(runes)
		match := ""
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if _, ok := w.vocab[sub]; ok {
				match = sub
				break
			}
			end--
		}
		if match == "" {
			return []string{"[UNK]"}
		}
		out = append(out, match)
		start = end
	}
	return out
}

// splitWords splits on whitespace and isolates punctuation, as BERT's basic
// pre-tokenizer does.
func splitWords(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}
