package tokenizer

import (
	"encoding/json"
	"os"
	"path/filepath"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/model"
	"github.com/sugarme/tokenizer/model/wordpiece"
	"github.com/sugarme/tokenizer/normalizer"
	"github.com/sugarme/tokenizer/pretokenizer"
	"github.com/sugarme/tokenizer/processor"
)

// SugarWordPiece wraps sugarme/tokenizer WordPiece (BERT-style)
type SugarWordPiece struct {
	t     *tk.Tokenizer
	clsID int
	sepID int
}

// NewSugarWordPiece loads vocab.txt or vocab.json (or a directory holding
// either) and builds a BERT WordPiece tokenizer. Truncation and padding are
// left to Pack.
func NewSugarWordPiece(vocabPath string, lowercase bool) (*SugarWordPiece, error) {
	vocabPath, err := ResolveVocabPath(vocabPath)
	if err != nil {
		return nil, err
	}
	m, err := LoadVocab(vocabPath)
	if err != nil {
		return nil, err
	}
	if _, err := specialID(m, "[UNK]"); err != nil {
		return nil, err
	}

	v := model.Vocab(m)
	wp := wordpiece.NewWordPieceBuilder().Vocab(&v).UnkToken("[UNK]").Build()

	t := tk.NewTokenizer(wp)
	t.WithNormalizer(normalizer.NewBertNormalizer(true, lowercase, true, lowercase))
	t.WithPreTokenizer(pretokenizer.NewBertPreTokenizer())

	clsID, sepID := discoverSpecialIDs(filepath.Dir(vocabPath), m)
	t.WithPostProcessor(processor.NewBertProcessing(
		processor.PostToken{Value: "[SEP]", Id: sepID},
		processor.PostToken{Value: "[CLS]", Id: clsID},
	))
	return &SugarWordPiece{t: t, clsID: clsID, sepID: sepID}, nil
}

// Encode implements Encoder.
func (s *SugarWordPiece) Encode(text string) ([]int, []string, error) {
	enc, err := s.t.Encode(tk.NewSingleEncodeInput(tk.NewInputSequence(text)), true)
	if err != nil {
		return nil, nil, err
	}
	return enc.GetIds(), enc.GetTokens(), nil
}

// SpecialIDs returns the [CLS] and [SEP] ids in use.
func (s *SugarWordPiece) SpecialIDs() (cls, sep int) { return s.clsID, s.sepID }

// discoverSpecialIDs looks for special_tokens.json (written by the model export
// step) in dir, then tokenizer.json, then the loaded vocab. BERT's 101/102 are
// used when nothing matches.
func discoverSpecialIDs(dir string, vocab map[string]int) (clsID, sepID int) {
	if b, err := os.ReadFile(filepath.Join(dir, "special_tokens.json")); err == nil {
		var st struct {
			CLS *int `json:"cls_token_id"`
			SEP *int `json:"sep_token_id"`
		}
		if json.Unmarshal(b, &st) == nil && st.CLS != nil && st.SEP != nil {
			return *st.CLS, *st.SEP
		}
	}

	if b, err := os.ReadFile(filepath.Join(dir, "tokenizer.json")); err == nil {
		var m struct {
			Model struct {
				Vocab json.RawMessage `json:"vocab"`
			} `json:"model"`
			Vocab json.RawMessage `json:"vocab"`
		}
		if json.Unmarshal(b, &m) == nil {
			for _, raw := range []json.RawMessage{m.Model.Vocab, m.Vocab} {
				if c, s, ok := idsFromVocabJSON(raw); ok {
					return c, s
				}
			}
		}
	}

	c, okC := vocab["[CLS]"]
	s, okS := vocab["[SEP]"]
	if okC && okS {
		return c, s
	}
	return 101, 102
}

// idsFromVocabJSON accepts either {"token": id} or ["token", ...] layouts.
func idsFromVocabJSON(raw json.RawMessage) (int, int, bool) {
	if len(raw) == 0 {
		return 0, 0, false
	}
	var asMap map[string]int
	if json.Unmarshal(raw, &asMap) == nil {
		c, okC := asMap["[CLS]"]
		s, okS := asMap["[SEP]"]
		return c, s, okC && okS
	}
	var asList []string
	if json.Unmarshal(raw, &asList) == nil {
		c, s := -1, -1
		for idx, tok := range asList {
			switch tok {
			case "[CLS]":
				c = idx
			case "[SEP]":
				s = idx
			}
		}
		return c, s, c >= 0 && s >= 0
	}
	return 0, 0, false
}
