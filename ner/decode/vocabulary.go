package decode

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// OutsideTag is the BIO tag for tokens outside any entity. It must sit at
// class index 0.
const OutsideTag = "O"

// Vocabulary maps class indices to BIO tag strings. It is immutable after
// construction.
type Vocabulary struct {
	labels []string
}

// labelsFile mirrors labels.json as written by the model export step.
type labelsFile struct {
	ID2Label  map[string]string `json:"id2label"`
	Label2ID  map[string]int    `json:"label2id"`
	NumLabels int               `json:"num_labels"`
}

// NewVocabulary validates labels against the expected class count. An
// expected count <= 0 accepts any non-empty list.
func NewVocabulary(labels []string, expected int) (*Vocabulary, error) {
	if len(labels) == 0 {
		return nil, vocabError("no labels")
	}
	if expected > 0 && len(labels) != expected {
		return nil, vocabError("got %d labels, model expects %d", len(labels), expected)
	}
	if labels[0] != OutsideTag {
		return nil, vocabError("class 0 is %q, want %q", labels[0], OutsideTag)
	}
	for i, l := range labels {
		if l == "" {
			return nil, vocabError("empty label at class %d", i)
		}
	}
	out := make([]string, len(labels))
	copy(out, labels)
	return &Vocabulary{labels: out}, nil
}

// LoadVocabulary reads a labels.json file ({"id2label": {"0": "O", ...},
// "num_labels": N}) and validates it against expected.
func LoadVocabulary(path string, expected int) (*Vocabulary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labels file %s: %w", path, err)
	}
	return ParseVocabulary(b, expected)
}

// ParseVocabulary decodes the labels.json layout. Keys of id2label must be the
// contiguous integers 0..n-1.
func ParseVocabulary(b []byte, expected int) (*Vocabulary, error) {
	var lf labelsFile
	if err := json.Unmarshal(b, &lf); err != nil {
		return nil, vocabError("decode: %v", err)
	}
	n := len(lf.ID2Label)
	if lf.NumLabels != 0 && lf.NumLabels != n {
		return nil, vocabError("num_labels is %d but id2label has %d entries", lf.NumLabels, n)
	}
	labels := make([]string, n)
	seen := make([]bool, n)
	for k, v := range lf.ID2Label {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, vocabError("non-integer class id %q", k)
		}
		if id < 0 || id >= n || seen[id] {
			return nil, vocabError("class ids are not contiguous (saw %d with %d labels)", id, n)
		}
		seen[id] = true
		labels[id] = v
	}
	return NewVocabulary(labels, expected)
}

// Len returns the number of classes.
func (v *Vocabulary) Len() int { return len(v.labels) }

// Tag returns the tag for a class index.
func (v *Vocabulary) Tag(class int) (string, bool) {
	if class < 0 || class >= len(v.labels) {
		return "", false
	}
	return v.labels[class], true
}

// Labels returns a copy of the tags in class order.
func (v *Vocabulary) Labels() []string {
	out := make([]string, len(v.labels))
	copy(out, v.labels)
	return out
}
