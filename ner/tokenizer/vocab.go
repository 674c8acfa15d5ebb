package tokenizer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Vocab file names looked up inside a model directory, in order.
const (
	VocabTxt  = "vocab.txt"
	VocabJSON = "vocab.json"
)

// ResolveVocabPath returns path itself for a file, or the first of vocab.txt
// and vocab.json found when path is a directory.
func ResolveVocabPath(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: vocab file: %v", ErrUnsupported, err)
	}
	if !fi.IsDir() {
		return path, nil
	}
	for _, name := range []string{VocabTxt, VocabJSON} {
		candidate := filepath.Join(path, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no %s or %s in %s", ErrUnsupported, VocabTxt, VocabJSON, path)
}

// LoadVocab reads a token to id mapping. A .json file holds {"token": id}
// as written by the model export step; anything else is read as vocab.txt,
// one token per line with the line index as id.
func LoadVocab(path string) (map[string]int, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return loadVocabJSON(path)
	}
	return loadVocabTxt(path)
}

func loadVocabJSON(path string) (map[string]int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var vocab map[string]int
	if err := json.Unmarshal(b, &vocab); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnsupported, path, err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrUnsupported, path)
	}
	seen := make(map[int]string, len(vocab))
	for tok, id := range vocab {
		if id < 0 {
			return nil, fmt.Errorf("%w: token %q has negative id %d", ErrUnsupported, tok, id)
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: tokens %q and %q share id %d", ErrUnsupported, prev, tok, id)
		}
		seen[id] = tok
	}
	return vocab, nil
}

// loadVocabTxt rejects blank lines before the last token: ids are line
// positions, so skipping one would shift every later id.
func loadVocabTxt(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tokens []string
	blank := -1
	scanner := bufio.NewScanner(f)
	for line := 0; scanner.Scan(); line++ {
		tok := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(tok) == "" {
			if blank < 0 {
				blank = line
			}
			continue
		}
		if blank >= 0 {
			return nil, fmt.Errorf("%w: %s line %d is blank", ErrUnsupported, path, blank+1)
		}
		tokens = append(tokens, tok)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrUnsupported, path)
	}

	vocab := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		if _, dup := vocab[tok]; dup {
			return nil, fmt.Errorf("%w: duplicate token %q at line %d", ErrUnsupported, tok, i+1)
		}
		vocab[tok] = i
	}
	return vocab, nil
}

var errMissingSpecial = errors.New("vocab has no special token")

func specialID(vocab map[string]int, tok string) (int, error) {
	id, ok := vocab[tok]
	if !ok {
		return 0, fmt.Errorf("%w: %w %s", ErrUnsupported, errMissingSpecial, tok)
	}
	return id, nil
}
