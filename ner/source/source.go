package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Source yields the ordered transcripts produced by an upstream scanner.
type Source interface {
	Transcripts(ctx context.Context) ([]string, error)
}

// Static is a fixed list of transcripts.
type Static []string

func (s Static) Transcripts(context.Context) ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

// Reader reads one transcript per non-blank line.
type Reader struct {
	R io.Reader
}

func (r Reader) Transcripts(ctx context.Context) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r.R)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcripts: %w", err)
	}
	return out, nil
}
