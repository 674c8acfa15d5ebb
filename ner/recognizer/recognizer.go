package recognizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ZanzyTHEbar/biomedical-ner/ner/classifier"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/decode"
	"github.com/ZanzyTHEbar/biomedical-ner/ner/tokenizer"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// Options wires the pipeline stages together.
type Options struct {
	Tokenizer  *tokenizer.Adapter
	Classifier classifier.Classifier
	Vocabulary *decode.Vocabulary
	// Threshold is the minimum winning-class probability, in [0, 1].
	Threshold float64
	Merge     decode.MergeOptions
	// Workers bounds RecognizeBatch concurrency; <= 0 means 1.
	Workers int
	Logger  zerolog.Logger
}

// Recognizer runs tokenize → classify → decode → merge for one text at a time.
type Recognizer struct {
	tok       *tokenizer.Adapter
	clf       classifier.Classifier
	vocab     *decode.Vocabulary
	threshold float64
	merge     decode.MergeOptions
	workers   int
	log       zerolog.Logger
}

// New validates opts and builds a Recognizer.
func New(opts Options) (*Recognizer, error) {
	switch {
	case opts.Tokenizer == nil:
		return nil, errors.New("recognizer: tokenizer is required")
	case opts.Classifier == nil:
		return nil, errors.New("recognizer: classifier is required")
	case opts.Vocabulary == nil:
		return nil, errors.New("recognizer: vocabulary is required")
	}
	if math.IsNaN(opts.Threshold) || opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, fmt.Errorf("recognizer: %w: %v", decode.ErrInvalidThreshold, opts.Threshold)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Recognizer{
		tok:       opts.Tokenizer,
		clf:       opts.Classifier,
		vocab:     opts.Vocabulary,
		threshold: opts.Threshold,
		merge:     opts.Merge,
		workers:   workers,
		log:       opts.Logger.With().Str("component", "recognizer").Logger(),
	}, nil
}

// JoinTranscripts joins upstream transcripts with single spaces. Blank
// transcripts are skipped.
func JoinTranscripts(transcripts []string) string {
	parts := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Recognize returns the entity spans found in text. Empty text returns an
// empty result without invoking the classifier.
func (r *Recognizer) Recognize(ctx context.Context, text string) ([]decode.EntitySpan, error) {
	if strings.TrimSpace(text) == "" {
		return []decode.EntitySpan{}, nil
	}

	seq, err := r.tok.Pack(text)
	if err != nil {
		return nil, fmt.Errorf("pack input: %w", err)
	}

	scores, err := r.clf.Infer(ctx, seq.IDs, seq.Mask)
	if err != nil {
		return nil, fmt.Errorf("classifier inference: %w", err)
	}

	labels, err := decode.DecodeLabels(seq.Tokens, scores, r.vocab, r.threshold)
	if err != nil {
		return nil, fmt.Errorf("decode labels: %w", err)
	}

	spans := decode.MergeSpansWith(labels, r.merge)
	r.log.Debug().
		Int("tokens", seq.Count).
		Int("labels", len(labels)).
		Int("spans", len(spans)).
		Msg("recognized entities")
	return spans, nil
}

// RecognizeTranscripts joins transcripts and recognizes the result.
func (r *Recognizer) RecognizeTranscripts(ctx context.Context, transcripts []string) ([]decode.EntitySpan, error) {
	return r.Recognize(ctx, JoinTranscripts(transcripts))
}

// RecognizeBatch recognizes independent texts on a bounded worker pool.
// Results keep input order. The first error cancels the remaining work.
func (r *Recognizer) RecognizeBatch(ctx context.Context, texts []string) ([][]decode.EntitySpan, error) {
	out := make([][]decode.EntitySpan, len(texts))
	p := pool.New().WithMaxGoroutines(r.workers).WithContext(ctx).WithCancelOnError()
	for i, text := range texts {
		i, text := i, text
		p.Go(func(ctx context.Context) error {
			spans, err := r.Recognize(ctx, text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			out[i] = spans
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
