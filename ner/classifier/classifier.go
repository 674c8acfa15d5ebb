package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/biomedical-ner/ner/decode"
)

// ErrUnavailable is returned when the requested backend is not compiled in or
// cannot be initialized.
var ErrUnavailable = errors.New("classifier backend unavailable")

// Classifier scores every position of a packed token sequence. The result has
// shape (1, len(ids), labels). Implementations are treated as deterministic,
// blocking calls.
type Classifier interface {
	Infer(ctx context.Context, ids, mask []int64) (*decode.ScoreTensor, error)
	Close() error
}

// Options configures a model-backed classifier.
type Options struct {
	ModelPath string
	// SeqLen and NumLabels describe the expected output shape (1, SeqLen, NumLabels).
	SeqLen    int
	NumLabels int
	// LibraryPath points at the onnxruntime shared library; empty uses the default lookup.
	LibraryPath string
	// ExecutionProvider is "cpu", "cuda", "tensorrt", "coreml" or "dml".
	ExecutionProvider string
	DeviceID          int
	IntraOpThreads    int
}

// New selects a classifier backend by name. "onnx" (the default) requires the
// binary to be built with -tags onnx.
func New(backend string, opts Options) (Classifier, error) {
	if opts.SeqLen <= 0 || opts.NumLabels <= 0 {
		return nil, fmt.Errorf("%w: invalid output shape (1, %d, %d)", ErrUnavailable, opts.SeqLen, opts.NumLabels)
	}
	opts.ExecutionProvider = strings.ToLower(strings.TrimSpace(opts.ExecutionProvider))
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "onnx", "ort", "onnxruntime":
		return newONNX(opts)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrUnavailable, backend)
	}
}

// Func adapts a function to the Classifier interface.
type Func func(ctx context.Context, ids, mask []int64) (*decode.ScoreTensor, error)

// Infer calls f.
func (f Func) Infer(ctx context.Context, ids, mask []int64) (*decode.ScoreTensor, error) {
	return f(ctx, ids, mask)
}

// Close is a no-op.
func (f Func) Close() error { return nil }

// checkInput validates the packed input before it reaches a runtime.
func checkInput(ids, mask []int64, seqLen int) error {
	if len(ids) != seqLen || len(mask) != seqLen {
		return &decode.ShapeError{What: "classifier input", Want: []int{seqLen, seqLen}, Got: []int{len(ids), len(mask)}}
	}
	return nil
}
