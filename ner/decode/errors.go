package decode

import (
	"errors"
	"fmt"
)

// Common error types used across the decoding stages
var (
	ErrShapeMismatch     = errors.New("score tensor shape mismatch")
	ErrInvalidThreshold  = errors.New("confidence threshold must be within [0, 1]")
	ErrInvalidVocabulary = errors.New("invalid label vocabulary")
	ErrOutOfRange        = errors.New("tensor index out of range")
	ErrNonFiniteScore    = errors.New("classifier score is NaN or infinite")
)

// ShapeError reports a tensor whose shape disagrees with the token sequence or
// the label vocabulary. It indicates a mismatched model/tokenizer pairing and
// is not worth retrying.
type ShapeError struct {
	What string
	Want []int
	Got  []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s: want %v, got %v", ErrShapeMismatch, e.What, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error { return ErrShapeMismatch }

func vocabError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidVocabulary, fmt.Sprintf(format, args...))
}
