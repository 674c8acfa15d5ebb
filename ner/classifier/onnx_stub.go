//go:build !onnx
// +build !onnx

package classifier

import "fmt"

func newONNX(opts Options) (Classifier, error) {
	return nil, fmt.Errorf("%w: onnx classifier not available: build with -tags onnx and provide %q", ErrUnavailable, opts.ModelPath)
}

// ListExecutionProviders is a stub when the package is built without ONNX support.
func ListExecutionProviders() ([]string, error) {
	return nil, fmt.Errorf("%w: onnx support not built in; rebuild with -tags=onnx to enable", ErrUnavailable)
}
