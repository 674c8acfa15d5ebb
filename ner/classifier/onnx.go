//go:build onnx
// +build onnx

package classifier

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/biomedical-ner/ner/decode"

	ort "github.com/yalue/onnxruntime_go"
)

// onnxClassifier runs a token-classification model exported to ONNX
// (inputs input_ids/attention_mask, output logits).
type onnxClassifier struct {
	opts        Options
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	inputKinds  []string // "ids", "mask" or "zeros" per input
	int32Inputs bool
	outputNames []string
}

func newONNX(opts Options) (Classifier, error) {
	if opts.ModelPath == "" {
		return nil, fmt.Errorf("%w: onnx model path is required", ErrUnavailable)
	}
	return &onnxClassifier{opts: opts}, nil
}

func (c *onnxClassifier) ensureSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil
	}
	if !ort.IsInitialized() {
		if c.opts.LibraryPath != "" {
			ort.SetSharedLibraryPath(c.opts.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	// Probe IO
	ins, outs, err := ort.GetInputOutputInfo(c.opts.ModelPath)
	if err != nil {
		return fmt.Errorf("get IO info: %w", err)
	}
	var inputNames, inputKinds []string
	for _, ii := range ins {
		n := strings.ToLower(ii.Name)
		switch {
		case strings.Contains(n, "input_ids") || n == "ids":
			inputKinds = append(inputKinds, "ids")
		case strings.Contains(n, "attention_mask") || n == "mask":
			inputKinds = append(inputKinds, "mask")
		case strings.Contains(n, "token_type"):
			inputKinds = append(inputKinds, "zeros")
		default:
			continue
		}
		inputNames = append(inputNames, ii.Name)
		if ii.DataType == ort.TensorElementDataTypeInt32 {
			c.int32Inputs = true
		}
	}
	if len(inputNames) == 0 {
		return fmt.Errorf("could not determine ONNX input names")
	}
	// Prefer the "logits" output, else the first float output
	var outputNames []string
	for _, oi := range outs {
		if oi.DataType == ort.TensorElementDataTypeFloat && strings.EqualFold(oi.Name, "logits") {
			outputNames = []string{oi.Name}
			break
		}
	}
	if len(outputNames) == 0 {
		for _, oi := range outs {
			if oi.DataType == ort.TensorElementDataTypeFloat {
				outputNames = append(outputNames, oi.Name)
				break
			}
		}
	}
	if len(outputNames) == 0 {
		return fmt.Errorf("could not determine ONNX output name")
	}

	opts, err := c.sessionOptions()
	if err != nil {
		return err
	}
	s, err := ort.NewDynamicAdvancedSession(c.opts.ModelPath, inputNames, outputNames, opts)
	if opts != nil {
		_ = opts.Destroy()
	}
	if err != nil {
		return fmt.Errorf("create onnx session: %w", err)
	}
	c.session = s
	c.inputNames = inputNames
	c.inputKinds = inputKinds
	c.outputNames = outputNames
	return nil
}

// sessionOptions builds options for the requested execution provider. A nil
// result means default CPU options.
func (c *onnxClassifier) sessionOptions() (*ort.SessionOptions, error) {
	ep := c.opts.ExecutionProvider
	if (ep == "" || ep == "cpu") && c.opts.IntraOpThreads <= 0 {
		return nil, nil
	}
	o, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	_ = o.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)
	_ = o.SetIntraOpNumThreads(max(c.opts.IntraOpThreads, 0))
	_ = o.SetInterOpNumThreads(0)
	switch ep {
	case "cuda":
		if cu, e := ort.NewCUDAProviderOptions(); e == nil {
			_ = o.AppendExecutionProviderCUDA(cu)
			_ = cu.Destroy()
		}
	case "tensorrt":
		if trt, e := ort.NewTensorRTProviderOptions(); e == nil {
			_ = o.AppendExecutionProviderTensorRT(trt)
			_ = trt.Destroy()
		}
	case "coreml":
		_ = o.AppendExecutionProviderCoreMLV2(map[string]string{})
	case "dml":
		_ = o.AppendExecutionProviderDirectML(c.opts.DeviceID)
	}
	return o, nil
}

func (c *onnxClassifier) Infer(ctx context.Context, ids, mask []int64) (*decode.ScoreTensor, error) {
	if err := checkInput(ids, mask, c.opts.SeqLen); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.ensureSession(); err != nil {
		return nil, err
	}

	shape := ort.NewShape(1, int64(len(ids)))
	inVals := make([]ort.Value, len(c.inputNames))
	for i, kind := range c.inputKinds {
		var src []int64
		switch kind {
		case "ids":
			src = ids
		case "mask":
			src = mask
		default:
			src = make([]int64, len(ids))
		}
		v, err := c.newInputTensor(shape, src)
		if err != nil {
			return nil, fmt.Errorf("%s tensor: %w", c.inputNames[i], err)
		}
		defer v.Destroy()
		inVals[i] = v
	}

	outs := make([]ort.Value, len(c.outputNames))
	if err := c.session.Run(inVals, outs); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	defer func() {
		for _, v := range outs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	t, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outs[0])
	}
	data := make([]float32, len(t.GetData()))
	copy(data, t.GetData())
	scores, err := decode.NewScoreTensorFromShape(t.GetShape(), data)
	if err != nil {
		return nil, err
	}
	if err := scores.Expect(1, c.opts.SeqLen, c.opts.NumLabels); err != nil {
		return nil, err
	}
	return scores, nil
}

func (c *onnxClassifier) newInputTensor(shape ort.Shape, src []int64) (ort.Value, error) {
	if !c.int32Inputs {
		return ort.NewTensor(shape, src)
	}
	narrow := make([]int32, len(src))
	for i, v := range src {
		narrow[i] = int32(v)
	}
	return ort.NewTensor(shape, narrow)
}

func (c *onnxClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.session = nil
	return err
}

// ListExecutionProviders returns the execution providers this build can request.
func ListExecutionProviders() ([]string, error) {
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	// The binding does not expose GetAvailableProviders portably; CPU is always present.
	return []string{"cpu"}, nil
}
