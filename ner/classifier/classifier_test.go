package classifier

import (
	"context"
	"testing"

	"github.com/ZanzyTHEbar/biomedical-ner/ner/decode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsUnknownBackendAndBadShape(t *testing.T) {
	_, err := New("tflite", Options{ModelPath: "m.onnx", SeqLen: 512, NumLabels: 84})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = New("onnx", Options{ModelPath: "m.onnx", SeqLen: 0, NumLabels: 84})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = New("onnx", Options{SeqLen: 512, NumLabels: 84})
	assert.ErrorIs(t, err, ErrUnavailable, "missing model path")
}

func TestFunc(t *testing.T) {
	calls := 0
	f := Func(func(_ context.Context, ids, mask []int64) (*decode.ScoreTensor, error) {
		calls++
		return decode.NewScoreTensor(1, len(ids), 2, make([]float32, len(ids)*2))
	})

	var c Classifier = f
	st, err := c.Infer(context.Background(), make([]int64, 4), make([]int64, 4))
	require.NoError(t, err)
	assert.NoError(t, st.Expect(1, 4, 2))
	assert.Equal(t, 1, calls)
	assert.NoError(t, c.Close())
}

func TestCheckInput(t *testing.T) {
	assert.NoError(t, checkInput(make([]int64, 8), make([]int64, 8), 8))

	err := checkInput(make([]int64, 7), make([]int64, 8), 8)
	var se *decode.ShapeError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, decode.ErrShapeMismatch)
	assert.Equal(t, []int{7, 8}, se.Got)
}
