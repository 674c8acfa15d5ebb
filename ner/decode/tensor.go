package decode

import "fmt"

// ScoreTensor is a rank-3 (batch, sequence, labels) block of logits stored
// row-major. The shape travels with the data so every accessor can check it.
type ScoreTensor struct {
	shape [3]int
	data  []float32
}

// NewScoreTensor wraps data with the given shape. The data length must equal
// the product of the dimensions.
func NewScoreTensor(batch, seqLen, labels int, data []float32) (*ScoreTensor, error) {
	if batch <= 0 || seqLen < 0 || labels <= 0 {
		return nil, &ShapeError{What: "dimensions", Want: []int{1, seqLen, labels}, Got: []int{batch, seqLen, labels}}
	}
	if want := batch * seqLen * labels; len(data) != want {
		return nil, &ShapeError{What: "data length", Want: []int{want}, Got: []int{len(data)}}
	}
	return &ScoreTensor{shape: [3]int{batch, seqLen, labels}, data: data}, nil
}

// NewScoreTensorFromShape accepts a shape as reported by a runtime (e.g. ONNX
// Runtime's int64 shapes) and requires it to be rank 3.
func NewScoreTensorFromShape(shape []int64, data []float32) (*ScoreTensor, error) {
	if len(shape) != 3 {
		return nil, &ShapeError{What: "rank", Want: []int{3}, Got: []int{len(shape)}}
	}
	return NewScoreTensor(int(shape[0]), int(shape[1]), int(shape[2]), data)
}

// Shape returns (batch, sequence, labels).
func (t *ScoreTensor) Shape() (int, int, int) {
	return t.shape[0], t.shape[1], t.shape[2]
}

// Row returns a float64 copy of the label scores for one (batch, position).
func (t *ScoreTensor) Row(b, i int) ([]float64, error) {
	if b < 0 || b >= t.shape[0] || i < 0 || i >= t.shape[1] {
		return nil, fmt.Errorf("%w: row (%d, %d) of shape %v", ErrOutOfRange, b, i, t.shape)
	}
	c := t.shape[2]
	start := (b*t.shape[1] + i) * c
	row := make([]float64, c)
	for j, v := range t.data[start : start+c] {
		row[j] = float64(v)
	}
	return row, nil
}

// Expect checks the tensor against an exact shape.
func (t *ScoreTensor) Expect(batch, seqLen, labels int) error {
	if t.shape != [3]int{batch, seqLen, labels} {
		return &ShapeError{
			What: "score tensor",
			Want: []int{batch, seqLen, labels},
			Got:  []int{t.shape[0], t.shape[1], t.shape[2]},
		}
	}
	return nil
}
