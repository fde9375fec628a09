package nn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiangyanpeng/simple-nn/internal/graph"
	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

func newLinear(t *testing.T, bias bool) Layer {
	t.Helper()
	l := NewLinear(Spec{Name: "fc", Type: "nn.Linear", Bottoms: []int{0}, Tops: []int{1}})
	params := map[string]graph.Parameter{
		"in_features":  graph.Int(2),
		"out_features": graph.Int(1),
		"bias":         graph.Bool(bias),
	}
	attrs := map[string]graph.Attribute{
		"weight": {Shape: []int{2, 1}, Data: []float32{1, 2}},
		"bias":   {Shape: []int{1}, Data: []float32{0.5}},
	}
	require.NoError(t, l.Init(params, attrs))
	return l
}

func TestLinearForward(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		bias bool
		want float32
	}{
		{true, 11.5},
		{false, 11},
	} {
		l := newLinear(t, tc.bias)
		out := make([]*tensor.Tensor, 1)
		require.NoError(t, l.Forward([]*tensor.Tensor{vec(t, 3, 4)}, out))
		require.NotNil(t, out[0])
		assert.Equal(t, "fc", out[0].Name())
		assert.Equal(t, tensor.NCHW, out[0].Layout())
		vals, err := out[0].Float32s()
		require.NoError(t, err)
		assert.Equal(t, []float32{tc.want}, vals)
	}
}

func TestLinearShapeMismatchWritesNothing(t *testing.T) {
	t.Parallel()

	l := newLinear(t, true)
	sentinel := vec(t, 42)
	out := []*tensor.Tensor{sentinel}
	err := l.Forward([]*tensor.Tensor{vec(t, 1, 2, 3)}, out)
	assert.True(t, status.Is(err, status.Failed), "got %v", err)
	assert.Same(t, sentinel, out[0])
	vals, _ := sentinel.Float32s()
	assert.Equal(t, []float32{42}, vals)
}

func TestLinearRejectsInputs(t *testing.T) {
	t.Parallel()

	l := newLinear(t, true)

	batched, err := tensor.FromFloat32(tensor.Shape{2, 2, 1, 1}, tensor.NCHW, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	err = l.Forward([]*tensor.Tensor{batched}, make([]*tensor.Tensor, 1))
	assert.True(t, status.Is(err, status.Failed), "batch: %v", err)

	spatial, err := tensor.FromFloat32(tensor.Shape{1, 2, 2, 1}, tensor.NCHW, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	err = l.Forward([]*tensor.Tensor{spatial}, make([]*tensor.Tensor, 1))
	assert.True(t, status.Is(err, status.Failed), "rank: %v", err)

	ints, err := tensor.New(tensor.Shape{1, 2, 1, 1}, tensor.NCHW, tensor.CPU, tensor.Int32)
	require.NoError(t, err)
	err = l.Forward([]*tensor.Tensor{ints}, make([]*tensor.Tensor, 1))
	assert.True(t, status.Is(err, status.NotSupported), "dtype: %v", err)

	err = NewLinear(Spec{Name: "raw"}).Forward([]*tensor.Tensor{vec(t, 1, 2)}, make([]*tensor.Tensor, 1))
	assert.True(t, status.Is(err, status.Failed), "uninitialized: %v", err)
}

func TestLinearInitValidation(t *testing.T) {
	t.Parallel()

	good := func() (map[string]graph.Parameter, map[string]graph.Attribute) {
		return map[string]graph.Parameter{
				"in_features":  graph.Int(2),
				"out_features": graph.Int(3),
				"bias":         graph.Bool(true),
			}, map[string]graph.Attribute{
				"weight": {Shape: []int{1, 2, 3}, Data: make([]float32, 6)},
				"bias":   {Shape: []int{3}, Data: make([]float32, 3)},
			}
	}
	p, a := good()
	require.NoError(t, NewLinear(Spec{Name: "fc"}).Init(p, a))

	for name, mutate := range map[string]func(map[string]graph.Parameter, map[string]graph.Attribute){
		"missing in_features": func(p map[string]graph.Parameter, _ map[string]graph.Attribute) { delete(p, "in_features") },
		"string out_features": func(p map[string]graph.Parameter, _ map[string]graph.Attribute) {
			p["out_features"] = graph.String("3")
		},
		"missing weight": func(_ map[string]graph.Parameter, a map[string]graph.Attribute) { delete(a, "weight") },
		"transposed weight": func(_ map[string]graph.Parameter, a map[string]graph.Attribute) {
			a["weight"] = graph.Attribute{Shape: []int{3, 2}, Data: make([]float32, 6)}
		},
		"missing bias": func(_ map[string]graph.Parameter, a map[string]graph.Attribute) { delete(a, "bias") },
		"short bias": func(_ map[string]graph.Parameter, a map[string]graph.Attribute) {
			a["bias"] = graph.Attribute{Shape: []int{2}, Data: make([]float32, 2)}
		},
	} {
		p, a := good()
		mutate(p, a)
		err := NewLinear(Spec{Name: "fc"}).Init(p, a)
		assert.True(t, status.Is(err, status.InvalidArgument), "%s: %v", name, err)
	}
}

func TestSourceForward(t *testing.T) {
	t.Parallel()

	src := NewSource(Spec{Name: "in0", Tops: []int{0}})
	err := src.Forward(nil, make([]*tensor.Tensor, 1))
	assert.True(t, status.Is(err, status.InvalidArgument), "got %v", err)

	x := vec(t, 1)
	out := []*tensor.Tensor{x}
	require.NoError(t, src.Forward(nil, out))
	assert.Same(t, x, out[0])

	pass := NewSource(Spec{Name: "p", Bottoms: []int{0}, Tops: []int{1}})
	out = make([]*tensor.Tensor, 1)
	require.NoError(t, pass.Forward([]*tensor.Tensor{x}, out))
	assert.Same(t, x, out[0])

	sink := NewSource(Spec{Name: "out0", Bottoms: []int{0}})
	require.NoError(t, sink.Forward([]*tensor.Tensor{x}, nil))
}
