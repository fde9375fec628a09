package nn

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiangyanpeng/simple-nn/internal/graph"
	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
	"github.com/jiangyanpeng/simple-nn/pkg/mcf"
)

// linearGraph is in0 -> fc(2->1, bias) -> out0 over blobs "0" and "1".
func linearGraph() *graph.Graph {
	g := graph.New("linear")
	g.AddOperand("0", 1, 2)
	g.AddOperand("1", 1, 1)
	addLinearOps(g)
	return g
}

func addLinearOps(g *graph.Graph) {
	g.AddOperator("in0", "pnnx.Input", nil, []string{"0"})
	g.AddOperator("fc", "nn.Linear", []string{"0"}, []string{"1"}).
		SetParam("in_features", graph.Int(2)).
		SetParam("out_features", graph.Int(1)).
		SetParam("bias", graph.Bool(true)).
		SetAttr("weight", []int{2, 1}, []float32{1, 2}).
		SetAttr("bias", []int{1}, []float32{0.5})
	g.AddOperator("out0", "pnnx.Output", []string{"1"}, nil)
}

func vec(t *testing.T, vals ...float32) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromFloat32(tensor.Shape{1, len(vals), 1, 1}, tensor.NCHW, vals)
	require.NoError(t, err)
	return x
}

func TestBuildLinear(t *testing.T) {
	t.Parallel()

	n := New()
	require.NoError(t, n.Build(linearGraph()))

	assert.True(t, n.Built())
	assert.Equal(t, "linear", n.Name())
	assert.Equal(t, []string{"in0"}, n.InputNames())
	assert.Equal(t, []string{"out0"}, n.OutputNames())
	require.Len(t, n.Layers(), 3)
	require.Len(t, n.Blobs(), 2)

	assert.Equal(t, Blob{Name: "0", Producer: 0, Consumer: 1, Shape: []int{1, 2}}, n.Blobs()[0])
	assert.Equal(t, Blob{Name: "1", Producer: 1, Consumer: 2, Shape: []int{1, 1}}, n.Blobs()[1])
	assert.Equal(t, []int{0}, n.Layers()[1].Bottoms())
	assert.Equal(t, []int{1}, n.Layers()[1].Tops())

	idx, ok := n.LayerIndex("fc")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	idx, ok = n.BlobIndex("1")
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	_, ok = n.LayerIndex("nope")
	assert.False(t, ok)

	shape, err := n.InputShape(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, shape)
	_, err = n.OutputShape(3)
	assert.True(t, status.Is(err, status.OutOfMemory))
}

func TestBuildPlacesBlobsByName(t *testing.T) {
	t.Parallel()

	g := graph.New("reordered")
	g.AddOperand("1", 1, 1)
	g.AddOperand("0", 1, 2)
	addLinearOps(g)

	n := New()
	require.NoError(t, n.Build(g))
	assert.Equal(t, Blob{Name: "0", Producer: 0, Consumer: 1, Shape: []int{1, 2}}, n.Blobs()[0])
	assert.Equal(t, Blob{Name: "1", Producer: 1, Consumer: 2, Shape: []int{1, 1}}, n.Blobs()[1])

	in, err := n.InputShape(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, in)
	out, err := n.OutputShape(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, out)

	res, err := n.Run(map[string]*tensor.Tensor{"in0": vec(t, 3, 4)})
	require.NoError(t, err)
	vals, err := res["out0"].Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{11.5}, vals)
}

func TestRunLinear(t *testing.T) {
	t.Parallel()

	n := New()
	require.NoError(t, n.Build(linearGraph()))

	out, err := n.Run(map[string]*tensor.Tensor{"in0": vec(t, 3, 4)})
	require.NoError(t, err)
	y := out["out0"]
	require.NotNil(t, y)
	assert.Equal(t, tensor.Shape{1, 1, 1, 1}, y.Shape())
	vals, err := y.Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{11.5}, vals)

	_, err = n.Run(map[string]*tensor.Tensor{})
	assert.True(t, status.Is(err, status.InvalidArgument))
}

func TestForward(t *testing.T) {
	t.Parallel()

	n := New()
	require.NoError(t, n.Build(linearGraph()))

	blobs := make([]*tensor.Tensor, 2)
	blobs[0] = vec(t, 3, 4)
	require.NoError(t, n.Forward(2, blobs))
	vals, err := blobs[1].Float32s()
	require.NoError(t, err)
	assert.Equal(t, []float32{11.5}, vals)

	err = n.Forward(3, blobs)
	assert.True(t, status.Is(err, status.OutOfMemory), "got %v", err)
	err = n.Forward(-1, blobs)
	assert.True(t, status.Is(err, status.OutOfMemory), "got %v", err)
	err = n.Forward(0, blobs[:1])
	assert.True(t, status.Is(err, status.InvalidArgument), "got %v", err)
}

func TestForwardMissingInputNamesLayer(t *testing.T) {
	t.Parallel()

	n := New()
	require.NoError(t, n.Build(linearGraph()))

	err := n.Forward(2, make([]*tensor.Tensor, 2))
	require.Error(t, err)
	assert.True(t, status.Is(err, status.InvalidArgument), "got %v", err)
	assert.Contains(t, err.Error(), "out0")
	assert.Contains(t, err.Error(), "bottom blob 1")
}

func TestForwardUnbuilt(t *testing.T) {
	t.Parallel()

	err := New().Forward(0, nil)
	assert.True(t, status.Is(err, status.Failed))
}

func TestBuildValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		graph func() *graph.Graph
		code  status.Code
	}{
		{"no operators", func() *graph.Graph { return graph.New("empty") }, status.InvalidArgument},
		{"no operands", func() *graph.Graph {
			g := graph.New("x")
			g.AddOperator("a", "pnnx.Input", nil, nil)
			return g
		}, status.InvalidArgument},
		{"non numeric operand", func() *graph.Graph {
			g := graph.New("x")
			g.AddOperator("in0", "pnnx.Input", nil, []string{"data"})
			return g
		}, status.NotSupported},
		{"negative looking operand", func() *graph.Graph {
			g := graph.New("x")
			g.AddOperator("in0", "pnnx.Input", nil, []string{"-1"})
			return g
		}, status.NotSupported},
		{"index out of range", func() *graph.Graph {
			g := graph.New("x")
			g.AddOperand("0")
			g.AddOperator("in0", "pnnx.Input", nil, []string{"0"})
			g.AddOperator("out0", "pnnx.Output", []string{"7"}, nil)
			return g
		}, status.OutOfMemory},
		{"blob with two consumers", func() *graph.Graph {
			g := linearGraph()
			g.AddOperator("tap", "pnnx.Output", []string{"0"}, nil)
			return g
		}, status.NotSupported},
		{"blob with two producers", func() *graph.Graph {
			g := linearGraph()
			g.AddOperator("in1", "pnnx.Input", nil, []string{"1"})
			return g
		}, status.InvalidArgument},
		{"unknown type", func() *graph.Graph {
			g := graph.New("x")
			g.AddOperator("c", "nn.Conv2d", nil, []string{"0"})
			return g
		}, status.NotSupported},
		{"linear missing weight", func() *graph.Graph {
			g := linearGraph()
			fc, _ := g.Operator("fc")
			delete(fc.Attrs, "weight")
			return g
		}, status.InvalidArgument},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			n := New()
			err := n.Build(tc.graph())
			require.Error(t, err)
			assert.Equal(t, tc.code, status.CodeOf(err), "err: %v", err)
			assert.False(t, n.Built())
			assert.Empty(t, n.Layers())
		})
	}
}

type doubler struct{ Base }

func (d *doubler) Forward(inputs, outputs []*tensor.Tensor) error {
	y := inputs[0].Clone()
	vals, err := y.Float32s()
	if err != nil {
		return err
	}
	for i := range vals {
		vals[i] *= 2
	}
	outputs[0] = y
	return nil
}

func TestCustomRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register("custom.Double", "Double", func(s Spec) Layer { return &doubler{NewBase(s)} }))
	require.Error(t, r.Register("custom.Double", "Double", nil))
	require.NoError(t, r.Register("pnnx.Identity", KindSource, nil))
	assert.Contains(t, r.SupportedOps(), "custom.Double")
	assert.NotContains(t, Default().SupportedOps(), "custom.Double")

	g := graph.New("double")
	g.AddOperator("in0", "pnnx.Input", nil, []string{"0"})
	g.AddOperator("d", "custom.Double", []string{"0"}, []string{"1"})
	g.AddOperator("id", "pnnx.Identity", []string{"1"}, []string{"2"})
	g.AddOperator("out0", "pnnx.Output", []string{"2"}, nil)

	assert.True(t, status.Is(New().Build(g), status.NotSupported))

	n := New(WithRegistry(r))
	require.NoError(t, n.Build(g))
	out, err := n.Run(map[string]*tensor.Tensor{"in0": vec(t, 1, 2)})
	require.NoError(t, err)
	vals, _ := out["out0"].Float32s()
	assert.Equal(t, []float32{2, 4}, vals)
}

func TestBaseForwardNotSupported(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register("custom.Noop", "Noop", func(s Spec) Layer {
		b := NewBase(s)
		return &b
	}))
	g := graph.New("noop")
	g.AddOperator("in0", "pnnx.Input", nil, []string{"0"})
	g.AddOperator("n", "custom.Noop", []string{"0"}, []string{"1"})
	g.AddOperator("out0", "pnnx.Output", []string{"1"}, nil)

	n := New(WithRegistry(r))
	require.NoError(t, n.Build(g))
	_, err := n.Run(map[string]*tensor.Tensor{"in0": vec(t, 1)})
	assert.True(t, status.Is(err, status.NotSupported), "got %v", err)
}

func TestSummary(t *testing.T) {
	t.Parallel()

	n := New()
	require.NoError(t, n.Build(linearGraph()))
	s := n.Summary()
	lines := strings.Split(strings.TrimSpace(s), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "name"))
	assert.Contains(t, lines[2], "nn.Linear")
	assert.Contains(t, lines[2], "[1,2]")
	assert.True(t, strings.HasSuffix(lines[2], "12"))
	assert.Equal(t, "total params: 12 bytes", lines[4])
}

func f32le(vals ...float32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func packLinear(t *testing.T) string {
	t.Helper()
	desc, weights, err := graph.Encode(linearGraph(), false)
	require.NoError(t, err)
	var tensors []mcf.PackTensor
	for _, w := range weights {
		shape := make([]uint64, len(w.Shape))
		for i, d := range w.Shape {
			shape[i] = uint64(d)
		}
		tensors = append(tensors, mcf.PackTensor{Name: w.Name, DType: mcf.DTypeF32, Shape: shape, Data: f32le(w.Data...)})
	}
	path := filepath.Join(t.TempDir(), "linear.mcf")
	require.NoError(t, mcf.Pack(mcf.PackOptions{OutputPath: path, Graph: desc, Tensors: tensors}))
	return path
}

func TestInitFromContainer(t *testing.T) {
	t.Parallel()

	n := New()
	require.NoError(t, n.Init(packLinear(t)))
	out, err := n.Run(map[string]*tensor.Tensor{"in0": vec(t, 3, 4)})
	require.NoError(t, err)
	vals, _ := out["out0"].Float32s()
	assert.Equal(t, []float32{11.5}, vals)

	err = New().Init(filepath.Join(t.TempDir(), "missing.mcf"))
	assert.True(t, status.Is(err, status.FileNotFound), "got %v", err)
}
