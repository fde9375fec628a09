package nn

import (
	"github.com/jiangyanpeng/simple-nn/internal/graph"
	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

// Linear computes out = in · W + b with W stored as (in_features, out_features).
type Linear struct {
	Base

	inFeatures  int
	outFeatures int
	weight      *tensor.Tensor
	bias        *tensor.Tensor
}

func NewLinear(s Spec) Layer {
	return &Linear{Base: NewBase(s)}
}

func (l *Linear) Init(params map[string]graph.Parameter, attrs map[string]graph.Attribute) error {
	op := l.Name()
	for _, key := range []string{"in_features", "out_features"} {
		if _, ok := params[key]; !ok {
			return status.New(status.InvalidArgument, op, "missing param %q", key)
		}
	}
	in, err := graph.IntParam(params, "in_features", 0)
	if err != nil {
		return status.Wrap(err, status.InvalidArgument, op, "bad param")
	}
	out, err := graph.IntParam(params, "out_features", 0)
	if err != nil {
		return status.Wrap(err, status.InvalidArgument, op, "bad param")
	}
	hasBias, err := graph.BoolParam(params, "bias", false)
	if err != nil {
		return status.Wrap(err, status.InvalidArgument, op, "bad param")
	}
	if in < 1 || out < 1 {
		return status.New(status.InvalidArgument, op, "features must be positive, got in=%d out=%d", in, out)
	}

	w, ok := attrs["weight"]
	if !ok {
		return status.New(status.InvalidArgument, op, "missing attr \"weight\"")
	}
	if err := checkWeightShape(w.Shape, in, out); err != nil {
		return status.Wrap(err, status.InvalidArgument, op, "weight")
	}
	weight, err := tensor.FromFloat32(tensor.Shape{1, 1, in, out}, tensor.NCHW, w.Data)
	if err != nil {
		return status.Annotate(err, op, "weight")
	}
	weight.SetName(op + ".weight")

	var bias *tensor.Tensor
	if hasBias {
		b, ok := attrs["bias"]
		if !ok {
			return status.New(status.InvalidArgument, op, "bias=true but attr \"bias\" is missing")
		}
		if len(b.Data) != out {
			return status.New(status.InvalidArgument, op, "bias has %d elements, want %d", len(b.Data), out)
		}
		if bias, err = tensor.FromFloat32(tensor.Shape{1, out, 1, 1}, tensor.NCHW, b.Data); err != nil {
			return status.Annotate(err, op, "bias")
		}
		bias.SetName(op + ".bias")
	}

	l.inFeatures, l.outFeatures = in, out
	l.weight, l.bias = weight, bias
	return nil
}

func checkWeightShape(shape []int, in, out int) error {
	if len(shape) < 2 {
		return status.New(status.InvalidArgument, "", "shape %v has rank < 2", shape)
	}
	lead := shape[:len(shape)-2]
	for _, d := range lead {
		if d != 1 {
			return status.New(status.InvalidArgument, "", "shape %v has non-unit leading dims", shape)
		}
	}
	if shape[len(shape)-2] != in || shape[len(shape)-1] != out {
		return status.New(status.InvalidArgument, "", "shape %v, want (..., %d, %d)", shape, in, out)
	}
	return nil
}

func (l *Linear) Forward(inputs, outputs []*tensor.Tensor) error {
	op := l.Name()
	if l.weight == nil {
		return status.New(status.Failed, op, "layer not initialized")
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return status.New(status.Failed, op, "want 1 input and 1 output, got %d and %d", len(inputs), len(outputs))
	}
	x := inputs[0]
	if x == nil {
		return status.New(status.InvalidArgument, op, "nil input")
	}
	if x.DType() != tensor.Float32 {
		return status.New(status.NotSupported, op, "input dtype %s", x.DType())
	}
	n, c, h, w := x.NCHW()
	if h != 1 || w != 1 {
		return status.New(status.Failed, op, "input %v is not 2D", x.Shape())
	}
	if n != 1 {
		return status.New(status.Failed, op, "batch %d, want 1", n)
	}
	rows, cols := n, c
	if cols != l.inFeatures {
		return status.New(status.Failed, op, "shape mismatch: input has %d cols, weight has %d rows", cols, l.inFeatures)
	}

	src, err := x.Float32s()
	if err != nil {
		return status.Annotate(err, op, "input")
	}
	y, err := tensor.New(tensor.Shape{rows, l.outFeatures, 1, 1}, tensor.NCHW, tensor.CPU, tensor.Float32)
	if err != nil {
		return status.Annotate(err, op, "output")
	}
	y.SetName(op)
	dst, _ := y.Float32s()
	if l.bias != nil {
		b, _ := l.bias.Float32s()
		for i := range rows {
			copy(dst[i*l.outFeatures:], b)
		}
	}
	wt, _ := l.weight.Float32s()
	tensor.MatMulAcc(dst, src, wt, rows, cols, l.outFeatures, 1)

	outputs[0] = y
	return nil
}
