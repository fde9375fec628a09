// Package infer runs loaded models behind one Backend contract. Session
// drives an accelerator through accel.Wrapper; NetBackend runs the graph on
// the host with nn.Net.
package infer

import (
	"context"

	"github.com/jiangyanpeng/simple-nn/internal/loader"
	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

// Backend is an initialized model that maps input tensors to output tensors.
// Dims are always (N,C,H,W).
type Backend interface {
	Init(ctx context.Context, path string, cfg loader.Config) error
	InitPackage(ctx context.Context, pkg *loader.Package, cfg loader.Config) error

	InputNum() int
	OutputNum() int
	InputNames() []string
	OutputNames() []string
	InputDims(idx int) (tensor.Shape, error)
	OutputDims(idx int) (tensor.Shape, error)

	Run(inputs []*tensor.Tensor, opts ...RunOption) ([]*tensor.Tensor, error)
	State() State
	Close() error
}

// Extensions are the optional capabilities a Backend may implement.
type Extensions interface {
	SetInputsShapeSize(shapes []tensor.Shape) error
	SetOutputsShapeSize(shapes []tensor.Shape) error
	SetTensorByName(name string, t *tensor.Tensor) error
	GetTensorByName(name string) (*tensor.Tensor, error)
	SetInputs(inputs []*tensor.Tensor) error
	RunStream(ctx context.Context, inputs []*tensor.Tensor, yield func(batch int, outputs []*tensor.Tensor) error) error
}

// Unimplemented is embedded by backends that lack some Extensions. Every
// method returns NotSupported and touches nothing.
type Unimplemented struct{}

func (Unimplemented) SetInputsShapeSize([]tensor.Shape) error {
	return status.New(status.NotSupported, "infer", "SetInputsShapeSize")
}

func (Unimplemented) SetOutputsShapeSize([]tensor.Shape) error {
	return status.New(status.NotSupported, "infer", "SetOutputsShapeSize")
}

func (Unimplemented) SetTensorByName(string, *tensor.Tensor) error {
	return status.New(status.NotSupported, "infer", "SetTensorByName")
}

func (Unimplemented) GetTensorByName(string) (*tensor.Tensor, error) {
	return nil, status.New(status.NotSupported, "infer", "GetTensorByName")
}

func (Unimplemented) SetInputs([]*tensor.Tensor) error {
	return status.New(status.NotSupported, "infer", "SetInputs")
}

func (Unimplemented) RunStream(context.Context, []*tensor.Tensor, func(int, []*tensor.Tensor) error) error {
	return status.New(status.NotSupported, "infer", "RunStream")
}

// RunOption adjusts a single Run.
type RunOption func(*runOptions)

type runOptions struct {
	start, end string
}

// WithRange limits a run to the layers between start and end. Either name
// may be empty.
func WithRange(start, end string) RunOption {
	return func(o *runOptions) { o.start, o.end = start, end }
}

func collectRunOptions(opts []RunOption) runOptions {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// pickModel returns the model Init should run from a package: the one whose
// path equals cfg.Engine, or the first.
func pickModel(pkg *loader.Package, cfg loader.Config, op string) (*loader.Model, error) {
	if pkg == nil || pkg.Len() == 0 {
		return nil, status.New(status.InvalidArgument, op, "empty model package")
	}
	if m, ok := pkg.ByPath(cfg.Engine); ok && cfg.Engine != "" {
		return m, nil
	}
	return pkg.Models()[0], nil
}

func dimsAt(dims []tensor.Shape, idx int, op, what string) (tensor.Shape, error) {
	if idx < 0 || idx >= len(dims) {
		return tensor.Shape{}, status.New(status.OutOfMemory, op, "%s %d outside %d", what, idx, len(dims))
	}
	return dims[idx], nil
}
