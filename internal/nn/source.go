package nn

import (
	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

// Source marks graph inputs and outputs. It forwards tensors unchanged.
type Source struct {
	Base
}

func NewSource(s Spec) Layer {
	return &Source{Base: NewBase(s)}
}

func (l *Source) Forward(inputs, outputs []*tensor.Tensor) error {
	if len(outputs) == 0 {
		return nil
	}
	if len(inputs) == 0 {
		for i, t := range outputs {
			if t == nil {
				return status.New(status.InvalidArgument, l.Name(), "input blob %d was not supplied", l.Tops()[i])
			}
		}
		return nil
	}
	if len(inputs) != len(outputs) {
		return status.New(status.Failed, l.Name(), "%d inputs for %d outputs", len(inputs), len(outputs))
	}
	copy(outputs, inputs)
	return nil
}
