// Package accel drives an accelerator SDK through a small Device contract.
// The Wrapper owns the native tensor buffers, converts caller float data to
// the native encoding and tears everything down in a fixed order.
package accel

import (
	"github.com/jiangyanpeng/simple-nn/internal/quant"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

// TensorInfo describes one native graph tensor. Rank-4 dims are (n,h,w,c).
type TensorInfo struct {
	Name  string
	DType tensor.DataType
	Dims  []int
	Quant quant.Params
}

// Elems is the product of Dims.
func (t TensorInfo) Elems() int {
	n := 1
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// NativeBytes is the size of the tensor in its native encoding.
func (t TensorInfo) NativeBytes() int { return t.Elems() * t.DType.Size() }

// FloatBytes is the size of the tensor as float32.
func (t TensorInfo) FloatBytes() int { return t.Elems() * 4 }

// Device is an accelerator SDK binding.
type Device interface {
	// Open loads the backend and system libraries.
	Open(opts Options) error
	// CreateGraph deserializes a context binary and retrieves its graph.
	CreateGraph(binary []byte) (Graph, error)
	// Close unloads the libraries. Graphs must be freed first.
	Close() error
}

// Graph is a graph retrieved from a device context.
type Graph interface {
	Inputs() []TensorInfo
	Outputs() []TensorInfo
	// Execute runs the graph over native buffers laid out as Inputs and
	// Outputs describe.
	Execute(inputs, outputs [][]byte) error
	// Free releases the context and graph info.
	Free() error
}
