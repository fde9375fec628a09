// Package nn is the CPU execution model: a Net of Layers wired together
// through indexed Blobs, built from a parsed operator graph.
package nn

import (
	"github.com/jiangyanpeng/simple-nn/internal/graph"
	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

// Blob is an edge of the net. Producer and Consumer are layer indices, -1
// when absent.
type Blob struct {
	Name     string
	Producer int
	Consumer int
	Shape    []int
}

// Spec is what a Registry constructor receives for one operator.
type Spec struct {
	Name    string
	Type    string
	Bottoms []int
	Tops    []int
}

// Layer is one operation of a Net.
type Layer interface {
	Name() string
	Type() string
	Bottoms() []int
	Tops() []int

	// Init binds parameters and weights once, before the first Forward.
	Init(params map[string]graph.Parameter, attrs map[string]graph.Attribute) error

	// Forward computes tops from bottoms. outputs arrives holding the tensors
	// currently stored in the top blobs, nil where none.
	Forward(inputs, outputs []*tensor.Tensor) error
}

// Base carries the wiring every layer shares. Concrete layers embed it and
// override Init and Forward.
type Base struct {
	spec Spec
}

func NewBase(s Spec) Base { return Base{spec: s} }

func (b *Base) Name() string   { return b.spec.Name }
func (b *Base) Type() string   { return b.spec.Type }
func (b *Base) Bottoms() []int { return b.spec.Bottoms }
func (b *Base) Tops() []int    { return b.spec.Tops }

func (b *Base) Init(map[string]graph.Parameter, map[string]graph.Attribute) error {
	return nil
}

func (b *Base) Forward([]*tensor.Tensor, []*tensor.Tensor) error {
	return status.New(status.NotSupported, b.spec.Name, "layer type %s has no forward implementation", b.spec.Type)
}
