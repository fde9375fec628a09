// Package graph is the parsed operator graph a Net is built from. It mirrors
// the shape of a PNNX-style description: operators connected through named
// operands, each operator carrying scalar params and tensor attrs.
package graph

import "fmt"

type Graph struct {
	Name      string
	Operands  []*Operand
	Operators []*Operator

	operands map[string]*Operand
}

// Operand is an edge of the graph. The runtime requires operand names to be
// their decimal index into Operands.
type Operand struct {
	Name      string
	Shape     []int
	DType     string
	Producer  *Operator
	Consumers []*Operator
}

type Operator struct {
	Name    string
	Type    string
	Inputs  []*Operand
	Outputs []*Operand
	Params  map[string]Parameter
	Attrs   map[string]Attribute
}

// Attribute is a tensor attached to an operator (weights, biases). Data is
// always decoded to float32; DType records the stored element type.
type Attribute struct {
	DType string
	Shape []int
	Data  []float32
}

// ElemCount returns the product of Shape.
func (a Attribute) ElemCount() int {
	if len(a.Shape) == 0 {
		return len(a.Data)
	}
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// ByteSize is the float32 payload size.
func (a Attribute) ByteSize() int {
	return 4 * len(a.Data)
}

// New returns an empty graph.
func New(name string) *Graph {
	return &Graph{Name: name, operands: make(map[string]*Operand)}
}

// AddOperand appends an operand. Adding an existing name updates its shape.
func (g *Graph) AddOperand(name string, shape ...int) *Operand {
	if g.operands == nil {
		g.operands = make(map[string]*Operand)
	}
	if o, ok := g.operands[name]; ok {
		if len(shape) > 0 {
			o.Shape = shape
		}
		return o
	}
	o := &Operand{Name: name, Shape: shape, DType: "float32"}
	g.Operands = append(g.Operands, o)
	g.operands[name] = o
	return o
}

// Operand looks up an operand by name.
func (g *Graph) Operand(name string) (*Operand, bool) {
	o, ok := g.operands[name]
	return o, ok
}

// AddOperator appends an operator, creating any operand it names that does
// not exist yet.
func (g *Graph) AddOperator(name, typ string, inputs, outputs []string) *Operator {
	op := &Operator{
		Name:   name,
		Type:   typ,
		Params: make(map[string]Parameter),
		Attrs:  make(map[string]Attribute),
	}
	for _, in := range inputs {
		o := g.AddOperand(in)
		o.Consumers = append(o.Consumers, op)
		op.Inputs = append(op.Inputs, o)
	}
	for _, out := range outputs {
		o := g.AddOperand(out)
		o.Producer = op
		op.Outputs = append(op.Outputs, o)
	}
	g.Operators = append(g.Operators, op)
	return op
}

// Operator looks up an operator by name.
func (g *Graph) Operator(name string) (*Operator, bool) {
	for _, op := range g.Operators {
		if op.Name == name {
			return op, true
		}
	}
	return nil, false
}

// Inputs returns the operators with no inputs, in graph order.
func (g *Graph) Inputs() []*Operator {
	var out []*Operator
	for _, op := range g.Operators {
		if len(op.Inputs) == 0 {
			out = append(out, op)
		}
	}
	return out
}

// Outputs returns the operators with no outputs, in graph order.
func (g *Graph) Outputs() []*Operator {
	var out []*Operator
	for _, op := range g.Operators {
		if len(op.Outputs) == 0 {
			out = append(out, op)
		}
	}
	return out
}

func (op *Operator) String() string {
	return fmt.Sprintf("%s(%s)", op.Type, op.Name)
}

// Param returns the named parameter.
func (op *Operator) Param(name string) (Parameter, bool) {
	p, ok := op.Params[name]
	return p, ok
}

// SetParam is a builder helper.
func (op *Operator) SetParam(name string, p Parameter) *Operator {
	op.Params[name] = p
	return op
}

// SetAttr is a builder helper.
func (op *Operator) SetAttr(name string, shape []int, data []float32) *Operator {
	op.Attrs[name] = Attribute{DType: "float32", Shape: shape, Data: data}
	return op
}
