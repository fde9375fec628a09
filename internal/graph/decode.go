package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/jiangyanpeng/simple-nn/internal/status"
)

// WeightSource resolves attribute payloads that are not stored inline.
type WeightSource interface {
	LoadWeight(name string) ([]float32, []int, error)
}

// Container is a model container carrying a graph description and its
// weights.
type Container interface {
	WeightSource
	GraphJSON() ([]byte, error)
}

type description struct {
	Name      string         `json:"name" yaml:"name"`
	Operands  []operandDesc  `json:"operands,omitempty" yaml:"operands,omitempty"`
	Operators []operatorDesc `json:"operators" yaml:"operators"`
}

type operandDesc struct {
	Name  string `json:"name" yaml:"name"`
	Shape []int  `json:"shape,omitempty" yaml:"shape,omitempty"`
	DType string `json:"dtype,omitempty" yaml:"dtype,omitempty"`
}

type operatorDesc struct {
	Name    string               `json:"name" yaml:"name"`
	Type    string               `json:"type" yaml:"type"`
	Inputs  []string             `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs []string             `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Params  map[string]Parameter `json:"params,omitempty" yaml:"params,omitempty"`
	Attrs   map[string]attrDesc  `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// attrDesc carries either inline Data or a reference to a stored tensor.
// With neither, the tensor named "<operator>.<attr>" is loaded.
type attrDesc struct {
	DType  string    `json:"dtype,omitempty" yaml:"dtype,omitempty"`
	Shape  []int     `json:"shape,omitempty" yaml:"shape,omitempty"`
	Data   []float32 `json:"data,omitempty" yaml:"data,omitempty"`
	Tensor string    `json:"tensor,omitempty" yaml:"tensor,omitempty"`
}

// Decode parses a JSON graph description. ws may be nil when every attribute
// is inline.
func Decode(data []byte, ws WeightSource) (*Graph, error) {
	var d description
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, status.Wrap(err, status.InvalidArgument, "graph.Decode", "parse json")
	}
	return d.build(ws)
}

// DecodeYAML parses the YAML form of a graph description.
func DecodeYAML(data []byte, ws WeightSource) (*Graph, error) {
	var d description
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, status.Wrap(err, status.InvalidArgument, "graph.DecodeYAML", "parse yaml")
	}
	return d.build(ws)
}

// FromContainer decodes the graph stored in c and binds its weights.
func FromContainer(c Container) (*Graph, error) {
	raw, err := c.GraphJSON()
	if err != nil {
		return nil, status.Wrap(err, status.FileNotFound, "graph.FromContainer", "read graph section")
	}
	return Decode(raw, c)
}

func (d *description) build(ws WeightSource) (*Graph, error) {
	g := New(d.Name)
	for _, od := range d.Operands {
		if od.Name == "" {
			return nil, status.New(status.InvalidArgument, "graph", "operand with empty name")
		}
		if _, dup := g.Operand(od.Name); dup {
			return nil, status.New(status.InvalidArgument, "graph", "duplicate operand %q", od.Name)
		}
		o := g.AddOperand(od.Name, od.Shape...)
		if od.DType != "" {
			o.DType = od.DType
		}
	}

	for _, opd := range d.Operators {
		if opd.Type == "" {
			return nil, status.New(status.InvalidArgument, "graph", "operator %q has no type", opd.Name)
		}
		op := g.AddOperator(opd.Name, opd.Type, opd.Inputs, opd.Outputs)
		for k, p := range opd.Params {
			op.Params[k] = p
		}
		// sorted so errors name the same attribute on every run
		names := make([]string, 0, len(opd.Attrs))
		for k := range opd.Attrs {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			attr, err := opd.Attrs[k].resolve(opd.Name, k, ws)
			if err != nil {
				return nil, err
			}
			op.Attrs[k] = attr
		}
	}
	return g, nil
}

func (a attrDesc) resolve(opName, attrName string, ws WeightSource) (Attribute, error) {
	dtype := a.DType
	if dtype == "" {
		dtype = "float32"
	}
	if a.Data != nil && a.Tensor == "" {
		shape := a.Shape
		if len(shape) == 0 {
			shape = []int{len(a.Data)}
		}
		attr := Attribute{DType: dtype, Shape: shape, Data: a.Data}
		if attr.ElemCount() != len(a.Data) {
			return Attribute{}, status.New(status.InvalidArgument, "graph",
				"%s.%s: shape %v does not match %d values", opName, attrName, shape, len(a.Data))
		}
		return attr, nil
	}

	name := a.Tensor
	if name == "" {
		name = opName + "." + attrName
	}
	if ws == nil {
		return Attribute{}, status.New(status.FileNotFound, "graph",
			"%s.%s: no weight source for tensor %q", opName, attrName, name)
	}
	data, shape, err := ws.LoadWeight(name)
	if err != nil {
		return Attribute{}, status.Wrap(err, status.FileNotFound, "graph", "%s.%s: load tensor %q", opName, attrName, name)
	}
	if len(a.Shape) > 0 {
		want := Attribute{Shape: a.Shape}
		if want.ElemCount() != len(data) {
			return Attribute{}, status.New(status.InvalidArgument, "graph",
				"%s.%s: declared shape %v does not match stored tensor %v", opName, attrName, a.Shape, shape)
		}
		shape = a.Shape
	}
	return Attribute{DType: dtype, Shape: shape, Data: data}, nil
}

// Weight is an attribute payload split out of a description by Encode.
type Weight struct {
	Name  string
	Shape []int
	Data  []float32
}

// Encode writes g as a JSON description. With inline set every attribute
// carries its data; otherwise attributes are emitted by reference and their
// payloads are returned, named "<operator>.<attr>", for storing alongside.
func Encode(g *Graph, inline bool) ([]byte, []Weight, error) {
	if g == nil {
		return nil, nil, errors.New("graph: nil graph")
	}
	d := description{Name: g.Name}
	for _, o := range g.Operands {
		d.Operands = append(d.Operands, operandDesc{Name: o.Name, Shape: o.Shape, DType: o.DType})
	}

	var weights []Weight
	for _, op := range g.Operators {
		opd := operatorDesc{
			Name:    op.Name,
			Type:    op.Type,
			Inputs:  operandNames(op.Inputs),
			Outputs: operandNames(op.Outputs),
		}
		if len(op.Params) > 0 {
			opd.Params = op.Params
		}
		if len(op.Attrs) > 0 {
			opd.Attrs = make(map[string]attrDesc, len(op.Attrs))
		}
		for k, a := range op.Attrs {
			ad := attrDesc{DType: a.DType, Shape: a.Shape}
			if inline {
				ad.Data = a.Data
			} else {
				weights = append(weights, Weight{Name: op.Name + "." + k, Shape: a.Shape, Data: a.Data})
			}
			opd.Attrs[k] = ad
		}
		d.Operators = append(d.Operators, opd)
	}
	sort.Slice(weights, func(i, j int) bool { return weights[i].Name < weights[j].Name })

	raw, err := json.Marshal(d)
	if err != nil {
		return nil, nil, fmt.Errorf("graph: encode: %w", err)
	}
	return raw, weights, nil
}

func operandNames(ops []*Operand) []string {
	out := make([]string, len(ops))
	for i, o := range ops {
		out[i] = o.Name
	}
	return out
}
