package graph

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

type ParamKind int

const (
	ParamNone ParamKind = iota
	ParamBool
	ParamInt
	ParamFloat
	ParamString
	ParamInts
	ParamFloats
	ParamStrings
)

func (k ParamKind) String() string {
	switch k {
	case ParamBool:
		return "bool"
	case ParamInt:
		return "int"
	case ParamFloat:
		return "float"
	case ParamString:
		return "string"
	case ParamInts:
		return "ints"
	case ParamFloats:
		return "floats"
	case ParamStrings:
		return "strings"
	default:
		return "none"
	}
}

// Parameter is a tagged scalar or list value.
type Parameter struct {
	Kind    ParamKind
	B       bool
	I       int
	F       float32
	S       string
	Ints    []int
	Floats  []float32
	Strings []string
}

func Bool(v bool) Parameter         { return Parameter{Kind: ParamBool, B: v} }
func Int(v int) Parameter           { return Parameter{Kind: ParamInt, I: v} }
func Float(v float32) Parameter     { return Parameter{Kind: ParamFloat, F: v} }
func String(v string) Parameter     { return Parameter{Kind: ParamString, S: v} }
func Ints(v ...int) Parameter       { return Parameter{Kind: ParamInts, Ints: v} }
func Floats(v ...float32) Parameter { return Parameter{Kind: ParamFloats, Floats: v} }

func (p Parameter) String() string {
	switch p.Kind {
	case ParamBool:
		return strconv.FormatBool(p.B)
	case ParamInt:
		return strconv.Itoa(p.I)
	case ParamFloat:
		return strconv.FormatFloat(float64(p.F), 'g', -1, 32)
	case ParamString:
		return p.S
	case ParamInts:
		return fmt.Sprint(p.Ints)
	case ParamFloats:
		return fmt.Sprint(p.Floats)
	case ParamStrings:
		return fmt.Sprint(p.Strings)
	default:
		return ""
	}
}

func (p Parameter) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case ParamBool:
		return json.Marshal(p.B)
	case ParamInt:
		return json.Marshal(p.I)
	case ParamFloat:
		// keep a decimal point so the value decodes back as a float
		s := strconv.FormatFloat(float64(p.F), 'g', -1, 32)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		return []byte(s), nil
	case ParamString:
		return json.Marshal(p.S)
	case ParamInts:
		return json.Marshal(p.Ints)
	case ParamFloats:
		return json.Marshal(p.Floats)
	case ParamStrings:
		return json.Marshal(p.Strings)
	default:
		return []byte("null"), nil
	}
}

func (p *Parameter) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("graph: empty parameter")
	}
	switch data[0] {
	case 'n':
		*p = Parameter{}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*p = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = String(s)
		return nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		return p.fromList(len(items), func(i int) (Parameter, error) {
			var e Parameter
			err := e.UnmarshalJSON(items[i])
			return e, err
		})
	default:
		return p.fromNumber(string(data))
	}
}

func (p *Parameter) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.ShortTag() {
		case "!!bool":
			var b bool
			if err := node.Decode(&b); err != nil {
				return err
			}
			*p = Bool(b)
		case "!!int", "!!float":
			return p.fromNumber(node.Value)
		case "!!null":
			*p = Parameter{}
		default:
			*p = String(node.Value)
		}
		return nil
	case yaml.SequenceNode:
		return p.fromList(len(node.Content), func(i int) (Parameter, error) {
			var e Parameter
			err := e.UnmarshalYAML(node.Content[i])
			return e, err
		})
	default:
		return fmt.Errorf("graph: line %d: parameter must be a scalar or a list", node.Line)
	}
}

func (p *Parameter) fromNumber(s string) error {
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.Atoi(s); err == nil {
			*p = Int(i)
			return nil
		}
	}
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return fmt.Errorf("graph: bad numeric parameter %q", s)
	}
	*p = Float(float32(f))
	return nil
}

// fromList infers the list kind from its elements. Ints mixed with floats
// widen to floats. An empty list decodes as ints.
func (p *Parameter) fromList(n int, elem func(int) (Parameter, error)) error {
	out := Parameter{Kind: ParamInts, Ints: []int{}}
	elems := make([]Parameter, n)
	for i := range n {
		e, err := elem(i)
		if err != nil {
			return err
		}
		elems[i] = e
		switch {
		case e.Kind == ParamString:
			out.Kind = ParamStrings
		case e.Kind == ParamFloat && out.Kind == ParamInts:
			out.Kind = ParamFloats
		case e.Kind != ParamInt && e.Kind != ParamFloat && e.Kind != ParamString:
			return fmt.Errorf("graph: unsupported list element of kind %s", e.Kind)
		}
	}
	for _, e := range elems {
		switch out.Kind {
		case ParamInts:
			out.Ints = append(out.Ints, e.I)
		case ParamFloats:
			if e.Kind == ParamInt {
				out.Floats = append(out.Floats, float32(e.I))
			} else {
				out.Floats = append(out.Floats, e.F)
			}
		case ParamStrings:
			if e.Kind != ParamString {
				return fmt.Errorf("graph: list mixes strings and numbers")
			}
			out.Strings = append(out.Strings, e.S)
		}
	}
	if out.Kind != ParamInts {
		out.Ints = nil
	}
	*p = out
	return nil
}

// IntParam returns an int parameter, or def when the key is absent.
// A present key of another kind is an error.
func IntParam(params map[string]Parameter, key string, def int) (int, error) {
	p, ok := params[key]
	if !ok {
		return def, nil
	}
	if p.Kind != ParamInt {
		return 0, fmt.Errorf("param %q is %s, want int", key, p.Kind)
	}
	return p.I, nil
}

// BoolParam returns a bool parameter, or def when the key is absent. Ints
// 0 and 1 are accepted, as PNNX writes them for flags.
func BoolParam(params map[string]Parameter, key string, def bool) (bool, error) {
	p, ok := params[key]
	if !ok {
		return def, nil
	}
	switch {
	case p.Kind == ParamBool:
		return p.B, nil
	case p.Kind == ParamInt && (p.I == 0 || p.I == 1):
		return p.I == 1, nil
	}
	return false, fmt.Errorf("param %q is %s, want bool", key, p.Kind)
}

// FloatParam returns a float parameter, or def when the key is absent.
func FloatParam(params map[string]Parameter, key string, def float32) (float32, error) {
	p, ok := params[key]
	if !ok {
		return def, nil
	}
	switch p.Kind {
	case ParamFloat:
		return p.F, nil
	case ParamInt:
		return float32(p.I), nil
	}
	return 0, fmt.Errorf("param %q is %s, want float", key, p.Kind)
}
