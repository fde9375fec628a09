// Package modelpack writes model containers from a parsed graph, optional
// external weights and an optional accelerator IO table.
package modelpack

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/jiangyanpeng/simple-nn/internal/graph"
	"github.com/jiangyanpeng/simple-nn/pkg/mcf"
)

type Options struct {
	// IOTable makes the container usable as an accelerator context binary.
	IOTable []mcf.IORecord
	// Inline stores attribute data in the graph description instead of the
	// tensor sections.
	Inline      bool
	TensorAlign int
}

// Pack writes g to path.
func Pack(path string, g *graph.Graph, opts Options) error {
	desc, weights, err := graph.Encode(g, opts.Inline)
	if err != nil {
		return err
	}
	tensors := make([]mcf.PackTensor, 0, len(weights))
	for _, w := range weights {
		shape := make([]uint64, len(w.Shape))
		for i, d := range w.Shape {
			shape[i] = uint64(d)
		}
		if len(shape) == 0 {
			shape = []uint64{uint64(len(w.Data))}
		}
		tensors = append(tensors, mcf.PackTensor{
			Name:  w.Name,
			DType: mcf.DTypeF32,
			Shape: shape,
			Data:  float32LE(w.Data),
		})
	}
	return mcf.Pack(mcf.PackOptions{
		OutputPath:  path,
		Graph:       desc,
		IOTable:     opts.IOTable,
		Tensors:     tensors,
		TensorAlign: opts.TensorAlign,
	})
}

// PackBytes is Pack into memory.
func PackBytes(g *graph.Graph, opts Options) ([]byte, error) {
	f, err := os.CreateTemp("", "simplenn-*.mcf")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	_ = f.Close()
	defer func() { _ = os.Remove(path) }()
	if err := Pack(path, g, opts); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func float32LE(vals []float32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

// LoadGraph decodes a graph description file. Files ending in .yaml or .yml
// are YAML, anything else JSON. Weights not inline in the description are
// looked up in ws.
func LoadGraph(path string, ws graph.WeightSource) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if isYAML(path) {
		return graph.DecodeYAML(data, ws)
	}
	return graph.Decode(data, ws)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// WeightFile is a JSON document of named float32 tensors:
//
//	{"fc.weight": {"shape": [2, 1], "data": [1, 2]}}
type WeightFile map[string]struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// ReadWeights parses a weights JSON file.
func ReadWeights(path string) (WeightFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wf WeightFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("weights %s: %w", path, err)
	}
	return wf, nil
}

func (wf WeightFile) LoadWeight(name string) ([]float32, []int, error) {
	w, ok := wf[name]
	if !ok {
		return nil, nil, fmt.Errorf("weight %q not in weights file", name)
	}
	shape := w.Shape
	if len(shape) == 0 {
		shape = []int{len(w.Data)}
	}
	return w.Data, shape, nil
}

// IOEntry is one row of an IO table description.
type IOEntry struct {
	Name   string  `yaml:"name"`
	Role   string  `yaml:"role"`
	DType  string  `yaml:"dtype"`
	Dims   []int   `yaml:"dims"`
	Scale  float32 `yaml:"scale"`
	Offset int32   `yaml:"offset"`
}

// ParseIOTable reads a YAML list of IO entries. Records keep list order per
// role.
func ParseIOTable(data []byte) ([]mcf.IORecord, error) {
	var entries []IOEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("io table: %w", err)
	}
	recs := make([]mcf.IORecord, 0, len(entries))
	for i, e := range entries {
		rec, err := e.record()
		if err != nil {
			return nil, fmt.Errorf("io table entry %d: %w", i, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (e IOEntry) record() (mcf.IORecord, error) {
	rec := mcf.IORecord{Name: e.Name, Scale: e.Scale, Offset: e.Offset}
	switch e.Role {
	case "input":
		rec.Role = mcf.RoleInput
	case "output":
		rec.Role = mcf.RoleOutput
	default:
		return rec, fmt.Errorf("role %q is not input or output", e.Role)
	}
	dt, ok := ioDTypes[e.DType]
	if !ok {
		return rec, fmt.Errorf("unknown dtype %q", e.DType)
	}
	rec.DType = dt
	for _, d := range e.Dims {
		if d < 1 {
			return rec, fmt.Errorf("dims %v must be >= 1", e.Dims)
		}
		rec.Dims = append(rec.Dims, uint32(d))
	}
	return rec, nil
}

var ioDTypes = map[string]mcf.IODType{
	"float32":  mcf.IOFloat32,
	"float16":  mcf.IOFloat16,
	"int8":     mcf.IOInt8,
	"int16":    mcf.IOInt16,
	"int32":    mcf.IOInt32,
	"int64":    mcf.IOInt64,
	"uint8":    mcf.IOUint8,
	"uint16":   mcf.IOUint16,
	"uint32":   mcf.IOUint32,
	"uint64":   mcf.IOUint64,
	"ufixed8":  mcf.IOUFixed8,
	"ufixed16": mcf.IOUFixed16,
	"ufixed32": mcf.IOUFixed32,
	"sfixed8":  mcf.IOSFixed8,
	"sfixed16": mcf.IOSFixed16,
	"sfixed32": mcf.IOSFixed32,
	"bool8":    mcf.IOBool8,
}

// IODType resolves a dtype name as used in IO table descriptions.
func IODType(name string) (mcf.IODType, bool) {
	dt, ok := ioDTypes[name]
	return dt, ok
}

// IODTypeName is the inverse of IODType.
func IODTypeName(dt mcf.IODType) string {
	for name, v := range ioDTypes {
		if v == dt {
			return name
		}
	}
	return fmt.Sprintf("iodtype(%d)", uint32(dt))
}

// DeriveIOTable builds an IO table from the graph endpoints: one record per
// operator without inputs (role input, its first output operand) and per
// operator without outputs (role output, its first input operand). Rank-4
// operand shapes (n,c,h,w) become native (n,h,w,c).
func DeriveIOTable(g *graph.Graph, dtype mcf.IODType, scale float32, offset int32) ([]mcf.IORecord, error) {
	var recs []mcf.IORecord
	add := func(op *graph.Operator, role mcf.IORole, operands []*graph.Operand) error {
		if len(operands) == 0 {
			return fmt.Errorf("operator %s has no %s operand", op.Name, role)
		}
		shape := operands[0].Shape
		if len(shape) == 0 {
			return fmt.Errorf("operand %s has no shape", operands[0].Name)
		}
		if len(shape) == 4 {
			shape = []int{shape[0], shape[2], shape[3], shape[1]}
		}
		dims := make([]uint32, len(shape))
		for i, d := range shape {
			dims[i] = uint32(d)
		}
		recs = append(recs, mcf.IORecord{Name: op.Name, Role: role, DType: dtype, Dims: dims, Scale: scale, Offset: offset})
		return nil
	}
	for _, op := range g.Inputs() {
		if err := add(op, mcf.RoleInput, op.Outputs); err != nil {
			return nil, err
		}
	}
	for _, op := range g.Outputs() {
		if err := add(op, mcf.RoleOutput, op.Inputs); err != nil {
			return nil, err
		}
	}
	return recs, nil
}
