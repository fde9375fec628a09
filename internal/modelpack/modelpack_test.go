package modelpack

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jiangyanpeng/simple-nn/internal/graph"
	"github.com/jiangyanpeng/simple-nn/internal/mcfstore"
	"github.com/jiangyanpeng/simple-nn/pkg/mcf"
)

func sampleGraph() *graph.Graph {
	g := graph.New("fc")
	g.AddOperand("0", 1, 2, 1, 1)
	g.AddOperand("1", 1, 1, 1, 1)
	g.AddOperator("in0", "pnnx.Input", nil, []string{"0"})
	g.AddOperator("fc", "nn.Linear", []string{"0"}, []string{"1"}).
		SetParam("in_features", graph.Int(2)).
		SetParam("out_features", graph.Int(1)).
		SetAttr("weight", []int{2, 1}, []float32{1, 2})
	g.AddOperator("out0", "pnnx.Output", []string{"1"}, nil)
	return g
}

func TestDeriveIOTable(t *testing.T) {
	t.Parallel()

	recs, err := DeriveIOTable(sampleGraph(), mcf.IOUFixed8, 0.5, -3)
	if err != nil {
		t.Fatalf("DeriveIOTable: %v", err)
	}
	want := []mcf.IORecord{
		{Name: "in0", Role: mcf.RoleInput, DType: mcf.IOUFixed8, Dims: []uint32{1, 1, 1, 2}, Scale: 0.5, Offset: -3},
		{Name: "out0", Role: mcf.RoleOutput, DType: mcf.IOUFixed8, Dims: []uint32{1, 1, 1, 1}, Scale: 0.5, Offset: -3},
	}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("records = %+v, want %+v", recs, want)
	}
}

func TestParseIOTable(t *testing.T) {
	t.Parallel()

	recs, err := ParseIOTable([]byte(`
- name: in0
  role: input
  dtype: ufixed16
  dims: [1, 4, 4, 3]
  scale: 0.25
  offset: -128
- name: out0
  role: output
  dtype: float32
  dims: [1, 10]
`))
	if err != nil {
		t.Fatalf("ParseIOTable: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records", len(recs))
	}
	if recs[0].DType != mcf.IOUFixed16 || recs[0].Offset != -128 || recs[0].Scale != 0.25 {
		t.Fatalf("input record = %+v", recs[0])
	}
	if recs[1].Role != mcf.RoleOutput || !reflect.DeepEqual(recs[1].Dims, []uint32{1, 10}) {
		t.Fatalf("output record = %+v", recs[1])
	}

	bad := []string{
		"- {name: x, role: sideways, dtype: float32, dims: [1]}",
		"- {name: x, role: input, dtype: float128, dims: [1]}",
		"- {name: x, role: input, dtype: float32, dims: [0]}",
		"not: a list",
	}
	for _, doc := range bad {
		if _, err := ParseIOTable([]byte(doc)); err == nil {
			t.Errorf("ParseIOTable(%q) succeeded", doc)
		}
	}
}

func TestPackRoundTrip(t *testing.T) {
	t.Parallel()

	g := sampleGraph()
	io, err := DeriveIOTable(g, mcf.IOFloat32, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "fc.mcf")
	if err := Pack(path, g, Options{IOTable: io}); err != nil {
		t.Fatalf("Pack: %v", err)
	}

	f, err := mcfstore.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	table, err := f.IOTable()
	if err != nil {
		t.Fatalf("IOTable: %v", err)
	}
	if !reflect.DeepEqual(table.Records, io) {
		t.Fatalf("io table = %+v, want %+v", table.Records, io)
	}
	got, err := graph.FromContainer(f)
	if err != nil {
		t.Fatalf("FromContainer: %v", err)
	}
	op, ok := got.Operator("fc")
	if !ok {
		t.Fatal("fc missing")
	}
	if w := op.Attrs["weight"].Data; !reflect.DeepEqual(w, []float32{1, 2}) {
		t.Fatalf("weight = %v", w)
	}

	data, err := PackBytes(g, Options{Inline: true})
	if err != nil {
		t.Fatalf("PackBytes: %v", err)
	}
	mem, err := mcfstore.OpenBytes(data)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	defer func() { _ = mem.Close() }()
	if names := mem.TensorNames(); len(names) != 0 {
		t.Fatalf("inline pack stored tensors %v", names)
	}
}

func TestLoadGraphWithWeightsFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	desc := filepath.Join(dir, "fc.yaml")
	weights := filepath.Join(dir, "weights.json")
	writeFile(t, desc, `
name: fc
operands:
  - {name: "0", shape: [1, 2]}
  - {name: "1", shape: [1, 1]}
operators:
  - {name: in0, type: pnnx.Input, outputs: ["0"]}
  - name: fc
    type: nn.Linear
    inputs: ["0"]
    outputs: ["1"]
    params: {in_features: 2, out_features: 1}
    attrs:
      weight: {dtype: float32, shape: [2, 1]}
  - {name: out0, type: pnnx.Output, inputs: ["1"]}
`)
	writeFile(t, weights, `{"fc.weight": {"shape": [2, 1], "data": [3, 4]}}`)

	wf, err := ReadWeights(weights)
	if err != nil {
		t.Fatalf("ReadWeights: %v", err)
	}
	g, err := LoadGraph(desc, wf)
	if err != nil {
		t.Fatalf("LoadGraph: %v", err)
	}
	op, _ := g.Operator("fc")
	if w := op.Attrs["weight"].Data; !reflect.DeepEqual(w, []float32{3, 4}) {
		t.Fatalf("weight = %v", w)
	}

	if _, _, err := wf.LoadWeight("fc.bias"); err == nil {
		t.Fatal("missing weight resolved")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIODTypeNames(t *testing.T) {
	t.Parallel()

	for name := range ioDTypes {
		dt, ok := IODType(name)
		if !ok {
			t.Fatalf("IODType(%q) not found", name)
		}
		if got := IODTypeName(dt); got != name {
			t.Fatalf("IODTypeName(%d) = %q, want %q", dt, got, name)
		}
	}
	if _, ok := IODType("bfloat16"); ok {
		t.Fatal("bfloat16 must not resolve")
	}
}
