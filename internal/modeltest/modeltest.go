// Package modeltest builds small model containers for tests.
package modeltest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jiangyanpeng/simple-nn/internal/graph"
	"github.com/jiangyanpeng/simple-nn/internal/modelpack"
	"github.com/jiangyanpeng/simple-nn/pkg/mcf"
)

// Linear is in0 -> fc -> out0 computing x0 + 2*x1 + 0.5 over operands of
// shape (1,2,1,1) and (1,1,1,1).
func Linear() *graph.Graph {
	g := graph.New("linear")
	g.AddOperand("0", 1, 2, 1, 1)
	g.AddOperand("1", 1, 1, 1, 1)
	g.AddOperator("in0", "pnnx.Input", nil, []string{"0"})
	g.AddOperator("fc", "nn.Linear", []string{"0"}, []string{"1"}).
		SetParam("in_features", graph.Int(2)).
		SetParam("out_features", graph.Int(1)).
		SetParam("bias", graph.Bool(true)).
		SetAttr("weight", []int{2, 1}, []float32{1, 2}).
		SetAttr("bias", []int{1}, []float32{0.5})
	g.AddOperator("out0", "pnnx.Output", []string{"1"}, nil)
	return g
}

// IOTable derives an IO table for g, failing the test on error.
func IOTable(tb testing.TB, g *graph.Graph, dtype mcf.IODType, scale float32, offset int32) []mcf.IORecord {
	tb.Helper()
	recs, err := modelpack.DeriveIOTable(g, dtype, scale, offset)
	if err != nil {
		tb.Fatalf("derive io table: %v", err)
	}
	return recs
}

// Pack writes g (with io, when non-empty) into a temp dir and returns the
// path and the container bytes.
func Pack(tb testing.TB, g *graph.Graph, io []mcf.IORecord) (string, []byte) {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), g.Name+".mcf")
	if err := modelpack.Pack(path, g, modelpack.Options{IOTable: io}); err != nil {
		tb.Fatalf("pack %s: %v", g.Name, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		tb.Fatalf("read %s: %v", path, err)
	}
	return path, data
}
