package refdevice

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiangyanpeng/simple-nn/internal/accel"
	"github.com/jiangyanpeng/simple-nn/internal/modeltest"
	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
	"github.com/jiangyanpeng/simple-nn/pkg/mcf"
)

func f32le(vals ...float32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func TestCreateGraphFloat(t *testing.T) {
	t.Parallel()

	g := modeltest.Linear()
	_, bin := modeltest.Pack(t, g, modeltest.IOTable(t, g, mcf.IOFloat32, 0, 0))

	d := New()
	_, err := d.CreateGraph(bin)
	assert.True(t, status.Is(err, status.Failed), "closed device: %v", err)

	require.NoError(t, d.Open(accel.DefaultOptions()))
	assert.Equal(t, accel.DefaultBackendLib, d.Options().BackendLibPath)

	gr, err := d.CreateGraph(bin)
	require.NoError(t, err)
	require.Len(t, gr.Inputs(), 1)
	require.Len(t, gr.Outputs(), 1)
	assert.Equal(t, accel.TensorInfo{Name: "in0", DType: tensor.Float32, Dims: []int{1, 1, 1, 2}}, gr.Inputs()[0])
	assert.Equal(t, "out0", gr.Outputs()[0].Name)

	out := make([]byte, 4)
	require.NoError(t, gr.Execute([][]byte{f32le(3, 4)}, [][]byte{out}))
	assert.Equal(t, f32le(11.5), out)
	assert.Equal(t, int64(1), d.Executions())

	require.NoError(t, gr.Free())
	assert.True(t, status.Is(gr.Execute([][]byte{f32le(3, 4)}, [][]byte{out}), status.Failed))
	require.NoError(t, d.Close())
}

func TestWrapperOverReferenceDevice(t *testing.T) {
	t.Parallel()

	g := modeltest.Linear()
	_, bin := modeltest.Pack(t, g, modeltest.IOTable(t, g, mcf.IOUFixed8, 0.5, 0))

	d := New()
	w := accel.NewWrapper(d)
	require.NoError(t, w.Init(accel.Options{}))
	require.NoError(t, w.CreateGraphs(bin))
	defer func() { _ = w.Close() }()

	require.NoError(t, w.PopulateInputs([][]byte{f32le(3, 4)}, accel.FloatData, tensor.NCHW))
	require.NoError(t, w.Execute())
	out := make([]byte, 4)
	require.NoError(t, w.PopulateOutputs([][]byte{out}, accel.FloatData))
	// 11.5 quantizes to 23 at scale 0.5 and decodes exactly.
	assert.Equal(t, f32le(11.5), out)
	assert.Equal(t, int64(1), d.Executions())
}

func TestCreateGraphRejects(t *testing.T) {
	t.Parallel()

	g := modeltest.Linear()
	_, noIO := modeltest.Pack(t, g, nil)

	renamed := modeltest.IOTable(t, g, mcf.IOFloat32, 0, 0)
	renamed[0].Name = "image"
	_, badName := modeltest.Pack(t, g, renamed)

	resized := modeltest.IOTable(t, g, mcf.IOFloat32, 0, 0)
	resized[0].Dims = []uint32{1, 3}
	_, badDims := modeltest.Pack(t, g, resized)

	extra := append(modeltest.IOTable(t, g, mcf.IOFloat32, 0, 0),
		mcf.IORecord{Name: "aux", Role: mcf.RoleOutput, DType: mcf.IOFloat32, Dims: []uint32{1}})
	_, badCount := modeltest.Pack(t, g, extra)

	d := New()
	require.NoError(t, d.Open(accel.Options{}))
	cases := map[string][]byte{
		"garbage":        []byte("not a container"),
		"no io table":    noIO,
		"name mismatch":  badName,
		"dims mismatch":  badDims,
		"count mismatch": badCount,
	}
	for name, bin := range cases {
		_, err := d.CreateGraph(bin)
		assert.True(t, status.Is(err, status.InvalidArgument), "%s: %v", name, err)
	}
}
