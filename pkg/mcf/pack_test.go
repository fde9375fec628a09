package mcf

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func f32Bytes(vals ...float32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func TestPackRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "net.mcf")
	graph := []byte(`{"name":"linear"}`)
	err := Pack(PackOptions{
		OutputPath: path,
		Graph:      graph,
		IOTable: []IORecord{
			{Name: "x", Role: RoleInput, DType: IOUFixed8, Dims: []uint32{1, 1, 1, 2}, Scale: 0.5, Offset: -3},
			{Name: "y", Role: RoleOutput, DType: IOFloat32, Dims: []uint32{1, 1}},
		},
		Tensors: []PackTensor{
			{Name: "fc.weight", DType: DTypeF32, Shape: []uint64{2, 1}, Data: f32Bytes(1, 2)},
			{Name: "fc.bias", DType: DTypeF32, Shape: []uint64{1}, Data: f32Bytes(0.5)},
		},
	})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = f.Close() }()

	g, err := f.RequireSection(SectionGraph)
	if err != nil || string(g) != string(graph) {
		t.Fatalf("graph section = %q, %v", g, err)
	}
	if f.Header.Flags&FlagTensorDataAligned64 == 0 {
		t.Fatalf("aligned flag not set")
	}

	iotRaw, err := f.RequireSection(SectionIOTable)
	if err != nil {
		t.Fatalf("io table: %v", err)
	}
	iot, err := ParseIOTableSection(iotRaw)
	if err != nil {
		t.Fatalf("parse io table: %v", err)
	}
	in := iot.Inputs()
	if len(in) != 1 || in[0].Name != "x" || in[0].Scale != 0.5 || in[0].Offset != -3 || in[0].DType != IOUFixed8 {
		t.Fatalf("inputs = %+v", in)
	}
	if len(in[0].Dims) != 4 || in[0].Dims[3] != 2 {
		t.Fatalf("input dims = %v", in[0].Dims)
	}
	if out := iot.Outputs(); len(out) != 1 || out[0].Name != "y" || len(out[0].Dims) != 2 {
		t.Fatalf("outputs = %+v", out)
	}

	idxRaw, err := f.RequireSection(SectionTensorIndex)
	if err != nil {
		t.Fatalf("tensor index: %v", err)
	}
	idx, err := ParseTensorIndexSection(idxRaw)
	if err != nil {
		t.Fatalf("parse tensor index: %v", err)
	}
	i, ok := idx.Find("fc.weight")
	if !ok {
		t.Fatalf("fc.weight not found")
	}
	e, err := idx.Entry(i)
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if e.DataOff%64 != 0 {
		t.Fatalf("tensor data offset %d not 64-byte aligned", e.DataOff)
	}
	data, err := idx.TensorData(f, i)
	if err != nil {
		t.Fatalf("tensor data: %v", err)
	}
	if string(data) != string(f32Bytes(1, 2)) {
		t.Fatalf("weight payload mismatch")
	}
}

func TestOpenBytesMatchesOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "g.mcf")
	if err := Pack(PackOptions{OutputPath: path, Graph: []byte(`{}`)}); err != nil {
		t.Fatalf("pack: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := OpenBytes(raw)
	if err != nil {
		t.Fatalf("OpenBytes: %v", err)
	}
	if _, err := f.RequireSection(SectionTensorIndex); !errors.Is(err, ErrMissingSection) {
		t.Fatalf("missing section error = %v", err)
	}

	raw[0] = 'X'
	if _, err := OpenBytes(raw); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("bad magic error = %v", err)
	}
	if _, err := OpenBytes(raw[:10]); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("short file error = %v", err)
	}
}

func TestPackRejectsSizeMismatch(t *testing.T) {
	t.Parallel()

	err := Pack(PackOptions{
		OutputPath: filepath.Join(t.TempDir(), "bad.mcf"),
		Graph:      []byte(`{}`),
		Tensors:    []PackTensor{{Name: "w", DType: DTypeF32, Shape: []uint64{3}, Data: f32Bytes(1, 2)}},
	})
	if err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

func TestIOTableRejectsCorruption(t *testing.T) {
	t.Parallel()

	raw, err := EncodeIOTableSection([]IORecord{{Name: "in", Role: RoleInput, DType: IOFloat32, Dims: []uint32{1, 3}}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := ParseIOTableSection(raw[:len(raw)-1]); err == nil {
		t.Fatalf("truncated table parsed")
	}
	bad := append([]byte(nil), raw...)
	bad[ioTableHeaderSize+9] = byte(ioDTypeCount)
	if _, err := ParseIOTableSection(bad); err == nil {
		t.Fatalf("bad dtype parsed")
	}
	if _, err := EncodeIOTableSection([]IORecord{{Name: "a"}, {Name: "a"}}); err == nil {
		t.Fatalf("duplicate names encoded")
	}
}
