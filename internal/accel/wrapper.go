package accel

import (
	"encoding/binary"
	"errors"
	"math"
	"unsafe"

	"github.com/jiangyanpeng/simple-nn/internal/logger"
	"github.com/jiangyanpeng/simple-nn/internal/quant"
	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

const opWrapper = "accel.Wrapper"

// DataKind says how caller buffers are encoded.
type DataKind int

const (
	// FloatData buffers hold float32 and are converted to the native type.
	FloatData DataKind = iota
	// NativeData buffers are already in the native encoding.
	NativeData
)

func (k DataKind) String() string {
	if k == NativeData {
		return "NATIVE"
	}
	return "FLOAT"
}

// Wrapper drives one Device and one Graph.
type Wrapper struct {
	dev   Device
	alloc Allocator
	codec *quant.Codec
	log   logger.Logger

	opened  bool
	graph   Graph
	inputs  []TensorInfo
	outputs []TensorInfo
	inBufs  [][]byte
	outBufs [][]byte
}

type WrapperOption func(*Wrapper)

func WithAllocator(a Allocator) WrapperOption {
	return func(w *Wrapper) { w.alloc = a }
}

func WithCodec(c *quant.Codec) WrapperOption {
	return func(w *Wrapper) { w.codec = c }
}

func WithLogger(l logger.Logger) WrapperOption {
	return func(w *Wrapper) { w.log = l }
}

func NewWrapper(dev Device, opts ...WrapperOption) *Wrapper {
	w := &Wrapper{dev: dev, log: logger.Discard()}
	for _, opt := range opts {
		opt(w)
	}
	if w.alloc == nil {
		w.alloc = NewTrackingAllocator(nil, w.log)
	}
	if w.codec == nil {
		w.codec = quant.NewCodec()
	}
	return w
}

// Init opens the device libraries.
func (w *Wrapper) Init(opts Options) error {
	if w.dev == nil {
		return status.New(status.Failed, opWrapper, "no device")
	}
	opts = opts.Normalized()
	w.log.Debug("opening device", "backend", opts.BackendLibPath, "system", opts.SystemLibPath,
		"signed_pd", opts.UseSignedPD, "vndk", opts.UseVNDK)
	if err := w.dev.Open(opts); err != nil {
		return status.Annotate(err, opWrapper, "open device")
	}
	w.opened = true
	return nil
}

// CreateGraphs loads a context binary and allocates the native tensors. On
// failure everything created so far is released.
func (w *Wrapper) CreateGraphs(binary []byte) error {
	if !w.opened {
		return status.New(status.Failed, opWrapper, "device is not open")
	}
	if w.graph != nil {
		_ = w.freeGraphs()
	}
	g, err := w.dev.CreateGraph(binary)
	if err != nil {
		return status.Wrap(err, status.Failed, opWrapper, "create graph from binary")
	}
	w.graph = g
	w.inputs, w.outputs = g.Inputs(), g.Outputs()
	if err := w.setupTensors(); err != nil {
		_ = w.freeGraphs()
		return err
	}
	return nil
}

func (w *Wrapper) setupTensors() error {
	if len(w.inputs) == 0 || len(w.outputs) == 0 {
		return status.New(status.Failed, opWrapper, "graph has %d inputs and %d outputs", len(w.inputs), len(w.outputs))
	}
	for _, set := range [][]TensorInfo{w.inputs, w.outputs} {
		for _, ti := range set {
			if ti.DType.Size() == 0 || ti.Elems() < 1 || len(ti.Dims) == 0 {
				return status.New(status.Failed, opWrapper, "tensor %q: bad type %s or dims %v", ti.Name, ti.DType, ti.Dims)
			}
		}
	}
	w.inBufs = make([][]byte, len(w.inputs))
	for i, ti := range w.inputs {
		w.inBufs[i] = w.alloc.Malloc(ti.NativeBytes())
	}
	w.outBufs = make([][]byte, len(w.outputs))
	for i, ti := range w.outputs {
		w.outBufs[i] = w.alloc.Malloc(ti.NativeBytes())
	}
	return nil
}

func (w *Wrapper) tearDownTensors() {
	for _, b := range w.inBufs {
		w.alloc.Free(b)
	}
	for _, b := range w.outBufs {
		w.alloc.Free(b)
	}
	w.inBufs, w.outBufs = nil, nil
}

// freeGraphs releases tensors, then the context, then the graph info.
func (w *Wrapper) freeGraphs() error {
	w.tearDownTensors()
	var err error
	if w.graph != nil {
		err = w.graph.Free()
		w.graph = nil
	}
	w.inputs, w.outputs = nil, nil
	return err
}

func (w *Wrapper) InputNames() []string  { return names(w.inputs) }
func (w *Wrapper) OutputNames() []string { return names(w.outputs) }

// InputInfo and OutputInfo expose the native tensor descriptions.
func (w *Wrapper) InputInfo() []TensorInfo  { return w.inputs }
func (w *Wrapper) OutputInfo() []TensorInfo { return w.outputs }

func names(ts []TensorInfo) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name
	}
	return out
}

// PopulateInputs fills the native input tensors. FloatData buffers are
// encoded to the native type; layout is the layout of those float buffers,
// and NCHW data is transposed into the native channel-last order.
func (w *Wrapper) PopulateInputs(bufs [][]byte, kind DataKind, layout tensor.Layout) error {
	if w.inBufs == nil {
		return status.New(status.Failed, opWrapper, "input tensors are not set up")
	}
	if len(bufs) != len(w.inputs) {
		return status.New(status.Failed, opWrapper, "got %d input buffers, graph has %d", len(bufs), len(w.inputs))
	}
	for i, ti := range w.inputs {
		if err := w.populateInput(bufs[i], w.inBufs[i], ti, kind, layout); err != nil {
			return status.Annotate(err, opWrapper, "input %d (%s)", i, ti.Name)
		}
	}
	return nil
}

func (w *Wrapper) populateInput(src, native []byte, ti TensorInfo, kind DataKind, layout tensor.Layout) error {
	want := ti.NativeBytes()
	if kind == FloatData {
		want = ti.FloatBytes()
	}
	if len(src) != want {
		return status.New(status.InvalidArgument, opWrapper, "buffer has %d bytes, want %d", len(src), want)
	}
	if kind == NativeData || ti.DType == tensor.Float32 {
		copy(native, src)
		return nil
	}
	floats, _ := floatView(src)
	return w.codec.FromFloat(native, ti.DType, ti.Quant, floats, ti.Dims, layout == tensor.NCHW)
}

// Execute runs the graph once over the populated native tensors.
func (w *Wrapper) Execute() error {
	if w.graph == nil {
		return status.New(status.Failed, opWrapper, "no graph")
	}
	if err := w.graph.Execute(w.inBufs, w.outBufs); err != nil {
		return status.Annotate(err, opWrapper, "execute")
	}
	return nil
}

// PopulateOutputs decodes the native outputs into float32 NCHW buffers.
func (w *Wrapper) PopulateOutputs(bufs [][]byte, kind DataKind) error {
	if kind != FloatData {
		return status.New(status.NotSupported, opWrapper, "only FLOAT outputs can be populated")
	}
	if w.outBufs == nil {
		return status.New(status.Failed, opWrapper, "output tensors are not set up")
	}
	if len(bufs) != len(w.outputs) {
		return status.New(status.Failed, opWrapper, "got %d output buffers, graph has %d", len(bufs), len(w.outputs))
	}
	for i, ti := range w.outputs {
		if len(bufs[i]) != ti.FloatBytes() {
			return status.New(status.InvalidArgument, opWrapper, "output %d (%s): buffer has %d bytes, want %d",
				i, ti.Name, len(bufs[i]), ti.FloatBytes())
		}
		if ti.DType == tensor.Float32 {
			copy(bufs[i], w.outBufs[i])
			continue
		}
		floats, inPlace := floatView(bufs[i])
		if err := w.codec.ToFloat(floats, w.outBufs[i], ti.DType, ti.Quant, ti.Dims, true); err != nil {
			return status.Annotate(err, opWrapper, "output %d (%s)", i, ti.Name)
		}
		if !inPlace {
			putFloats(bufs[i], floats)
		}
	}
	return nil
}

// Close releases tensors, context and graph info, then the device libraries.
func (w *Wrapper) Close() error {
	errGraph := w.freeGraphs()
	var errDev error
	if w.opened {
		errDev = w.dev.Close()
		w.opened = false
	}
	return errors.Join(errGraph, errDev)
}

// floatView views b as little-endian float32s. A buffer that is not 4-byte
// aligned is decoded into a copy instead, and inPlace is false.
func floatView(b []byte) (floats []float32, inPlace bool) {
	n := len(b) / 4
	if n == 0 {
		return nil, true
	}
	if uintptr(unsafe.Pointer(&b[0]))%4 == 0 {
		return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), n), true
	}
	floats = make([]float32, n)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return floats, false
}

func putFloats(b []byte, floats []float32) {
	for i, v := range floats {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
}
