package infer

import (
	"context"
	"slices"

	"github.com/jiangyanpeng/simple-nn/internal/loader"
	"github.com/jiangyanpeng/simple-nn/internal/nn"
	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

const opNetBackend = "infer.NetBackend"

// NetBackend runs a model container on the host through nn.Net. Input and
// output dims are the graph operand shapes padded to rank 4.
type NetBackend struct {
	Unimplemented
	lifecycle
	options

	net      *nn.Net
	inDims   []tensor.Shape
	outDims  []tensor.Shape
	outNames []string
	blobs    []*tensor.Tensor
}

func NewNetBackend(opts ...Option) *NetBackend {
	return &NetBackend{options: newOptions(opts)}
}

func (b *NetBackend) Init(ctx context.Context, path string, _ loader.Config) error {
	m, err := loader.Load(ctx, path, b.loaderOpts...)
	if err != nil {
		b.set(Failed)
		return err
	}
	return b.initModel(m)
}

func (b *NetBackend) InitPackage(_ context.Context, pkg *loader.Package, cfg loader.Config) error {
	m, err := pickModel(pkg, cfg, opNetBackend)
	if err != nil {
		b.set(Failed)
		return err
	}
	return b.initModel(m)
}

func (b *NetBackend) initModel(m *loader.Model) error {
	b.release()
	if err := b.setup(m); err != nil {
		b.release()
		b.set(Failed)
		return err
	}
	b.set(Ready)
	b.log.Debug("net backend ready", "model", m.Path, "inputs", b.net.InputNames(), "outputs", b.outNames)
	return nil
}

func (b *NetBackend) setup(m *loader.Model) error {
	if m == nil || m.Size() == 0 {
		return status.New(status.FileNotFound, opNetBackend, "model is empty")
	}
	netOpts := []nn.Option{nn.WithLogger(b.log)}
	if b.registry != nil {
		netOpts = append(netOpts, nn.WithRegistry(b.registry))
	}
	net := nn.New(netOpts...)
	if err := net.InitBytes(m.Data()); err != nil {
		return err
	}

	b.inDims = make([]tensor.Shape, len(net.InputNames()))
	for i := range b.inDims {
		dims, err := net.InputShape(i)
		if err != nil {
			return err
		}
		if b.inDims[i], err = tensor.ShapeOf(dims); err != nil {
			return status.Annotate(err, opNetBackend, "input %s", net.InputNames()[i])
		}
	}

	native := net.OutputNames()
	b.outNames = native
	if len(b.outputLayers) > 0 {
		if len(b.outputLayers) != len(native) {
			return status.New(status.Failed, opNetBackend, "output layers %v do not cover graph outputs %v", b.outputLayers, native)
		}
		b.outNames = b.outputLayers
	}
	b.outDims = make([]tensor.Shape, len(b.outNames))
	for i, name := range b.outNames {
		idx := slices.Index(native, name)
		if idx < 0 {
			return status.New(status.Failed, opNetBackend, "output layer %q not in graph outputs %v", name, native)
		}
		dims, err := net.OutputShape(idx)
		if err != nil {
			return err
		}
		if b.outDims[i], err = tensor.ShapeOf(dims); err != nil {
			return status.Annotate(err, opNetBackend, "output %s", name)
		}
	}
	b.net = net
	return nil
}

func (b *NetBackend) InputNum() int  { return len(b.inDims) }
func (b *NetBackend) OutputNum() int { return len(b.outNames) }

func (b *NetBackend) InputNames() []string {
	if b.net == nil {
		return nil
	}
	return b.net.InputNames()
}

func (b *NetBackend) OutputNames() []string { return b.outNames }

func (b *NetBackend) InputDims(idx int) (tensor.Shape, error) {
	return dimsAt(b.inDims, idx, opNetBackend, "input")
}

func (b *NetBackend) OutputDims(idx int) (tensor.Shape, error) {
	return dimsAt(b.outDims, idx, opNetBackend, "output")
}

// Net exposes the built graph, nil before Init.
func (b *NetBackend) Net() *nn.Net { return b.net }

// Run splits inputs into graph-sized batches and concatenates the results
// along N. WithRange("", end) stops at layer end and returns its top blobs.
func (b *NetBackend) Run(inputs []*tensor.Tensor, opts ...RunOption) (out []*tensor.Tensor, err error) {
	ro := collectRunOptions(opts)
	if ro.start != "" {
		return nil, status.New(status.NotSupported, opNetBackend, "runs must start at the graph inputs")
	}
	if err := b.begin(opNetBackend); err != nil {
		return nil, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, status.New(status.InternalFailed, opNetBackend, "panic in run: %v", rec)
		}
		b.end(err)
	}()

	targets, err := b.targets(ro.end)
	if err != nil {
		return nil, err
	}
	feeds, batches, err := b.prepareInputs(inputs)
	if err != nil {
		return nil, err
	}

	out = make([]*tensor.Tensor, len(targets))
	for n := range batches {
		blobs := make([]*tensor.Tensor, len(b.net.Blobs()))
		for i, name := range b.net.InputNames() {
			li, _ := b.net.LayerIndex(name)
			x, err := sliceBatch(feeds[i], b.inDims[i], n)
			if err != nil {
				return nil, err
			}
			for _, top := range b.net.Layers()[li].Tops() {
				blobs[top] = x
			}
		}
		for i, t := range targets {
			if err := b.net.Forward(t.layer, blobs); err != nil {
				return nil, status.Annotate(err, opNetBackend, "batch %d", n)
			}
			y := blobs[t.blob]
			if y == nil {
				return nil, status.New(status.Failed, opNetBackend, "layer %d left blob %d empty", t.layer, t.blob)
			}
			if out[i], err = appendBatch(out[i], y, t.name, n, batches); err != nil {
				return nil, err
			}
		}
		b.blobs = blobs
	}
	return out, nil
}

type target struct {
	name        string
	layer, blob int
}

// targets lists the layer to forward and the blob to collect for every
// result, in output order.
func (b *NetBackend) targets(end string) ([]target, error) {
	if end == "" {
		ts := make([]target, len(b.outNames))
		for i, name := range b.outNames {
			li, ok := b.net.LayerIndex(name)
			if !ok {
				return nil, status.New(status.Failed, opNetBackend, "no layer %q", name)
			}
			bottoms := b.net.Layers()[li].Bottoms()
			if len(bottoms) == 0 {
				return nil, status.New(status.Failed, opNetBackend, "output %s has no bottom blob", name)
			}
			ts[i] = target{name: name, layer: li, blob: bottoms[0]}
		}
		return ts, nil
	}
	li, ok := b.net.LayerIndex(end)
	if !ok {
		return nil, status.New(status.InvalidArgument, opNetBackend, "no layer %q", end)
	}
	blobs := b.net.Layers()[li].Tops()
	if len(blobs) == 0 {
		blobs = b.net.Layers()[li].Bottoms()
	}
	if len(blobs) == 0 {
		return nil, status.New(status.InvalidArgument, opNetBackend, "layer %q has no blobs", end)
	}
	ts := make([]target, len(blobs))
	for i, blob := range blobs {
		ts[i] = target{name: b.net.Blobs()[blob].Name, layer: li, blob: blob}
	}
	return ts, nil
}

// prepareInputs validates inputs against the graph dims and returns NCHW
// copies with the number of graph-sized batches they hold.
func (b *NetBackend) prepareInputs(inputs []*tensor.Tensor) ([]*tensor.Tensor, int, error) {
	if len(inputs) == 0 || len(inputs) != b.InputNum() {
		return nil, 0, status.New(status.Failed, opNetBackend, "got %d inputs, graph has %d", len(inputs), b.InputNum())
	}
	feeds := make([]*tensor.Tensor, len(inputs))
	batches := -1
	for i, t := range inputs {
		if t == nil {
			return nil, 0, status.New(status.Failed, opNetBackend, "input %d is nil", i)
		}
		if t.DType() != tensor.Float32 {
			return nil, 0, status.New(status.NotSupported, opNetBackend, "input %d has dtype %s", i, t.DType())
		}
		want := b.inDims[i]
		n, c, h, w := t.NCHW()
		if n%want[0] != 0 || c != want[1] || h != want[2] || w != want[3] {
			return nil, 0, status.New(status.Failed, opNetBackend, "input %d shape (%d,%d,%d,%d) does not match %v", i, n, c, h, w, want)
		}
		if batches >= 0 && n/want[0] != batches {
			return nil, 0, status.New(status.Failed, opNetBackend, "input %d holds %d batches, input 0 holds %d", i, n/want[0], batches)
		}
		batches = n / want[0]

		x := t
		if t.Layout() != tensor.NCHW {
			var err error
			if x, err = t.ConvertLayout(tensor.NCHW); err != nil {
				return nil, 0, status.Annotate(err, opNetBackend, "input %d", i)
			}
		}
		feeds[i] = x
	}
	return feeds, batches, nil
}

func sliceBatch(t *tensor.Tensor, shape tensor.Shape, n int) (*tensor.Tensor, error) {
	count := shape.NumElements()
	vals, err := t.Float32sAt(n*count*4, count)
	if err != nil {
		return nil, err
	}
	x, err := tensor.FromFloat32(shape, tensor.NCHW, vals)
	if err != nil {
		return nil, err
	}
	x.SetName(t.Name())
	return x, nil
}

// appendBatch copies y into batch slot n of dst, allocating dst on the first
// batch.
func appendBatch(dst, y *tensor.Tensor, name string, n, batches int) (*tensor.Tensor, error) {
	if dst == nil {
		shape := y.Shape()
		shape[0] *= batches
		var err error
		if dst, err = tensor.New(shape, y.Layout(), tensor.CPU, y.DType()); err != nil {
			return nil, err
		}
		dst.SetName(name)
	}
	size := y.ByteSize()
	if size*batches != dst.ByteSize() {
		return nil, status.New(status.Failed, opNetBackend, "batch %d produced %v, earlier batches %v", n, y.Shape(), dst.Shape())
	}
	slot, err := dst.BytesAt(n*size, size)
	if err != nil {
		return nil, err
	}
	copy(slot, y.Bytes())
	return dst, nil
}

// GetTensorByName returns a blob of the last batch of the last run.
func (b *NetBackend) GetTensorByName(name string) (*tensor.Tensor, error) {
	if b.net == nil || b.blobs == nil {
		return nil, status.New(status.Failed, opNetBackend, "no completed run")
	}
	idx, ok := b.net.BlobIndex(name)
	if !ok {
		return nil, status.New(status.InvalidArgument, opNetBackend, "no blob %q", name)
	}
	if b.blobs[idx] == nil {
		return nil, status.New(status.FileNotFound, opNetBackend, "blob %q was not computed", name)
	}
	return b.blobs[idx], nil
}

func (b *NetBackend) Close() error {
	b.release()
	b.set(Uninitialized)
	return nil
}

func (b *NetBackend) release() {
	b.net = nil
	b.inDims, b.outDims, b.outNames = nil, nil, nil
	b.blobs = nil
}
