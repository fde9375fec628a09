// Package refdevice is an accel.Device that executes context binaries on the
// host. A context binary is a model container carrying an IO table; the graph
// runs through nn.Net while the native tensors keep the encodings the table
// declares, so the whole quantize/execute/dequantize path can be exercised
// without accelerator hardware.
package refdevice

import (
	"sync/atomic"

	"github.com/jiangyanpeng/simple-nn/internal/accel"
	"github.com/jiangyanpeng/simple-nn/internal/logger"
	"github.com/jiangyanpeng/simple-nn/internal/mcfstore"
	"github.com/jiangyanpeng/simple-nn/internal/nn"
	"github.com/jiangyanpeng/simple-nn/internal/quant"
	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
	"github.com/jiangyanpeng/simple-nn/pkg/mcf"
)

const opDevice = "refdevice"

type Device struct {
	log      logger.Logger
	registry *nn.Registry
	codec    *quant.Codec

	opts   accel.Options
	opened bool
	execs  atomic.Int64
}

type Option func(*Device)

func WithLogger(l logger.Logger) Option {
	return func(d *Device) { d.log = l }
}

// WithRegistry sets the layer registry used to build graphs.
func WithRegistry(r *nn.Registry) Option {
	return func(d *Device) { d.registry = r }
}

func New(opts ...Option) *Device {
	d := &Device{log: logger.Discard(), codec: quant.NewCodec()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open records the options. There are no libraries to load.
func (d *Device) Open(opts accel.Options) error {
	if d.opened {
		d.log.Warn("device opened twice", "backend", opts.BackendLibPath)
	}
	d.opts = opts
	d.opened = true
	d.log.Debug("reference device opened", "backend", opts.BackendLibPath, "system", opts.SystemLibPath)
	return nil
}

func (d *Device) Close() error {
	d.opened = false
	return nil
}

// Options returns what Open was called with.
func (d *Device) Options() accel.Options { return d.opts }

// Executions counts successful graph executions across all graphs.
func (d *Device) Executions() int64 { return d.execs.Load() }

// CreateGraph builds a graph from a container image holding an IO table.
func (d *Device) CreateGraph(binary []byte) (accel.Graph, error) {
	if !d.opened {
		return nil, status.New(status.Failed, opDevice, "device is not open")
	}
	f, err := mcfstore.OpenBytes(binary)
	if err != nil {
		return nil, status.Wrap(err, status.InvalidArgument, opDevice, "open context binary")
	}
	table, err := f.IOTable()
	_ = f.Close()
	if err != nil {
		return nil, status.Wrap(err, status.InvalidArgument, opDevice, "context binary has no io table")
	}

	var netOpts []nn.Option
	if d.registry != nil {
		netOpts = append(netOpts, nn.WithRegistry(d.registry))
	}
	net := nn.New(append(netOpts, nn.WithLogger(d.log))...)
	if err := net.InitBytes(binary); err != nil {
		return nil, status.Annotate(err, opDevice, "build graph")
	}

	g := &graph{dev: d, net: net}
	if g.inputs, g.inShapes, err = bind(table.Inputs(), net.InputNames(), net.InputShape); err != nil {
		return nil, status.Annotate(err, opDevice, "inputs")
	}
	if g.outputs, g.outShapes, err = bind(table.Outputs(), net.OutputNames(), net.OutputShape); err != nil {
		return nil, status.Annotate(err, opDevice, "outputs")
	}
	d.log.Debug("graph created", "name", net.Name(), "inputs", len(g.inputs), "outputs", len(g.outputs))
	return g, nil
}

// bind pairs IO records with the net endpoints of the same position.
func bind(recs []mcf.IORecord, names []string, shapeOf func(int) ([]int, error)) ([]accel.TensorInfo, []tensor.Shape, error) {
	if len(recs) != len(names) {
		return nil, nil, status.New(status.InvalidArgument, opDevice, "io table has %d records, graph has %d", len(recs), len(names))
	}
	infos := make([]accel.TensorInfo, len(recs))
	shapes := make([]tensor.Shape, len(recs))
	for i, rec := range recs {
		if rec.Name != names[i] {
			return nil, nil, status.New(status.InvalidArgument, opDevice, "record %d is %q, graph endpoint is %q", i, rec.Name, names[i])
		}
		dt, err := dataType(rec.DType)
		if err != nil {
			return nil, nil, err
		}
		info := accel.TensorInfo{
			Name:  rec.Name,
			DType: dt,
			Dims:  make([]int, len(rec.Dims)),
			Quant: quant.Params{Scale: rec.Scale, Offset: rec.Offset},
		}
		for k, v := range rec.Dims {
			info.Dims[k] = int(v)
		}
		dims, err := shapeOf(i)
		if err != nil {
			return nil, nil, err
		}
		shape, err := tensor.ShapeOf(dims)
		if err != nil {
			return nil, nil, err
		}
		if shape.NumElements() != info.Elems() {
			return nil, nil, status.New(status.InvalidArgument, opDevice, "%s: native dims %v do not match operand shape %v", rec.Name, info.Dims, dims)
		}
		infos[i], shapes[i] = info, shape
	}
	return infos, shapes, nil
}

func dataType(dt mcf.IODType) (tensor.DataType, error) {
	switch dt {
	case mcf.IOFloat32:
		return tensor.Float32, nil
	case mcf.IOFloat16:
		return tensor.Float16, nil
	case mcf.IOInt8:
		return tensor.Int8, nil
	case mcf.IOInt16:
		return tensor.Int16, nil
	case mcf.IOInt32:
		return tensor.Int32, nil
	case mcf.IOInt64:
		return tensor.Int64, nil
	case mcf.IOUint8:
		return tensor.Uint8, nil
	case mcf.IOUint16:
		return tensor.Uint16, nil
	case mcf.IOUint32:
		return tensor.Uint32, nil
	case mcf.IOUint64:
		return tensor.Uint64, nil
	case mcf.IOUFixed8:
		return tensor.UFixed8, nil
	case mcf.IOUFixed16:
		return tensor.UFixed16, nil
	case mcf.IOUFixed32:
		return tensor.UFixed32, nil
	case mcf.IOSFixed8:
		return tensor.SFixed8, nil
	case mcf.IOSFixed16:
		return tensor.SFixed16, nil
	case mcf.IOSFixed32:
		return tensor.SFixed32, nil
	case mcf.IOBool8:
		return tensor.Bool8, nil
	}
	return 0, status.New(status.NotSupported, opDevice, "io dtype %d", dt)
}

type graph struct {
	dev       *Device
	net       *nn.Net
	inputs    []accel.TensorInfo
	outputs   []accel.TensorInfo
	inShapes  []tensor.Shape
	outShapes []tensor.Shape
}

func (g *graph) Inputs() []accel.TensorInfo  { return g.inputs }
func (g *graph) Outputs() []accel.TensorInfo { return g.outputs }

// Execute decodes each native input to an NCHW float tensor, runs the net and
// encodes the results back into the native outputs.
func (g *graph) Execute(in, out [][]byte) error {
	if g.net == nil {
		return status.New(status.Failed, opDevice, "graph is freed")
	}
	if len(in) != len(g.inputs) || len(out) != len(g.outputs) {
		return status.New(status.InvalidArgument, opDevice, "got %d/%d buffers, graph has %d/%d",
			len(in), len(out), len(g.inputs), len(g.outputs))
	}
	codec := g.dev.codec
	feeds := make(map[string]*tensor.Tensor, len(in))
	for i, ti := range g.inputs {
		x, err := tensor.New(g.inShapes[i], tensor.NCHW, tensor.CPU, tensor.Float32)
		if err != nil {
			return err
		}
		vals, _ := x.Float32s()
		if err := codec.ToFloat(vals, in[i], ti.DType, ti.Quant, ti.Dims, true); err != nil {
			return status.Annotate(err, opDevice, "decode input %s", ti.Name)
		}
		x.SetName(ti.Name)
		feeds[ti.Name] = x
	}

	results, err := g.net.Run(feeds)
	if err != nil {
		return err
	}
	for i, ti := range g.outputs {
		y, ok := results[ti.Name]
		if !ok || y == nil {
			return status.New(status.Failed, opDevice, "graph produced no %s", ti.Name)
		}
		vals, err := y.Float32s()
		if err != nil {
			return status.Annotate(err, opDevice, "output %s", ti.Name)
		}
		if err := codec.FromFloat(out[i], ti.DType, ti.Quant, vals, ti.Dims, true); err != nil {
			return status.Annotate(err, opDevice, "encode output %s", ti.Name)
		}
	}
	g.dev.execs.Add(1)
	return nil
}

func (g *graph) Free() error {
	g.net = nil
	return nil
}
