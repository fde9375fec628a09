package infer

import (
	"context"
	"fmt"
	"slices"

	"github.com/jiangyanpeng/simple-nn/internal/accel"
	"github.com/jiangyanpeng/simple-nn/internal/loader"
	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

const opSession = "infer.Session"

// DeviceFactory returns a fresh, unopened device for each Init.
type DeviceFactory func() accel.Device

// Session runs a context binary on an accelerator. Inputs whose batch is a
// multiple of the native batch are executed one native batch at a time.
type Session struct {
	Unimplemented
	lifecycle

	options
	newDevice DeviceFactory

	model    *loader.Model
	wrapper  *accel.Wrapper
	inputs   []accel.TensorInfo
	outputs  []accel.TensorInfo
	inDims   []tensor.Shape
	outDims  []tensor.Shape
	outNames []string
}

func NewSession(newDevice DeviceFactory, opts ...Option) *Session {
	return &Session{options: newOptions(opts), newDevice: newDevice}
}

// Init loads the model at path and creates its graphs on a new device.
func (s *Session) Init(ctx context.Context, path string, cfg loader.Config) error {
	opts, err := accel.OptionsFrom(cfg.EngineContext)
	if err != nil {
		s.set(Failed)
		return err
	}
	m, err := loader.Load(ctx, path, s.loaderOpts...)
	if err != nil {
		s.set(Failed)
		return err
	}
	return s.initModel(m, opts)
}

// InitPackage initializes from an already loaded package.
func (s *Session) InitPackage(_ context.Context, pkg *loader.Package, cfg loader.Config) error {
	m, err := pickModel(pkg, cfg, opSession)
	if err != nil {
		s.set(Failed)
		return err
	}
	opts, err := accel.OptionsFrom(cfg.EngineContext)
	if err != nil {
		s.set(Failed)
		return err
	}
	return s.initModel(m, opts)
}

func (s *Session) initModel(m *loader.Model, opts accel.Options) error {
	_ = s.release()
	if err := s.setup(m, opts); err != nil {
		_ = s.release()
		s.set(Failed)
		return err
	}
	s.set(Ready)
	s.log.Debug("session ready", "model", m.Path, "inputs", len(s.inputs), "outputs", s.outNames)
	return nil
}

func (s *Session) setup(m *loader.Model, opts accel.Options) error {
	if m == nil || m.Size() == 0 {
		return status.New(status.FileNotFound, opSession, "model is empty")
	}
	if s.newDevice == nil {
		return status.New(status.Failed, opSession, "no device factory")
	}
	s.model = m
	s.log.Debug("loading context binary", "model", m.Path, "bytes", m.Size())

	wopts := append([]accel.WrapperOption{accel.WithLogger(s.log)}, s.wrapperOpts...)
	s.wrapper = accel.NewWrapper(s.newDevice(), wopts...)
	if err := s.wrapper.Init(opts); err != nil {
		return err
	}
	if err := s.wrapper.CreateGraphs(m.Data()); err != nil {
		return err
	}

	s.inputs = s.wrapper.InputInfo()
	s.outputs = s.wrapper.OutputInfo()
	s.inDims = make([]tensor.Shape, len(s.inputs))
	for i, ti := range s.inputs {
		d, err := nativeToNCHW(ti.Dims)
		if err != nil {
			return status.Annotate(err, opSession, "input %s", ti.Name)
		}
		s.inDims[i] = d
	}

	native := s.wrapper.OutputNames()
	s.outNames = native
	if len(s.outputLayers) > 0 {
		if len(s.outputLayers) != len(native) {
			return status.New(status.Failed, opSession, "output layers %v do not cover graph outputs %v", s.outputLayers, native)
		}
		s.outNames = s.outputLayers
	}
	s.outDims = make([]tensor.Shape, len(s.outNames))
	for i, name := range s.outNames {
		idx := slices.Index(native, name)
		if idx < 0 {
			return status.New(status.Failed, opSession, "output layer %q not in graph outputs %v", name, native)
		}
		d, err := nativeToNCHW(s.outputs[idx].Dims)
		if err != nil {
			return status.Annotate(err, opSession, "output %s", name)
		}
		s.outDims[i] = d
	}
	return nil
}

// nativeToNCHW reports native dims as (N,C,H,W). Rank-4 dims are (n,h,w,c);
// lower ranks are padded with leading 1s.
func nativeToNCHW(dims []int) (tensor.Shape, error) {
	if len(dims) == 0 || len(dims) > 4 {
		return tensor.Shape{}, status.New(status.NotSupported, opSession, "native rank %d", len(dims))
	}
	if len(dims) == 4 {
		return tensor.Shape{dims[0], dims[3], dims[1], dims[2]}, nil
	}
	s := tensor.Shape{1, 1, 1, 1}
	copy(s[4-len(dims):], dims)
	return s, nil
}

func (s *Session) InputNum() int  { return len(s.inputs) }
func (s *Session) OutputNum() int { return len(s.outNames) }

func (s *Session) InputNames() []string {
	names := make([]string, len(s.inputs))
	for i, ti := range s.inputs {
		names[i] = ti.Name
	}
	return names
}

func (s *Session) OutputNames() []string { return s.outNames }

func (s *Session) InputDims(idx int) (tensor.Shape, error) {
	return dimsAt(s.inDims, idx, opSession, "input")
}

func (s *Session) OutputDims(idx int) (tensor.Shape, error) {
	return dimsAt(s.outDims, idx, opSession, "output")
}

// Run executes inputs and returns one tensor per output layer, in output
// layer order.
func (s *Session) Run(inputs []*tensor.Tensor, opts ...RunOption) (out []*tensor.Tensor, err error) {
	if ro := collectRunOptions(opts); ro.start != "" || ro.end != "" {
		return nil, status.New(status.NotSupported, opSession, "layer ranges cannot be run on the accelerator")
	}
	if err := s.begin(opSession); err != nil {
		return nil, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, status.New(status.InternalFailed, opSession, "panic in run: %v", rec)
		}
		s.end(err)
	}()

	if err := s.checkInputShape(inputs); err != nil {
		return nil, err
	}
	if err := s.reArrangeInput(inputs); err != nil {
		return nil, err
	}

	batches := inputs[0].Dim(0) / s.inDims[0][0]
	outputs, err := s.createNetOutput(batches)
	if err != nil {
		return nil, err
	}
	for b := range batches {
		if err := s.runSingleBatch(inputs, outputs, b); err != nil {
			return nil, status.Annotate(err, opSession, "batch %d of %d", b, batches)
		}
	}
	return s.reArrangeOutput(outputs)
}

func (s *Session) checkInputShape(inputs []*tensor.Tensor) error {
	if len(inputs) != s.InputNum() {
		return status.New(status.Failed, opSession, "got %d inputs, graph has %d", len(inputs), s.InputNum())
	}
	batches := -1
	for i, t := range inputs {
		if t == nil {
			continue
		}
		want := s.inDims[i]
		n, c, h, w := t.NCHW()
		if n%want[0] != 0 || c != want[1] || h != want[2] || w != want[3] {
			return status.New(status.Failed, opSession, "input %d shape (%d,%d,%d,%d) does not match %v", i, n, c, h, w, want)
		}
		if batches >= 0 && n/want[0] != batches {
			return status.New(status.Failed, opSession, "input %d holds %d batches, input 0 holds %d", i, n/want[0], batches)
		}
		batches = n / want[0]
	}
	return nil
}

func (s *Session) reArrangeInput(inputs []*tensor.Tensor) error {
	if len(inputs) == 0 {
		return status.New(status.Failed, opSession, "no inputs")
	}
	for i, t := range inputs {
		if t == nil {
			return status.New(status.Failed, opSession, "input %d is nil", i)
		}
		if t.DType() != tensor.Float32 {
			return status.New(status.NotSupported, opSession, "input %d has dtype %s", i, t.DType())
		}
		if t.Mem() != tensor.CPU {
			return status.New(status.NotSupported, opSession, "input %d lives on %s", i, t.Mem())
		}
	}
	return nil
}

func (s *Session) createNetOutput(batches int) ([]*tensor.Tensor, error) {
	if len(s.outputs) == 0 {
		return nil, status.New(status.Failed, opSession, "session has no outputs")
	}
	outputs := make([]*tensor.Tensor, len(s.outputs))
	for i, ti := range s.outputs {
		d, err := nativeToNCHW(ti.Dims)
		if err != nil {
			return nil, err
		}
		d[0] *= batches
		t, err := tensor.New(d, tensor.NCHW, tensor.CPU, tensor.Float32)
		if err != nil {
			return nil, status.Annotate(err, opSession, "output %s", ti.Name)
		}
		t.SetName(ti.Name)
		outputs[i] = t
	}
	return outputs, nil
}

func (s *Session) runSingleBatch(inputs, outputs []*tensor.Tensor, b int) error {
	inBufs := make([][]byte, len(inputs))
	for i, t := range inputs {
		per := s.inputs[i].FloatBytes()
		buf, err := t.BytesAt(b*per, per)
		if err != nil {
			return status.Annotate(err, opSession, "slice input %d", i)
		}
		inBufs[i] = buf
	}
	outBufs := make([][]byte, len(outputs))
	for i, t := range outputs {
		per := s.outputs[i].FloatBytes()
		buf, err := t.BytesAt(b*per, per)
		if err != nil {
			return status.Annotate(err, opSession, "slice output %d", i)
		}
		outBufs[i] = buf
	}

	if err := s.wrapper.PopulateInputs(inBufs, accel.FloatData, inputs[0].Layout()); err != nil {
		return status.Annotate(err, opSession, "populate inputs")
	}
	if err := s.wrapper.Execute(); err != nil {
		return status.Annotate(err, opSession, "execute")
	}
	if err := s.wrapper.PopulateOutputs(outBufs, accel.FloatData); err != nil {
		return status.Annotate(err, opSession, "populate outputs")
	}
	return nil
}

// reArrangeOutput orders outputs by output layer. Every output is checked.
func (s *Session) reArrangeOutput(outputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	var unknown []string
	for _, t := range outputs {
		if !slices.Contains(s.outNames, t.Name()) {
			unknown = append(unknown, t.Name())
		}
	}
	if len(unknown) > 0 {
		return nil, status.New(status.FileNotFound, opSession, "outputs %v are not output layers", unknown)
	}
	ordered := make([]*tensor.Tensor, len(s.outNames))
	for i, name := range s.outNames {
		idx := slices.IndexFunc(outputs, func(t *tensor.Tensor) bool { return t.Name() == name })
		if idx < 0 {
			return nil, status.New(status.Failed, opSession, "graph produced no %s", name)
		}
		ordered[i] = outputs[idx]
	}
	return ordered, nil
}

// Close tears down tensors, context and graph info, then the device.
func (s *Session) Close() error {
	err := s.release()
	s.set(Uninitialized)
	return err
}

func (s *Session) release() error {
	var err error
	if s.wrapper != nil {
		err = s.wrapper.Close()
		s.wrapper = nil
	}
	s.model = nil
	s.inputs, s.outputs = nil, nil
	s.inDims, s.outDims, s.outNames = nil, nil, nil
	if err != nil {
		return fmt.Errorf("%s: close: %w", opSession, err)
	}
	return nil
}
