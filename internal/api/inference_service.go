package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jiangyanpeng/simple-nn/internal/infer"
	"github.com/jiangyanpeng/simple-nn/internal/loader"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

type InferenceService struct {
	provider BackendProvider
	clock    func() time.Time
}

func NewInferenceService(provider BackendProvider) *InferenceService {
	return &InferenceService{
		provider: provider,
		clock:    time.Now,
	}
}

// Infer runs one request on the model's backend.
func (s *InferenceService) Infer(ctx context.Context, req *InferRequest) (*InferResponse, error) {
	if len(req.Inputs) == 0 {
		return nil, newInvalidRequest("inputs are required")
	}
	inputs := make([]*tensor.Tensor, len(req.Inputs))
	for i, in := range req.Inputs {
		t, err := DecodeTensor(in)
		if err != nil {
			return nil, newInvalidRequest(fmt.Sprintf("inputs[%d]: %v", i, err))
		}
		inputs[i] = t
	}
	var opts []infer.RunOption
	if req.End != "" {
		opts = append(opts, infer.WithRange("", req.End))
	}

	resp := &InferResponse{
		ID:        newRunID(),
		Object:    "inference",
		CreatedAt: s.clock().Unix(),
	}
	err := s.provider.WithBackend(ctx, req.Model, func(b infer.Backend, path string) error {
		resp.Model = loader.ModelID(path)
		start := s.clock()
		outputs, err := b.Run(inputs, opts...)
		if err != nil {
			return err
		}
		resp.DurationMS = float64(s.clock().Sub(start).Microseconds()) / 1000
		resp.Outputs = make([]TensorJSON, len(outputs))
		for i, t := range outputs {
			if resp.Outputs[i], err = EncodeTensor(t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Describe reports the input and output dims of a model, loading it if needed.
func (s *InferenceService) Describe(ctx context.Context, model string) (*ModelResponse, error) {
	var resp *ModelResponse
	err := s.provider.WithBackend(ctx, model, func(b infer.Backend, path string) error {
		resp = &ModelResponse{
			ID:     loader.ModelID(path),
			Object: "model",
			Path:   path,
			State:  b.State().String(),
		}
		var err error
		if resp.Inputs, err = tensorInfos(b.InputNames(), b.InputDims); err != nil {
			return err
		}
		resp.Outputs, err = tensorInfos(b.OutputNames(), b.OutputDims)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func tensorInfos(names []string, dims func(int) (tensor.Shape, error)) ([]TensorInfo, error) {
	infos := make([]TensorInfo, len(names))
	for i, name := range names {
		d, err := dims(i)
		if err != nil {
			return nil, err
		}
		infos[i] = TensorInfo{Name: name, Dims: [4]int(d)}
	}
	return infos, nil
}

// DecodeTensor builds a host float32 tensor from its wire form.
func DecodeTensor(in TensorJSON) (*tensor.Tensor, error) {
	shape, err := tensor.ShapeOf(in.Shape)
	if err != nil {
		return nil, err
	}
	layout := tensor.NCHW
	switch strings.ToUpper(in.Layout) {
	case "", "NCHW":
	case "NHWC":
		layout = tensor.NHWC
	default:
		return nil, fmt.Errorf("unknown layout %q", in.Layout)
	}
	t, err := tensor.FromFloat32(shape, layout, in.Data)
	if err != nil {
		return nil, err
	}
	t.SetName(in.Name)
	return t, nil
}

func EncodeTensor(t *tensor.Tensor) (TensorJSON, error) {
	data, err := t.Float32s()
	if err != nil {
		return TensorJSON{}, err
	}
	shape := t.Shape()
	return TensorJSON{
		Name:   t.Name(),
		Shape:  shape[:],
		Layout: t.Layout().String(),
		Data:   data,
	}, nil
}
