package main

import (
	"github.com/jiangyanpeng/simple-nn/internal/accel"
	"github.com/jiangyanpeng/simple-nn/internal/backend"
	"github.com/jiangyanpeng/simple-nn/internal/infer"
	"github.com/jiangyanpeng/simple-nn/internal/loader"
	"github.com/jiangyanpeng/simple-nn/internal/logger"
	"github.com/jiangyanpeng/simple-nn/internal/quant"
)

// engineConfig turns the engine flags into a loader config and the backend
// options shared by run and serve.
func engineConfig() (loader.Config, []infer.Option, error) {
	k, err := quant.ParseKernel(kernel)
	if err != nil {
		return loader.Config{}, nil, err
	}
	cfg := loader.Config{
		EngineContext: &accel.Options{
			BackendLibPath: backendLib,
			SystemLibPath:  systemLib,
			UseSignedPD:    useSignedPD,
			UseVNDK:        useVNDK,
		},
	}
	opts := []infer.Option{
		infer.WithWrapperOptions(accel.WithCodec(quant.NewCodec(quant.WithKernel(k)))),
	}
	return cfg, opts, nil
}

func newBackend(log logger.Logger) (infer.Backend, loader.Config, error) {
	cfg, opts, err := engineConfig()
	if err != nil {
		return nil, loader.Config{}, err
	}
	b, err := backend.New(engine, log, opts...)
	if err != nil {
		return nil, loader.Config{}, err
	}
	return b, cfg, nil
}
