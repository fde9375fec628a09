package backend

import (
	"strings"

	"github.com/jiangyanpeng/simple-nn/internal/accel"
	"github.com/jiangyanpeng/simple-nn/internal/accel/refdevice"
	"github.com/jiangyanpeng/simple-nn/internal/infer"
	"github.com/jiangyanpeng/simple-nn/internal/logger"
	"github.com/jiangyanpeng/simple-nn/internal/status"
)

const (
	CPU       = "cpu"
	Reference = "reference"
	QNN       = "qnn"
	Auto      = "auto"
)

const opBackend = "backend"

func Normalize(name string) (string, error) {
	engine := strings.ToLower(strings.TrimSpace(name))
	if engine == "" {
		return Auto, nil
	}
	switch engine {
	case CPU, Reference, QNN, Auto:
		return engine, nil
	default:
		return "", status.New(status.InvalidArgument, opBackend, "unknown engine %q (expected auto, cpu, reference, or qnn)", engine)
	}
}

// Resolve normalizes name and picks a concrete engine for auto.
func Resolve(name string) (string, error) {
	engine, err := Normalize(name)
	if err != nil {
		return "", err
	}
	if engine == Auto {
		return CPU, nil
	}
	return engine, nil
}

// New returns an uninitialized backend for the named engine. The logger is
// shared by the backend and, for accelerator engines, its device.
func New(name string, log logger.Logger, opts ...infer.Option) (infer.Backend, error) {
	engine, err := Resolve(name)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Discard()
	}
	opts = append([]infer.Option{infer.WithLogger(log.With("engine", engine))}, opts...)

	switch engine {
	case CPU:
		return infer.NewNetBackend(opts...), nil
	case Reference:
		newDevice := func() accel.Device {
			return refdevice.New(refdevice.WithLogger(log.With("device", Reference)))
		}
		return infer.NewSession(newDevice, opts...), nil
	default:
		return newQNN(opts...)
	}
}

func newQNN(...infer.Option) (infer.Backend, error) {
	return nil, status.New(status.NotSupported, opBackend, "qnn engine needs the vendor SDK binding, which is not linked into this build")
}
