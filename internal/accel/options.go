package accel

import (
	"runtime"

	"github.com/jiangyanpeng/simple-nn/internal/status"
)

const (
	DefaultBackendLib = "libQnnHtp.so"
	DefaultSystemLib  = "libQnnSystem.so"
)

// Options configure how a device binding is opened.
type Options struct {
	BackendLibPath string `yaml:"backend_lib_path"`
	SystemLibPath  string `yaml:"system_lib_path"`
	UseSignedPD    bool   `yaml:"use_signed_pd"`
	// UseVNDK only has meaning on arm64 (Android vendor libraries).
	UseVNDK bool `yaml:"use_vndk"`
}

func DefaultOptions() Options {
	return Options{BackendLibPath: DefaultBackendLib, SystemLibPath: DefaultSystemLib}
}

// Normalized fills empty library paths with the defaults and drops UseVNDK
// off arm64.
func (o Options) Normalized() Options {
	if o.BackendLibPath == "" {
		o.BackendLibPath = DefaultBackendLib
	}
	if o.SystemLibPath == "" {
		o.SystemLibPath = DefaultSystemLib
	}
	if runtime.GOARCH != "arm64" {
		o.UseVNDK = false
	}
	return o
}

// OptionsFrom reads the engine context of a loader.Config. nil yields the
// defaults; Options and *Options are accepted.
func OptionsFrom(engineContext any) (Options, error) {
	switch v := engineContext.(type) {
	case nil:
		return DefaultOptions().Normalized(), nil
	case Options:
		return v.Normalized(), nil
	case *Options:
		if v == nil {
			return DefaultOptions().Normalized(), nil
		}
		return v.Normalized(), nil
	default:
		return Options{}, status.New(status.InvalidArgument, "accel", "engine context of type %T is not accel.Options", engineContext)
	}
}
