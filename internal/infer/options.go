package infer

import (
	"github.com/jiangyanpeng/simple-nn/internal/accel"
	"github.com/jiangyanpeng/simple-nn/internal/loader"
	"github.com/jiangyanpeng/simple-nn/internal/logger"
	"github.com/jiangyanpeng/simple-nn/internal/nn"
)

type options struct {
	log          logger.Logger
	loaderOpts   []loader.Option
	wrapperOpts  []accel.WrapperOption
	outputLayers []string
	registry     *nn.Registry
}

// Option configures a Session or a NetBackend. Options that do not apply to
// a backend are ignored by it.
type Option func(*options)

func newOptions(opts []Option) options {
	o := options{log: logger.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithLoaderOptions are passed to loader.Load.
func WithLoaderOptions(opts ...loader.Option) Option {
	return func(o *options) { o.loaderOpts = append(o.loaderOpts, opts...) }
}

// WithWrapperOptions are passed to every accel.Wrapper a Session creates.
func WithWrapperOptions(opts ...accel.WrapperOption) Option {
	return func(o *options) { o.wrapperOpts = append(o.wrapperOpts, opts...) }
}

// WithOutputLayers fixes the order Run returns outputs in. The names must
// cover every graph output; by default the graph's own order is used.
func WithOutputLayers(names ...string) Option {
	return func(o *options) { o.outputLayers = names }
}

// WithRegistry sets the layer registry a NetBackend builds with.
func WithRegistry(r *nn.Registry) Option {
	return func(o *options) { o.registry = r }
}
