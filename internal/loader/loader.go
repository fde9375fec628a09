// Package loader reads model bytes from local files or object storage and
// groups them into packages.
package loader

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/jiangyanpeng/simple-nn/internal/objectstore"
	"github.com/jiangyanpeng/simple-nn/internal/status"
)

const opLoad = "loader.Load"

// Config selects an engine for a model. EngineContext carries engine specific
// options, for example *accel.Options.
type Config struct {
	Engine        string
	EngineContext any
}

// Model is a fully loaded model file.
type Model struct {
	Path string
	data []byte
}

// NewModel wraps bytes already in memory.
func NewModel(path string, data []byte) *Model {
	return &Model{Path: path, data: data}
}

func (m *Model) Data() []byte { return m.data }
func (m *Model) Size() int    { return len(m.data) }

type loadOptions struct {
	fetcher objectstore.Fetcher
}

type Option func(*loadOptions)

// WithFetcher replaces the object store used for gs:// paths.
func WithFetcher(f objectstore.Fetcher) Option {
	return func(o *loadOptions) { o.fetcher = f }
}

var defaultFetcher = sync.OnceValue(func() objectstore.Fetcher { return objectstore.NewGCS() })

// Load reads the whole model at path. A missing or empty model is
// FileNotFound.
func Load(ctx context.Context, path string, opts ...Option) (*Model, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	if path == "" {
		return nil, status.New(status.FileNotFound, opLoad, "empty model path")
	}

	var (
		data []byte
		err  error
	)
	if objectstore.IsRemote(path) {
		f := o.fetcher
		if f == nil {
			f = defaultFetcher()
		}
		data, err = f.Fetch(ctx, path)
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, status.Wrap(err, status.FileNotFound, opLoad, "%s", path)
		}
	} else {
		data, err = os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, status.Wrap(err, status.FileNotFound, opLoad, "%s", path)
		}
	}
	if err != nil {
		return nil, status.Wrap(err, status.Failed, opLoad, "%s", path)
	}
	if len(data) == 0 {
		return nil, status.New(status.FileNotFound, opLoad, "%s is empty", path)
	}
	return &Model{Path: path, data: data}, nil
}

// Package is an ordered set of models shipped together.
type Package struct {
	models []*Model
}

func (p *Package) Push(m *Model) {
	p.models = append(p.models, m)
}

func (p *Package) Models() []*Model { return p.models }
func (p *Package) Len() int         { return len(p.models) }

// ByPath returns the model loaded from path.
func (p *Package) ByPath(path string) (*Model, bool) {
	for _, m := range p.models {
		if m.Path == path {
			return m, true
		}
	}
	return nil, false
}
