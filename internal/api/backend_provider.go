package api

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/jiangyanpeng/simple-nn/internal/backend"
	"github.com/jiangyanpeng/simple-nn/internal/infer"
	"github.com/jiangyanpeng/simple-nn/internal/loader"
	"github.com/jiangyanpeng/simple-nn/internal/logger"
	"github.com/jiangyanpeng/simple-nn/internal/objectstore"
)

type BackendProvider interface {
	WithBackend(ctx context.Context, modelID string, fn func(b infer.Backend, path string) error) error
}

type BackendProviderConfig struct {
	DefaultModelPath string
	ModelsPath       string
	Engine           string
	// EngineContext is passed through loader.Config, for example *accel.Options.
	EngineContext any
	Logger        logger.Logger
	// NewBackend overrides backend.New.
	NewBackend func(engine string) (infer.Backend, error)
}

// CachedBackendProvider keeps one initialized backend per model path. Calls
// for the same model are serialized; a backend left in the failed state is
// initialized again before the next call.
type CachedBackendProvider struct {
	cfg   BackendProviderConfig
	mu    sync.Mutex
	cache map[string]*backendEntry
}

type backendEntry struct {
	backend infer.Backend
	mu      sync.Mutex
}

func NewCachedBackendProvider(cfg BackendProviderConfig) *CachedBackendProvider {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.NewBackend == nil {
		log := cfg.Logger
		cfg.NewBackend = func(engine string) (infer.Backend, error) {
			return backend.New(engine, log)
		}
	}
	return &CachedBackendProvider{
		cfg:   cfg,
		cache: make(map[string]*backendEntry),
	}
}

func (p *CachedBackendProvider) WithBackend(ctx context.Context, modelID string, fn func(b infer.Backend, path string) error) error {
	path, err := p.resolveModelPath(modelID)
	if err != nil {
		return err
	}
	entry, err := p.getOrLoad(ctx, path)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.backend.State() != infer.Ready {
		p.cfg.Logger.Warn("re-initializing backend", "model", path, "state", entry.backend.State())
		if err := entry.backend.Init(ctx, path, p.config()); err != nil {
			return err
		}
	}
	return fn(entry.backend, path)
}

func (p *CachedBackendProvider) config() loader.Config {
	return loader.Config{Engine: p.cfg.Engine, EngineContext: p.cfg.EngineContext}
}

func (p *CachedBackendProvider) getOrLoad(ctx context.Context, path string) (*backendEntry, error) {
	p.mu.Lock()
	entry, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return entry, nil
	}

	b, err := p.cfg.NewBackend(p.cfg.Engine)
	if err != nil {
		return nil, err
	}
	if err := b.Init(ctx, path, p.config()); err != nil {
		_ = b.Close()
		return nil, err
	}
	p.cfg.Logger.Info("model loaded", "model", path, "engine", p.cfg.Engine)
	newEntry := &backendEntry{backend: b}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache[path]; ok {
		_ = b.Close()
		return existing, nil
	}
	p.cache[path] = newEntry
	return newEntry, nil
}

// Loaded lists the model paths with a cached backend.
func (p *CachedBackendProvider) Loaded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	paths := make([]string, 0, len(p.cache))
	for path := range p.cache {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}

// ListModels returns the model ids found in the models directory, plus the
// default model.
func (p *CachedBackendProvider) ListModels() ([]string, error) {
	var ids []string
	if p.cfg.DefaultModelPath != "" {
		ids = append(ids, loader.ModelID(p.cfg.DefaultModelPath))
	}
	models, err := p.catalog().List()
	if err != nil {
		return nil, err
	}
	for _, m := range models {
		ids = append(ids, loader.ModelID(m))
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (p *CachedBackendProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for path, entry := range p.cache {
		entry.mu.Lock()
		if err := entry.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
		entry.mu.Unlock()
		delete(p.cache, path)
	}
	return errors.Join(errs...)
}

// resolveModelPath maps a request's model id to a path. The default model
// answers to an empty id and to its own id; everything else goes through the
// models directory.
func (p *CachedBackendProvider) resolveModelPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if def := p.cfg.DefaultModelPath; def != "" && (id == "" || id == loader.ModelID(def)) {
		if objectstore.IsRemote(def) {
			return def, nil
		}
		return filepath.Clean(def), nil
	}
	return p.catalog().Resolve(id)
}

func (p *CachedBackendProvider) catalog() loader.Catalog {
	return loader.NewCatalog(p.cfg.ModelsPath)
}
