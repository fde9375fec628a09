// Package objectstore fetches model containers kept in Google Cloud Storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/jiangyanpeng/simple-nn/internal/logger"
)

const Scheme = "gs://"

var (
	ErrNotFound = errors.New("objectstore: object not found")
	ErrBadURI   = errors.New("objectstore: not a gs://bucket/object uri")
)

// Fetcher reads a whole object into memory.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// IsRemote reports whether path names an object rather than a local file.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, Scheme)
}

// ParseURI splits gs://bucket/object.
func ParseURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, Scheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrBadURI, uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadURI, uri)
	}
	return bucket, object, nil
}

type GCS struct {
	clientOpts []option.ClientOption
}

var _ Fetcher = (*GCS)(nil)

type Option func(*GCS)

// WithEndpoint points the client at a storage emulator. Requests are sent
// without credentials.
func WithEndpoint(endpoint string) Option {
	return func(g *GCS) {
		g.clientOpts = append(g.clientOpts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
}

// WithClientOptions passes raw client options, for example credentials.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(g *GCS) { g.clientOpts = append(g.clientOpts, opts...) }
}

func NewGCS(opts ...Option) *GCS {
	g := &GCS{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GCS) client(ctx context.Context) (*storage.Client, error) {
	c, err := storage.NewClient(ctx, g.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS storage client: %w", err)
	}
	return c, nil
}

// Fetch downloads uri into memory.
func (g *GCS) Fetch(ctx context.Context, uri string) ([]byte, error) {
	log := logger.FromContext(ctx)

	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	client, err := g.client(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	startedAt := time.Now()
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("opening object %q: %w", uri, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", uri, err)
	}
	log.Debug("fetched object", "url", uri, "bytes", len(data), "duration", time.Since(startedAt))
	return data, nil
}

// Download copies uri to dest through a temp file in the same directory, so
// dest is either complete or absent.
func (g *GCS) Download(ctx context.Context, uri, dest string) (int64, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return 0, err
	}
	client, err := g.client(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = client.Close() }()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return 0, fmt.Errorf("opening object %q: %w", uri, err)
	}
	defer func() { _ = r.Close() }()

	return writeToFile(ctx, r, dest)
}

// Upload stores the local file src at uri, skipping the copy when an object
// already exists there.
func (g *GCS) Upload(ctx context.Context, src, uri string) error {
	log := logger.FromContext(ctx)

	bucket, object, err := ParseURI(uri)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer func() { _ = f.Close() }()

	client, err := g.client(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	obj := client.Bucket(bucket).Object(object)
	if _, err := obj.Attrs(ctx); err == nil {
		log.Info("object already exists", "url", uri)
		return nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("getting object attributes for %q: %w", uri, err)
	}

	startedAt := time.Now()
	w := obj.NewWriter(ctx)
	n, err := io.Copy(w, f)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing GCS writer: %w", err)
	}
	log.Info("uploaded object", "source", src, "url", uri, "bytes", n, "duration", time.Since(startedAt))
	return nil
}

func writeToFile(ctx context.Context, src io.Reader, dest string) (int64, error) {
	log := logger.FromContext(ctx)

	tmp, err := os.CreateTemp(filepath.Dir(dest), "download")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	keep := false
	closed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		if !keep {
			if err := os.Remove(tmp.Name()); err != nil {
				log.Warn("removing temp file", "path", tmp.Name(), "err", err)
			}
		}
	}()

	n, err := io.Copy(tmp, src)
	if err != nil {
		return n, fmt.Errorf("downloading from upstream source: %w", err)
	}
	closed = true
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	keep = true
	return n, nil
}
