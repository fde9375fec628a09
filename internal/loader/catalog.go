package loader

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jiangyanpeng/simple-nn/internal/objectstore"
	"github.com/jiangyanpeng/simple-nn/internal/status"
)

const (
	// ModelExt is the file extension of model containers.
	ModelExt = ".mcf"
	// EnvModelsDir names the catalog directory when none is configured.
	EnvModelsDir = "SIMPLENN_MODELS_DIR"

	opCatalog = "loader.Catalog"
)

// ErrAmbiguous is wrapped when an empty reference meets more than one model.
var ErrAmbiguous = errors.New("multiple models")

// Catalog is a flat directory of model containers. A model is referred to
// by path, by gs:// URI, or by id: its file name without the extension.
type Catalog struct {
	Dir string
}

// NewCatalog uses dir, or $SIMPLENN_MODELS_DIR when dir is blank.
func NewCatalog(dir string) Catalog {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = strings.TrimSpace(os.Getenv(EnvModelsDir))
	}
	return Catalog{Dir: dir}
}

// List returns the containers directly inside Dir in file name order. An
// unset Dir lists nothing.
func (c Catalog) List() ([]string, error) {
	if c.Dir == "" {
		return nil, nil
	}
	ents, err := os.ReadDir(c.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, status.Wrap(err, status.FileNotFound, opCatalog, "%s", c.Dir)
	}
	if err != nil {
		return nil, status.Wrap(err, status.InvalidArgument, opCatalog, "%s", c.Dir)
	}
	var models []string
	for _, e := range ents {
		if !e.IsDir() && hasModelExt(e.Name()) {
			models = append(models, filepath.Join(c.Dir, e.Name()))
		}
	}
	return models, nil
}

// Resolve maps ref to a path Load accepts. An empty ref picks the only model
// in the catalog; with several the error wraps ErrAmbiguous.
func (c Catalog) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case objectstore.IsRemote(ref):
		return ref, nil
	case ref == "":
		return c.only()
	case strings.ContainsRune(ref, filepath.Separator):
		return filepath.Clean(ref), nil
	}
	if c.Dir != "" {
		for _, name := range []string{ref, ref + ModelExt} {
			if p := filepath.Join(c.Dir, name); isFile(p) {
				return p, nil
			}
		}
	}
	if hasModelExt(ref) || isFile(ref) {
		return filepath.Clean(ref), nil
	}
	where := c.Dir
	if where == "" {
		where = "the working directory ($" + EnvModelsDir + " is unset)"
	}
	return "", status.New(status.FileNotFound, opCatalog, "model %q not found in %s", ref, where)
}

func (c Catalog) only() (string, error) {
	if c.Dir == "" {
		return "", status.New(status.InvalidArgument, opCatalog, "no model given and no models directory set")
	}
	models, err := c.List()
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 0:
		return "", status.New(status.FileNotFound, opCatalog, "no %s models in %s", ModelExt, c.Dir)
	case 1:
		return models[0], nil
	}
	return "", status.Wrap(ErrAmbiguous, status.InvalidArgument, opCatalog, "%d models in %s", len(models), c.Dir)
}

// ModelID is the file name of path without its extension.
func ModelID(path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func hasModelExt(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ModelExt)
}

func isFile(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}
