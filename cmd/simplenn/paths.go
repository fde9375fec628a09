package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jiangyanpeng/simple-nn/internal/loader"
)

// stdinIsTTY is swapped out by tests.
var stdinIsTTY = func() bool {
	st, err := os.Stdin.Stat()
	return err == nil && st.Mode()&os.ModeCharDevice != 0
}

// packOutPath returns where pack writes its container and whether that was
// chosen for the caller. The default is <stem>.mcf in the models directory,
// or beside the graph file when no models directory is set.
func packOutPath(graphPath, outFlag string) (string, bool, error) {
	out := strings.TrimSpace(outFlag)
	defaulted := out == ""
	if defaulted {
		stem := loader.ModelID(filepath.Base(graphPath))
		if stem == "" || stem == "." {
			return "", true, fmt.Errorf("cannot name a container for graph %q", graphPath)
		}
		dir := loader.NewCatalog("").Dir
		if dir == "" {
			dir = filepath.Dir(graphPath)
		}
		out = filepath.Join(dir, stem+loader.ModelExt)
	}
	out = filepath.Clean(out)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", defaulted, err
	}
	return out, defaulted, nil
}

// runModelPath resolves --model against the catalog. When the catalog holds
// several models and none was named, an interactive stdin picks one.
func runModelPath(modelFlag, modelsPath string, stdin io.Reader, stderr io.Writer) (string, error) {
	cat := loader.NewCatalog(modelsPath)
	path, err := cat.Resolve(modelFlag)
	if err == nil || !errors.Is(err, loader.ErrAmbiguous) {
		return path, err
	}
	if !stdinIsTTY() {
		return "", fmt.Errorf("%w; set --model", err)
	}
	models, err := cat.List()
	if err != nil {
		return "", err
	}
	return pickModel(models, stdin, stderr)
}

func pickModel(models []string, stdin io.Reader, stderr io.Writer) (string, error) {
	for i, m := range models {
		_, _ = fmt.Fprintf(stderr, "%2d) %s\n", i+1, loader.ModelID(m))
	}
	sc := bufio.NewScanner(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "model [1-%d]: ", len(models))
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", errors.New("no model chosen; set --model")
		}
		n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
		if err == nil && n >= 1 && n <= len(models) {
			return models[n-1], nil
		}
	}
}
