package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jiangyanpeng/simple-nn/internal/graph"
	"github.com/jiangyanpeng/simple-nn/internal/loader"
	"github.com/jiangyanpeng/simple-nn/internal/logger"
	"github.com/jiangyanpeng/simple-nn/internal/modelpack"
	"github.com/jiangyanpeng/simple-nn/internal/objectstore"
	"github.com/jiangyanpeng/simple-nn/internal/safetensors"
	"github.com/jiangyanpeng/simple-nn/pkg/mcf"
)

func packCmd() *cli.Command {
	var (
		graphPath   string
		weightsPath string
		ioPath      string
		deriveIO    string
		scale       float64
		offset      int64
		inline      bool
		align       int64
		outPath     string
		uploadURI   string
		gcsEndpoint string
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Pack a graph description and its weights into an .mcf container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "graph",
				Aliases:     []string{"g"},
				Usage:       "graph description (.json, .yaml or .yml)",
				Destination: &graphPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "weights",
				Aliases:     []string{"w"},
				Usage:       `weights: .safetensors, or JSON {"tensor": {"shape": [...], "data": [...]}}`,
				Destination: &weightsPath,
			},
			&cli.StringFlag{
				Name:        "io",
				Usage:       "native IO table (YAML list of name, role, dtype, dims, scale, offset)",
				Destination: &ioPath,
			},
			&cli.StringFlag{
				Name:        "derive-io",
				Usage:       "derive the IO table from the graph endpoints with this native dtype (e.g. float32, ufixed8)",
				Destination: &deriveIO,
			},
			&cli.Float64Flag{
				Name:        "scale",
				Usage:       "quantization scale of derived IO records",
				Value:       1,
				Destination: &scale,
			},
			&cli.Int64Flag{
				Name:        "offset",
				Usage:       "quantization offset of derived IO records",
				Destination: &offset,
			},
			&cli.BoolFlag{
				Name:        "inline",
				Usage:       "keep weights in the graph description instead of tensor sections",
				Destination: &inline,
			},
			&cli.Int64Flag{
				Name:        "align",
				Usage:       "tensor data alignment in bytes (0 for the container default)",
				Destination: &align,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output .mcf path (default: <graph>.mcf in $" + loader.EnvModelsDir + " or beside the graph)",
				Destination: &outPath,
			},
			&cli.StringFlag{
				Name:        "upload",
				Usage:       "copy the container to gs://bucket/object after packing",
				Destination: &uploadURI,
			},
			&cli.StringFlag{
				Name:        "gcs-endpoint",
				Usage:       "storage endpoint override (for emulators)",
				Sources:     cli.EnvVars("STORAGE_EMULATOR_HOST"),
				Destination: &gcsEndpoint,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if ioPath != "" && deriveIO != "" {
				return fmt.Errorf("--io and --derive-io are mutually exclusive")
			}
			if uploadURI != "" && !objectstore.IsRemote(uploadURI) {
				return fmt.Errorf("--upload must be a %s URI, got %q", objectstore.Scheme, uploadURI)
			}

			ws, closeWeights, err := openWeights(weightsPath)
			if err != nil {
				return err
			}
			defer closeWeights()
			g, err := modelpack.LoadGraph(graphPath, ws)
			if err != nil {
				return fmt.Errorf("load graph %s: %w", graphPath, err)
			}

			opts := modelpack.Options{Inline: inline, TensorAlign: int(align)}
			switch {
			case ioPath != "":
				data, err := os.ReadFile(ioPath)
				if err != nil {
					return err
				}
				if opts.IOTable, err = modelpack.ParseIOTable(data); err != nil {
					return fmt.Errorf("%s: %w", ioPath, err)
				}
			case deriveIO != "":
				dt, ok := modelpack.IODType(deriveIO)
				if !ok {
					return fmt.Errorf("unknown io dtype %q", deriveIO)
				}
				if opts.IOTable, err = modelpack.DeriveIOTable(g, dt, float32(scale), int32(offset)); err != nil {
					return err
				}
			}

			out, defaulted, err := packOutPath(graphPath, outPath)
			if err != nil {
				return err
			}
			if defaulted {
				log.Info("pack: no --out given", "path", out)
			}

			start := time.Now()
			if err := modelpack.Pack(out, g, opts); err != nil {
				return fmt.Errorf("pack %s: %w", out, err)
			}
			st, err := os.Stat(out)
			if err != nil {
				return err
			}
			log.Info("packed",
				"graph", g.Name,
				"operators", len(g.Operators),
				"io_records", len(opts.IOTable),
				"io_inputs", countRole(opts.IOTable, mcf.RoleInput),
				"bytes", st.Size(),
				"path", out,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)

			if uploadURI == "" {
				return nil
			}
			var gcsOpts []objectstore.Option
			if gcsEndpoint != "" {
				gcsOpts = append(gcsOpts, objectstore.WithEndpoint(gcsEndpoint))
			}
			if err := objectstore.NewGCS(gcsOpts...).Upload(ctx, out, uploadURI); err != nil {
				return fmt.Errorf("upload %s: %w", uploadURI, err)
			}
			log.Info("uploaded", "uri", uploadURI)
			return nil
		},
	}
}

// openWeights picks the weight reader by extension. A nil source is valid when
// every attribute is inline.
func openWeights(path string) (graph.WeightSource, func(), error) {
	switch {
	case path == "":
		return nil, func() {}, nil
	case strings.EqualFold(filepath.Ext(path), safetensors.Ext):
		f, err := safetensors.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return f, func() { _ = f.Close() }, nil
	default:
		wf, err := modelpack.ReadWeights(path)
		if err != nil {
			return nil, nil, err
		}
		return wf, func() {}, nil
	}
}

func countRole(recs []mcf.IORecord, role mcf.IORole) int {
	n := 0
	for _, r := range recs {
		if r.Role == role {
			n++
		}
	}
	return n
}
