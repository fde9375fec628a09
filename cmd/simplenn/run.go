package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jiangyanpeng/simple-nn/internal/api"
	"github.com/jiangyanpeng/simple-nn/internal/infer"
	"github.com/jiangyanpeng/simple-nn/internal/logger"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

func runCmd() *cli.Command {
	var (
		inputPath string
		fill      float64
		batch     int64
		end       string
		repeat    int64
		asJSON    bool
		maxValues int64
	)

	flags := append(commonModelFlags(), accelFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       `JSON file with {"inputs":[{"shape":[...],"data":[...]}]}; synthesized when empty`,
			Destination: &inputPath,
		},
		&cli.Float64Flag{
			Name:        "fill",
			Usage:       "value of synthesized inputs",
			Value:       1,
			Destination: &fill,
		},
		&cli.Int64Flag{
			Name:        "batch",
			Aliases:     []string{"b"},
			Usage:       "batches per synthesized input",
			Value:       1,
			Destination: &batch,
		},
		&cli.StringFlag{
			Name:        "end",
			Usage:       "stop at this layer and print its blobs (cpu engine)",
			Destination: &end,
		},
		&cli.Int64Flag{
			Name:        "repeat",
			Aliases:     []string{"n"},
			Usage:       "number of timed runs",
			Value:       1,
			Destination: &repeat,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print the result as JSON",
			Destination: &asJSON,
		},
		&cli.Int64Flag{
			Name:        "max-values",
			Usage:       "values printed per output (0 for all)",
			Value:       16,
			Destination: &maxValues,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run a model container through an engine",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)
			if repeat < 1 || batch < 1 {
				return fmt.Errorf("--repeat and --batch must be >= 1")
			}

			path, err := runModelPath(modelPath, modelsPath, os.Stdin, os.Stderr)
			if err != nil {
				return err
			}
			b, cfg, err := newBackend(log)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			loadStart := time.Now()
			if err := b.Init(ctx, path, cfg); err != nil {
				return fmt.Errorf("init %s: %w", path, err)
			}
			log.Info("model ready", "model", path, "engine", engine, "load", time.Since(loadStart).Round(time.Millisecond))

			var inputs []*tensor.Tensor
			if inputPath != "" {
				inputs, err = readInputs(inputPath)
			} else {
				inputs, err = synthesizeInputs(b, int(batch), float32(fill))
			}
			if err != nil {
				return err
			}

			var opts []infer.RunOption
			if end != "" {
				opts = append(opts, infer.WithRange("", end))
			}
			var (
				outputs   []*tensor.Tensor
				durations []time.Duration
			)
			for i := range repeat {
				start := time.Now()
				outputs, err = b.Run(inputs, opts...)
				if err != nil {
					return fmt.Errorf("run %d: %w", i, err)
				}
				durations = append(durations, time.Since(start))
			}

			runID := uuid.NewString()
			if asJSON {
				return writeJSONResult(os.Stdout, runID, path, outputs, durations)
			}
			return writeTextResult(os.Stdout, runID, path, outputs, durations, int(maxValues))
		},
	}
}

type inputFile struct {
	Inputs []api.TensorJSON `json:"inputs"`
}

func readInputs(path string) ([]*tensor.Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f inputFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(f.Inputs) == 0 {
		return nil, fmt.Errorf("%s: no inputs", path)
	}
	inputs := make([]*tensor.Tensor, len(f.Inputs))
	for i, in := range f.Inputs {
		if inputs[i], err = api.DecodeTensor(in); err != nil {
			return nil, fmt.Errorf("%s: inputs[%d]: %w", path, i, err)
		}
	}
	return inputs, nil
}

// synthesizeInputs builds batch graph-sized inputs filled with v.
func synthesizeInputs(b infer.Backend, batch int, v float32) ([]*tensor.Tensor, error) {
	inputs := make([]*tensor.Tensor, b.InputNum())
	names := b.InputNames()
	for i := range inputs {
		shape, err := b.InputDims(i)
		if err != nil {
			return nil, err
		}
		shape[0] *= batch
		vals := make([]float32, shape.NumElements())
		for j := range vals {
			vals[j] = v
		}
		t, err := tensor.FromFloat32(shape, tensor.NCHW, vals)
		if err != nil {
			return nil, err
		}
		if i < len(names) {
			t.SetName(names[i])
		}
		inputs[i] = t
	}
	return inputs, nil
}

func writeJSONResult(w io.Writer, runID, path string, outputs []*tensor.Tensor, durations []time.Duration) error {
	resp := api.InferResponse{
		ID:         runID,
		Object:     "inference",
		CreatedAt:  time.Now().Unix(),
		Model:      path,
		DurationMS: float64(mean(durations).Microseconds()) / 1000,
		Outputs:    make([]api.TensorJSON, len(outputs)),
	}
	for i, t := range outputs {
		var err error
		if resp.Outputs[i], err = api.EncodeTensor(t); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func writeTextResult(w io.Writer, runID, path string, outputs []*tensor.Tensor, durations []time.Duration, maxValues int) error {
	_, _ = fmt.Fprintf(w, "run %s on %s\n", runID, path)
	for _, t := range outputs {
		vals, err := t.Float32s()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "%s %s %s: %s\n", t.Name(), t.Shape(), t.Layout(), formatValues(vals, maxValues))
	}
	_, err := fmt.Fprintf(w, "runs: %d  mean: %s  min: %s  max: %s\n",
		len(durations), mean(durations), slices.Min(durations), slices.Max(durations))
	return err
}

func formatValues(vals []float32, limit int) string {
	shown := vals
	if limit > 0 && len(vals) > limit {
		shown = vals[:limit]
	}
	parts := make([]string, len(shown))
	for i, v := range shown {
		parts[i] = fmt.Sprintf("%g", v)
	}
	s := "[" + strings.Join(parts, " ")
	if len(shown) < len(vals) {
		s += fmt.Sprintf(" ... (%d more)", len(vals)-len(shown))
	}
	return s + "]"
}

func mean(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}
