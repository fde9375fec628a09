package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/jiangyanpeng/simple-nn/internal/loader"
	"github.com/jiangyanpeng/simple-nn/internal/mcfstore"
	"github.com/jiangyanpeng/simple-nn/internal/modelpack"
	"github.com/jiangyanpeng/simple-nn/internal/nn"
	"github.com/jiangyanpeng/simple-nn/pkg/mcf"
)

func inspectCmd() *cli.Command {
	var (
		path         string
		showAll      bool
		showSections bool
		showTensors  bool
		showIO       bool
		showSummary  bool
		showGraph    bool
		tensorFilter string
		tensorLimit  int64
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of an .mcf model container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "path to .mcf file or gs://bucket/object",
				Destination: &path,
				Required:    true,
			},
			&cli.BoolFlag{Name: "all", Usage: "show every section", Destination: &showAll},
			&cli.BoolFlag{Name: "sections", Usage: "show the section directory", Value: true, Destination: &showSections},
			&cli.BoolFlag{Name: "tensors", Usage: "show the tensor index", Destination: &showTensors},
			&cli.BoolFlag{Name: "io", Usage: "show the native IO table", Value: true, Destination: &showIO},
			&cli.BoolFlag{Name: "summary", Usage: "build the net and show its layer summary", Value: true, Destination: &showSummary},
			&cli.BoolFlag{Name: "graph", Usage: "print the raw graph description", Destination: &showGraph},
			&cli.StringFlag{Name: "filter", Usage: "only list tensors containing this substring", Destination: &tensorFilter},
			&cli.Int64Flag{Name: "limit", Usage: "max tensors listed (0 for all)", Value: 50, Destination: &tensorLimit},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			m, err := loader.Load(ctx, path)
			if err != nil {
				return err
			}
			f, err := mcfstore.OpenBytes(m.Data())
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer func() { _ = f.Close() }()

			w := os.Stdout
			_, _ = fmt.Fprintf(w, "model: %s (%d bytes)\n", path, m.Size())
			if showAll || showSections {
				printSections(w, f.Container())
			}
			if showAll || showIO {
				if err := printIOTable(w, f); err != nil {
					return err
				}
			}
			if showAll || showTensors {
				if err := printTensors(w, f, tensorFilter, int(tensorLimit)); err != nil {
					return err
				}
			}
			if showAll || showGraph {
				raw, err := f.GraphJSON()
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(w, "\ngraph:\n%s\n", raw)
			}
			if showAll || showSummary {
				net := nn.New()
				if err := net.InitBytes(m.Data()); err != nil {
					return fmt.Errorf("build net: %w", err)
				}
				_, _ = fmt.Fprintf(w, "\nlayers:\n%s", net.Summary())
			}
			return nil
		},
	}
}

func printSections(w io.Writer, c *mcf.File) {
	_, _ = fmt.Fprintln(w, "\nsections:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "  type\tversion\toffset\tsize")
	for _, s := range c.Sections {
		_, _ = fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\n", mcf.SectionType(s.Type), s.Version, s.Offset, s.Size)
	}
	_ = tw.Flush()
}

func printIOTable(w io.Writer, f *mcfstore.File) error {
	table, err := f.IOTable()
	if errors.Is(err, mcf.ErrMissingSection) {
		_, _ = fmt.Fprintln(w, "\nio table: none (cpu engine only)")
		return nil
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(w, "\nio table:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "  name\trole\tdtype\tdims\tscale\toffset")
	for _, r := range table.Records {
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%v\t%g\t%d\n", r.Name, r.Role, modelpack.IODTypeName(r.DType), r.Dims, r.Scale, r.Offset)
	}
	return tw.Flush()
}

func printTensors(w io.Writer, f *mcfstore.File, filter string, limit int) error {
	names := f.TensorNames()
	_, _ = fmt.Fprintf(w, "\ntensors: %d\n", len(names))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "  name\tdtype\tshape\tbytes")
	shown := 0
	for _, name := range names {
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		if limit > 0 && shown == limit {
			_, _ = fmt.Fprintln(tw, "  ...\t\t\t")
			break
		}
		info, err := f.Tensor(name)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%v\t%d\n", name, info.DType, info.Shape, info.DataSize)
		shown++
	}
	return tw.Flush()
}
