package mcf

import (
	"errors"
	"fmt"
	"os"
	"sort"
)

const (
	graphSectionVersion uint32 = 1
	tensorDataVersion   uint32 = 1
)

// PackTensor is one tensor payload to store in the container.
type PackTensor struct {
	Name  string
	DType TensorDType
	Shape []uint64
	Data  []byte
}

type PackOptions struct {
	// OutputPath is the .mcf file to create.
	OutputPath string

	// Graph is the graph description (JSON). Required.
	Graph []byte

	// IOTable optionally lists the native tensors of an accelerator graph.
	IOTable []IORecord

	// Tensors are written in name order.
	Tensors []PackTensor

	// TensorAlign is the per-tensor alignment inside SectionTensorData. Typical: 64.
	// Set to 1 to disable padding between tensors.
	TensorAlign int
}

// Pack writes a complete container to opts.OutputPath.
func Pack(opts PackOptions) error {
	if opts.OutputPath == "" {
		return errors.New("mcf: pack: OutputPath required")
	}
	if len(opts.Graph) == 0 {
		return errors.New("mcf: pack: graph description required")
	}
	if opts.TensorAlign == 0 {
		opts.TensorAlign = 64
	}

	tensors := make([]PackTensor, len(opts.Tensors))
	copy(tensors, opts.Tensors)
	sort.Slice(tensors, func(i, j int) bool { return tensors[i].Name < tensors[j].Name })
	for _, t := range tensors {
		if err := checkPackTensor(t); err != nil {
			return err
		}
	}

	outF, err := os.Create(opts.OutputPath)
	if err != nil {
		return err
	}
	defer func() { _ = outF.Close() }()

	w, err := NewWriter(outF)
	if err != nil {
		return err
	}
	if err := w.WriteSection(SectionGraph, graphSectionVersion, opts.Graph); err != nil {
		return err
	}
	if len(opts.IOTable) > 0 {
		iot, err := EncodeIOTableSection(opts.IOTable)
		if err != nil {
			return err
		}
		if err := w.WriteSection(SectionIOTable, IOTableVersion, iot); err != nil {
			return err
		}
	}
	if len(tensors) > 0 {
		recs, err := writeTensorData(w, tensors, opts.TensorAlign)
		if err != nil {
			return err
		}
		idxBytes, err := EncodeTensorIndexSection(recs)
		if err != nil {
			return err
		}
		if err := w.WriteSection(SectionTensorIndex, TensorIndexVersion, idxBytes); err != nil {
			return err
		}
	}
	if err := w.Finalise(); err != nil {
		return err
	}
	return outF.Close()
}

func writeTensorData(w *Writer, tensors []PackTensor, align int) ([]TensorIndexRecord, error) {
	td, err := w.BeginSection(SectionTensorData, tensorDataVersion)
	if err != nil {
		return nil, err
	}
	defer func() { _ = td.Close() }()

	if align <= 1 {
		align = 0
	}
	if align == 64 {
		_ = w.AddFlags(FlagTensorDataAligned64)
	}

	recs := make([]TensorIndexRecord, 0, len(tensors))
	for _, t := range tensors {
		if align != 0 {
			if err := td.Align(align); err != nil {
				return nil, err
			}
		}
		off, err := td.CurrentAbsOffset()
		if err != nil {
			return nil, err
		}
		if _, err := td.Write(t.Data); err != nil {
			return nil, fmt.Errorf("mcf: tensor %q: %w", t.Name, err)
		}
		recs = append(recs, TensorIndexRecord{
			Name:     t.Name,
			DType:    t.DType,
			Shape:    t.Shape,
			DataOff:  off,
			DataSize: uint64(len(t.Data)),
		})
	}
	return recs, td.End()
}

func checkPackTensor(t PackTensor) error {
	if t.Name == "" {
		return errors.New("mcf: pack: tensor name must be non-empty")
	}
	size := t.DType.Size()
	if size == 0 {
		return fmt.Errorf("mcf: pack: tensor %q: unsupported dtype %s", t.Name, t.DType)
	}
	n := uint64(1)
	for _, d := range t.Shape {
		var ok bool
		if n, ok = mulUint64(n, d); !ok {
			return fmt.Errorf("mcf: pack: tensor %q: shape overflow", t.Name)
		}
	}
	want, ok := mulUint64(n, uint64(size))
	if !ok || want != uint64(len(t.Data)) {
		return fmt.Errorf("mcf: pack: tensor %q: dtype/shape mismatch (want %d bytes, have %d)", t.Name, want, len(t.Data))
	}
	return nil
}
