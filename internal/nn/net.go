package nn

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"

	"github.com/jiangyanpeng/simple-nn/internal/graph"
	"github.com/jiangyanpeng/simple-nn/internal/logger"
	"github.com/jiangyanpeng/simple-nn/internal/mcfstore"
	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

const opNet = "nn.Net"

var blobName = regexp.MustCompile(`^[0-9]+$`)

// Net owns the blob and layer arrays built from one graph. Layers are
// index-aligned with the graph's operator order.
type Net struct {
	name     string
	registry *Registry
	log      logger.Logger

	blobs     []Blob
	layers    []Layer
	attrBytes []int

	inputNames   []string
	outputNames  []string
	inputLayers  []int
	outputLayers []int

	built bool
}

type Option func(*Net)

func WithRegistry(r *Registry) Option {
	return func(n *Net) { n.registry = r }
}

func WithLogger(l logger.Logger) Option {
	return func(n *Net) { n.log = l }
}

func New(opts ...Option) *Net {
	n := &Net{registry: Default(), log: logger.Discard()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Init opens the model container at path, binds its weights and builds.
func (n *Net) Init(path string) error {
	f, err := mcfstore.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return status.Wrap(err, status.FileNotFound, opNet, "open %s", path)
		}
		return status.Wrap(err, status.Failed, opNet, "open %s", path)
	}
	defer func() { _ = f.Close() }()
	return n.initFrom(f)
}

// InitBytes is Init over an in-memory container image.
func (n *Net) InitBytes(data []byte) error {
	f, err := mcfstore.OpenBytes(data)
	if err != nil {
		return status.Wrap(err, status.Failed, opNet, "open container")
	}
	defer func() { _ = f.Close() }()
	return n.initFrom(f)
}

func (n *Net) initFrom(c graph.Container) error {
	g, err := graph.FromContainer(c)
	if err != nil {
		n.reset()
		return err
	}
	return n.Build(g)
}

func (n *Net) reset() {
	n.name = ""
	n.blobs, n.layers, n.attrBytes = nil, nil, nil
	n.inputNames, n.outputNames = nil, nil
	n.inputLayers, n.outputLayers = nil, nil
	n.built = false
}

// Build creates one Blob per operand and one Layer per operator. On failure
// the Net is left unbuilt.
func (n *Net) Build(g *graph.Graph) error {
	n.reset()
	if g == nil || len(g.Operators) == 0 {
		return status.New(status.InvalidArgument, opNet, "graph has no operators")
	}
	if len(g.Operands) == 0 {
		return status.New(status.InvalidArgument, opNet, "graph has no operands")
	}

	n.blobs = placeBlobs(g.Operands)

	for i, op := range g.Operators {
		if err := n.addLayer(i, op); err != nil {
			n.reset()
			return err
		}
	}
	n.name = g.Name
	n.built = true
	n.log.Debug("net built", "name", n.name, "layers", len(n.layers), "blobs", len(n.blobs))
	n.log.Debug("net summary\n" + n.Summary())
	return nil
}

// placeBlobs puts every operand named by an in-range index at that index, so
// blob i is operand "i" whatever order the graph lists operands in. The
// remaining operands fill the free slots in order.
func placeBlobs(operands []*graph.Operand) []Blob {
	blobs := make([]Blob, len(operands))
	placed := make([]bool, len(operands))
	var rest []*graph.Operand
	for _, o := range operands {
		idx, err := strconv.Atoi(o.Name)
		if err != nil || !blobName.MatchString(o.Name) || idx >= len(blobs) || placed[idx] {
			rest = append(rest, o)
			continue
		}
		blobs[idx] = Blob{Name: o.Name, Producer: -1, Consumer: -1, Shape: o.Shape}
		placed[idx] = true
	}
	slot := 0
	for _, o := range rest {
		for placed[slot] {
			slot++
		}
		blobs[slot] = Blob{Name: o.Name, Producer: -1, Consumer: -1, Shape: o.Shape}
		placed[slot] = true
	}
	return blobs
}

func (n *Net) addLayer(i int, op *graph.Operator) error {
	_, ctor, ok := n.registry.Lookup(op.Type)
	if !ok {
		return status.New(status.NotSupported, opNet, "operator %s: unsupported type %q", op.Name, op.Type)
	}
	bottoms, err := n.blobIndices(op, op.Inputs)
	if err != nil {
		return err
	}
	tops, err := n.blobIndices(op, op.Outputs)
	if err != nil {
		return err
	}
	for _, b := range bottoms {
		if c := n.blobs[b].Consumer; c >= 0 && c != i {
			return status.New(status.NotSupported, opNet, "operator %s: blob %d is already consumed by layer %d", op.Name, b, c)
		}
		n.blobs[b].Consumer = i
	}
	for _, t := range tops {
		if p := n.blobs[t].Producer; p >= 0 && p != i {
			return status.New(status.InvalidArgument, opNet, "operator %s: blob %d is already produced by layer %d", op.Name, t, p)
		}
		n.blobs[t].Producer = i
	}

	layer := ctor(Spec{Name: op.Name, Type: op.Type, Bottoms: bottoms, Tops: tops})
	if len(bottoms) == 0 {
		n.inputNames = append(n.inputNames, op.Name)
		n.inputLayers = append(n.inputLayers, i)
	}
	if len(tops) == 0 {
		n.outputNames = append(n.outputNames, op.Name)
		n.outputLayers = append(n.outputLayers, i)
	}
	if err := layer.Init(op.Params, op.Attrs); err != nil {
		return status.Annotate(err, opNet, "init layer %s", op.Name)
	}

	size := 0
	for _, a := range op.Attrs {
		size += a.ByteSize()
	}
	n.layers = append(n.layers, layer)
	n.attrBytes = append(n.attrBytes, size)
	return nil
}

func (n *Net) blobIndices(op *graph.Operator, operands []*graph.Operand) ([]int, error) {
	out := make([]int, 0, len(operands))
	for _, o := range operands {
		if !blobName.MatchString(o.Name) {
			return nil, status.New(status.NotSupported, opNet, "operator %s: operand name %q is not a blob index", op.Name, o.Name)
		}
		idx, err := strconv.Atoi(o.Name)
		if err != nil {
			return nil, status.Wrap(err, status.NotSupported, opNet, "operator %s: operand %q", op.Name, o.Name)
		}
		if idx >= len(n.blobs) {
			return nil, status.New(status.OutOfMemory, opNet, "operator %s: blob index %d outside %d blobs", op.Name, idx, len(n.blobs))
		}
		if n.blobs[idx].Name != o.Name {
			return nil, status.New(status.InvalidArgument, opNet, "operator %s: operand %q is not declared", op.Name, o.Name)
		}
		out = append(out, idx)
	}
	return out, nil
}

// Forward evaluates layer idx, first forwarding the producer of every bottom
// blob. blobs is indexed by blob and holds the tensors computed so far; the
// caller seeds the tops of input layers.
func (n *Net) Forward(idx int, blobs []*tensor.Tensor) error {
	if !n.built {
		return status.New(status.Failed, opNet, "net is not built")
	}
	if len(blobs) != len(n.blobs) {
		return status.New(status.InvalidArgument, opNet, "got %d blob slots, net has %d", len(blobs), len(n.blobs))
	}
	return n.forward(idx, blobs, 0)
}

func (n *Net) forward(idx int, blobs []*tensor.Tensor, depth int) error {
	if idx < 0 || idx >= len(n.layers) {
		return status.New(status.OutOfMemory, opNet, "layer index %d outside %d layers", idx, len(n.layers))
	}
	layer := n.layers[idx]
	if depth > len(n.layers) {
		return status.New(status.Failed, layer.Name(), "dependency cycle")
	}

	bottoms := layer.Bottoms()
	inputs := make([]*tensor.Tensor, len(bottoms))
	for i, b := range bottoms {
		if p := n.blobs[b].Producer; p >= 0 {
			if err := n.forward(p, blobs, depth+1); err != nil {
				return status.Annotate(err, layer.Name(), "bottom blob %d", b)
			}
		}
		if blobs[b] == nil {
			return status.New(status.InvalidArgument, layer.Name(), "bottom blob %d has no tensor", b)
		}
		inputs[i] = blobs[b]
	}

	tops := layer.Tops()
	outputs := make([]*tensor.Tensor, len(tops))
	for i, t := range tops {
		outputs[i] = blobs[t]
	}
	if err := layer.Forward(inputs, outputs); err != nil {
		return err
	}
	for i, t := range tops {
		blobs[t] = outputs[i]
	}
	return nil
}

// Run seeds every input layer from inputs, keyed by layer name, and returns
// the tensor reaching each output layer.
func (n *Net) Run(inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	if !n.built {
		return nil, status.New(status.Failed, opNet, "net is not built")
	}
	blobs := make([]*tensor.Tensor, len(n.blobs))
	for k, li := range n.inputLayers {
		name := n.inputNames[k]
		t, ok := inputs[name]
		if !ok || t == nil {
			return nil, status.New(status.InvalidArgument, opNet, "missing input %q", name)
		}
		for _, top := range n.layers[li].Tops() {
			blobs[top] = t
		}
	}

	out := make(map[string]*tensor.Tensor, len(n.outputLayers))
	for k, li := range n.outputLayers {
		if err := n.forward(li, blobs, 0); err != nil {
			return nil, err
		}
		if b := n.layers[li].Bottoms(); len(b) > 0 {
			out[n.outputNames[k]] = blobs[b[0]]
		}
	}
	return out, nil
}

func (n *Net) Name() string          { return n.name }
func (n *Net) Built() bool           { return n.built }
func (n *Net) Blobs() []Blob         { return n.blobs }
func (n *Net) Layers() []Layer       { return n.layers }
func (n *Net) InputNames() []string  { return n.inputNames }
func (n *Net) OutputNames() []string { return n.outputNames }

// InputShape is the declared shape of the blob input layer i feeds.
func (n *Net) InputShape(i int) ([]int, error) {
	if i < 0 || i >= len(n.inputLayers) {
		return nil, status.New(status.OutOfMemory, opNet, "input %d outside %d inputs", i, len(n.inputLayers))
	}
	tops := n.layers[n.inputLayers[i]].Tops()
	if len(tops) == 0 {
		return nil, status.New(status.Failed, opNet, "input %s has no top blob", n.inputNames[i])
	}
	return n.blobs[tops[0]].Shape, nil
}

// OutputShape is the declared shape of the blob output layer i consumes.
func (n *Net) OutputShape(i int) ([]int, error) {
	if i < 0 || i >= len(n.outputLayers) {
		return nil, status.New(status.OutOfMemory, opNet, "output %d outside %d outputs", i, len(n.outputLayers))
	}
	bottoms := n.layers[n.outputLayers[i]].Bottoms()
	if len(bottoms) == 0 {
		return nil, status.New(status.Failed, opNet, "output %s has no bottom blob", n.outputNames[i])
	}
	return n.blobs[bottoms[0]].Shape, nil
}

// BlobIndex finds a blob by name.
func (n *Net) BlobIndex(name string) (int, bool) {
	for i, b := range n.blobs {
		if b.Name == name {
			return i, true
		}
	}
	return -1, false
}

// LayerIndex finds a layer by name.
func (n *Net) LayerIndex(name string) (int, bool) {
	for i, l := range n.layers {
		if l.Name() == name {
			return i, true
		}
	}
	return -1, false
}

// Summary renders one row per layer: name, type, the shapes of its first
// bottom and top blobs and the attribute payload size in bytes.
func (n *Net) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-25s%-25s%-25s%-25s%s\n", "name", "type", "input_shape", "output_shape", "param")
	total := 0
	for i, l := range n.layers {
		fmt.Fprintf(&sb, "%-25s%-25s%-25s%-25s%d\n",
			l.Name(), l.Type(), n.firstShape(l.Bottoms()), n.firstShape(l.Tops()), n.attrBytes[i])
		total += n.attrBytes[i]
	}
	fmt.Fprintf(&sb, "total params: %d bytes\n", total)
	return sb.String()
}

func (n *Net) firstShape(idx []int) string {
	if len(idx) == 0 {
		return "-"
	}
	s := n.blobs[idx[0]].Shape
	if len(s) == 0 {
		return "?"
	}
	return strings.ReplaceAll(fmt.Sprint(s), " ", ",")
}
