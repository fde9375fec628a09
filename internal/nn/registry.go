package nn

import (
	"fmt"
	"sort"
	"sync"
)

// Kind identifies a layer implementation independent of the operator type
// strings that map onto it.
type Kind string

const (
	KindSource Kind = "Source"
	KindLinear Kind = "Linear"
)

type Constructor func(Spec) Layer

// Registry maps operator types to layer constructors.
type Registry struct {
	kinds map[string]Kind
	ctors map[Kind]Constructor
}

func builtin() *Registry {
	r := &Registry{kinds: make(map[string]Kind), ctors: make(map[Kind]Constructor)}
	r.mustRegister("pnnx.Input", KindSource, NewSource)
	r.mustRegister("pnnx.Output", KindSource, NewSource)
	r.mustRegister("nn.Linear", KindLinear, NewLinear)
	return r
}

var defaultRegistry = sync.OnceValue(builtin)

// Default returns the process-wide registry of built-in operations. It must
// not be modified; use NewRegistry to add operations.
func Default() *Registry {
	return defaultRegistry()
}

// NewRegistry returns a private copy of the built-in table.
func NewRegistry() *Registry {
	return builtin()
}

// Register maps opType to kind. ctor may be nil when kind is already known.
func (r *Registry) Register(opType string, kind Kind, ctor Constructor) error {
	if opType == "" || kind == "" {
		return fmt.Errorf("nn: register: empty op type or kind")
	}
	if _, exists := r.kinds[opType]; exists {
		return fmt.Errorf("nn: register: op type %q already registered", opType)
	}
	if ctor == nil {
		if _, ok := r.ctors[kind]; !ok {
			return fmt.Errorf("nn: register: no constructor for kind %s", kind)
		}
	} else {
		r.ctors[kind] = ctor
	}
	r.kinds[opType] = kind
	return nil
}

func (r *Registry) mustRegister(opType string, kind Kind, ctor Constructor) {
	if err := r.Register(opType, kind, ctor); err != nil {
		panic(err)
	}
}

// Lookup returns the constructor for opType.
func (r *Registry) Lookup(opType string) (Kind, Constructor, bool) {
	kind, ok := r.kinds[opType]
	if !ok {
		return "", nil, false
	}
	ctor, ok := r.ctors[kind]
	return kind, ctor, ok
}

// SupportedOps lists registered op types in sorted order.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.kinds))
	for op := range r.kinds {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}
