// Package mcf implements the Model Container File format.
//
// An MCF file is a single memory-mappable container holding everything a
// runtime needs to rebuild a network: the graph description, the weight
// tensors and, for accelerator-compiled models, the table of native input and
// output tensors with their quantization encodings. The format describes
// structure and data only and never implies runtime behaviour.
package mcf

// MCF global constants must never change.
const (
	// MagicMCF is the file magic for all MCF containers.
	// It is encoded as "MCF\0".
	MagicMCF = "MCF\x00"

	// CurrentMajor changes only on a breaking format change.
	CurrentMajor uint16 = 1

	// CurrentMinor may add new optional sections or fields.
	CurrentMinor uint16 = 1

	// FlagTensorDataAligned64 marks every tensor payload as 64-byte aligned.
	FlagTensorDataAligned64 uint64 = 1 << 0
)

type SectionType uint32

const (
	// SectionGraph holds the graph description as UTF-8 JSON.
	SectionGraph SectionType = 0x0001
	// SectionIOTable lists the native input and output tensors.
	SectionIOTable     SectionType = 0x0002
	SectionTensorIndex SectionType = 0x0003
	SectionTensorData  SectionType = 0x0004
)

func (t SectionType) String() string {
	switch t {
	case SectionGraph:
		return "graph"
	case SectionIOTable:
		return "io_table"
	case SectionTensorIndex:
		return "tensor_index"
	case SectionTensorData:
		return "tensor_data"
	default:
		return "unknown"
	}
}
