// Package tensor holds the dense rank-4 tensor shared by the graph runtime,
// the codec and the inference backends.
package tensor

// DataType is the element encoding of a tensor buffer.
type DataType int

const (
	Float32 DataType = iota
	Float16
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	UFixed8
	UFixed16
	UFixed32
	SFixed8
	SFixed16
	SFixed32
	Bool8
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Int8, Uint8, UFixed8, SFixed8, Bool8:
		return 1
	case Float16, Int16, Uint16, UFixed16, SFixed16:
		return 2
	case Float32, Int32, Uint32, UFixed32, SFixed32:
		return 4
	case Int64, Uint64:
		return 8
	default:
		return 0
	}
}

func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case UFixed8:
		return "ufixed8"
	case UFixed16:
		return "ufixed16"
	case UFixed32:
		return "ufixed32"
	case SFixed8:
		return "sfixed8"
	case SFixed16:
		return "sfixed16"
	case SFixed32:
		return "sfixed32"
	case Bool8:
		return "bool8"
	default:
		return "unknown"
	}
}

// Quantized reports whether the type carries a scale/offset encoding.
func (dt DataType) Quantized() bool {
	switch dt {
	case UFixed8, UFixed16, UFixed32, SFixed8, SFixed16, SFixed32:
		return true
	}
	return false
}

// ParseDataType is the inverse of String.
func ParseDataType(s string) (DataType, bool) {
	for dt := Float32; dt <= Bool8; dt++ {
		if dt.String() == s {
			return dt, true
		}
	}
	return 0, false
}

// Layout is the axis order of a rank-4 tensor.
type Layout int

const (
	NCHW Layout = iota
	NHWC
)

func (l Layout) String() string {
	switch l {
	case NCHW:
		return "NCHW"
	case NHWC:
		return "NHWC"
	default:
		return "unknown"
	}
}

// MemLocation says where the tensor buffer lives.
type MemLocation int

const (
	CPU MemLocation = iota
	Device
)

func (m MemLocation) String() string {
	switch m {
	case CPU:
		return "CPU"
	case Device:
		return "Device"
	default:
		return "unknown"
	}
}
