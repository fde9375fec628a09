package quant

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sys/cpu"
)

// Kernel selects the implementation family.
type Kernel int

const (
	KernelAuto Kernel = iota
	KernelScalar
	KernelTiled
)

func (k Kernel) String() string {
	switch k {
	case KernelAuto:
		return "auto"
	case KernelScalar:
		return "scalar"
	case KernelTiled:
		return "tiled"
	default:
		return fmt.Sprintf("Kernel(%d)", int(k))
	}
}

// ParseKernel accepts "auto", "scalar" or "tiled".
func ParseKernel(s string) (Kernel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return KernelAuto, nil
	case "scalar":
		return KernelScalar, nil
	case "tiled", "simd":
		return KernelTiled, nil
	default:
		return KernelAuto, fmt.Errorf("unknown kernel %q (expected auto, scalar or tiled)", s)
	}
}

var detectKernel = sync.OnceValue(func() Kernel {
	switch runtime.GOARCH {
	case "amd64":
		if cpu.X86.HasAVX2 {
			return KernelTiled
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			return KernelTiled
		}
	}
	return KernelScalar
})

// DetectKernel reports the family picked for KernelAuto on this machine.
func DetectKernel() Kernel {
	return detectKernel()
}

func (k Kernel) resolve() Kernel {
	if k == KernelAuto {
		return detectKernel()
	}
	return k
}

// Features lists the CPU features consulted by DetectKernel.
func Features() map[string]bool {
	return map[string]bool{
		"amd64.AVX":    cpu.X86.HasAVX,
		"amd64.AVX2":   cpu.X86.HasAVX2,
		"amd64.FMA":    cpu.X86.HasFMA,
		"amd64.AVX512": cpu.X86.HasAVX512F,
		"arm64.ASIMD":  cpu.ARM64.HasASIMD,
		"arm64.FPHP":   cpu.ARM64.HasFPHP,
	}
}
