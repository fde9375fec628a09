package status

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestCodeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: OK},
		{name: "plain", err: io.EOF, want: Failed},
		{name: "new", err: New(NotSupported, "op", "nope"), want: NotSupported},
		{name: "wrapped by fmt", err: fmt.Errorf("ctx: %w", New(OutOfMemory, "op", "idx")), want: OutOfMemory},
		{name: "sentinel", err: ErrFileNotFound, want: FileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := CodeOf(tt.err); got != tt.want {
				t.Fatalf("CodeOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAnnotateKeepsCode(t *testing.T) {
	t.Parallel()

	base := New(InvalidArgument, "nn.Source", "missing input tensor")
	err := Annotate(base, "nn.Net", "layer %q bottom blob %d", "fc1", 2)
	if CodeOf(err) != InvalidArgument {
		t.Fatalf("code = %s, want INVALID_ARGUMENT", CodeOf(err))
	}
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("errors.Is did not match sentinel")
	}
	if errors.Is(err, ErrFailed) {
		t.Fatalf("errors.Is matched the wrong sentinel")
	}
	msg := err.Error()
	for _, want := range []string{"fc1", "bottom blob 2", "missing input tensor"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestWrapNil(t *testing.T) {
	t.Parallel()

	if err := Wrap(nil, Failed, "op", "x"); err != nil {
		t.Fatalf("Wrap(nil) = %v, want nil", err)
	}
	if err := Annotate(nil, "op", "x"); err != nil {
		t.Fatalf("Annotate(nil) = %v, want nil", err)
	}
}

func TestWrapUnwrapsCause(t *testing.T) {
	t.Parallel()

	err := Wrap(io.ErrUnexpectedEOF, FileNotFound, "loader", "read %s", "m.bin")
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("cause lost")
	}
	if !Is(err, FileNotFound) {
		t.Fatalf("code lost")
	}
}
