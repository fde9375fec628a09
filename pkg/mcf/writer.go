package mcf

import (
	"errors"
	"fmt"
	"os"
	"slices"
)

var (
	errFinalised   = errors.New("mcf: writer already finalised")
	errSectionOpen = errors.New("mcf: section write in progress")
	errNotActive   = errors.New("mcf: section writer not active")
)

var zeroPad [mcfAlign * 8]byte

// Writer lays out a container front to back. The header is reserved first
// and patched by Finalise once the section directory is known.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	f        *os.File
	pos      int64
	sections []MCFSection
	flags    uint64
	open     *SectionWriter
	done     bool
}

// SectionWriter streams one section payload. Padding added by Align counts
// towards the section size.
type SectionWriter struct {
	w       *Writer
	typ     SectionType
	version uint32
	start   int64
}

// NewWriter truncates f and reserves the header.
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("mcf: nil file")
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	w := &Writer{f: f}
	if err := w.pad(mcfHeaderSize); err != nil {
		return nil, err
	}
	return w, w.alignTo(mcfAlign)
}

func (w *Writer) write(p []byte) error {
	n, err := w.f.Write(p)
	w.pos += int64(n)
	return err
}

func (w *Writer) pad(n int64) error {
	for n > 0 {
		chunk := min(n, int64(len(zeroPad)))
		if err := w.write(zeroPad[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func (w *Writer) alignTo(n int64) error {
	if n <= 1 || w.pos%n == 0 {
		return nil
	}
	return w.pad(n - w.pos%n)
}

// claim checks that typ may start now and aligns the cursor for it.
func (w *Writer) claim(typ SectionType) error {
	switch {
	case w.done:
		return errFinalised
	case w.open != nil:
		return errSectionOpen
	}
	for _, s := range w.sections {
		if SectionType(s.Type) == typ {
			return fmt.Errorf("mcf: duplicate %s section", typ)
		}
	}
	return w.alignTo(mcfAlign)
}

// WriteSection stores data as a complete section. Each type may appear once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	if err := w.claim(typ); err != nil {
		return err
	}
	start := w.pos
	if err := w.write(data); err != nil {
		return err
	}
	w.sections = append(w.sections, MCFSection{Type: uint32(typ), Version: version, Offset: uint64(start), Size: uint64(len(data))})
	return nil
}

func (w *Writer) AddFlags(flags uint64) error {
	if w.done {
		return errFinalised
	}
	w.flags |= flags
	return nil
}

// BeginSection opens a streamed section. It must be ended before any other
// section is written.
func (w *Writer) BeginSection(typ SectionType, version uint32) (*SectionWriter, error) {
	if err := w.claim(typ); err != nil {
		return nil, err
	}
	w.open = &SectionWriter{w: w, typ: typ, version: version, start: w.pos}
	return w.open, nil
}

func (sw *SectionWriter) active() error {
	if sw.w.open != sw {
		return errNotActive
	}
	return nil
}

// CurrentAbsOffset is the file offset the next Write lands at.
func (sw *SectionWriter) CurrentAbsOffset() (uint64, error) {
	if err := sw.active(); err != nil {
		return 0, err
	}
	return uint64(sw.w.pos), nil
}

// Align pads the section until the file offset is a multiple of n.
func (sw *SectionWriter) Align(n int) error {
	if err := sw.active(); err != nil {
		return err
	}
	return sw.w.alignTo(int64(n))
}

func (sw *SectionWriter) Write(p []byte) (int, error) {
	if err := sw.active(); err != nil {
		return 0, err
	}
	before := sw.w.pos
	err := sw.w.write(p)
	return int(sw.w.pos - before), err
}

// End records the section in the directory.
func (sw *SectionWriter) End() error {
	if err := sw.active(); err != nil {
		return err
	}
	w := sw.w
	w.sections = append(w.sections, MCFSection{
		Type:    uint32(sw.typ),
		Version: sw.version,
		Offset:  uint64(sw.start),
		Size:    uint64(w.pos - sw.start),
	})
	w.open = nil
	return nil
}

// Close ends the section if it is still open.
func (sw *SectionWriter) Close() error {
	if sw.w.open != sw {
		return nil
	}
	return sw.End()
}

// Finalise writes the section directory, sorted by type, and patches the
// header. The writer is unusable afterwards.
func (w *Writer) Finalise() error {
	switch {
	case w.done:
		return errFinalised
	case w.open != nil:
		return errSectionOpen
	}
	w.done = true

	slices.SortFunc(w.sections, func(a, b MCFSection) int { return int(a.Type) - int(b.Type) })
	if err := w.alignTo(mcfAlign); err != nil {
		return err
	}
	dirOff := w.pos
	dir := make([]byte, mcfSectionSize*len(w.sections))
	for i, s := range w.sections {
		if !encodeSection(dir[i*mcfSectionSize:], s) {
			return errors.New("mcf: encode section failed")
		}
	}
	if err := w.write(dir); err != nil {
		return err
	}

	h := MCFHeader{
		Major:            CurrentMajor,
		Minor:            CurrentMinor,
		HeaderSize:       mcfHeaderSize,
		SectionCount:     uint32(len(w.sections)),
		SectionDirOffset: uint64(dirOff),
		FileSize:         uint64(w.pos),
		Flags:            w.flags,
	}
	copy(h.Magic[:], MagicMCF)
	var hdr [mcfHeaderSize]byte
	if !encodeHeader(hdr[:], h) {
		return errors.New("mcf: encode header failed")
	}
	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		return err
	}
	return w.f.Sync()
}
