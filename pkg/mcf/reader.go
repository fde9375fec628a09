package mcf

import (
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// File is an opened container. Data is either an mmap of the file or an
// in-memory copy; section payloads alias it.
type File struct {
	Data     []byte
	Header   *MCFHeader
	Sections []MCFSection
	mmapped  bool
}

// Open maps path read-only and validates it, reading it into memory when
// mmap is unavailable. Close releases the mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() < mcfHeaderSize || st.Size() > math.MaxInt {
		return nil, ErrCorruptFile
	}

	if data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_SHARED); err == nil {
		mf, perr := parseFileData(data, true)
		if perr != nil {
			_ = unix.Munmap(data)
		}
		return mf, perr
	}
	return OpenReaderAt(f, st.Size())
}

// OpenBytes validates an in-memory image. The returned file aliases data,
// which must stay unmodified until Close.
func OpenBytes(data []byte) (*File, error) {
	return parseFileData(data, false)
}

// OpenReaderAt copies size bytes from r and validates them.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > math.MaxInt {
		return nil, ErrCorruptFile
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, size), data); err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

func parseFileData(data []byte, mmapped bool) (*File, error) {
	hdr, ok := decodeHeader(data)
	switch {
	case !ok:
		return nil, ErrCorruptFile
	case !hdr.Valid():
		return nil, ErrInvalidMagic
	case !hdr.Compatible():
		return nil, ErrUnsupportedMajor
	}
	size := uint64(len(data))
	if hdr.FileSize != size || uint64(hdr.HeaderSize) > size {
		return nil, ErrCorruptFile
	}

	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + uint64(hdr.SectionCount)*mcfSectionSize
	if dirStart < uint64(hdr.HeaderSize) || dirEnd < dirStart || dirEnd > size {
		return nil, ErrCorruptFile
	}

	sections := make([]MCFSection, hdr.SectionCount)
	for i := range sections {
		s, ok := decodeSection(data[dirStart+uint64(i)*mcfSectionSize:])
		if !ok {
			return nil, ErrCorruptFile
		}
		end := s.Offset + s.Size
		switch {
		case s.Size > size || end < s.Offset || end > size:
			return nil, fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, i)
		case s.Offset < uint64(hdr.HeaderSize):
			return nil, fmt.Errorf("%w: section %d overlaps header", ErrCorruptFile, i)
		case rangesOverlap(s.Offset, end, dirStart, dirEnd):
			return nil, fmt.Errorf("%w: section %d overlaps section directory", ErrCorruptFile, i)
		case s.Offset%mcfAlign != 0:
			return nil, fmt.Errorf("%w: section %d offset not %d-byte aligned", ErrCorruptFile, i, mcfAlign)
		}
		sections[i] = s
	}

	return &File{Data: data, Header: &hdr, Sections: sections, mmapped: mmapped}, nil
}

// Close releases the mapping, if any. Section slices must not be used after.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	var err error
	if f.mmapped && f.Data != nil {
		err = unix.Munmap(f.Data)
	}
	*f = File{}
	return err
}

// Section returns the first section of type t, or nil.
func (f *File) Section(t SectionType) *MCFSection {
	for i := range f.Sections {
		if SectionType(f.Sections[i].Type) == t {
			return &f.Sections[i]
		}
	}
	return nil
}

// RequireSection returns the payload of the first section of type t, or
// ErrMissingSection.
func (f *File) RequireSection(t SectionType) ([]byte, error) {
	s := f.Section(t)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingSection, t)
	}
	data := f.SectionData(s)
	if data == nil && s.Size != 0 {
		return nil, ErrCorruptFile
	}
	return data, nil
}

// SectionData is a zero-copy view of the payload of s.
func (f *File) SectionData(s *MCFSection) []byte {
	if f == nil || s == nil || f.Data == nil {
		return nil
	}
	end := s.Offset + s.Size
	if end < s.Offset || end > uint64(len(f.Data)) {
		return nil
	}
	return f.Data[s.Offset:end]
}
