package feat

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"unsafe"

	"github.com/goccy/go-json"
	"golang.org/x/sys/unix"

	"github.com/asrkit/spellout/internal/tensor"
)

// File is an opened FEA container. Matrix lookups are zero-copy views into
// the mapped data where alignment allows.
type File struct {
	Data     []byte
	Header   *Header
	Sections []Section

	entries []MatrixEntry
	byName  map[string]int
	dataOff uint64
	mmapped bool
}

// Open maps an FEA file read-only and validates its structure. If mmap is
// unavailable, it falls back to ReadAt-based loading. The returned file must
// be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 < 0 {
		return nil, ErrCorruptFile
	}
	if size64 > int64(int(^uint(0)>>1)) {
		// Cannot index this file safely as []byte on this architecture.
		return nil, ErrCorruptFile
	}
	size := int(size64)
	if size < headerSize {
		return nil, ErrCorruptFile
	}

	// Prefer mmap where available for zero-copy matrix views.
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		ff, parseErr := parseFileData(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return ff, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

// OpenReaderAt loads and validates an FEA from a random-access reader
// without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parseFileData(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parseFileData(data []byte, mmapped bool) (*File, error) {
	if len(data) < headerSize {
		return nil, ErrCorruptFile
	}
	hdr, ok := decodeHeader(data[:headerSize])
	if !ok {
		return nil, ErrCorruptFile
	}
	if !hdr.Valid() {
		return nil, ErrInvalidMagic
	}
	if !hdr.Compatible() {
		return nil, ErrUnsupportedMajor
	}
	if hdr.FileSize != uint64(len(data)) {
		return nil, ErrCorruptFile
	}
	if hdr.HeaderSize < uint32(headerSize) || uint64(hdr.HeaderSize) > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	// Section directory bounds check.
	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + uint64(hdr.SectionCount)*uint64(sectionSize)
	if dirStart < uint64(hdr.HeaderSize) {
		return nil, ErrCorruptFile
	}
	if dirEnd < dirStart || dirEnd > uint64(len(data)) {
		return nil, ErrCorruptFile
	}

	sections := make([]Section, hdr.SectionCount)
	for i := range sections {
		start := int(dirStart) + i*sectionSize
		sec, ok := decodeSection(data[start : start+sectionSize])
		if !ok {
			return nil, ErrCorruptFile
		}
		sections[i] = sec
	}
	for i := range sections {
		s := &sections[i]
		if s.Size > uint64(len(data)) {
			return nil, fmt.Errorf("%w: section %d size out of range", ErrCorruptFile, i)
		}
		end := s.Offset + s.Size
		if end < s.Offset || end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, i)
		}
		if s.Offset < uint64(hdr.HeaderSize) {
			return nil, fmt.Errorf("%w: section %d overlaps header", ErrCorruptFile, i)
		}
		if rangesOverlap(s.Offset, end, dirStart, dirEnd) {
			return nil, fmt.Errorf("%w: section %d overlaps section directory", ErrCorruptFile, i)
		}
		if s.Offset%feaAlign != 0 {
			return nil, fmt.Errorf("%w: section %d offset not %d-byte aligned", ErrCorruptFile, i, feaAlign)
		}
	}

	f := &File{Data: data, Header: &hdr, Sections: sections, mmapped: mmapped}
	if err := f.loadIndex(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) loadIndex() error {
	idx := f.Section(SectionMatrixIndex)
	dat := f.Section(SectionMatrixData)
	if idx == nil || dat == nil {
		return fmt.Errorf("%w: missing matrix sections", ErrCorruptFile)
	}
	entries, ok := decodeIndex(f.SectionData(idx))
	if !ok {
		return fmt.Errorf("%w: bad matrix index", ErrCorruptFile)
	}
	for i := range entries {
		e := &entries[i]
		end := e.Offset + e.Size
		if end < e.Offset || end > dat.Size {
			return fmt.Errorf("%w: matrix %q out of bounds", ErrCorruptFile, e.Name)
		}
	}
	f.entries = entries
	f.byName = make(map[string]int, len(entries))
	for i, e := range entries {
		f.byName[e.Name] = i
	}
	f.dataOff = dat.Offset
	return nil
}

// Close releases file resources and any mmap backing. Matrix views returned
// by Matrix become invalid.
func (f *File) Close() error {
	if f == nil {
		return nil
	}
	var err error
	if f.Data != nil && f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.Header = nil
	f.Sections = nil
	f.entries = nil
	f.byName = nil
	f.mmapped = false
	return err
}

// Section returns the first section matching the given type, or nil.
func (f *File) Section(t SectionType) *Section {
	for i := range f.Sections {
		if SectionType(f.Sections[i].Type) == t {
			return &f.Sections[i]
		}
	}
	return nil
}

// SectionData returns a zero-copy slice covering the section payload. The
// caller must not retain this slice after Close.
func (f *File) SectionData(s *Section) []byte {
	if f == nil || s == nil || f.Data == nil {
		return nil
	}
	end := s.Offset + s.Size
	if end < s.Offset || end > uint64(len(f.Data)) {
		return nil
	}
	return f.Data[int(s.Offset):int(end)]
}

// Names lists the stored matrices in index order.
func (f *File) Names() []string {
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Name
	}
	return out
}

// Entry returns the index record of one matrix.
func (f *File) Entry(name string) (MatrixEntry, bool) {
	i, ok := f.byName[name]
	if !ok {
		return MatrixEntry{}, false
	}
	return f.entries[i], true
}

// Matrix returns the named matrix. The returned data is a view into the
// mapped file when the payload is 4-byte aligned, a copy otherwise; views
// must not be written to or retained after Close.
func (f *File) Matrix(name string) (*tensor.Mat, error) {
	i, ok := f.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMatrixNotFound, name)
	}
	e := f.entries[i]
	rows, cols := int(e.Rows), int(e.Cols)
	if e.Size == 0 {
		return &tensor.Mat{R: rows, C: cols, Stride: cols}, nil
	}
	start := f.dataOff + e.Offset
	raw := f.Data[start : start+e.Size]

	var vals []float32
	if uintptr(unsafe.Pointer(&raw[0]))%4 == 0 {
		vals = unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), rows*cols)
	} else {
		vals = make([]float32, rows*cols)
		for j := range vals {
			vals[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[j*4:]))
		}
	}
	return &tensor.Mat{R: rows, C: cols, Stride: cols, Data: vals}, nil
}

// Meta decodes the optional metadata section into dst. Missing section is
// not an error; dst is left untouched.
func (f *File) Meta(dst any) error {
	s := f.Section(SectionMeta)
	if s == nil {
		return nil
	}
	return json.Unmarshal(f.SectionData(s), dst)
}

func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	// half-open ranges [a0,a1) and [b0,b1)
	return a0 < b1 && b0 < a1
}
