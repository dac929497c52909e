package feat

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/asrkit/spellout/internal/tensor"
)

// Writer builds an FEA file. Matrices are streamed to the data section as
// they are added; the index, metadata and header are written by Finalise.
type Writer struct {
	f       *os.File
	entries []MatrixEntry
	seen    map[string]struct{}
	meta    any
	closed  bool

	dataStart int64
	padBuf    []byte
}

// NewWriter creates an FEA writer targeting the given file. It truncates the
// file and reserves space for the header.
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("feat: nil file")
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	w := &Writer{
		f:      f,
		seen:   make(map[string]struct{}),
		padBuf: make([]byte, 4096),
	}
	if err := w.writeZeros(headerSize); err != nil {
		return nil, err
	}
	if err := w.alignTo(feaAlign); err != nil {
		return nil, err
	}
	start, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	w.dataStart = start
	return w, nil
}

// Add appends one named matrix to the data section. Names must be unique
// within a container.
func (w *Writer) Add(name string, m *tensor.Mat) error {
	if w.closed {
		return errors.New("feat: writer already finalised")
	}
	if name == "" || len(name) > math.MaxUint16 {
		return errors.New("feat: bad matrix name")
	}
	if _, ok := w.seen[name]; ok {
		return errors.New("feat: duplicate matrix name")
	}
	if m == nil || m.Stride != m.C {
		return errors.New("feat: matrix must be contiguous")
	}

	// Keep every payload aligned so readers can hand out casted views.
	if err := w.alignTo(feaAlign); err != nil {
		return err
	}
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	buf := make([]byte, 4096)
	n := 0
	flush := func() error {
		if n == 0 {
			return nil
		}
		err := writeFull(w.f, buf[:n])
		n = 0
		return err
	}
	for _, v := range m.Data[:m.R*m.C] {
		if n+4 > len(buf) {
			if err := flush(); err != nil {
				return err
			}
		}
		binary.LittleEndian.PutUint32(buf[n:], math.Float32bits(v))
		n += 4
	}
	if err := flush(); err != nil {
		return err
	}

	w.entries = append(w.entries, MatrixEntry{
		Name:   name,
		Rows:   uint32(m.R),
		Cols:   uint32(m.C),
		Offset: uint64(pos - w.dataStart),
		Size:   uint64(m.R*m.C) * 4,
	})
	w.seen[name] = struct{}{}
	return nil
}

// SetMeta attaches a JSON-encodable metadata value, written by Finalise.
func (w *Writer) SetMeta(meta any) {
	w.meta = meta
}

// Finalise writes the index, metadata and section directory, then patches
// the header. The writer must not be used afterwards.
func (w *Writer) Finalise() error {
	if w.closed {
		return errors.New("feat: writer already finalised")
	}
	if len(w.entries) == 0 {
		return errors.New("feat: no matrices written")
	}
	w.closed = true

	dataEnd, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	sections := []Section{{
		Type:   uint32(SectionMatrixData),
		Offset: uint64(w.dataStart),
		Size:   uint64(dataEnd - w.dataStart),
	}}

	writeSection := func(typ SectionType, payload []byte) error {
		if err := w.alignTo(feaAlign); err != nil {
			return err
		}
		pos, err := w.f.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		if err := writeFull(w.f, payload); err != nil {
			return err
		}
		sections = append(sections, Section{
			Type:   uint32(typ),
			Offset: uint64(pos),
			Size:   uint64(len(payload)),
		})
		return nil
	}

	if err := writeSection(SectionMatrixIndex, encodeIndex(w.entries)); err != nil {
		return err
	}
	if w.meta != nil {
		payload, err := json.Marshal(w.meta)
		if err != nil {
			return err
		}
		if err := writeSection(SectionMeta, payload); err != nil {
			return err
		}
	}

	// Deterministic directory ordering.
	sort.Slice(sections, func(i, j int) bool { return sections[i].Type < sections[j].Type })

	if err := w.alignTo(feaAlign); err != nil {
		return err
	}
	dirOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	secBuf := make([]byte, sectionSize)
	for i := range sections {
		if !encodeSection(secBuf, sections[i]) {
			return errors.New("feat: encode section failed")
		}
		if err := writeFull(w.f, secBuf); err != nil {
			return err
		}
	}

	fileSize, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(fileSize); err != nil {
		return err
	}

	var header Header
	copy(header.Magic[:], MagicFEA)
	header.Major = CurrentMajor
	header.Minor = CurrentMinor
	header.HeaderSize = uint32(headerSize)
	header.SectionCount = uint32(len(sections))
	header.SectionDirOffset = uint64(dirOffset)
	header.FileSize = uint64(fileSize)
	header.Flags = FlagMatrixDataAligned64

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	hdrBuf := make([]byte, headerSize)
	if !encodeHeader(hdrBuf, header) {
		return errors.New("feat: encode header failed")
	}
	if err := writeFull(w.f, hdrBuf); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) alignTo(n int64) error {
	if n <= 1 {
		return nil
	}
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	mod := pos % n
	if mod == 0 {
		return nil
	}
	return w.writeZeros(int(n - mod))
}

func (w *Writer) writeZeros(n int) error {
	for n > 0 {
		chunk := n
		if chunk > len(w.padBuf) {
			chunk = len(w.padBuf)
		}
		if err := writeFull(w.f, w.padBuf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func writeFull(f *os.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
