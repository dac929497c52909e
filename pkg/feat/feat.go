// Package feat implements the FEA feature container format.
//
// FEA is a single-file, memory-mappable container for named float32 matrices:
// acoustic feature frames, precomputed encoder outputs and CTC lattices. It
// describes data only and never implies runtime behaviour.
package feat

import "unsafe"

// FEA global constants must never change.
const (
	// MagicFEA is the file magic for all FEA containers, encoded as "FEA\0".
	MagicFEA = "FEA\x00"

	// CurrentMajor changes only on breaking format changes.
	CurrentMajor uint16 = 1

	// CurrentMinor may add new optional sections or fields.
	CurrentMinor uint16 = 0

	// FlagMatrixDataAligned64 marks payloads aligned for vector loads.
	FlagMatrixDataAligned64 uint64 = 1 << 0
)

type SectionType uint32

const (
	SectionMeta        SectionType = 0x0001
	SectionMatrixIndex SectionType = 0x0002
	SectionMatrixData  SectionType = 0x0003
)

type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

const (
	headerSize  = int(unsafe.Sizeof(Header{}))
	sectionSize = int(unsafe.Sizeof(Section{}))
	feaAlign    = 64
)

func (h *Header) Valid() bool {
	if string(h.Magic[:]) != MagicFEA {
		return false
	}
	if h.HeaderSize < uint32(headerSize) {
		return false
	}
	return h.SectionCount != 0
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s *Section) End() uint64 {
	return s.Offset + s.Size
}

// MatrixEntry is one record of the matrix index: a name and the row-major
// float32 payload location inside the matrix-data section.
type MatrixEntry struct {
	Name string
	Rows uint32
	Cols uint32
	// Offset is relative to the start of the matrix-data section.
	Offset uint64
	Size   uint64
}
