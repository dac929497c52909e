package feat

import (
	"encoding/binary"
	"math"
)

// All on-disk integers are little-endian, independent of the host.

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < headerSize {
		return false
	}
	copy(dst[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(dst[4:6], h.Major)
	binary.LittleEndian.PutUint16(dst[6:8], h.Minor)
	binary.LittleEndian.PutUint32(dst[8:12], h.HeaderSize)
	binary.LittleEndian.PutUint32(dst[12:16], h.SectionCount)
	binary.LittleEndian.PutUint64(dst[16:24], h.SectionDirOffset)
	binary.LittleEndian.PutUint64(dst[24:32], h.FileSize)
	binary.LittleEndian.PutUint64(dst[32:40], h.Flags)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	var h Header
	if len(src) < headerSize {
		return h, false
	}
	copy(h.Magic[:], src[0:4])
	h.Major = binary.LittleEndian.Uint16(src[4:6])
	h.Minor = binary.LittleEndian.Uint16(src[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(src[8:12])
	h.SectionCount = binary.LittleEndian.Uint32(src[12:16])
	h.SectionDirOffset = binary.LittleEndian.Uint64(src[16:24])
	h.FileSize = binary.LittleEndian.Uint64(src[24:32])
	h.Flags = binary.LittleEndian.Uint64(src[32:40])
	return h, true
}

func encodeSection(dst []byte, s Section) bool {
	if len(dst) < sectionSize {
		return false
	}
	binary.LittleEndian.PutUint32(dst[0:4], s.Type)
	binary.LittleEndian.PutUint32(dst[4:8], s.Version)
	binary.LittleEndian.PutUint64(dst[8:16], s.Offset)
	binary.LittleEndian.PutUint64(dst[16:24], s.Size)
	return true
}

func decodeSection(src []byte) (Section, bool) {
	var s Section
	if len(src) < sectionSize {
		return s, false
	}
	s.Type = binary.LittleEndian.Uint32(src[0:4])
	s.Version = binary.LittleEndian.Uint32(src[4:8])
	s.Offset = binary.LittleEndian.Uint64(src[8:16])
	s.Size = binary.LittleEndian.Uint64(src[16:24])
	return s, true
}

// Index entry layout: u16 name length, name bytes, u32 rows, u32 cols,
// u64 payload offset, u64 payload size.

func encodeIndex(entries []MatrixEntry) []byte {
	n := 4
	for _, e := range entries {
		n += 2 + len(e.Name) + 4 + 4 + 8 + 8
	}
	out := make([]byte, 0, n)
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(entries)))
	out = append(out, buf[:4]...)
	for _, e := range entries {
		binary.LittleEndian.PutUint16(buf[:2], uint16(len(e.Name)))
		out = append(out, buf[:2]...)
		out = append(out, e.Name...)
		binary.LittleEndian.PutUint32(buf[:4], e.Rows)
		out = append(out, buf[:4]...)
		binary.LittleEndian.PutUint32(buf[:4], e.Cols)
		out = append(out, buf[:4]...)
		binary.LittleEndian.PutUint64(buf[:8], e.Offset)
		out = append(out, buf[:8]...)
		binary.LittleEndian.PutUint64(buf[:8], e.Size)
		out = append(out, buf[:8]...)
	}
	return out
}

func decodeIndex(src []byte) ([]MatrixEntry, bool) {
	if len(src) < 4 {
		return nil, false
	}
	count := binary.LittleEndian.Uint32(src[0:4])
	if count > uint32(len(src)) { // cheap bound before allocating
		return nil, false
	}
	src = src[4:]
	entries := make([]MatrixEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(src) < 2 {
			return nil, false
		}
		nameLen := int(binary.LittleEndian.Uint16(src[0:2]))
		src = src[2:]
		if len(src) < nameLen+4+4+8+8 {
			return nil, false
		}
		e := MatrixEntry{Name: string(src[:nameLen])}
		src = src[nameLen:]
		e.Rows = binary.LittleEndian.Uint32(src[0:4])
		e.Cols = binary.LittleEndian.Uint32(src[4:8])
		e.Offset = binary.LittleEndian.Uint64(src[8:16])
		e.Size = binary.LittleEndian.Uint64(src[16:24])
		src = src[24:]
		if uint64(e.Rows)*uint64(e.Cols)*4 != e.Size {
			return nil, false
		}
		if uint64(e.Rows)*uint64(e.Cols) > math.MaxInt32 {
			return nil, false
		}
		entries = append(entries, e)
	}
	return entries, true
}
