package xdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"sync"
)

const (
	HeaderInfoLength  = 256
	VectorIndexRows   = 256
	VectorIndexCols   = 256
	VectorIndexSize   = 8
	SegmentIndexSize  = 14
	VectorIndexLength = VectorIndexRows * VectorIndexCols * VectorIndexSize
)

// ErrInvalidIP is returned when the lookup key is not a dotted-quad IPv4 address.
var ErrInvalidIP = errors.New("xdb: invalid ipv4 address")

// Mode selects how much of the index file is held in memory.
type Mode string

const (
	// ModeBuffer loads the whole file into memory.
	ModeBuffer Mode = "buffer"
	// ModeVector caches the vector index and reads segments from the file.
	ModeVector Mode = "vector"
	// ModeFile reads every range from the file handle on demand.
	ModeFile Mode = "file"
)

// Searcher looks up region strings in an xdb file.
// It is safe for concurrent use, including Close racing with lookups:
// a lookup after Close fails with os.ErrClosed.
type Searcher struct {
	mu          sync.RWMutex
	handle      *os.File
	vectorIndex []byte
	contentBuff []byte
}

// Open creates a searcher for path using the requested backing mode.
func Open(path string, mode Mode) (*Searcher, error) {
	switch mode {
	case ModeBuffer, "":
		buf, err := LoadContentFromFile(path)
		if err != nil {
			return nil, err
		}
		return NewWithBuffer(buf)
	case ModeVector:
		vIndex, err := LoadVectorIndexFromFile(path)
		if err != nil {
			return nil, err
		}
		return NewWithVectorIndex(path, vIndex)
	case ModeFile:
		return NewWithFileOnly(path)
	default:
		return nil, fmt.Errorf("xdb: unknown mode %q", mode)
	}
}

// NewWithBuffer creates a searcher over a fully buffered copy of the file.
func NewWithBuffer(cBuff []byte) (*Searcher, error) {
	if len(cBuff) < HeaderInfoLength+VectorIndexLength {
		return nil, fmt.Errorf("xdb: content buffer too short (%d bytes)", len(cBuff))
	}
	return &Searcher{contentBuff: cBuff}, nil
}

// NewWithFileOnly creates a searcher that reads every range from the file.
func NewWithFileOnly(dbFile string) (*Searcher, error) {
	return NewWithVectorIndex(dbFile, nil)
}

// NewWithVectorIndex creates a file-backed searcher with a cached vector index.
// A nil vIndex makes every lookup read the vector cell from the file.
func NewWithVectorIndex(dbFile string, vIndex []byte) (*Searcher, error) {
	if vIndex != nil && len(vIndex) != VectorIndexLength {
		return nil, fmt.Errorf("xdb: vector index has %d bytes, want %d", len(vIndex), VectorIndexLength)
	}

	handle, err := os.Open(dbFile)
	if err != nil {
		return nil, fmt.Errorf("xdb: open %s: %w", dbFile, err)
	}

	return &Searcher{handle: handle, vectorIndex: vIndex}, nil
}

// LoadContentFromFile reads the whole xdb file.
func LoadContentFromFile(dbFile string) ([]byte, error) {
	buf, err := os.ReadFile(dbFile)
	if err != nil {
		return nil, fmt.Errorf("xdb: read %s: %w", dbFile, err)
	}
	return buf, nil
}

// LoadVectorIndexFromFile reads only the vector index block.
func LoadVectorIndexFromFile(dbFile string) ([]byte, error) {
	handle, err := os.Open(dbFile)
	if err != nil {
		return nil, fmt.Errorf("xdb: open %s: %w", dbFile, err)
	}
	defer handle.Close()

	vIndex := make([]byte, VectorIndexLength)
	if _, err := handle.ReadAt(vIndex, HeaderInfoLength); err != nil {
		return nil, fmt.Errorf("xdb: read vector index: %w", err)
	}
	return vIndex, nil
}

// Close releases the file handle, if any.
func (s *Searcher) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vectorIndex = nil
	s.contentBuff = nil
	if s.handle == nil {
		return nil
	}
	err := s.handle.Close()
	s.handle = nil
	return err
}

// Search returns the region string for a dotted-quad address, or "" when no segment covers it.
func (s *Searcher) Search(ip string) (string, error) {
	ipInt, err := ParseIP(ip)
	if err != nil {
		return "", err
	}
	return s.SearchByUint32(ipInt)
}

// SearchByUint32 returns the region string for ip, or "" when no segment covers it.
func (s *Searcher) SearchByUint32(ip uint32) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	il0 := (ip >> 24) & 0xFF
	il1 := (ip >> 16) & 0xFF
	idx := int64(il0*VectorIndexCols*VectorIndexSize + il1*VectorIndexSize)

	var sPtr, ePtr uint32
	if s.vectorIndex != nil {
		sPtr = binary.LittleEndian.Uint32(s.vectorIndex[idx:])
		ePtr = binary.LittleEndian.Uint32(s.vectorIndex[idx+4:])
	} else {
		cell, err := s.read(HeaderInfoLength+idx, VectorIndexSize)
		if err != nil {
			return "", fmt.Errorf("xdb: read vector cell: %w", err)
		}
		sPtr = binary.LittleEndian.Uint32(cell)
		ePtr = binary.LittleEndian.Uint32(cell[4:])
	}

	// Cells with no segments are zeroed; no segment can live inside the header.
	if sPtr == 0 || ePtr < sPtr {
		return "", nil
	}

	// ePtr addresses the last segment of the cell, so the search range is inclusive.
	var dataLen, dataPtr uint32
	found := false
	l, h := 0, int((ePtr-sPtr)/SegmentIndexSize)
	for l <= h {
		m := (l + h) >> 1
		p := int64(sPtr) + int64(m)*SegmentIndexSize

		seg, err := s.read(p, SegmentIndexSize)
		if err != nil {
			return "", fmt.Errorf("xdb: read segment: %w", err)
		}

		if ip < binary.LittleEndian.Uint32(seg) {
			h = m - 1
		} else if ip > binary.LittleEndian.Uint32(seg[4:]) {
			l = m + 1
		} else {
			dataLen = uint32(binary.LittleEndian.Uint16(seg[8:]))
			dataPtr = binary.LittleEndian.Uint32(seg[10:])
			found = true
			break
		}
	}

	if !found {
		return "", nil
	}

	data, err := s.read(int64(dataPtr), int(dataLen))
	if err != nil {
		return "", fmt.Errorf("xdb: read region data: %w", err)
	}
	return string(data), nil
}

func (s *Searcher) read(offset int64, length int) ([]byte, error) {
	if s.contentBuff != nil {
		if offset < 0 || offset+int64(length) > int64(len(s.contentBuff)) {
			return nil, io.ErrUnexpectedEOF
		}
		return s.contentBuff[offset : offset+int64(length)], nil
	}

	if s.handle == nil {
		return nil, os.ErrClosed
	}

	buf := make([]byte, length)
	if _, err := s.handle.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

// ParseIP converts a dotted-quad address into its network-order uint32 value.
func ParseIP(ip string) (uint32, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:]), nil
}

// FormatIP converts a uint32 back into dotted-quad notation.
func FormatIP(ip uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ip)
	return netip.AddrFrom4(b).String()
}
