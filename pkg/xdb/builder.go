package xdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	// Structure version written into the header.
	headerVersion = 2
	// Index policy marker for vector-indexed files.
	vectorIndexPolicy = 1
)

type segment struct {
	start uint32
	end   uint32
	data  string
}

// Builder produces an xdb file from a list of IP ranges.
type Builder struct {
	segments []segment
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add registers the inclusive range [start, end] with its region data.
func (b *Builder) Add(start, end uint32, data string) error {
	if start > end {
		return fmt.Errorf("xdb: segment start %s is after end %s", FormatIP(start), FormatIP(end))
	}
	if data == "" {
		return fmt.Errorf("xdb: empty region data for %s-%s", FormatIP(start), FormatIP(end))
	}
	if len(data) > math.MaxUint16 {
		return fmt.Errorf("xdb: region data too long (%d bytes)", len(data))
	}
	b.segments = append(b.segments, segment{start: start, end: end, data: data})
	return nil
}

// AddRange is Add with dotted-quad bounds.
func (b *Builder) AddRange(start, end, data string) error {
	s, err := ParseIP(start)
	if err != nil {
		return err
	}
	e, err := ParseIP(end)
	if err != nil {
		return err
	}
	return b.Add(s, e, data)
}

// ReadSource adds every range of a text source in the "start|end|region" line
// format used by ip2region's ip.merge.txt. Blank lines and lines starting
// with '#' are ignored. It returns the number of ranges added.
func (b *Builder) ReadSource(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), math.MaxUint16+64)

	added, lineNo := 0, 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.SplitN(line, "|", 3)
		if len(fields) != 3 {
			return added, fmt.Errorf("xdb: line %d: want start|end|region, got %q", lineNo, line)
		}
		if err := b.AddRange(fields[0], fields[1], fields[2]); err != nil {
			return added, fmt.Errorf("xdb: line %d: %w", lineNo, err)
		}
		added++
	}
	if err := scanner.Err(); err != nil {
		return added, fmt.Errorf("xdb: read source: %w", err)
	}
	return added, nil
}

// Bytes serializes the index. Ranges must not overlap.
func (b *Builder) Bytes() ([]byte, error) {
	segs := make([]segment, len(b.segments))
	copy(segs, b.segments)
	sort.Slice(segs, func(i, j int) bool { return segs[i].start < segs[j].start })

	for i := 1; i < len(segs); i++ {
		if segs[i].start <= segs[i-1].end {
			return nil, fmt.Errorf("xdb: segment %s-%s overlaps %s-%s",
				FormatIP(segs[i].start), FormatIP(segs[i].end),
				FormatIP(segs[i-1].start), FormatIP(segs[i-1].end))
		}
	}

	buf := make([]byte, HeaderInfoLength+VectorIndexLength)

	// Region data, each distinct string stored once.
	dataPtrs := make(map[string]uint32)
	for _, seg := range segs {
		if _, ok := dataPtrs[seg.data]; ok {
			continue
		}
		dataPtrs[seg.data] = uint32(len(buf))
		buf = append(buf, seg.data...)
	}

	// A segment is indexed once per /16 cell it spans.
	startIndexPtr := uint32(len(buf))
	var entry [SegmentIndexSize]byte
	for _, seg := range segs {
		for _, part := range splitByCell(seg) {
			ptr := uint32(len(buf))
			binary.LittleEndian.PutUint32(entry[0:], part.start)
			binary.LittleEndian.PutUint32(entry[4:], part.end)
			binary.LittleEndian.PutUint16(entry[8:], uint16(len(part.data)))
			binary.LittleEndian.PutUint32(entry[10:], dataPtrs[part.data])
			buf = append(buf, entry[:]...)

			idx := HeaderInfoLength + int(part.start>>24)*VectorIndexCols*VectorIndexSize +
				int((part.start>>16)&0xFF)*VectorIndexSize
			if binary.LittleEndian.Uint32(buf[idx:]) == 0 {
				binary.LittleEndian.PutUint32(buf[idx:], ptr)
			}
			binary.LittleEndian.PutUint32(buf[idx+4:], ptr)
		}
	}
	endIndexPtr := uint32(len(buf)) - SegmentIndexSize
	if len(segs) == 0 {
		endIndexPtr = startIndexPtr
	}

	binary.LittleEndian.PutUint16(buf[0:], headerVersion)
	binary.LittleEndian.PutUint16(buf[2:], vectorIndexPolicy)
	binary.LittleEndian.PutUint32(buf[4:], uint32(time.Now().Unix()))
	binary.LittleEndian.PutUint32(buf[8:], startIndexPtr)
	binary.LittleEndian.PutUint32(buf[12:], endIndexPtr)

	return buf, nil
}

// WriteFile serializes the index to path.
func (b *Builder) WriteFile(path string) error {
	buf, err := b.Bytes()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("xdb: write %s: %w", path, err)
	}
	return nil
}

func splitByCell(seg segment) []segment {
	var parts []segment
	start := seg.start
	for {
		cellEnd := start | 0xFFFF
		if cellEnd >= seg.end {
			parts = append(parts, segment{start: start, end: seg.end, data: seg.data})
			return parts
		}
		parts = append(parts, segment{start: start, end: cellEnd, data: seg.data})
		start = cellEnd + 1
	}
}

// Header holds the fields the builder writes into the reserved header block.
type Header struct {
	Version       uint16
	IndexPolicy   uint16
	CreatedAt     uint32
	StartIndexPtr uint32
	EndIndexPtr   uint32
}

// ParseHeader decodes the leading header block.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderInfoLength {
		return Header{}, fmt.Errorf("xdb: header too short (%d bytes)", len(buf))
	}
	return Header{
		Version:       binary.LittleEndian.Uint16(buf[0:]),
		IndexPolicy:   binary.LittleEndian.Uint16(buf[2:]),
		CreatedAt:     binary.LittleEndian.Uint32(buf[4:]),
		StartIndexPtr: binary.LittleEndian.Uint32(buf[8:]),
		EndIndexPtr:   binary.LittleEndian.Uint32(buf[12:]),
	}, nil
}

// LoadHeaderFromFile reads and decodes the header block of the file at path.
func LoadHeaderFromFile(dbFile string) (Header, error) {
	handle, err := os.Open(dbFile)
	if err != nil {
		return Header{}, fmt.Errorf("xdb: open %s: %w", dbFile, err)
	}
	defer handle.Close()

	buf := make([]byte, HeaderInfoLength)
	if _, err := io.ReadFull(handle, buf); err != nil {
		return Header{}, fmt.Errorf("xdb: read header: %w", err)
	}
	return ParseHeader(buf)
}
