package cluster

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"
)

// The mmap catalog is the uncompressed on-disk form of a point set. The
// server maps it read-only on startup so restarts skip both decompression
// and JSON parsing of untouched categories.

// MMapWriter handles writing to memory-mapped files.
type MMapWriter struct {
	data   mmap.MMap
	offset int
}

func NewMMapWriter(data mmap.MMap) *MMapWriter {
	return &MMapWriter{data: data}
}

func (w *MMapWriter) WriteUint32(v uint32) {
	binary.LittleEndian.PutUint32(w.data[w.offset:], v)
	w.offset += 4
}

func (w *MMapWriter) WriteFloat32(v float32) {
	binary.LittleEndian.PutUint32(w.data[w.offset:], math.Float32bits(v))
	w.offset += 4
}

func (w *MMapWriter) WriteBytes(b []byte) {
	w.WriteUint32(uint32(len(b)))
	copy(w.data[w.offset:], b)
	w.offset += len(b)
}

// MMapReader handles reading from memory-mapped files.
type MMapReader struct {
	data   mmap.MMap
	offset int
}

func NewMMapReader(data mmap.MMap) *MMapReader {
	return &MMapReader{data: data}
}

func (r *MMapReader) ReadUint32() uint32 {
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return v
}

func (r *MMapReader) ReadFloat32() float32 {
	v := binary.LittleEndian.Uint32(r.data[r.offset:])
	r.offset += 4
	return math.Float32frombits(v)
}

func (r *MMapReader) ReadBytes() []byte {
	n := int(r.ReadUint32())
	b := make([]byte, n)
	copy(b, r.data[r.offset:r.offset+n])
	r.offset += n
	return b
}

// catalogSize computes the exact byte size a point set needs in the catalog.
func catalogSize(points []Point) (int64, error) {
	size := int64(4) // point count
	for _, p := range points {
		size += 4 + 4 + 4 // ID, X, Y
		size += 4 + int64(len(p.Category))
		size += 4 + int64(len(p.Location))
		contents, err := json.Marshal(p.Contents)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal contents for point %d: %v", p.ID, err)
		}
		size += 4 + int64(len(contents))
	}
	return size, nil
}

// SaveCatalog writes a point set to an mmap-backed catalog file.
func SaveCatalog(filename string, points []Point) error {
	size, err := catalogSize(points)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %v", err)
	}
	defer file.Close()

	if err := file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate file: %v", err)
	}

	mmapData, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		return fmt.Errorf("failed to mmap file: %v", err)
	}
	defer mmapData.Unmap()

	writer := NewMMapWriter(mmapData)
	writer.WriteUint32(uint32(len(points)))

	for _, p := range points {
		writer.WriteUint32(p.ID)
		writer.WriteFloat32(p.X)
		writer.WriteFloat32(p.Y)
		writer.WriteBytes([]byte(p.Category))
		writer.WriteBytes([]byte(p.Location))

		contents, err := json.Marshal(p.Contents)
		if err != nil {
			return fmt.Errorf("failed to marshal contents for point %d: %v", p.ID, err)
		}
		writer.WriteBytes(contents)
	}

	return mmapData.Flush()
}

// LoadCatalog memory-maps a catalog file and decodes its point set.
func LoadCatalog(filename string) ([]Point, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	mmapData, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap file: %v", err)
	}
	defer mmapData.Unmap()

	reader := NewMMapReader(mmapData)
	numPoints := reader.ReadUint32()

	points := make([]Point, numPoints)
	for i := range points {
		points[i].ID = reader.ReadUint32()
		points[i].X = reader.ReadFloat32()
		points[i].Y = reader.ReadFloat32()
		points[i].Category = string(reader.ReadBytes())
		points[i].Location = string(reader.ReadBytes())

		contents := reader.ReadBytes()
		if len(contents) > 0 {
			if err := json.Unmarshal(contents, &points[i].Contents); err != nil {
				return nil, fmt.Errorf("failed to unmarshal contents for point %d: %v", points[i].ID, err)
			}
		}
	}

	return points, nil
}
