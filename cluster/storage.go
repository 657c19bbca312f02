package cluster

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// SaveCompressed writes the loaded point set and options as a zstd snapshot.
// The spatial index is rebuilt on load; only source points are persisted.
func (sc *Supercluster) SaveCompressed(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %v", err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriterSize(file, 1024*1024)
	enc, err := zstd.NewWriter(bufWriter,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %v", err)
	}

	binary.Write(enc, binary.LittleEndian, uint32(len(sc.Points)))

	binary.Write(enc, binary.LittleEndian, int32(sc.Options.MinZoom))
	binary.Write(enc, binary.LittleEndian, int32(sc.Options.MaxZoom))
	binary.Write(enc, binary.LittleEndian, int32(sc.Options.MinPoints))
	binary.Write(enc, binary.LittleEndian, sc.Options.Radius)
	binary.Write(enc, binary.LittleEndian, int32(sc.Options.NodeSize))
	binary.Write(enc, binary.LittleEndian, int32(sc.Options.Extent))

	for _, p := range sc.Points {
		binary.Write(enc, binary.LittleEndian, p.ID)
		binary.Write(enc, binary.LittleEndian, p.X)
		binary.Write(enc, binary.LittleEndian, p.Y)

		if err := writeString(enc, p.Category); err != nil {
			return err
		}
		if err := writeString(enc, p.Location); err != nil {
			return err
		}

		contents, err := json.Marshal(p.Contents)
		if err != nil {
			return fmt.Errorf("failed to marshal contents for point %d: %v", p.ID, err)
		}
		if err := writeBytes(enc, contents); err != nil {
			return err
		}
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %v", err)
	}
	if err := bufWriter.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %v", err)
	}
	return nil
}

// LoadCompressedSupercluster reads a snapshot written by SaveCompressed and
// rebuilds the spatial index.
func LoadCompressedSupercluster(filename string) (*Supercluster, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %v", err)
	}
	defer file.Close()

	bufReader := bufio.NewReaderSize(file, 1024*1024)
	dec, err := zstd.NewReader(bufReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %v", err)
	}
	defer dec.Close()

	var numPoints uint32
	if err := binary.Read(dec, binary.LittleEndian, &numPoints); err != nil {
		return nil, fmt.Errorf("failed to read point count: %v", err)
	}

	var options SuperclusterOptions
	var minZoom, maxZoom, minPoints, nodeSize, extent int32
	header := []interface{}{&minZoom, &maxZoom, &minPoints, &options.Radius, &nodeSize, &extent}
	for _, field := range header {
		if err := binary.Read(dec, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("failed to read options header: %v", err)
		}
	}
	options.MinZoom = int(minZoom)
	options.MaxZoom = int(maxZoom)
	options.MinPoints = int(minPoints)
	options.NodeSize = int(nodeSize)
	options.Extent = int(extent)

	points := make([]Point, numPoints)
	for i := range points {
		for _, field := range []interface{}{&points[i].ID, &points[i].X, &points[i].Y} {
			if err := binary.Read(dec, binary.LittleEndian, field); err != nil {
				return nil, fmt.Errorf("failed to read point %d: %v", i, err)
			}
		}

		if points[i].Category, err = readString(dec); err != nil {
			return nil, err
		}
		if points[i].Location, err = readString(dec); err != nil {
			return nil, err
		}

		contents, err := readBytes(dec)
		if err != nil {
			return nil, err
		}
		if len(contents) > 0 {
			if err := json.Unmarshal(contents, &points[i].Contents); err != nil {
				return nil, fmt.Errorf("failed to unmarshal contents for point %d: %v", points[i].ID, err)
			}
		}
	}

	sc := NewSupercluster(options)
	sc.Load(points)
	return sc, nil
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
