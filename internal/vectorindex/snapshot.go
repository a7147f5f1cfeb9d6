package vectorindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
)

func metricCode(m Metric) int32 {
	if m == MetricInnerProduct {
		return 1
	}
	return 0
}

// Save writes the four-file snapshot format at basePath, per §6:
//
//	basePath+".faissidx" — raw float32 vectors, in internal_id order
//	basePath+".key2id"   — (size int64, [key_len int32, key_bytes, id int64]...)
//	basePath+".id2key"   — (size int64, [str_len int32, str_bytes]...), "" marks a tombstone
//	basePath+".meta"     — (next_id int64, dimension int32, metric int32)
//
// Little-endian encoding throughout, whatever the host's byte order.
// Atomicity across the four files is not required.
func (idx *Index) Save(basePath string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if err := idx.writeVectors(basePath + ".faissidx"); err != nil {
		return fmt.Errorf("vectorindex: write vectors: %w", err)
	}
	if err := idx.writeKey2ID(basePath + ".key2id"); err != nil {
		return fmt.Errorf("vectorindex: write key2id: %w", err)
	}
	if err := idx.writeID2Key(basePath + ".id2key"); err != nil {
		return fmt.Errorf("vectorindex: write id2key: %w", err)
	}
	if err := idx.writeMeta(basePath + ".meta"); err != nil {
		return fmt.Errorf("vectorindex: write meta: %w", err)
	}
	return nil
}

func (idx *Index) writeVectors(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, v := range idx.vectors {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (idx *Index) writeKey2ID(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, int64(len(idx.key2id))); err != nil {
		return err
	}
	for key, id := range idx.key2id {
		if err := writeString(w, key); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, id); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (idx *Index) writeID2Key(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, int64(len(idx.id2key))); err != nil {
		return err
	}
	for _, key := range idx.id2key {
		if err := writeString(w, key); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (idx *Index) writeMeta(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, idx.nextID); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(idx.dimension)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, metricCode(idx.metric)); err != nil {
		return err
	}
	return w.Flush()
}

func writeString(w *bufio.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func readString(r *bufio.Reader) (string, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Load reads a four-file snapshot previously written by Save into a fresh
// Index. The snapshot's dimension must match dimension, else
// ErrDimensionMismatch is returned; CreateOrLoad turns that case into a
// fresh empty index of the configured dimension (§7).
func Load(basePath string, dimension int, metric Metric) (*Index, error) {
	nextID, snapDim, err := readMeta(basePath + ".meta")
	if err != nil {
		return nil, fmt.Errorf("vectorindex: read meta: %w", err)
	}
	if int(snapDim) != dimension {
		return nil, ErrDimensionMismatch
	}

	key2id, err := readKey2ID(basePath + ".key2id")
	if err != nil {
		return nil, fmt.Errorf("vectorindex: read key2id: %w", err)
	}
	id2key, err := readID2Key(basePath + ".id2key")
	if err != nil {
		return nil, fmt.Errorf("vectorindex: read id2key: %w", err)
	}
	vectors, err := readVectors(basePath+".faissidx", dimension, len(id2key))
	if err != nil {
		return nil, fmt.Errorf("vectorindex: read vectors: %w", err)
	}

	idx := &Index{
		dimension: dimension,
		metric:    metric,
		vectors:   vectors,
		id2key:    id2key,
		key2id:    key2id,
		nextID:    nextID,
	}
	return idx, nil
}

func readMeta(path string) (nextID int64, dimension int32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if err := binary.Read(r, binary.LittleEndian, &nextID); err != nil {
		return 0, 0, err
	}
	if err := binary.Read(r, binary.LittleEndian, &dimension); err != nil {
		return 0, 0, err
	}
	var metric int32
	if err := binary.Read(r, binary.LittleEndian, &metric); err != nil {
		return 0, 0, err
	}
	return nextID, dimension, nil
}

func readKey2ID(path string) (map[string]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var size int64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	m := make(map[string]int64, size)
	for i := int64(0); i < size; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		var id int64
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return nil, err
		}
		m[key] = id
	}
	return m, nil
}

func readID2Key(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var size int64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}
	out := make([]string, size)
	for i := int64(0); i < size; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = key
	}
	return out, nil
}

func readVectors(path string, dimension, count int) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	vectors := make([][]float32, count)
	for i := 0; i < count; i++ {
		v := make([]float32, dimension)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		vectors[i] = v
	}
	return vectors, nil
}

// CreateOrLoad loads an existing snapshot at basePath, or returns a fresh
// empty Index if no snapshot exists yet (first-run startup path) or if
// the snapshot's dimension differs from dimension (§7). Other load
// errors are returned.
func CreateOrLoad(basePath string, dimension int, metric Metric) (*Index, error) {
	if _, err := os.Stat(basePath + ".meta"); err != nil {
		if os.IsNotExist(err) {
			return New(dimension, metric), nil
		}
		return nil, err
	}
	idx, err := Load(basePath, dimension, metric)
	if err == ErrDimensionMismatch {
		return New(dimension, metric), nil
	}
	return idx, err
}
