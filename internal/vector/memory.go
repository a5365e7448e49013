package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hyperjump/callmind/internal/models"
)

const (
	memoryIndexMagicV1 = uint32(0x434d5631) // "CMV1", no embedding space
	memoryIndexMagic   = uint32(0x434d5632) // "CMV2"
)

// MemoryIndex is an in-memory vector index using brute-force inner product search.
// When created with a path it is loaded from and saved back to that file.
type MemoryIndex struct {
	dimensions int
	path       string
	space      string // embedding space of the saved file, empty until known
	docs       map[string]*models.TranscriptDocument
	closed     bool
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		docs:       make(map[string]*models.TranscriptDocument),
	}, nil
}

// OpenMemoryIndex creates a memory index persisted at path, loading existing contents.
func OpenMemoryIndex(path string, dimensions int) (*MemoryIndex, error) {
	m, err := NewMemoryIndex(dimensions)
	if err != nil {
		return nil, err
	}
	m.path = path
	if err := m.Load(path); err != nil {
		return nil, err
	}
	return m, nil
}

// Upsert stores a copy of doc, replacing any document with the same id.
func (m *MemoryIndex) Upsert(ctx context.Context, doc *models.TranscriptDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkDimensions(doc.Embedding, m.dimensions); err != nil {
		return err
	}
	cp := *doc
	cp.Embedding = append([]float32(nil), doc.Embedding...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.docs[doc.DocID] = &cp
	return nil
}

// Query returns the top documents by inner product (assumes normalized vectors = cosine similarity).
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, limit int) ([]*Hit, error) {
	if err := checkDimensions(vector, m.dimensions); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if limit <= 0 || len(m.docs) == 0 {
		return nil, nil
	}
	hits := make([]*Hit, 0, len(m.docs))
	for _, doc := range m.docs {
		hits = append(hits, &Hit{
			DocID:    doc.DocID,
			Score:    InnerProduct(vector, doc.Embedding),
			Text:     doc.Text,
			Metadata: doc.Metadata,
		})
	}
	return topK(hits, limit), nil
}

// ListRecent returns the newest documents by metadata timestamp.
func (m *MemoryIndex) ListRecent(ctx context.Context, limit int) ([]*models.TranscriptDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	docs := make([]*models.TranscriptDocument, 0, len(m.docs))
	for _, doc := range m.docs {
		cp := *doc
		docs = append(docs, &cp)
	}
	return sortRecent(docs, limit), nil
}

// Delete removes a document by id. Missing ids are ignored.
func (m *MemoryIndex) Delete(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.docs, docID)
	return nil
}

// Count returns the number of documents in the index.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.docs), nil
}

// Close saves the index when it has a path and rejects further use.
func (m *MemoryIndex) Close() error {
	var err error
	if m.path != "" {
		err = m.Save(m.path)
	}
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return err
}

// bindSpace refuses a file saved in another embedding space. On a mismatch the index is
// detached from its path so closing it leaves the file untouched.
func (m *MemoryIndex) bindSpace(ctx context.Context, space Space) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.space != "" && m.space != space.String() {
		stored := m.space
		m.path = ""
		return mismatch(stored, space)
	}
	m.space = space.String()
	return nil
}

// Save persists the index to path. Directory is created if needed. Format: magic (4),
// dimension (4), n (4), the embedding space (len-prefixed), then per document: id, text, from, to (each len-prefixed),
// timestamp (8, unix nanos) and the vector (dimension*4 bytes).
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	w := bufio.NewWriter(f)
	header := []uint32{memoryIndexMagic, uint32(m.dimensions), uint32(len(m.docs))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := writeString(w, m.space); err != nil {
		f.Close()
		return fmt.Errorf("write embedding space: %w", err)
	}
	for _, doc := range m.docs {
		for _, s := range []string{doc.DocID, doc.Text, doc.Metadata.FromNumber, doc.Metadata.ToNumber} {
			if err := writeString(w, s); err != nil {
				f.Close()
				return fmt.Errorf("write document %s: %w", doc.DocID, err)
			}
		}
		if err := binary.Write(w, binary.LittleEndian, doc.Metadata.Timestamp.UnixNano()); err != nil {
			f.Close()
			return fmt.Errorf("write timestamp: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(doc.Embedding)); err != nil {
			f.Close()
			return fmt.Errorf("write vector: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush index file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads the index from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if header[0] != memoryIndexMagic && header[0] != memoryIndexMagicV1 {
		return fmt.Errorf("not a callmind vector index: %s", path)
	}
	if int(header[1]) != m.dimensions {
		return fmt.Errorf("%w: file has %d, index expects %d", ErrDimensionMismatch, header[1], m.dimensions)
	}
	n := header[2]
	var space string
	if header[0] == memoryIndexMagic {
		if space, err = readString(r); err != nil {
			return fmt.Errorf("read embedding space: %w", err)
		}
	}

	docs := make(map[string]*models.TranscriptDocument, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var fields [4]string
		for j := range fields {
			if fields[j], err = readString(r); err != nil {
				return fmt.Errorf("read document %d: %w", i, err)
			}
		}
		var ts int64
		if err := binary.Read(r, binary.LittleEndian, &ts); err != nil {
			return fmt.Errorf("read timestamp: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		docs[fields[0]] = &models.TranscriptDocument{
			DocID:     fields[0],
			Text:      fields[1],
			Embedding: bytesToFloat32Slice(buf),
			Metadata: models.DocumentMetadata{
				FromNumber: fields[2],
				ToNumber:   fields[3],
				Timestamp:  time.Unix(0, ts).UTC(),
			},
		}
	}

	m.mu.Lock()
	m.docs = docs
	m.space = space
	m.mu.Unlock()
	return nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
