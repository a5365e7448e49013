package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/callmind/internal/config"
)

// Backend names a vector index implementation.
type Backend string

const (
	// BackendMemory uses in-memory brute-force search, persisted to a single file on close.
	BackendMemory Backend = "memory"
	// BackendSQLite stores vectors in a SQLite table and scans them at query time.
	BackendSQLite Backend = "sqlite"
	// BackendMilvus delegates storage and ANN search to a Milvus server.
	BackendMilvus Backend = "milvus"
)

// New creates the vector index selected by cfg.Backend for vectors in space. path is the file
// used by the memory and sqlite backends; milvus ignores it. A persisted index built in another
// space is refused with ErrSpaceMismatch.
func New(ctx context.Context, cfg config.IndexConfig, path string, space Space) (Index, error) {
	if space.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	var (
		idx Index
		err error
	)
	switch Backend(cfg.Backend) {
	case BackendMemory:
		if path == "" {
			return NewMemoryIndex(space.Dimensions)
		}
		idx, err = OpenMemoryIndex(path, space.Dimensions)
	case BackendSQLite, "":
		idx, err = NewSQLiteIndex(path, space.Dimensions)
	case BackendMilvus:
		return NewMilvusIndex(ctx, cfg.Milvus, space)
	default:
		return nil, fmt.Errorf("unknown index backend: %s (supported: memory, sqlite, milvus)", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if b, ok := idx.(spaceBinder); ok {
		if err := b.bindSpace(ctx, space); err != nil {
			_ = idx.Close()
			return nil, err
		}
	}
	return idx, nil
}
