package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/hyperjump/callmind/internal/config"
	"github.com/hyperjump/callmind/internal/models"
)

const (
	milvusFieldID        = "id"
	milvusFieldContent   = "content"
	milvusFieldFrom      = "from_number"
	milvusFieldTo        = "to_number"
	milvusFieldTimestamp = "timestamp"
	milvusFieldEmbedding = "embedding"
)

const milvusDescriptionPrefix = "Call transcripts; embedding space "

var milvusOutputFields = []string{milvusFieldContent, milvusFieldFrom, milvusFieldTo, milvusFieldTimestamp}

// MilvusIndex stores transcripts in a Milvus (or Zilliz Cloud) collection using inner product search.
type MilvusIndex struct {
	client     client.Client
	collection string
	dimensions int
	space      Space
}

// NewMilvusIndex connects to Milvus, creating and loading the collection when it does not exist.
// An existing collection created for another embedding space is refused with ErrSpaceMismatch.
func NewMilvusIndex(ctx context.Context, cfg config.MilvusConfig, space Space) (*MilvusIndex, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("milvus collection name is required")
	}
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}
	m := &MilvusIndex{client: c, collection: cfg.Collection, dimensions: space.Dimensions, space: space}
	if err := m.ensureCollection(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return m, nil
}

func (m *MilvusIndex) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		coll, err := m.client.DescribeCollection(ctx, m.collection)
		if err != nil {
			return fmt.Errorf("failed to describe collection: %w", err)
		}
		if err := checkMilvusSchema(coll.Schema, m.space); err != nil {
			return err
		}
	} else {
		schema := &entity.Schema{
			CollectionName: m.collection,
			Description:    milvusDescriptionPrefix + m.space.String(),
			Fields: []*entity.Field{
				{
					Name:       milvusFieldID,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					TypeParams: map[string]string{"max_length": "128"},
				},
				{
					Name:       milvusFieldContent,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "65535"},
				},
				{
					Name:       milvusFieldFrom,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:       milvusFieldTo,
					DataType:   entity.FieldTypeVarChar,
					TypeParams: map[string]string{"max_length": "64"},
				},
				{
					Name:     milvusFieldTimestamp,
					DataType: entity.FieldTypeInt64,
				},
				{
					Name:       milvusFieldEmbedding,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(m.dimensions)},
				},
			},
		}
		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		idx, err := entity.NewIndexFlat(entity.IP)
		if err != nil {
			return fmt.Errorf("failed to build index definition: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.collection, milvusFieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
	}
	if err := m.client.LoadCollection(ctx, m.collection, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

// Upsert writes doc, replacing any entity with the same primary key.
func (m *MilvusIndex) Upsert(ctx context.Context, doc *models.TranscriptDocument) error {
	if err := checkDimensions(doc.Embedding, m.dimensions); err != nil {
		return err
	}
	_, err := m.client.Upsert(ctx, m.collection, "",
		entity.NewColumnVarChar(milvusFieldID, []string{doc.DocID}),
		entity.NewColumnVarChar(milvusFieldContent, []string{doc.Text}),
		entity.NewColumnVarChar(milvusFieldFrom, []string{doc.Metadata.FromNumber}),
		entity.NewColumnVarChar(milvusFieldTo, []string{doc.Metadata.ToNumber}),
		entity.NewColumnInt64(milvusFieldTimestamp, []int64{doc.Metadata.Timestamp.UnixNano()}),
		entity.NewColumnFloatVector(milvusFieldEmbedding, m.dimensions, [][]float32{doc.Embedding}),
	)
	if err != nil {
		return fmt.Errorf("milvus upsert failed: %w", err)
	}
	return nil
}

// Query runs an inner product search for vector.
func (m *MilvusIndex) Query(ctx context.Context, vector []float32, limit int) ([]*Hit, error) {
	if err := checkDimensions(vector, m.dimensions); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	sp, err := entity.NewIndexFlatSearchParam()
	if err != nil {
		return nil, err
	}
	results, err := m.client.Search(ctx, m.collection, nil, "", milvusOutputFields,
		[]entity.Vector{entity.FloatVector(vector)}, milvusFieldEmbedding, entity.IP, limit, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}

	var hits []*Hit
	for _, r := range results {
		for i := 0; i < r.ResultCount; i++ {
			id, err := r.IDs.GetAsString(i)
			if err != nil {
				continue
			}
			hit := &Hit{DocID: id}
			if i < len(r.Scores) {
				hit.Score = float64(r.Scores[i])
			}
			doc := documentAt(client.ResultSet(r.Fields), i)
			hit.Text = doc.Text
			hit.Metadata = doc.Metadata
			hits = append(hits, hit)
		}
	}
	return topK(hits, limit), nil
}

// ListRecent fetches every entity and keeps the newest limit. Milvus queries have no ordering,
// so this is linear in the collection size.
func (m *MilvusIndex) ListRecent(ctx context.Context, limit int) ([]*models.TranscriptDocument, error) {
	rs, err := m.client.Query(ctx, m.collection, nil, milvusFieldID+` != ""`,
		append([]string{milvusFieldID}, milvusOutputFields...))
	if err != nil {
		return nil, fmt.Errorf("milvus query failed: %w", err)
	}
	return recentFromResultSet(rs, limit), nil
}

// Delete removes the entity with docID.
func (m *MilvusIndex) Delete(ctx context.Context, docID string) error {
	if err := m.client.Delete(ctx, m.collection, "", deleteExpr(docID)); err != nil {
		return fmt.Errorf("milvus delete failed: %w", err)
	}
	return nil
}

// Count returns the collection row count reported by Milvus.
func (m *MilvusIndex) Count(ctx context.Context) (int, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.collection)
	if err != nil {
		return 0, fmt.Errorf("milvus statistics failed: %w", err)
	}
	n, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return 0, fmt.Errorf("unexpected row_count %q: %w", stats["row_count"], err)
	}
	return n, nil
}

// Close closes the client connection.
func (m *MilvusIndex) Close() error {
	return m.client.Close()
}

// checkMilvusSchema compares the embedding dimension and recorded space of an existing
// collection with space. Collections without a recorded space are checked by dimension only.
func checkMilvusSchema(schema *entity.Schema, space Space) error {
	if schema == nil {
		return fmt.Errorf("collection has no schema")
	}
	for _, f := range schema.Fields {
		if f.Name != milvusFieldEmbedding {
			continue
		}
		if dim := f.TypeParams["dim"]; dim != strconv.Itoa(space.Dimensions) {
			return mismatch(dim+" dimensions", space)
		}
	}
	if stored, ok := strings.CutPrefix(schema.Description, milvusDescriptionPrefix); ok && stored != space.String() {
		return mismatch(stored, space)
	}
	return nil
}

func deleteExpr(docID string) string {
	return milvusFieldID + " == " + strconv.Quote(docID)
}

func documentAt(rs client.ResultSet, i int) *models.TranscriptDocument {
	doc := &models.TranscriptDocument{}
	str := func(name string) string {
		if col := rs.GetColumn(name); col != nil {
			if v, err := col.GetAsString(i); err == nil {
				return v
			}
		}
		return ""
	}
	doc.DocID = str(milvusFieldID)
	doc.Text = str(milvusFieldContent)
	doc.Metadata.FromNumber = str(milvusFieldFrom)
	doc.Metadata.ToNumber = str(milvusFieldTo)
	if col := rs.GetColumn(milvusFieldTimestamp); col != nil {
		if ts, err := col.GetAsInt64(i); err == nil {
			doc.Metadata.Timestamp = time.Unix(0, ts).UTC()
		}
	}
	return doc
}

func recentFromResultSet(rs client.ResultSet, limit int) []*models.TranscriptDocument {
	idCol := rs.GetColumn(milvusFieldID)
	if idCol == nil {
		return nil
	}
	docs := make([]*models.TranscriptDocument, 0, idCol.Len())
	for i := 0; i < idCol.Len(); i++ {
		docs = append(docs, documentAt(rs, i))
	}
	return sortRecent(docs, limit)
}
