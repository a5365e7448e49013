package vector

import (
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

func TestDeleteExprQuotesID(t *testing.T) {
	got := deleteExpr(`CA"123`)
	want := `id == "CA\"123"`
	if got != want {
		t.Errorf("deleteExpr = %s, want %s", got, want)
	}
}

func TestRecentFromResultSet(t *testing.T) {
	rs := client.ResultSet{
		entity.NewColumnVarChar(milvusFieldID, []string{"a", "b", "c"}),
		entity.NewColumnVarChar(milvusFieldContent, []string{"first", "second", "third"}),
		entity.NewColumnVarChar(milvusFieldFrom, []string{"+1", "+2", "+3"}),
		entity.NewColumnVarChar(milvusFieldTo, []string{"+9", "+9", "+9"}),
		entity.NewColumnInt64(milvusFieldTimestamp, []int64{
			baseTime.UnixNano(),
			baseTime.Add(2 * 60e9).UnixNano(),
			baseTime.Add(1 * 60e9).UnixNano(),
		}),
	}

	docs := recentFromResultSet(rs, 2)
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs, got %d", len(docs))
	}
	if docs[0].DocID != "b" || docs[0].Text != "second" || docs[0].Metadata.FromNumber != "+2" {
		t.Errorf("docs[0] = %+v", docs[0])
	}
	if docs[1].DocID != "c" {
		t.Errorf("docs[1] = %+v", docs[1])
	}
}

func TestRecentFromResultSet_NoIDColumn(t *testing.T) {
	if docs := recentFromResultSet(client.ResultSet{}, 5); docs != nil {
		t.Errorf("expected nil, got %v", docs)
	}
}

func TestCheckMilvusSchema(t *testing.T) {
	space := Space{Provider: "openai", Model: "text-embedding-3-small", Dimensions: 1536}
	schema := func(desc, dim string) *entity.Schema {
		return &entity.Schema{
			Description: desc,
			Fields: []*entity.Field{
				{Name: milvusFieldID, DataType: entity.FieldTypeVarChar},
				{Name: milvusFieldEmbedding, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": dim}},
			},
		}
	}
	tests := []struct {
		name    string
		schema  *entity.Schema
		wantErr bool
	}{
		{"same space", schema(milvusDescriptionPrefix+space.String(), "1536"), false},
		{"unlabelled with matching dim", schema("Call transcripts", "1536"), false},
		{"other model", schema(milvusDescriptionPrefix+"openai:text-embedding-ada-002:1536", "1536"), true},
		{"other dimension", schema("Call transcripts", "768"), true},
		{"no schema", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkMilvusSchema(tt.schema, space)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkMilvusSchema() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
