package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Document is one ranked knowledge chunk.
type Document struct {
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Score    float64         `json:"score"`
}

// Searcher ranks a tenant's documents against a query vector.
type Searcher interface {
	Search(ctx context.Context, tenantID, category string, vec []float32, limit int) ([]Document, error)
}

// PostgresSearcher calls the search_documents SQL function backed by pgvector.
type PostgresSearcher struct {
	db *sql.DB
}

func NewPostgresSearcher(db *sql.DB) *PostgresSearcher {
	return &PostgresSearcher{db: db}
}

func (s *PostgresSearcher) Search(ctx context.Context, tenantID, category string, vec []float32, limit int) ([]Document, error) {
	if s.db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	cat := sql.NullString{String: category, Valid: category != ""}
	rows, err := s.db.QueryContext(ctx, `
		SELECT content, metadata, similarity
		FROM search_documents(
			query_embedding => $1::vector,
			query_restaurant_id => $2,
			match_count => $3,
			query_category => $4
		)
	`, VectorLiteral(vec), tenantID, limit, cat)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d    Document
			meta []byte
		)
		if err := rows.Scan(&d.Content, &meta, &d.Score); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(meta) > 0 {
			d.Metadata = json.RawMessage(meta)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return out, nil
}

// VectorLiteral renders vec in pgvector's text input form, e.g. [0.1,0.2].
func VectorLiteral(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec)*10 + 2)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
