// Package storage provides database models and repository access for the
// relational and analytic engines.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	DocumentProcessing DocumentStatus = "processing"
	DocumentReady      DocumentStatus = "ready"
	DocumentError      DocumentStatus = "error"
)

// Document represents an uploaded source document. Status transitions
// processing -> ready or processing -> error exactly once.
type Document struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	Name         string         `json:"name" db:"name"`
	Status       DocumentStatus `json:"status" db:"status"`
	ChunkCount   int            `json:"chunk_count" db:"chunk_count"`
	PageCount    int            `json:"page_count" db:"page_count"`
	ErrorMessage sql.NullString `json:"error_message" db:"error_message"`
	ObjectPath   sql.NullString `json:"object_path" db:"object_path"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Chunk is the unit of retrieval. Immutable once created; removed only by
// cascading delete of its document.
type Chunk struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	DocumentID uuid.UUID     `json:"document_id" db:"document_id"`
	ChunkIndex int           `json:"chunk_index" db:"chunk_index"`
	Content    string        `json:"content" db:"content"`
	PageNumber sql.NullInt32 `json:"page_number" db:"page_number"`
	Embedding  []float32     `json:"embedding,omitempty" db:"embedding"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

// SearchableChunk is a chunk joined with its owning ready document.
type SearchableChunk struct {
	Chunk
	DocumentName string `json:"document_name" db:"document_name"`
}

// SearchResult is an ephemeral, per-query ranked retrieval hit.
type SearchResult struct {
	ChunkID      uuid.UUID `json:"chunk_id"`
	DocumentID   uuid.UUID `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Content      string    `json:"content"`
	PageNumber   int       `json:"page_number,omitempty"`
	Score        float64   `json:"score"`
}

// DatasetEngine identifies which storage engine backs a dataset table.
type DatasetEngine string

const (
	EngineAnalytic   DatasetEngine = "analytic"
	EngineRelational DatasetEngine = "relational"
)

// DataType classifies a dataset's content.
type DataType string

const (
	DataStructured   DataType = "structured"
	DataUnstructured DataType = "unstructured"
)

// ColumnType is the semantic type inferred for a dataset column at
// ingestion time. Never revised afterwards.
type ColumnType string

const (
	ColumnText    ColumnType = "text"
	ColumnNumber  ColumnType = "number"
	ColumnDate    ColumnType = "date"
	ColumnBoolean ColumnType = "boolean"
)

// ColumnSpec describes one dataset column.
type ColumnSpec struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Dataset is a registered queryable table. It has at most one backing
// engine table; dropping the dataset drops that table.
type Dataset struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	DataType  DataType        `json:"data_type" db:"data_type"`
	RowCount  int             `json:"row_count" db:"row_count"`
	Columns   json.RawMessage `json:"columns" db:"columns"`
	Engine    DatasetEngine   `json:"engine" db:"engine"`
	TableName string          `json:"table_name" db:"table_name"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// ColumnSpecs decodes the stored column schema.
func (d *Dataset) ColumnSpecs() ([]ColumnSpec, error) {
	var specs []ColumnSpec
	if err := json.Unmarshal(d.Columns, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}
