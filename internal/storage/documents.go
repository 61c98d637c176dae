package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DocumentStore persists documents and their chunks.
type DocumentStore struct {
	db *PostgresDB
}

// NewDocumentStore creates a document store backed by Postgres.
func NewDocumentStore(db *PostgresDB) *DocumentStore {
	return &DocumentStore{db: db}
}

// CreateDocument inserts a new document in the processing state.
func (s *DocumentStore) CreateDocument(ctx context.Context, name, objectPath string) (*Document, error) {
	doc := &Document{
		ID:        uuid.New(),
		Name:      name,
		Status:    DocumentProcessing,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if objectPath != "" {
		doc.ObjectPath = sql.NullString{String: objectPath, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, name, status, object_path, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.Name, doc.Status, doc.ObjectPath, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	return doc, nil
}

// MarkReady transitions a processing document to ready. Terminal.
func (s *DocumentStore) MarkReady(ctx context.Context, id uuid.UUID, chunkCount, pageCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = $1, chunk_count = $2, page_count = $3, updated_at = now()
		 WHERE id = $4 AND status = $5`,
		DocumentReady, chunkCount, pageCount, id, DocumentProcessing,
	)
	if err != nil {
		return fmt.Errorf("failed to mark document ready: %w", err)
	}
	return requireRow(res)
}

// MarkError transitions a processing document to error and removes any
// partially inserted chunks. Terminal.
func (s *DocumentStore) MarkError(ctx context.Context, id uuid.UUID, message string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, id); err != nil {
			return fmt.Errorf("failed to remove partial chunks: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET status = $1, error_message = $2, chunk_count = 0, updated_at = now()
			 WHERE id = $3 AND status = $4`,
			DocumentError, message, id, DocumentProcessing,
		)
		if err != nil {
			return fmt.Errorf("failed to mark document errored: %w", err)
		}
		return requireRow(res)
	})
}

// InsertChunks appends chunks for a document in one transaction.
func (s *DocumentStore) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chunks (id, document_id, chunk_index, content, page_number, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		)
		if err != nil {
			return fmt.Errorf("failed to prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			var embedding any
			if len(c.Embedding) > 0 {
				embedding = pq.Float32Array(c.Embedding)
			}
			if _, err := stmt.ExecContext(ctx,
				c.ID, c.DocumentID, c.ChunkIndex, c.Content, c.PageNumber, embedding, c.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to insert chunk %d: %w", c.ChunkIndex, err)
			}
		}
		return nil
	})
}

// GetDocument fetches a document by ID.
func (s *DocumentStore) GetDocument(ctx context.Context, id uuid.UUID) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, chunk_count, page_count, error_message, object_path, created_at, updated_at
		 FROM documents WHERE id = $1`, id,
	)
	var d Document
	err := row.Scan(&d.ID, &d.Name, &d.Status, &d.ChunkCount, &d.PageCount,
		&d.ErrorMessage, &d.ObjectPath, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	return &d, nil
}

// ListDocuments returns all documents, newest first.
func (s *DocumentStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, chunk_count, page_count, error_message, object_path, created_at, updated_at
		 FROM documents ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Name, &d.Status, &d.ChunkCount, &d.PageCount,
			&d.ErrorMessage, &d.ObjectPath, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document; its chunks go with it via cascade.
func (s *DocumentStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return requireRow(res)
}

// SearchableChunks returns every chunk belonging to a ready document,
// in stable (document, index) order.
func (s *DocumentStore) SearchableChunks(ctx context.Context) ([]SearchableChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.document_id, c.chunk_index, c.content, c.page_number, c.embedding, c.created_at, d.name
		 FROM chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE d.status = $1
		 ORDER BY c.created_at, c.chunk_index`,
		DocumentReady,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch searchable chunks: %w", err)
	}
	defer rows.Close()

	var chunks []SearchableChunk
	for rows.Next() {
		var c SearchableChunk
		var embedding pq.Float32Array
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content,
			&c.PageNumber, &embedding, &c.CreatedAt, &c.DocumentName); err != nil {
			return nil, err
		}
		c.Embedding = []float32(embedding)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
