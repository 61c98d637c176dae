// Package ingest runs the document and dataset ingestion pipelines.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/altiviz/datachat/internal/chunker"
	"github.com/altiviz/datachat/internal/embedder"
	"github.com/altiviz/datachat/internal/storage"
)

// Extraction is the text pulled out of an uploaded file.
type Extraction struct {
	Pages []chunker.Page
	// UsedFallback reports that the primary extractor failed and a
	// degraded extraction (raw text decode) was used instead.
	UsedFallback bool
}

// Extractor turns raw upload bytes into page-structured text.
type Extractor interface {
	Extract(data []byte, name string) (*Extraction, error)
}

// DocumentRepo is the slice of the document store the pipeline needs.
type DocumentRepo interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*storage.Document, error)
	InsertChunks(ctx context.Context, chunks []storage.Chunk) error
	MarkReady(ctx context.Context, id uuid.UUID, chunkCount, pageCount int) error
	MarkError(ctx context.Context, id uuid.UUID, message string) error
}

// StatusNotifier publishes document status transitions. Optional.
type StatusNotifier interface {
	NotifyDocumentStatus(ctx context.Context, docID uuid.UUID, status storage.DocumentStatus, message string)
}

// ResultCache drops cached retrieval results when the searchable corpus
// changes. Optional.
type ResultCache interface {
	InvalidateResults(ctx context.Context) error
}

// ErrPermanent marks processing failures that retrying cannot fix. The
// document row is already in the error state when it is returned, so a
// queued job carrying it should be terminated, not redelivered.
var ErrPermanent = errors.New("permanent ingestion failure")

// Pipeline processes one uploaded document end to end:
// extract -> chunk -> embed -> store -> ready. Any failure marks the
// document errored with the failure message and removes partial chunks.
type Pipeline struct {
	documents DocumentRepo
	objects   storage.ObjectStorage
	extractor Extractor
	chunker   *chunker.Chunker
	embedder  embedder.Embedder // nil disables embeddings
	notifier  StatusNotifier    // nil disables notifications
	cache     ResultCache       // nil disables cache invalidation
	logger    *slog.Logger
}

// NewPipeline wires a document pipeline. embedder and notifier may be nil.
func NewPipeline(
	documents DocumentRepo,
	objects storage.ObjectStorage,
	extractor Extractor,
	ch *chunker.Chunker,
	emb embedder.Embedder,
	notifier StatusNotifier,
	cache ResultCache,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		documents: documents,
		objects:   objects,
		extractor: extractor,
		chunker:   ch,
		embedder:  emb,
		notifier:  notifier,
		cache:     cache,
		logger:    logger.With("component", "ingest_pipeline"),
	}
}

// ProcessDocument runs the pipeline for the document with the given id.
// The returned error reflects processing failure; the document row is
// already marked errored by the time it is returned.
func (p *Pipeline) ProcessDocument(ctx context.Context, docID uuid.UUID) error {
	doc, err := p.documents.GetDocument(ctx, docID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", docID, err)
	}

	log := p.logger.With("document_id", doc.ID, "name", doc.Name)
	if doc.Status != storage.DocumentProcessing {
		// Redelivered job for a document already settled; reprocessing
		// would duplicate its chunks.
		log.Info("skipping document not awaiting processing", "status", doc.Status)
		return nil
	}
	log.Info("processing document")

	chunkCount, pageCount, err := p.process(ctx, doc)
	if err != nil {
		log.Error("document processing failed", "error", err)
		if markErr := p.documents.MarkError(ctx, doc.ID, err.Error()); markErr != nil {
			log.Error("failed to mark document errored", "error", markErr)
			return fmt.Errorf("mark document errored: %w", markErr)
		}
		p.notify(ctx, doc.ID, storage.DocumentError, err.Error())
		return fmt.Errorf("%w: %w", ErrPermanent, err)
	}

	if err := p.documents.MarkReady(ctx, doc.ID, chunkCount, pageCount); err != nil {
		return fmt.Errorf("mark document ready: %w", err)
	}
	if p.cache != nil {
		if err := p.cache.InvalidateResults(ctx); err != nil {
			log.Warn("failed to invalidate retrieval cache", "error", err)
		}
	}
	p.notify(ctx, doc.ID, storage.DocumentReady, "")
	log.Info("document ready", "chunks", chunkCount, "pages", pageCount)
	return nil
}

func (p *Pipeline) process(ctx context.Context, doc *storage.Document) (chunkCount, pageCount int, err error) {
	if !doc.ObjectPath.Valid {
		return 0, 0, fmt.Errorf("document has no stored object")
	}

	data, err := p.objects.Download(ctx, doc.ObjectPath.String)
	if err != nil {
		return 0, 0, fmt.Errorf("download object: %w", err)
	}

	extraction, err := p.extractor.Extract(data, doc.Name)
	if err != nil {
		return 0, 0, fmt.Errorf("extract text: %w", err)
	}
	if extraction.UsedFallback {
		p.logger.Warn("primary extraction failed, used fallback decode", "document_id", doc.ID)
	}

	chunks := p.chunker.ChunkPages(extraction.Pages)
	if len(chunks) == 0 {
		return 0, 0, fmt.Errorf("no extractable text")
	}

	embeddings, err := p.embedChunks(ctx, chunks)
	if err != nil {
		// Embeddings are optional; retrieval degrades to lexical-only.
		p.logger.Warn("embedding failed, storing chunks without vectors",
			"document_id", doc.ID, "error", err)
		embeddings = nil
	}

	rows := make([]storage.Chunk, len(chunks))
	for i, c := range chunks {
		rows[i] = storage.Chunk{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			PageNumber: pageNumber(c.PageNumber),
		}
		if embeddings != nil {
			rows[i].Embedding = embeddings[i]
		}
	}

	if err := p.documents.InsertChunks(ctx, rows); err != nil {
		return 0, 0, fmt.Errorf("insert chunks: %w", err)
	}

	return len(chunks), len(extraction.Pages), nil
}

func (p *Pipeline) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	if p.embedder == nil {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	return vectors, nil
}

func (p *Pipeline) notify(ctx context.Context, docID uuid.UUID, status storage.DocumentStatus, message string) {
	if p.notifier == nil {
		return
	}
	p.notifier.NotifyDocumentStatus(ctx, docID, status, message)
}

func pageNumber(n int) sql.NullInt32 {
	if n <= 0 {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(n), Valid: true}
}
