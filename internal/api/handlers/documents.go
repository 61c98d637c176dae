package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/altiviz/datachat/internal/storage"
)

const maxUploadBytes = 32 << 20 // 32 MiB

// DocumentStore is the document registry surface the handlers need.
type DocumentStore interface {
	CreateDocument(ctx context.Context, name, objectPath string) (*storage.Document, error)
	GetDocument(ctx context.Context, id uuid.UUID) (*storage.Document, error)
	ListDocuments(ctx context.Context) ([]storage.Document, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
}

// ObjectStore holds raw upload bytes.
type ObjectStore interface {
	UploadBytes(ctx context.Context, data []byte, path, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// IngestQueue hands uploaded documents to the worker.
type IngestQueue interface {
	EnqueueIngest(ctx context.Context, docID uuid.UUID) error
}

// ResultCache drops cached retrieval results when the searchable corpus
// changes. Optional.
type ResultCache interface {
	InvalidateResults(ctx context.Context) error
}

// DocumentResponse is the outward document representation.
type DocumentResponse struct {
	ID           uuid.UUID              `json:"id"`
	Name         string                 `json:"name"`
	Status       storage.DocumentStatus `json:"status"`
	ChunkCount   int                    `json:"chunk_count"`
	PageCount    int                    `json:"page_count"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

func documentResponse(doc *storage.Document) DocumentResponse {
	return DocumentResponse{
		ID:           doc.ID,
		Name:         doc.Name,
		Status:       doc.Status,
		ChunkCount:   doc.ChunkCount,
		PageCount:    doc.PageCount,
		ErrorMessage: doc.ErrorMessage.String,
		CreatedAt:    doc.CreatedAt,
	}
}

// UploadDocument returns the handler for POST /api/v1/documents. The file
// lands in object storage, a processing row is created, and an ingestion
// job is enqueued; processing itself is asynchronous.
func UploadDocument(docs DocumentStore, objects ObjectStore, queue IngestQueue, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			RespondError(w, http.StatusRequestEntityTooLarge, ErrCodePayloadSize, "Upload too large")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			RespondBadRequest(w, "Missing file field")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			logger.Error("failed to read upload", "error", err)
			RespondInternalError(w, "")
			return
		}
		if len(data) == 0 {
			RespondBadRequest(w, "File is empty")
			return
		}

		name := filepath.Base(header.Filename)
		objectPath := fmt.Sprintf("documents/%s/%s", uuid.New(), name)
		contentType := header.Header.Get("Content-Type")

		if _, err := objects.UploadBytes(ctx, data, objectPath, contentType); err != nil {
			logger.Error("failed to store upload", "error", err)
			RespondInternalError(w, "Failed to store file")
			return
		}

		doc, err := docs.CreateDocument(ctx, name, objectPath)
		if err != nil {
			logger.Error("failed to create document", "error", err)
			if delErr := objects.Delete(ctx, objectPath); delErr != nil {
				logger.Warn("failed to remove orphaned object", "path", objectPath, "error", delErr)
			}
			RespondInternalError(w, "")
			return
		}

		if err := queue.EnqueueIngest(ctx, doc.ID); err != nil {
			logger.Error("failed to enqueue ingestion", "document_id", doc.ID, "error", err)
			RespondInternalError(w, "Failed to queue document for processing")
			return
		}

		logger.Info("document uploaded", "document_id", doc.ID, "name", name, "bytes", len(data))
		RespondCreated(w, documentResponse(doc))
	}
}

// ListDocuments returns the handler for GET /api/v1/documents.
func ListDocuments(docs DocumentStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := docs.ListDocuments(r.Context())
		if err != nil {
			logger.Error("failed to list documents", "error", err)
			RespondInternalError(w, "")
			return
		}
		out := make([]DocumentResponse, len(list))
		for i := range list {
			out[i] = documentResponse(&list[i])
		}
		RespondJSON(w, http.StatusOK, map[string]any{"documents": out})
	}
}

// GetDocument returns the handler for GET /api/v1/documents/{id}.
func GetDocument(docs DocumentStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondBadRequest(w, "Invalid document ID")
			return
		}

		doc, err := docs.GetDocument(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			RespondNotFound(w, "Document not found")
			return
		}
		if err != nil {
			logger.Error("failed to load document", "document_id", id, "error", err)
			RespondInternalError(w, "")
			return
		}
		RespondJSON(w, http.StatusOK, documentResponse(doc))
	}
}

// DeleteDocument returns the handler for DELETE /api/v1/documents/{id}.
// Chunks go with the document; the stored object is removed best-effort,
// and cached retrieval results are dropped so deleted chunks stop being
// served before their TTL.
func DeleteDocument(docs DocumentStore, objects ObjectStore, cache ResultCache, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondBadRequest(w, "Invalid document ID")
			return
		}

		doc, err := docs.GetDocument(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			RespondNotFound(w, "Document not found")
			return
		}
		if err != nil {
			logger.Error("failed to load document", "document_id", id, "error", err)
			RespondInternalError(w, "")
			return
		}

		if err := docs.DeleteDocument(ctx, id); err != nil {
			logger.Error("failed to delete document", "document_id", id, "error", err)
			RespondInternalError(w, "")
			return
		}

		if doc.ObjectPath.Valid {
			if err := objects.Delete(ctx, doc.ObjectPath.String); err != nil {
				logger.Warn("failed to delete stored object", "path", doc.ObjectPath.String, "error", err)
			}
		}

		if cache != nil {
			if err := cache.InvalidateResults(ctx); err != nil {
				logger.Warn("failed to invalidate retrieval cache", "error", err)
			}
		}

		logger.Info("document deleted", "document_id", id)
		RespondNoContent(w)
	}
}
