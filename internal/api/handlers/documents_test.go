package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altiviz/datachat/internal/storage"
)

type stubDocumentStore struct {
	doc     *storage.Document
	deleted []uuid.UUID
}

func (s *stubDocumentStore) CreateDocument(ctx context.Context, name, objectPath string) (*storage.Document, error) {
	return s.doc, nil
}

func (s *stubDocumentStore) GetDocument(ctx context.Context, id uuid.UUID) (*storage.Document, error) {
	if s.doc == nil || s.doc.ID != id {
		return nil, storage.ErrNotFound
	}
	return s.doc, nil
}

func (s *stubDocumentStore) ListDocuments(ctx context.Context) ([]storage.Document, error) {
	if s.doc == nil {
		return nil, nil
	}
	return []storage.Document{*s.doc}, nil
}

func (s *stubDocumentStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type stubObjectStore struct {
	deleted []string
}

func (s *stubObjectStore) UploadBytes(ctx context.Context, data []byte, path, contentType string) (string, error) {
	return path, nil
}

func (s *stubObjectStore) Delete(ctx context.Context, path string) error {
	s.deleted = append(s.deleted, path)
	return nil
}

type stubResultCache struct {
	invalidations int
}

func (s *stubResultCache) InvalidateResults(ctx context.Context) error {
	s.invalidations++
	return nil
}

func deleteDocumentRequest(t *testing.T, handler http.HandlerFunc, id string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Delete("/documents/{id}", handler)
	req := httptest.NewRequest(http.MethodDelete, "/documents/"+id, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestDeleteDocumentInvalidatesResultCache(t *testing.T) {
	doc := &storage.Document{
		ID:         uuid.New(),
		Name:       "notes.txt",
		Status:     storage.DocumentReady,
		ObjectPath: sql.NullString{String: "documents/notes.txt", Valid: true},
	}
	docs := &stubDocumentStore{doc: doc}
	objects := &stubObjectStore{}
	cache := &stubResultCache{}
	handler := DeleteDocument(docs, objects, cache, discardLogger())

	rec := deleteDocumentRequest(t, handler, doc.ID.String())
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, []uuid.UUID{doc.ID}, docs.deleted)
	assert.Equal(t, []string{"documents/notes.txt"}, objects.deleted)
	assert.Equal(t, 1, cache.invalidations)
}

func TestDeleteDocumentWithoutCache(t *testing.T) {
	doc := &storage.Document{ID: uuid.New(), Name: "notes.txt", Status: storage.DocumentReady}
	docs := &stubDocumentStore{doc: doc}
	handler := DeleteDocument(docs, &stubObjectStore{}, nil, discardLogger())

	rec := deleteDocumentRequest(t, handler, doc.ID.String())
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDeleteDocumentNotFound(t *testing.T) {
	cache := &stubResultCache{}
	handler := DeleteDocument(&stubDocumentStore{}, &stubObjectStore{}, cache, discardLogger())

	rec := deleteDocumentRequest(t, handler, uuid.New().String())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, cache.invalidations)
}
