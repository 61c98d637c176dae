package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/altiviz/datachat/internal/storage"
)

// DatasetImporter loads tabular uploads and manages their lifecycle.
type DatasetImporter interface {
	ImportCSV(ctx context.Context, name string, data []byte) (*storage.Dataset, error)
	DeleteDataset(ctx context.Context, id uuid.UUID) error
}

// DatasetLister reads the dataset registry.
type DatasetLister interface {
	ListDatasets(ctx context.Context) ([]storage.Dataset, error)
}

// DatasetResponse is the outward dataset representation.
type DatasetResponse struct {
	ID        uuid.UUID             `json:"id"`
	Name      string                `json:"name"`
	TableName string                `json:"table_name"`
	Engine    storage.DatasetEngine `json:"engine"`
	RowCount  int                   `json:"row_count"`
	Columns   []storage.ColumnSpec  `json:"columns"`
	CreatedAt time.Time             `json:"created_at"`
}

func datasetResponse(ds *storage.Dataset, logger *slog.Logger) DatasetResponse {
	columns, err := ds.ColumnSpecs()
	if err != nil {
		logger.Warn("dataset has malformed column schema", "dataset_id", ds.ID, "error", err)
	}
	return DatasetResponse{
		ID:        ds.ID,
		Name:      ds.Name,
		TableName: ds.TableName,
		Engine:    ds.Engine,
		RowCount:  ds.RowCount,
		Columns:   columns,
		CreatedAt: ds.CreatedAt,
	}
}

// UploadDataset returns the handler for POST /api/v1/datasets. The CSV
// is parsed and loaded synchronously; the dataset is queryable as soon
// as the response returns.
func UploadDataset(importer DatasetImporter, logger *slog.Logger) http.HandlerFunc {
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

		name := r.FormValue("name")
		if name == "" {
			base := filepath.Base(header.Filename)
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}
		if strings.TrimSpace(name) == "" {
			RespondBadRequest(w, "Dataset name is required")
			return
		}

		ds, err := importer.ImportCSV(ctx, name, data)
		if err != nil {
			logger.Warn("dataset import failed", "name", name, "error", err)
			RespondBadRequest(w, "Could not import dataset: "+err.Error())
			return
		}
		RespondCreated(w, datasetResponse(ds, logger))
	}
}

// ListDatasets returns the handler for GET /api/v1/datasets.
func ListDatasets(lister DatasetLister, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := lister.ListDatasets(r.Context())
		if err != nil {
			logger.Error("failed to list datasets", "error", err)
			RespondInternalError(w, "")
			return
		}
		out := make([]DatasetResponse, len(list))
		for i := range list {
			out[i] = datasetResponse(&list[i], logger)
		}
		RespondJSON(w, http.StatusOK, map[string]any{"datasets": out})
	}
}

// DeleteDataset returns the handler for DELETE /api/v1/datasets/{id}.
// The backing engine table is dropped along with the registry row.
func DeleteDataset(importer DatasetImporter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondBadRequest(w, "Invalid dataset ID")
			return
		}

		err = importer.DeleteDataset(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			RespondNotFound(w, "Dataset not found")
			return
		}
		if err != nil {
			logger.Error("failed to delete dataset", "dataset_id", id, "error", err)
			RespondInternalError(w, "")
			return
		}
		RespondNoContent(w)
	}
}
