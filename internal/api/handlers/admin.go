package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/altiviz/datachat/internal/llm"
)

// ModelsResponse reports the runtime provider configuration.
type ModelsResponse struct {
	Models  []string `json:"models"`
	Offline bool     `json:"offline"`
}

// GetModels returns the handler for GET /api/v1/models.
func GetModels(registry *llm.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusOK, ModelsResponse{
			Models:  registry.Models(),
			Offline: registry.OfflineEnabled(),
		})
	}
}

// PutModels returns the handler for PUT /api/v1/models. Replaces the
// cloud fallback list; the new order takes effect on the next question.
func PutModels(registry *llm.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Models []string `json:"models"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			RespondBadRequest(w, "Invalid request body")
			return
		}
		if err := registry.SetModels(body.Models); err != nil {
			RespondError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
			return
		}
		logger.Info("fallback model list updated", "models", body.Models)
		RespondJSON(w, http.StatusOK, ModelsResponse{
			Models:  registry.Models(),
			Offline: registry.OfflineEnabled(),
		})
	}
}

// PutOffline returns the handler for PUT /api/v1/offline. When enabled,
// the local provider is used exclusively.
func PutOffline(registry *llm.Registry, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
			RespondBadRequest(w, "Body must include an \"enabled\" boolean")
			return
		}
		registry.SetOffline(*body.Enabled)
		logger.Info("offline mode toggled", "enabled", *body.Enabled)
		RespondJSON(w, http.StatusOK, ModelsResponse{
			Models:  registry.Models(),
			Offline: registry.OfflineEnabled(),
		})
	}
}
