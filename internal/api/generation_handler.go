package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/melody-api/internal/api/shared"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/platform/logger"
	"github.com/phrazzld/melody-api/internal/preview"
	"github.com/phrazzld/melody-api/internal/service"
)

// GenerationHandler handles generation-related HTTP requests.
type GenerationHandler struct {
	generationService service.GenerationService
	logger            *slog.Logger
}

// NewGenerationHandler creates a new GenerationHandler.
func NewGenerationHandler(generationService service.GenerationService, logger *slog.Logger) *GenerationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationHandler{
		generationService: generationService,
		logger:            logger.With("component", "generation_handler"),
	}
}

// Register mounts the generation routes on r.
func (h *GenerationHandler) Register(r chi.Router) {
	r.Post("/generate", h.Generate)
	r.Get("/status/{id}", h.Status)
	r.Get("/result/{id}", h.Result)
	r.Get("/download/{id}", h.Download)
	r.Get("/preview/{id}.png", h.Preview)
	r.Get("/generations", h.List)
	r.Delete("/generation/{id}", h.Delete)
}

// Generate handles POST /generate requests. Omitted fields take the service
// defaults.
func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	req := domain.NewGenerationRequest()
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	rec, err := h.generationService.Submit(r.Context(), req)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to start generation")
		return
	}

	log.Info("generation accepted",
		"task_id", rec.ID,
		"genre", req.Genre,
		"length", req.Length)

	shared.RespondWithJSON(w, r, http.StatusAccepted, GenerateResponse{
		ID:        rec.ID,
		Status:    rec.State,
		Progress:  rec.Progress,
		CreatedAt: rec.CreatedAt,
	})
}

// Status handles GET /status/{id} requests.
func (h *GenerationHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	rec, err := h.generationService.Status(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get generation status")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, StatusResponse{
		ID:       rec.ID,
		Status:   rec.State,
		Progress: rec.Progress,
		Message:  rec.Message,
	})
}

// Result handles GET /result/{id} requests. A generation that is still
// running answers 202 with a message instead of a result.
func (h *GenerationHandler) Result(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	gen, err := h.generationService.Result(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get generation result")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newResultResponse(gen))
}

// Download handles GET /download/{id} requests, serving the notes of a
// completed generation as a JSON attachment.
func (h *GenerationHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	gen, err := h.generationService.Result(r.Context(), id)
	if err != nil {
		// Anything short of a completed result is "not found" for a download.
		if MapErrorToStatusCode(err) == http.StatusAccepted {
			shared.RespondWithErrorAndLog(w, r, http.StatusNotFound, "Generation not ready", err)
			return
		}
		HandleAPIError(w, r, err, "Failed to download generation")
		return
	}

	body, err := json.MarshalIndent(gen.Composition.Notes, "", "  ")
	if err != nil {
		HandleAPIError(w, r, err, "Failed to download generation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ai_music_%s.json"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Warn("failed to write download",
			"task_id", id,
			"error", err)
	}
}

// Preview handles GET /preview/{id}.png requests. The optional width query
// parameter resizes the image.
func (h *GenerationHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	width, ok := getQueryInt(r, "width", 0)
	if !ok {
		HandleAPIError(w, r, preview.ErrInvalidWidth, "")
		return
	}

	img, err := h.generationService.Preview(r.Context(), id, width)
	if err != nil {
		if MapErrorToStatusCode(err) == http.StatusAccepted {
			shared.RespondWithErrorAndLog(w, r, http.StatusNotFound, "Generation not ready", err)
			return
		}
		HandleAPIError(w, r, err, "Failed to render preview")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(img)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}

// List handles GET /generations requests.
func (h *GenerationHandler) List(w http.ResponseWriter, r *http.Request) {
	generations, err := h.generationService.List(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list generations")
		return
	}

	items := make([]GenerationItem, 0, len(generations))
	for _, gen := range generations {
		items = append(items, newGenerationItem(gen))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, GenerationsResponse{Generations: items})
}

// Delete handles DELETE /generation/{id} requests. Deleting an unknown
// generation succeeds.
func (h *GenerationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	if err := h.generationService.Delete(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to delete generation")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Generation %s deleted", id),
	})
}
