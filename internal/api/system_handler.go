package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/melody-api/internal/api/shared"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/service"
)

// ServiceName is reported by the root endpoint.
const ServiceName = "AI Music Generator API"

// SystemHandler serves the service description, health and catalog routes.
type SystemHandler struct {
	generationService service.GenerationService
	version           string
	now               func() time.Time
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(generationService service.GenerationService, version string) *SystemHandler {
	return &SystemHandler{
		generationService: generationService,
		version:           version,
		now:               time.Now,
	}
}

// Register mounts the system routes on r.
func (h *SystemHandler) Register(r chi.Router) {
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/models", h.Models)
	r.Get("/genres", h.Genres)
}

// Root handles GET / requests.
func (h *SystemHandler) Root(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, RootResponse{
		Message: ServiceName,
		Version: h.version,
	})
}

// Health handles GET /health requests. The service is healthy as long as it
// answers; producer readiness is reported separately.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	health := h.generationService.Health()
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:          "healthy",
		Timestamp:       h.now().UTC(),
		GeneratorLoaded: health.ProducerReady,
		Producer:        health.Producer,
		InFlight:        health.InFlight,
		Tasks:           health.Tasks,
	})
}

// Models handles GET /models requests.
func (h *SystemHandler) Models(w http.ResponseWriter, r *http.Request) {
	loaded := h.generationService.Health().ProducerReady
	shared.RespondWithJSON(w, r, http.StatusOK, ModelsResponse{Models: domain.Models(loaded)})
}

// Genres handles GET /genres requests.
func (h *SystemHandler) Genres(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, GenresResponse{Genres: domain.Genres()})
}
