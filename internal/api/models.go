package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/service"
	"github.com/phrazzld/melody-api/internal/task"
)

// GenerateResponse is returned when a generation has been accepted.
type GenerateResponse struct {
	ID        uuid.UUID  `json:"id"`
	Status    task.State `json:"status"`
	Progress  int        `json:"progress"`
	CreatedAt time.Time  `json:"created_at"`
}

// StatusResponse reports the progress of one generation.
type StatusResponse struct {
	ID       uuid.UUID  `json:"id"`
	Status   task.State `json:"status"`
	Progress int        `json:"progress"`
	Message  string     `json:"message"`
}

// ResultResponse carries a completed generation.
type ResultResponse struct {
	ID        uuid.UUID     `json:"id"`
	Status    task.State    `json:"status"`
	MusicData []domain.Note `json:"music_data"`
	MidiURL   string        `json:"midi_url"`
	CreatedAt time.Time     `json:"created_at"`
	// Duration is the length of the piece in seconds
	Duration float64 `json:"duration"`
}

// GenerationItem is one entry of the generations listing. Result fields are
// only present for completed generations.
type GenerationItem struct {
	ID        uuid.UUID     `json:"id"`
	Status    task.State    `json:"status"`
	Progress  int           `json:"progress"`
	Message   string        `json:"message"`
	Genre     string        `json:"genre"`
	CreatedAt time.Time     `json:"created_at"`
	MusicData []domain.Note `json:"music_data,omitempty"`
	MidiURL   string        `json:"midi_url,omitempty"`
	Duration  *float64      `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// GenerationsResponse lists every known generation.
type GenerationsResponse struct {
	Generations []GenerationItem `json:"generations"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// RootResponse identifies the service.
type RootResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// HealthResponse reports service liveness and producer readiness.
type HealthResponse struct {
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	GeneratorLoaded bool      `json:"generator_loaded"`
	Producer        string    `json:"producer"`
	InFlight        int       `json:"in_flight"`
	Tasks           int       `json:"tasks"`
}

// ModelsResponse lists the generation models.
type ModelsResponse struct {
	Models []domain.ModelInfo `json:"models"`
}

// GenresResponse lists the supported genres.
type GenresResponse struct {
	Genres []domain.GenreInfo `json:"genres"`
}

// downloadPath is where a completed generation can be fetched as a file.
func downloadPath(id uuid.UUID) string {
	return "/download/" + id.String()
}

func newResultResponse(gen *service.Generation) ResultResponse {
	rec := gen.Record
	resp := ResultResponse{
		ID:        rec.ID,
		Status:    rec.State,
		MidiURL:   downloadPath(rec.ID),
		CreatedAt: rec.CreatedAt,
	}
	if gen.Composition != nil {
		resp.MusicData = gen.Composition.Notes
		resp.Duration = gen.Composition.DurationSeconds()
	}
	if rec.Result != nil {
		resp.Duration = rec.Result.DurationSeconds
	}
	return resp
}

func newGenerationItem(gen service.Generation) GenerationItem {
	rec := gen.Record
	item := GenerationItem{
		ID:        rec.ID,
		Status:    rec.State,
		Progress:  rec.Progress,
		Message:   rec.Message,
		Genre:     rec.Request.Genre,
		CreatedAt: rec.CreatedAt,
		Error:     rec.Error,
	}
	if rec.State == task.StateCompleted && gen.Composition != nil {
		full := newResultResponse(&gen)
		item.MusicData = full.MusicData
		item.MidiURL = full.MidiURL
		item.Duration = &full.Duration
	}
	return item
}
