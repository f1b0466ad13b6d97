package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot(t *testing.T) {
	w := serve(newTestRouter(&mockGenerationService{}), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"AI Music Generator API","version":"1.0.0"}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	svc := &mockGenerationService{
		HealthFn: func() service.Health {
			return service.Health{ProducerReady: true, Producer: "pattern", InFlight: 2, Tasks: 5}
		},
	}
	handler := NewSystemHandler(svc, "1.0.0")
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	handler.now = func() time.Time { return fixed }

	r := chi.NewRouter()
	handler.Register(r)

	w := serve(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, HealthResponse{
		Status:          "healthy",
		Timestamp:       fixed,
		GeneratorLoaded: true,
		Producer:        "pattern",
		InFlight:        2,
		Tasks:           5,
	}, resp)
}

func TestHealth_ProducerNotReady(t *testing.T) {
	w := serve(newTestRouter(&mockGenerationService{}), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code, "the service stays healthy while the producer warms up")

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.GeneratorLoaded)
}

func TestModels(t *testing.T) {
	svc := &mockGenerationService{}
	router := newTestRouter(svc)

	var resp ModelsResponse
	w := serve(router, http.MethodGet, "/models", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 1)
	assert.False(t, resp.Models[0].Loaded)

	svc.MarkReady(true)
	w = serve(router, http.MethodGet, "/models", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Models[0].Loaded)
}

func TestGenres(t *testing.T) {
	w := serve(newTestRouter(&mockGenerationService{}), http.MethodGet, "/genres", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp GenresResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.Genres(), resp.Genres)
}
