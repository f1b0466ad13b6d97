package producer

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/melody-api/internal/domain"
)

const (
	// baseNote is middle C.
	baseNote = 60

	// MaxPatternNotes caps the number of notes a PatternProducer emits.
	MaxPatternNotes = 200

	// octaveSpan is the number of octaves the melody climbs before folding
	// back, which keeps every pitch inside the MIDI range.
	octaveSpan = 4
)

// genrePatterns are the interval patterns, in semitones above the tonic,
// cycled by each genre.
var genrePatterns = map[string][]int{
	domain.GenreClassical: {0, 2, 4, 5, 7, 9, 11, 7},
	domain.GenreJazz:      {0, 3, 5, 7, 10, 8, 5, 3},
	domain.GenreRock:      {0, 3, 5, 7, 5, 3, 0, 5},
}

// defaultPattern is used for every genre without a dedicated pattern.
var defaultPattern = []int{0, 2, 4, 7, 9, 7, 4, 2}

// keyOffsets maps a key name to its semitone offset from C.
var keyOffsets = map[string]int{
	"C": 0, "C#": 1, "D": 2, "D#": 3, "E": 4, "F": 5,
	"F#": 6, "G": 7, "G#": 8, "A": 9, "A#": 10, "B": 11,
}

// PatternProducer generates a melody by cycling a genre specific interval
// pattern, climbing an octave every eight notes. Its output depends only on
// the request, which makes it suitable for demos and tests.
type PatternProducer struct {
	latency time.Duration
	logger  *slog.Logger
}

// NewPatternProducer creates a PatternProducer that waits latency before
// returning, simulating model inference time.
func NewPatternProducer(latency time.Duration, logger *slog.Logger) *PatternProducer {
	return &PatternProducer{
		latency: latency,
		logger:  logger.With("component", "pattern_producer"),
	}
}

// Produce implements task.Producer.
func (p *PatternProducer) Produce(ctx context.Context, req domain.GenerationRequest) (*domain.Composition, error) {
	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	composition := Pattern(req)
	p.logger.Debug("generated pattern composition",
		"genre", req.Genre,
		"note_count", len(composition.Notes))
	return composition, nil
}

// Pattern builds the composition for req without any simulated latency.
func Pattern(req domain.GenerationRequest) *domain.Composition {
	pattern, ok := genrePatterns[req.Genre]
	if !ok {
		pattern = defaultPattern
	}

	tonic := baseNote + keyOffsets[req.Key]
	velocity := clampVelocity(int(80 + (req.Temperature-0.5)*40))
	beat := 60.0 / float64(max(req.Tempo, 1))

	count := min(req.Length, MaxPatternNotes)
	notes := make([]domain.Note, 0, max(count, 0))

	var current float64
	for i := 0; i < count; i++ {
		pitch := tonic + pattern[i%len(pattern)] + (i/8%octaveSpan)*12

		duration := beat
		if i%4 == 0 {
			duration *= 2
		}

		notes = append(notes, domain.Note{
			Type:     domain.NoteOn,
			Note:     pitch,
			Time:     current,
			Velocity: velocity,
			Duration: duration,
		})
		current += duration
	}

	return &domain.Composition{Notes: notes}
}

func clampVelocity(v int) int {
	return min(max(v, 1), 127)
}
