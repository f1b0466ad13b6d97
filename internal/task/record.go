package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/phrazzld/melody-api/internal/store"
)

// Status messages written at each stage of a task
const (
	MessageQueued     = "Generation queued"
	MessageInitialize = "Initializing neural network..."
	MessageFinalize   = "Finalizing composition..."
	MessageCompleted  = "Music generation completed!"
	messageFailedFmt  = "Generation failed: %s"
)

// Result describes a stored payload. It is attached only to completed records.
type Result struct {
	Locator         store.Locator `json:"locator"`
	DurationSeconds float64       `json:"duration_seconds"`
	NoteCount       int           `json:"note_count"`
}

// Record is the registry's view of one task. Values returned by the registry
// are copies; modifying them has no effect on the stored record.
type Record struct {
	ID        uuid.UUID                `json:"id"`
	State     State                    `json:"state"`
	Progress  int                      `json:"progress"`
	Message   string                   `json:"message"`
	Request   domain.GenerationRequest `json:"request"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
	Result    *Result                  `json:"result,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// Summary is the listing view of a record.
type Summary struct {
	ID        uuid.UUID `json:"id"`
	State     State     `json:"state"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Genre     string    `json:"genre"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Result    *Result   `json:"result,omitempty"`
}

// Summary returns the listing view of the record.
func (r Record) Summary() Summary {
	s := Summary{
		ID:        r.ID,
		State:     r.State,
		Progress:  r.Progress,
		Message:   r.Message,
		Genre:     r.Request.Genre,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.Result != nil {
		res := *r.Result
		s.Result = &res
	}
	return s
}

func (r Record) clone() Record {
	c := r
	c.Request = r.Request.Clone()
	if r.Result != nil {
		res := *r.Result
		c.Result = &res
	}
	return c
}

// Mutation changes a working copy of a record. The registry validates the
// outcome before committing it.
type Mutation func(r *Record)

// Advance moves a record into (or keeps it in) processing with the given
// progress and message.
func Advance(progress int, message string) Mutation {
	return func(r *Record) {
		r.State = StateProcessing
		r.Progress = progress
		r.Message = message
	}
}

// Complete marks a record completed and attaches its result.
func Complete(result Result) Mutation {
	return func(r *Record) {
		r.State = StateCompleted
		r.Progress = 100
		r.Message = MessageCompleted
		r.Result = &result
		r.Error = ""
	}
}

// Fail marks a record failed with the given diagnostic. Progress is reset.
func Fail(diagnostic string) Mutation {
	return func(r *Record) {
		r.State = StateFailed
		r.Progress = 0
		r.Message = fmt.Sprintf(messageFailedFmt, diagnostic)
		r.Error = diagnostic
		r.Result = nil
	}
}

// checkTransition verifies that next is a legal successor of prev.
func checkTransition(prev, next Record) error {
	if prev.State.IsTerminal() {
		return fmt.Errorf("%w: record is %s", ErrInvalidTransition, prev.State)
	}
	if !CanTransition(prev.State, next.State) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.State, next.State)
	}
	if next.ID != prev.ID || !next.CreatedAt.Equal(prev.CreatedAt) {
		return fmt.Errorf("%w: identity fields are immutable", ErrInvalidTransition)
	}
	if !next.Request.Equal(prev.Request) {
		return fmt.Errorf("%w: request is immutable", ErrInvalidTransition)
	}
	if next.Progress < 0 || next.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidTransition, next.Progress)
	}
	if next.State != StateFailed && next.Progress < prev.Progress {
		return fmt.Errorf("%w: progress may not decrease from %d to %d",
			ErrInvalidTransition, prev.Progress, next.Progress)
	}
	if (next.Progress == 100) != (next.State == StateCompleted) {
		return fmt.Errorf("%w: progress 100 is reserved for completed records", ErrInvalidTransition)
	}

	switch next.State {
	case StateCompleted:
		if next.Result == nil || next.Error != "" {
			return fmt.Errorf("%w: completed record needs a result and no error", ErrInvalidTransition)
		}
	case StateFailed:
		if next.Error == "" || next.Result != nil {
			return fmt.Errorf("%w: failed record needs an error and no result", ErrInvalidTransition)
		}
	default:
		if next.Result != nil || next.Error != "" {
			return fmt.Errorf("%w: %s record may not carry a result or error",
				ErrInvalidTransition, next.State)
		}
	}
	return nil
}
