package gemini

import "time"

// Config holds the settings of the Gemini producer
type Config struct {
	// APIKey authenticates against the Gemini API
	APIKey string `validate:"required"`

	// Model is the Gemini model name, e.g. "gemini-2.0-flash"
	Model string `validate:"required"`

	// MaxRetries is the number of retries after the first failed attempt
	MaxRetries int `validate:"gte=0,lte=10"`

	// RetryDelay is the base delay of the exponential backoff
	RetryDelay time.Duration

	// PromptTemplatePath optionally replaces the built-in prompt template
	PromptTemplatePath string
}

// promptData represents the data passed to the prompt template
type promptData struct {
	Genre       string
	Key         string
	Mode        string
	Tempo       int
	Length      int
	Temperature float64
	Prompt      []int
}

// ResponseSchema represents the JSON document the model is asked to return
type ResponseSchema struct {
	// Notes is the generated melody in playing order
	Notes []NoteSchema `json:"notes"`
}

// NoteSchema represents a single note in the model response
type NoteSchema struct {
	// Note is the MIDI pitch, 0-127
	Note int `json:"note"`

	// Time is the onset in seconds from the start of the piece
	Time float64 `json:"time"`

	// Velocity is the MIDI velocity, 0-127
	Velocity int `json:"velocity"`

	// Duration is the length of the note in seconds
	Duration float64 `json:"duration"`
}
