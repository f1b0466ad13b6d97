package domain

import (
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
)

// Supported genres
const (
	GenreClassical  = "classical"
	GenreJazz       = "jazz"
	GenreRock       = "rock"
	GenrePop        = "pop"
	GenreElectronic = "electronic"
)

// Defaults applied to any field a client leaves out.
const (
	DefaultGenre       = GenreClassical
	DefaultTempo       = 120
	DefaultLength      = 100
	DefaultTemperature = 0.8
	DefaultTopK        = 50
	DefaultKey         = "C"
	DefaultMode        = "free"
)

// validate is shared by all request validations; validator.Validate caches
// struct metadata and is safe for concurrent use.
var validate = validator.New()

// GenerationRequest holds the parameters of one generation. Once accepted by
// the service it is treated as immutable; use Clone before handing it to code
// that might retain it.
type GenerationRequest struct {
	Genre       string  `json:"genre" validate:"required,oneof=classical jazz rock pop electronic"`
	Tempo       int     `json:"tempo" validate:"gte=30,lte=300"`
	Length      int     `json:"length" validate:"gte=1,lte=500"`
	Temperature float64 `json:"temperature" validate:"gte=0,lte=2"`
	TopK        int     `json:"top_k" validate:"gte=1,lte=200"`
	Key         string  `json:"key" validate:"required,oneof=C C# D D# E F F# G G# A A# B"`
	Mode        string  `json:"mode" validate:"required,oneof=free melody harmony rhythm"`
	Prompt      []int   `json:"prompt,omitempty" validate:"omitempty,max=64,dive,gte=0,lte=127"`
}

// NewGenerationRequest returns a request populated with the service defaults.
// Decoding a client body into it leaves omitted fields at their defaults.
func NewGenerationRequest() GenerationRequest {
	return GenerationRequest{
		Genre:       DefaultGenre,
		Tempo:       DefaultTempo,
		Length:      DefaultLength,
		Temperature: DefaultTemperature,
		TopK:        DefaultTopK,
		Key:         DefaultKey,
		Mode:        DefaultMode,
	}
}

// Validate checks the request against its struct tags.
func (r GenerationRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// Clone returns a deep copy so the prompt slice is never shared.
func (r GenerationRequest) Clone() GenerationRequest {
	c := r
	if r.Prompt != nil {
		c.Prompt = slices.Clone(r.Prompt)
	}
	return c
}

// Equal reports whether both requests carry the same parameters. A nil and
// an empty prompt are equal.
func (r GenerationRequest) Equal(other GenerationRequest) bool {
	return r.Genre == other.Genre &&
		r.Tempo == other.Tempo &&
		r.Length == other.Length &&
		r.Temperature == other.Temperature &&
		r.TopK == other.TopK &&
		r.Key == other.Key &&
		r.Mode == other.Mode &&
		slices.Equal(r.Prompt, other.Prompt)
}

// GenreInfo describes one entry of the genre catalog.
type GenreInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ModelInfo describes a generation model exposed by the service.
type ModelInfo struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	Genres       []string `json:"genres"`
	MaxLength    int      `json:"max_length"`
	Loaded       bool     `json:"loaded"`
}

// Genres lists the supported genres in display order.
func Genres() []GenreInfo {
	return []GenreInfo{
		{Name: GenreClassical, Description: "Classical and orchestral music"},
		{Name: GenreJazz, Description: "Jazz and swing music"},
		{Name: GenreRock, Description: "Rock and alternative music"},
		{Name: GenrePop, Description: "Pop and contemporary music"},
		{Name: GenreElectronic, Description: "Electronic and synthesized music"},
	}
}

// Models lists the generation models. loaded reports whether the configured
// producer is ready to serve requests.
func Models(loaded bool) []ModelInfo {
	return []ModelInfo{
		{
			Name:         "MusicTransformer-v1",
			Type:         "transformer",
			Capabilities: []string{"melody", "harmony", "rhythm"},
			Genres:       []string{GenreClassical, GenreJazz, GenreRock, GenrePop, GenreElectronic},
			MaxLength:    500,
			Loaded:       loaded,
		},
	}
}
