package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/melody-api/internal/domain"
	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

// DefaultRetryDelay is used when no positive retry delay is configured.
const DefaultRetryDelay = 2 * time.Second

// contentGenerator is the part of the genai client the producer uses.
// *genai.Models satisfies it.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Producer implements task.Producer using the Gemini API.
type Producer struct {
	logger         *slog.Logger
	config         Config
	promptTemplate *template.Template
	models         contentGenerator
}

// NewProducer validates the configuration and creates a Gemini client.
func NewProducer(ctx context.Context, logger *slog.Logger, config Config) (*Producer, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newProducer(logger, config, client.Models)
}

// newProducer wires a producer around an existing content generator.
func newProducer(logger *slog.Logger, config Config, models contentGenerator) (*Producer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	tmpl, err := loadTemplate(config.PromptTemplatePath)
	if err != nil {
		return nil, err
	}

	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.MaxRetries < 0 {
		logger.Warn("invalid max retries value, using default", "max_retries", 3)
		config.MaxRetries = 3
	}

	return &Producer{
		logger:         logger.With("component", "gemini_producer", "model", config.Model),
		config:         config,
		promptTemplate: tmpl,
		models:         models,
	}, nil
}

// Produce implements task.Producer.
func (p *Producer) Produce(ctx context.Context, req domain.GenerationRequest) (*domain.Composition, error) {
	prompt, err := renderPrompt(p.promptTemplate, req)
	if err != nil {
		return nil, err
	}

	p.logger.DebugContext(ctx, "prompt generated",
		"genre", req.Genre,
		"prompt_size", humanize.Bytes(uint64(len(prompt))))

	response, err := p.callWithRetry(ctx, prompt, req)
	if err != nil {
		return nil, err
	}

	return p.parseResponse(ctx, response)
}

// callWithRetry calls the model, retrying transient errors with exponential
// backoff and jitter. Blocked or unparsable answers are returned at once.
func (p *Producer) callWithRetry(ctx context.Context, prompt string, req domain.GenerationRequest) (*ResponseSchema, error) {
	backoff := retry.NewExponential(p.config.RetryDelay)
	backoff = retry.WithJitterPercent(25, backoff)
	backoff = retry.WithMaxRetries(uint64(p.config.MaxRetries), backoff)

	genConfig := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      float32Ptr(float32(req.Temperature)),
		TopK:             float32Ptr(float32(req.TopK)),
	}

	attempt := 0
	var response *ResponseSchema
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		p.logger.InfoContext(ctx, "making gemini api call",
			"attempt", attempt,
			"max_attempts", p.config.MaxRetries+1)

		resp, err := p.models.GenerateContent(ctx, p.config.Model, genai.Text(prompt), genConfig)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.WarnContext(ctx, "gemini api call failed", "attempt", attempt, "error", err)
			return retry.RetryableError(fmt.Errorf("%w: %v", ErrTransientFailure, err))
		}

		parsed, err := decodeResponse(resp)
		if err != nil {
			p.logger.WarnContext(ctx, "permanent error occurred, not retrying", "error", err)
			return err
		}
		response = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "gemini api call successful", "attempt", attempt)
	return response, nil
}

// decodeResponse extracts the JSON answer from the first candidate.
func decodeResponse(resp *genai.GenerateContentResponse) (*ResponseSchema, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", ErrInvalidResponse)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, ErrContentBlocked
	}
	if candidate.Content == nil {
		return nil, fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	var parsed ResponseSchema
	if err := json.Unmarshal([]byte(stripCodeFence(text.String())), &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}
	return &parsed, nil
}

// parseResponse converts the model answer into a validated composition.
func (p *Producer) parseResponse(ctx context.Context, response *ResponseSchema) (*domain.Composition, error) {
	if len(response.Notes) == 0 {
		return nil, fmt.Errorf("%w: no notes in response", ErrInvalidResponse)
	}

	notes := make([]domain.Note, 0, len(response.Notes))
	for _, n := range response.Notes {
		notes = append(notes, domain.Note{
			Type:     domain.NoteOn,
			Note:     n.Note,
			Time:     n.Time,
			Velocity: n.Velocity,
			Duration: n.Duration,
		})
	}

	composition := &domain.Composition{Notes: notes}
	if err := composition.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	p.logger.InfoContext(ctx, "parsed gemini composition",
		"note_count", len(notes),
		"duration_seconds", composition.DurationSeconds())
	return composition, nil
}

// stripCodeFence removes a surrounding markdown code fence, which some models
// add even when asked for raw JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func float32Ptr(v float32) *float32 {
	return &v
}
