// Package remote provides a task.Producer that delegates generation to an
// external model server over HTTP.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/melody-api/internal/domain"
	"resty.dev/v3"
)

// ErrRemoteFailure is returned when the model server answers with an error.
var ErrRemoteFailure = errors.New("remote generator failed")

// generatePath is the endpoint the model server exposes.
const generatePath = "/generate"

// Config holds the settings of the remote producer
type Config struct {
	// URL is the base URL of the model server
	URL string `validate:"required,url"`

	// Timeout bounds a single generation request
	Timeout time.Duration

	// Token, when set, is sent as a bearer token
	Token string
}

// errorBody is the error document returned by the model server
type errorBody struct {
	Detail string `json:"detail"`
}

// Producer implements task.Producer by posting the request to a model server.
type Producer struct {
	client *resty.Client
	logger *slog.Logger
}

// NewProducer creates a Producer for the model server at cfg.URL.
func NewProducer(cfg Config, logger *slog.Logger) *Producer {
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Producer{
		client: client,
		logger: logger.With("component", "remote_producer", "url", cfg.URL),
	}
}

// Produce implements task.Producer.
func (p *Producer) Produce(ctx context.Context, req domain.GenerationRequest) (*domain.Composition, error) {
	var (
		composition domain.Composition
		failure     errorBody
	)

	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&composition).
		SetError(&failure).
		Post(generatePath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: request failed: %v", ErrRemoteFailure, err)
	}

	if resp.IsError() {
		detail := failure.Detail
		if detail == "" {
			detail = resp.String()
		}
		p.logger.WarnContext(ctx, "model server returned an error",
			"status_code", resp.StatusCode(),
			"detail", detail)
		return nil, fmt.Errorf("%w: status %d: %s", ErrRemoteFailure, resp.StatusCode(), detail)
	}

	p.logger.DebugContext(ctx, "received remote composition",
		"note_count", len(composition.Notes),
		"elapsed", resp.Duration())

	for i := range composition.Notes {
		if composition.Notes[i].Type == "" {
			composition.Notes[i].Type = domain.NoteOn
		}
	}
	return &composition, nil
}

// Close releases the underlying HTTP client.
func (p *Producer) Close() error {
	return p.client.Close()
}
