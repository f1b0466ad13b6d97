package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/melody-api/internal/config"
	"github.com/phrazzld/melody-api/internal/platform/gemini"
	"github.com/phrazzld/melody-api/internal/platform/remote"
	"github.com/phrazzld/melody-api/internal/producer"
	"github.com/phrazzld/melody-api/internal/task"
)

// newProducer creates the producer selected by cfg.Producer.Kind. The
// returned closer is nil for producers that hold no resources.
func newProducer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (task.Producer, io.Closer, error) {
	pc := cfg.Producer

	switch pc.Kind {
	case config.ProducerPattern:
		return producer.NewPatternProducer(pc.Latency, logger), nil, nil

	case config.ProducerGemini:
		p, err := gemini.NewProducer(ctx, logger, gemini.Config{
			APIKey:             pc.Gemini.APIKey,
			Model:              pc.Gemini.Model,
			MaxRetries:         pc.Gemini.MaxRetries,
			RetryDelay:         pc.Gemini.RetryDelay,
			PromptTemplatePath: pc.Gemini.PromptTemplatePath,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, nil, nil

	case config.ProducerRemote:
		p := remote.NewProducer(remote.Config{
			URL:     pc.Remote.URL,
			Timeout: pc.Remote.Timeout,
			Token:   pc.Remote.Token,
		}, logger)
		return p, p, nil

	case config.ProducerFailing:
		logger.Warn("failing producer configured, every generation will fail")
		return producer.Failing{}, nil, nil

	default:
		return nil, nil, fmt.Errorf("unsupported producer kind %q", pc.Kind)
	}
}
