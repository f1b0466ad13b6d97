package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/melody-api/internal/platform/logger"
)

// TraceIDLength is the number of random bytes in a generated trace ID
const TraceIDLength = 16 // 32 hex characters

// TraceHeader is the response header that echoes the trace ID to clients
const TraceHeader = "X-Trace-ID"

// SetTraceID adds a fresh trace ID to the context. Loggers built with
// logger.ContextHandler pick it up automatically.
func SetTraceID(ctx context.Context) context.Context {
	return logger.WithTraceID(ctx, generateTraceID())
}

// GetTraceID retrieves the trace ID from the context, or "" if none is set.
func GetTraceID(ctx context.Context) string {
	return logger.TraceID(ctx)
}

// generateTraceID returns 32 hex characters. A random UUID is used when the
// system random source is unavailable.
func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	if _, err := rand.Read(b); err != nil {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return hex.EncodeToString(b)
}
