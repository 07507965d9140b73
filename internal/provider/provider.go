// Package provider abstracts the upstream chat-completion endpoint. Two
// implementations exist: an OpenAI-compatible HTTP client and a deterministic
// mock used whenever no API credential is configured, so demos and tests run
// without real credentials.
package provider

import (
	"context"
	"fmt"
	"log"

	"medpilot/config"
)

// Options tune a single generation call.
type Options struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	// Role is the specialist role the prompt belongs to. The mock provider
	// uses it to shape its canned response; real providers ignore it.
	Role string
}

// StreamCallback receives incremental text. It is invoked once per chunk with
// done=false, then exactly once more with the full accumulated text and
// done=true.
type StreamCallback func(chunk string, done bool)

// UpstreamError reports a failed model call with the HTTP status and a
// truncated copy of the response body.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream model call failed: status %d: %s", e.Status, e.Body)
}

// Provider is the contract stage processors call.
type Provider interface {
	Name() string
	Generate(ctx context.Context, system, user string, opts Options) (string, error)
	GenerateStream(ctx context.Context, system, user string, opts Options, cb StreamCallback) (string, error)
	Speak(ctx context.Context, text, voice string) ([]byte, error)
}

// New selects the provider from config. An empty API key yields the mock.
func New(cfg config.LLMConfig, logger *log.Logger) Provider {
	if cfg.APIKey == "" {
		logger.Printf("no API key configured, using deterministic mock provider")
		return NewMock()
	}
	return NewOpenAI(cfg)
}

const maxErrorBody = 512

func truncateBody(b []byte) string {
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return string(b)
}
