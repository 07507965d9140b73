package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockMarker appears in every mock response's role field so callers and tests
// can tell demo output from genuine model output.
const MockMarker = "MOCK"

// Mock is the credential-less demo provider. Output is deterministic for a
// given role so end-to-end tests can drive the full pipeline offline.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Name() string { return "mock" }

func (m *Mock) Generate(ctx context.Context, system, user string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	role := opts.Role
	if role == "" {
		role = "Assistant"
	}
	obj := map[string]any{
		"role":       fmt.Sprintf("%s (%s)", role, MockMarker),
		"summary":    fmt.Sprintf("Demo response generated by the %s role without an upstream model.", role),
		"assessment": fmt.Sprintf("[%s] No real clinical analysis was performed. Configure an API key for genuine output.", MockMarker),
		"disclaimer": "Demo output for evaluation only. This is not medical advice.",
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GenerateStream emits the canned response in small chunks to exercise the
// same callback path as the real provider.
func (m *Mock) GenerateStream(ctx context.Context, system, user string, opts Options, cb StreamCallback) (string, error) {
	full, err := m.Generate(ctx, system, user, opts)
	if err != nil {
		return "", err
	}
	if cb == nil {
		return full, nil
	}
	const chunkSize = 48
	for i := 0; i < len(full); i += chunkSize {
		end := i + chunkSize
		if end > len(full) {
			end = len(full)
		}
		cb(full[i:end], false)
	}
	cb(full, true)
	return full, nil
}

// Speak returns a recognizable placeholder payload instead of real audio.
func (m *Mock) Speak(ctx context.Context, text, voice string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	excerpt := text
	if len(excerpt) > 64 {
		excerpt = excerpt[:64]
	}
	return []byte(fmt.Sprintf("%s-AUDIO voice=%s text=%s", MockMarker, voice, strings.TrimSpace(excerpt))), nil
}
