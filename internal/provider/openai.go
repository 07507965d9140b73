package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"medpilot/config"
	"medpilot/internal/telemetry"
)

// OpenAI talks to any OpenAI-compatible chat-completions endpoint.
type OpenAI struct {
	cfg    config.LLMConfig
	client *http.Client
}

func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *OpenAI) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// Generate performs a blocking chat-completion call.
func (p *OpenAI) Generate(ctx context.Context, system, user string, opts Options) (string, error) {
	resp, err := p.post(ctx, "/chat/completions", chatRequest{
		Model:       p.cfg.Model,
		Messages:    buildMessages(system, user),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
	})
	if err != nil {
		telemetry.UpstreamRequests.WithLabelValues(p.Name(), "error").Inc()
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		telemetry.UpstreamRequests.WithLabelValues(p.Name(), "error").Inc()
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		telemetry.UpstreamRequests.WithLabelValues(p.Name(), "error").Inc()
		return "", &UpstreamError{Status: resp.StatusCode, Body: "no choices in response"}
	}
	telemetry.UpstreamRequests.WithLabelValues(p.Name(), "ok").Inc()
	return out.Choices[0].Message.Content, nil
}

// GenerateStream performs a streaming call, invoking cb per delta chunk and a
// final time with the accumulated text and done=true.
func (p *OpenAI) GenerateStream(ctx context.Context, system, user string, opts Options, cb StreamCallback) (string, error) {
	if cb == nil {
		return p.Generate(ctx, system, user, opts)
	}
	resp, err := p.post(ctx, "/chat/completions", chatRequest{
		Model:       p.cfg.Model,
		Messages:    buildMessages(system, user),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
		Stream:      true,
	})
	if err != nil {
		telemetry.UpstreamRequests.WithLabelValues(p.Name(), "error").Inc()
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var delta struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			continue
		}
		for _, ch := range delta.Choices {
			if ch.Delta.Content == "" {
				continue
			}
			full.WriteString(ch.Delta.Content)
			cb(ch.Delta.Content, false)
		}
	}
	if err := scanner.Err(); err != nil {
		telemetry.UpstreamRequests.WithLabelValues(p.Name(), "error").Inc()
		return "", fmt.Errorf("read stream: %w", err)
	}
	telemetry.UpstreamRequests.WithLabelValues(p.Name(), "ok").Inc()
	cb(full.String(), true)
	return full.String(), nil
}

// Speak synthesizes speech for the TTS endpoint.
func (p *OpenAI) Speak(ctx context.Context, text, voice string) ([]byte, error) {
	resp, err := p.post(ctx, "/audio/speech", map[string]any{
		"model": p.cfg.SpeechModel,
		"input": text,
		"voice": voice,
	})
	if err != nil {
		telemetry.UpstreamRequests.WithLabelValues(p.Name(), "error").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	telemetry.UpstreamRequests.WithLabelValues(p.Name(), "ok").Inc()
	return audio, nil
}

// post sends the request and normalizes transport and non-2xx failures into
// *UpstreamError.
func (p *OpenAI) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		// Timeouts and connection failures carry status 0.
		return nil, &UpstreamError{Status: 0, Body: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: truncateBody(b)}
	}
	return resp, nil
}

func buildMessages(system, user string) []chatMessage {
	msgs := make([]chatMessage, 0, 2)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: user})
	return msgs
}
