package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"medpilot/config"
	"medpilot/internal/provider"
)

func testTTSConfig() config.TTSConfig {
	return config.TTSConfig{DefaultVoice: "alloy", CacheTTL: time.Hour, ChunkSize: 16}
}

func TestSpeakRejectsEmptyText(t *testing.T) {
	e := echo.New()
	h := NewTTSHandler(provider.NewMock(), nil, testTTSConfig())

	req := jsonRequest(http.MethodPost, "/api/tts", `{"text":"  "}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	err := h.Speak(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %#v", err)
	}
}

func TestSpeakChunksAudio(t *testing.T) {
	e := echo.New()
	h := NewTTSHandler(provider.NewMock(), nil, testTTSConfig())

	req := jsonRequest(http.MethodPost, "/api/tts", `{"text":"drink plenty of fluids"}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := h.Speak(ctx); err != nil {
		t.Fatalf("speak: %v", err)
	}
	var resp TTSResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Voice != "alloy" || resp.Cached {
		t.Fatalf("unexpected response envelope: %+v", resp)
	}
	if len(resp.Chunks) < 2 {
		t.Fatalf("expected chunked audio, got %d chunks", len(resp.Chunks))
	}
	for i, chunk := range resp.Chunks[:len(resp.Chunks)-1] {
		if len(chunk) != 16 {
			t.Fatalf("chunk %d has length %d", i, len(chunk))
		}
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.Join(resp.Chunks, ""))
	if err != nil {
		t.Fatalf("chunks do not reassemble into base64: %v", err)
	}
	if !strings.Contains(string(decoded), provider.MockMarker) {
		t.Fatalf("expected mock audio payload, got %q", decoded)
	}
}

func TestChunkString(t *testing.T) {
	got := chunkString("abcdefg", 3)
	want := []string{"abc", "def", "g"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if got := chunkString("ab", 0); len(got) != 1 || got[0] != "ab" {
		t.Fatalf("zero size must return whole string, got %v", got)
	}
}
