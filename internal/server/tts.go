package server

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"medpilot/config"
	"medpilot/internal/provider"
)

// TTSHandler synthesizes speech for diagnosis summaries. Audio is cached in
// redis keyed by a content hash of voice+text, so repeated playback of the
// same summary never hits the upstream speech endpoint twice.
type TTSHandler struct {
	Provider provider.Provider
	Rdb      *redis.Client
	Cfg      config.TTSConfig
	logger   *log.Logger
}

func NewTTSHandler(p provider.Provider, rdb *redis.Client, cfg config.TTSConfig) *TTSHandler {
	return &TTSHandler{
		Provider: p,
		Rdb:      rdb,
		Cfg:      cfg,
		logger:   log.New(log.Writer(), "[TTS] ", log.LstdFlags),
	}
}

func (h *TTSHandler) Speak(c echo.Context) error {
	var req TTSRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text required")
	}
	voice := req.Voice
	if voice == "" {
		voice = h.Cfg.DefaultVoice
	}

	ctx := c.Request().Context()
	key := "tts:" + contentHash(voice, text)

	if h.Rdb != nil {
		if cached, err := h.Rdb.Get(ctx, key).Result(); err == nil {
			return c.JSON(http.StatusOK, TTSResponse{
				Voice:  voice,
				Format: "mp3",
				Chunks: chunkString(cached, h.Cfg.ChunkSize),
				Cached: true,
			})
		}
	}

	audio, err := h.Provider.Speak(ctx, text, voice)
	if err != nil {
		return stepError(err)
	}
	encoded := base64.StdEncoding.EncodeToString(audio)

	if h.Rdb != nil {
		if err := h.Rdb.Set(ctx, key, encoded, h.Cfg.CacheTTL).Err(); err != nil {
			h.logger.Printf("warn: caching audio for %s failed: %v", key, err)
		}
	}
	return c.JSON(http.StatusOK, TTSResponse{
		Voice:  voice,
		Format: "mp3",
		Chunks: chunkString(encoded, h.Cfg.ChunkSize),
	})
}

func contentHash(voice, text string) string {
	sum := sha256.Sum256([]byte(voice + "|" + text))
	return hex.EncodeToString(sum[:])
}

func chunkString(s string, size int) []string {
	if size <= 0 {
		return []string{s}
	}
	out := make([]string, 0, len(s)/size+1)
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	return append(out, s)
}
