package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"medpilot/internal/diagnosis"
	"medpilot/internal/provider"
	"medpilot/internal/runtime"
)

// DiagnosisHandler exposes the specialist pipeline over HTTP.
type DiagnosisHandler struct {
	Orch   *diagnosis.Orchestrator
	logger *log.Logger
}

func NewDiagnosisHandler(orch *diagnosis.Orchestrator) *DiagnosisHandler {
	return &DiagnosisHandler{
		Orch:   orch,
		logger: log.New(log.Writer(), "[DIAG] ", log.LstdFlags),
	}
}

func (h *DiagnosisHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/step", h.step)
	g.DELETE("/:id", h.remove)
}

func (h *DiagnosisHandler) create(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req DiagnosisRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	input, err := diagnosis.Normalize(userID, req.Profile, diagnosis.SymptomForm{
		Symptoms: req.Symptoms,
		Duration: req.Duration,
	}, req.Files)
	if err != nil {
		var verr *diagnosis.ValidationError
		if errors.As(err, &verr) {
			return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	sess, err := h.Orch.StartSession(c.Request().Context(), userID, input)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if req.Run {
		// drive the whole chain in the background, same shape as a
		// scheduler-triggered run. The goroutine mutates sess as stages
		// complete; the response marshals a snapshot taken before it starts.
		snapshot := sess.Clone()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
			defer cancel()
			if err := h.Orch.Run(ctx, sess, nil); err != nil {
				h.logger.Printf("background run of session %s stopped: %v", sess.ID, err)
			}
		}()
		return c.JSON(http.StatusCreated, SessionResponse{Session: snapshot})
	}
	return c.JSON(http.StatusCreated, SessionResponse{Session: sess})
}

func (h *DiagnosisHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	return c.JSON(http.StatusOK, h.Orch.History(c.Request().Context(), userID))
}

func (h *DiagnosisHandler) get(c echo.Context) error {
	userID := c.Get("user_id").(string)
	id := c.Param("id")
	autoContinue := false
	if v := c.QueryParam("continue"); v != "" {
		autoContinue, _ = strconv.ParseBool(v)
	}
	sess, err := h.Orch.Load(c.Request().Context(), id, userID, autoContinue)
	if err != nil {
		if errors.Is(err, diagnosis.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SessionResponse{Session: sess, Streaming: h.Orch.IsStreaming(id)})
}

func (h *DiagnosisHandler) step(c echo.Context) error {
	userID := c.Get("user_id").(string)
	id := c.Param("id")
	sess, err := h.Orch.Load(c.Request().Context(), id, userID, false)
	if err != nil {
		if errors.Is(err, diagnosis.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if stream, _ := strconv.ParseBool(c.QueryParam("stream")); stream {
		return h.streamStep(c, sess)
	}

	res, err := h.Orch.ProcessNextStep(c.Request().Context(), sess, nil)
	if err != nil {
		return stepError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// streamStep runs one transition while relaying model output as Server-Sent
// Events, finishing with the coerced structured result.
func (h *DiagnosisHandler) streamStep(c echo.Context, sess *diagnosis.Session) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}

	writeEvent := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		_, _ = resp.Write([]byte("event: " + event + "\n"))
		_, _ = resp.Write([]byte("data: " + string(data) + "\n\n"))
		flusher.Flush()
	}

	cb := func(chunk string, done bool) {
		if done {
			return
		}
		writeEvent("chunk", map[string]string{"text": chunk})
	}

	res, err := h.Orch.ProcessNextStep(c.Request().Context(), sess, cb)
	if err != nil {
		// headers are already committed, so the error travels in-band
		writeEvent("error", map[string]string{"error": err.Error()})
		return nil
	}
	writeEvent("result", res)
	return nil
}

func (h *DiagnosisHandler) remove(c echo.Context) error {
	userID := c.Get("user_id").(string)
	ok, err := h.Orch.DeleteSession(c.Request().Context(), c.Param("id"), userID)
	if err != nil && !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// Analyze runs the report-analysis stage outside any session.
func (h *DiagnosisHandler) Analyze(c echo.Context) error {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp, err := h.Orch.AnalyzeReport(c.Request().Context(), req.MedicalReport)
	if err != nil {
		return stepError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func stepError(err error) error {
	var verr *diagnosis.ValidationError
	var perr *diagnosis.PreconditionError
	var uerr *provider.UpstreamError
	switch {
	case errors.Is(err, diagnosis.ErrSessionCompleted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &perr):
		return echo.NewHTTPError(http.StatusConflict, perr.Error())
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.As(err, &uerr):
		return echo.NewHTTPError(http.StatusBadGateway, uerr.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
