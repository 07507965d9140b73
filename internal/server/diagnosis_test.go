package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"medpilot/config"
	"medpilot/internal/diagnosis"
	"medpilot/internal/provider"
)

func newTestHandler() *DiagnosisHandler {
	cfg := &config.Config{
		LLM:      config.LLMConfig{}.Normalize(),
		Pipeline: config.PipelineConfig{SettleDelay: time.Millisecond},
	}
	logger := log.New(io.Discard, "", 0)
	orch := diagnosis.NewOrchestrator(cfg, provider.NewMock(), diagnosis.NewMemoryStore(), logger)
	return NewDiagnosisHandler(orch)
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestCreateDiagnosisRejectsEmptySymptoms(t *testing.T) {
	e := echo.New()
	h := newTestHandler()

	req := jsonRequest(http.MethodPost, "/api/diagnosis", `{"symptoms":" , "}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")

	err := h.create(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 error, got %#v", err)
	}
}

func TestCreateDiagnosisReturnsSession(t *testing.T) {
	e := echo.New()
	h := newTestHandler()

	req := jsonRequest(http.MethodPost, "/api/diagnosis", `{
		"profile": {"gender":"Female","age":"28","height_cm":"165","weight_kg":"58.5"},
		"symptoms": "fever, sore throat",
		"duration": "3 days"
	}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")

	if err := h.create(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201 got %d", rec.Code)
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" || resp.Status != diagnosis.StatusInProgress {
		t.Fatalf("unexpected session: %+v", resp.Session)
	}
	if resp.Input.BMI != 21.5 {
		t.Fatalf("expected BMI 21.5, got %v", resp.Input.BMI)
	}
	if !resp.Durable {
		t.Fatalf("memory-backed session should still report durable through its store")
	}
}

func TestCreateWithRunReturnsSnapshotAndCompletesInBackground(t *testing.T) {
	e := echo.New()
	h := newTestHandler()

	req := jsonRequest(http.MethodPost, "/api/diagnosis", `{"symptoms":"fever","duration":"1 day","run":true}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")

	if err := h.create(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	// The body is the pre-run snapshot, untouched by the goroutine.
	if resp.CurrentStep != 0 || resp.Status != diagnosis.StatusInProgress {
		t.Fatalf("expected step-0 snapshot, got status %s step %d", resp.Status, resp.CurrentStep)
	}
	if len(resp.Responses) != 0 {
		t.Fatalf("snapshot must not carry stage responses: %v", resp.Responses)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		loaded, err := h.Orch.Load(context.Background(), resp.ID, "user-1", false)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if loaded.Status == diagnosis.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("background run did not complete, status %s step %d", loaded.Status, loaded.CurrentStep)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStepDrivesSessionToCompletion(t *testing.T) {
	e := echo.New()
	h := newTestHandler()

	sess := startSession(t, e, h, "user-1")
	for i := 0; i < int(diagnosis.StageCount); i++ {
		req := jsonRequest(http.MethodPost, "/api/diagnosis/"+sess.ID+"/step", "")
		rec := httptest.NewRecorder()
		ctx := e.NewContext(req, rec)
		ctx.Set("user_id", "user-1")
		ctx.SetParamNames("id")
		ctx.SetParamValues(sess.ID)
		if err := h.step(ctx); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("step %d: expected 200 got %d", i, rec.Code)
		}
	}

	// one more step on a completed session conflicts
	req := jsonRequest(http.MethodPost, "/api/diagnosis/"+sess.ID+"/step", "")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	ctx.SetParamNames("id")
	ctx.SetParamValues(sess.ID)
	err := h.step(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409 on completed session, got %#v", err)
	}
}

func TestGetForeignSessionIsNotFound(t *testing.T) {
	e := echo.New()
	h := newTestHandler()

	sess := startSession(t, e, h, "owner")

	req := httptest.NewRequest(http.MethodGet, "/api/diagnosis/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "intruder")
	ctx.SetParamNames("id")
	ctx.SetParamValues(sess.ID)

	err := h.get(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign session, got %#v", err)
	}
}

func TestDeleteDiagnosisOwnership(t *testing.T) {
	e := echo.New()
	h := newTestHandler()

	sess := startSession(t, e, h, "owner")

	req := httptest.NewRequest(http.MethodDelete, "/api/diagnosis/"+sess.ID, nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "intruder")
	ctx.SetParamNames("id")
	ctx.SetParamValues(sess.ID)
	err := h.remove(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign delete, got %#v", err)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/diagnosis/"+sess.ID, nil)
	rec = httptest.NewRecorder()
	ctx = e.NewContext(req, rec)
	ctx.Set("user_id", "owner")
	ctx.SetParamNames("id")
	ctx.SetParamValues(sess.ID)
	if err := h.remove(ctx); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
}

func TestAnalyzeValidatesReport(t *testing.T) {
	e := echo.New()
	h := newTestHandler()

	req := jsonRequest(http.MethodPost, "/api/analyze", `{"medicalReport":"  "}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	err := h.Analyze(ctx)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty report, got %#v", err)
	}

	req = jsonRequest(http.MethodPost, "/api/analyze", `{"medicalReport":"Hemoglobin 10.1 g/dL"}`)
	rec = httptest.NewRecorder()
	ctx = e.NewContext(req, rec)
	ctx.Set("user_id", "user-1")
	if err := h.Analyze(ctx); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["summary"] == nil || resp["disclaimer"] == nil {
		t.Fatalf("missing analysis fields: %v", resp)
	}
}

func TestListDegradesToEmpty(t *testing.T) {
	e := echo.New()
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/diagnosis", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", "nobody")

	if err := h.list(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func startSession(t *testing.T, e *echo.Echo, h *DiagnosisHandler, userID string) *diagnosis.Session {
	t.Helper()
	req := jsonRequest(http.MethodPost, "/api/diagnosis", `{"symptoms":"fever","duration":"1 day"}`)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.Set("user_id", userID)
	if err := h.create(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}
	var resp SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return resp.Session
}
