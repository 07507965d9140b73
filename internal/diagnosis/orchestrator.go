package diagnosis

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"medpilot/config"
	"medpilot/internal/coerce"
	"medpilot/internal/provider"
	"medpilot/internal/telemetry"
)

// SessionStore is the persistence capability the orchestrator is
// parameterized over. The postgres store and the in-memory MemoryStore both
// satisfy it, which is how the persisted and ephemeral pipeline variants
// share one transition core.
type SessionStore interface {
	Create(ctx context.Context, sess *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	ListByUser(ctx context.Context, userID string) ([]*Session, error)
	Update(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, id, userID string) (bool, error)
}

// StepResult reports one ProcessNextStep transition.
type StepResult struct {
	Stage    StageID       `json:"stage"`
	StageKey string        `json:"stage_key"`
	Skipped  bool          `json:"skipped"`
	Streamed bool          `json:"streamed"`
	Response StageResponse `json:"response,omitempty"`
}

// Orchestrator owns the pipeline state machine. One instance serves all
// sessions; per-session state lives on the Session itself plus the streaming
// indicator map.
type Orchestrator struct {
	provider    provider.Provider
	primary     SessionStore
	ephemeral   SessionStore
	logger      *log.Logger
	opts        provider.Options
	settleDelay time.Duration

	mu        sync.RWMutex
	streaming map[string]bool
}

// NewOrchestrator wires the pipeline. primary may be nil when no durable
// store is configured; every session is then ephemeral.
func NewOrchestrator(cfg *config.Config, prov provider.Provider, primary SessionStore, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	ephemeral := NewMemoryStore()
	if primary == nil {
		primary = ephemeral
	}
	return &Orchestrator{
		provider:  prov,
		primary:   primary,
		ephemeral: ephemeral,
		logger:    logger,
		opts: provider.Options{
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			TopP:        cfg.LLM.TopP,
		},
		settleDelay: cfg.Pipeline.SettleDelay,
		streaming:   make(map[string]bool),
	}
}

// StartSession normalizes nothing; it expects canonical input and creates
// the session record. When the durable store is unavailable the session is
// created in memory instead and marked non-durable, so the diagnosis flow
// still completes.
func (o *Orchestrator) StartSession(ctx context.Context, userID string, input UserInput) (*Session, error) {
	sess := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
		Status:      StatusInProgress,
		CurrentStep: int(StageMedicalAnalyst),
		Input:       input,
		Responses:   make(map[string]StageResponse),
		Durable:     true,
	}
	if err := o.primary.Create(ctx, sess); err != nil {
		o.logger.Printf("warn: session %s not durably created, falling back to memory: %v", sess.ID, err)
		telemetry.SessionsNotDurable.Inc()
		sess.Durable = false
		if err := o.ephemeral.Create(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// nextStage is the pure precondition check of the transition table. It never
// mutates the session.
func nextStage(sess *Session) (StageID, error) {
	if sess.Status == StatusCompleted || sess.CurrentStep >= int(StageCount) {
		return 0, ErrSessionCompleted
	}
	stage := StageID(sess.CurrentStep)
	for _, req := range Registry[stage].Requires {
		if _, ok := sess.Response(req); !ok {
			return 0, &PreconditionError{Stage: stage, Missing: req}
		}
	}
	return stage, nil
}

// ProcessNextStep executes exactly one stage transition and persists the
// session. A precondition violation aborts without mutating state. An
// upstream failure leaves current_step unchanged and parks the session in
// the error status until retried.
func (o *Orchestrator) ProcessNextStep(ctx context.Context, sess *Session, cb provider.StreamCallback) (*StepResult, error) {
	stage, err := nextStage(sess)
	if err != nil {
		return nil, err
	}

	// Step-0 special case: without a medical report the Medical Analyst is
	// skipped entirely, not run on empty input.
	if stage == StageMedicalAnalyst && sess.Input.Report == nil {
		sess.CurrentStep = int(StageGeneralPhysician)
		sess.Status = StatusInProgress
		o.persist(ctx, sess)
		telemetry.StageRuns.WithLabelValues(stage.Key(), "skipped").Inc()
		return &StepResult{Stage: stage, StageKey: stage.Key(), Skipped: true}, nil
	}

	if cb != nil {
		o.setStreaming(sess.ID, true)
		// Late chunks may still arrive right after the provider returns;
		// keep the indicator up for a settling window so consumers do not
		// lose them mid-transition.
		defer time.AfterFunc(o.settleDelay, func() { o.setStreaming(sess.ID, false) })
	}

	resp, err := o.runStage(ctx, sess, stage, cb)
	if err != nil {
		sess.Status = StatusError
		sess.LastError = err.Error()
		o.persist(ctx, sess)
		telemetry.StageRuns.WithLabelValues(stage.Key(), "error").Inc()
		return nil, err
	}

	sess.SetResponse(stage, resp)
	sess.CurrentStep = int(stage) + 1
	sess.LastError = ""
	if sess.CurrentStep >= int(StageCount) {
		sess.Status = StatusCompleted
	} else {
		sess.Status = StatusInProgress
	}
	o.persist(ctx, sess)
	telemetry.StageRuns.WithLabelValues(stage.Key(), "ok").Inc()
	return &StepResult{Stage: stage, StageKey: stage.Key(), Streamed: cb != nil, Response: resp}, nil
}

// Run drives a session to completion, one transition at a time.
func (o *Orchestrator) Run(ctx context.Context, sess *Session, cb provider.StreamCallback) error {
	for sess.Status != StatusCompleted {
		if _, err := o.ProcessNextStep(ctx, sess, cb); err != nil {
			if errors.Is(err, ErrSessionCompleted) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Load fetches a session, checking ownership. With autoContinue set, a
// session interrupted between stages is advanced by one step before being
// returned, which recovers runs that crashed mid-pipeline.
func (o *Orchestrator) Load(ctx context.Context, id, userID string, autoContinue bool) (*Session, error) {
	sess, err := o.primary.Get(ctx, id)
	if err != nil {
		sess, err = o.ephemeral.Get(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	if sess.UserID != userID {
		return nil, ErrNotFound
	}
	if autoContinue && sess.Status == StatusInProgress && len(sess.Responses) > 0 && sess.CurrentStep < int(StageCount) {
		if _, err := o.ProcessNextStep(ctx, sess, nil); err != nil {
			o.logger.Printf("warn: auto-continue of session %s failed: %v", id, err)
		}
	}
	return sess, nil
}

// History lists a user's sessions. A store failure degrades to an empty
// history rather than an error; ephemeral sessions are always included.
func (o *Orchestrator) History(ctx context.Context, userID string) []*Session {
	out, err := o.primary.ListByUser(ctx, userID)
	if err != nil {
		o.logger.Printf("warn: listing sessions for user %s failed: %v", userID, err)
		out = nil
	}
	if o.primary != o.ephemeral {
		eph, err := o.ephemeral.ListByUser(ctx, userID)
		if err == nil {
			out = append(out, eph...)
		}
	}
	if out == nil {
		out = []*Session{}
	}
	return out
}

// DeleteSession removes a session the caller owns. Dependent chat history is
// cascaded by the store, not here.
func (o *Orchestrator) DeleteSession(ctx context.Context, id, userID string) (bool, error) {
	ok, err := o.primary.Delete(ctx, id, userID)
	if err != nil {
		o.logger.Printf("warn: deleting session %s failed: %v", id, err)
	}
	if !ok && o.primary != o.ephemeral {
		ok, _ = o.ephemeral.Delete(ctx, id, userID)
	}
	return ok, err
}

// AnalyzeReport runs the Medical Analyst stage on a bare report, outside any
// session. Serves the one-shot analysis endpoint.
func (o *Orchestrator) AnalyzeReport(ctx context.Context, reportText string) (StageResponse, error) {
	if strings.TrimSpace(reportText) == "" {
		return nil, &ValidationError{Field: "medicalReport", Msg: "must not be empty"}
	}
	tmp := &Session{
		Input: UserInput{
			Symptoms: []string{},
			Report:   &MedicalReport{Text: reportText, Name: "report", Type: "text/plain"},
		},
	}
	return o.runStage(ctx, tmp, StageMedicalAnalyst, nil)
}

// IsStreaming reports whether a session currently has an active (or
// settling) stream.
func (o *Orchestrator) IsStreaming(sessionID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.streaming[sessionID]
}

func (o *Orchestrator) setStreaming(sessionID string, v bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v {
		o.streaming[sessionID] = true
	} else {
		delete(o.streaming, sessionID)
	}
}

// runStage is the shared stage processor: build the role prompt, call the
// model, coerce and validate the response.
func (o *Orchestrator) runStage(ctx context.Context, sess *Session, stage StageID, cb provider.StreamCallback) (StageResponse, error) {
	spec := Registry[stage]
	opts := o.opts
	opts.Role = spec.Title

	timer := prometheus.NewTimer(telemetry.StageDuration.WithLabelValues(spec.Key))
	defer timer.ObserveDuration()

	var raw string
	var err error
	if cb != nil {
		raw, err = o.provider.GenerateStream(ctx, spec.System(), userPrompt(sess, stage), opts, cb)
	} else {
		raw, err = o.provider.Generate(ctx, spec.System(), userPrompt(sess, stage), opts)
	}
	if err != nil {
		return nil, err
	}

	obj := coerce.Coerce(raw)
	obj = coerce.EnsureFields(obj, spec.RequiredFields, spec.Defaults)
	return StageResponse(obj), nil
}

// persist writes the session through the active store. A persistence failure
// never aborts the visible diagnosis flow: the orchestrator keeps operating
// on its in-memory copy and flags the session as not durably saved.
func (o *Orchestrator) persist(ctx context.Context, sess *Session) {
	st := o.primary
	if !sess.Durable {
		st = o.ephemeral
	}
	if err := st.Update(ctx, sess); err != nil {
		if !sess.Durable {
			o.logger.Printf("warn: in-memory update of session %s failed: %v", sess.ID, err)
			return
		}
		o.logger.Printf("warn: session %s not durably saved, continuing in memory: %v", sess.ID, err)
		telemetry.SessionsNotDurable.Inc()
		sess.Durable = false
		if cerr := o.ephemeral.Create(ctx, sess); cerr != nil {
			o.logger.Printf("warn: in-memory fallback for session %s failed: %v", sess.ID, cerr)
		}
	}
}
