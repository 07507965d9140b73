// Package diagnosis implements the eight-stage specialist pipeline: the data
// model, input normalizer, stage processors and the orchestrating state
// machine. The orchestrator is written once against a SessionStore interface
// so the persisted and ephemeral in-memory modes share one transition core.
package diagnosis

import (
	"encoding/json"
	"time"
)

// Status of a diagnosis session.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// StageID indexes the specialist chain. CurrentStep on a session equals the
// StageID of the next stage to execute; StageCount means all stages are done.
type StageID int

const (
	StageMedicalAnalyst StageID = iota
	StageGeneralPhysician
	StageSpecialistDoctor
	StagePathologist
	StageNutritionist
	StagePharmacist
	StageFollowUpSpecialist
	StageSummarizer
	StageCount
)

// Key returns the snake_case registry key, also used as the store column
// prefix (<key>_response).
func (s StageID) Key() string {
	if s < 0 || s >= StageCount {
		return "unknown"
	}
	return Registry[s].Key
}

// Title returns the human-readable specialist role name.
func (s StageID) Title() string {
	if s < 0 || s >= StageCount {
		return "Unknown"
	}
	return Registry[s].Title
}

// StageResponse is one stage's structured output. Shapes are duck-typed at
// the coercion boundary; by the time a response lands here it is canonical.
type StageResponse map[string]any

// MedicalReport is the optional report payload attached to the user input.
// Exactly one of Text or ImageURL is set, never both: an image is interpreted
// directly by the model, so extracted text alongside it would be ambiguous.
type MedicalReport struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// UserInput is the canonical normalized pipeline input, immutable once a
// session starts. Optional textual fields are always empty strings rather
// than absent so prompt construction stays stable.
type UserInput struct {
	Name              string         `json:"name"`
	Country           string         `json:"country"`
	State             string         `json:"state"`
	City              string         `json:"city"`
	Gender            string         `json:"gender"`
	BirthYear         int            `json:"birth_year,omitempty"`
	Age               int            `json:"age,omitempty"`
	HeightCM          float64        `json:"height_cm,omitempty"`
	WeightKG          float64        `json:"weight_kg,omitempty"`
	BMI               float64        `json:"bmi,omitempty"`
	DietaryPreference string         `json:"dietary_preference"`
	Symptoms          []string       `json:"symptoms"`
	Duration          string         `json:"duration"`
	MedicalHistory    string         `json:"medical_history"`
	Allergies         string         `json:"allergies"`
	Medications       string         `json:"medications"`
	Conditions        string         `json:"conditions"`
	Report            *MedicalReport `json:"medical_report,omitempty"`
}

// Session is the unit of work: one user's run through the specialist chain.
type Session struct {
	ID          string                   `json:"id"`
	UserID      string                   `json:"user_id"`
	CreatedAt   time.Time                `json:"created_at"`
	Status      Status                   `json:"status"`
	CurrentStep int                      `json:"current_step"`
	Input       UserInput                `json:"user_input"`
	Responses   map[string]StageResponse `json:"responses"`

	// Durable is false once the session exists only in process memory,
	// either because the store was unavailable at creation or because an
	// update failed mid-pipeline. Surfaced to callers as a warning.
	Durable bool `json:"durable"`

	// LastError holds the message of the failure that put the session into
	// StatusError. Cleared on the next successful step.
	LastError string `json:"last_error,omitempty"`
}

// Response returns the stored output of a stage, if any.
func (s *Session) Response(id StageID) (StageResponse, bool) {
	if s.Responses == nil {
		return nil, false
	}
	r, ok := s.Responses[id.Key()]
	return r, ok
}

// SetResponse records a stage output.
func (s *Session) SetResponse(id StageID, r StageResponse) {
	if s.Responses == nil {
		s.Responses = make(map[string]StageResponse, int(StageCount))
	}
	s.Responses[id.Key()] = r
}

// Clone returns a deep copy so in-memory store reads never alias the
// orchestrator's working copy.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Responses = make(map[string]StageResponse, len(s.Responses))
	for k, v := range s.Responses {
		b, err := json.Marshal(v)
		if err != nil {
			cp.Responses[k] = v
			continue
		}
		var dup StageResponse
		if err := json.Unmarshal(b, &dup); err != nil {
			cp.Responses[k] = v
			continue
		}
		cp.Responses[k] = dup
	}
	if s.Input.Symptoms != nil {
		cp.Input.Symptoms = append([]string(nil), s.Input.Symptoms...)
	}
	if s.Input.Report != nil {
		r := *s.Input.Report
		cp.Input.Report = &r
	}
	return &cp
}
