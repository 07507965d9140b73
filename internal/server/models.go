package server

import "medpilot/internal/diagnosis"

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// DiagnosisRequest is the payload that opens a new diagnosis session. Profile
// fields arrive as strings straight from the intake form; the normalizer
// converts them.
type DiagnosisRequest struct {
	Profile  diagnosis.RawProfile  `json:"profile"`
	Symptoms string                `json:"symptoms"`
	Duration string                `json:"duration"`
	Files    []diagnosis.FileInput `json:"files,omitempty"`

	// Run drives the whole specialist chain in the background instead of
	// waiting for per-step calls.
	Run bool `json:"run,omitempty"`
}

// SessionResponse is the session view returned by the diagnosis endpoints.
type SessionResponse struct {
	*diagnosis.Session
	Streaming bool `json:"streaming"`
}

// AnalyzeRequest is the one-shot report analysis payload.
type AnalyzeRequest struct {
	MedicalReport string `json:"medicalReport"`
}

// TTSRequest asks for synthesized speech of a stage response or summary.
type TTSRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// TTSResponse returns base64 audio in transport-sized chunks.
type TTSResponse struct {
	Voice  string   `json:"voice"`
	Format string   `json:"format"`
	Chunks []string `json:"chunks"`
	Cached bool     `json:"cached"`
}
