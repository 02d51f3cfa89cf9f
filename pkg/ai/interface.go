package ai

import (
	"context"
	"errors"
)

// ErrMalformedResponse is returned when the model output does not satisfy
// the classification schema.
var ErrMalformedResponse = errors.New("malformed classification response")

// ApplicationStatuses are the only status values a model may return.
var ApplicationStatuses = []string{
	"Acknowledged",
	"InterviewRequested",
	"Proceed",
	"OfferExtended",
	"Complete",
	"Rejected",
}

// ApplicationSignal is one (company, role, status) tuple found in an email.
type ApplicationSignal struct {
	CompanyTitle      string  `json:"company_title"`
	JobTitle          string  `json:"job_title"`
	Confidence        float64 `json:"confidence"`
	ApplicationStatus string  `json:"application_status"`
}

type Classification struct {
	IsJobApplication bool                `json:"is_job_application"`
	Applications     []ApplicationSignal `json:"applications"`

	// Skipped counts tuples dropped for naming no company.
	Skipped int `json:"-"`
}

type ClassificationRequest struct {
	SystemInstructions string
	EmailContent       string
}

// Classifier is implemented by every LLM provider (OpenAI, Ollama, ...).
type Classifier interface {
	Classify(ctx context.Context, req ClassificationRequest) (*Classification, error)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderType represents the AI provider type
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
	ProviderGemini ProviderType = "gemini"
	ProviderAuto   ProviderType = "auto"
)
