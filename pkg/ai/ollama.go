package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// OllamaService implements Classifier and Embedder using a local Ollama server
type OllamaService struct {
	getBaseURL func() string // Dynamic getter for BaseURL
	getModel   func() string // Dynamic getter for Model
	http       *http.Client
}

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3"
)

// NewOllamaService creates a new Ollama service
func NewOllamaService(baseURL, model string) *OllamaService {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return NewOllamaServiceWithGetters(
		func() string { return baseURL },
		func() string { return model },
	)
}

// NewOllamaServiceFromSettings follows settings as they are updated.
func NewOllamaServiceFromSettings(settings *OllamaSettings) *OllamaService {
	return NewOllamaServiceWithGetters(settings.BaseURL, settings.Model)
}

// NewOllamaServiceWithGetters creates a new Ollama service with dynamic getters
// so the endpoint can be changed at runtime from the settings API.
func NewOllamaServiceWithGetters(getBaseURL, getModel func() string) *OllamaService {
	return &OllamaService{
		getBaseURL: getBaseURL,
		getModel:   getModel,
		http:       &http.Client{Timeout: 120 * time.Second},
	}
}

// Classify implements Classifier. Ollama's JSON format mode constrains the
// output to valid JSON; the schema itself comes from the instructions.
func (o *OllamaService) Classify(ctx context.Context, req ClassificationRequest) (*Classification, error) {
	payload := map[string]interface{}{
		"model":  o.getModel(),
		"system": req.SystemInstructions,
		"prompt": req.EmailContent,
		"format": "json",
		"stream": false,
		"options": map[string]interface{}{
			"temperature": 0.1,
		},
	}

	var result struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
	}
	if err := o.post(ctx, "/api/generate", payload, &result); err != nil {
		return nil, err
	}
	return ParseClassification(result.Response)
}

// Embed implements Embedder
func (o *OllamaService) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]interface{}{
		"model":  o.getModel(),
		"prompt": text,
	}
	var result struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := o.post(ctx, "/api/embeddings", payload, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// Ping checks that the configured server answers, used by the settings API.
func (o *OllamaService) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.getBaseURL()+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama API error (%d)", resp.StatusCode)
	}
	return nil
}

func (o *OllamaService) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.getBaseURL()+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
