package ai

import (
	"fmt"
	"net/url"
	"sync"
)

// OllamaSettings is the Ollama endpoint shared by the Ollama service and the
// settings API. It is safe for concurrent use.
type OllamaSettings struct {
	mu      sync.RWMutex
	baseURL string
	model   string
}

func NewOllamaSettings(baseURL, model string) *OllamaSettings {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaSettings{baseURL: baseURL, model: model}
}

func (s *OllamaSettings) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseURL
}

func (s *OllamaSettings) Model() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// Update replaces the endpoint. An empty model keeps the current one.
func (s *OllamaSettings) Update(baseURL, model string) error {
	if err := ValidateOllamaURL(baseURL); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = baseURL
	if model != "" {
		s.model = model
	}
	return nil
}

// ValidateOllamaURL accepts absolute http(s) URLs only.
func ValidateOllamaURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid ollama url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid ollama url %q: want http(s)://host[:port]", raw)
	}
	return nil
}
