package ai

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType // "openai", "gemini", "ollama" or "auto"

	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	EmbeddingModel string

	GeminiAPIKey         string
	GeminiModel          string
	GeminiEmbeddingModel string

	// Ollama may be repointed at runtime through the settings API
	Ollama *OllamaSettings

	Log zerolog.Logger
}

func (cfg Config) ollama() *OllamaService {
	if cfg.Ollama == nil {
		return NewOllamaService("", "")
	}
	return NewOllamaServiceFromSettings(cfg.Ollama)
}

func (cfg Config) gemini() *GeminiService {
	return NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiEmbeddingModel)
}

func (cfg Config) openai() *OpenAIService {
	return NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.EmbeddingModel, cfg.Log)
}

// NewClassifier creates a Classifier based on the config.
// Switch AI provider by changing config.Provider
func NewClassifier(cfg Config) (Classifier, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider")
		}
		return cfg.openai(), nil

	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return cfg.gemini(), nil

	case ProviderOllama:
		return cfg.ollama(), nil

	default:
		if cfg.OpenAIAPIKey != "" {
			return NewFallbackService(cfg.openai(), cfg.ollama(), cfg.Log), nil
		}
		return cfg.ollama(), nil
	}
}

// NewEmbedder picks exactly one embedding provider. Vectors produced by
// different models must never share an index.
func NewEmbedder(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return cfg.ollama(), nil
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI provider")
		}
		return cfg.openai(), nil
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return cfg.gemini(), nil
	default:
		if cfg.OpenAIAPIKey != "" {
			return cfg.openai(), nil
		}
		return cfg.ollama(), nil
	}
}
