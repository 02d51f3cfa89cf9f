package ai

import (
	"context"
	"errors"
	"fmt"

	"jobtrack-backend/pkg/breaker"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// OpenAIService classifies with chat completions in JSON mode and embeds
// with the embeddings endpoint.
type OpenAIService struct {
	client         *openai.Client
	model          string
	embeddingModel string
	cb             *gobreaker.CircuitBreaker
}

func NewOpenAIService(apiKey, baseURL, model, embeddingModel string, log zerolog.Logger) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIService{
		client:         openai.NewClientWithConfig(cfg),
		model:          model,
		embeddingModel: embeddingModel,
		cb:             breaker.New("openai", log),
	}
}

func (s *OpenAIService) Classify(ctx context.Context, req ClassificationRequest) (*Classification, error) {
	result, err := s.cb.Execute(func() (interface{}, error) {
		resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: s.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: req.SystemInstructions},
				{Role: openai.ChatMessageRoleUser, Content: req.EmailContent},
			},
			Temperature: 0.1,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("openai chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%w: no choices returned", ErrMalformedResponse)
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return nil, err
	}
	return ParseClassification(result.(string))
}

func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := s.cb.Execute(func() (interface{}, error) {
		resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(s.embeddingModel),
		})
		if err != nil {
			return nil, fmt.Errorf("openai embeddings failed: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, errors.New("openai embeddings returned no data")
		}
		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}
