package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiService implements Classifier and Embedder over the Gemini REST API.
type GeminiService struct {
	apiKey         string
	model          string
	embeddingModel string
	baseURL        string
	http           *http.Client
}

func NewGeminiService(apiKey, model, embeddingModel string) *GeminiService {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if embeddingModel == "" {
		embeddingModel = "text-embedding-004"
	}
	return &GeminiService{
		apiKey:         apiKey,
		model:          model,
		embeddingModel: embeddingModel,
		baseURL:        geminiBaseURL,
		http:           &http.Client{Timeout: 60 * time.Second},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

// Classify implements Classifier. JSON mode is requested through the
// response MIME type.
func (g *GeminiService) Classify(ctx context.Context, req ClassificationRequest) (*Classification, error) {
	payload := map[string]interface{}{
		"systemInstruction": geminiContent{Parts: []geminiPart{{Text: req.SystemInstructions}}},
		"contents":          []geminiContent{{Parts: []geminiPart{{Text: req.EmailContent}}}},
		"generationConfig": map[string]interface{}{
			"temperature":      0.1,
			"responseMimeType": "application/json",
		},
	}

	var result struct {
		Candidates []struct {
			Content geminiContent `json:"content"`
		} `json:"candidates"`
	}
	if err := g.post(ctx, g.model+":generateContent", payload, &result); err != nil {
		return nil, err
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no candidates returned", ErrMalformedResponse)
	}
	return ParseClassification(result.Candidates[0].Content.Parts[0].Text)
}

// Embed implements Embedder
func (g *GeminiService) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]interface{}{
		"content": geminiContent{Parts: []geminiPart{{Text: text}}},
	}
	var result struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := g.post(ctx, g.embeddingModel+":embedContent", payload, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini returned an empty embedding")
	}
	return result.Embedding.Values, nil
}

func (g *GeminiService) post(ctx context.Context, method string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := g.baseURL + "/models/" + method + "?key=" + url.QueryEscape(g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read gemini response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gemini API error (%d): %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode gemini response: %w", err)
	}
	return nil
}
