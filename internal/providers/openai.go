package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/CorvidLabs/corvid-agent/internal/models"
)

const openaiBaseURL = "https://api.openai.com/v1"

// OpenAI adapts the OpenAI Chat Completions API.
type OpenAI struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAI builds an OpenAI adapter with the default endpoint.
func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		apiKey:  apiKey,
		baseURL: openaiBaseURL,
		client:  newHTTPClient(defaultCloudTimeout),
	}
}

func (p *OpenAI) Name() string { return models.ProviderOpenAI }

func (p *OpenAI) Available(_ context.Context) bool { return p.apiKey != "" }

func (p *OpenAI) Info() Info {
	return Info{Name: p.Name(), BaseURL: p.baseURL, Models: modelsFor(p.Name())}
}

func (p *OpenAI) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	messages := make([]map[string]string, 0, 2)
	if req.System != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.System})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	payload := map[string]any{
		"model":       req.Model,
		"messages":    messages,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		payload["max_completion_tokens"] = req.MaxTokens
	}

	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}

	body, err := doJSON(ctx, p.client, p.Name(), p.baseURL+"/chat/completions", headers, payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &CompletionResponse{
		Text:         result.Choices[0].Message.Content,
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
		FinishReason: result.Choices[0].FinishReason,
	}, nil
}
