package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/CorvidLabs/corvid-agent/internal/models"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"

	defaultCloudTimeout   = 10 * time.Minute
	defaultMaxOutputToken = 4096
)

// Anthropic adapts the Anthropic Messages API.
type Anthropic struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAnthropic builds an Anthropic adapter with the default endpoint.
func NewAnthropic(apiKey string) *Anthropic {
	return &Anthropic{
		apiKey:  apiKey,
		baseURL: anthropicBaseURL,
		client:  newHTTPClient(defaultCloudTimeout),
	}
}

func (p *Anthropic) Name() string { return models.ProviderAnthropic }

func (p *Anthropic) Available(_ context.Context) bool { return p.apiKey != "" }

func (p *Anthropic) Info() Info {
	return Info{Name: p.Name(), BaseURL: p.baseURL, Models: modelsFor(p.Name())}
}

func (p *Anthropic) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxOutputToken
	}

	payload := map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
	}
	if req.System != "" {
		payload["system"] = req.System
	}

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}

	body, err := doJSON(ctx, p.client, p.Name(), p.baseURL+"/messages", headers, payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		StopReason string `json:"stop_reason"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Content) == 0 {
		return nil, fmt.Errorf("no content in response")
	}

	return &CompletionResponse{
		Text:         result.Content[0].Text,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		FinishReason: result.StopReason,
	}, nil
}

// modelsFor lists the pricing-table identifiers served by one provider.
func modelsFor(provider string) []string {
	var ids []string
	for _, m := range models.Table {
		if m.Provider == provider {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
