package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/CorvidLabs/corvid-agent/internal/fallback"
	"github.com/CorvidLabs/corvid-agent/internal/models"
	"github.com/CorvidLabs/corvid-agent/internal/providers"
	"github.com/CorvidLabs/corvid-agent/internal/router"
	"github.com/CorvidLabs/corvid-agent/internal/store"
)

// CompleteRequest is the JSON body for /api/complete and the websocket.
type CompleteRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// Pinning both skips routing and uses exactly this pair.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// AgentRole lets configured per-role model overrides apply, e.g. the
	// council override for arbiter traffic.
	AgentRole string `json:"agentRole,omitempty"`

	PreferredProvider string  `json:"preferredProvider,omitempty"`
	PreferCloud       bool    `json:"preferCloud,omitempty"`
	MaxOutputPrice    float64 `json:"maxOutputPricePerMillion,omitempty"`
	RequireTools      bool    `json:"requireTools,omitempty"`
	RequireThinking   bool    `json:"requireThinking,omitempty"`
	RequestSubagents  bool    `json:"requestSubagents,omitempty"`
	RequestWebSearch  bool    `json:"requestWebSearch,omitempty"`
}

// CompleteResponse is the dispatch result.
type CompleteResponse struct {
	Content      string  `json:"content"`
	UsedProvider string  `json:"usedProvider"`
	UsedModel    string  `json:"usedModel"`
	Complexity   string  `json:"complexity"`
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
	LatencyMs    int64   `json:"latencyMs"`
}

// dispatch runs estimate, select, and the fallback chain for one request.
func dispatch(ctx context.Context, d Dependencies, req *CompleteRequest) (*CompleteResponse, error) {
	start := time.Now()

	preq := &providers.CompletionRequest{
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var chain []fallback.ChainEntry
	level := ""
	switch {
	case req.Provider != "" && req.Model != "":
		chain = []fallback.ChainEntry{{Provider: req.Provider, Model: req.Model}}
	case req.AgentRole == "council" && d.CouncilModel != "":
		pricing, ok := models.ByID(d.CouncilModel)
		if !ok {
			return nil, &providers.ValidationError{Field: "agentRole", Reason: "configured council model is unknown"}
		}
		chain = []fallback.ChainEntry{{Provider: pricing.Provider, Model: pricing.ID}}
	default:
		selected, est := d.Router.Select(router.Request{
			Prompt:                   req.Prompt,
			RequireTools:             req.RequireTools,
			RequireThinking:          req.RequireThinking,
			RequestSubagents:         req.RequestSubagents,
			RequestWebSearch:         req.RequestWebSearch,
			MaxOutputPricePerMillion: req.MaxOutputPrice,
			PreferredProvider:        req.PreferredProvider,
			PreferCloud:              req.PreferCloud,
		})
		level = string(est.Level)

		chain = append(chain, fallback.ChainEntry{Provider: selected.Provider, Model: selected.ID})
		for _, entry := range router.Chain(d.Router.ChainFor(est.Level, req.PreferCloud)) {
			if entry.Provider == selected.Provider && entry.Model == selected.ID {
				continue
			}
			chain = append(chain, entry)
		}
	}

	res, err := d.Fallback.Complete(ctx, preq, chain)
	if err != nil {
		return nil, err
	}

	cost := 0.0
	if pricing, ok := models.ByID(res.UsedModel); ok {
		cost = models.EstimateCost(pricing, res.InputTokens, res.OutputTokens)
	}
	if d.Metrics != nil && cost > 0 {
		d.Metrics.CostUSD.WithLabelValues(res.UsedModel, res.UsedProvider).Add(cost)
	}

	out := &CompleteResponse{
		Content:      res.Text,
		UsedProvider: res.UsedProvider,
		UsedModel:    res.UsedModel,
		Complexity:   level,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		CostUSD:      cost,
		LatencyMs:    time.Since(start).Milliseconds(),
	}

	if d.Store != nil {
		warnOnErr(d.Logger, "log completion", d.Store.LogCompletion(ctx, store.CompletionLog{
			Timestamp:    start,
			Provider:     out.UsedProvider,
			Model:        out.UsedModel,
			Level:        level,
			InputTokens:  out.InputTokens,
			OutputTokens: out.OutputTokens,
			CostUSD:      cost,
			LatencyMs:    out.LatencyMs,
			Status:       "ok",
		}))
	}
	return out, nil
}

// CompleteHandler serves POST /api/complete.
func CompleteHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Prompt == "" {
			jsonError(w, "prompt required", http.StatusBadRequest)
			return
		}

		res, err := dispatch(r.Context(), d, &req)
		if err != nil {
			var verr *providers.ValidationError
			if errors.As(err, &verr) {
				jsonError(w, verr.Error(), http.StatusBadRequest)
				return
			}
			jsonError(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
