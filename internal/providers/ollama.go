package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/CorvidLabs/corvid-agent/internal/models"
	"github.com/CorvidLabs/corvid-agent/internal/slots"
)

const (
	defaultOllamaHost = "http://localhost:11434"

	// Local inference can legitimately run for a long time, but a stream
	// that produces no bytes at all has wedged.
	defaultLocalTimeout      = 30 * time.Minute
	defaultStreamIdleTimeout = 2 * time.Minute
)

// OllamaConfig carries the tunables for the local backend.
type OllamaConfig struct {
	Host              string
	NumCtx            int
	NumPredict        int
	NumBatch          int
	RequestTimeout    time.Duration
	StreamIdleTimeout time.Duration
}

func (c *OllamaConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = defaultOllamaHost
	}
	c.Host = strings.TrimRight(c.Host, "/")
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultLocalTimeout
	}
	if c.StreamIdleTimeout <= 0 {
		c.StreamIdleTimeout = defaultStreamIdleTimeout
	}
}

// Ollama adapts the local Ollama HTTP API. Completions are gated through
// the slot scheduler when one is attached.
type Ollama struct {
	cfg    OllamaConfig
	client *http.Client
	sched  *slots.Scheduler
}

// NewOllama builds the local adapter. sched may be nil (tests).
func NewOllama(cfg OllamaConfig, sched *slots.Scheduler) *Ollama {
	cfg.applyDefaults()
	return &Ollama{
		cfg:    cfg,
		client: newHTTPClient(0), // bounded per request via context
		sched:  sched,
	}
}

func (p *Ollama) Name() string { return models.ProviderOllama }

func (p *Ollama) Info() Info {
	return Info{Name: p.Name(), Local: true, BaseURL: p.cfg.Host, Models: modelsFor(p.Name())}
}

// Available reports whether the backend answers its tags endpoint.
func (p *Ollama) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// VRAMBytes sums the VRAM in use across loaded models. It is the slot
// scheduler's GPU probe.
func (p *Ollama) VRAMBytes(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Host+"/api/ps", nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ollama ps failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{Provider: p.Name(), Status: resp.StatusCode, Message: "ps failed"}
	}

	var result struct {
		Models []struct {
			SizeVRAM int64 `json:"size_vram"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to parse ps response: %w", err)
	}

	var sum int64
	for _, m := range result.Models {
		sum += m.SizeVRAM
	}
	return sum, nil
}

func (p *Ollama) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if p.sched != nil {
		release, err := p.sched.Acquire(ctx, req.Model)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	options := map[string]any{"temperature": req.Temperature}
	if p.cfg.NumCtx > 0 {
		options["num_ctx"] = p.cfg.NumCtx
	}
	if p.cfg.NumBatch > 0 {
		options["num_batch"] = p.cfg.NumBatch
	}
	switch {
	case req.MaxTokens > 0:
		options["num_predict"] = req.MaxTokens
	case p.cfg.NumPredict > 0:
		options["num_predict"] = p.cfg.NumPredict
	}

	payload := map[string]any{
		"model":   req.Model,
		"prompt":  req.Prompt,
		"stream":  true,
		"options": options,
	}
	if req.System != "" {
		payload["system"] = req.System
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Host+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Provider: p.Name(), Status: resp.StatusCode, Message: string(body)}
	}

	return p.readStream(cancel, resp.Body)
}

// readStream consumes the NDJSON token stream, cancelling the request when
// no chunk arrives within the idle window.
func (p *Ollama) readStream(cancel context.CancelFunc, body io.Reader) (*CompletionResponse, error) {
	var idleFired atomic.Bool
	idle := time.AfterFunc(p.cfg.StreamIdleTimeout, func() {
		idleFired.Store(true)
		cancel()
	})
	defer idle.Stop()

	var (
		text         strings.Builder
		inputTokens  int
		outputTokens int
		finish       string
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		idle.Reset(p.cfg.StreamIdleTimeout)

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk struct {
			Response        string `json:"response"`
			Done            bool   `json:"done"`
			DoneReason      string `json:"done_reason"`
			PromptEvalCount int    `json:"prompt_eval_count"`
			EvalCount       int    `json:"eval_count"`
			Error           string `json:"error"`
		}
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("failed to parse stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return nil, fmt.Errorf("ollama error: %s", chunk.Error)
		}

		text.WriteString(chunk.Response)
		if chunk.Done {
			inputTokens = chunk.PromptEvalCount
			outputTokens = chunk.EvalCount
			finish = chunk.DoneReason
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if idleFired.Load() {
			return nil, fmt.Errorf("ollama stream idle timeout after %s", p.cfg.StreamIdleTimeout)
		}
		return nil, fmt.Errorf("stream read failed: %w", err)
	}

	return &CompletionResponse{
		Text:         text.String(),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		FinishReason: finish,
	}, nil
}
