// Package store persists the dispatcher's durable state in SQLite:
// tenant API keys, completion logs, and a small key-value area for
// operational settings.
package store

import "time"

// TenantKeyRecord is one issued tenant API key. Only the bcrypt hash is
// stored; the prefix narrows lookup before the hash comparison.
type TenantKeyRecord struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"keyPrefix"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	Enabled    bool       `json:"enabled"`
}

// CompletionLog is one dispatched completion, kept for cost accounting.
type CompletionLog struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Level        string    `json:"level"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	CostUSD      float64   `json:"costUsd"`
	LatencyMs    int64     `json:"latencyMs"`
	Status       string    `json:"status"`
}
