// Package store persists detection results, token usage, and sender
// baselines behind a driver-agnostic interface.
package store

import (
	"context"
	"time"

	"github.com/telephis/telephis/internal/baseline"
	"github.com/telephis/telephis/internal/model"
)

// DetectionFilter specifies criteria for listing detections.
type DetectionFilter struct {
	Label    model.Label `json:"label,omitempty"`
	ChatID   string      `json:"chat_id,omitempty"`
	SenderID string      `json:"sender_id,omitempty"`
	Limit    int         `json:"limit,omitempty"`
	Offset   int         `json:"offset,omitempty"`
}

// UsageStat is one day's accumulated LLM spend for one stage.
type UsageStat struct {
	Day          string  `json:"day"`
	Stage        string  `json:"stage"`
	Requests     int     `json:"requests"`
	TokensInput  int64   `json:"tokens_input"`
	TokensOutput int64   `json:"tokens_output"`
	CostUSD      float64 `json:"cost_usd"`
}

// Store defines the persistence interface for the detection pipeline.
type Store interface {
	// Detections
	SaveResult(ctx context.Context, result *model.DetectionResult) error
	GetResult(ctx context.Context, id string) (*model.DetectionResult, error)
	ListResults(ctx context.Context, filter DetectionFilter) ([]model.DetectionResult, error)

	// Usage accounting
	RecordUsage(ctx context.Context, day time.Time, stage model.Stage, usage model.TokenUsage, costUSD float64) error
	UsageSince(ctx context.Context, since time.Time) ([]UsageStat, error)

	// Sender baselines
	LoadBaseline(ctx context.Context, senderID string) (*baseline.Accumulator, error)
	SaveBaseline(ctx context.Context, acc *baseline.Accumulator) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const dayFormat = "2006-01-02"
