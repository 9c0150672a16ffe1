// Package store persists build telemetry so past context builds can be
// inspected and audited.
package store

import (
	"context"
	"time"

	"github.com/gridwise/sheetctx/internal/contextbuild"
)

// BuildRecord is one persisted context build.
type BuildRecord struct {
	ID           string                  `json:"id"`
	WorkbookID   string                  `json:"workbookId"`
	Mode         string                  `json:"mode"`
	Model        string                  `json:"model"`
	PromptTokens int                     `json:"promptTokens"`
	Cancelled    bool                    `json:"cancelled"`
	Error        string                  `json:"error,omitempty"`
	Stats        contextbuild.BuildStats `json:"stats"`
	CreatedAt    time.Time               `json:"createdAt"`
}

// BuildFilter narrows ListBuilds.
type BuildFilter struct {
	WorkbookID string
	Mode       string
	FailedOnly bool
	Limit      int
	Offset     int
}

// Store is the build-log contract.
type Store interface {
	RecordBuild(ctx context.Context, stats contextbuild.BuildStats) error
	GetBuild(ctx context.Context, buildID string) (*BuildRecord, error)
	ListBuilds(ctx context.Context, filter BuildFilter) ([]BuildRecord, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}
