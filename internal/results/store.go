package results

import (
	"context"
	"time"
)

// Run is a persisted results record for one experiment run.
type Run struct {
	SchemaVersion int       `json:"schema_version"`
	ID            string    `json:"id"`
	Model         string    `json:"model"`
	Epoch         int       `json:"epoch"`
	UpdatedAt     time.Time `json:"updated_at"`
	Train         Snapshot  `json:"train"`
	Eval          Snapshot  `json:"eval"`
}

// Store persists run histories.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	ListRuns(ctx context.Context) ([]string, error)
}
