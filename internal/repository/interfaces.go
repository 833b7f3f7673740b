package repository

import (
	"context"

	"github.com/openrcv/tally/internal/models"
)

// RunStore is the persistence surface consumed by the session and handler
// layers.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.ContestRun) error
	ListRuns(ctx context.Context) ([]models.RunSummary, error)
	GetRun(ctx context.Context, runID string) (*models.ContestRun, error)
	GetRound(ctx context.Context, runID string, number int) (*models.RoundRecord, error)
	ListAuditEvents(ctx context.Context, runID string, limit, offset int) ([]models.AuditEvent, error)
}
