// Package store defines the durable aggregation store interface.
package store

import (
	"context"
	"time"

	"github.com/mindloop/trendd/internal/model"
)

// Store is the durable side of the pipeline: daily edge counts rolled up
// from the counter buckets, precomputed windowed scores, and the ranking
// queries served when the ranked cache misses.
type Store interface {
	// UpsertDailyEdges folds one day's add and view count maps into the
	// daily edge table, overwriting prior counts for the same edges. It
	// returns the number of edges written.
	UpsertDailyEdges(ctx context.Context, date time.Time, adds, views model.CountMap) (int, error)

	// RebuildEdgeScores recomputes the 7-day and 30-day weighted scores
	// for every edge with activity in the 30-day window ending at now. It
	// returns the number of score rows written.
	RebuildEdgeScores(ctx context.Context, now time.Time) (int64, error)

	// GlobalTop ranks child keywords across all parents for the period.
	GlobalTop(ctx context.Context, period model.Period, limit int) ([]model.KeywordScore, error)
	// ParentTop ranks child keywords under one parent for the period.
	ParentTop(ctx context.Context, parent string, period model.Period, limit int) ([]model.KeywordScore, error)
	// SearchTop ranks child keywords whose name contains the substring.
	SearchTop(ctx context.Context, keyword string, period model.Period, limit int) ([]model.KeywordScore, error)

	// GetBatchCursor and SetBatchCursor record batch job progress.
	GetBatchCursor(ctx context.Context, jobName string) (*model.BatchCursor, error)
	SetBatchCursor(ctx context.Context, jobName, position string) error

	// PruneDailyEdges removes daily edge rows older than cutoff and
	// returns the number removed.
	PruneDailyEdges(ctx context.Context, cutoff time.Time) (int64, error)

	// ExportScores returns every edge score row, for snapshot export.
	ExportScores(ctx context.Context) ([]model.EdgeScore, error)

	Close() error
}
