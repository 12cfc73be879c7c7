package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mindloop/trendd/internal/model"
	"github.com/mindloop/trendd/internal/timekey"
)

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scoreColumn maps a period to its score column. The period is validated
// here so it can never reach the SQL text unchecked.
func scoreColumn(period model.Period) (string, error) {
	switch period {
	case model.Period7d:
		return "score_7d", nil
	case model.Period30d:
		return "score_30d", nil
	default:
		return "", fmt.Errorf("unknown period %q", period)
	}
}

const upsertDailyEdgeSQL = `
	INSERT INTO trend_edge_daily (d, parent_kw, child_kw, add_cnt, view_cnt)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (d, parent_kw, child_kw)
	DO UPDATE SET add_cnt = EXCLUDED.add_cnt, view_cnt = EXCLUDED.view_cnt`

// queryUpsertDailyEdges writes the merged count maps in one transaction so
// a day's snapshot lands atomically.
func queryUpsertDailyEdges(ctx context.Context, db *sql.DB, date time.Time, adds, views model.CountMap) (int, error) {
	merged := model.MergeCounts(adds, views)
	if len(merged) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertDailyEdgeSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	day := timekey.DayKey(date)
	written := 0
	for parent, children := range merged {
		for child, pair := range children {
			if _, err := stmt.ExecContext(ctx, day, parent, child, pair.Add, pair.View); err != nil {
				return 0, fmt.Errorf("upsert edge %s/%s: %w", parent, child, err)
			}
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// queryRebuildEdgeScores recomputes both windowed scores in a single
// INSERT..SELECT pass over the 30-day window. Adds weigh 3, views 1.
func queryRebuildEdgeScores(ctx context.Context, db executor, now time.Time) (int64, error) {
	day7 := timekey.DayKey(now.AddDate(0, 0, -6))
	day30 := timekey.DayKey(now.AddDate(0, 0, -29))

	res, err := db.ExecContext(ctx, `
		INSERT INTO trend_edge_score (parent_kw, child_kw, score_7d, score_30d, updated_at)
		SELECT parent_kw, child_kw,
			COALESCE(SUM(CASE WHEN d >= $1 THEN add_cnt * 3 + view_cnt ELSE 0 END), 0),
			COALESCE(SUM(add_cnt * 3 + view_cnt), 0),
			NOW()
		FROM trend_edge_daily
		WHERE d >= $2
		GROUP BY parent_kw, child_kw
		ON CONFLICT (parent_kw, child_kw)
		DO UPDATE SET score_7d = EXCLUDED.score_7d,
			score_30d = EXCLUDED.score_30d,
			updated_at = EXCLUDED.updated_at`,
		day7, day30)
	if err != nil {
		return 0, fmt.Errorf("rebuild edge scores: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func scanKeywordScores(rows *sql.Rows) ([]model.KeywordScore, error) {
	defer rows.Close()
	var out []model.KeywordScore
	for rows.Next() {
		var ks model.KeywordScore
		if err := rows.Scan(&ks.Keyword, &ks.Score); err != nil {
			return nil, fmt.Errorf("scan keyword score: %w", err)
		}
		out = append(out, ks)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyword scores: %w", err)
	}
	return out, nil
}

func queryGlobalTop(ctx context.Context, db executor, period model.Period, limit int) ([]model.KeywordScore, error) {
	col, err := scoreColumn(period)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT child_kw, SUM(`+col+`) AS score
		FROM trend_edge_score
		GROUP BY child_kw
		HAVING SUM(`+col+`) > 0
		ORDER BY score DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("global top: %w", err)
	}
	return scanKeywordScores(rows)
}

func queryParentTop(ctx context.Context, db executor, parent string, period model.Period, limit int) ([]model.KeywordScore, error) {
	col, err := scoreColumn(period)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT child_kw, `+col+` AS score
		FROM trend_edge_score
		WHERE parent_kw = $1 AND `+col+` > 0
		ORDER BY score DESC
		LIMIT $2`, parent, limit)
	if err != nil {
		return nil, fmt.Errorf("parent top: %w", err)
	}
	return scanKeywordScores(rows)
}

func querySearchTop(ctx context.Context, db executor, keyword string, period model.Period, limit int) ([]model.KeywordScore, error) {
	col, err := scoreColumn(period)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT child_kw, SUM(`+col+`) AS score
		FROM trend_edge_score
		WHERE child_kw LIKE '%' || $1 || '%'
		GROUP BY child_kw
		HAVING SUM(`+col+`) > 0
		ORDER BY score DESC
		LIMIT $2`, keyword, limit)
	if err != nil {
		return nil, fmt.Errorf("search top: %w", err)
	}
	return scanKeywordScores(rows)
}

func queryGetBatchCursor(ctx context.Context, db executor, jobName string) (*model.BatchCursor, error) {
	row := db.QueryRowContext(ctx, `
		SELECT job_name, position, updated_at
		FROM trend_batch_cursor
		WHERE job_name = $1`, jobName)
	var c model.BatchCursor
	if err := row.Scan(&c.JobName, &c.Position, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get batch cursor: %w", err)
	}
	return &c, nil
}

func querySetBatchCursor(ctx context.Context, db executor, jobName, position string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO trend_batch_cursor (job_name, position, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (job_name)
		DO UPDATE SET position = EXCLUDED.position, updated_at = EXCLUDED.updated_at`,
		jobName, position)
	if err != nil {
		return fmt.Errorf("set batch cursor: %w", err)
	}
	return nil
}

func queryPruneDailyEdges(ctx context.Context, db executor, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM trend_edge_daily WHERE d < $1`, timekey.DayKey(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune daily edges: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func queryExportScores(ctx context.Context, db executor) ([]model.EdgeScore, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT parent_kw, child_kw, score_7d, score_30d, updated_at
		FROM trend_edge_score
		ORDER BY parent_kw, child_kw`)
	if err != nil {
		return nil, fmt.Errorf("export scores: %w", err)
	}
	defer rows.Close()
	var out []model.EdgeScore
	for rows.Next() {
		var es model.EdgeScore
		if err := rows.Scan(&es.ParentKw, &es.ChildKw, &es.Score7d, &es.Score30d, &es.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan edge score: %w", err)
		}
		out = append(out, es)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edge scores: %w", err)
	}
	return out, nil
}
