package model

import (
	"fmt"
	"time"
)

// Period selects the aggregation window a ranking is computed over.
type Period string

const (
	Period7d  Period = "7d"
	Period30d Period = "30d"
)

// Score weights applied when folding daily add and view counts into a
// single ranking score.
const (
	AddWeight  = 3
	ViewWeight = 1
)

// ParsePeriod validates a period string from the query surface.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case Period7d, Period30d:
		return Period(s), nil
	default:
		return "", fmt.Errorf("invalid period %q", s)
	}
}

// Days returns the number of days the period spans.
func (p Period) Days() int {
	if p == Period7d {
		return 7
	}
	return 30
}

// KeywordScore is one ranked keyword with its weighted score.
type KeywordScore struct {
	Keyword string
	Score   float64
}

// TrendItem is one entry of a ranking as served over HTTP.
type TrendItem struct {
	Keyword string `json:"keyword"`
	Score   int64  `json:"score"`
	Rank    int    `json:"rank"`
}

// TrendResponse is the envelope for every ranking endpoint.
type TrendResponse struct {
	Period        Period      `json:"period"`
	ParentKeyword *string     `json:"parentKeyword,omitempty"`
	TotalCount    int         `json:"totalCount"`
	Items         []TrendItem `json:"items"`
}

// NewTrendResponse builds a response from ranked scores, assigning 1-based
// ranks in the given order and truncating fractional scores.
func NewTrendResponse(period Period, parent *string, scores []KeywordScore) TrendResponse {
	items := make([]TrendItem, 0, len(scores))
	for i, s := range scores {
		items = append(items, TrendItem{
			Keyword: s.Keyword,
			Score:   int64(s.Score),
			Rank:    i + 1,
		})
	}
	return TrendResponse{
		Period:        period,
		ParentKeyword: parent,
		TotalCount:    len(items),
		Items:         items,
	}
}

// DailyEdge is one durable (day, parent, child) count row.
type DailyEdge struct {
	Date      time.Time
	ParentKw  string
	ChildKw   string
	AddCount  int64
	ViewCount int64
}

// EdgeScore is one precomputed (parent, child) windowed score row.
type EdgeScore struct {
	ParentKw  string  `json:"parentKw"`
	ChildKw   string  `json:"childKw"`
	Score7d   float64 `json:"score7d"`
	Score30d  float64 `json:"score30d"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BatchCursor records where a batch job last completed. Bookkeeping only:
// nothing reads it back for correctness.
type BatchCursor struct {
	JobName   string
	Position  string
	UpdatedAt time.Time
}
