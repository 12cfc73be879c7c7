// Package server implements the trend query service and its HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mindloop/trendd/internal/counter"
	"github.com/mindloop/trendd/internal/events"
	"github.com/mindloop/trendd/internal/metrics"
	"github.com/mindloop/trendd/internal/model"
	"github.com/mindloop/trendd/internal/store"
	"github.com/mindloop/trendd/internal/timekey"
)

// ErrCacheUnavailable marks a ranked-cache backend failure. It is distinct
// from a cache miss: a miss falls through to the durable store, a backend
// failure surfaces to the caller.
var ErrCacheUnavailable = errors.New("ranked cache unavailable")

// errBlankKeyword rejects queries whose keyword normalizes to empty.
var errBlankKeyword = errors.New("keyword is blank")

// TrendServer serves ranking queries and accepts relation events.
type TrendServer struct {
	counter counter.Store
	store   store.Store
	buffer  *events.Buffer

	defaultLimit int
	maxLimit     int
	rankTTL      time.Duration
	logger       *slog.Logger
}

// Config tunes the query surface.
type Config struct {
	DefaultLimit int
	MaxLimit     int
	RankTTL      time.Duration
}

// NewTrendServer wires the query service. buffer may be nil when the
// daemon runs without an event intake.
func NewTrendServer(cs counter.Store, st store.Store, buffer *events.Buffer, cfg Config, logger *slog.Logger) *TrendServer {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 100
	}
	return &TrendServer{
		counter:      cs,
		store:        st,
		buffer:       buffer,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
		rankTTL:      cfg.RankTTL,
		logger:       logger,
	}
}

// clampLimit normalizes a requested page size.
func (s *TrendServer) clampLimit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// GetGlobalTop serves the cross-parent ranking, cache first.
func (s *TrendServer) GetGlobalTop(ctx context.Context, period model.Period, limit int) (model.TrendResponse, error) {
	limit = s.clampLimit(limit)
	defer s.observeQuery(time.Now())

	key := timekey.GlobalRankKey(string(period))
	cached, err := s.fromCache(ctx, key, limit)
	if err != nil {
		return model.TrendResponse{}, err
	}
	if cached != nil {
		return model.NewTrendResponse(period, nil, cached), nil
	}

	scores, err := s.store.GlobalTop(ctx, period, limit)
	if err != nil {
		return model.TrendResponse{}, fmt.Errorf("loading global top: %w", err)
	}
	s.repopulate(ctx, key, scores)
	return model.NewTrendResponse(period, nil, scores), nil
}

// GetParentTrend serves the ranking scoped to one parent keyword.
func (s *TrendServer) GetParentTrend(ctx context.Context, parent string, period model.Period, limit int) (model.TrendResponse, error) {
	parent = model.Normalize(parent)
	if parent == "" {
		return model.TrendResponse{}, errBlankKeyword
	}
	limit = s.clampLimit(limit)
	defer s.observeQuery(time.Now())

	key := timekey.ParentRankKey(parent, string(period))
	cached, err := s.fromCache(ctx, key, limit)
	if err != nil {
		return model.TrendResponse{}, err
	}
	if cached != nil {
		return model.NewTrendResponse(period, &parent, cached), nil
	}

	scores, err := s.store.ParentTop(ctx, parent, period, limit)
	if err != nil {
		return model.TrendResponse{}, fmt.Errorf("loading parent top: %w", err)
	}
	s.repopulate(ctx, key, scores)
	return model.NewTrendResponse(period, &parent, scores), nil
}

// SearchTrend ranks keywords matching a substring. Searches always hit the
// durable store; the match space is too wide to cache usefully.
func (s *TrendServer) SearchTrend(ctx context.Context, keyword string, period model.Period, limit int) (model.TrendResponse, error) {
	keyword = model.Normalize(keyword)
	if keyword == "" {
		return model.TrendResponse{}, errBlankKeyword
	}
	limit = s.clampLimit(limit)
	defer s.observeQuery(time.Now())

	scores, err := s.store.SearchTop(ctx, keyword, period, limit)
	if err != nil {
		return model.TrendResponse{}, fmt.Errorf("searching keywords: %w", err)
	}
	return model.NewTrendResponse(period, nil, scores), nil
}

// AcceptEvents normalizes inbound events, fills derived fields, and hands
// them to the publish buffer. It returns how many were accepted.
func (s *TrendServer) AcceptEvents(evs []*model.RelationEvent) (int, error) {
	if s.buffer == nil {
		return 0, errors.New("event intake not configured")
	}
	accepted := 0
	for _, ev := range evs {
		if ev.Timestamp <= 0 {
			ev.Timestamp = time.Now().UnixMilli()
		}
		if ev.IdempotencyKey == "" {
			ev.IdempotencyKey = model.IdempotencyKey(ev.ScopeID, ev.ParentKeyword, ev.ChildKeyword, ev.Type, ev.Timestamp)
		}
		if s.buffer.Offer(ev) {
			accepted++
		}
	}
	return accepted, nil
}

// fromCache returns ranked scores from the cache, nil on a miss, or a
// wrapped ErrCacheUnavailable when the backend failed.
func (s *TrendServer) fromCache(ctx context.Context, key string, limit int) ([]model.KeywordScore, error) {
	populated, err := s.counter.RankExists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if !populated {
		metrics.RankCacheMisses.Inc()
		return nil, nil
	}
	members, err := s.counter.RankTop(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	metrics.RankCacheHits.Inc()
	scores := make([]model.KeywordScore, 0, len(members))
	for _, m := range members {
		scores = append(scores, model.KeywordScore{Keyword: m.Keyword, Score: m.Score})
	}
	return scores, nil
}

// repopulate writes read-through results back into the cache. Failure only
// costs the next reader another store hit, so it is logged and dropped.
func (s *TrendServer) repopulate(ctx context.Context, key string, scores []model.KeywordScore) {
	if len(scores) == 0 {
		return
	}
	members := make([]counter.Member, 0, len(scores))
	for _, sc := range scores {
		members = append(members, counter.Member{Keyword: sc.Keyword, Score: sc.Score})
	}
	if err := s.counter.RankRebuild(ctx, key, members, s.rankTTL); err != nil {
		s.logger.Warn("repopulating ranked cache", "key", key, "error", err)
	}
}

func (s *TrendServer) observeQuery(start time.Time) {
	metrics.QueryDuration.Observe(time.Since(start).Seconds())
}
