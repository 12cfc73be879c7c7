package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/mindloop/trendd/internal/timekey"
)

// EventType discriminates relation events on the bus.
type EventType string

const (
	EventRelationAdd  EventType = "RELATION_ADD"
	EventRelationView EventType = "RELATION_VIEW"
)

// RelationEvent is one keyword-relation mutation or view, as published to the
// bus by collaborating services. Timestamp is epoch milliseconds.
type RelationEvent struct {
	Type           EventType `json:"type"`
	Timestamp      int64     `json:"timestamp"`
	ScopeID        int64     `json:"scopeId"`
	ParentKeyword  string    `json:"parentKeyword"`
	ChildKeyword   string    `json:"childKeyword"`
	IdempotencyKey string    `json:"idempotencyKey"`
}

// IdempotencyKey derives the advisory deduplication key for an event. It is a
// pure function of its inputs with the timestamp truncated to the minute, so
// identical inputs always yield an identical key.
func IdempotencyKey(scopeID int64, parent, child string, typ EventType, tsMillis int64) string {
	minute := timekey.MinuteKey(time.UnixMilli(tsMillis))
	return fmt.Sprintf("%d:%s:%s:%s:%s", scopeID, parent, child, typ, minute)
}

// Normalize trims and lowercases a keyword so casing and whitespace variants
// land on the same counter field.
func Normalize(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}
