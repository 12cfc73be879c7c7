// Package timekey maps timestamps to day and minute bucket identifiers and
// builds the storage key names shared by the counter store and the batch jobs.
// All bucket identifiers are UTC.
package timekey

import (
	"strings"
	"time"
)

const (
	dayLayout    = "20060102"
	minuteLayout = "200601021504"
)

// DayKey returns the daily bucket identifier for t, e.g. "20260831".
func DayKey(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// MinuteKey returns the one-minute bucket identifier for t, e.g. "202608311542".
func MinuteKey(t time.Time) string {
	return t.UTC().Format(minuteLayout)
}

// TruncateToMinute floors t to the start of its minute, in UTC.
func TruncateToMinute(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// Daily counter bucket keys: h:<family>:<day>:<parent>.

func DailyAddKey(t time.Time, parent string) string {
	return "h:addkw:" + DayKey(t) + ":" + parent
}

func DailyViewKey(t time.Time, parent string) string {
	return "h:viewkw:" + DayKey(t) + ":" + parent
}

// Realtime counter bucket keys: h:<family>:rt:<minute>:<parent>.

func RealtimeAddKey(t time.Time, parent string) string {
	return "h:addkw:rt:" + MinuteKey(t) + ":" + parent
}

func RealtimeViewKey(t time.Time, parent string) string {
	return "h:viewkw:rt:" + MinuteKey(t) + ":" + parent
}

// SCAN patterns matching every parent bucket for one day or one minute.

func DailyAddPattern(t time.Time) string {
	return "h:addkw:" + DayKey(t) + ":*"
}

func DailyViewPattern(t time.Time) string {
	return "h:viewkw:" + DayKey(t) + ":*"
}

func RealtimeAddPattern(t time.Time) string {
	return "h:addkw:rt:" + MinuteKey(t) + ":*"
}

func RealtimeViewPattern(t time.Time) string {
	return "h:viewkw:rt:" + MinuteKey(t) + ":*"
}

// GlobalRankKey is the ranked cache for all parents combined.
func GlobalRankKey(period string) string {
	return "z:global:" + period
}

// ParentRankKey is the ranked cache scoped to one parent keyword.
func ParentRankKey(parent, period string) string {
	return "z:parent:" + parent + ":" + period
}

// BatchLockKey is the cross-instance mutual exclusion key for a batch job.
func BatchLockKey(job string) string {
	return "lock:batch:" + job
}

// ParentFromKey recovers the parent keyword segment from a counter bucket
// key. Bucket keys have a fixed prefix segment count, so a parent keyword
// containing ':' survives the round trip.
func ParentFromKey(key string) string {
	n := 4
	if strings.HasPrefix(key, "h:addkw:rt:") || strings.HasPrefix(key, "h:viewkw:rt:") {
		n = 5
	}
	parts := strings.SplitN(key, ":", n)
	return parts[len(parts)-1]
}

// LastNDays returns the most recent n day boundaries in UTC, today first.
func LastNDays(now time.Time, n int) []time.Time {
	day := now.UTC().Truncate(24 * time.Hour)
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, day.AddDate(0, 0, -i))
	}
	return out
}

// LastNMinutes returns the most recent n minute boundaries in UTC, the
// current minute first.
func LastNMinutes(now time.Time, n int) []time.Time {
	minute := TruncateToMinute(now)
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, minute.Add(-time.Duration(i)*time.Minute))
	}
	return out
}
