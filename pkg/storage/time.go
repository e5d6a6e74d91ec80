package storage

import (
	"strconv"
	"strings"
	"time"
)

// formatTime is the one helper spec §4.11 requires for every timestamp
// written to the store: RFC 3339 UTC, fixed millisecond precision.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// parseTime accepts both the canonical millisecond-precision RFC 3339 form
// this package writes and the legacy "unix:N" form spec §4.11 requires to
// remain readable ("legacy unix:N values remain readable for backward
// compatibility but are never written"). Grounded on the teacher's
// pkg/store/receipt_store_sqlite.go parseTime fallback chain.
func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if rest, ok := strings.CutPrefix(value, "unix:"); ok {
		if secs, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC()
		}
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
