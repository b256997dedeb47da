package ident

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identifier prefixes used across the service.
const (
	PrefixJob    = "job"
	PrefixTask   = "task"
	PrefixReq    = "req"
	PrefixEvent  = "evt"
	PrefixBatch  = "batch"
	PrefixWorker = "worker"
)

// TimestampLayout is the single timestamp format used on the wire:
// ISO-8601 UTC with microsecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

var prefixedPattern = regexp.MustCompile(
	`^[a-z]+-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func newPrefixed(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func NewJobID() string   { return newPrefixed(PrefixJob) }
func NewTaskID() string  { return newPrefixed(PrefixTask) }
func NewReqID() string   { return newPrefixed(PrefixReq) }
func NewEventID() string { return newPrefixed(PrefixEvent) }
func NewBatchID() string { return newPrefixed(PrefixBatch) }

// IsValid reports whether s is a well-formed prefixed identifier. When
// prefix is non-empty the prefix must match too.
func IsValid(s, prefix string) bool {
	if !prefixedPattern.MatchString(strings.ToLower(s)) {
		return false
	}
	if prefix == "" {
		return true
	}
	return strings.HasPrefix(s, prefix+"-")
}

func IsValidJobID(s string) bool  { return IsValid(s, PrefixJob) }
func IsValidTaskID(s string) bool { return IsValid(s, PrefixTask) }

// FormatTimestamp renders t in the canonical wire format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a canonical wire timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// Now returns the current time formatted for the wire.
func Now() string {
	return FormatTimestamp(time.Now())
}
