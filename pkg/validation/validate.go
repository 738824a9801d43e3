package validation

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"missionlog/pkg/models"
)

// conservative ID validation: letters, digits, dot, underscore, dash
// and a reasonable upper bound to protect DB key shapes.
var idRegexp = regexp.MustCompile(`^[A-Za-z0-9._-]{1,256}$`)

// Limits applied to submitted records. Oversized fields are rejected before
// anything touches storage.
const (
	MaxTitleLen       = 512
	MaxDescriptionLen = 64 * 1024
	MaxTags           = 64
	MaxTagLen         = 128
)

// Error is a validation failure. It is reported synchronously to the
// caller and never reaches storage.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string { return e.Field + ": " + e.Reason }

// IsValidation reports whether err is (or wraps) a validation Error.
func IsValidation(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

// ValidateRecord checks a normalized record against the submission limits.
// The record is expected to have passed through NormalizeTitle/NormalizeTags
// first; an empty title after trimming is the canonical rejection case.
func ValidateRecord(rec models.Record) error {
	if rec.ID != "" && !idRegexp.MatchString(rec.ID) {
		return &Error{Field: "id", Reason: "must match [A-Za-z0-9._-]{1,256}"}
	}
	if rec.Title == "" {
		return &Error{Field: "title", Reason: "must not be empty"}
	}
	if len(rec.Title) > MaxTitleLen {
		return &Error{Field: "title", Reason: fmt.Sprintf("exceeds %d bytes", MaxTitleLen)}
	}
	if len(rec.Description) > MaxDescriptionLen {
		return &Error{Field: "description", Reason: fmt.Sprintf("exceeds %d bytes", MaxDescriptionLen)}
	}
	if len(rec.Tags) > MaxTags {
		return &Error{Field: "tags", Reason: fmt.Sprintf("more than %d tags", MaxTags)}
	}
	for _, t := range rec.Tags {
		if len(t) > MaxTagLen {
			return &Error{Field: "tags", Reason: fmt.Sprintf("tag %q exceeds %d bytes", t, MaxTagLen)}
		}
	}
	return nil
}

// NormalizeTitle trims surrounding whitespace.
func NormalizeTitle(s string) string { return strings.TrimSpace(s) }

// NormalizeTags trims, lower-cases and deduplicates tags, dropping empties.
// The result is sorted so stored tag sets compare stably.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
