package store

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// notation dictionary for key formats:
	// rec     = record (primary copy, keyed by record ID)
	// created = creation-time index (sortable, newest last)
	// outbox  = pending index work, ordered by commit sequence
	// system  = reserved bookkeeping keys
	// All keys are lowercase; segments are separated by ":"
	// <...> = variable segment (e.g. <record_id>, <seq>)

	// primary storage key formats
	RecordKey  = "rec:%s"        // rec:<record_id>
	CreatedKey = "created:%s:%s" // created:<createdTS>:<record_id>
	OutboxKey  = "outbox:%s"     // outbox:<seq>

	// range-scan prefixes
	RecordPrefix  = "rec:"
	CreatedPrefix = "created:"
	OutboxPrefix  = "outbox:"

	// padding widths (fixed for lexicographic ordering)
	TSPadWidth  = 20 // e.g. %020d
	SeqPadWidth = 20 // e.g. %020d

	// system keys
	SystemVersionKey    = "system:version"
	SystemIndexEpochKey = "system:index_epoch"
	SystemInProgressKey = "system:migration_in_progress"
)

// CreatedKeyParts are the decoded segments of a created:<ts>:<id> key.
type CreatedKeyParts struct {
	TS       int64
	RecordID string
}

func GenRecordKey(id string) string {
	return fmt.Sprintf(RecordKey, id)
}

func GenCreatedKey(ts int64, id string) string {
	return fmt.Sprintf(CreatedKey, PadTS(ts), id)
}

func GenOutboxKey(seq uint64) string {
	return fmt.Sprintf(OutboxKey, PadSeq(seq))
}

// helpers
func PadTS(ts int64) string {
	return fmt.Sprintf("%0*d", TSPadWidth, ts)
}

func PadSeq(seq uint64) string {
	return fmt.Sprintf("%0*d", SeqPadWidth, seq)
}

func ParseRecordKey(key string) (string, error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 || parts[0] != "rec" || parts[1] == "" {
		return "", fmt.Errorf("invalid record key: %s", key)
	}
	return parts[1], nil
}

func ParseCreatedKey(key string) (*CreatedKeyParts, error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "created" {
		return nil, fmt.Errorf("invalid created index key: %s", key)
	}
	ts, err := parsePaddedInt(parts[1], TSPadWidth)
	if err != nil {
		return nil, fmt.Errorf("invalid created index key: %s", key)
	}
	return &CreatedKeyParts{TS: ts, RecordID: parts[2]}, nil
}

func ParseOutboxKey(key string) (uint64, error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 || parts[0] != "outbox" {
		return 0, fmt.Errorf("invalid outbox key: %s", key)
	}
	return parsePaddedUint(parts[1], SeqPadWidth)
}

func parsePaddedInt(s string, width int) (int64, error) {
	if len(s) == 0 || len(s) > width {
		return 0, fmt.Errorf("length invalid: %s", s)
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseInt(trimmed, 10, 64)
}

func parsePaddedUint(s string, width int) (uint64, error) {
	if len(s) == 0 || len(s) > width {
		return 0, fmt.Errorf("length invalid: %s", s)
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseUint(trimmed, 10, 64)
}
