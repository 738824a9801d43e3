package utils

import (
	"fmt"
	"sync/atomic"
	"time"
)

var idSeq uint64

// GenRecordID generates a unique record ID from the current UTC nanosecond
// timestamp and an atomic sequence number. The format is
// "rec-<timestamp>-<seq>"; the sequence disambiguates IDs minted in the
// same nanosecond.
func GenRecordID() string {
	n := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&idSeq, 1)
	return fmt.Sprintf("rec-%d-%d", n, s)
}
