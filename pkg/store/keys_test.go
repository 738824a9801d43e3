package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxKeyRoundTrip(t *testing.T) {
	k := GenOutboxKey(42)
	assert.Equal(t, "outbox:00000000000000000042", k)
	seq, err := ParseOutboxKey(k)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)

	_, err = ParseOutboxKey("rec:42")
	assert.Error(t, err)
}

func TestOutboxKeysSortBySequence(t *testing.T) {
	// padded keys must compare lexicographically in numeric order
	assert.Less(t, GenOutboxKey(9), GenOutboxKey(10))
	assert.Less(t, GenOutboxKey(99), GenOutboxKey(100))
}

func TestCreatedKeyRoundTrip(t *testing.T) {
	k := GenCreatedKey(1700000000000000000, "rec-1")
	parts, err := ParseCreatedKey(k)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000000000), parts.TS)
	assert.Equal(t, "rec-1", parts.RecordID)

	_, err = ParseCreatedKey("created:notanumber:rec-1")
	assert.Error(t, err)
}

func TestRecordKeyRoundTrip(t *testing.T) {
	id, err := ParseRecordKey(GenRecordKey("rec-7"))
	require.NoError(t, err)
	assert.Equal(t, "rec-7", id)

	_, err = ParseRecordKey("outbox:7")
	assert.Error(t, err)
	_, err = ParseRecordKey("rec:")
	assert.Error(t, err)
}
