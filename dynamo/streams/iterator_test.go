package streams

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIteratorRoundTrip(t *testing.T) {
	in := iterator{StreamArn: Arn("t", "label"), ShardID: ShardID, AfterSeq: 41}
	out, err := decodeIterator(encodeIterator(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestIteratorRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "not-base64!", "aGVsbG8"} {
		_, err := decodeIterator(bad)
		require.Error(t, err, bad)
	}
}

func TestSequenceNumberOrdersAsString(t *testing.T) {
	assert.Less(t, SequenceNumber(9), SequenceNumber(10))
}
