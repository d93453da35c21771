package codec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/revdb/persistent"
	"github.com/outofforest/revdb/types"
)

// NewWriterForTest creates writer for unit tests.
func NewWriterForTest(t *testing.T, store persistent.Store, bufferSize uint64) *Writer {
	w, deallocFunc, err := NewWriter(store, bufferSize)
	require.NoError(t, err)
	t.Cleanup(deallocFunc)
	return w
}

// NewReaderForTest creates reader of the log data for unit tests.
func NewReaderForTest(
	t *testing.T,
	data []byte,
	bufferSize uint64,
	stopPoint func() types.StopPoint,
) *Reader {
	if stopPoint == nil {
		stopPoint = func() types.StopPoint { return 0 }
	}
	r, deallocFunc, err := NewReader(persistent.NewMemoryStore(data), bufferSize, stopPoint)
	require.NoError(t, err)
	t.Cleanup(deallocFunc)
	return r
}
