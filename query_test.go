package scylla

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scylladb/scylla-go-driver/frame"
	"github.com/scylladb/scylla-go-driver/transport"
)

func TestQueryCheckBoundsUnprepared(t *testing.T) {
	var q Query

	require.NoError(t, q.checkBounds(2))
	assert.Len(t, q.stmt.Values, 3)
}

func TestQueryCheckBoundsPrepared(t *testing.T) {
	q := Query{stmt: transport.Statement{
		Metadata: &frame.PreparedMetadata{},
		Values:   make([]frame.Value, 2),
	}}

	assert.NoError(t, q.checkBounds(1))
	assert.Error(t, q.checkBounds(2))
	assert.Error(t, q.checkBounds(-1))
}

func TestQueryBindInt64RoundTrips(t *testing.T) {
	q := Query{stmt: transport.Statement{Values: make([]frame.Value, 1)}}
	q.BindInt64(0, -7)

	v := q.stmt.Values[0]
	require.EqualValues(t, 8, v.N)

	got := int64(v.Bytes[0])<<56 | int64(v.Bytes[1])<<48 | int64(v.Bytes[2])<<40 | int64(v.Bytes[3])<<32 |
		int64(v.Bytes[4])<<24 | int64(v.Bytes[5])<<16 | int64(v.Bytes[6])<<8 | int64(v.Bytes[7])
	assert.EqualValues(t, -7, got)
}

func TestQueryBindRejectsUnprepared(t *testing.T) {
	q := &Query{}
	q.Bind(0, fakeSerializable{})
	assert.Len(t, q.err, 1)
}

type fakeSerializable struct{}

func (fakeSerializable) Serialize(*frame.Option) (int32, []byte, error) { return 0, nil, nil }

func TestQuerySerialConsistencyGetSet(t *testing.T) {
	q := &Query{}
	q.SetSerialConsistency(frame.LOCALSERIAL)
	assert.Equal(t, frame.LOCALSERIAL, q.SerialConsistency())
}

func TestQueryPageStateGetSet(t *testing.T) {
	q := &Query{}
	q.SetPageState([]byte{1, 2, 3})
	assert.Equal(t, []byte{1, 2, 3}, q.PageState())
}

func TestQueryIdempotentGetSet(t *testing.T) {
	q := &Query{}
	assert.False(t, q.Idempotent())
	q.SetIdempotent(true)
	assert.True(t, q.Idempotent())
}

func TestQueryFetchWithoutAsyncExecReturnsErr(t *testing.T) {
	q := &Query{}
	_, err := q.Fetch()
	assert.ErrorIs(t, err, ErrNoQueryResults)
}
