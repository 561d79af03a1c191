package scylla

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scylladb/scylla-go-driver/frame"
	"github.com/scylladb/scylla-go-driver/transport"
)

func newTestIter() Iter {
	return Iter{
		requestCh: make(chan struct{}, 1),
		nextCh:    make(chan transport.QueryResult, 1),
		errCh:     make(chan error, 1),
		meta:      &frame.ResultMetadata{Columns: []frame.ColumnSpec{{Name: "pk"}}},
	}
}

func TestIterNextWalksSinglePage(t *testing.T) {
	it := newTestIter()
	it.nextCh <- transport.QueryResult{Rows: []frame.Row{{frame.Value{}}, {frame.Value{}}}}
	go func() {
		<-it.requestCh
		it.errCh <- ErrNoMoreRows
	}()

	row, err := it.Next()
	require.NoError(t, err)
	assert.NotNil(t, row)
	assert.Equal(t, 2, it.NumRows())

	row, err = it.Next()
	require.NoError(t, err)
	assert.NotNil(t, row)

	row, err = it.Next()
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.True(t, it.closed)
}

func TestIterNextPropagatesTerminalError(t *testing.T) {
	it := newTestIter()
	wantErr := errors.New("connection reset")
	it.errCh <- wantErr

	row, err := it.Next()
	assert.Nil(t, row)
	assert.ErrorIs(t, err, wantErr)
	assert.True(t, it.closed)
}

func TestIterNextSkipsEmptyPages(t *testing.T) {
	it := newTestIter()
	it.nextCh <- transport.QueryResult{Rows: nil, HasMorePages: true}

	go func() {
		<-it.requestCh
		it.nextCh <- transport.QueryResult{Rows: []frame.Row{{frame.Value{}}}}
		<-it.requestCh
		it.errCh <- ErrNoMoreRows
	}()

	row, err := it.Next()
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestIterCloseIsIdempotent(t *testing.T) {
	it := newTestIter()
	assert.NoError(t, it.Close())
	assert.NoError(t, it.Close())
}

func TestIterColumns(t *testing.T) {
	it := newTestIter()
	assert.Len(t, it.Columns(), 1)
	assert.Equal(t, "pk", it.Columns()[0].Name)
}
