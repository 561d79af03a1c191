package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scylladb/scylla-go-driver/frame"
)

type intSerializer int32

func (v intSerializer) Serialize(*frame.Option) (int32, []byte, error) {
	return 4, []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}, nil
}

func testPreparedStatement() Statement {
	return NewStatement("SELECT * FROM t WHERE pk = ? AND ck = ?", &frame.PreparedMetadata{
		Columns: []frame.ColumnSpec{{Name: "pk"}, {Name: "ck"}},
	}, nil, nil, nil, "")
}

func TestAppendingBinderFillsInOrder(t *testing.T) {
	b := NewAppendingBinder(testPreparedStatement())
	require.NoError(t, b.Append(intSerializer(1)))
	require.NoError(t, b.Append(intSerializer(2)))

	stmt, err := b.Finish()
	require.NoError(t, err)
	assert.Len(t, stmt.Values, 2)
}

func TestAppendingBinderTooFew(t *testing.T) {
	b := NewAppendingBinder(testPreparedStatement())
	require.NoError(t, b.Append(intSerializer(1)))

	_, err := b.Finish()
	assert.Error(t, err)
	var tooFew *TooFewValuesError
	assert.ErrorAs(t, err, &tooFew)
}

func TestAppendingBinderTooMany(t *testing.T) {
	b := NewAppendingBinder(testPreparedStatement())
	require.NoError(t, b.Append(intSerializer(1)))
	require.NoError(t, b.Append(intSerializer(2)))

	err := b.Append(intSerializer(3))
	var tooMany *TooManyValuesError
	assert.ErrorAs(t, err, &tooMany)
}

func TestByIndexBinderRejectsOutOfRange(t *testing.T) {
	b := NewByIndexBinder(testPreparedStatement())

	err := b.Bind(5, intSerializer(1))
	var noSuch *NoSuchIndexError
	assert.ErrorAs(t, err, &noSuch)
}

func TestByIndexBinderRejectsDuplicate(t *testing.T) {
	b := NewByIndexBinder(testPreparedStatement())
	require.NoError(t, b.Bind(0, intSerializer(1)))

	err := b.Bind(0, intSerializer(2))
	var dup *DuplicatedValueError
	assert.ErrorAs(t, err, &dup)
}

func TestByIndexBinderFinishRejectsGaps(t *testing.T) {
	b := NewByIndexBinder(testPreparedStatement())
	require.NoError(t, b.Bind(0, intSerializer(1)))

	_, err := b.Finish()
	var missing *MissingValueAtIndexError
	assert.ErrorAs(t, err, &missing)
}

func TestByIndexBinderFinishSucceedsWhenFull(t *testing.T) {
	b := NewByIndexBinder(testPreparedStatement())
	require.NoError(t, b.Bind(0, intSerializer(1)))
	require.NoError(t, b.Bind(1, intSerializer(2)))

	stmt, err := b.Finish()
	require.NoError(t, err)
	assert.Len(t, stmt.Values, 2)
}

func TestByNameBinderBindsByColumnName(t *testing.T) {
	b := NewByNameBinder(testPreparedStatement())
	require.NoError(t, b.Bind("ck", intSerializer(2)))
	require.NoError(t, b.Bind("pk", intSerializer(1)))

	stmt, err := b.Finish()
	require.NoError(t, err)
	assert.Equal(t, int32(4), stmt.Values[0].N)
	assert.Equal(t, int32(4), stmt.Values[1].N)
}

func TestByNameBinderRejectsUnknownName(t *testing.T) {
	b := NewByNameBinder(testPreparedStatement())

	err := b.Bind("nope", intSerializer(1))
	var noSuch *NoSuchNameError
	assert.ErrorAs(t, err, &noSuch)
}

func TestByNameBinderFinishReportsMissingByName(t *testing.T) {
	b := NewByNameBinder(testPreparedStatement())
	require.NoError(t, b.Bind("pk", intSerializer(1)))

	_, err := b.Finish()
	var missing *MissingValueForParameterError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "ck", missing.Name)
}
