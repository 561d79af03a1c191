package transport

import "github.com/scylladb/scylla-go-driver/frame"

// Statement is a query in flight: its text (for an unprepared QUERY) or its
// server-assigned handle (for EXECUTE), plus bind-marker values and the
// per-statement execution options. The zero Metadata marks an unprepared
// statement; Query.Bind refuses those, while Query.BindInt64 and the binders
// in bind.go do not check for it.
type Statement struct {
	Content          string
	ID               []byte
	ResultMetadataID []byte
	Metadata         *frame.PreparedMetadata
	ResultMetadata   *frame.ResultMetadata
	PartitionerName  string

	Values    []frame.Value
	PkIndexes []int
	PkCnt     int

	Consistency       frame.Consistency
	SerialConsistency frame.Consistency
	PageSize          int32
	Compression       bool
	Idempotent        bool
	NoSkipMetadata    bool
}

// Clone returns a statement that owns a fresh copy of Values, safe to bind
// and execute independently of s (AsyncExec relies on this to let several
// in-flight executions of the same prepared statement diverge).
func (s Statement) Clone() Statement {
	v := s
	v.Values = make([]frame.Value, len(s.Values))
	copy(v.Values, s.Values)
	return v
}

// IsTokenAware reports whether every partition-key component of the
// statement's table appears among its bind markers and its partitioner is
// one PartitionerByName knows.
func (s Statement) IsTokenAware() bool {
	if s.PkCnt == 0 || len(s.PkIndexes) != s.PkCnt {
		return false
	}
	_, ok := PartitionerByName(s.PartitionerName)
	return ok
}

// TableSpec returns the table this statement's bind markers belong to: the
// global table spec if the server reported one, else the first column's.
func (s Statement) TableSpec() (frame.TableSpec, bool) {
	if s.Metadata == nil {
		return frame.TableSpec{}, false
	}
	if s.Metadata.GlobalTableSpec != nil {
		return *s.Metadata.GlobalTableSpec, true
	}
	if len(s.Metadata.Columns) > 0 {
		return s.Metadata.Columns[0].Table, true
	}
	return frame.TableSpec{}, false
}

// NewStatement builds a statement from a PREPARE response: meta.PkIndexes
// (server-reported partition-key positions among the bind markers) seeds
// PkIndexes/PkCnt, and Values is pre-sized so binders can fill it by index.
func NewStatement(content string, meta *frame.PreparedMetadata, resultMeta *frame.ResultMetadata, id, resultMetadataID []byte, partitioner string) Statement {
	pkIdx := make([]int, len(meta.PkIndexes))
	for i, v := range meta.PkIndexes {
		pkIdx[i] = int(v)
	}
	return Statement{
		Content:          content,
		ID:               id,
		ResultMetadataID: resultMetadataID,
		Metadata:         meta,
		ResultMetadata:   resultMeta,
		PartitionerName:  partitioner,
		Values:           make([]frame.Value, len(meta.Columns)),
		PkIndexes:        pkIdx,
		PkCnt:            len(pkIdx),
	}
}
