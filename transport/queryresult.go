package transport

import (
	"fmt"

	"github.com/scylladb/scylla-go-driver/frame"
	. "github.com/scylladb/scylla-go-driver/frame/response"
)

// QueryResult is a single page of results: rows plus paging/schema-change
// bookkeeping carried by whichever RESULT kind the server chose to return.
type QueryResult struct {
	Rows         []frame.Row
	Metadata     *frame.ResultMetadata
	PagingState  []byte
	HasMorePages bool
	Keyspace     string // set by a SET_KEYSPACE result
	SchemaChange bool   // set by a SCHEMA_CHANGE result
}

// MakeQueryResult adapts a parsed RESULT response into a QueryResult. meta is
// the statement's own result metadata, whose column specs are used when the
// server elided them (the request asked to skip metadata, i.e. the statement's
// NoSkipMetadata was not set); the paging state always comes from the response.
func MakeQueryResult(res frame.Response, meta *frame.ResultMetadata) (QueryResult, error) {
	r, ok := res.(Result)
	if !ok {
		return QueryResult{}, responseAsError(res)
	}

	switch v := r.(type) {
	case *VoidResult:
		return QueryResult{}, nil
	case *RowsResult:
		m := v.Metadata
		if m == nil {
			m = meta
		} else if m.Columns == nil && meta != nil {
			withCols := *meta
			withCols.PagingState = m.PagingState
			m = &withCols
		}
		return QueryResult{
			Rows:         v.Rows,
			Metadata:     m,
			PagingState:  m.PagingState,
			HasMorePages: v.HasMorePages(),
		}, nil
	case *SetKeyspaceResult:
		return QueryResult{Keyspace: v.Keyspace}, nil
	case *PreparedResult:
		return QueryResult{}, fmt.Errorf("transport: unexpected PREPARED result for a query execution")
	case *SchemaChangeResult:
		return QueryResult{SchemaChange: true}, nil
	default:
		return QueryResult{}, fmt.Errorf("transport: unknown result kind %T", r)
	}
}
