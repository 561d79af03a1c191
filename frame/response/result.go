package response

import (
	"github.com/scylladb/scylla-go-driver/frame"
)

// ResultKind is the [int] discriminant of a RESULT response body.
type ResultKind frame.Int

const (
	ResultVoid         ResultKind = 0x0001
	ResultRows         ResultKind = 0x0002
	ResultSetKeyspace  ResultKind = 0x0003
	ResultPrepared     ResultKind = 0x0004
	ResultSchemaChange ResultKind = 0x0005
)

// Result is implemented by every concrete RESULT body; Kind lets the caller
// avoid a type switch when only the discriminant matters.
type Result interface {
	frame.Response
	Kind() ResultKind
}

var (
	_ Result = (*VoidResult)(nil)
	_ Result = (*RowsResult)(nil)
	_ Result = (*SetKeyspaceResult)(nil)
	_ Result = (*PreparedResult)(nil)
	_ Result = (*SchemaChangeResult)(nil)
)

// VoidResult is returned for statements with no result set (DDL, most DML).
type VoidResult struct{}

func (*VoidResult) OpCode() frame.OpCode { return frame.OpResult }
func (*VoidResult) Kind() ResultKind     { return ResultVoid }

// RowsResult carries a page of query results plus its metadata.
type RowsResult struct {
	Metadata *frame.ResultMetadata
	Rows     []frame.Row
}

func (*RowsResult) OpCode() frame.OpCode { return frame.OpResult }
func (*RowsResult) Kind() ResultKind     { return ResultRows }

func (r *RowsResult) HasMorePages() bool {
	return r.Metadata != nil && r.Metadata.PagingState != nil
}

// SetKeyspaceResult acknowledges a successful USE <keyspace>.
type SetKeyspaceResult struct {
	Keyspace string
}

func (*SetKeyspaceResult) OpCode() frame.OpCode { return frame.OpResult }
func (*SetKeyspaceResult) Kind() ResultKind     { return ResultSetKeyspace }

// PreparedResult is returned by PREPARE: the opaque statement ID, its
// result-metadata ID (rotates on schema change), bind-marker metadata and
// result-column metadata.
type PreparedResult struct {
	ID               []byte
	ResultMetadataID []byte
	Metadata         *frame.PreparedMetadata
	ResultMetadata   *frame.ResultMetadata
}

func (*PreparedResult) OpCode() frame.OpCode { return frame.OpResult }
func (*PreparedResult) Kind() ResultKind     { return ResultPrepared }

// SchemaChangeResult mirrors the SCHEMA_CHANGE event payload, returned
// inline by DDL statements in addition to (or instead of) a pushed EVENT.
type SchemaChangeResult struct {
	ChangeType string
	Target     string
	Keyspace   string
	Name       string
	Arguments  []string
}

func (*SchemaChangeResult) OpCode() frame.OpCode { return frame.OpResult }
func (*SchemaChangeResult) Kind() ResultKind     { return ResultSchemaChange }

// ParseResult parses a RESULT response body of any kind.
func ParseResult(b *frame.Buffer) Result {
	switch ResultKind(b.ReadInt()) {
	case ResultVoid:
		return &VoidResult{}
	case ResultRows:
		meta := frame.ParseResultMetadata(b)
		rows := parseRows(b, meta)
		return &RowsResult{Metadata: meta, Rows: rows}
	case ResultSetKeyspace:
		return &SetKeyspaceResult{Keyspace: b.ReadString()}
	case ResultPrepared:
		id := b.ReadShortBytes()
		resultMetadataID := b.ReadShortBytes()
		meta := frame.ParsePreparedMetadata(b)
		resultMeta := frame.ParseResultMetadata(b)
		return &PreparedResult{
			ID:               id,
			ResultMetadataID: resultMetadataID,
			Metadata:         meta,
			ResultMetadata:   resultMeta,
		}
	case ResultSchemaChange:
		sc := &SchemaChangeResult{
			ChangeType: b.ReadString(),
			Target:     b.ReadString(),
		}
		switch sc.Target {
		case "KEYSPACE":
			sc.Keyspace = b.ReadString()
		case "TABLE", "TYPE":
			sc.Keyspace = b.ReadString()
			sc.Name = b.ReadString()
		case "FUNCTION", "AGGREGATE":
			sc.Keyspace = b.ReadString()
			sc.Name = b.ReadString()
			n := int(b.ReadShort())
			sc.Arguments = make([]string, n)
			for i := range sc.Arguments {
				sc.Arguments[i] = b.ReadString()
			}
		}
		return sc
	default:
		return nil
	}
}

func parseRows(b *frame.Buffer, meta *frame.ResultMetadata) []frame.Row {
	rowCount := int(b.ReadInt())
	cols := int(meta.ColumnCount)
	rows := make([]frame.Row, rowCount)
	for i := range rows {
		row := make(frame.Row, cols)
		for j := range row {
			row[j] = b.ReadValue()
		}
		rows[i] = row
	}
	return rows
}
