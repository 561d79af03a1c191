package request

import (
	"github.com/scylladb/scylla-go-driver/frame"
)

var _ frame.Request = (*Query)(nil)

// QueryFlags are the bit flags of [query_flags] in QUERY/EXECUTE.
type QueryFlags byte

const (
	FlagValues            QueryFlags = 0x01
	FlagSkipMetadata       QueryFlags = 0x02
	FlagPageSize           QueryFlags = 0x04
	FlagWithPagingState    QueryFlags = 0x08
	FlagWithSerialConsistency QueryFlags = 0x10
	FlagWithDefaultTimestamp  QueryFlags = 0x20
	FlagWithNamesForValues QueryFlags = 0x40
)

// QueryParams is the shared [query_parameters] structure of QUERY and EXECUTE.
type QueryParams struct {
	Consistency       frame.Consistency
	Values            []frame.Value
	Names             []string // only meaningful if len(Names) == len(Values)
	SkipMetadata      bool
	PageSize          int32
	PagingState       []byte
	SerialConsistency frame.Consistency
	Timestamp         int64
	HasTimestamp      bool
}

func (p *QueryParams) flags() QueryFlags {
	var f QueryFlags
	if len(p.Values) > 0 {
		f |= FlagValues
		if len(p.Names) == len(p.Values) {
			f |= FlagWithNamesForValues
		}
	}
	if p.SkipMetadata {
		f |= FlagSkipMetadata
	}
	if p.PageSize > 0 {
		f |= FlagPageSize
	}
	if p.PagingState != nil {
		f |= FlagWithPagingState
	}
	if p.SerialConsistency != 0 {
		f |= FlagWithSerialConsistency
	}
	if p.HasTimestamp {
		f |= FlagWithDefaultTimestamp
	}
	return f
}

func (p *QueryParams) writeTo(b *frame.Buffer) {
	b.WriteConsistency(p.Consistency)
	b.WriteByte(byte(p.flags()))

	if len(p.Values) > 0 {
		b.WriteShort(frame.Short(len(p.Values)))
		for i, v := range p.Values {
			if len(p.Names) == len(p.Values) {
				b.WriteString(p.Names[i])
			}
			b.WriteValue(v)
		}
	}
	if p.PageSize > 0 {
		b.WriteInt(frame.Int(p.PageSize))
	}
	if p.PagingState != nil {
		b.WriteBytes(p.PagingState)
	}
	if p.SerialConsistency != 0 {
		b.WriteConsistency(p.SerialConsistency)
	}
	if p.HasTimestamp {
		b.WriteLong(frame.Long(p.Timestamp))
	}
}

// Query is the QUERY request: an unprepared CQL statement plus parameters.
type Query struct {
	Content string
	Params  QueryParams
}

func (q *Query) WriteTo(b *frame.Buffer) {
	b.WriteLongString(q.Content)
	q.Params.writeTo(b)
}

func (*Query) OpCode() frame.OpCode {
	return frame.OpQuery
}
