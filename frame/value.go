package frame

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Value is a single CQL bind-marker or result-column value: a length and raw
// wire bytes against a declared type. N mirrors the protocol's [bytes]
// length prefix (-1 null, -2 unset); Bytes is nil in both cases.
type Value struct {
	Type  *Option
	N     int32
	Bytes []byte
}

const (
	nullLength  int32 = -1
	unsetLength int32 = -2
)

func (v Value) IsNull() bool   { return v.N == nullLength }
func (v Value) IsUnset() bool  { return v.N == unsetLength }

func (b *Buffer) WriteValue(v Value) {
	b.WriteInt(Int(v.N))
	if v.N > 0 {
		b.buf = append(b.buf, v.Bytes...)
	}
}

// ReadValue reads one [bytes] value without any declared-type interpretation.
func (b *Buffer) ReadValue() Value {
	n := int32(b.ReadInt())
	v := Value{N: n}
	if n > 0 {
		if !b.need(int(n)) {
			return v
		}
		v.Bytes = make([]byte, n)
		copy(v.Bytes, b.buf[b.pos:b.pos+int(n)])
		b.pos += int(n)
	}
	return v
}

// Row is one decoded result row: one Value per selected column, in
// column-spec order.
type Row []Value

// The handful of typed accessors below decode system-table columns the
// driver itself must understand (host ID, tokens, data center, rack...).
// This is distinct from, and much narrower than, the general user-facing
// row-deserialization capability, which stays an external collaborator.

func (v Value) AsUUID() (UUID, error) {
	if v.IsNull() || len(v.Bytes) != 16 {
		return UUID{}, fmt.Errorf("frame: value is not a 16-byte uuid (len=%d)", len(v.Bytes))
	}
	return ParseUUID(v.Bytes)
}

func (v Value) AsText() (string, error) {
	if v.IsNull() {
		return "", fmt.Errorf("frame: value is null, not text")
	}
	return string(v.Bytes), nil
}

func (v Value) AsInt() (int32, error) {
	if v.IsNull() || len(v.Bytes) != 4 {
		return 0, fmt.Errorf("frame: value is not a 4-byte int (len=%d)", len(v.Bytes))
	}
	return int32(binary.BigEndian.Uint32(v.Bytes)), nil
}

func (v Value) AsBigInt() (int64, error) {
	if v.IsNull() || len(v.Bytes) != 8 {
		return 0, fmt.Errorf("frame: value is not an 8-byte bigint (len=%d)", len(v.Bytes))
	}
	return int64(binary.BigEndian.Uint64(v.Bytes)), nil
}

func (v Value) AsBool() (bool, error) {
	if v.IsNull() || len(v.Bytes) != 1 {
		return false, fmt.Errorf("frame: value is not a 1-byte boolean (len=%d)", len(v.Bytes))
	}
	return v.Bytes[0] != 0, nil
}

func (v Value) AsInetAddr() (net.IP, error) {
	if v.IsNull() {
		return nil, fmt.Errorf("frame: value is null, not inet")
	}
	switch len(v.Bytes) {
	case net.IPv4len, net.IPv6len:
		return net.IP(v.Bytes), nil
	default:
		return nil, fmt.Errorf("frame: value is not a 4 or 16-byte inet address (len=%d)", len(v.Bytes))
	}
}

// AsTextList decodes a CQL set<text>/list<text> value, as used by the
// `tokens` column of system.local/system.peers.
func (v Value) AsTextList() ([]string, error) {
	if v.IsNull() {
		return nil, nil
	}
	var buf Buffer
	buf.Write(v.Bytes)
	n := int(buf.ReadInt())
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		elemLen := int(buf.ReadInt())
		if !buf.need(elemLen) {
			return nil, buf.Error()
		}
		out = append(out, string(buf.buf[buf.pos:buf.pos+elemLen]))
		buf.pos += elemLen
	}
	return out, buf.Error()
}

// AsTextMap decodes a CQL map<text,text> value, as used by the
// `replication` column of system_schema.keyspaces.
func (v Value) AsTextMap() (map[string]string, error) {
	if v.IsNull() {
		return nil, nil
	}
	var buf Buffer
	buf.Write(v.Bytes)
	n := int(buf.ReadInt())
	out := make(map[string]string, n)
	for i := 0; i < n; i++ {
		klen := int(buf.ReadInt())
		if !buf.need(klen) {
			return nil, buf.Error()
		}
		key := string(buf.buf[buf.pos : buf.pos+klen])
		buf.pos += klen

		vlen := int(buf.ReadInt())
		if !buf.need(vlen) {
			return nil, buf.Error()
		}
		val := string(buf.buf[buf.pos : buf.pos+vlen])
		buf.pos += vlen

		out[key] = val
	}
	return out, buf.Error()
}

// TableSpec names the keyspace/table a column belongs to.
type TableSpec struct {
	Keyspace string
	Table    string
}

// ColumnSpec is one column of a result set or a prepared statement's
// variable list: name, declared type, and owning table.
type ColumnSpec struct {
	Name  string
	Type  *Option
	Table TableSpec
}

// ResultMetadata describes the columns of a RESULT/Rows response, including
// paging state flags.
type ResultMetadata struct {
	ColumnCount    int32
	PagingState    []byte
	GlobalTableSpec *TableSpec
	Columns        []ColumnSpec
}

// PreparedMetadata describes a prepared statement's bind-marker columns plus
// the partition-key indices needed for token-aware routing.
type PreparedMetadata struct {
	Flags            Int
	ColumnCount      int32
	PkIndexes        []Short
	GlobalTableSpec  *TableSpec
	Columns          []ColumnSpec
}

const (
	metadataFlagGlobalTableSpec Int = 0x0001
	metadataFlagHasMorePages    Int = 0x0002
	metadataFlagNoMetadata      Int = 0x0004
)

// parseColumnSpecs reads `count` column specs, honoring the global-table-spec
// flag shared by RESULT and PREPARED metadata.
func parseColumnSpecs(b *Buffer, count int32, global *TableSpec) []ColumnSpec {
	cols := make([]ColumnSpec, count)
	for i := range cols {
		if global == nil {
			cols[i].Table.Keyspace = b.ReadString()
			cols[i].Table.Table = b.ReadString()
		} else {
			cols[i].Table = *global
		}
		cols[i].Name = b.ReadString()
		cols[i].Type = ParseOption(b)
	}
	return cols
}

// ParseResultMetadata parses the metadata block shared by Rows results.
func ParseResultMetadata(b *Buffer) *ResultMetadata {
	m := &ResultMetadata{}
	flags := b.ReadInt()
	m.ColumnCount = int32(b.ReadInt())

	if flags&metadataFlagHasMorePages != 0 {
		m.PagingState = b.ReadBytes()
	}
	if flags&metadataFlagNoMetadata != 0 {
		return m
	}
	if flags&metadataFlagGlobalTableSpec != 0 {
		m.GlobalTableSpec = &TableSpec{Keyspace: b.ReadString(), Table: b.ReadString()}
	}
	m.Columns = parseColumnSpecs(b, m.ColumnCount, m.GlobalTableSpec)
	return m
}

// ParsePreparedMetadata parses the metadata block preceding result metadata
// in a PREPARED response.
func ParsePreparedMetadata(b *Buffer) *PreparedMetadata {
	m := &PreparedMetadata{}
	m.Flags = b.ReadInt()
	m.ColumnCount = int32(b.ReadInt())

	pkCount := int(b.ReadInt())
	m.PkIndexes = make([]Short, pkCount)
	for i := range m.PkIndexes {
		m.PkIndexes[i] = b.ReadShort()
	}

	if m.Flags&metadataFlagGlobalTableSpec != 0 {
		m.GlobalTableSpec = &TableSpec{Keyspace: b.ReadString(), Table: b.ReadString()}
	}
	m.Columns = parseColumnSpecs(b, m.ColumnCount, m.GlobalTableSpec)
	return m
}
