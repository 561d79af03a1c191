package transport

import "github.com/scylladb/scylla-go-driver/frame"

// PartitionKey is the ordered list of a statement's partition-key component
// values, re-sliced out of its bound Values.
type PartitionKey struct {
	components []frame.Value
}

// ExtractPartitionKey re-slices stmt's Values according to its partition-key
// indices. It does not consult IsTokenAware: callers that only want the
// token should call CalculateToken, which does.
func ExtractPartitionKey(stmt Statement) PartitionKey {
	pk := PartitionKey{components: make([]frame.Value, len(stmt.PkIndexes))}
	for i, idx := range stmt.PkIndexes {
		pk.components[i] = stmt.Values[idx]
	}
	return pk
}

// CalculateToken hashes the partition key against the named partitioner: a
// single component hashes its raw bytes directly; a composite key is
// concatenated in Cassandra's composite format (len:u16 || bytes || 0x00)
// per component before hashing.
func (pk PartitionKey) CalculateToken(partitionerName string) (Token, error) {
	partitioner, ok := PartitionerByName(partitionerName)
	if !ok {
		return 0, &PartitionKeyError{Reason: "unknown partitioner: " + partitionerName}
	}

	if len(pk.components) == 1 {
		return partitioner.Hash(pk.components[0].Bytes), nil
	}

	var buf frame.Buffer
	for _, c := range pk.components {
		buf.WriteShort(frame.Short(len(c.Bytes)))
		buf.Write(c.Bytes)
		buf.WriteByte(0)
	}
	return partitioner.Hash(buf.Bytes()), nil
}

// CalculateToken returns the token that would be computed for executing
// stmt, or nil if stmt is not token-aware.
func CalculateToken(stmt Statement) (*Token, error) {
	if !stmt.IsTokenAware() {
		return nil, nil
	}
	t, err := ExtractPartitionKey(stmt).CalculateToken(stmt.PartitionerName)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// BoundStatement binds values onto a fresh, owned copy of a prepared
// statement template: the caller can go on reusing (or discard) the
// template it started from.
type BoundStatement struct {
	Statement
}

// NewBoundStatement binds values via an AppendingBinder against a clone of
// template, leaving template itself unmodified.
func NewBoundStatement(template Statement, values ...frame.Serializer) (BoundStatement, error) {
	b := NewAppendingBinder(template)
	for _, v := range values {
		if err := b.Append(v); err != nil {
			return BoundStatement{}, err
		}
	}
	stmt, err := b.Finish()
	if err != nil {
		return BoundStatement{}, err
	}
	return BoundStatement{stmt}, nil
}

func (bs BoundStatement) ExtractPartitionKey() PartitionKey { return ExtractPartitionKey(bs.Statement) }

func (bs BoundStatement) CalculateToken() (*Token, error) { return CalculateToken(bs.Statement) }

// BorrowedBoundStatement is the stack-cheap twin of BoundStatement: it binds
// directly into the caller-supplied statement, avoiding the clone
// BoundStatement pays for lifetime freedom. The caller must not reuse
// template concurrently with the bound result.
type BorrowedBoundStatement struct {
	stmt *Statement
}

func NewBorrowedBoundStatement(template *Statement, values ...frame.Serializer) (BorrowedBoundStatement, error) {
	for i, v := range values {
		if i >= len(template.Values) {
			return BorrowedBoundStatement{}, &TooManyValuesError{Required: len(template.Values)}
		}
		typ := template.Metadata.Columns[i].Type
		n, bytes, err := v.Serialize(typ)
		if err != nil {
			return BorrowedBoundStatement{}, err
		}
		template.Values[i] = frame.Value{Type: typ, N: n, Bytes: bytes}
	}
	if len(values) < len(template.Values) {
		return BorrowedBoundStatement{}, &TooFewValuesError{Required: len(template.Values), Provided: len(values)}
	}
	return BorrowedBoundStatement{stmt: template}, nil
}

func (bs BorrowedBoundStatement) ExtractPartitionKey() PartitionKey {
	return ExtractPartitionKey(*bs.stmt)
}

func (bs BorrowedBoundStatement) CalculateToken() (*Token, error) { return CalculateToken(*bs.stmt) }
