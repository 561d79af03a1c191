package frame

import "fmt"

// OptionID identifies a CQL declared type, per the [option] wire encoding
// used in RESULT metadata and prepared-statement column specs.
type OptionID Short

const (
	CustomID    OptionID = 0x0000
	AsciiID     OptionID = 0x0001
	BigintID    OptionID = 0x0002
	BlobID      OptionID = 0x0003
	BooleanID   OptionID = 0x0004
	CounterID   OptionID = 0x0005
	DecimalID   OptionID = 0x0006
	DoubleID    OptionID = 0x0007
	FloatID     OptionID = 0x0008
	IntID       OptionID = 0x0009
	TimestampID OptionID = 0x000B
	UUIDID      OptionID = 0x000C
	VarcharID   OptionID = 0x000D
	VarintID    OptionID = 0x000E
	TimeUUIDID  OptionID = 0x000F
	InetID      OptionID = 0x0010
	DateID      OptionID = 0x0011
	TimeID      OptionID = 0x0012
	SmallintID  OptionID = 0x0013
	TinyintID   OptionID = 0x0014
	DurationID  OptionID = 0x0015
	ListID      OptionID = 0x0020
	MapID       OptionID = 0x0021
	SetID       OptionID = 0x0022
	UDTID       OptionID = 0x0030
	TupleID     OptionID = 0x0031
)

func (id OptionID) String() string {
	switch id {
	case CustomID:
		return "custom"
	case AsciiID:
		return "ascii"
	case BigintID:
		return "bigint"
	case BlobID:
		return "blob"
	case BooleanID:
		return "boolean"
	case CounterID:
		return "counter"
	case DecimalID:
		return "decimal"
	case DoubleID:
		return "double"
	case FloatID:
		return "float"
	case IntID:
		return "int"
	case TimestampID:
		return "timestamp"
	case UUIDID:
		return "uuid"
	case VarcharID:
		return "varchar"
	case VarintID:
		return "varint"
	case TimeUUIDID:
		return "timeuuid"
	case InetID:
		return "inet"
	case DateID:
		return "date"
	case TimeID:
		return "time"
	case SmallintID:
		return "smallint"
	case TinyintID:
		return "tinyint"
	case DurationID:
		return "duration"
	case ListID:
		return "list"
	case MapID:
		return "map"
	case SetID:
		return "set"
	case UDTID:
		return "udt"
	case TupleID:
		return "tuple"
	default:
		return fmt.Sprintf("unknown(%#x)", Short(id))
	}
}

// Option is the declared type of a bind marker or result column. It is the
// (value, declared_type) => bytes contract's "declared_type" half; the
// actual value <-> bytes conversion is left to an external value-serializer
// implementation (see the Serializer interface in this package), matching
// the driver's "concrete value codecs are a collaborator, not core" scope.
//
// Composite options (List/Set/Map/Tuple/UDT) recurse: a List's element type
// is itself an *Option, and so on.
type Option struct {
	ID OptionID

	// Set when ID == CustomID.
	CustomClass string

	// Set when ID == ListID or SetID.
	Elem *Option

	// Set when ID == MapID.
	Key, Value *Option

	// Set when ID == TupleID.
	Tuple []*Option

	// Set when ID == UDTID.
	UDTKeyspace string
	UDTName     string
	UDTFields   []UDTField
}

// UDTField is one named, typed field of a user-defined type.
type UDTField struct {
	Name string
	Type *Option
}

func NativeOption(id OptionID) *Option { return &Option{ID: id} }

func ListOption(elem *Option) *Option { return &Option{ID: ListID, Elem: elem} }
func SetOption(elem *Option) *Option  { return &Option{ID: SetID, Elem: elem} }
func MapOption(k, v *Option) *Option  { return &Option{ID: MapID, Key: k, Value: v} }
func TupleOption(elems ...*Option) *Option {
	return &Option{ID: TupleID, Tuple: elems}
}

func (o *Option) WriteTo(b *Buffer) {
	b.WriteShort(Short(o.ID))
	switch o.ID {
	case CustomID:
		b.WriteString(o.CustomClass)
	case ListID, SetID:
		o.Elem.WriteTo(b)
	case MapID:
		o.Key.WriteTo(b)
		o.Value.WriteTo(b)
	case TupleID:
		b.WriteShort(Short(len(o.Tuple)))
		for _, e := range o.Tuple {
			e.WriteTo(b)
		}
	case UDTID:
		b.WriteString(o.UDTKeyspace)
		b.WriteString(o.UDTName)
		b.WriteShort(Short(len(o.UDTFields)))
		for _, f := range o.UDTFields {
			b.WriteString(f.Name)
			f.Type.WriteTo(b)
		}
	}
}

// ParseOption reads an [option] from b, recursing into composite types.
func ParseOption(b *Buffer) *Option {
	id := OptionID(b.ReadShort())
	o := &Option{ID: id}
	switch id {
	case CustomID:
		o.CustomClass = b.ReadString()
	case ListID, SetID:
		o.Elem = ParseOption(b)
	case MapID:
		o.Key = ParseOption(b)
		o.Value = ParseOption(b)
	case TupleID:
		n := int(b.ReadShort())
		o.Tuple = make([]*Option, n)
		for i := range o.Tuple {
			o.Tuple[i] = ParseOption(b)
		}
	case UDTID:
		o.UDTKeyspace = b.ReadString()
		o.UDTName = b.ReadString()
		n := int(b.ReadShort())
		o.UDTFields = make([]UDTField, n)
		for i := range o.UDTFields {
			o.UDTFields[i].Name = b.ReadString()
			o.UDTFields[i].Type = ParseOption(b)
		}
	}
	return o
}

// Serializer is the external value-serializer collaborator: it converts a
// Go value into CQL wire bytes against a declared type. The codec never
// performs this conversion itself -- a type mismatch is the serializer's
// responsibility to reject with a *SerializationError.
type Serializer interface {
	Serialize(declared *Option) (n int32, bytes []byte, err error)
}

// SerializationError is returned by a Serializer on a declared-type mismatch
// or an out-of-range value. It is never retried by the request executor.
type SerializationError struct {
	Declared *Option
	Reason   string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("frame: serialization error against declared type %s: %s", e.Declared.ID, e.Reason)
}
