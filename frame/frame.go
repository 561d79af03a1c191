// Package frame implements the CQL binary protocol v4 framing layer: frame
// headers, primitive wire types, and the request/response capability
// surfaces used by frame/request and frame/response.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// OpCode identifies the kind of a frame's body, per the CQL native protocol.
type OpCode byte

const (
	OpError        OpCode = 0x00
	OpStartup      OpCode = 0x01
	OpReady        OpCode = 0x02
	OpAuthenticate OpCode = 0x03
	OpOptions      OpCode = 0x05
	OpSupported    OpCode = 0x06
	OpQuery        OpCode = 0x07
	OpResult       OpCode = 0x08
	OpPrepare      OpCode = 0x09
	OpExecute      OpCode = 0x0A
	OpRegister     OpCode = 0x0B
	OpEvent        OpCode = 0x0C
	OpBatch        OpCode = 0x0D
	OpAuthChallenge OpCode = 0x0E
	OpAuthResponse OpCode = 0x0F
	OpAuthSuccess  OpCode = 0x10
)

func (o OpCode) String() string {
	switch o {
	case OpError:
		return "ERROR"
	case OpStartup:
		return "STARTUP"
	case OpReady:
		return "READY"
	case OpAuthenticate:
		return "AUTHENTICATE"
	case OpOptions:
		return "OPTIONS"
	case OpSupported:
		return "SUPPORTED"
	case OpQuery:
		return "QUERY"
	case OpResult:
		return "RESULT"
	case OpPrepare:
		return "PREPARE"
	case OpExecute:
		return "EXECUTE"
	case OpRegister:
		return "REGISTER"
	case OpEvent:
		return "EVENT"
	case OpBatch:
		return "BATCH"
	case OpAuthChallenge:
		return "AUTH_CHALLENGE"
	case OpAuthResponse:
		return "AUTH_RESPONSE"
	case OpAuthSuccess:
		return "AUTH_SUCCESS"
	default:
		return fmt.Sprintf("UNKNOWN(%#x)", byte(o))
	}
}

// Version is the protocol version byte, including the request/response bit.
type Version byte

const (
	CQLv4           Version = 0x04
	responseBit     Version = 0x80
	HeaderSize              = 9
	maxFrameBodyLen         = 256 * 1024 * 1024 // 256MB, protocol ceiling.
)

// Flags are frame header flags.
type HeaderFlags byte

const (
	FlagCompression HeaderFlags = 0x01
	FlagTracing     HeaderFlags = 0x02
	FlagCustomPayload HeaderFlags = 0x04
	FlagWarning     HeaderFlags = 0x08
)

// StreamID correlates a request with its response on one connection. It is
// a 15-bit value; the sign bit is reserved by the protocol for server-push
// (EVENT) frames which always carry a negative (-1) stream ID.
type StreamID int16

const EventStreamID StreamID = -1

// Header is the 9-byte frame header preceding every frame body.
type Header struct {
	Version  Version
	Flags    HeaderFlags
	StreamID StreamID
	OpCode   OpCode
	Length   uint32
}

func (h *Header) WriteTo(b *Buffer) {
	b.WriteByte(byte(CQLv4))
	b.WriteByte(byte(h.Flags))
	b.WriteShort(Short(h.StreamID))
	b.WriteByte(byte(h.OpCode))
	// Length is patched in by the writer once the body is known; reserve it.
	b.WriteInt(0)
}

// ParseHeader reads a Header from the front of b. Callers must have already
// copied exactly HeaderSize bytes into b.
func ParseHeader(b *Buffer) Header {
	var h Header
	h.Version = Version(b.readByte())
	h.Flags = HeaderFlags(b.readByte())
	h.StreamID = StreamID(b.ReadShort())
	h.OpCode = OpCode(b.readByte())
	h.Length = uint32(b.ReadInt())
	return h
}

// Request is implemented by every outgoing frame body.
type Request interface {
	WriteTo(b *Buffer)
	OpCode() OpCode
}

// Response is implemented by every incoming frame body.
type Response interface {
	OpCode() OpCode
}

// CopyBuffer writes the buffer's contents to w, as io.Copy would for a
// bytes.Reader, returning the number of bytes written.
func CopyBuffer(buf *Buffer, w io.Writer) (int64, error) {
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// BufferWriter adapts a Buffer as an io.Writer so io.CopyN can fill it
// directly from a connection without an intermediate allocation.
func BufferWriter(buf *Buffer) io.Writer {
	return (*bufferWriter)(buf)
}

type bufferWriter Buffer

func (w *bufferWriter) Write(p []byte) (int, error) {
	b := (*Buffer)(w)
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Buffer is an append-only byte buffer with CQL primitive encode/decode
// helpers. A single sticky error (set by the first failing read) makes
// chained decode calls safe without per-call error checks; callers check
// Error() once after a sequence of reads.
type Buffer struct {
	buf []byte
	pos int
	err error
}

func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.pos = 0
	b.err = nil
}

func (b *Buffer) Bytes() []byte { return b.buf }

func (b *Buffer) Len() int { return len(b.buf) - b.pos }

func (b *Buffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *Buffer) WriteByte(v byte) { b.buf = append(b.buf, v) }

func (b *Buffer) Error() error { return b.err }

func (b *Buffer) recordError(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Buffer) need(n int) bool {
	if b.err != nil {
		return false
	}
	if b.Len() < n {
		b.recordError(fmt.Errorf("frame: buffer underrun: need %d bytes, have %d", n, b.Len()))
		return false
	}
	return true
}

func (b *Buffer) readByte() byte {
	if !b.need(1) {
		return 0
	}
	v := b.buf[b.pos]
	b.pos++
	return v
}

// ReadByte reads a single raw byte, e.g. the length prefix of an [inetaddr].
func (b *Buffer) ReadByte() byte { return b.readByte() }

// ReadRawBytes reads n raw bytes with no length prefix of its own.
func (b *Buffer) ReadRawBytes(n int) []byte {
	if !b.need(n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, b.buf[b.pos:b.pos+n])
	b.pos += n
	return v
}

// WriteInetAddr writes a CQL [inetaddr]: a length byte followed by 4 or 16
// raw address bytes.
func (b *Buffer) WriteInetAddr(ip []byte) {
	b.WriteByte(byte(len(ip)))
	b.buf = append(b.buf, ip...)
}

// ReadInetAddr reads a CQL [inetaddr].
func (b *Buffer) ReadInetAddr() []byte {
	n := int(b.readByte())
	return b.ReadRawBytes(n)
}

// ReadInet reads a CQL [inet]: an [inetaddr] followed by an [int] port.
func (b *Buffer) ReadInet() (addr []byte, port int32) {
	return b.ReadInetAddr(), int32(b.ReadInt())
}

// Short is a CQL [short]: unsigned 16-bit integer.
type Short uint16

func (b *Buffer) WriteShort(v Short) {
	b.buf = binary.BigEndian.AppendUint16(b.buf, uint16(v))
}

func (b *Buffer) ReadShort() Short {
	if !b.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(b.buf[b.pos:])
	b.pos += 2
	return Short(v)
}

// Int is a CQL [int]: signed 32-bit integer.
type Int int32

func (b *Buffer) WriteInt(v Int) {
	b.buf = binary.BigEndian.AppendUint32(b.buf, uint32(v))
}

func (b *Buffer) ReadInt() Int {
	if !b.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(b.buf[b.pos:])
	b.pos += 4
	return Int(v)
}

// Long is a CQL [long]: signed 64-bit integer.
type Long int64

func (b *Buffer) WriteLong(v Long) {
	b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(v))
}

func (b *Buffer) ReadLong() Long {
	if !b.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(b.buf[b.pos:])
	b.pos += 8
	return Long(v)
}

// WriteString writes a CQL [string]: short length followed by UTF-8 bytes.
func (b *Buffer) WriteString(s string) {
	b.WriteShort(Short(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *Buffer) ReadString() string {
	n := int(b.ReadShort())
	if !b.need(n) {
		return ""
	}
	s := string(b.buf[b.pos : b.pos+n])
	b.pos += n
	return s
}

// WriteLongString writes a CQL [string]-like value with an [int] length prefix.
func (b *Buffer) WriteLongString(s string) {
	b.WriteInt(Int(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *Buffer) ReadLongString() string {
	n := int(b.ReadInt())
	if !b.need(n) {
		return ""
	}
	s := string(b.buf[b.pos : b.pos+n])
	b.pos += n
	return s
}

// Bytes is a CQL [bytes] value: int length (-1 = null) followed by content.
type Bytes = []byte

// WriteBytes writes a length-prefixed byte slice; nil encodes as length -1.
func (b *Buffer) WriteBytes(v []byte) {
	if v == nil {
		b.WriteInt(-1)
		return
	}
	b.WriteInt(Int(len(v)))
	b.buf = append(b.buf, v...)
}

// ReadBytes reads a CQL [bytes] value; returns nil for a -1 length.
func (b *Buffer) ReadBytes() []byte {
	n := int32(b.ReadInt())
	if n < 0 {
		return nil
	}
	if !b.need(int(n)) {
		return nil
	}
	v := make([]byte, n)
	copy(v, b.buf[b.pos:b.pos+int(n)])
	b.pos += int(n)
	return v
}

// WriteShortBytes writes a CQL [short bytes]: short length, then content.
func (b *Buffer) WriteShortBytes(v []byte) {
	b.WriteShort(Short(len(v)))
	b.buf = append(b.buf, v...)
}

func (b *Buffer) ReadShortBytes() []byte {
	n := int(b.ReadShort())
	if !b.need(n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, b.buf[b.pos:b.pos+n])
	b.pos += n
	return v
}

// StringList is a CQL [string list]: short count followed by [string]s.
type StringList []string

func (b *Buffer) WriteStringList(l StringList) {
	b.WriteShort(Short(len(l)))
	for _, s := range l {
		b.WriteString(s)
	}
}

func (b *Buffer) ReadStringList() StringList {
	n := int(b.ReadShort())
	l := make(StringList, 0, n)
	for i := 0; i < n; i++ {
		l = append(l, b.ReadString())
	}
	return l
}

// StringMap is a CQL [string map]: short count followed by [string]:[string] pairs.
type StringMap map[string]string

func (b *Buffer) WriteStringMap(m StringMap) {
	b.WriteShort(Short(len(m)))
	for k, v := range m {
		b.WriteString(k)
		b.WriteString(v)
	}
}

func (b *Buffer) ReadStringMap() StringMap {
	n := int(b.ReadShort())
	m := make(StringMap, n)
	for i := 0; i < n; i++ {
		k := b.ReadString()
		v := b.ReadString()
		m[k] = v
	}
	return m
}

// StringMultiMap is a CQL [string multimap], used by SUPPORTED.
type StringMultiMap map[string]StringList

func (b *Buffer) ReadStringMultiMap() StringMultiMap {
	n := int(b.ReadShort())
	m := make(StringMultiMap, n)
	for i := 0; i < n; i++ {
		k := b.ReadString()
		v := b.ReadStringList()
		m[k] = v
	}
	return m
}

// Consistency is the CQL consistency level, a protocol-level [short].
type Consistency Short

const (
	ANY         Consistency = 0x0000
	ONE         Consistency = 0x0001
	TWO         Consistency = 0x0002
	THREE       Consistency = 0x0003
	QUORUM      Consistency = 0x0004
	ALL         Consistency = 0x0005
	LOCALQUORUM Consistency = 0x0006
	EACHQUORUM  Consistency = 0x0007
	SERIAL      Consistency = 0x0008
	LOCALSERIAL Consistency = 0x0009
	LOCALONE    Consistency = 0x000A
)

func (c Consistency) String() string {
	switch c {
	case ANY:
		return "ANY"
	case ONE:
		return "ONE"
	case TWO:
		return "TWO"
	case THREE:
		return "THREE"
	case QUORUM:
		return "QUORUM"
	case ALL:
		return "ALL"
	case LOCALQUORUM:
		return "LOCAL_QUORUM"
	case EACHQUORUM:
		return "EACH_QUORUM"
	case SERIAL:
		return "SERIAL"
	case LOCALSERIAL:
		return "LOCAL_SERIAL"
	case LOCALONE:
		return "LOCAL_ONE"
	default:
		return fmt.Sprintf("UNKNOWN(%#x)", uint16(c))
	}
}

func (b *Buffer) WriteConsistency(c Consistency) { b.WriteShort(Short(c)) }
func (b *Buffer) ReadConsistency() Consistency   { return Consistency(b.ReadShort()) }

// StartupOptions carries the STARTUP request body, keyed by protocol option
// names such as CQL_VERSION and COMPRESSION.
type StartupOptions = StringMap
