package response

import (
	"fmt"

	"github.com/scylladb/scylla-go-driver/frame"
)

// ErrorCode is the [int] error code of an ERROR response, per the CQL
// protocol's error taxonomy.
type ErrorCode frame.Int

const (
	ErrServerError          ErrorCode = 0x0000
	ErrProtocolError        ErrorCode = 0x000A
	ErrBadCredentials       ErrorCode = 0x0100
	ErrUnavailable          ErrorCode = 0x1000
	ErrOverloaded           ErrorCode = 0x1001
	ErrIsBootstrapping      ErrorCode = 0x1002
	ErrTruncateError        ErrorCode = 0x1003
	ErrWriteTimeout         ErrorCode = 0x1100
	ErrReadTimeout          ErrorCode = 0x1200
	ErrReadFailure          ErrorCode = 0x1300
	ErrFunctionFailure      ErrorCode = 0x1400
	ErrWriteFailure         ErrorCode = 0x1500
	ErrSyntaxError          ErrorCode = 0x2000
	ErrUnauthorized         ErrorCode = 0x2100
	ErrInvalid              ErrorCode = 0x2200
	ErrConfigError          ErrorCode = 0x2300
	ErrAlreadyExists        ErrorCode = 0x2400
	ErrUnprepared           ErrorCode = 0x2500
)

func (c ErrorCode) String() string {
	switch c {
	case ErrServerError:
		return "server_error"
	case ErrProtocolError:
		return "protocol_error"
	case ErrBadCredentials:
		return "bad_credentials"
	case ErrUnavailable:
		return "unavailable"
	case ErrOverloaded:
		return "overloaded"
	case ErrIsBootstrapping:
		return "is_bootstrapping"
	case ErrTruncateError:
		return "truncate_error"
	case ErrWriteTimeout:
		return "write_timeout"
	case ErrReadTimeout:
		return "read_timeout"
	case ErrReadFailure:
		return "read_failure"
	case ErrFunctionFailure:
		return "function_failure"
	case ErrWriteFailure:
		return "write_failure"
	case ErrSyntaxError:
		return "syntax_error"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrInvalid:
		return "invalid"
	case ErrConfigError:
		return "config_error"
	case ErrAlreadyExists:
		return "already_exists"
	case ErrUnprepared:
		return "unprepared"
	default:
		return fmt.Sprintf("unknown_error(%#x)", frame.Int(c))
	}
}

// CodedError is implemented by every parsed ERROR response, letting callers
// (notably the retry policy) dispatch on the protocol error code without a
// type switch per concrete error struct.
type CodedError interface {
	error
	Code() ErrorCode
}

var _ frame.Response = (*Error)(nil)
var _ CodedError = (*Error)(nil)

// Error is the generic ERROR response body shared by every error code that
// carries no extra fields beyond code and message.
type Error struct {
	ErrCode ErrorCode
	Message string
}

func (e *Error) OpCode() frame.OpCode { return frame.OpError }
func (e *Error) Code() ErrorCode      { return e.ErrCode }
func (e *Error) Error() string        { return fmt.Sprintf("%s: %s", e.ErrCode, e.Message) }

// Unavailable carries the extra consistency/required/alive fields of an
// UNAVAILABLE error.
type Unavailable struct {
	Error
	Consistency       frame.Consistency
	RequiredReplicas  int32
	AliveReplicas     int32
}

// WriteTimeout carries the extra fields of a WRITE_TIMEOUT error.
type WriteTimeout struct {
	Error
	Consistency     frame.Consistency
	Received        int32
	BlockFor        int32
	WriteType       string
}

// ReadTimeout carries the extra fields of a READ_TIMEOUT error.
type ReadTimeout struct {
	Error
	Consistency  frame.Consistency
	Received     int32
	BlockFor     int32
	DataPresent  bool
}

// Unprepared carries the statement ID the server has forgotten, so the
// caller can transparently re-PREPARE and retry.
type Unprepared struct {
	Error
	UnknownID []byte
}

// AlreadyExists carries the keyspace/table that already existed.
type AlreadyExists struct {
	Error
	Keyspace string
	Table    string
}

// ParseError parses an ERROR response body, returning the richest struct
// the error code supports; all of them satisfy CodedError.
func ParseError(b *frame.Buffer) CodedError {
	code := ErrorCode(b.ReadInt())
	msg := b.ReadString()
	base := Error{ErrCode: code, Message: msg}

	switch code {
	case ErrUnavailable:
		return &Unavailable{
			Error:            base,
			Consistency:      b.ReadConsistency(),
			RequiredReplicas: int32(b.ReadInt()),
			AliveReplicas:    int32(b.ReadInt()),
		}
	case ErrWriteTimeout:
		return &WriteTimeout{
			Error:       base,
			Consistency: b.ReadConsistency(),
			Received:    int32(b.ReadInt()),
			BlockFor:    int32(b.ReadInt()),
			WriteType:   b.ReadString(),
		}
	case ErrReadTimeout:
		rt := &ReadTimeout{
			Error:       base,
			Consistency: b.ReadConsistency(),
			Received:    int32(b.ReadInt()),
			BlockFor:    int32(b.ReadInt()),
		}
		dp := b.ReadShort()
		rt.DataPresent = dp != 0
		return rt
	case ErrUnprepared:
		return &Unprepared{Error: base, UnknownID: b.ReadShortBytes()}
	case ErrAlreadyExists:
		return &AlreadyExists{Error: base, Keyspace: b.ReadString(), Table: b.ReadString()}
	default:
		return &base
	}
}
