package transport

import (
	"fmt"

	"github.com/scylladb/scylla-go-driver/frame"
	. "github.com/scylladb/scylla-go-driver/frame/response"
)

// responseAsError returns either a wrapped unexpected-response error or the
// CodedError a server ERROR response carries.
func responseAsError(res frame.Response) error {
	if v, ok := res.(CodedError); ok {
		return v
	}
	return fmt.Errorf("unexpected response %T, %+v", res, res)
}

// ConnectionError covers dial, handshake and TLS failures, and a connection
// broken mid-flight. It is always retried on the next attempt by the
// executor, never on the same connection.
type ConnectionError struct {
	Addr string
	Op   string // "dial", "handshake", "tls", "broken"
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connection error (%s) to %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ErrConnectionBroken is returned to every in-flight waiter when a
// connection transitions to draining.
var ErrConnectionBroken = &ConnectionError{Op: "broken", Err: fmt.Errorf("connection broken")}

// ProtocolError covers malformed frames, unknown opcodes, and version
// mismatches. Fatal for the connection; never retried.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("transport: protocol error: %s", e.Reason) }

// TimeoutError distinguishes a deadline exceeding from whatever the last
// underlying cause was.
type TimeoutError struct {
	Op string // "connect", "handshake", "request"
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("transport: %s timed out", e.Op) }

// PartitionKeyError is the taxonomy of partition-key errors.
type PartitionKeyError struct {
	Reason string
}

func (e *PartitionKeyError) Error() string { return fmt.Sprintf("transport: partition key error: %s", e.Reason) }

// PartitionKeyCountMismatchError is returned by
// ClusterState.ComputeTokenPreserialized.
type PartitionKeyCountMismatchError struct {
	Keyspace, Table   string
	Received, Expected int
}

func (e *PartitionKeyCountMismatchError) Error() string {
	return fmt.Sprintf("transport: partition key count mismatch for %s.%s: received %d, expected %d",
		e.Keyspace, e.Table, e.Received, e.Expected)
}
