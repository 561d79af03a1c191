package response

import (
	"net"
	"strconv"

	"github.com/scylladb/scylla-go-driver/frame"
)

var _ frame.Response = (*Event)(nil)

// Event is a server-pushed EVENT frame, delivered on the control connection
// after REGISTER, on StreamID -1. EventType is one of TOPOLOGY_CHANGE,
// STATUS_CHANGE or SCHEMA_CHANGE.
type Event struct {
	EventType string

	// Populated for TOPOLOGY_CHANGE/STATUS_CHANGE.
	Change  string
	Address string

	// Populated for SCHEMA_CHANGE.
	SchemaChangeType string
	Target           string
	Keyspace         string
	Name             string
	Arguments        []string
}

func (*Event) OpCode() frame.OpCode { return frame.OpEvent }

func ParseEvent(b *frame.Buffer) *Event {
	e := &Event{EventType: b.ReadString()}
	switch e.EventType {
	case "TOPOLOGY_CHANGE", "STATUS_CHANGE":
		e.Change = b.ReadString()
		e.Address = parseInetAddrAndPort(b)
	case "SCHEMA_CHANGE":
		e.SchemaChangeType = b.ReadString()
		e.Target = b.ReadString()
		switch e.Target {
		case "KEYSPACE":
			e.Keyspace = b.ReadString()
		case "TABLE", "TYPE":
			e.Keyspace = b.ReadString()
			e.Name = b.ReadString()
		case "FUNCTION", "AGGREGATE":
			e.Keyspace = b.ReadString()
			e.Name = b.ReadString()
			n := int(b.ReadShort())
			e.Arguments = make([]string, n)
			for i := range e.Arguments {
				e.Arguments[i] = b.ReadString()
			}
		}
	}
	return e
}

// parseInetAddrAndPort reads a CQL [inet] and renders "host:port", matching
// the representation used to key Node lookups.
func parseInetAddrAndPort(b *frame.Buffer) string {
	addr, port := b.ReadInet()
	return net.JoinHostPort(net.IP(addr).String(), strconv.Itoa(int(port)))
}
