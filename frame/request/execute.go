package request

import (
	"github.com/scylladb/scylla-go-driver/frame"
)

var _ frame.Request = (*Execute)(nil)

// Execute is the EXECUTE request: runs a previously PREPAREd statement by
// its opaque ID, with bound values.
type Execute struct {
	ID     []byte
	Params QueryParams
}

func (e *Execute) WriteTo(b *frame.Buffer) {
	b.WriteShortBytes(e.ID)
	e.Params.writeTo(b)
}

func (*Execute) OpCode() frame.OpCode {
	return frame.OpExecute
}
