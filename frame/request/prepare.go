package request

import (
	"github.com/scylladb/scylla-go-driver/frame"
)

var _ frame.Request = (*Prepare)(nil)

// Prepare is the PREPARE request: asks the server to parse and cache a
// statement, returning an opaque ID plus bind-marker and result metadata.
type Prepare struct {
	Content string
}

func (p *Prepare) WriteTo(b *frame.Buffer) {
	b.WriteLongString(p.Content)
}

func (*Prepare) OpCode() frame.OpCode {
	return frame.OpPrepare
}
