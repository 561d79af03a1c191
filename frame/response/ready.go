package response

import (
	"github.com/scylladb/scylla-go-driver/frame"
)

var _ frame.Response = (*Ready)(nil)

// Ready indicates the server is ready for queries; sent in reply to STARTUP
// when no authentication is required.
type Ready struct{}

func (*Ready) OpCode() frame.OpCode { return frame.OpReady }

func ParseReady(b *frame.Buffer) *Ready {
	_ = b
	return &Ready{}
}
