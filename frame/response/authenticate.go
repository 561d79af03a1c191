package response

import (
	"github.com/scylladb/scylla-go-driver/frame"
)

var _ frame.Response = (*Authenticate)(nil)

// Authenticate is sent in reply to STARTUP when the server requires
// authentication, naming the IAuthenticator class to answer with an
// AUTH_RESPONSE.
type Authenticate struct {
	Authenticator string
}

func (*Authenticate) OpCode() frame.OpCode { return frame.OpAuthenticate }

func ParseAuthenticate(b *frame.Buffer) *Authenticate {
	return &Authenticate{Authenticator: b.ReadString()}
}
