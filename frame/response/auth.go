package response

import (
	"github.com/scylladb/scylla-go-driver/frame"
)

var (
	_ frame.Response = (*AuthChallenge)(nil)
	_ frame.Response = (*AuthSuccess)(nil)
)

// AuthChallenge is a SASL challenge from the server's authenticator,
// answered with another AUTH_RESPONSE.
type AuthChallenge struct {
	Token []byte
}

func (*AuthChallenge) OpCode() frame.OpCode { return frame.OpAuthChallenge }

func ParseAuthChallenge(b *frame.Buffer) *AuthChallenge {
	return &AuthChallenge{Token: b.ReadBytes()}
}

// AuthSuccess ends a successful SASL exchange, optionally with a final token.
type AuthSuccess struct {
	Token []byte
}

func (*AuthSuccess) OpCode() frame.OpCode { return frame.OpAuthSuccess }

func ParseAuthSuccess(b *frame.Buffer) *AuthSuccess {
	return &AuthSuccess{Token: b.ReadBytes()}
}
