package request

import (
	"github.com/scylladb/scylla-go-driver/frame"
)

var _ frame.Request = (*AuthResponse)(nil)

// AuthResponse answers a server AUTHENTICATE/AUTH_CHALLENGE with a SASL token.
type AuthResponse struct {
	Token []byte
}

func (a *AuthResponse) WriteTo(b *frame.Buffer) {
	b.WriteBytes(a.Token)
}

func (*AuthResponse) OpCode() frame.OpCode {
	return frame.OpAuthResponse
}

// PasswordAuthToken builds the SASL PLAIN token used by Cassandra/Scylla's
// built-in PasswordAuthenticator: a NUL-separated authzid/authcid/password.
func PasswordAuthToken(username, password string) []byte {
	tok := make([]byte, 0, len(username)+len(password)+2)
	tok = append(tok, 0)
	tok = append(tok, username...)
	tok = append(tok, 0)
	tok = append(tok, password...)
	return tok
}
