package frame

import (
	"github.com/google/uuid"
)

// UUID is the CQL [uuid]: a 16-byte value, used verbatim for host IDs,
// schema-version IDs and prepared result-metadata IDs.
type UUID = uuid.UUID

// ParseUUID parses the raw 16 bytes of a CQL [uuid] value.
func ParseUUID(b []byte) (UUID, error) {
	return uuid.FromBytes(b)
}

func (b *Buffer) WriteUUID(u UUID) {
	raw, _ := u.MarshalBinary()
	b.buf = append(b.buf, raw...)
}

func (b *Buffer) ReadUUID() UUID {
	if !b.need(16) {
		return UUID{}
	}
	u, err := uuid.FromBytes(b.buf[b.pos : b.pos+16])
	if err != nil {
		b.recordError(err)
		return UUID{}
	}
	b.pos += 16
	return u
}
