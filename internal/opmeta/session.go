package opmeta

import (
	"bytes"
	"encoding/hex"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// Binary subtypes accepted as session identifiers.
const (
	subtypeUUIDOld = 0x03
	subtypeUUID    = 0x04
)

// sessionTextLen is the length of the hyphenated form xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx.
const sessionTextLen = 36

// sessionIDFromCommand locates lsid.id in command and encodes it into dst.
// It reports whether a session field was present but unusable; an absent
// session is not malformed. Neither case fails: dst is simply left empty.
func sessionIDFromCommand(dst *[SessionCapacity]byte, command []byte) (malformed bool) {
	defer func() {
		// A hostile payload must never take the worker down with it.
		if recover() != nil {
			clear(dst[:])
			malformed = true
		}
	}()

	lsid, err := bsoncore.Document(command).LookupErr("lsid")
	if err != nil {
		return false
	}
	doc, ok := lsid.DocumentOK()
	if !ok {
		return true
	}
	id, err := doc.LookupErr("id")
	if err != nil {
		return true
	}
	subtype, data, ok := id.BinaryOK()
	if !ok || (subtype != subtypeUUID && subtype != subtypeUUIDOld) {
		return true
	}
	return !EncodeSessionID(dst, data)
}

// EncodeSessionID writes the canonical text form of a 16-byte identifier
// into dst. It returns false and leaves dst untouched when id is not 16 bytes.
func EncodeSessionID(dst *[SessionCapacity]byte, id []byte) bool {
	u, err := uuid.FromBytes(id)
	if err != nil {
		return false
	}
	// Same layout as uuid.UUID.String, written in place.
	hex.Encode(dst[0:8], u[0:4])
	dst[8] = '-'
	hex.Encode(dst[9:13], u[4:6])
	dst[13] = '-'
	hex.Encode(dst[14:18], u[6:8])
	dst[18] = '-'
	hex.Encode(dst[19:23], u[8:10])
	dst[23] = '-'
	hex.Encode(dst[24:sessionTextLen], u[10:16])
	return true
}

// DecodeSessionID returns the session identifier stored in md, or "" when
// the operation carried none or the stored text is not a valid identifier.
func DecodeSessionID(md *OperationMetadata) string {
	text := md.SessionID[:]
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	if len(text) == 0 {
		return ""
	}
	u, err := uuid.ParseBytes(text)
	if err != nil {
		return ""
	}
	return u.String()
}

// SessionBinary builds the lsid sub-document value for id, as clients send it.
func SessionBinary(id uuid.UUID) bson.D {
	return bson.D{{Key: "id", Value: bson.Binary{Subtype: subtypeUUID, Data: id[:]}}}
}
