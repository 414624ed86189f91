package opmeta

import (
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
)

// Payload is the stored view of a command: the original length as declared by
// the writer, and the bytes that physically fit in the slot.
type Payload struct {
	DeclaredLength uint32
	Physical       []byte
}

// PayloadOf returns md's command payload. Physical aliases md.Command.
func PayloadOf(md *OperationMetadata) Payload {
	n := md.CommandLength
	if n > CommandCapacity {
		n = CommandCapacity
	}
	return Payload{DeclaredLength: md.CommandLength, Physical: md.Command[:n]}
}

// IsTruncated reports whether the original command did not fit in the slot.
func (p Payload) IsTruncated() bool {
	return p.DeclaredLength > CommandCapacity
}

// HeaderLength returns the length the payload's own header declares.
func (p Payload) HeaderLength() (int32, bool) {
	length, _, ok := bsoncore.ReadLength(p.Physical)
	return length, ok
}

// IsTruncated reports whether md holds a truncated command.
func IsTruncated(md *OperationMetadata) bool {
	return PayloadOf(md).IsTruncated()
}

// Command is a decoded command payload.
type Command struct {
	// Raw is the full document, or when truncated a valid document built from
	// the complete leading elements of the stored prefix.
	Raw bson.Raw
	// Name is the key of the first element, which names a command.
	Name string
	// Length is the original command length in bytes.
	Length uint32
	// Truncated is set when Raw does not hold the whole original command.
	Truncated bool
	// Elements is the number of elements in Raw.
	Elements int
}

// DecodeCommand decodes md's command. It never fails: an unreadable prefix
// yields an empty document with the length and truncation flag still set.
func DecodeCommand(md *OperationMetadata) Command {
	p := PayloadOf(md)
	cmd := Command{Length: p.DeclaredLength, Truncated: p.IsTruncated()}

	if header, ok := p.HeaderLength(); ok && int(header) > len(p.Physical) {
		cmd.Truncated = true
	}

	elems := completeElements(p.Physical)
	cmd.Elements = len(elems)
	if len(elems) > 0 {
		cmd.Name = bsoncore.Element(elems[0]).Key()
	}

	if !cmd.Truncated && bsoncore.Document(p.Physical).Validate() == nil {
		cmd.Raw = bson.Raw(append([]byte(nil), p.Physical...))
		return cmd
	}
	cmd.Raw = bson.Raw(bsoncore.BuildDocumentFromElements(nil, elems...))
	return cmd
}

// completeElements returns the elements that lie entirely within doc,
// stopping at the terminator or at the first element cut short.
func completeElements(doc []byte) (elems [][]byte) {
	defer func() {
		if recover() != nil {
			elems = nil
		}
	}()

	_, rem, ok := bsoncore.ReadLength(doc)
	if !ok {
		return nil
	}
	for len(rem) > 0 && rem[0] != 0x00 {
		elem, next, ok := bsoncore.ReadElement(rem)
		if !ok || elem.Validate() != nil {
			break
		}
		elems = append(elems, elem)
		rem = next
	}
	return elems
}
