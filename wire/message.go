package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/wiremessage"
)

// maxMessageSize bounds replies read from a server.
const maxMessageSize = 48 * 1000 * 1000

var errMalformed = errors.New("malformed wire message")

// appendMsg frames doc as an OP_MSG with a single body section.
func appendMsg(dst []byte, requestID, responseTo int32, doc []byte) []byte {
	idx, dst := wiremessage.AppendHeaderStart(dst, requestID, responseTo, wiremessage.OpMsg)
	dst = wiremessage.AppendMsgFlags(dst, 0)
	dst = wiremessage.AppendMsgSectionType(dst, wiremessage.SingleDocument)
	dst = append(dst, doc...)
	return bsoncore.UpdateLength(dst, idx, int32(len(dst[idx:])))
}

// readMsg reads one complete wire message.
func readMsg(r io.Reader) ([]byte, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, err
	}
	n := int32(binary.LittleEndian.Uint32(size[:]))
	if n < 16 || n > maxMessageSize {
		return nil, fmt.Errorf("%w: length %d", errMalformed, n)
	}
	msg := make([]byte, n)
	copy(msg, size[:])
	if _, err := io.ReadFull(r, msg[4:]); err != nil {
		return nil, err
	}
	return msg, nil
}

// parseMsg returns the body document of an OP_MSG.
func parseMsg(msg []byte) (requestID, responseTo int32, doc bson.Raw, err error) {
	_, requestID, responseTo, opcode, rem, ok := wiremessage.ReadHeader(msg)
	if !ok {
		return 0, 0, nil, fmt.Errorf("%w: short header", errMalformed)
	}
	if opcode != wiremessage.OpMsg {
		return 0, 0, nil, fmt.Errorf("%w: unexpected opcode %v", errMalformed, opcode)
	}
	flags, rem, ok := wiremessage.ReadMsgFlags(rem)
	if !ok {
		return 0, 0, nil, fmt.Errorf("%w: missing flags", errMalformed)
	}
	if flags&wiremessage.ChecksumPresent != 0 {
		if len(rem) < 4 {
			return 0, 0, nil, fmt.Errorf("%w: missing checksum", errMalformed)
		}
		rem = rem[:len(rem)-4]
	}
	if len(rem) == 0 {
		return 0, 0, nil, fmt.Errorf("%w: no body", errMalformed)
	}
	stype, rem, ok := wiremessage.ReadMsgSectionType(rem)
	if !ok {
		return 0, 0, nil, fmt.Errorf("%w: bad section", errMalformed)
	}
	if stype != wiremessage.SingleDocument {
		return 0, 0, nil, fmt.Errorf("%w: unexpected document sequence", errMalformed)
	}
	body, _, ok := wiremessage.ReadMsgSectionSingleDocument(rem)
	if !ok {
		return 0, 0, nil, fmt.Errorf("%w: bad body document", errMalformed)
	}
	return requestID, responseTo, bson.Raw(append([]byte(nil), body...)), nil
}
