package query

import (
	"encoding/binary"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/andreyvit/ejdb/ecode"
)

// CheckDocument validates raw BSON: a little-endian int32 length header equal
// to len(raw) and at least 5 bytes, then full structural validation. A
// positive maxSize also limits the document size.
func CheckDocument(raw []byte, maxSize int) error {
	if len(raw) < 5 {
		return ecode.Errorf(ecode.InvalidBSON, "", "%d bytes is shorter than a document header", len(raw))
	}
	if n := binary.LittleEndian.Uint32(raw); int64(n) != int64(len(raw)) {
		return ecode.Errorf(ecode.InvalidBSON, "", "header says %d bytes, got %d", n, len(raw))
	}
	if maxSize > 0 && len(raw) > maxSize {
		return ecode.Errorf(ecode.BSONTooLarge, "", "%d bytes exceeds %d", len(raw), maxSize)
	}
	if err := bson.Raw(raw).Validate(); err != nil {
		return ecode.Wrap(ecode.InvalidBSON, "", err)
	}
	return nil
}

// FromJSON converts relaxed extended JSON into BSON.
func FromJSON(s string) ([]byte, error) {
	var d bson.D
	if err := bson.UnmarshalExtJSON([]byte(s), false, &d); err != nil {
		return nil, ecode.Wrap(ecode.JSONParseFailed, "", err)
	}
	raw, err := bson.Marshal(d)
	if err != nil {
		return nil, ecode.Wrap(ecode.JSONParseFailed, "", err)
	}
	return raw, nil
}

// MustJSON is FromJSON for literals known to be valid.
func MustJSON(s string) []byte {
	raw, err := FromJSON(s)
	if err != nil {
		panic(err)
	}
	return raw
}

// ToJSON renders BSON as relaxed extended JSON.
func ToJSON(raw []byte) (string, error) {
	b, err := bson.MarshalExtJSON(bson.Raw(raw), false, false)
	if err != nil {
		return "", ecode.Wrap(ecode.InvalidBSON, "", err)
	}
	return string(b), nil
}
