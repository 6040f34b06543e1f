package ejdb

import (
	"bytes"
	"encoding/binary"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/andreyvit/ejdb/query"
)

// Index entry keys are the encoded field value followed by the 12-byte OID
// of the record; entry values are empty.
const (
	oidLen          = 12
	maxStringKeyLen = 255
)

type indexRow struct {
	Ord uint64
	Key []byte
}

type indexRows []indexRow

func (rows indexRows) sort() {
	slices.SortFunc(rows, func(a, b indexRow) int {
		if a.Ord != b.Ord {
			if a.Ord < b.Ord {
				return -1
			}
			return 1
		}
		return bytes.Compare(a.Key, b.Key)
	})
}

func appendIndexKeys(buf []byte, rows indexRows) []byte {
	buf = appendUvarint(buf, uint64(len(rows)))
	for _, row := range rows {
		buf = appendUvarint(buf, row.Ord)
		buf = appendVarbytes(buf, row.Key)
	}
	return buf
}

func decodeIndexKeys(data []byte, f func(ord uint64, key []byte)) error {
	if len(data) == 0 {
		return nil
	}
	d := makeByteDecoder(data)
	n, err := d.Uvarinti()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		ord, err := d.Uvarint()
		if err != nil {
			return err
		}
		key, err := d.VarBytes()
		if err != nil {
			return err
		}
		f(ord, key)
	}
	return nil
}

type indexDiffer struct {
	newRows indexRows
}

func (d *indexDiffer) checkOldKey(oldOrd uint64, oldKey []byte) bool {
	for len(d.newRows) > 0 {
		newOrd := d.newRows[0].Ord
		if oldOrd < newOrd {
			return false
		} else if oldOrd == newOrd {
			c := bytes.Compare(oldKey, d.newRows[0].Key)
			if c < 0 {
				return false
			} else if c == 0 {
				return true
			}
		}
		d.newRows = d.newRows[1:]
	}
	return false
}

// findRemovedIndexKeys reports old keys absent from newRows. Both lists must
// be sorted by (ordinal, key).
func findRemovedIndexKeys(oldData []byte, newRows indexRows, removed func(ord uint64, key []byte)) error {
	d := indexDiffer{newRows}
	return decodeIndexKeys(oldData, func(ord uint64, key []byte) {
		if !d.checkOldKey(ord, key) {
			removed(ord, key)
		}
	})
}

// encodeNumber produces 8 bytes that sort like the float64 they encode.
func encodeNumber(f float64) []byte {
	if f == 0 {
		f = 0 // -0 sorts and compares equal to +0
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return binary.BigEndian.AppendUint64(make([]byte, 0, 8+oidLen), bits)
}

func decodeNumber(b []byte) float64 {
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// encodeString keeps short strings verbatim. Longer ones are cut to
// maxStringKeyLen bytes and suffixed with a hash of the full value, so
// equality lookups stay exact while prefix scans stay valid for short
// prefixes.
func encodeString(s string) []byte {
	if len(s) <= maxStringKeyLen {
		return append(make([]byte, 0, len(s)+oidLen), s...)
	}
	b := make([]byte, 0, maxStringKeyLen+8+oidLen)
	b = append(b, s[:maxStringKeyLen]...)
	return binary.BigEndian.AppendUint64(b, xxhash.Sum64String(s))
}

// fieldKeys returns the encoded values (without OID) that an index of type
// typ stores for doc, sorted and deduplicated.
func fieldKeys(typ IndexMode, path []string, doc bson.D) [][]byte {
	var keys [][]byte
	add := func(v any) {
		switch typ {
		case IndexNumber:
			if f, ok := query.ToFloat(v); ok {
				keys = append(keys, encodeNumber(f))
			}
		case IndexString:
			if s, ok := v.(string); ok {
				keys = append(keys, encodeString(s))
			}
		case IndexIString:
			if s, ok := v.(string); ok {
				keys = append(keys, encodeString(query.Fold(s)))
			}
		}
	}
	for _, v := range query.Resolve(doc, path) {
		if typ == IndexArray {
			for _, tok := range query.Tokens(v) {
				keys = append(keys, encodeString(tok))
			}
			continue
		}
		if arr, ok := query.AsArray(v); ok {
			for _, el := range arr {
				add(el)
			}
		} else {
			add(v)
		}
	}
	slices.SortFunc(keys, bytes.Compare)
	return slices.CompactFunc(keys, bytes.Equal)
}

// lookupKey encodes a query operand for an index of type typ.
func lookupKey(typ IndexMode, v any) ([]byte, bool) {
	switch typ {
	case IndexNumber:
		if f, ok := query.ToFloat(v); ok {
			return encodeNumber(f), true
		}
	case IndexString:
		if s, ok := v.(string); ok {
			return encodeString(s), true
		}
	case IndexArray:
		if s, ok := query.Scalar(v); ok {
			return encodeString(s), true
		}
	case IndexIString:
		if s, ok := v.(string); ok {
			return encodeString(query.Fold(s)), true
		}
	}
	return nil, false
}

func appendOID(key []byte, oid bson.ObjectID) []byte {
	return append(key, oid[:]...)
}

func splitIndexKey(key []byte) ([]byte, bson.ObjectID) {
	var oid bson.ObjectID
	n := len(key) - oidLen
	copy(oid[:], key[n:])
	return key[:n], oid
}
