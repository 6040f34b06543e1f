package ejdb

// Stored record layout:
//
//	uvarint flags
//	uvarint modCount
//	uvarint dataSize
//	uvarint indexSize
//	data  (BSON document, dataSize bytes)
//	index (index key records, see appendIndexKeys)
//
// The index part lists every index key written for the record so that an
// overwrite or removal can delete exactly the stale entries.

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3

	vfVerMask       = vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3
	vfVer1          = vfVerBit0
	vfSupportedMask = vfVerMask
	vfDefault       = vfVer1

	minValueSize = 4 + 5
)

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

type value struct {
	Flags    valueFlags
	ModCount uint64
	Data     []byte
	Index    []byte
}

func encodeValue(buf []byte, modCount uint64, data []byte, rows indexRows) []byte {
	index := appendIndexKeys(indexBytesPool.Get().([]byte), rows)
	defer releaseIndexBytes(index)
	buf = appendUvarint(buf, uint64(vfDefault))
	buf = appendUvarint(buf, modCount)
	buf = appendUvarint(buf, uint64(len(data)))
	buf = appendUvarint(buf, uint64(len(index)))
	buf = append(buf, data...)
	return append(buf, index...)
}

func (vle *value) decode(raw []byte) error {
	d := makeByteDecoder(raw)
	if len(raw) < minValueSize {
		return dataErrf(raw, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}

	v, err := d.Uvarint()
	if err != nil {
		return err
	}
	if v&^uint64(vfSupportedMask) != 0 || valueFlags(v).ver() != vfVer1 {
		return dataErrf(raw, d.Off(), nil, "invalid value: unsupported flags %x", v)
	}
	vle.Flags = valueFlags(v)

	if vle.ModCount, err = d.Uvarint(); err != nil {
		return err
	}
	dataSize, err := d.Uvarinti()
	if err != nil {
		return err
	}
	indexSize, err := d.Uvarinti()
	if err != nil {
		return err
	}
	if len(d.Buf) != dataSize+indexSize {
		return dataErrf(raw, d.Off(), nil, "invalid value: got %d bytes for data+index, expected %d", len(d.Buf), dataSize+indexSize)
	}
	vle.Data = d.Buf[:dataSize]
	vle.Index = d.Buf[dataSize:]
	return nil
}
