package ejdb

import (
	"math"
	"reflect"
	"testing"
)

func TestByteDecoder(t *testing.T) {
	buf := appendUvarint(nil, 300)
	buf = appendVarbytes(buf, []byte{0xAA, 0xBB})
	buf = append(buf, 1, 2, 3)

	d := makeByteDecoder(buf)
	v, err := d.Uvarint()
	if err != nil || v != 300 {
		t.Fatalf("Uvarint = (%d, %v), wanted (300, nil)", v, err)
	}
	b, err := d.VarBytes()
	if err != nil || !reflect.DeepEqual(b, []byte{0xAA, 0xBB}) {
		t.Fatalf("VarBytes = (%x, %v), wanted (aabb, nil)", b, err)
	}
	if d.Off() != 5 {
		t.Fatalf("Off = %d, wanted 5", d.Off())
	}
	raw, err := d.Raw(3)
	if err != nil || !reflect.DeepEqual(raw, []byte{1, 2, 3}) {
		t.Fatalf("Raw = (%x, %v), wanted (010203, nil)", raw, err)
	}
	if !d.Done() {
		t.Fatalf("Done = false, wanted true")
	}
	if _, err := d.Raw(1); err == nil {
		t.Fatalf("Raw past end err = nil, wanted error")
	}
	if _, err := d.Uvarint(); err == nil {
		t.Fatalf("Uvarint past end err = nil, wanted error")
	}
}

func TestByteDecoder_Uvarinti(t *testing.T) {
	d := makeByteDecoder(appendUvarint(nil, math.MaxUint64))
	if _, err := d.Uvarinti(); err == nil {
		t.Fatalf("Uvarinti(MaxUint64) err = nil, wanted error")
	}
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		in, want []byte
	}{
		{[]byte{1, 2}, []byte{1, 3}},
		{[]byte{1, 0xFF}, []byte{2}},
		{[]byte{0xFF, 0xFF}, nil},
		{nil, nil},
	}
	for _, tt := range tests {
		if got := prefixEnd(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("** prefixEnd(%x) = %x, wanted %x", tt.in, got, tt.want)
		}
	}
}
