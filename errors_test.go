package ejdb

import (
	"errors"
	"strings"
	"testing"

	"github.com/andreyvit/ejdb/ecode"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("err = %T, wanted *DataError", err)
		}
		if !errors.Is(err, inner) {
			t.Fatalf("errors.Is(err, inner) = false, wanted true")
		}
		if !errors.Is(err, ecode.InvalidHeader) {
			t.Fatalf("errors.Is(err, InvalidHeader) = false, wanted true")
		}
		s := err.Error()
		if !strings.Contains(s, "oops") || !strings.Contains(s, "inner") || !strings.Contains(s, "(2)") {
			t.Fatalf("err.Error() = %q, wanted message with oops/inner/(2)", s)
		}
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		err := dataErrf(data, 0, nil, "oops")
		s := err.Error()
		if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
			t.Fatalf("err.Error() = %q, wanted message with (200) and ...", s)
		}
	})
}

func TestCollectionError_ErrorAndUnwrap(t *testing.T) {
	inner := ecode.New(ecode.InvalidBSON, "")
	err := collErrf("contacts", "sname", inner, "record %d", 1)
	if !errors.Is(err, ecode.InvalidBSON) {
		t.Fatalf("errors.Is(err, InvalidBSON) = false, wanted true")
	}
	if c := ecode.Of(err); c != ecode.InvalidBSON {
		t.Fatalf("ecode.Of = %v, wanted %v", c, ecode.InvalidBSON)
	}
	s := err.Error()
	if !strings.Contains(s, "contacts.sname") || !strings.Contains(s, "record 1") {
		t.Fatalf("err.Error() = %q, wanted collection/index/msg", s)
	}

	s = (&CollectionError{Collection: "c", Err: errors.New("inner")}).Error()
	if s != "c: inner" {
		t.Fatalf("CollectionError.Error() = %q, wanted %q", s, "c: inner")
	}
}

func TestSafelyCall(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := safelyCall(func() error {
		ensure(sentinel)
		return nil
	})
	if err != sentinel {
		t.Fatalf("safelyCall(ensure) = %v, wanted sentinel", err)
	}

	err = safelyCall(func() error {
		panic("boom")
	})
	var p panicked
	if !errors.As(err, &p) || p.reason != "boom" {
		t.Fatalf("safelyCall(panic) = %v, wanted panicked{boom}", err)
	}
	if ecode.Of(err) != ecode.MiscError {
		t.Fatalf("ecode.Of(panicked) = %v, wanted MiscError", ecode.Of(err))
	}
}
