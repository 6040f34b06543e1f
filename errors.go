package ejdb

import (
	"fmt"

	"github.com/andreyvit/ejdb/ecode"
)

// DataError reports a stored record that cannot be decoded. It matches
// ecode.InvalidHeader under errors.Is.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Is(target error) bool {
	return target == ecode.InvalidHeader
}

func (e *DataError) Error() string {
	const prefixLen = 48
	const suffixLen = 16
	n := len(e.Data)
	var data string
	if n <= prefixLen+suffixLen {
		data = fmt.Sprintf("(%d) %x", n, e.Data)
	} else {
		data = fmt.Sprintf("(%d) %x...%x", n, e.Data[:prefixLen], e.Data[n-suffixLen:])
	}
	if e.Err != nil {
		return fmt.Sprintf("%s at %d: %v: %s", e.Msg, e.Off, e.Err, data)
	}
	return fmt.Sprintf("%s at %d: %s", e.Msg, e.Off, data)
}

// CollectionError wraps a failure inside one collection's file.
type CollectionError struct {
	Collection string
	Index      string
	Msg        string
	Err        error
}

func collErrf(coll, index string, err error, format string, args ...any) error {
	return &CollectionError{coll, index, fmt.Sprintf(format, args...), err}
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

func (e *CollectionError) Error() string {
	s := e.Collection
	if e.Index != "" {
		s += "." + e.Index
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
