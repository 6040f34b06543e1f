package ecode

import (
	"errors"
	"io/fs"

	"go.etcd.io/bbolt"
)

// FromStorage converts an error returned by bbolt or the file system into an
// *Error. Errors that already carry a code are returned unchanged; unknown
// errors get the fallback code.
func FromStorage(op string, fallback Code, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if c, ok := err.(Code); ok {
		return New(c, op)
	}
	return Wrap(storageCode(err, fallback), op, err)
}

func storageCode(err error, fallback Code) Code {
	switch {
	case errors.Is(err, InvalidHeader):
		return InvalidHeader
	case errors.Is(err, bbolt.ErrTimeout):
		return LockError
	case errors.Is(err, fs.ErrNotExist):
		return FileNotFound
	case errors.Is(err, fs.ErrPermission),
		errors.Is(err, bbolt.ErrDatabaseReadOnly),
		errors.Is(err, bbolt.ErrTxNotWritable):
		return NoPermission
	case errors.Is(err, bbolt.ErrDatabaseNotOpen):
		return NotOpen
	case errors.Is(err, bbolt.ErrInvalid),
		errors.Is(err, bbolt.ErrVersionMismatch),
		errors.Is(err, bbolt.ErrChecksum),
		errors.Is(err, bbolt.ErrBucketNotFound):
		return InvalidMetaData
	case errors.Is(err, bbolt.ErrTxClosed):
		return IllegalTransactionState
	case errors.Is(err, bbolt.ErrKeyTooLarge),
		errors.Is(err, bbolt.ErrValueTooLarge):
		return BSONTooLarge
	}
	return fallback
}
