// Package ecode defines the numeric error space of the database.
//
// Codes below 9000 describe storage engine faults (I/O, locking, missing
// files). Codes 9000..9018 describe structural problems with documents and
// queries. Codes from 9100 describe misuse of handles and transactions.
//
// Code implements error, so a bare code can be returned or compared with
// errors.Is. Most entry points return *Error, which carries the failing
// operation and an optional cause.
package ecode

import (
	"fmt"
	"strconv"
	"sync"
)

type Code int

const (
	Success          Code = 0
	ThreadError      Code = 1
	InvalidOperation Code = 2
	FileNotFound     Code = 3
	NoPermission     Code = 4
	InvalidMetaData  Code = 5
	InvalidHeader    Code = 6
	OpenError        Code = 7
	CloseError       Code = 8
	TruncateError    Code = 9
	SyncError        Code = 10
	StatError        Code = 11
	SeekError        Code = 12
	ReadError        Code = 13
	WriteError       Code = 14
	MmapError        Code = 15
	LockError        Code = 16
	UnlinkError      Code = 17
	RenameError      Code = 18
	MkdirError       Code = 19
	RmdirError       Code = 20
	ExistingRecord   Code = 21
	NoRecord         Code = 22
	MiscError        Code = 9999
)

const (
	InvalidCollectionName        Code = 9000
	InvalidBSON                  Code = 9001
	InvalidBSONOID               Code = 9002
	InvalidQueryControlField     Code = 9003
	QueryFieldRequireArray       Code = 9004
	InvalidMetadata              Code = 9005
	InvalidFieldPath             Code = 9006
	InvalidQueryRegex            Code = 9007
	QueryResultSortError         Code = 9008
	QueryError                   Code = 9009
	QueryUpdateFailed            Code = 9010
	QueryElemMatchLimit          Code = 9011
	QueryCannotMixIncludeExclude Code = 9012
	QueryInvalidAction           Code = 9013
	TooManyCollections           Code = 9014
	ImportExportError            Code = 9015
	JSONParseFailed              Code = 9016
	BSONTooLarge                 Code = 9017
	InvalidCommand               Code = 9018
)

const (
	// NotOpen: the handle exists but is not attached to storage.
	NotOpen Code = 9100
	// HandleExpired: the owning handle was garbage collected, re-opened, or
	// the collection was removed. Conceptually "no such device or address".
	HandleExpired           Code = 9101
	IllegalTransactionState Code = 9102
	NotImplemented          Code = 9103
)

var (
	messagesOnce sync.Once
	messages     map[Code]string
)

func table() map[Code]string {
	messagesOnce.Do(func() {
		messages = map[Code]string{
			Success:          "success",
			ThreadError:      "threading error",
			InvalidOperation: "invalid operation",
			FileNotFound:     "file not found",
			NoPermission:     "no permission",
			InvalidMetaData:  "invalid meta data",
			InvalidHeader:    "invalid record header",
			OpenError:        "open error",
			CloseError:       "close error",
			TruncateError:    "trunc error",
			SyncError:        "sync error",
			StatError:        "stat error",
			SeekError:        "seek error",
			ReadError:        "read error",
			WriteError:       "write error",
			MmapError:        "mmap error",
			LockError:        "lock error",
			UnlinkError:      "unlink error",
			RenameError:      "rename error",
			MkdirError:       "mkdir error",
			RmdirError:       "rmdir error",
			ExistingRecord:   "existing record",
			NoRecord:         "no record found",
			MiscError:        "miscellaneous error",

			InvalidCollectionName:        "invalid collection name",
			InvalidBSON:                  "invalid bson object",
			InvalidBSONOID:               "invalid bson object id",
			InvalidQueryControlField:     "invalid query control field starting with '$'",
			QueryFieldRequireArray:       "$strand, $stror, $in, $nin, $bt keys require a non-empty array value",
			InvalidMetadata:              "inconsistent database metadata",
			InvalidFieldPath:             "invalid field path value",
			InvalidQueryRegex:            "invalid query regexp value",
			QueryResultSortError:         "result set sorting error",
			QueryError:                   "query generic error",
			QueryUpdateFailed:            "updating failed",
			QueryElemMatchLimit:          "only one $elemMatch allowed in the fieldpath",
			QueryCannotMixIncludeExclude: "$fields hint cannot mix include and exclude fields",
			QueryInvalidAction:           "action key in $do block can only be $join",
			TooManyCollections:           "exceeded the maximum number of collections per database",
			ImportExportError:            "export/import error",
			JSONParseFailed:              "JSON parsing failed",
			BSONTooLarge:                 "BSON size is too big",
			InvalidCommand:               "invalid command specified",

			NotOpen:                 "operation not permitted: database is not open",
			HandleExpired:           "no such device or address: database handle expired",
			IllegalTransactionState: "illegal transaction state",
			NotImplemented:          "operation not implemented",
		}
	})
	return messages
}

// Message returns the human-readable description of a code.
func Message(c Code) string {
	if s, ok := table()[c]; ok {
		return s
	}
	return "unknown error " + strconv.Itoa(int(c))
}

func (c Code) Error() string {
	return Message(c)
}

func (c Code) String() string {
	return Message(c)
}

// IsStructural reports whether the code belongs to the document/query range.
func (c Code) IsStructural() bool {
	return c >= 9000 && c < 9100
}

type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func New(code Code, op string) *Error {
	return &Error{Code: code, Op: op}
}

func Errorf(code Code, op string, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func (e *Error) Error() string {
	s := Message(e.Code)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	if c, ok := target.(Code); ok {
		return e.Code == c
	}
	return false
}

// Of extracts the code carried by err: Success for nil, MiscError for errors
// that do not carry one.
func Of(err error) Code {
	if err == nil {
		return Success
	}
	for e := err; e != nil; {
		switch v := e.(type) {
		case *Error:
			return v.Code
		case Code:
			return v
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return MiscError
}
