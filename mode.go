package ejdb

import "strings"

// Mode is the bit set passed to DB.Open.
type Mode uint32

const (
	ModeRead Mode = 1 << iota
	ModeWrite
	ModeCreate
	ModeTruncate
	// ModeNoLock skips the handle lock file. bbolt still locks each data
	// file, so two handles cannot write the same database concurrently.
	ModeNoLock
	ModeNonBlockingLock
	ModeSyncEveryTx

	ModeDefault = ModeRead | ModeWrite | ModeCreate
)

func (m Mode) Has(v Mode) bool {
	return m&v == v
}

func (m Mode) readOnly() bool {
	return !m.Has(ModeWrite)
}

func (m Mode) String() string {
	var parts []string
	for _, f := range []struct {
		m    Mode
		name string
	}{
		{ModeRead, "read"}, {ModeWrite, "write"}, {ModeCreate, "create"},
		{ModeTruncate, "truncate"}, {ModeNoLock, "nolock"},
		{ModeNonBlockingLock, "nonblocking"}, {ModeSyncEveryTx, "sync"},
	} {
		if m.Has(f.m) {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// IndexMode combines an index type with an optional maintenance operation.
type IndexMode uint32

const (
	IndexDrop IndexMode = 1 << iota
	IndexDropAll
	IndexOptimize
	IndexRebuild
	IndexNumber
	IndexString
	IndexArray
	IndexIString

	indexOpMask   = IndexDrop | IndexDropAll | IndexOptimize | IndexRebuild
	indexTypeMask = IndexNumber | IndexString | IndexArray | IndexIString
)

var indexTypes = []IndexMode{IndexNumber, IndexString, IndexArray, IndexIString}

func (m IndexMode) Has(v IndexMode) bool {
	return m&v == v
}

func (m IndexMode) types() []IndexMode {
	var out []IndexMode
	for _, t := range indexTypes {
		if m.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// typeName is the metadata name of a single index type.
func (m IndexMode) typeName() string {
	switch m {
	case IndexNumber:
		return "numeric"
	case IndexString:
		return "lexical"
	case IndexIString:
		return "icase"
	case IndexArray:
		return "token"
	}
	return ""
}

func indexTypeByName(s string) IndexMode {
	for _, t := range indexTypes {
		if t.typeName() == s {
			return t
		}
	}
	return 0
}

// prefix is the bucket name prefix of a single index type.
func (m IndexMode) prefix() byte {
	switch m {
	case IndexNumber:
		return 'n'
	case IndexString:
		return 's'
	case IndexIString:
		return 'i'
	case IndexArray:
		return 'a'
	}
	return '?'
}

// SearchMode selects what Execute returns.
type SearchMode uint32

const (
	SearchNormal    SearchMode = 0
	SearchCountOnly SearchMode = 1
	SearchFirstOnly SearchMode = 2
)

func (m SearchMode) Has(v SearchMode) bool {
	return m&v == v
}

// ImportMode controls how Import treats existing collections.
type ImportMode uint32

const (
	// ImportUpdate saves imported documents over existing ones with the
	// same _id.
	ImportUpdate ImportMode = 1 << iota
	// ImportReplace drops each collection before importing it.
	ImportReplace
)
