package ejdb

import (
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMaxCollections  = 1024
	DefaultMaxDocumentSize = 16 * 1024 * 1024
	DefaultLockTimeout     = 10 * time.Second

	maxCollectionNameLen = 128
)

type Options struct {
	// Logger receives lifecycle events at info level and, with Verbose, every
	// data operation at debug level. Defaults to a no-op logger.
	Logger    *zap.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	MaxCollections  int
	MaxDocumentSize int
	LockTimeout     time.Duration
}

func (opt Options) withDefaults() Options {
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.MaxCollections <= 0 {
		opt.MaxCollections = DefaultMaxCollections
	}
	if opt.MaxDocumentSize <= 0 {
		opt.MaxDocumentSize = DefaultMaxDocumentSize
	}
	if opt.LockTimeout <= 0 {
		opt.LockTimeout = DefaultLockTimeout
	}
	return opt
}
