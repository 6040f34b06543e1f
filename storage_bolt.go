package ejdb

import (
	"os"
	"time"

	"go.etcd.io/bbolt"

	"github.com/andreyvit/ejdb/ecode"
)

const fileMode = 0644

func boltOptions(opt Options, mode Mode) *bbolt.Options {
	bopt := new(bbolt.Options)
	*bopt = *bbolt.DefaultOptions
	if opt.IsTesting {
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024
	} else {
		bopt.InitialMmapSize = 64 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}
	bopt.ReadOnly = mode.readOnly()
	bopt.NoSync = !mode.Has(ModeSyncEveryTx)
	if mode.Has(ModeNonBlockingLock) {
		bopt.Timeout = time.Nanosecond
	} else {
		bopt.Timeout = opt.LockTimeout
	}
	return bopt
}

// openBolt opens one data file. A missing file is created only when the mode
// allows it.
func openBolt(path string, opt Options, mode Mode) (*bbolt.DB, error) {
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, ecode.FromStorage("open", ecode.StatError, err)
		}
		if !mode.Has(ModeCreate) || mode.readOnly() {
			return nil, ecode.Wrap(ecode.FileNotFound, "open", err)
		}
	}
	bdb, err := bbolt.Open(path, fileMode, boltOptions(opt, mode))
	if err != nil {
		return nil, ecode.FromStorage("open", ecode.OpenError, err)
	}
	return bdb, nil
}

// syncBolt flushes a file opened with NoSync.
func syncBolt(bdb *bbolt.DB) error {
	if bdb.IsReadOnly() {
		return nil
	}
	if err := bdb.Sync(); err != nil {
		return ecode.FromStorage("sync", ecode.SyncError, err)
	}
	return nil
}

func closeBolt(bdb *bbolt.DB) error {
	if err := syncBolt(bdb); err != nil {
		bdb.Close()
		return err
	}
	if err := bdb.Close(); err != nil {
		return ecode.FromStorage("close", ecode.CloseError, err)
	}
	return nil
}

// bucketStats summarises a bbolt bucket.
type bucketStats struct {
	KeyN       int
	LeafInuse  int
	TotalAlloc int
}

func statsOf(b *bbolt.Bucket) bucketStats {
	if b == nil {
		return bucketStats{}
	}
	s := b.Stats()
	return bucketStats{
		KeyN:       s.KeyN,
		LeafInuse:  s.LeafInuse,
		TotalAlloc: s.BranchAlloc + s.LeafAlloc,
	}
}
