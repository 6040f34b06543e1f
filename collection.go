package ejdb

import (
	"weak"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/andreyvit/ejdb/ecode"
)

// Collection is a named set of documents. A Collection stays usable only
// while its DB is reachable, open in the same session, and the collection
// itself has not been removed; otherwise every call fails with
// ecode.HandleExpired (or ecode.NotOpen when the DB is merely closed).
//
// A nil *Collection is invalid and safe to call.
type Collection struct {
	db   weak.Pointer[DB]
	gen  uint64
	name string
	cs   *collState
}

func (c *Collection) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Valid reports whether operations on c can currently succeed.
func (c *Collection) Valid() bool {
	return c.use("valid", func(*DB, *engine, *collState) error { return nil }) == nil
}

// use resolves the collection and runs fn while the DB is held open. The
// outcome is recorded as the DB's last error.
func (c *Collection) use(op string, fn func(db *DB, eng *engine, cs *collState) error) error {
	if c == nil {
		return ecode.New(ecode.HandleExpired, op)
	}
	db := c.db.Value()
	if db == nil {
		return ecode.New(ecode.HandleExpired, op)
	}
	st := db.st
	st.mu.RLock()
	defer st.mu.RUnlock()
	eng := st.eng
	if eng == nil {
		return db.record(ecode.New(ecode.NotOpen, op))
	}
	if eng.gen != c.gen || eng.colls[c.name] != c.cs {
		return db.record(ecode.New(ecode.HandleExpired, op))
	}
	err := safelyCall(func() error {
		return fn(db, eng, c.cs)
	})
	return db.record(ecode.FromStorage(op, ecode.MiscError, err))
}

// Sync flushes the collection file.
func (c *Collection) Sync() error {
	return c.use("sync", func(db *DB, eng *engine, cs *collState) error {
		return cs.sync()
	})
}

// view runs fn in the active transaction if there is one, otherwise in a
// read-only bbolt transaction that may run concurrently with others.
func (cs *collState) view(fn func(btx *bbolt.Tx) error) error {
	cs.mu.RLock()
	if cs.tx == nil {
		defer cs.mu.RUnlock()
		return cs.bdb.View(fn)
	}
	cs.mu.RUnlock()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.tx != nil {
		return fn(cs.tx)
	}
	return cs.bdb.View(fn)
}

// update runs fn in the active transaction if there is one, otherwise in its
// own write transaction. When that transaction fails to commit, index
// descriptors are reread from the file.
func (cs *collState) update(fn func(btx *bbolt.Tx) error) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.tx != nil {
		return fn(cs.tx)
	}
	if cs.bdb.IsReadOnly() {
		return ecode.Errorf(ecode.NoPermission, "", "collection %s is read-only", cs.name)
	}
	err := cs.bdb.Update(fn)
	if err != nil {
		if rerr := cs.reloadMeta(); rerr != nil {
			cs.log.Warn("reload index descriptors after failed update", zap.Error(rerr))
		}
	}
	return err
}

func (cs *collState) sync() error {
	return syncBolt(cs.bdb)
}

// close rolls back an active transaction and closes the file.
func (cs *collState) close() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.tx != nil {
		cs.tx.Rollback()
		cs.tx = nil
		cs.log.Warn("active transaction rolled back on close")
	}
	return closeBolt(cs.bdb)
}
