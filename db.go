package ejdb

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/gofrs/flock"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/andreyvit/ejdb/ecode"
	"github.com/andreyvit/ejdb/query"
)

var collectionsBucket = []byte("collections")

// DB is a database handle. It is created closed; Open attaches it to files
// on disk. Collections and queries derived from a DB refer back to it weakly:
// once the DB is garbage collected, re-opened or closed they stop working.
//
// When a DB becomes unreachable its files are closed by a runtime cleanup.
type DB struct {
	st   *dbState
	self weak.Pointer[DB]
}

// dbState holds everything a DB owns. It is kept separate from DB so that
// the cleanup can close files without resurrecting the DB.
type dbState struct {
	opt     Options
	log     *zap.Logger
	verbose bool

	mu      sync.RWMutex
	eng     *engine
	lastGen uint64

	lastErr atomic.Int64
}

// engine is one Open..Close session.
type engine struct {
	gen   uint64
	path  string
	mode  Mode
	reg   *bbolt.DB
	lock  *flock.Flock
	colls map[string]*collState
}

type collEntry struct {
	File    string    `msgpack:"f"`
	Created time.Time `msgpack:"t"`
}

func New(opt Options) *DB {
	opt = opt.withDefaults()
	st := &dbState{
		opt:     opt,
		log:     opt.Logger,
		verbose: opt.Verbose,
	}
	db := &DB{st: st}
	db.self = weak.Make(db)
	runtime.AddCleanup(db, (*dbState).release, st)
	return db
}

// Open creates a handle and opens path with mode.
func Open(path string, mode Mode, opt Options) (*DB, error) {
	db := New(opt)
	if err := db.Open(path, mode); err != nil {
		return nil, err
	}
	return db, nil
}

func (st *dbState) release() {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.eng != nil {
		st.log.Warn("database handle collected while open", zap.String("path", st.eng.path))
		if err := st.closeEngine(); err != nil {
			st.log.Error("closing collected database", zap.Error(err))
		}
	}
}

func (db *DB) record(err error) error {
	db.st.lastErr.Store(int64(ecode.Of(err)))
	return err
}

// Error returns the outcome of the most recent operation on this handle or
// anything derived from it.
func (db *DB) Error() ecode.Code {
	return ecode.Code(db.st.lastErr.Load())
}

// Open attaches the handle to path. An already open handle is closed first,
// which invalidates every Collection and Query obtained from it.
func (db *DB) Open(path string, mode Mode) error {
	st := db.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.eng != nil {
		if err := st.closeEngine(); err != nil {
			st.log.Warn("closing before re-open", zap.Error(err))
		}
	}
	eng, err := st.openEngine(path, mode)
	if err != nil {
		return db.record(err)
	}
	st.eng = eng
	st.log.Info("database opened", zap.String("path", eng.path), zap.Stringer("mode", mode), zap.Int("collections", len(eng.colls)))
	return db.record(nil)
}

func (db *DB) IsOpen() bool {
	db.st.mu.RLock()
	defer db.st.mu.RUnlock()
	return db.st.eng != nil
}

// Path returns the registry file path, or "" when closed.
func (db *DB) Path() string {
	db.st.mu.RLock()
	defer db.st.mu.RUnlock()
	if db.st.eng == nil {
		return ""
	}
	return db.st.eng.path
}

// Close flushes and detaches the handle. Closing a closed handle succeeds.
// Active transactions are rolled back.
func (db *DB) Close() error {
	st := db.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.eng == nil {
		return db.record(nil)
	}
	path := st.eng.path
	err := st.closeEngine()
	st.log.Info("database closed", zap.String("path", path), zap.Error(err))
	return db.record(err)
}

func (st *dbState) openEngine(path string, mode Mode) (*engine, error) {
	const op = "open"
	if path == "" {
		return nil, ecode.Errorf(ecode.InvalidOperation, op, "empty path")
	}
	if mode&(ModeRead|ModeWrite) == 0 {
		return nil, ecode.Errorf(ecode.InvalidOperation, op, "mode %v has neither read nor write", mode)
	}
	if mode.Has(ModeTruncate) && mode.readOnly() {
		return nil, ecode.Errorf(ecode.InvalidOperation, op, "cannot truncate a read-only database")
	}
	if mode.Has(ModeTruncate) {
		mode |= ModeCreate
	}
	path = filepath.Clean(path)

	if _, err := os.Stat(path); os.IsNotExist(err) && (!mode.Has(ModeCreate) || mode.readOnly()) {
		return nil, ecode.Wrap(ecode.FileNotFound, op, err)
	}

	eng := &engine{
		path:  path,
		mode:  mode,
		colls: make(map[string]*collState),
	}
	ok := false
	defer func() {
		if !ok {
			st.closeEngineFiles(eng)
		}
	}()

	if !mode.Has(ModeNoLock) {
		fl, err := acquireHandleLock(path, mode, st.opt.LockTimeout)
		if err != nil {
			return nil, err
		}
		eng.lock = fl
	}

	if mode.Has(ModeTruncate) {
		if err := truncateFiles(path); err != nil {
			return nil, err
		}
	}

	reg, err := openBolt(path, st.opt, mode)
	if err != nil {
		return nil, err
	}
	eng.reg = reg

	entries := make(map[string]collEntry)
	load := func(btx *bbolt.Tx) error {
		b := btx.Bucket(collectionsBucket)
		if b == nil && btx.Writable() {
			var err error
			if b, err = btx.CreateBucket(collectionsBucket); err != nil {
				return err
			}
		}
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e collEntry
			if err := msgpack.Unmarshal(v, &e); err != nil {
				return ecode.Wrap(ecode.InvalidMetaData, op, err)
			}
			entries[string(k)] = e
			return nil
		})
	}
	if mode.readOnly() {
		err = reg.View(load)
	} else {
		err = reg.Update(load)
	}
	if err != nil {
		return nil, ecode.FromStorage(op, ecode.ReadError, err)
	}

	for name, e := range entries {
		cs, err := st.openCollFile(eng, name, e.File)
		if err != nil {
			return nil, err
		}
		eng.colls[name] = cs
	}

	st.lastGen++
	eng.gen = st.lastGen
	ok = true
	return eng, nil
}

func (st *dbState) openCollFile(eng *engine, name, file string) (*collState, error) {
	full := filepath.Join(filepath.Dir(eng.path), file)
	bdb, err := openBolt(full, st.opt, eng.mode)
	if err != nil {
		return nil, collErrf(name, "", err, "opening %s", full)
	}
	var meta *collMeta
	if bdb.IsReadOnly() {
		err = bdb.View(func(btx *bbolt.Tx) error {
			meta, err = loadCollMeta(btx)
			return err
		})
	} else {
		err = bdb.Update(func(btx *bbolt.Tx) error {
			meta, err = prepareCollFile(btx, time.Now())
			return err
		})
	}
	if err != nil {
		bdb.Close()
		return nil, collErrf(name, "", ecode.FromStorage("open", ecode.ReadError, err), "loading state")
	}
	cs := &collState{
		name: name,
		file: full,
		bdb:  bdb,
		log:  st.log.With(zap.String("coll", name)),
	}
	cs.setMeta(meta)
	return cs, nil
}

// truncateFiles removes the registry and every collection file of path.
func truncateFiles(path string) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return ecode.FromStorage("open", ecode.TruncateError, err)
	}
	for _, ent := range ents {
		n := ent.Name()
		if n != base && !strings.HasPrefix(n, base+"_") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, n)); err != nil && !os.IsNotExist(err) {
			return ecode.FromStorage("open", ecode.UnlinkError, err)
		}
	}
	return nil
}

func (st *dbState) closeEngine() error {
	err := st.closeEngineFiles(st.eng)
	st.eng = nil
	return err
}

func (st *dbState) closeEngineFiles(eng *engine) error {
	var errs []error
	for _, cs := range eng.colls {
		errs = append(errs, cs.close())
	}
	if eng.reg != nil {
		errs = append(errs, closeBolt(eng.reg))
	}
	if eng.lock != nil {
		if err := eng.lock.Unlock(); err != nil {
			errs = append(errs, ecode.FromStorage("close", ecode.LockError, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return ecode.Wrap(ecode.CloseError, "close", err)
	}
	return nil
}

// withEngine runs fn under the shared handle lock with the open engine.
func (db *DB) withEngine(op string, fn func(eng *engine) error) error {
	db.st.mu.RLock()
	defer db.st.mu.RUnlock()
	if db.st.eng == nil {
		return db.record(ecode.New(ecode.NotOpen, op))
	}
	return db.record(safelyCall(func() error { return fn(db.st.eng) }))
}

// withEngineExclusive is withEngine for operations that change the set of
// collections.
func (db *DB) withEngineExclusive(op string, fn func(eng *engine) error) error {
	db.st.mu.Lock()
	defer db.st.mu.Unlock()
	if db.st.eng == nil {
		return db.record(ecode.New(ecode.NotOpen, op))
	}
	return db.record(safelyCall(func() error { return fn(db.st.eng) }))
}

func (db *DB) wrap(eng *engine, cs *collState) *Collection {
	return &Collection{db: db.self, gen: eng.gen, name: cs.name, cs: cs}
}

// GetCollection returns the named collection, or nil with a nil error when
// it does not exist.
func (db *DB) GetCollection(name string) (*Collection, error) {
	var c *Collection
	err := db.withEngine("get_collection", func(eng *engine) error {
		if cs := eng.colls[name]; cs != nil {
			c = db.wrap(eng, cs)
		}
		return nil
	})
	return c, err
}

// CreateCollection returns the named collection, creating it if needed.
func (db *DB) CreateCollection(name string) (*Collection, error) {
	const op = "create_collection"
	if err := validateCollectionName(name); err != nil {
		return nil, db.record(ecode.Errorf(ecode.InvalidCollectionName, op, "%s", err))
	}
	var c *Collection
	err := db.withEngineExclusive(op, func(eng *engine) error {
		if cs := eng.colls[name]; cs != nil {
			c = db.wrap(eng, cs)
			return nil
		}
		if eng.mode.readOnly() {
			return ecode.Errorf(ecode.NoPermission, op, "database is read-only")
		}
		if len(eng.colls) >= db.st.opt.MaxCollections {
			return ecode.Errorf(ecode.TooManyCollections, op, "limit is %d", db.st.opt.MaxCollections)
		}
		entry := collEntry{
			File:    filepath.Base(eng.path) + "_" + name,
			Created: time.Now(),
		}
		cs, err := db.st.openCollFile(eng, name, entry.File)
		if err != nil {
			return err
		}
		err = eng.reg.Update(func(btx *bbolt.Tx) error {
			raw, err := msgpack.Marshal(&entry)
			if err != nil {
				return err
			}
			return nonNil(btx.Bucket(collectionsBucket)).Put([]byte(name), raw)
		})
		if err != nil {
			cs.close()
			return ecode.FromStorage(op, ecode.WriteError, err)
		}
		eng.colls[name] = cs
		db.st.log.Info("collection created", zap.String("coll", name), zap.String("file", cs.file))
		c = db.wrap(eng, cs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RemoveCollection forgets the named collection. With unlinkFiles the data
// file is deleted as well. Removing a missing collection succeeds. Existing
// Collection values for it become invalid.
func (db *DB) RemoveCollection(name string, unlinkFiles bool) error {
	const op = "remove_collection"
	return db.withEngineExclusive(op, func(eng *engine) error {
		cs := eng.colls[name]
		if cs == nil {
			return nil
		}
		if eng.mode.readOnly() {
			return ecode.Errorf(ecode.NoPermission, op, "database is read-only")
		}
		err := eng.reg.Update(func(btx *bbolt.Tx) error {
			return nonNil(btx.Bucket(collectionsBucket)).Delete([]byte(name))
		})
		if err != nil {
			return ecode.FromStorage(op, ecode.WriteError, err)
		}
		delete(eng.colls, name)
		closeErr := cs.close()
		if unlinkFiles {
			if err := os.Remove(cs.file); err != nil && !os.IsNotExist(err) {
				return ecode.FromStorage(op, ecode.UnlinkError, err)
			}
		}
		db.st.log.Info("collection removed", zap.String("coll", name), zap.Bool("unlink", unlinkFiles))
		return closeErr
	})
}

// Collections returns a snapshot of all collections sorted by name.
func (db *DB) Collections() ([]*Collection, error) {
	var out []*Collection
	err := db.withEngine("collections", func(eng *engine) error {
		for _, cs := range sortedColls(eng) {
			out = append(out, db.wrap(eng, cs))
		}
		return nil
	})
	return out, err
}

// CreateQuery compiles a BSON predicate document into a query bound to this
// handle.
func (db *DB) CreateQuery(predicate []byte) (*Query, error) {
	var q *Query
	err := db.withEngine("create_query", func(eng *engine) error {
		p, err := query.Compile(predicate)
		if err != nil {
			return err
		}
		q = &Query{db: db.self, gen: eng.gen, primary: p, hints: query.NewHints()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Sync flushes every file of the database.
func (db *DB) Sync() error {
	return db.withEngine("sync", func(eng *engine) error {
		for _, cs := range eng.colls {
			if err := cs.sync(); err != nil {
				return err
			}
		}
		return syncBolt(eng.reg)
	})
}

func validateCollectionName(name string) error {
	if name == "" {
		return errors.New("empty name")
	}
	if len(name) > maxCollectionNameLen {
		return errors.New("name too long")
	}
	if name[0] == '.' {
		return errors.New("name starts with a dot")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return errors.New("name contains " + string(r))
		}
	}
	return nil
}
