package ejdb

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/andreyvit/ejdb/ecode"
	"github.com/andreyvit/ejdb/query"
)

var (
	dataBucket   = []byte("data")
	collStateKey = []byte("_state")
	metaBucket   = []byte("meta")
)

// collMeta is persisted in the meta bucket of every collection file.
// Ordinals are never reused, so index key records left in stored values by
// a dropped index never collide with a newer index.
type collMeta struct {
	LastIndexOrdinal uint64                 `msgpack:"li"`
	Indexes          map[string]*indexState `msgpack:"i"`
	Created          time.Time              `msgpack:"t"`
}

type indexState struct {
	Path    string    `msgpack:"p"`
	Type    IndexMode `msgpack:"y"`
	Ordinal uint64    `msgpack:"o"`

	comps []string `msgpack:"-"`
}

func (is *indexState) bucketName() string {
	return indexBucketName(is.Path, is.Type)
}

func indexBucketName(path string, typ IndexMode) string {
	return string(typ.prefix()) + path
}

// collState is the open state of one collection file.
type collState struct {
	name string
	file string
	bdb  *bbolt.DB
	log  *zap.Logger

	// mu serialises writers and guards tx and meta. Readers without an active
	// transaction hold it shared.
	mu   sync.RWMutex
	tx   *bbolt.Tx
	meta *collMeta

	byOrd map[uint64]*indexState
}

func loadCollMeta(btx *bbolt.Tx) (*collMeta, error) {
	m := &collMeta{}
	if b := btx.Bucket(metaBucket); b != nil {
		if raw := b.Get(collStateKey); raw != nil {
			if err := msgpack.Unmarshal(raw, m); err != nil {
				return nil, ecode.Wrap(ecode.InvalidMetaData, "", err)
			}
		}
	}
	if m.Indexes == nil {
		m.Indexes = make(map[string]*indexState)
	}
	for _, is := range m.Indexes {
		comps, err := query.SplitPath(is.Path)
		if err != nil {
			return nil, ecode.Wrap(ecode.InvalidMetaData, "", err)
		}
		is.comps = comps
	}
	return m, nil
}

// prepareCollFile creates the fixed buckets of a collection file and returns
// its metadata.
func prepareCollFile(btx *bbolt.Tx, now time.Time) (*collMeta, error) {
	if _, err := btx.CreateBucketIfNotExists(dataBucket); err != nil {
		return nil, err
	}
	if _, err := btx.CreateBucketIfNotExists(metaBucket); err != nil {
		return nil, err
	}
	m, err := loadCollMeta(btx)
	if err != nil {
		return nil, err
	}
	if m.Created.IsZero() {
		m.Created = now
		if err := m.save(btx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *collMeta) save(btx *bbolt.Tx) error {
	raw, err := msgpack.Marshal(m)
	if err != nil {
		return err
	}
	return nonNil(btx.Bucket(metaBucket)).Put(collStateKey, raw)
}

func (cs *collState) setMeta(m *collMeta) {
	cs.meta = m
	cs.byOrd = make(map[uint64]*indexState, len(m.Indexes))
	for _, is := range m.Indexes {
		cs.byOrd[is.Ordinal] = is
	}
}

// reloadMeta rereads index descriptors after an aborted transaction.
func (cs *collState) reloadMeta() error {
	return cs.bdb.View(func(btx *bbolt.Tx) error {
		m, err := loadCollMeta(btx)
		if err != nil {
			return err
		}
		cs.setMeta(m)
		return nil
	})
}

// indexes returns the index descriptors sorted by path then type.
func (cs *collState) indexes() []*indexState {
	out := make([]*indexState, 0, len(cs.meta.Indexes))
	for _, is := range cs.meta.Indexes {
		out = append(out, is)
	}
	slices.SortFunc(out, func(a, b *indexState) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return int(a.Type) - int(b.Type)
	})
	return out
}

func (cs *collState) index(path string, typ IndexMode) *indexState {
	return cs.meta.Indexes[indexBucketName(path, typ)]
}

func (cs *collState) indexByOrdinal(ord uint64) *indexState {
	return cs.byOrd[ord]
}

// prepareToDeleteIndexEntries returns a callback deleting index entries of
// indexes that still exist.
func (cs *collState) prepareToDeleteIndexEntries(btx *bbolt.Tx) func(ord uint64, key []byte) {
	var curOrd uint64
	var idxBuck *bbolt.Bucket
	return func(ord uint64, key []byte) {
		if curOrd != ord {
			curOrd = ord
			if is := cs.indexByOrdinal(ord); is != nil {
				idxBuck = btx.Bucket([]byte(is.bucketName()))
			} else {
				idxBuck = nil
			}
		}
		if idxBuck != nil {
			ensure(idxBuck.Delete(key))
		}
	}
}
