package ejdb

import (
	"bytes"
	"maps"

	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/andreyvit/ejdb/ecode"
	"github.com/andreyvit/ejdb/query"
)

// SetIndex creates, drops, rebuilds or optimizes the indexes of a field
// path. mode combines type bits (IndexNumber, IndexString, IndexIString,
// IndexArray) with at most one operation bit; without an operation bit the
// listed types are created if absent. IndexDropAll, IndexRebuild and
// IndexOptimize without type bits apply to every existing index of the path.
//
// All changes of one call are applied atomically.
func (c *Collection) SetIndex(path string, mode IndexMode) error {
	const op = "set_index"
	return c.use(op, func(db *DB, eng *engine, cs *collState) error {
		comps, err := query.SplitPath(path)
		if err != nil {
			return err
		}
		if mode&indexTypeMask == 0 && (mode&indexOpMask == 0 || mode.Has(IndexDrop) && !mode.Has(IndexDropAll)) {
			return ecode.Errorf(ecode.InvalidOperation, op, "index mode %#x has no type", uint32(mode))
		}
		return cs.update(func(btx *bbolt.Tx) error {
			return cs.setIndex(btx, path, comps, mode)
		})
	})
}

func (cs *collState) setIndex(btx *bbolt.Tx, path string, comps []string, mode IndexMode) error {
	types := mode.types()
	if len(types) == 0 || mode.Has(IndexDropAll) {
		types = nil
		for _, t := range indexTypes {
			if cs.index(path, t) != nil {
				types = append(types, t)
			}
		}
	}

	prev := cs.meta
	m := prev.clone()
	var fill bool
	for _, t := range types {
		name := indexBucketName(path, t)
		is := m.Indexes[name]
		switch {
		case mode.Has(IndexDrop), mode.Has(IndexDropAll):
			if is == nil {
				continue
			}
			if err := deleteBucket(btx, name); err != nil {
				return err
			}
			delete(m.Indexes, name)
			cs.log.Info("index dropped", zap.String("index", name))

		case mode.Has(IndexOptimize):
			if is == nil {
				continue
			}
			if err := optimizeBucket(btx, []byte(name)); err != nil {
				return err
			}
			cs.log.Info("index optimized", zap.String("index", name))

		case mode.Has(IndexRebuild):
			if is != nil {
				if err := deleteBucket(btx, name); err != nil {
					return err
				}
			} else {
				is = m.addIndex(path, comps, t)
			}
			if _, err := btx.CreateBucket([]byte(name)); err != nil {
				return err
			}
			fill = true
			cs.log.Info("index rebuilt", zap.String("index", name))

		default:
			if is != nil {
				continue
			}
			m.addIndex(path, comps, t)
			if _, err := btx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
			fill = true
			cs.log.Info("index created", zap.String("index", name))
		}
	}

	if err := m.save(btx); err != nil {
		return err
	}
	cs.setMeta(m)
	if fill {
		if err := cs.reindex(btx); err != nil {
			cs.setMeta(prev)
			return err
		}
	}
	return nil
}

func (m *collMeta) clone() *collMeta {
	c := *m
	c.Indexes = maps.Clone(m.Indexes)
	return &c
}

func (m *collMeta) addIndex(path string, comps []string, typ IndexMode) *indexState {
	m.LastIndexOrdinal++
	is := &indexState{
		Path:    path,
		Type:    typ,
		Ordinal: m.LastIndexOrdinal,
		comps:   comps,
	}
	m.Indexes[is.bucketName()] = is
	return is
}

// reindex rewrites every record so that index entries and the key records
// stored in values match the current index set.
func (cs *collState) reindex(btx *bbolt.Tx) error {
	data := nonNil(btx.Bucket(dataBucket))
	var oids []bson.ObjectID
	c := data.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		var oid bson.ObjectID
		copy(oid[:], k)
		oids = append(oids, oid)
	}
	for _, oid := range oids {
		var old value
		if err := old.decode(data.Get(oid[:])); err != nil {
			return collErrf(cs.name, "", err, "record %s", oid.Hex())
		}
		var doc bson.D
		if err := bson.Unmarshal(old.Data, &doc); err != nil {
			return collErrf(cs.name, "", ecode.Wrap(ecode.InvalidBSON, "", err), "record %s", oid.Hex())
		}
		rows := cs.indexRows(doc, oid)
		if err := findRemovedIndexKeys(old.Index, rows, cs.prepareToDeleteIndexEntries(btx)); err != nil {
			return err
		}
		if err := cs.putIndexRows(btx, rows); err != nil {
			return err
		}
		raw := cloneBytes(old.Data)
		err := data.Put(oid[:], encodeValue(nil, old.ModCount, raw, rows))
		releaseIndexRows(rows)
		if err != nil {
			return err
		}
	}
	return nil
}

func deleteBucket(btx *bbolt.Tx, name string) error {
	err := btx.DeleteBucket([]byte(name))
	if err == bbolt.ErrBucketNotFound {
		return nil
	}
	return err
}

// optimizeBucket rewrites a bucket with fully packed pages.
func optimizeBucket(btx *bbolt.Tx, name []byte) error {
	b := btx.Bucket(name)
	if b == nil {
		return nil
	}
	type kv struct{ k, v []byte }
	var entries []kv
	if err := b.ForEach(func(k, v []byte) error {
		entries = append(entries, kv{bytes.Clone(k), bytes.Clone(v)})
		return nil
	}); err != nil {
		return err
	}
	if err := btx.DeleteBucket(name); err != nil {
		return err
	}
	nb, err := btx.CreateBucket(name)
	if err != nil {
		return err
	}
	nb.FillPercent = 1.0
	for _, e := range entries {
		v := e.v
		if v == nil {
			v = []byte{}
		}
		if err := nb.Put(e.k, v); err != nil {
			return err
		}
	}
	return nil
}
