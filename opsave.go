package ejdb

import (
	"encoding/binary"

	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/andreyvit/ejdb/ecode"
	"github.com/andreyvit/ejdb/query"
)

// SaveDocument stores a BSON document, overwriting any record with the same
// _id. A document without _id gets a fresh ObjectID as its first field.
func (c *Collection) SaveDocument(doc []byte) (bson.ObjectID, error) {
	return c.SaveDocumentMerge(doc, false)
}

// SaveDocumentMerge is SaveDocument that, with merge set, overlays the
// top-level fields of doc onto the stored record instead of replacing it.
func (c *Collection) SaveDocumentMerge(doc []byte, merge bool) (bson.ObjectID, error) {
	const op = "save"
	var oid bson.ObjectID
	err := c.use(op, func(db *DB, eng *engine, cs *collState) error {
		raw, id, err := prepareDocument(doc, db.st.opt.MaxDocumentSize)
		if err != nil {
			return err
		}
		oid = id
		err = cs.update(func(btx *bbolt.Tx) error {
			return cs.put(btx, oid, raw, merge, db.st.opt.MaxDocumentSize)
		})
		if db.st.verbose {
			cs.log.Debug(op, zap.Stringer("oid", oid), zap.Bool("merge", merge), zap.Int("size", len(raw)), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return bson.ObjectID{}, err
	}
	return oid, nil
}

// prepareDocument validates doc and returns it with a usable _id.
func prepareDocument(doc []byte, maxSize int) ([]byte, bson.ObjectID, error) {
	if err := query.CheckDocument(doc, maxSize); err != nil {
		return nil, bson.ObjectID{}, err
	}
	rv, err := bson.Raw(doc).LookupErr("_id")
	if err != nil {
		oid := bson.NewObjectID()
		raw := injectID(doc, oid)
		if len(raw) > maxSize {
			return nil, oid, ecode.Errorf(ecode.BSONTooLarge, "", "%d bytes exceeds %d", len(raw), maxSize)
		}
		return raw, oid, nil
	}
	oid, ok := rv.ObjectIDOK()
	if !ok {
		return nil, bson.ObjectID{}, ecode.Errorf(ecode.InvalidBSONOID, "", "_id is %v", rv.Type)
	}
	if oid.IsZero() {
		return replaceZeroID(doc)
	}
	return doc, oid, nil
}

// injectID prepends an _id element to a validated document.
func injectID(doc []byte, oid bson.ObjectID) []byte {
	const elemLen = 1 + 4 + 12 // type, "_id\0", ObjectID
	out := make([]byte, 4, len(doc)+elemLen)
	binary.LittleEndian.PutUint32(out, uint32(len(doc)+elemLen))
	out = append(out, byte(bson.TypeObjectID), '_', 'i', 'd', 0)
	out = append(out, oid[:]...)
	return append(out, doc[4:]...)
}

func replaceZeroID(doc []byte) ([]byte, bson.ObjectID, error) {
	var d bson.D
	if err := bson.Unmarshal(doc, &d); err != nil {
		return nil, bson.ObjectID{}, ecode.Wrap(ecode.InvalidBSON, "", err)
	}
	oid := bson.NewObjectID()
	for i := range d {
		if d[i].Key == "_id" {
			d[i].Value = oid
		}
	}
	raw, err := bson.Marshal(d)
	if err != nil {
		return nil, bson.ObjectID{}, ecode.Wrap(ecode.InvalidBSON, "", err)
	}
	return raw, oid, nil
}

// put writes raw under oid and brings every index up to date.
func (cs *collState) put(btx *bbolt.Tx, oid bson.ObjectID, raw []byte, merge bool, maxSize int) error {
	data := nonNil(btx.Bucket(dataBucket))
	key := oid[:]

	var old value
	var hasOld bool
	if oldRaw := data.Get(key); oldRaw != nil {
		if err := old.decode(oldRaw); err != nil {
			return collErrf(cs.name, "", err, "record %s", oid.Hex())
		}
		hasOld = true
	}

	if merge && hasOld {
		merged, err := mergeDocuments(old.Data, raw)
		if err != nil {
			return err
		}
		if len(merged) > maxSize {
			return ecode.Errorf(ecode.BSONTooLarge, "", "merged document is %d bytes", len(merged))
		}
		raw = merged
	}

	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return ecode.Wrap(ecode.InvalidBSON, "", err)
	}
	rows := cs.indexRows(doc, oid)
	defer releaseIndexRows(rows)

	var modCount uint64
	if hasOld {
		modCount = old.ModCount + 1
		if err := findRemovedIndexKeys(old.Index, rows, cs.prepareToDeleteIndexEntries(btx)); err != nil {
			return collErrf(cs.name, "", err, "record %s", oid.Hex())
		}
	}
	if err := cs.putIndexRows(btx, rows); err != nil {
		return err
	}
	return data.Put(key, encodeValue(nil, modCount, raw, rows))
}

// indexRows computes the sorted index entries of doc for every index. The
// result comes from indexRowsPool.
func (cs *collState) indexRows(doc bson.D, oid bson.ObjectID) indexRows {
	rows := indexRowsPool.Get().(indexRows)
	for _, is := range cs.meta.Indexes {
		for _, k := range fieldKeys(is.Type, is.comps, doc) {
			rows = append(rows, indexRow{Ord: is.Ordinal, Key: appendOID(k, oid)})
		}
	}
	rows.sort()
	return rows
}

func (cs *collState) putIndexRows(btx *bbolt.Tx, rows indexRows) error {
	var curOrd uint64
	var b *bbolt.Bucket
	for _, row := range rows {
		if b == nil || row.Ord != curOrd {
			curOrd = row.Ord
			is := cs.indexByOrdinal(row.Ord)
			b = btx.Bucket([]byte(is.bucketName()))
			if b == nil {
				return collErrf(cs.name, is.bucketName(), ecode.InvalidMetaData, "index bucket missing")
			}
		}
		if err := b.Put(row.Key, []byte{}); err != nil {
			return err
		}
	}
	return nil
}

// mergeDocuments overlays the top-level fields of upd onto base.
func mergeDocuments(base, upd []byte) ([]byte, error) {
	var b, u bson.D
	if err := bson.Unmarshal(base, &b); err != nil {
		return nil, ecode.Wrap(ecode.InvalidBSON, "", err)
	}
	if err := bson.Unmarshal(upd, &u); err != nil {
		return nil, ecode.Wrap(ecode.InvalidBSON, "", err)
	}
	b = overlay(b, u)
	raw, err := bson.Marshal(b)
	if err != nil {
		return nil, ecode.Wrap(ecode.InvalidBSON, "", err)
	}
	return raw, nil
}

func overlay(base, upd bson.D) bson.D {
outer:
	for _, e := range upd {
		for i := range base {
			if base[i].Key == e.Key {
				base[i].Value = e.Value
				continue outer
			}
		}
		base = append(base, e)
	}
	return base
}
