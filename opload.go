package ejdb

import (
	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// LoadDocument returns a copy of the stored document, or nil with a nil
// error when there is none.
func (c *Collection) LoadDocument(oid bson.ObjectID) ([]byte, error) {
	const op = "load"
	var doc []byte
	err := c.use(op, func(db *DB, eng *engine, cs *collState) error {
		err := cs.view(func(btx *bbolt.Tx) error {
			var err error
			doc, err = cs.load(btx, oid)
			return err
		})
		if db.st.verbose {
			cs.log.Debug(op, zap.Stringer("oid", oid), zap.Bool("found", doc != nil), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (cs *collState) load(btx *bbolt.Tx, oid bson.ObjectID) ([]byte, error) {
	data := btx.Bucket(dataBucket)
	if data == nil {
		return nil, nil
	}
	raw := data.Get(oid[:])
	if raw == nil {
		return nil, nil
	}
	var vle value
	if err := vle.decode(raw); err != nil {
		return nil, collErrf(cs.name, "", err, "record %s", oid.Hex())
	}
	return cloneBytes(vle.Data), nil
}

// GetAll returns copies of every document in _id order.
func (c *Collection) GetAll() ([][]byte, error) {
	var docs [][]byte
	err := c.use("get_all", func(db *DB, eng *engine, cs *collState) error {
		return cs.view(func(btx *bbolt.Tx) error {
			docs = nil
			return cs.scan(btx, func(oid bson.ObjectID, data []byte) (bool, error) {
				docs = append(docs, cloneBytes(data))
				return true, nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// scan walks the data bucket in key order. data is only valid during the
// callback.
func (cs *collState) scan(btx *bbolt.Tx, f func(oid bson.ObjectID, data []byte) (bool, error)) error {
	b := btx.Bucket(dataBucket)
	if b == nil {
		return nil
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var vle value
		if err := vle.decode(v); err != nil {
			return collErrf(cs.name, "", err, "record %x", k)
		}
		var oid bson.ObjectID
		copy(oid[:], k)
		cont, err := f(oid, vle.Data)
		if err != nil || !cont {
			return err
		}
	}
	return nil
}
