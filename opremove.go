package ejdb

import (
	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// RemoveDocument deletes the record with oid. A missing record is not an
// error.
func (c *Collection) RemoveDocument(oid bson.ObjectID) error {
	const op = "remove"
	return c.use(op, func(db *DB, eng *engine, cs *collState) error {
		var found bool
		err := cs.update(func(btx *bbolt.Tx) error {
			var err error
			found, err = cs.remove(btx, oid)
			return err
		})
		if db.st.verbose {
			cs.log.Debug(op, zap.Stringer("oid", oid), zap.Bool("found", found), zap.Error(err))
		}
		return err
	})
}

func (cs *collState) remove(btx *bbolt.Tx, oid bson.ObjectID) (bool, error) {
	data := nonNil(btx.Bucket(dataBucket))
	raw := data.Get(oid[:])
	if raw == nil {
		return false, nil
	}
	var old value
	if err := old.decode(raw); err != nil {
		return false, collErrf(cs.name, "", err, "record %s", oid.Hex())
	}
	if err := decodeIndexKeys(old.Index, cs.prepareToDeleteIndexEntries(btx)); err != nil {
		return false, collErrf(cs.name, "", err, "record %s", oid.Hex())
	}
	return true, data.Delete(oid[:])
}
