package ejdb

import (
	"fmt"
	"strings"

	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type DumpFlags uint64

const (
	DumpCollectionHeaders = DumpFlags(1 << iota)
	DumpRecords
	DumpStats
	DumpIndexes
	DumpIndexRows

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the contents of every collection for debugging.
func (db *DB) Dump(f DumpFlags) (string, error) {
	var buf strings.Builder
	err := db.withEngine("dump", func(eng *engine) error {
		for _, cs := range sortedColls(eng) {
			err := cs.view(func(btx *bbolt.Tx) error {
				cs.dump(&buf, btx, f)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return buf.String(), err
}

func (cs *collState) dump(w *strings.Builder, btx *bbolt.Tx, f DumpFlags) {
	prefix := cs.name
	s := cs.stats(btx)

	if f.Contains(DumpCollectionHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d records)\n", prefix, s.Records)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: index_rows = %d, data_size = %d, data_alloc = %d, index_size = %d, index_alloc = %d, total_alloc = %d\n", prefix, s.IndexRows, s.DataSize, s.DataAlloc, s.IndexSize, s.IndexAlloc, s.TotalAlloc())
	}

	if f.Contains(DumpRecords) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		if b := btx.Bucket(dataBucket); b != nil {
			c := b.Cursor()
			var pos int
			for k, v := c.First(); k != nil; k, v = c.Next() {
				pos++
				dumpRecord(w, prefix, pos, k, v)
			}
		}
	}

	if f.Contains(DumpIndexes) {
		for _, is := range cs.indexes() {
			cs.dumpIndex(w, btx, prefix, f, is)
		}
	}
}

func dumpRecord(w *strings.Builder, prefix string, pos int, k, v []byte) {
	var vle value
	if err := vle.decode(v); err != nil {
		fmt.Fprintf(w, "%s.%d = %x ** ERROR: %v\n", prefix, pos, k, err)
		return
	}
	js, err := bson.MarshalExtJSON(bson.Raw(vle.Data), false, false)
	if err != nil {
		fmt.Fprintf(w, "%s.%d = (m%d) %x ** ERROR: %v\n", prefix, pos, vle.ModCount, k, err)
		return
	}
	fmt.Fprintf(w, "%s.%d = (m%d) %s\n", prefix, pos, vle.ModCount, js)
}

func (cs *collState) dumpIndex(w *strings.Builder, btx *bbolt.Tx, prefix string, f DumpFlags, is *indexState) {
	fmt.Fprintln(w, dumpSep2)
	prefix = prefix + ".i." + is.bucketName()
	fmt.Fprintf(w, "%s (0x%x, %s)\n", prefix, is.Ordinal, is.Type.typeName())

	if !f.Contains(DumpIndexRows) {
		return
	}
	b := btx.Bucket([]byte(is.bucketName()))
	if b == nil {
		fmt.Fprintf(w, "%s ** MISSING BUCKET\n", prefix)
		return
	}
	c := b.Cursor()
	var pos int
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		pos++
		key, oid := splitIndexKey(k)
		fmt.Fprintf(w, "%s.%d: %s => %s\n", prefix, pos, indexKeyString(is.Type, key), oid.Hex())
	}
}

func indexKeyString(typ IndexMode, key []byte) string {
	if typ == IndexNumber && len(key) == 8 {
		return fmt.Sprint(decodeNumber(key))
	}
	return fmt.Sprintf("%q", key)
}
