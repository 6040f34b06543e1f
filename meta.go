package ejdb

import (
	"path/filepath"
	"slices"
	"strings"

	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/andreyvit/ejdb/ecode"
)

// Metadata describes the collections and indexes of an open database.
type Metadata struct {
	File        string           `bson:"file" yaml:"file"`
	Collections []CollectionMeta `bson:"collections" yaml:"collections"`
}

type CollectionMeta struct {
	Name    string      `bson:"name" yaml:"name"`
	File    string      `bson:"file" yaml:"file"`
	Records int64       `bson:"records" yaml:"records"`
	Indexes []IndexMeta `bson:"indexes" yaml:"indexes"`
}

// IndexMeta describes one index. Type is one of numeric, lexical, icase and
// token.
type IndexMeta struct {
	Field   string `bson:"field" yaml:"field"`
	IName   string `bson:"iname" yaml:"iname"`
	Type    string `bson:"type" yaml:"type"`
	Records int64  `bson:"records" yaml:"records"`
}

// Metadata returns Describe encoded as a BSON document.
func (db *DB) Metadata() ([]byte, error) {
	md, err := db.Describe()
	if err != nil {
		return nil, err
	}
	raw, err := bson.Marshal(md)
	if err != nil {
		return nil, db.record(ecode.Wrap(ecode.InvalidBSON, "metadata", err))
	}
	return raw, nil
}

// Describe lists collections sorted by name, with record counts and
// indexes.
func (db *DB) Describe() (*Metadata, error) {
	var md *Metadata
	err := db.withEngine("metadata", func(eng *engine) error {
		md = &Metadata{File: eng.path, Collections: []CollectionMeta{}}
		for _, cs := range sortedColls(eng) {
			cm, err := cs.describe()
			if err != nil {
				return err
			}
			md.Collections = append(md.Collections, cm)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return md, nil
}

func (cs *collState) describe() (CollectionMeta, error) {
	cm := CollectionMeta{
		Name:    cs.name,
		File:    filepath.Base(cs.file),
		Indexes: []IndexMeta{},
	}
	err := cs.view(func(btx *bbolt.Tx) error {
		cm.Records = int64(statsOf(btx.Bucket(dataBucket)).KeyN)
		for _, is := range cs.indexes() {
			cm.Indexes = append(cm.Indexes, IndexMeta{
				Field:   is.Path,
				IName:   is.bucketName(),
				Type:    is.Type.typeName(),
				Records: int64(statsOf(btx.Bucket([]byte(is.bucketName()))).KeyN),
			})
		}
		return nil
	})
	return cm, err
}

// ParseMetadata decodes a document produced by DB.Metadata.
func ParseMetadata(raw []byte) (*Metadata, error) {
	md := new(Metadata)
	if err := bson.Unmarshal(raw, md); err != nil {
		return nil, ecode.Wrap(ecode.InvalidMetadata, "apply_metadata", err)
	}
	return md, nil
}

// ApplyMetadata creates the collections and indexes listed in a metadata
// document. Existing collections and indexes are kept. File names and
// record counts are ignored.
func (db *DB) ApplyMetadata(raw []byte) error {
	const op = "apply_metadata"
	md, err := ParseMetadata(raw)
	if err != nil {
		return db.record(err)
	}
	for _, cm := range md.Collections {
		if err := db.applyCollectionMeta(op, cm); err != nil {
			return err
		}
	}
	db.st.log.Info("metadata applied", zap.Int("collections", len(md.Collections)))
	return db.record(nil)
}

func (db *DB) applyCollectionMeta(op string, cm CollectionMeta) error {
	c, err := db.CreateCollection(cm.Name)
	if err != nil {
		return err
	}
	for _, im := range cm.Indexes {
		typ := indexTypeByName(im.Type)
		if typ == 0 {
			return db.record(ecode.Errorf(ecode.InvalidMetadata, op, "index %s.%s has unknown type %q", cm.Name, im.Field, im.Type))
		}
		if err := c.SetIndex(im.Field, typ); err != nil {
			return err
		}
	}
	return nil
}

func sortedColls(eng *engine) []*collState {
	out := make([]*collState, 0, len(eng.colls))
	for _, cs := range eng.colls {
		out = append(out, cs)
	}
	slices.SortFunc(out, func(a, b *collState) int {
		return strings.Compare(a.name, b.name)
	})
	return out
}
