package ejdb

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/andreyvit/ejdb/ecode"
	"github.com/andreyvit/ejdb/query"
)

const (
	exportDataSuffix = ".json"
	exportMetaSuffix = "-meta.json"

	maxExportLine = DefaultMaxDocumentSize * 4
)

// Export writes the named collections (all of them when names is empty)
// into dir. Each collection becomes <name>.json, holding one canonical
// extended JSON document per line, and <name>-meta.json describing its
// indexes.
func (db *DB) Export(dir string, names []string) error {
	_, err := db.export(dir, names)
	return err
}

func (db *DB) export(dir string, names []string) ([]string, error) {
	const op = "export"
	md, err := db.Describe()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, db.record(ecode.Wrap(ecode.ImportExportError, op, err))
	}
	var done []string
	for _, cm := range md.Collections {
		if len(names) > 0 && !slices.Contains(names, cm.Name) {
			continue
		}
		if err := db.exportCollection(op, dir, cm); err != nil {
			return done, db.record(err)
		}
		done = append(done, cm.Name)
	}
	for _, n := range names {
		if !slices.Contains(done, n) {
			return done, db.record(ecode.Errorf(ecode.ImportExportError, op, "no collection %q", n))
		}
	}
	db.st.log.Info("exported", zap.String("dir", dir), zap.Strings("collections", done))
	return done, db.record(nil)
}

func (db *DB) exportCollection(op, dir string, cm CollectionMeta) error {
	c, err := db.GetCollection(cm.Name)
	if err != nil {
		return err
	}
	docs, err := c.GetAll()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, doc := range docs {
		line, err := bson.MarshalExtJSON(bson.Raw(doc), true, false)
		if err != nil {
			return ecode.Wrap(ecode.ImportExportError, op, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(dir, cm.Name+exportDataSuffix), buf.Bytes(), fileMode); err != nil {
		return ecode.Wrap(ecode.ImportExportError, op, err)
	}
	cm.Records = int64(len(docs))
	meta, err := bson.MarshalExtJSON(&cm, true, false)
	if err != nil {
		return ecode.Wrap(ecode.ImportExportError, op, err)
	}
	buf.Reset()
	if err := json.Indent(&buf, meta, "", "  "); err != nil {
		return ecode.Wrap(ecode.ImportExportError, op, err)
	}
	if err := os.WriteFile(filepath.Join(dir, cm.Name+exportMetaSuffix), buf.Bytes(), fileMode); err != nil {
		return ecode.Wrap(ecode.ImportExportError, op, err)
	}
	return nil
}

// Import loads collections written by Export. With empty names every
// exported collection found in dir is imported. ImportReplace drops each
// collection (and its file) first; otherwise imported documents overwrite
// stored ones with the same _id. Each collection is imported in one
// transaction.
func (db *DB) Import(dir string, names []string, mode ImportMode) error {
	_, err := db.importDir(dir, names, mode)
	return err
}

func (db *DB) importDir(dir string, names []string, mode ImportMode) ([]string, error) {
	const op = "import"
	if len(names) == 0 {
		ents, err := os.ReadDir(dir)
		if err != nil {
			return nil, db.record(ecode.Wrap(ecode.ImportExportError, op, err))
		}
		for _, ent := range ents {
			if n, ok := strings.CutSuffix(ent.Name(), exportMetaSuffix); ok && !ent.IsDir() {
				names = append(names, n)
			}
		}
	}
	var done []string
	for _, name := range names {
		if err := db.importCollection(op, dir, name, mode); err != nil {
			return done, db.record(err)
		}
		done = append(done, name)
	}
	db.st.log.Info("imported", zap.String("dir", dir), zap.Strings("collections", done))
	return done, db.record(nil)
}

func (db *DB) importCollection(op, dir, name string, mode ImportMode) error {
	rawMeta, err := os.ReadFile(filepath.Join(dir, name+exportMetaSuffix))
	if err != nil {
		return ecode.Wrap(ecode.ImportExportError, op, err)
	}
	var cm CollectionMeta
	if err := bson.UnmarshalExtJSON(rawMeta, false, &cm); err != nil {
		return ecode.Wrap(ecode.JSONParseFailed, op, err)
	}
	cm.Name = name

	f, err := os.Open(filepath.Join(dir, name+exportDataSuffix))
	if err != nil {
		return ecode.Wrap(ecode.ImportExportError, op, err)
	}
	defer f.Close()

	if mode&ImportReplace != 0 {
		if err := db.RemoveCollection(name, true); err != nil {
			return err
		}
	}
	if err := db.applyCollectionMeta(op, cm); err != nil {
		return err
	}
	c, err := db.GetCollection(name)
	if err != nil {
		return err
	}

	return c.WithTransaction(func() error {
		sc := bufio.NewScanner(f)
		sc.Buffer(nil, maxExportLine)
		lineno := 0
		for sc.Scan() {
			lineno++
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			doc, err := query.FromJSON(line)
			if err != nil {
				return ecode.Wrap(ecode.JSONParseFailed, op, collErrf(name, "", err, "line %d", lineno))
			}
			if _, err := c.SaveDocument(doc); err != nil {
				return err
			}
		}
		if err := sc.Err(); err != nil {
			return ecode.Wrap(ecode.ImportExportError, op, err)
		}
		return nil
	})
}

type commandArgs struct {
	Path   string   `bson:"path"`
	CNames []string `bson:"cnames"`
	Mode   string   `bson:"mode"`
}

// Command runs a BSON command document and returns a BSON reply. Supported
// commands:
//
//	{"export": {"path": dir, "cnames": [names]}}
//	{"import": {"path": dir, "cnames": [names], "mode": "update"|"replace"}}
//
// The reply is {"ok": true, "cnames": [processed names]}.
func (db *DB) Command(cmd []byte) ([]byte, error) {
	const op = "command"
	if err := query.CheckDocument(cmd, 0); err != nil {
		return nil, db.record(err)
	}
	elems, err := bson.Raw(cmd).Elements()
	if err != nil {
		return nil, db.record(ecode.Wrap(ecode.InvalidBSON, op, err))
	}
	if len(elems) != 1 {
		return nil, db.record(ecode.Errorf(ecode.InvalidCommand, op, "command document must have exactly one key"))
	}
	key := elems[0].Key()
	body, ok := elems[0].Value().DocumentOK()
	if !ok {
		return nil, db.record(ecode.Errorf(ecode.InvalidCommand, op, "%s: arguments must be a document", key))
	}
	var args commandArgs
	if err := bson.Unmarshal(body, &args); err != nil {
		return nil, db.record(ecode.Wrap(ecode.InvalidCommand, op, err))
	}
	if args.Path == "" {
		return nil, db.record(ecode.Errorf(ecode.InvalidCommand, op, "%s: path is required", key))
	}

	var done []string
	switch key {
	case "export":
		done, err = db.export(args.Path, args.CNames)
	case "import":
		var mode ImportMode
		switch args.Mode {
		case "", "update":
			mode = ImportUpdate
		case "replace":
			mode = ImportReplace
		default:
			return nil, db.record(ecode.Errorf(ecode.InvalidCommand, op, "unknown import mode %q", args.Mode))
		}
		done, err = db.importDir(args.Path, args.CNames, mode)
	default:
		return nil, db.record(ecode.Errorf(ecode.InvalidCommand, op, "unknown command %q", key))
	}
	if err != nil {
		return nil, err
	}
	if done == nil {
		done = []string{}
	}
	return bson.Marshal(bson.D{{Key: "ok", Value: true}, {Key: "cnames", Value: done}})
}
