package ejdb

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/andreyvit/ejdb/ecode"
)

func TestExportImport_roundTrip(t *testing.T) {
	src := setup(t)
	c := setupColl(t, src, "people", people...)
	noerr(t, c.SetIndex("name", IndexString|IndexIString))
	noerr(t, c.SetIndex("age", IndexNumber))
	setupColl(t, src, "empty")
	setupColl(t, src, "skipped", `{"name": "x"}`)
	must(c.SaveDocument(must(bson.Marshal(bson.D{
		{Key: "name", Value: "Wide"},
		{Key: "n", Value: int64(5)},
		{Key: "f", Value: 2.0},
		{Key: "at", Value: bson.DateTime(1700000000000)},
		{Key: "bin", Value: bson.Binary{Subtype: 0, Data: []byte{1, 2, 3}}},
		{Key: "nested", Value: bson.D{{Key: "small", Value: int32(1)}, {Key: "big", Value: int64(1) << 40}}},
	}))))

	dir := filepath.Join(t.TempDir(), "dump")
	noerr(t, src.Export(dir, []string{"people", "empty"}))
	for _, f := range []string{"people.json", "people-meta.json", "empty.json", "empty-meta.json"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("** %s not written: %v", f, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "skipped.json")); err == nil {
		t.Errorf("** skipped.json written for an unrequested collection")
	}

	dst := setup(t)
	noerr(t, dst.Import(dir, nil, ImportUpdate))
	deepEqual(t, collNames(t, dst), []string{"empty", "people"})
	deepEqual(t, indexNames(t, dst, "people"), []string{"nage", "sname", "iname"})

	dc := must(dst.GetCollection("people"))
	want := must(c.GetAll())
	got := must(dc.GetAll())
	deepEqual(t, len(got), len(want))
	for _, doc := range want {
		oid := field(t, doc, "_id").(bson.ObjectID)
		if got := must(dc.LoadDocument(oid)); !bytes.Equal(got, doc) {
			t.Errorf("** %s after import = %v, wanted %v", oid.Hex(), bson.Raw(got), bson.Raw(doc))
		}
	}
	deepEqual(t, findNames(t, dc, newQuery(t, dst, `{"age": {"$gt": 35}}`)), findNames(t, c, newQuery(t, src, `{"age": {"$gt": 35}}`)))

	// importing again overwrites by _id
	noerr(t, dst.Import(dir, []string{"people"}, ImportUpdate))
	deepEqual(t, len(must(dc.GetAll())), len(want))
}

func TestImport_replace(t *testing.T) {
	src := setup(t)
	setupColl(t, src, "people", `{"name": "Petr"}`)
	dir := t.TempDir()
	noerr(t, src.Export(dir, nil))

	dst := setup(t)
	old := setupColl(t, dst, "people", `{"name": "Ivan"}`)
	noerr(t, old.SetIndex("city", IndexString))

	noerr(t, dst.Import(dir, nil, ImportUpdate))
	c := must(dst.GetCollection("people"))
	got := names(t, must(c.GetAll()))
	slices.Sort(got)
	deepEqual(t, got, []string{"Ivan", "Petr"})

	noerr(t, dst.Import(dir, nil, ImportReplace))
	if old.Valid() {
		t.Fatalf("collection handle still valid after ImportReplace")
	}
	c = must(dst.GetCollection("people"))
	deepEqual(t, names(t, must(c.GetAll())), []string{"Petr"})
	isempty(t, indexNames(t, dst, "people"))
}

func TestExport_missingCollection(t *testing.T) {
	db := setup(t)
	setupColl(t, db, "people")
	wantCode(t, db.Export(t.TempDir(), []string{"people", "nope"}), ecode.ImportExportError)
	deepEqual(t, db.Error(), ecode.ImportExportError)
}

func TestImport_errors(t *testing.T) {
	db := setup(t)
	dir := t.TempDir()

	wantCode(t, db.Import(dir, []string{"nope"}, ImportUpdate), ecode.ImportExportError)

	write := func(name, data string) {
		noerr(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0644))
	}
	write("bad-meta.json", `{"name": `)
	write("bad.json", "")
	wantCode(t, db.Import(dir, []string{"bad"}, ImportUpdate), ecode.JSONParseFailed)

	write("lines-meta.json", `{"name": "lines", "indexes": []}`)
	write("lines.json", "{\"name\": \"Petr\"}\n\n{\"name\": \n")
	wantCode(t, db.Import(dir, []string{"lines"}, ImportUpdate), ecode.JSONParseFailed)
	// the failed import is rolled back
	c := must(db.GetCollection("lines"))
	isempty(t, must(c.GetAll()))
}

func TestCommand(t *testing.T) {
	db := setup(t)
	setupColl(t, db, "people", `{"name": "Petr"}`, `{"name": "Ivan"}`)
	dir := t.TempDir()

	cmd := func(d bson.D) bson.D {
		t.Helper()
		reply, err := db.Command(must(bson.Marshal(d)))
		if err != nil {
			t.Fatalf("Command(%v) failed: %v", d, err)
		}
		var out bson.D
		noerr(t, bson.Unmarshal(reply, &out))
		return out
	}
	reply := cmd(bson.D{{Key: "export", Value: bson.D{{Key: "path", Value: dir}}}})
	deepEqual(t, reply, bson.D{{Key: "ok", Value: true}, {Key: "cnames", Value: bson.A{"people"}}})

	other := setup(t)
	raw, err := other.Command(must(bson.Marshal(bson.D{{Key: "import", Value: bson.D{
		{Key: "path", Value: dir},
		{Key: "cnames", Value: bson.A{"people"}},
		{Key: "mode", Value: "replace"},
	}}})))
	noerr(t, err)
	var reply2 struct {
		OK     bool     `bson:"ok"`
		CNames []string `bson:"cnames"`
	}
	noerr(t, bson.Unmarshal(raw, &reply2))
	deepEqual(t, reply2.CNames, []string{"people"})
	deepEqual(t, reply2.OK, true)
	deepEqual(t, len(must(must(other.GetCollection("people")).GetAll())), 2)

	bad := []bson.D{
		{{Key: "frobnicate", Value: bson.D{{Key: "path", Value: dir}}}},
		{{Key: "export", Value: "nope"}},
		{{Key: "export", Value: bson.D{}}},
		{{Key: "import", Value: bson.D{{Key: "path", Value: dir}, {Key: "mode", Value: "merge"}}}},
		{{Key: "export", Value: bson.D{{Key: "path", Value: dir}}}, {Key: "import", Value: bson.D{{Key: "path", Value: dir}}}},
	}
	for _, d := range bad {
		_, err := db.Command(must(bson.Marshal(d)))
		if ecode.Of(err) != ecode.InvalidCommand {
			t.Errorf("** Command(%v) err = %v, wanted InvalidCommand", d, err)
		}
	}
	_, err = db.Command([]byte{1, 2, 3})
	wantCode(t, err, ecode.InvalidBSON)
}
