package ejdb

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap/zaptest"

	"github.com/andreyvit/ejdb/ecode"
	"github.com/andreyvit/ejdb/query"
)

func testOptions(t testing.TB) Options {
	return Options{
		Logger:    zaptest.NewLogger(t),
		Verbose:   true,
		IsTesting: true,
	}
}

// setup opens a fresh database in a temporary directory.
func setup(t testing.TB) *DB {
	t.Helper()
	return setupAt(t, filepath.Join(t.TempDir(), "test.db"), ModeDefault|ModeTruncate)
}

func setupAt(t testing.TB, path string, mode Mode) *DB {
	t.Helper()
	db := must(Open(path, mode, testOptions(t)))
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func setupColl(t testing.TB, db *DB, name string, docs ...string) *Collection {
	t.Helper()
	c, err := db.CreateCollection(name)
	if err != nil {
		t.Fatalf("CreateCollection(%s) failed: %v", name, err)
	}
	for _, d := range docs {
		if _, err := c.SaveDocument(j(d)); err != nil {
			t.Fatalf("SaveDocument(%s) failed: %v", d, err)
		}
	}
	return c
}

func j(s string) []byte {
	return query.MustJSON(s)
}

func newQuery(t testing.TB, db *DB, pred string) *Query {
	t.Helper()
	q, err := db.CreateQuery(j(pred))
	if err != nil {
		t.Fatalf("CreateQuery(%s) failed: %v", pred, err)
	}
	return q
}

// field returns a top-level field of a BSON document.
func field(t testing.TB, raw []byte, key string) any {
	t.Helper()
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		t.Fatalf("bson.Unmarshal failed: %v", err)
	}
	v, _ := query.Get(d, key)
	return v
}

// names returns the "name" field of each document.
func names(t testing.TB, docs [][]byte) []string {
	t.Helper()
	out := []string{}
	for _, d := range docs {
		s, _ := field(t, d, "name").(string)
		out = append(out, s)
	}
	return out
}

func findNames(t testing.TB, c *Collection, q *Query) []string {
	t.Helper()
	docs, err := c.Find(q)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	return names(t, docs)
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func noerr(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatalf("** unexpected error: %v", err)
	}
}

func wantCode(t testing.TB, err error, code ecode.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("** err = nil, wanted %d (%v)", code, code)
	}
	if !errors.Is(err, code) {
		t.Fatalf("** err = %v (code %d), wanted %d (%v)", err, ecode.Of(err), code, code)
	}
}
