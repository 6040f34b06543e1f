package ejdb

import (
	"slices"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/andreyvit/ejdb/ecode"
)

func TestExecute_modes(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "people", people...)

	for _, qs := range []string{`{}`, `{"city": "Omsk"}`, `{"age": {"$gt": 100}}`, `{"tags": "ops"}`} {
		all := must(c.Execute(newQuery(t, db, qs), SearchNormal))
		cnt := must(c.Execute(newQuery(t, db, qs), SearchCountOnly))
		if cnt.Docs != nil {
			t.Errorf("** %s: count-only returned documents", qs)
		}
		deepEqual(t, cnt.Count, len(all.Docs))
		deepEqual(t, all.Count, len(all.Docs))

		first := must(c.Execute(newQuery(t, db, qs), SearchFirstOnly))
		if len(all.Docs) == 0 {
			isempty(t, first.Docs)
		} else {
			deepEqual(t, len(first.Docs), 1)
			deepEqual(t, first.Docs[0], all.Docs[0])
		}

		both := must(c.Execute(newQuery(t, db, qs), SearchCountOnly|SearchFirstOnly))
		deepEqual(t, both.Count, min(1, len(all.Docs)))
		isempty(t, both.Docs)
	}

	doc := must(c.FindOne(newQuery(t, db, `{"name": "Ivan"}`)))
	deepEqual(t, field(t, doc, "city"), any("Omsk"))
	isempty(t, must(c.FindOne(newQuery(t, db, `{"name": "Nobody"}`))))
}

func TestQuery_or(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "people", people...)
	noerr(t, c.SetIndex("city", IndexString))

	q := newQuery(t, db, `{"city": "Omsk"}`)
	noerr(t, q.Or(j(`{"name": "Ivan"}`)))
	noerr(t, q.Or(j(`{"name": "Boris"}`)))
	deepEqual(t, sortedNames(t, c, q), []string{"Boris", "Ivan"})

	q = newQuery(t, db, `{}`)
	noerr(t, q.Or(j(`{"name": "Petr"}`)))
	noerr(t, q.Or(j(`{"age": {"$gt": 45}}`)))
	deepEqual(t, sortedNames(t, c, q), []string{"Anna", "Petr"})

	wantCode(t, q.Or([]byte{1, 2}), ecode.InvalidBSON)
	wantCode(t, q.Or(j(`{"a": {"$bogus": 1}}`)), ecode.InvalidQueryControlField)
	deepEqual(t, sortedNames(t, c, q), []string{"Anna", "Petr"})
}

func TestQuery_andNotImplemented(t *testing.T) {
	db := setup(t)
	q := newQuery(t, db, `{}`)
	wantCode(t, q.And(j(`{"a": 1}`)), ecode.NotImplemented)
	deepEqual(t, db.Error(), ecode.NotImplemented)
}

func TestQuery_createErrors(t *testing.T) {
	db := setup(t)
	tests := []struct {
		pred []byte
		code ecode.Code
	}{
		{[]byte{1, 2, 3}, ecode.InvalidBSON},
		{j(`{"$foo": 1}`), ecode.InvalidQueryControlField},
		{j(`{"a": {"$like": "x"}}`), ecode.InvalidQueryControlField},
		{j(`{"a": {"$in": 5}}`), ecode.QueryFieldRequireArray},
		{must(bson.Marshal(bson.D{{Key: "a", Value: bson.Regex{Pattern: "("}}})), ecode.InvalidQueryRegex},
		{j(`{"$do": {"ref": {"$fetch": "x"}}}`), ecode.QueryInvalidAction},
		{j(`{"a": {"$elemMatch": {"b": 1}}, "a.c": {"$elemMatch": {"d": 1}}}`), ecode.QueryElemMatchLimit},
	}
	for _, tt := range tests {
		_, err := db.CreateQuery(tt.pred)
		if ecode.Of(err) != tt.code {
			t.Errorf("** CreateQuery(%x) err = %v, wanted code %d", tt.pred, err, tt.code)
		}
		deepEqual(t, db.Error(), tt.code)
	}
}

func sortedNames(t testing.TB, c *Collection, q *Query) []string {
	t.Helper()
	got := findNames(t, c, q)
	slices.Sort(got)
	return got
}

func TestQuery_hints(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "people", people...)

	q := newQuery(t, db, `{"age": {"$exists": true}}`)
	noerr(t, q.SetHints(j(`{"$orderby": {"name": 1}}`)))
	deepEqual(t, findNames(t, c, q), []string{"Anna", "Boris", "Ivan", "Petr", "anna"})

	noerr(t, q.SetHints(j(`{"$skip": 1, "$max": 2}`)))
	deepEqual(t, findNames(t, c, q), []string{"Boris", "Ivan"})
	deepEqual(t, must(c.Count(q)), 2)

	noerr(t, q.SetHints(j(`{"$orderby": {"name": -1}, "$max": 10}`)))
	deepEqual(t, findNames(t, c, q), []string{"Petr", "Ivan", "Boris", "Anna"})

	noerr(t, q.SetHints(j(`{"$skip": 1, "$max": {"$numberLong": "9223372036854775807"}}`)))
	deepEqual(t, findNames(t, c, q), []string{"Petr", "Ivan", "Boris", "Anna"})
	deepEqual(t, must(c.Count(q)), 4)
	deepEqual(t, field(t, must(c.FindOne(q)), "name"), any("Petr"))
	// without $orderby the scan stops early at $skip+$max
	q = newQuery(t, db, `{"age": {"$exists": true}}`)
	noerr(t, q.SetHints(j(`{"$skip": 1, "$max": {"$numberLong": "9223372036854775807"}}`)))
	deepEqual(t, len(findNames(t, c, q)), 4)
	deepEqual(t, must(c.Count(q)), 4)
	if must(c.FindOne(q)) == nil {
		t.Fatalf("FindOne with a huge $max found nothing")
	}

	q = newQuery(t, db, `{"name": "Petr"}`)
	noerr(t, q.SetHints(j(`{"$fields": {"name": 1, "tags": 1}}`)))
	doc := must(c.FindOne(q))
	var d bson.D
	noerr(t, bson.Unmarshal(doc, &d))
	keys := []string{}
	for _, e := range d {
		keys = append(keys, e.Key)
	}
	deepEqual(t, keys, []string{"_id", "name", "tags"})

	q = newQuery(t, db, `{"name": "Petr"}`)
	noerr(t, q.SetHints(j(`{"$fields": {"bio": 0, "tags": 0}}`)))
	doc = must(c.FindOne(q))
	deepEqual(t, field(t, doc, "bio"), nil)
	deepEqual(t, field(t, doc, "city"), any("Novosibirsk"))

	wantCode(t, q.SetHints(j(`{"$orderby": {"name": 2}}`)), ecode.QueryResultSortError)
	wantCode(t, q.SetHints(j(`{"$fields": {"a": 1, "b": 0}}`)), ecode.QueryCannotMixIncludeExclude)
	wantCode(t, q.SetHints(j(`{"$max": -1}`)), ecode.QueryError)
	wantCode(t, q.SetHints(j(`{"$bogus": 1}`)), ecode.InvalidQueryControlField)
	// a failed SetHints leaves earlier hints in place
	doc = must(c.FindOne(q))
	deepEqual(t, field(t, doc, "tags"), nil)
}

func TestQuery_update(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "people", people...)
	noerr(t, c.SetIndex("age", IndexNumber))

	res := must(c.Execute(newQuery(t, db, `{"name": "Petr", "$set": {"city": "Moscow", "job.title": "dev"}, "$inc": {"age": 1}}`), SearchNormal))
	deepEqual(t, res.Count, 1)
	deepEqual(t, field(t, res.Docs[0], "city"), any("Moscow"))

	doc := must(c.FindOne(newQuery(t, db, `{"name": "Petr"}`)))
	deepEqual(t, field(t, doc, "age"), any(int32(34)))
	deepEqual(t, field(t, doc, "job"), any(bson.D{{Key: "title", Value: "dev"}}))
	deepEqual(t, findNames(t, c, newQuery(t, db, `{"age": 34}`)), []string{"Petr"})
	isempty(t, findNames(t, c, newQuery(t, db, `{"age": 33}`)))

	must(c.Execute(newQuery(t, db, `{"name": "Ivan", "$addToSet": {"tags": "ops"}}`), SearchNormal))
	must(c.Execute(newQuery(t, db, `{"name": "Ivan", "$addToSetAll": {"tags": ["ops", "qa"]}}`), SearchNormal))
	doc = must(c.FindOne(newQuery(t, db, `{"name": "Ivan"}`)))
	deepEqual(t, field(t, doc, "tags"), any(bson.A{"dev", "ops", "qa"}))

	must(c.Execute(newQuery(t, db, `{"name": "Ivan", "$pull": {"tags": "dev"}}`), SearchNormal))
	must(c.Execute(newQuery(t, db, `{"name": "Ivan", "$pullAll": {"tags": ["qa"]}}`), SearchNormal))
	doc = must(c.FindOne(newQuery(t, db, `{"name": "Ivan"}`)))
	deepEqual(t, field(t, doc, "tags"), any(bson.A{"ops"}))

	_, err := c.Execute(newQuery(t, db, `{"name": "Boris", "$inc": {"city": 1}}`), SearchNormal)
	wantCode(t, err, ecode.QueryUpdateFailed)
	_, err = db.CreateQuery(j(`{"$set": {"_id": 1}}`))
	wantCode(t, err, ecode.QueryUpdateFailed)
	_, err = db.CreateQuery(j(`{"$addToSetAll": {"tags": "x"}}`))
	wantCode(t, err, ecode.QueryFieldRequireArray)
}

func TestQuery_updateCountOnly(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "people", people...)
	n := must(c.Count(newQuery(t, db, `{"city": "Omsk", "$set": {"visited": true}}`)))
	deepEqual(t, n, 2)
	deepEqual(t, must(c.Count(newQuery(t, db, `{"visited": true}`))), 2)
}

func TestQuery_upsert(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "people", people...)

	res := must(c.Execute(newQuery(t, db, `{"name": "Olga", "$upsert": {"name": "Olga", "age": 20}}`), SearchNormal))
	deepEqual(t, res.Count, 1)
	oid, isOID := field(t, res.Docs[0], "_id").(bson.ObjectID)
	if !isOID || oid.IsZero() {
		t.Fatalf("upserted _id = %v, wanted a fresh ObjectID", field(t, res.Docs[0], "_id"))
	}
	deepEqual(t, field(t, must(c.LoadDocument(oid)), "age"), any(int32(20)))

	must(c.Execute(newQuery(t, db, `{"name": "Olga", "$upsert": {"name": "Olga", "age": 21}}`), SearchNormal))
	deepEqual(t, must(c.Count(newQuery(t, db, `{"name": "Olga"}`))), 1)
	deepEqual(t, field(t, must(c.LoadDocument(oid)), "age"), any(int32(21)))
}

func TestQuery_dropAll(t *testing.T) {
	db := setup(t)
	c := setupColl(t, db, "people", people...)
	noerr(t, c.SetIndex("city", IndexString))

	res := must(c.Execute(newQuery(t, db, `{"city": "Omsk", "$dropall": true}`), SearchNormal))
	deepEqual(t, res.Count, 2)
	deepEqual(t, sortedNamesOf(t, res.Docs), []string{"Boris", "Ivan"})
	deepEqual(t, len(must(c.GetAll())), len(people)-2)
	isempty(t, findNames(t, c, newQuery(t, db, `{"city": "Omsk"}`)))
}

func sortedNamesOf(t testing.TB, docs [][]byte) []string {
	t.Helper()
	got := names(t, docs)
	slices.Sort(got)
	return got
}

func TestQuery_join(t *testing.T) {
	db := setup(t)
	cities := setupColl(t, db, "cities")
	omsk := must(cities.SaveDocument(j(`{"name": "Omsk", "population": 1100000}`)))
	tomsk := must(cities.SaveDocument(j(`{"name": "Tomsk"}`)))

	c := setupColl(t, db, "people")
	must(c.SaveDocument(must(bson.Marshal(bson.D{{Key: "name", Value: "Ivan"}, {Key: "home", Value: omsk}}))))
	must(c.SaveDocument(must(bson.Marshal(bson.D{{Key: "name", Value: "Anna"}, {Key: "home", Value: tomsk.Hex()}, {Key: "visited", Value: bson.A{omsk, tomsk, bson.NewObjectID()}}}))))
	must(c.SaveDocument(j(`{"name": "Boris", "home": "nowhere"}`)))

	q := newQuery(t, db, `{"$do": {"home": {"$join": "cities"}, "visited": {"$join": "cities"}}}`)
	noerr(t, q.SetHints(j(`{"$orderby": {"name": 1}}`)))
	docs := must(c.Find(q))
	deepEqual(t, names(t, docs), []string{"Anna", "Boris", "Ivan"})

	home := func(doc []byte) any {
		d, _ := field(t, doc, "home").(bson.D)
		var name any
		for _, e := range d {
			if e.Key == "name" {
				name = e.Value
			}
		}
		return name
	}
	deepEqual(t, home(docs[0]), any("Tomsk"))
	deepEqual(t, field(t, docs[1], "home"), any("nowhere"))
	deepEqual(t, home(docs[2]), any("Omsk"))

	visited, _ := field(t, docs[0], "visited").(bson.A)
	deepEqual(t, len(visited), 2)

	// stored documents keep the references
	stored := must(c.FindOne(newQuery(t, db, `{"name": "Ivan"}`)))
	deepEqual(t, field(t, stored, "home"), any(omsk))
}
