package ejdb

import (
	"errors"
	"math"

	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/andreyvit/ejdb/ecode"
	"github.com/andreyvit/ejdb/query"
)

// Result is the outcome of Execute. Docs are owned copies; Count is the
// number of matched (or, for update queries, affected) documents after
// $skip and $max.
type Result struct {
	Docs  [][]byte
	Count int
}

// Execute runs q against the collection. An invalid collection or query
// yields an empty Result and a nil error; the reason is still available from
// DB.Error when the DB is reachable.
//
// Predicates with update operators ($set, $inc, $dropall, ...) modify the
// matched records inside one write transaction and return the updated
// documents.
func (c *Collection) Execute(q *Query, mode SearchMode) (Result, error) {
	const op = "execute"
	var res Result
	if _, err := q.resolve(op); err != nil {
		return Result{}, nil
	}
	err := c.use(op, func(db *DB, eng *engine, cs *collState) error {
		if q.db.Value() != db || q.gen != eng.gen {
			return ecode.Errorf(ecode.HandleExpired, op, "query belongs to another database session")
		}
		run := cs.view
		if q.primary.Update() != nil {
			run = cs.update
		}
		err := run(func(btx *bbolt.Tx) error {
			var err error
			res, err = cs.execute(btx, eng, q, mode, db.st.opt.MaxDocumentSize)
			return err
		})
		if db.st.verbose {
			cs.log.Debug(op, zap.Int("count", res.Count), zap.Uint32("mode", uint32(mode)), zap.Error(err))
		}
		return err
	})
	if err != nil {
		if isLivenessError(err) {
			return Result{}, nil
		}
		return Result{}, err
	}
	return res, nil
}

func isLivenessError(err error) bool {
	return errors.Is(err, ecode.HandleExpired) || errors.Is(err, ecode.NotOpen)
}

// Find returns every matching document.
func (c *Collection) Find(q *Query) ([][]byte, error) {
	res, err := c.Execute(q, SearchNormal)
	return res.Docs, err
}

// FindOne returns the first matching document, or nil.
func (c *Collection) FindOne(q *Query) ([]byte, error) {
	res, err := c.Execute(q, SearchFirstOnly)
	if err != nil || len(res.Docs) == 0 {
		return nil, err
	}
	return res.Docs[0], nil
}

func (c *Collection) Count(q *Query) (int, error) {
	res, err := c.Execute(q, SearchCountOnly)
	return res.Count, err
}

func (cs *collState) execute(btx *bbolt.Tx, eng *engine, q *Query, mode SearchMode, maxSize int) (Result, error) {
	hints := q.hints
	upd := q.primary.Update()

	// Without sorting the scan can stop once the result window is filled.
	limit := -1
	if len(hints.OrderBy) == 0 && !upd.IsUpsert() {
		if hints.Max >= 0 && hints.Max <= math.MaxInt-hints.Skip {
			limit = hints.Skip + hints.Max
		}
		if mode.Has(SearchFirstOnly) && hints.Skip < math.MaxInt && (limit < 0 || limit > hints.Skip+1) {
			limit = hints.Skip + 1
		}
	}

	var matched []bson.D
	consider := func(data []byte) (bool, error) {
		var doc bson.D
		if err := bson.Unmarshal(data, &doc); err != nil {
			return false, ecode.Wrap(ecode.InvalidBSON, "", err)
		}
		if q.match(doc) {
			matched = append(matched, doc)
		}
		return limit < 0 || len(matched) < limit, nil
	}

	if p := cs.choosePlan(btx, q.primary.IndexHints()); p != nil {
		data := btx.Bucket(dataBucket)
		for _, oid := range p.candidates(btx) {
			raw := data.Get(oid[:])
			if raw == nil {
				continue
			}
			var vle value
			if err := vle.decode(raw); err != nil {
				return Result{}, collErrf(cs.name, "", err, "record %s", oid.Hex())
			}
			cont, err := consider(vle.Data)
			if err != nil {
				return Result{}, err
			}
			if !cont {
				break
			}
		}
	} else {
		err := cs.scan(btx, func(_ bson.ObjectID, data []byte) (bool, error) {
			return consider(data)
		})
		if err != nil {
			return Result{}, err
		}
	}

	hints.Sort(matched)
	lo, hi := hints.Window(len(matched))
	window := matched[lo:hi]
	if mode.Has(SearchFirstOnly) && len(window) > 1 {
		window = window[:1]
	}

	if upd != nil {
		var err error
		if len(matched) == 0 && upd.IsUpsert() {
			window, err = cs.upsert(btx, upd, maxSize)
		} else {
			window, err = cs.applyUpdate(btx, upd, window, maxSize)
		}
		if err != nil {
			return Result{}, err
		}
	}

	res := Result{Count: len(window)}
	if mode.Has(SearchCountOnly) {
		return res, nil
	}
	for _, doc := range window {
		for _, j := range q.primary.Joins() {
			doc = cs.join(btx, eng, doc, j)
		}
		doc = hints.Project(doc)
		raw, err := bson.Marshal(doc)
		if err != nil {
			return Result{}, ecode.Wrap(ecode.InvalidBSON, "", err)
		}
		res.Docs = append(res.Docs, raw)
	}
	return res, nil
}

func (cs *collState) applyUpdate(btx *bbolt.Tx, upd *query.Update, docs []bson.D, maxSize int) ([]bson.D, error) {
	out := make([]bson.D, 0, len(docs))
	for _, doc := range docs {
		idv, _ := query.Get(doc, "_id")
		oid, ok := idv.(bson.ObjectID)
		if !ok {
			return nil, ecode.Errorf(ecode.InvalidBSONOID, "", "stored record has no ObjectID")
		}
		if upd.DropAll() {
			if _, err := cs.remove(btx, oid); err != nil {
				return nil, err
			}
			out = append(out, doc)
			continue
		}
		nd, err := upd.Apply(doc)
		if err != nil {
			return nil, err
		}
		raw, err := bson.Marshal(nd)
		if err != nil {
			return nil, ecode.Wrap(ecode.QueryUpdateFailed, "", err)
		}
		if len(raw) > maxSize {
			return nil, ecode.Errorf(ecode.BSONTooLarge, "", "updated document is %d bytes", len(raw))
		}
		if err := cs.put(btx, oid, raw, false, maxSize); err != nil {
			return nil, err
		}
		out = append(out, nd)
	}
	return out, nil
}

func (cs *collState) upsert(btx *bbolt.Tx, upd *query.Update, maxSize int) ([]bson.D, error) {
	doc := upd.UpsertDoc()
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, ecode.Wrap(ecode.QueryUpdateFailed, "", err)
	}
	raw, oid, err := prepareDocument(raw, maxSize)
	if err != nil {
		return nil, err
	}
	if err := cs.put(btx, oid, raw, false, maxSize); err != nil {
		return nil, err
	}
	var stored bson.D
	if err := bson.Unmarshal(raw, &stored); err != nil {
		return nil, ecode.Wrap(ecode.InvalidBSON, "", err)
	}
	return []bson.D{stored}, nil
}

// join replaces ObjectID references at j.Path with the referenced documents
// of another collection. Unresolvable references are left as they are
// (scalars) or dropped (array elements).
func (cs *collState) join(btx *bbolt.Tx, eng *engine, doc bson.D, j query.Join) bson.D {
	other := eng.colls[j.Collection]
	if other == nil {
		return doc
	}
	comps, err := query.SplitPath(j.Path)
	if err != nil {
		return doc
	}
	cur, ok := query.Lookup(doc, comps)
	if !ok {
		return doc
	}
	load := func(v any) (bson.D, bool) {
		var oid bson.ObjectID
		switch v := v.(type) {
		case bson.ObjectID:
			oid = v
		case string:
			var err error
			if oid, err = bson.ObjectIDFromHex(v); err != nil {
				return nil, false
			}
		default:
			return nil, false
		}
		var raw []byte
		if other == cs {
			raw, err = cs.load(btx, oid)
		} else {
			err = other.bdb.View(func(otx *bbolt.Tx) error {
				var err error
				raw, err = other.load(otx, oid)
				return err
			})
		}
		if err != nil || raw == nil {
			return nil, false
		}
		var d bson.D
		if bson.Unmarshal(raw, &d) != nil {
			return nil, false
		}
		return d, true
	}

	var repl any
	if arr, ok := query.AsArray(cur); ok {
		out := bson.A{}
		for _, el := range arr {
			if d, ok := load(el); ok {
				out = append(out, d)
			}
		}
		repl = out
	} else if d, ok := load(cur); ok {
		repl = d
	} else {
		return doc
	}
	nd, err := query.SetPath(doc, comps, repl)
	if err != nil {
		return doc
	}
	return nd
}
