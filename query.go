package ejdb

import (
	"weak"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/andreyvit/ejdb/ecode"
	"github.com/andreyvit/ejdb/query"
)

// Query is a compiled predicate bound to the DB that created it. A document
// matches when the primary predicate matches and, if any OR branches were
// added, at least one of them matches too.
//
// A Query must not be modified concurrently with its execution.
type Query struct {
	db      weak.Pointer[DB]
	gen     uint64
	primary *query.Predicate
	ors     []*query.Predicate
	hints   *query.Hints
}

// resolve returns the owning DB if the query still belongs to its session.
func (q *Query) resolve(op string) (*DB, error) {
	if q == nil || q.primary == nil {
		return nil, ecode.New(ecode.HandleExpired, op)
	}
	db := q.db.Value()
	if db == nil {
		return nil, ecode.New(ecode.HandleExpired, op)
	}
	db.st.mu.RLock()
	defer db.st.mu.RUnlock()
	if db.st.eng == nil {
		return db, db.record(ecode.New(ecode.NotOpen, op))
	}
	if db.st.eng.gen != q.gen {
		return db, db.record(ecode.New(ecode.HandleExpired, op))
	}
	return db, nil
}

func (q *Query) Valid() bool {
	_, err := q.resolve("valid")
	return err == nil
}

// Or adds an alternative predicate.
func (q *Query) Or(predicate []byte) error {
	const op = "query_or"
	db, err := q.resolve(op)
	if err != nil {
		return err
	}
	p, err := query.Compile(predicate)
	if err != nil {
		return db.record(ecode.FromStorage(op, ecode.QueryError, err))
	}
	q.ors = append(q.ors, p)
	return db.record(nil)
}

// And is not supported; combine conditions in the primary predicate or with
// $and instead.
func (q *Query) And(predicate []byte) error {
	const op = "query_and"
	db, err := q.resolve(op)
	if err != nil {
		return err
	}
	return db.record(ecode.Errorf(ecode.NotImplemented, op, "use $and inside the predicate"))
}

// SetHints merges a hints document ($max, $skip, $orderby, $fields). Later
// calls replace the keys they mention.
func (q *Query) SetHints(hints []byte) error {
	const op = "query_hints"
	db, err := q.resolve(op)
	if err != nil {
		return err
	}
	h := *q.hints
	if err := h.Merge(hints); err != nil {
		return db.record(ecode.FromStorage(op, ecode.QueryError, err))
	}
	*q.hints = h
	return db.record(nil)
}

func (q *Query) match(doc bson.D) bool {
	if !q.primary.Match(doc) {
		return false
	}
	if len(q.ors) == 0 {
		return true
	}
	for _, p := range q.ors {
		if p.Match(doc) {
			return true
		}
	}
	return false
}
