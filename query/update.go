package query

import (
	"math"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/andreyvit/ejdb/ecode"
)

// Update is the update program of a predicate. Operators run in a fixed
// order: $set, $upsert (as $set on existing records), $inc, $addToSet,
// $addToSetAll, $pull, $pullAll.
type Update struct {
	set         []pathValue
	upsert      bson.D
	inc         []pathValue
	addToSet    []pathValue
	addToSetAll []pathValue
	pull        []pathValue
	pullAll     []pathValue
	dropAll     bool
}

type pathValue struct {
	path  []string
	value any
}

func (u *Update) add(op string, v any) error {
	if op == "$dropall" {
		u.dropAll = true
		return nil
	}
	d, ok := AsDoc(v)
	if !ok {
		return ecode.Errorf(ecode.QueryError, "", "%s requires a document", op)
	}
	var dest *[]pathValue
	switch op {
	case "$set":
		dest = &u.set
	case "$upsert":
		u.upsert = append(u.upsert, d...)
		dest = &u.set
	case "$inc":
		dest = &u.inc
	case "$addToSet":
		dest = &u.addToSet
	case "$addToSetAll":
		dest = &u.addToSetAll
	case "$pull":
		dest = &u.pull
	case "$pullAll":
		dest = &u.pullAll
	}
	for _, e := range d {
		comps, err := SplitPath(e.Key)
		if err != nil {
			return err
		}
		if comps[0] == "_id" && op != "$upsert" {
			return ecode.Errorf(ecode.QueryUpdateFailed, "", "%s cannot modify _id", op)
		}
		switch op {
		case "$inc":
			if !isNumber(e.Value) {
				return ecode.Errorf(ecode.QueryUpdateFailed, "", "$inc value for %s is not a number", e.Key)
			}
		case "$addToSetAll", "$pullAll":
			if _, ok := AsArray(e.Value); !ok {
				return ecode.Errorf(ecode.QueryFieldRequireArray, "", "%s %s", op, e.Key)
			}
		}
		if op == "$upsert" && comps[0] == "_id" {
			continue
		}
		*dest = append(*dest, pathValue{comps, e.Value})
	}
	return nil
}

// DropAll reports whether matching records are deleted.
func (u *Update) DropAll() bool {
	return u != nil && u.dropAll
}

// IsUpsert reports whether a document is inserted when nothing matches.
func (u *Update) IsUpsert() bool {
	return u != nil && u.upsert != nil
}

// UpsertDoc returns a fresh copy of the document to insert when nothing
// matches.
func (u *Update) UpsertDoc() bson.D {
	out := make(bson.D, 0, len(u.upsert))
	for _, e := range u.upsert {
		if e.Key == "_id" {
			out = append(bson.D{e}, out...)
			continue
		}
		out = append(out, e)
	}
	return out
}

// Apply runs the program against doc and returns the updated document.
func (u *Update) Apply(doc bson.D) (bson.D, error) {
	var v any = doc
	var err error
	for _, pv := range u.set {
		if v, err = setPath(v, pv.path, pv.value); err != nil {
			return nil, err
		}
	}
	for _, pv := range u.inc {
		cur, found := Lookup(v.(bson.D), pv.path)
		sum := pv.value
		if found {
			if sum, err = addNumbers(cur, pv.value); err != nil {
				return nil, err
			}
		}
		if v, err = setPath(v, pv.path, sum); err != nil {
			return nil, err
		}
	}
	for _, pv := range u.addToSet {
		if v, err = addToArray(v, pv.path, bson.A{pv.value}); err != nil {
			return nil, err
		}
	}
	for _, pv := range u.addToSetAll {
		arr, _ := AsArray(pv.value)
		if v, err = addToArray(v, pv.path, arr); err != nil {
			return nil, err
		}
	}
	for _, pv := range u.pull {
		if v, err = pullFromArray(v, pv.path, bson.A{pv.value}); err != nil {
			return nil, err
		}
	}
	for _, pv := range u.pullAll {
		arr, _ := AsArray(pv.value)
		if v, err = pullFromArray(v, pv.path, arr); err != nil {
			return nil, err
		}
	}
	return v.(bson.D), nil
}

func addToArray(v any, path []string, items bson.A) (any, error) {
	cur, found := Lookup(v.(bson.D), path)
	var arr bson.A
	if found {
		var ok bool
		if arr, ok = AsArray(cur); !ok {
			return nil, ecode.Errorf(ecode.QueryUpdateFailed, "", "$addToSet target is not an array")
		}
	}
	for _, it := range items {
		dup := false
		for _, have := range arr {
			if Equal(have, it) {
				dup = true
				break
			}
		}
		if !dup {
			arr = append(arr, it)
		}
	}
	if arr == nil {
		arr = bson.A{}
	}
	return setPath(v, path, arr)
}

func pullFromArray(v any, path []string, items bson.A) (any, error) {
	cur, found := Lookup(v.(bson.D), path)
	if !found {
		return v, nil
	}
	arr, ok := AsArray(cur)
	if !ok {
		return v, nil
	}
	out := make(bson.A, 0, len(arr))
	for _, have := range arr {
		drop := false
		for _, it := range items {
			if Equal(have, it) {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, have)
		}
	}
	return setPath(v, path, out)
}

// addNumbers keeps integer width when both sides are integers and the sum
// fits, widening int32 to int64 on overflow.
func addNumbers(a, b any) (any, error) {
	if !isNumber(a) {
		return nil, ecode.Errorf(ecode.QueryUpdateFailed, "", "$inc target is a %T", a)
	}
	ai, aInt := a.(int32)
	bi, bInt := b.(int32)
	if aInt && bInt {
		s := int64(ai) + int64(bi)
		if s >= math.MinInt32 && s <= math.MaxInt32 {
			return int32(s), nil
		}
		return s, nil
	}
	_, aFloat := a.(float64)
	_, bFloat := b.(float64)
	if !aFloat && !bFloat {
		x, _ := toInt(a)
		y, _ := toInt(b)
		return x + y, nil
	}
	x, _ := ToFloat(a)
	y, _ := ToFloat(b)
	return x + y, nil
}
