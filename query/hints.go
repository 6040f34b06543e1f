package query

import (
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/andreyvit/ejdb/ecode"
)

// Hints are the result-shaping options of a query: $max, $skip, $orderby
// and $fields.
type Hints struct {
	Max     int // -1 means unlimited
	Skip    int
	OrderBy []SortKey
	Fields  []string
	// Include is meaningful only when Fields is non-empty.
	Include bool
}

type SortKey struct {
	Path []string
	Desc bool
}

func NewHints() *Hints {
	return &Hints{Max: -1}
}

// Merge parses a hints document on top of h. Keys present in d replace the
// earlier values of the same key.
func (h *Hints) Merge(raw []byte) error {
	if err := CheckDocument(raw, 0); err != nil {
		return err
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return ecode.Wrap(ecode.InvalidBSON, "", err)
	}
	return h.MergeDoc(d)
}

func (h *Hints) MergeDoc(d bson.D) error {
	for _, e := range d {
		switch e.Key {
		case "$max", "$skip":
			n, ok := toInt(e.Value)
			if !ok || n < 0 {
				return ecode.Errorf(ecode.QueryError, "", "%s requires a non-negative integer", e.Key)
			}
			if e.Key == "$max" {
				h.Max = int(n)
			} else {
				h.Skip = int(n)
			}
		case "$orderby":
			keys, err := parseOrderBy(e.Value)
			if err != nil {
				return err
			}
			h.OrderBy = keys
		case "$fields":
			fields, include, err := parseFields(e.Value)
			if err != nil {
				return err
			}
			h.Fields, h.Include = fields, include
		default:
			if strings.HasPrefix(e.Key, "$") {
				return ecode.Errorf(ecode.InvalidQueryControlField, "", "%s", e.Key)
			}
			return ecode.Errorf(ecode.QueryError, "", "unknown hint %q", e.Key)
		}
	}
	return nil
}

func parseOrderBy(v any) ([]SortKey, error) {
	d, ok := AsDoc(v)
	if !ok {
		return nil, ecode.Errorf(ecode.QueryResultSortError, "", "$orderby requires a document")
	}
	keys := make([]SortKey, 0, len(d))
	for _, e := range d {
		comps, err := SplitPath(e.Key)
		if err != nil {
			return nil, err
		}
		n, ok := toInt(e.Value)
		if !ok || (n != 1 && n != -1) {
			return nil, ecode.Errorf(ecode.QueryResultSortError, "", "%s must be 1 or -1", e.Key)
		}
		keys = append(keys, SortKey{Path: comps, Desc: n < 0})
	}
	return keys, nil
}

func parseFields(v any) ([]string, bool, error) {
	d, ok := AsDoc(v)
	if !ok {
		return nil, false, ecode.Errorf(ecode.QueryError, "", "$fields requires a document")
	}
	var fields []string
	include, seen := false, false
	for _, e := range d {
		if _, err := SplitPath(e.Key); err != nil {
			return nil, false, err
		}
		var on bool
		if b, ok := e.Value.(bool); ok {
			on = b
		} else if n, ok := toInt(e.Value); ok && (n == 0 || n == 1) {
			on = n == 1
		} else {
			return nil, false, ecode.Errorf(ecode.QueryError, "", "$fields.%s must be 0 or 1", e.Key)
		}
		if seen && on != include {
			return nil, false, ecode.QueryCannotMixIncludeExclude
		}
		include, seen = on, true
		fields = append(fields, e.Key)
	}
	return fields, include, nil
}

// Sort orders docs by OrderBy. Missing values sort before everything else.
func (h *Hints) Sort(docs []bson.D) {
	if len(h.OrderBy) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range h.OrderBy {
			a, _ := Lookup(docs[i], k.Path)
			b, _ := Lookup(docs[j], k.Path)
			c := Compare(a, b)
			if k.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// Window applies $skip and $max to n results, returning the kept range.
func (h *Hints) Window(n int) (lo, hi int) {
	lo = min(h.Skip, n)
	hi = n
	if h.Max >= 0 && h.Max < hi-lo {
		hi = lo + h.Max
	}
	return lo, hi
}

// Project applies $fields. _id is always kept in include mode.
func (h *Hints) Project(doc bson.D) bson.D {
	if len(h.Fields) == 0 {
		return doc
	}
	if !h.Include {
		var v any = doc
		for _, f := range h.Fields {
			v = unsetPath(v, strings.Split(f, "."))
		}
		return v.(bson.D)
	}
	out := bson.D{}
	if id, ok := Get(doc, "_id"); ok {
		out = append(out, bson.E{Key: "_id", Value: id})
	}
	for _, f := range h.Fields {
		comps := strings.Split(f, ".")
		if comps[0] == "_id" {
			continue
		}
		out = projectInto(out, doc, comps)
	}
	return out
}

// projectInto copies the value at path from src into dst. Arrays of
// sub-documents are projected element by element, keeping the array shape.
func projectInto(dst, src bson.D, path []string) bson.D {
	v, ok := Get(src, path[0])
	if !ok {
		return dst
	}
	if len(path) == 1 {
		return putField(dst, path[0], v)
	}
	cur, _ := Get(dst, path[0])
	if d, ok := AsDoc(v); ok {
		cd, _ := AsDoc(cur)
		if sub := projectInto(cd, d, path[1:]); len(sub) > 0 {
			dst = putField(dst, path[0], sub)
		}
		return dst
	}
	if arr, ok := AsArray(v); ok {
		ca, _ := AsArray(cur)
		out := bson.A{}
		for _, el := range arr {
			d, ok := AsDoc(el)
			if !ok {
				continue
			}
			cd := bson.D{}
			if n := len(out); n < len(ca) {
				cd, _ = AsDoc(ca[n])
			}
			out = append(out, projectInto(cd, d, path[1:]))
		}
		return putField(dst, path[0], out)
	}
	return dst
}

func putField(d bson.D, key string, v any) bson.D {
	for i := range d {
		if d[i].Key == key {
			d[i].Value = v
			return d
		}
	}
	return append(d, bson.E{Key: key, Value: v})
}
