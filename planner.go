package ejdb

import (
	"bytes"

	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/andreyvit/ejdb/query"
)

// planEstimateCap bounds how many index entries are counted per candidate
// condition when choosing an index.
const planEstimateCap = 4096

// keyRange selects index keys in [start, end). A positive exactLen also
// requires keys of exactly that length, which turns a prefix range into an
// equality lookup.
type keyRange struct {
	start, end []byte
	exactLen   int
}

func eqRange(k []byte) keyRange {
	return keyRange{start: k, end: prefixEnd(k), exactLen: len(k) + oidLen}
}

// each calls f for every key in range until f returns false.
func (r keyRange) each(b *bbolt.Bucket, f func(k []byte) bool) {
	c := b.Cursor()
	var k []byte
	if r.start == nil {
		k, _ = c.First()
	} else {
		k, _ = c.Seek(r.start)
	}
	for ; k != nil; k, _ = c.Next() {
		if r.end != nil && bytes.Compare(k, r.end) >= 0 {
			return
		}
		if r.exactLen > 0 && len(k) != r.exactLen {
			continue
		}
		if !f(k) {
			return
		}
	}
}

// plan is an index access path for one top-level condition.
type plan struct {
	index  *indexState
	ranges []keyRange
	est    int
}

// choosePlan picks the index condition with the fewest matching entries.
// A nil plan means a full scan.
func (cs *collState) choosePlan(btx *bbolt.Tx, hints []query.IndexHint) *plan {
	var best *plan
	for _, h := range hints {
		p := cs.planFor(h)
		if p == nil {
			continue
		}
		b := btx.Bucket([]byte(p.index.bucketName()))
		if b == nil {
			continue
		}
		for _, r := range p.ranges {
			r.each(b, func([]byte) bool {
				p.est++
				return p.est < planEstimateCap
			})
			if p.est >= planEstimateCap {
				break
			}
		}
		if best == nil || p.est < best.est {
			best = p
		}
	}
	return best
}

func (cs *collState) planFor(h query.IndexHint) *plan {
	switch h.Kind {
	case query.HintEq, query.HintIn:
		typ := operandIndexType(h.Values, h.ICase)
		is := cs.index(h.Path, typ)
		if typ == 0 || is == nil {
			return nil
		}
		p := &plan{index: is}
		for _, v := range h.Values {
			k, _ := lookupKey(typ, v)
			p.ranges = append(p.ranges, eqRange(k))
		}
		return p

	case query.HintRange:
		is := cs.index(h.Path, IndexNumber)
		if is == nil {
			return nil
		}
		var r keyRange
		if h.Lo != nil {
			lo, _ := query.ToFloat(h.Lo)
			r.start = encodeNumber(lo)
			if !h.LoIncl {
				r.start = prefixEnd(r.start)
			}
		}
		if h.Hi != nil {
			hi, _ := query.ToFloat(h.Hi)
			r.end = encodeNumber(hi)
			if h.HiIncl {
				r.end = prefixEnd(r.end)
			}
		}
		return &plan{index: is, ranges: []keyRange{r}}

	case query.HintPrefix:
		if len(h.Prefix) > maxStringKeyLen {
			return nil
		}
		typ := IndexString
		if h.ICase {
			typ = IndexIString
		}
		is := cs.index(h.Path, typ)
		if is == nil {
			return nil
		}
		start := encodeString(h.Prefix)
		return &plan{index: is, ranges: []keyRange{{start: start, end: prefixEnd(start)}}}

	case query.HintTokens:
		is := cs.index(h.Path, IndexArray)
		if is == nil {
			return nil
		}
		tokens := h.Values
		if h.All {
			// every match contains the first token
			tokens = tokens[:1]
		}
		p := &plan{index: is}
		for _, t := range tokens {
			k, ok := lookupKey(IndexArray, t)
			if !ok {
				return nil
			}
			p.ranges = append(p.ranges, eqRange(k))
		}
		return p
	}
	return nil
}

// operandIndexType returns the index type able to answer equality with all
// of values, or 0.
func operandIndexType(values []any, icase bool) IndexMode {
	var typ IndexMode
	for _, v := range values {
		var t IndexMode
		switch {
		case icase:
			if _, ok := v.(string); !ok {
				return 0
			}
			t = IndexIString
		case isNumeric(v):
			t = IndexNumber
		default:
			if _, ok := v.(string); !ok {
				return 0
			}
			t = IndexString
		}
		if typ != 0 && typ != t {
			return 0
		}
		typ = t
	}
	return typ
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, int32, int64:
		return true
	}
	return false
}

// candidates returns the distinct OIDs referenced by the plan's ranges, in
// index order.
func (p *plan) candidates(btx *bbolt.Tx) []bson.ObjectID {
	b := btx.Bucket([]byte(p.index.bucketName()))
	if b == nil {
		return nil
	}
	seen := make(map[bson.ObjectID]bool)
	var out []bson.ObjectID
	for _, r := range p.ranges {
		r.each(b, func(k []byte) bool {
			_, oid := splitIndexKey(k)
			if !seen[oid] {
				seen[oid] = true
				out = append(out, oid)
			}
			return true
		})
	}
	return out
}
