package query

import (
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type node interface {
	match(doc bson.D) bool
}

type andNode []node

func (n andNode) match(doc bson.D) bool {
	for _, c := range n {
		if !c.match(doc) {
			return false
		}
	}
	return true
}

type orNode []node

func (n orNode) match(doc bson.D) bool {
	for _, c := range n {
		if c.match(doc) {
			return true
		}
	}
	return false
}

type notNode struct {
	child node
}

func (n notNode) match(doc bson.D) bool {
	return !n.child.match(doc)
}

// fieldNode applies a condition to every value found at path. When a value is
// an array, element-wise conditions are also tried against its elements.
type fieldNode struct {
	path []string
	cond cond
}

func (n *fieldNode) match(doc bson.D) bool {
	for _, v := range Resolve(doc, n.path) {
		if n.cond.test(v) {
			return true
		}
		if !n.cond.elementwise() {
			continue
		}
		if arr, ok := AsArray(v); ok {
			for _, el := range arr {
				if n.cond.test(el) {
					return true
				}
			}
		}
	}
	return false
}

type existsNode struct {
	path []string
}

func (n *existsNode) match(doc bson.D) bool {
	return len(Resolve(doc, n.path)) > 0
}

// elemMatchNode matches when some element of an array at path satisfies every
// sub-condition at once.
type elemMatchNode struct {
	path []string
	sub  node   // for sub-document elements
	self []cond // for operator-only forms like {$elemMatch: {$gt: 1}}
}

func (n *elemMatchNode) match(doc bson.D) bool {
	for _, v := range Resolve(doc, n.path) {
		arr, ok := AsArray(v)
		if !ok {
			continue
		}
		for _, el := range arr {
			if n.elementMatches(el) {
				return true
			}
		}
	}
	return false
}

func (n *elemMatchNode) elementMatches(el any) bool {
	if n.self != nil {
		for _, c := range n.self {
			if !c.test(el) {
				return false
			}
		}
		return true
	}
	d, ok := AsDoc(el)
	return ok && n.sub.match(d)
}

type cond interface {
	test(v any) bool
	elementwise() bool
}

type eqCond struct {
	value any
	icase bool
}

func (c *eqCond) test(v any) bool {
	if c.icase {
		a, ok1 := v.(string)
		b, ok2 := c.value.(string)
		if ok1 && ok2 {
			return Fold(a) == Fold(b)
		}
	}
	return Equal(v, c.value)
}

func (c *eqCond) elementwise() bool { return true }

type regexCond struct {
	re *regexp.Regexp
}

func (c *regexCond) test(v any) bool {
	s, ok := v.(string)
	return ok && c.re.MatchString(s)
}

func (c *regexCond) elementwise() bool { return true }

type beginCond struct {
	prefix string
	icase  bool
}

func (c *beginCond) test(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	if c.icase {
		return strings.HasPrefix(Fold(s), c.prefix)
	}
	return strings.HasPrefix(s, c.prefix)
}

func (c *beginCond) elementwise() bool { return true }

type cmpOp int

const (
	opGt cmpOp = iota
	opGte
	opLt
	opLte
)

// cmpCond compares values of the same class only: numbers with numbers,
// strings with strings.
type cmpCond struct {
	op    cmpOp
	value any
}

func (c *cmpCond) test(v any) bool {
	if !sameClass(v, c.value) {
		return false
	}
	r := Compare(v, c.value)
	switch c.op {
	case opGt:
		return r > 0
	case opGte:
		return r >= 0
	case opLt:
		return r < 0
	default:
		return r <= 0
	}
}

func (c *cmpCond) elementwise() bool { return true }

type btCond struct {
	lo, hi any
}

func (c *btCond) test(v any) bool {
	return sameClass(v, c.lo) && sameClass(v, c.hi) &&
		Compare(v, c.lo) >= 0 && Compare(v, c.hi) <= 0
}

func (c *btCond) elementwise() bool { return true }

type inCond struct {
	values bson.A
	icase  bool
}

func (c *inCond) test(v any) bool {
	for _, want := range c.values {
		e := eqCond{value: want, icase: c.icase}
		if e.test(v) {
			return true
		}
	}
	return false
}

func (c *inCond) elementwise() bool { return true }

// tokenCond implements $strand (all tokens present) and $stror (any token
// present) against the tokens of an array or a delimited string.
type tokenCond struct {
	tokens []string
	all    bool
	icase  bool
}

func (c *tokenCond) test(v any) bool {
	have := make(map[string]bool)
	for _, t := range Tokens(v) {
		if c.icase {
			t = Fold(t)
		}
		have[t] = true
	}
	if len(have) == 0 {
		return false
	}
	for _, t := range c.tokens {
		if have[t] {
			if !c.all {
				return true
			}
		} else if c.all {
			return false
		}
	}
	return c.all
}

func (c *tokenCond) elementwise() bool { return false }

func sameClass(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		return true
	}
	return typeRank(a) == typeRank(b) && typeRank(a) != 4 && typeRank(a) != 5
}
