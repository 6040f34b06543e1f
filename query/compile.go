// Package query compiles MongoDB-style predicate documents into matchers,
// update programs, join directives and index hints, and evaluates them over
// decoded BSON documents.
package query

import (
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/andreyvit/ejdb/ecode"
)

type HintKind int

const (
	HintEq HintKind = iota
	HintIn
	HintRange
	HintPrefix
	HintTokens
)

// IndexHint is a top-level condition that an index could answer. Values
// reachable through a hint form a superset of the documents that match it.
type IndexHint struct {
	Path   string
	Kind   HintKind
	Values []any // HintEq (one value), HintIn, HintTokens (strings)
	Lo, Hi any   // HintRange; nil means unbounded
	LoIncl bool
	HiIncl bool
	Prefix string // HintPrefix
	ICase  bool
	All    bool // HintTokens: $strand
}

// Join replaces the value at Path (an OID or an array of OIDs) with the
// referenced documents of Collection.
type Join struct {
	Path       string
	Collection string
}

// Predicate is one compiled predicate document.
type Predicate struct {
	root   andNode
	update *Update
	joins  []Join
	hints  []IndexHint
}

// Compile parses a BSON predicate document.
func Compile(raw []byte) (*Predicate, error) {
	if err := CheckDocument(raw, 0); err != nil {
		return nil, err
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, ecode.Wrap(ecode.InvalidBSON, "", err)
	}
	return CompileDoc(d)
}

func CompileDoc(d bson.D) (*Predicate, error) {
	c := &compiler{}
	p := &Predicate{}
	for _, e := range d {
		switch e.Key {
		case "$set", "$upsert", "$inc", "$dropall", "$addToSet", "$addToSetAll", "$pull", "$pullAll":
			if p.update == nil {
				p.update = &Update{}
			}
			if err := p.update.add(e.Key, e.Value); err != nil {
				return nil, err
			}
			continue
		case "$do":
			joins, err := parseDo(e.Value)
			if err != nil {
				return nil, err
			}
			p.joins = append(p.joins, joins...)
			continue
		}
		n, err := c.element(e, "", true)
		if err != nil {
			return nil, err
		}
		p.root = append(p.root, n)
	}
	p.hints = c.hints
	return p, nil
}

func (p *Predicate) Match(doc bson.D) bool {
	return p.root.match(doc)
}

// Update returns the update program, or nil for a pure search predicate.
func (p *Predicate) Update() *Update {
	return p.update
}

func (p *Predicate) Joins() []Join {
	return p.joins
}

func (p *Predicate) IndexHints() []IndexHint {
	return p.hints
}

type compiler struct {
	hints     []IndexHint
	elemPaths []string
}

// element compiles one key/value pair of a predicate document. base is the
// path prefix of an enclosing $elemMatch; top reports whether hints may be
// collected (top-level conjunction only).
func (c *compiler) element(e bson.E, base string, top bool) (node, error) {
	switch e.Key {
	case "$and", "$or":
		arr, ok := AsArray(e.Value)
		if !ok || len(arr) == 0 {
			return nil, ecode.Errorf(ecode.QueryError, "", "%s requires a non-empty array of documents", e.Key)
		}
		var children []node
		for _, el := range arr {
			d, ok := AsDoc(el)
			if !ok {
				return nil, ecode.Errorf(ecode.QueryError, "", "%s elements must be documents", e.Key)
			}
			sub, err := c.doc(d, base, top && e.Key == "$and")
			if err != nil {
				return nil, err
			}
			children = append(children, sub)
		}
		if e.Key == "$and" {
			return andNode(children), nil
		}
		return orNode(children), nil
	}
	if strings.HasPrefix(e.Key, "$") {
		return nil, ecode.Errorf(ecode.InvalidQueryControlField, "", "%s", e.Key)
	}
	comps, err := SplitPath(e.Key)
	if err != nil {
		return nil, err
	}
	full := e.Key
	if base != "" {
		full = base + "." + e.Key
	}
	if ops, ok := AsDoc(e.Value); ok && len(ops) > 0 && strings.HasPrefix(ops[0].Key, "$") {
		return c.ops(comps, full, ops, false, top)
	}
	if re, ok := e.Value.(bson.Regex); ok {
		rc, err := compileRegex(re)
		if err != nil {
			return nil, err
		}
		return &fieldNode{path: comps, cond: rc}, nil
	}
	if top {
		c.hint(IndexHint{Path: full, Kind: HintEq, Values: []any{e.Value}})
	}
	return &fieldNode{path: comps, cond: &eqCond{value: e.Value}}, nil
}

func (c *compiler) doc(d bson.D, base string, top bool) (node, error) {
	var n andNode
	for _, e := range d {
		sub, err := c.element(e, base, top)
		if err != nil {
			return nil, err
		}
		n = append(n, sub)
	}
	return n, nil
}

func (c *compiler) hint(h IndexHint) {
	c.hints = append(c.hints, h)
}

// ops compiles an operator document such as {$gt: 1, $lt: 5} for one path.
func (c *compiler) ops(comps []string, full string, ops bson.D, icase, top bool) (node, error) {
	var n andNode
	for _, op := range ops {
		sub, err := c.op(comps, full, op, icase, top)
		if err != nil {
			return nil, err
		}
		n = append(n, sub)
	}
	if len(n) == 1 {
		return n[0], nil
	}
	return n, nil
}

func (c *compiler) op(comps []string, full string, op bson.E, icase, top bool) (node, error) {
	field := func(cd cond) node { return &fieldNode{path: comps, cond: cd} }
	switch op.Key {
	case "$not":
		if d, ok := AsDoc(op.Value); ok && len(d) > 0 && strings.HasPrefix(d[0].Key, "$") {
			sub, err := c.ops(comps, full, d, icase, false)
			if err != nil {
				return nil, err
			}
			return notNode{sub}, nil
		}
		if re, ok := op.Value.(bson.Regex); ok {
			rc, err := compileRegex(re)
			if err != nil {
				return nil, err
			}
			return notNode{field(rc)}, nil
		}
		return notNode{field(&eqCond{value: op.Value, icase: icase})}, nil

	case "$icase":
		if d, ok := AsDoc(op.Value); ok && len(d) > 0 && strings.HasPrefix(d[0].Key, "$") {
			return c.ops(comps, full, d, true, top)
		}
		s, ok := op.Value.(string)
		if !ok {
			return nil, ecode.Errorf(ecode.QueryError, "", "$icase requires a string or an operator document")
		}
		if top {
			c.hint(IndexHint{Path: full, Kind: HintEq, Values: []any{s}, ICase: true})
		}
		return field(&eqCond{value: s, icase: true}), nil

	case "$begin":
		s, ok := op.Value.(string)
		if !ok {
			return nil, ecode.Errorf(ecode.QueryError, "", "$begin requires a string")
		}
		if icase {
			s = Fold(s)
		}
		if top {
			c.hint(IndexHint{Path: full, Kind: HintPrefix, Prefix: s, ICase: icase})
		}
		return field(&beginCond{prefix: s, icase: icase}), nil

	case "$gt", "$gte", "$lt", "$lte":
		cc := &cmpCond{value: op.Value}
		h := IndexHint{Path: full, Kind: HintRange}
		switch op.Key {
		case "$gt":
			cc.op, h.Lo = opGt, op.Value
		case "$gte":
			cc.op, h.Lo, h.LoIncl = opGte, op.Value, true
		case "$lt":
			cc.op, h.Hi = opLt, op.Value
		case "$lte":
			cc.op, h.Hi, h.HiIncl = opLte, op.Value, true
		}
		if top && isNumber(op.Value) {
			c.hint(h)
		}
		return field(cc), nil

	case "$bt":
		arr, ok := AsArray(op.Value)
		if !ok || len(arr) != 2 {
			return nil, ecode.Errorf(ecode.QueryFieldRequireArray, "", "$bt requires a two-element array")
		}
		if top && isNumber(arr[0]) && isNumber(arr[1]) {
			c.hint(IndexHint{Path: full, Kind: HintRange, Lo: arr[0], Hi: arr[1], LoIncl: true, HiIncl: true})
		}
		return field(&btCond{lo: arr[0], hi: arr[1]}), nil

	case "$in", "$nin":
		arr, ok := AsArray(op.Value)
		if !ok || len(arr) == 0 {
			return nil, ecode.Errorf(ecode.QueryFieldRequireArray, "", "%s", op.Key)
		}
		ic := &inCond{values: arr, icase: icase}
		if op.Key == "$nin" {
			return notNode{field(ic)}, nil
		}
		if top {
			c.hint(IndexHint{Path: full, Kind: HintIn, Values: []any(arr), ICase: icase})
		}
		return field(ic), nil

	case "$strand", "$stror":
		arr, ok := AsArray(op.Value)
		if !ok || len(arr) == 0 {
			return nil, ecode.Errorf(ecode.QueryFieldRequireArray, "", "%s", op.Key)
		}
		tc := &tokenCond{all: op.Key == "$strand", icase: icase}
		for _, el := range arr {
			s, ok := Scalar(el)
			if !ok {
				return nil, ecode.Errorf(ecode.QueryError, "", "%s tokens must be strings or numbers", op.Key)
			}
			if icase {
				s = Fold(s)
			}
			tc.tokens = append(tc.tokens, s)
		}
		if top && !icase {
			vals := make([]any, len(tc.tokens))
			for i, t := range tc.tokens {
				vals[i] = t
			}
			c.hint(IndexHint{Path: full, Kind: HintTokens, Values: vals, All: tc.all})
		}
		return field(tc), nil

	case "$exists":
		want, ok := op.Value.(bool)
		if !ok {
			f, isNum := ToFloat(op.Value)
			if !isNum {
				return nil, ecode.Errorf(ecode.QueryError, "", "$exists requires a boolean")
			}
			want = f != 0
		}
		if want {
			return &existsNode{path: comps}, nil
		}
		return notNode{&existsNode{path: comps}}, nil

	case "$elemMatch":
		d, ok := AsDoc(op.Value)
		if !ok || len(d) == 0 {
			return nil, ecode.Errorf(ecode.QueryError, "", "$elemMatch requires a document")
		}
		for _, p := range c.elemPaths {
			if pathsOverlap(p, full) {
				return nil, ecode.Errorf(ecode.QueryElemMatchLimit, "", "%s", full)
			}
		}
		c.elemPaths = append(c.elemPaths, full)
		em := &elemMatchNode{path: comps}
		if strings.HasPrefix(d[0].Key, "$") && d[0].Key != "$and" && d[0].Key != "$or" {
			for _, e := range d {
				cd, err := c.selfCond(e, icase)
				if err != nil {
					return nil, err
				}
				em.self = append(em.self, cd)
			}
			return em, nil
		}
		sub, err := c.doc(d, full, false)
		if err != nil {
			return nil, err
		}
		em.sub = sub
		return em, nil
	}
	return nil, ecode.Errorf(ecode.InvalidQueryControlField, "", "%s", op.Key)
}

// selfCond compiles operators applied directly to array elements inside
// {$elemMatch: {$gte: 1, $lt: 5}}.
func (c *compiler) selfCond(op bson.E, icase bool) (cond, error) {
	switch op.Key {
	case "$gt":
		return &cmpCond{op: opGt, value: op.Value}, nil
	case "$gte":
		return &cmpCond{op: opGte, value: op.Value}, nil
	case "$lt":
		return &cmpCond{op: opLt, value: op.Value}, nil
	case "$lte":
		return &cmpCond{op: opLte, value: op.Value}, nil
	case "$begin":
		s, ok := op.Value.(string)
		if !ok {
			return nil, ecode.Errorf(ecode.QueryError, "", "$begin requires a string")
		}
		return &beginCond{prefix: s}, nil
	case "$in":
		arr, ok := AsArray(op.Value)
		if !ok || len(arr) == 0 {
			return nil, ecode.Errorf(ecode.QueryFieldRequireArray, "", "$in")
		}
		return &inCond{values: arr, icase: icase}, nil
	case "$bt":
		arr, ok := AsArray(op.Value)
		if !ok || len(arr) != 2 {
			return nil, ecode.Errorf(ecode.QueryFieldRequireArray, "", "$bt requires a two-element array")
		}
		return &btCond{lo: arr[0], hi: arr[1]}, nil
	}
	return nil, ecode.Errorf(ecode.InvalidQueryControlField, "", "%s inside $elemMatch", op.Key)
}

func pathsOverlap(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+".") || strings.HasPrefix(b, a+".")
}

func compileRegex(re bson.Regex) (*regexCond, error) {
	var flags string
	for _, f := range re.Options {
		switch f {
		case 'i', 'm', 's':
			flags += string(f)
		}
	}
	pattern := re.Pattern
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	rx, err := regexp.Compile(pattern)
	if err != nil {
		return nil, ecode.Wrap(ecode.InvalidQueryRegex, "", err)
	}
	return &regexCond{re: rx}, nil
}

func parseDo(v any) ([]Join, error) {
	d, ok := AsDoc(v)
	if !ok {
		return nil, ecode.Errorf(ecode.QueryError, "", "$do requires a document")
	}
	var joins []Join
	for _, e := range d {
		if _, err := SplitPath(e.Key); err != nil {
			return nil, err
		}
		actions, ok := AsDoc(e.Value)
		if !ok || len(actions) == 0 {
			return nil, ecode.Errorf(ecode.QueryInvalidAction, "", "%s", e.Key)
		}
		for _, a := range actions {
			if a.Key != "$join" {
				return nil, ecode.Errorf(ecode.QueryInvalidAction, "", "%s", a.Key)
			}
			coll, ok := a.Value.(string)
			if !ok || coll == "" {
				return nil, ecode.Errorf(ecode.QueryInvalidAction, "", "$join requires a collection name")
			}
			joins = append(joins, Join{Path: e.Key, Collection: coll})
		}
	}
	return joins, nil
}
