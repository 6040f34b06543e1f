package query

import (
	"bytes"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/text/cases"
)

// AsDoc returns v as an ordered document. bson.M values are converted with
// sorted keys so that iteration order stays deterministic.
func AsDoc(v any) (bson.D, bool) {
	switch v := v.(type) {
	case bson.D:
		return v, true
	case bson.M:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := make(bson.D, 0, len(v))
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: v[k]})
		}
		return d, true
	case map[string]any:
		return AsDoc(bson.M(v))
	default:
		return nil, false
	}
}

func AsArray(v any) (bson.A, bool) {
	switch v := v.(type) {
	case bson.A:
		return v, true
	case []any:
		return bson.A(v), true
	default:
		return nil, false
	}
}

// Get returns the value of a top-level key.
func Get(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func ToFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case bson.DateTime:
		return float64(v), true
	default:
		return 0, false
	}
}

func toInt(v any) (int64, bool) {
	switch v := v.(type) {
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int32, int64, int:
		return true
	default:
		return false
	}
}

// typeRank orders values of different types the way MongoDB sorts them.
func typeRank(v any) int {
	switch v.(type) {
	case bson.MinKey:
		return 0
	case nil, bson.Null, bson.Undefined:
		return 1
	case float64, float32, int32, int64, int, bson.Decimal128:
		return 2
	case string, bson.Symbol:
		return 3
	case bson.D, bson.M, map[string]any:
		return 4
	case bson.A, []any:
		return 5
	case bson.Binary:
		return 6
	case bson.ObjectID:
		return 7
	case bool:
		return 8
	case bson.DateTime:
		return 9
	case bson.Timestamp:
		return 10
	case bson.Regex:
		return 11
	case bson.MaxKey:
		return 13
	default:
		return 12
	}
}

// Compare defines a total order over BSON values.
func Compare(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case 2:
		fa, _ := ToFloat(a)
		fb, _ := ToFloat(b)
		return cmpFloat(fa, fb)
	case 3:
		return strings.Compare(stringOf(a), stringOf(b))
	case 4:
		da, _ := AsDoc(a)
		db, _ := AsDoc(b)
		n := min(len(da), len(db))
		for i := 0; i < n; i++ {
			if c := strings.Compare(da[i].Key, db[i].Key); c != 0 {
				return c
			}
			if c := Compare(da[i].Value, db[i].Value); c != 0 {
				return c
			}
		}
		return cmpInt(len(da), len(db))
	case 5:
		aa, _ := AsArray(a)
		ab, _ := AsArray(b)
		n := min(len(aa), len(ab))
		for i := 0; i < n; i++ {
			if c := Compare(aa[i], ab[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(aa), len(ab))
	case 6:
		ba, bb := a.(bson.Binary), b.(bson.Binary)
		if c := cmpInt(len(ba.Data), len(bb.Data)); c != 0 {
			return c
		}
		if c := cmpInt(int(ba.Subtype), int(bb.Subtype)); c != 0 {
			return c
		}
		return bytes.Compare(ba.Data, bb.Data)
	case 7:
		oa, ob := a.(bson.ObjectID), b.(bson.ObjectID)
		return bytes.Compare(oa[:], ob[:])
	case 8:
		ba, bb := a.(bool), b.(bool)
		if ba == bb {
			return 0
		} else if !ba {
			return -1
		}
		return 1
	case 9:
		return cmpInt64(int64(a.(bson.DateTime)), int64(b.(bson.DateTime)))
	case 10:
		ta, tb := a.(bson.Timestamp), b.(bson.Timestamp)
		if ta.T != tb.T {
			return cmpInt64(int64(ta.T), int64(tb.T))
		}
		return cmpInt64(int64(ta.I), int64(tb.I))
	case 11:
		xa, xb := a.(bson.Regex), b.(bson.Regex)
		if c := strings.Compare(xa.Pattern, xb.Pattern); c != 0 {
			return c
		}
		return strings.Compare(xa.Options, xb.Options)
	}
	return 0
}

// Equal reports whether two values are equal. Numbers compare by value
// regardless of their BSON width.
func Equal(a, b any) bool {
	if isNumber(a) && isNumber(b) {
		fa, _ := ToFloat(a)
		fb, _ := ToFloat(b)
		return fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	case bson.ObjectID:
		bv, ok := b.(bson.ObjectID)
		return ok && av == bv
	case bson.DateTime:
		bv, ok := b.(bson.DateTime)
		return ok && av == bv
	}
	if typeRank(a) != typeRank(b) {
		return false
	}
	switch typeRank(a) {
	case 4:
		da, _ := AsDoc(a)
		db, _ := AsDoc(b)
		if len(da) != len(db) {
			return false
		}
		for i := range da {
			if da[i].Key != db[i].Key || !Equal(da[i].Value, db[i].Value) {
				return false
			}
		}
		return true
	case 5:
		aa, _ := AsArray(a)
		ab, _ := AsArray(b)
		if len(aa) != len(ab) {
			return false
		}
		for i := range aa {
			if !Equal(aa[i], ab[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func stringOf(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case bson.Symbol:
		return string(v)
	default:
		return ""
	}
}

// Fold applies Unicode case folding, used by case-insensitive matching and
// istring indexes. A Caser is stateful, hence one per call.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// Tokens splits a value into array-index tokens: array elements become one
// token each; strings are split on whitespace and commas.
func Tokens(v any) []string {
	if arr, ok := AsArray(v); ok {
		var out []string
		for _, el := range arr {
			if s, ok := Scalar(el); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := v.(string); ok {
		return strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		})
	}
	if s, ok := Scalar(v); ok {
		return []string{s}
	}
	return nil
}

// Scalar formats strings and numbers as token text.
func Scalar(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int:
		return strconv.Itoa(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func cmpInt64(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}
