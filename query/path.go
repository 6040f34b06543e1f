package query

import (
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/andreyvit/ejdb/ecode"
)

// SplitPath validates a dotted field path and returns its components.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, ecode.Errorf(ecode.InvalidFieldPath, "", "empty path")
	}
	comps := strings.Split(path, ".")
	for _, c := range comps {
		if c == "" {
			return nil, ecode.Errorf(ecode.InvalidFieldPath, "", "%q has an empty component", path)
		}
		if c[0] == '$' {
			return nil, ecode.Errorf(ecode.InvalidFieldPath, "", "%q has an operator component", path)
		}
		if strings.IndexByte(c, 0) >= 0 {
			return nil, ecode.Errorf(ecode.InvalidFieldPath, "", "%q contains NUL", path)
		}
	}
	return comps, nil
}

// Resolve collects every value reachable by path. Arrays met on the way are
// both indexed numerically and traversed element-wise, so "a.b" finds b in
// each sub-document of array a.
func Resolve(v any, path []string) []any {
	return resolve(v, path, nil)
}

func resolve(v any, path []string, out []any) []any {
	if len(path) == 0 {
		return append(out, v)
	}
	if d, ok := AsDoc(v); ok {
		if val, ok := Get(d, path[0]); ok {
			out = resolve(val, path[1:], out)
		}
		return out
	}
	if arr, ok := AsArray(v); ok {
		if i, err := strconv.Atoi(path[0]); err == nil && i >= 0 && i < len(arr) {
			out = resolve(arr[i], path[1:], out)
		}
		for _, el := range arr {
			if _, ok := AsDoc(el); ok {
				out = resolve(el, path, out)
			}
		}
	}
	return out
}

// Lookup returns the first value found at path.
func Lookup(doc bson.D, path []string) (any, bool) {
	vals := Resolve(doc, path)
	if len(vals) == 0 {
		return nil, false
	}
	return vals[0], true
}

// setPath stores val at path, creating intermediate documents. The updated
// container is returned; callers must store it back.
func setPath(v any, path []string, val any) (any, error) {
	if len(path) == 0 {
		return val, nil
	}
	if v == nil {
		v = bson.D{}
	}
	if d, ok := AsDoc(v); ok {
		for i := range d {
			if d[i].Key == path[0] {
				nv, err := setPath(d[i].Value, path[1:], val)
				if err != nil {
					return nil, err
				}
				d[i].Value = nv
				return d, nil
			}
		}
		nv, err := setPath(nil, path[1:], val)
		if err != nil {
			return nil, err
		}
		return append(d, bson.E{Key: path[0], Value: nv}), nil
	}
	if arr, ok := AsArray(v); ok {
		i, err := strconv.Atoi(path[0])
		if err != nil || i < 0 {
			return nil, ecode.Errorf(ecode.QueryUpdateFailed, "", "cannot address array with %q", path[0])
		}
		for len(arr) <= i {
			arr = append(arr, nil)
		}
		nv, err := setPath(arr[i], path[1:], val)
		if err != nil {
			return nil, err
		}
		arr[i] = nv
		return arr, nil
	}
	return nil, ecode.Errorf(ecode.QueryUpdateFailed, "", "cannot set %q inside a %T", path[0], v)
}

// unsetPath removes the value at path if present.
func unsetPath(v any, path []string) any {
	if d, ok := AsDoc(v); ok {
		for i := range d {
			if d[i].Key != path[0] {
				continue
			}
			if len(path) == 1 {
				return append(d[:i:i], d[i+1:]...)
			}
			d[i].Value = unsetPath(d[i].Value, path[1:])
			return d
		}
		return d
	}
	if arr, ok := AsArray(v); ok && len(path) > 1 {
		if i, err := strconv.Atoi(path[0]); err == nil && i >= 0 && i < len(arr) {
			arr[i] = unsetPath(arr[i], path[1:])
		}
		return arr
	}
	return v
}

// SetPath stores val at path inside doc, creating intermediate documents.
func SetPath(doc bson.D, path []string, val any) (bson.D, error) {
	v, err := setPath(doc, path, val)
	if err != nil {
		return nil, err
	}
	return v.(bson.D), nil
}
