package query

import (
	"errors"
	"math"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/andreyvit/ejdb/ecode"
)

func TestHints_Merge(t *testing.T) {
	h := NewHints()
	if err := h.Merge(MustJSON(`{"$max": 10, "$orderby": {"age": -1, "name": 1}}`)); err != nil {
		t.Fatal(err)
	}
	if err := h.Merge(MustJSON(`{"$skip": 2, "$max": 3}`)); err != nil {
		t.Fatal(err)
	}
	if h.Max != 3 || h.Skip != 2 || len(h.OrderBy) != 2 || !h.OrderBy[0].Desc || h.OrderBy[1].Desc {
		t.Fatalf("hints = %+v", h)
	}
}

func TestHints_errors(t *testing.T) {
	tests := []struct {
		hints string
		want  ecode.Code
	}{
		{`{"$orderby": {"a": 2}}`, ecode.QueryResultSortError},
		{`{"$fields": {"a": 1, "b": 0}}`, ecode.QueryCannotMixIncludeExclude},
		{`{"$max": -1}`, ecode.QueryError},
		{`{"$what": 1}`, ecode.InvalidQueryControlField},
	}
	for _, tt := range tests {
		err := NewHints().Merge(MustJSON(tt.hints))
		if !errors.Is(err, tt.want) {
			t.Errorf("Merge(%s) = %v, wanted %d", tt.hints, err, tt.want)
		}
	}
}

func TestHints_SortAndWindow(t *testing.T) {
	h := NewHints()
	must(t, h.Merge(MustJSON(`{"$orderby": {"age": 1}, "$skip": 1, "$max": 2}`)))
	docs := []bson.D{
		doc(t, `{"n": "c", "age": 30}`),
		doc(t, `{"n": "a", "age": 10}`),
		doc(t, `{"n": "x"}`),
		doc(t, `{"n": "b", "age": 20}`),
	}
	h.Sort(docs)
	var names []string
	for _, d := range docs {
		v, _ := Get(d, "n")
		names = append(names, v.(string))
	}
	if got, want := names, []string{"x", "a", "b", "c"}; !equalStrings(got, want) {
		t.Fatalf("sorted = %v, wanted %v", got, want)
	}
	if lo, hi := h.Window(4); lo != 1 || hi != 3 {
		t.Fatalf("Window(4) = %d..%d, wanted 1..3", lo, hi)
	}
	if lo, hi := h.Window(0); lo != 0 || hi != 0 {
		t.Fatalf("Window(0) = %d..%d, wanted 0..0", lo, hi)
	}
}

func TestHints_WindowHugeMax(t *testing.T) {
	h := NewHints()
	must(t, h.Merge(MustJSON(`{"$skip": 1, "$max": {"$numberLong": "9223372036854775807"}}`)))
	if h.Max != math.MaxInt {
		t.Fatalf("Max = %d, wanted %d", h.Max, math.MaxInt)
	}
	if lo, hi := h.Window(2); lo != 1 || hi != 2 {
		t.Fatalf("Window(2) = %d..%d, wanted 1..2", lo, hi)
	}
	h.Skip = math.MaxInt
	if lo, hi := h.Window(2); lo != 2 || hi != 2 {
		t.Fatalf("Window(2) with huge skip = %d..%d, wanted 2..2", lo, hi)
	}
}

func TestHints_Project(t *testing.T) {
	in := `{"_id": 1, "a": 1, "b": {"c": 2, "d": 3}, "e": 4}`
	h := NewHints()
	must(t, h.Merge(MustJSON(`{"$fields": {"b.c": 1, "e": 1}}`)))
	if got, want := h.Project(doc(t, in)), doc(t, `{"_id": 1, "b": {"c": 2}, "e": 4}`); !Equal(got, want) {
		t.Errorf("include = %v, wanted %v", got, want)
	}
	h = NewHints()
	must(t, h.Merge(MustJSON(`{"$fields": {"b.d": 0, "a": 0}}`)))
	if got, want := h.Project(doc(t, in)), doc(t, `{"_id": 1, "b": {"c": 2}, "e": 4}`); !Equal(got, want) {
		t.Errorf("exclude = %v, wanted %v", got, want)
	}
}

func TestHints_ProjectThroughArrays(t *testing.T) {
	in := `{"_id": 1, "a": [{"b": 1, "c": 2}, 7, {"c": 3}, {"b": 4, "d": {"e": 5, "f": 6}}], "g": {"h": 1}}`
	h := NewHints()
	must(t, h.Merge(MustJSON(`{"$fields": {"a.b": 1, "a.d.e": 1, "g.x": 1}}`)))
	want := doc(t, `{"_id": 1, "a": [{"b": 1}, {}, {"b": 4, "d": {"e": 5}}]}`)
	if got := h.Project(doc(t, in)); !Equal(got, want) {
		t.Errorf("include = %v, wanted %v", got, want)
	}
}

func must(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
