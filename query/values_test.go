package query

import (
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestCompare_typeOrder(t *testing.T) {
	oid := bson.NewObjectID()
	ordered := []any{nil, int32(1), 2.5, int64(3), "a", "b", bson.D{{Key: "x", Value: 1}}, bson.A{1}, oid, false, true}
	for i := 1; i < len(ordered); i++ {
		if c := Compare(ordered[i-1], ordered[i]); c >= 0 {
			t.Errorf("Compare(%v, %v) = %d, wanted < 0", ordered[i-1], ordered[i], c)
		}
	}
	if c := Compare(int32(5), 5.0); c != 0 {
		t.Errorf("Compare(int32(5), 5.0) = %d, wanted 0", c)
	}
}

func TestTokens(t *testing.T) {
	tests := []struct {
		in   any
		want []string
	}{
		{"a, b  c,,d", []string{"a", "b", "c", "d"}},
		{bson.A{"x", int32(2), 1.5, true}, []string{"x", "2", "1.5"}},
		{int64(7), []string{"7"}},
		{true, nil},
	}
	for _, tt := range tests {
		if got := Tokens(tt.in); !equalStrings(got, tt.want) {
			t.Errorf("Tokens(%v) = %q, wanted %q", tt.in, got, tt.want)
		}
	}
}

func TestFold(t *testing.T) {
	if Fold("Straße") != Fold("STRASSE") {
		t.Errorf("Fold(Straße) = %q, Fold(STRASSE) = %q", Fold("Straße"), Fold("STRASSE"))
	}
}

func TestResolve_arraysOfDocs(t *testing.T) {
	d := doc(t, `{"a": [{"b": 1}, {"b": [2, 3]}, 4]}`)
	got := Resolve(d, []string{"a", "b"})
	if len(got) != 2 || !Equal(got[0], int32(1)) || !Equal(got[1], bson.A{int32(2), int32(3)}) {
		t.Fatalf("Resolve = %v", got)
	}
}
