package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaw_GetFirstMatchAndNull(t *testing.T) {
	t.Parallel()

	r := Raw{Fields: []Field{
		{Name: "a", Value: "1"},
		{Name: "b", Null: true},
		{Name: "a", Value: "2"},
	}}

	v, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = r.Get("b")
	assert.False(t, ok, "null field must read as absent")

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRaw_MarshalJSONKeepsOrder(t *testing.T) {
	t.Parallel()

	r := Raw{Fields: []Field{
		{Name: "zeta", Value: "z"},
		{Name: "Alpha", Value: `quote " and \ slash`},
		{Name: "gone", Null: true},
	}}

	got := r.JSON()
	assert.Equal(t, `{"zeta":"z","Alpha":"quote \" and \\ slash","gone":null}`, got)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &m))
	assert.Equal(t, "z", m["zeta"])
	assert.Nil(t, m["gone"])
}

func TestRaw_MarshalJSONWritesTypedValuesUnquoted(t *testing.T) {
	t.Parallel()

	r := Raw{Fields: []Field{
		{Name: "age", Value: "31", JSON: true},
		{Name: "tags", Value: `["a","b"]`, JSON: true},
		{Name: "zip", Value: "0150"},
	}}
	assert.Equal(t, `{"age":31,"tags":["a","b"],"zip":"0150"}`, r.JSON())
}

func TestIdentityPolicy_Key(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		policy IdentityPolicy
		rec    Normalized
		want   string
		ok     bool
	}{
		{"email present", IdentityEmail, Normalized{Email: "a@b.c"}, "a@b.c", true},
		{"email blank", IdentityEmail, Normalized{Email: "  ", Username: "u"}, "", false},
		{"multi email wins", IdentityMulti, Normalized{Email: "a@b.c", Username: "u"}, "email:a@b.c", true},
		{"multi username", IdentityMulti, Normalized{Username: "u", PhoneNumber: "1"}, "username:u", true},
		{"multi full name", IdentityMulti, Normalized{FirstName: "Jo", LastName: "Doe"}, "name:Jo Doe", true},
		{"multi first name only", IdentityMulti, Normalized{FirstName: "Jo", PhoneNumber: "555"}, "phone:555", true},
		{"multi nothing", IdentityMulti, Normalized{City: "Paris"}, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.policy.Key(&tc.rec)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalized_GetSetRoundTrip(t *testing.T) {
	t.Parallel()

	var n Normalized
	for i, a := range Canonical {
		n.Set(a, string(rune('a'+i)))
	}
	for i, a := range Canonical {
		assert.Equal(t, string(rune('a'+i)), n.Get(a), "attribute %s", a)
	}
	assert.True(t, IsCanonical("dob"))
	assert.False(t, IsCanonical("source"))
	assert.Contains(t, Reserved(), "record_key")
}

func TestNormalized_Size(t *testing.T) {
	t.Parallel()

	n := Normalized{
		Email:     "a@x.com",
		FirstName: "Ann",
		Source:    "t.csv",
		Data:      `{"e":"a@x.com"}`,
		Dynamic:   []Field{{Name: "tier", Value: "gold"}},
	}
	assert.Equal(t, 7+3+5+15+4+4, n.Size())
}
