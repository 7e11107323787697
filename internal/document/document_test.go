package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode_BuildsTaggedVariants(t *testing.T) {
	t.Parallel()

	m, err := Decode([]byte(`{"s":"x","i":3,"f":1.5,"b":true,"n":null,"seq":[1,"two"],"m":{"k":"v"}}`))
	require.NoError(t, err)

	require.Equal(t, String("x"), m["s"])
	require.Equal(t, Int(3), m["i"])
	require.Equal(t, Float(1.5), m["f"])
	require.Equal(t, Bool(true), m["b"])
	require.Equal(t, Null{}, m["n"])
	require.Equal(t, Sequence{Int(1), String("two")}, m["seq"])
	require.Equal(t, Mapping{"k": String("v")}, m["m"])
}

func TestDecode_RejectsNonObjectRoot(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte(`[1,2]`))
	require.Error(t, err)
}

func TestDecode_PreservesLargeIntegers(t *testing.T) {
	t.Parallel()

	m, err := Decode([]byte(`{"big":9007199254740993}`))
	require.NoError(t, err)
	require.Equal(t, Int(9007199254740993), m["big"])
}

func TestMarshal_RoundTrip(t *testing.T) {
	t.Parallel()

	in := []byte(`{"b":true,"i":3,"n":null,"nested":{"seq":["a",2]},"s":"x"}`)
	m, err := Decode(in)
	require.NoError(t, err)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	require.JSONEq(t, string(in), string(out))
}

func TestCopy_IsDeep(t *testing.T) {
	t.Parallel()

	orig := Mapping{
		"nested": Mapping{"k": String("v")},
		"seq":    Sequence{String("a")},
	}
	cp := orig.Copy()

	cp["nested"].(Mapping)["k"] = String("changed")
	cp["seq"].(Sequence)[0] = String("changed")

	require.Equal(t, String("v"), orig["nested"].(Mapping)["k"])
	require.Equal(t, String("a"), orig["seq"].(Sequence)[0])
}

func TestMapStrings_RewritesOnlyStringLeaves(t *testing.T) {
	t.Parallel()

	m := Mapping{
		"s":   String("a"),
		"i":   Int(1),
		"seq": Sequence{String("b"), Bool(false)},
		"m":   Mapping{"k": String("c")},
	}

	MapStrings(m, func(s string) string { return s + "!" })

	require.Equal(t, String("a!"), m["s"])
	require.Equal(t, Int(1), m["i"])
	require.Equal(t, Sequence{String("b!"), Bool(false)}, m["seq"])
	require.Equal(t, Mapping{"k": String("c!")}, m["m"])
}

func TestScalarString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   Value
		want string
		ok   bool
	}{
		{String("x"), "x", true},
		{Int(42), "42", true},
		{Float(1.5), "1.5", true},
		{Bool(true), "true", true},
		{Null{}, "", false},
		{Mapping{}, "", false},
		{Sequence{}, "", false},
	}
	for _, c := range cases {
		got, ok := ScalarString(c.in)
		require.Equal(t, c.ok, ok)
		require.Equal(t, c.want, got)
	}
}
