package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny(t *testing.T) {
	tests := []struct {
		name string
		arg  any
		want Value
	}{
		{"nil", nil, Null()},
		{"string", "hello", String("hello")},
		{"int", 7, Int(7)},
		{"int64", int64(42), Int(42)},
		{"float64", 3.5, Double(3.5)},
		{"bool", true, Bool(true)},
		{"json int", json.Number("12"), Int(12)},
		{"json float", json.Number("1.25"), Double(1.25)},
		{"list", []any{"a", 1}, List(String("a"), Int(1))},
		{"map", map[string]any{"k": false}, Map(map[string]Value{"k": Bool(false)})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromAny(tt.arg)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "FromAny(%v) = %v, want %v", tt.arg, got, tt.want)
		})
	}
}

func TestFromAnyUnsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)

	_, err = FromAny(map[string]any{"bad": make(chan int)})
	assert.ErrorContains(t, err, "bad")
}

func TestValueAccessors(t *testing.T) {
	i, ok := Double(4).AsInt()
	assert.True(t, ok, "integral double should read as int")
	assert.Equal(t, int64(4), i)

	_, ok = Double(4.5).AsInt()
	assert.False(t, ok)

	f, ok := Int(3).AsDouble()
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	_, ok = String("3").AsInt()
	assert.False(t, ok)

	_, ok = Int(1).AsBool()
	assert.False(t, ok)

	assert.Equal(t, 2, List(Null(), Null()).Len())
	assert.True(t, Value{}.IsNull())
}

func TestValueJSONRoundTrip(t *testing.T) {
	in := `{"count":3,"name":"x","nested":{"list":[1,2.5,true,null]},"ratio":0.5}`

	var v Value
	require.NoError(t, json.Unmarshal([]byte(in), &v))
	assert.Equal(t, KindMap, v.Kind())

	m, _ := v.AsMap()
	assert.Equal(t, KindInt, m["count"].Kind(), "integers must not decay to doubles")
	assert.Equal(t, KindDouble, m["ratio"].Kind())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.Equal(t, in, string(out), "map keys are emitted in sorted order")
}

func TestValueEqual(t *testing.T) {
	assert.False(t, Int(1).Equal(Double(1)))
	assert.True(t, Map(nil).Equal(Map(map[string]Value{})))
	assert.False(t, List(String("a")).Equal(List(String("b"))))
	assert.True(t, List().Equal(List()))
}

func TestParseArgs(t *testing.T) {
	args, err := ParseArgs([]byte(`{"path":"/tmp","depth":2}`))
	require.NoError(t, err)

	p, ok := args.String("path")
	assert.True(t, ok)
	assert.Equal(t, "/tmp", p)

	d, ok := args.Int("depth")
	assert.True(t, ok)
	assert.Equal(t, int64(2), d)

	empty, err := ParseArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseArgs([]byte(`[1,2]`))
	assert.ErrorContains(t, err, "JSON object")
}

func TestArgsSummary(t *testing.T) {
	args := Args{"b": Int(2), "a": String("x")}
	assert.Equal(t, "a=x, b=2", args.Summary())
	assert.Equal(t, []string{"a", "b"}, args.Keys())
	assert.Equal(t, map[string]any{"a": "x", "b": int64(2)}, args.ToMap())
}
