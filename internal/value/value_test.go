package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	v, err := Decode([]byte(`{"n":9007199254740993,"s":"x","b":true,"l":[1,null],"m":{"k":"v"}}`))
	require.NoError(t, err)

	m, ok := v.(Map)
	require.True(t, ok)
	assert.Equal(t, Int(9007199254740993), m["n"], "large ints keep precision")
	assert.Equal(t, String("x"), m["s"])
	assert.Equal(t, Bool(true), m["b"])
	assert.Equal(t, List{Int(1), Null{}}, m["l"])
	assert.Equal(t, Map{"k": String("v")}, m["m"])
}

func TestDecode_RejectsFloats(t *testing.T) {
	for _, in := range []string{`1.5`, `{"a":1e3}`, `[2E1]`} {
		_, err := Decode([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestDecode_RejectsTrailingData(t *testing.T) {
	_, err := Decode([]byte(`{} {}`))
	assert.Error(t, err)
}

func TestDecodeMap(t *testing.T) {
	m, err := DecodeMap(nil)
	require.NoError(t, err)
	assert.Empty(t, m)

	_, err = DecodeMap([]byte(`[1]`))
	assert.Error(t, err)
}

func TestMap_JSONRoundTripThroughEncodingJSON(t *testing.T) {
	type wrapper struct {
		Props Map `json:"props"`
	}
	in := wrapper{Props: Map{"b": Int(2), "a": List{String("x")}}}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"props":{"a":["x"],"b":2}}`, string(data))

	var out wrapper
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, Equal(in.Props, out.Props))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(nil, Null{}))
	assert.True(t, Equal(Map{"a": List{Int(1)}}, Map{"a": List{Int(1)}}))
	assert.False(t, Equal(Map{"a": Int(1)}, Map{"a": String("1")}))
	assert.False(t, Equal(List{Int(1)}, List{Int(1), Int(2)}))
	assert.False(t, Equal(Map{"a": Int(1)}, Map{"b": Int(1)}))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(Null{}, Bool(false)))
	assert.Equal(t, -1, Compare(Bool(true), Int(0)))
	assert.Equal(t, -1, Compare(Int(5), String("")))
	assert.Equal(t, 1, Compare(Int(5), Int(3)))
	assert.Equal(t, 0, Compare(String("a"), String("a")))
	assert.Equal(t, -1, Compare(List{Int(1)}, List{Int(1), Int(0)}))
	assert.Equal(t, 1, Compare(List{Int(2)}, List{Int(1), Int(9)}))
}

func TestClone_IsDeep(t *testing.T) {
	orig := Map{"tags": List{String("a")}, "meta": Map{"k": Int(1)}}
	cp := orig.Clone()

	cp["tags"].(List)[0] = String("changed")
	cp["meta"].(Map)["k"] = Int(2)

	assert.Equal(t, String("a"), orig["tags"].(List)[0])
	assert.Equal(t, Int(1), orig["meta"].(Map)["k"])
	assert.Nil(t, Map(nil).Clone())
}

func TestNativeConversions(t *testing.T) {
	v, err := FromNative(map[string]any{"n": uint32(7), "tags": []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, Map{"n": Int(7), "tags": List{String("a")}}, v)

	_, err = FromNative(uint64(1 << 63))
	assert.Error(t, err)

	_, err = FromNative(struct{}{})
	assert.Error(t, err)

	native := ToNative(Map{"n": Int(1), "l": List{Null{}, Bool(true)}})
	assert.Equal(t, map[string]any{"n": int64(1), "l": []any{nil, true}}, native)
}
