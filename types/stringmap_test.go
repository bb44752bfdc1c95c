package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONStringMapColumn(t *testing.T) {
	v, err := JSONStringMap{"theme": "dark"}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"theme":"dark"}`, v.(string))

	v, err = JSONStringMap(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var m JSONStringMap
	require.NoError(t, m.Scan([]byte(`{"a":"1"}`)))
	assert.Equal(t, JSONStringMap{"a": "1"}, m)
	require.NoError(t, m.Scan(`{"b":"2"}`))
	assert.Equal(t, JSONStringMap{"b": "2"}, m)
	require.NoError(t, m.Scan(nil))
	assert.NotNil(t, m)
	assert.Empty(t, m)
	assert.Error(t, m.Scan(42))
	assert.Error(t, m.Scan(`not json`))
}

func TestJSONStringMapJSON(t *testing.T) {
	data, err := json.Marshal(JSONStringMap(nil))
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	var m JSONStringMap
	require.NoError(t, m.UnmarshalJSON([]byte("null")))
	assert.NotNil(t, m)
	assert.Empty(t, m)

	room := Room{}
	require.NoError(t, json.Unmarshal([]byte(`{"id":"x","tags":{"k":"v"}}`), &room))
	assert.Equal(t, "v", room.Tags["k"])
}
