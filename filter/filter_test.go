package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

func TestHelpers(t *testing.T) {
	assert.Equal(t, int64(42), AsInt("42"))
	assert.Equal(t, int64(0), AsInt("nope"))
	assert.Equal(t, 0.5, AsFloat("0.5"))
	assert.Equal(t, []int64{1, 0, 3}, AsIntSlice("1, x,3"))
	assert.Equal(t, []float64{1.5, 2}, AsFloatSlice("1.5,2"))
	assert.Equal(t, []string{"alice", "bob"}, AsStringSlice("alice, bob"))
	assert.Empty(t, AsStringSlice(""))
}

func TestPolicyExpressions(t *testing.T) {
	room := &types.Room{
		Id:      "x",
		OwnerId: "alice",
		Tags:    types.JSONStringMap{"moderators": "bob,carol", "level": "3"},
	}
	alice := &types.User{Id: "alice", Nick: "Alice"}
	bob := &types.User{Id: "bob", Nick: "Bob"}
	dave := &types.User{Id: "dave", Nick: "Dave"}

	tests := []struct {
		expression string
		action     string
		user       *types.User
		want       bool
	}{
		{`User.Id == Room.OwnerId`, types.ActionClear, alice, true},
		{`User.Id == Room.OwnerId`, types.ActionClear, bob, false},
		{`User.Id == Room.OwnerId || User.Id in AsStringSlice(Room.Tags["moderators"])`, types.ActionRestore, bob, true},
		{`User.Id == Room.OwnerId || User.Id in AsStringSlice(Room.Tags["moderators"])`, types.ActionRestore, dave, false},
		{`Action == "clear" && AsInt(Room.Tags["level"]) >= 3`, types.ActionClear, dave, true},
		{`Action == "clear" && AsInt(Room.Tags["level"]) >= 3`, types.ActionRestore, dave, false},
		{`AsInt(Room.Tags["missing"]) == 0`, types.ActionClear, dave, true},
	}
	for _, tt := range tests {
		prog, err := Compile(tt.expression)
		require.NoError(t, err, tt.expression)
		res, err := Run(prog, NewEnv(tt.action, room, tt.user))
		require.NoError(t, err, tt.expression)
		assert.Equal(t, tt.want, res, "%s for %s", tt.expression, tt.user.Id)
	}
}

func TestCompileRejectsNonBool(t *testing.T) {
	_, err := Compile(`Room.Id`)
	assert.Error(t, err)
	_, err = Compile(`Nope.Id == "x"`)
	assert.Error(t, err)
}

func TestNilRoomTags(t *testing.T) {
	prog, err := Compile(`Room.Tags["moderators"] == ""`)
	require.NoError(t, err)
	res, err := Run(prog, NewEnv(types.ActionClear, &types.Room{Id: "x"}, nil))
	require.NoError(t, err)
	assert.True(t, res)
}
