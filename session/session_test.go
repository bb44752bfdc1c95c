package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-whiteboard/config"
	"github.com/tcriess/lightspeed-whiteboard/persistence"
	"github.com/tcriess/lightspeed-whiteboard/room"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

var (
	alice = &types.User{Id: "alice@example.com", Nick: "alice"}
	bob   = &types.User{Id: "bob@example.com", Nick: "bob"}
	carol = &types.User{Id: "carol@example.com", Nick: "carol"}
)

func newTestManager(t *testing.T, mirror PresenceMirror, rooms ...types.Room) (*Manager, persistence.Persister) {
	t.Helper()
	p, err := persistence.NewPersister(&config.Config{PersistenceConfig: config.PersistenceConfig{Type: "sqlite", DSN: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	for _, r := range rooms {
		require.NoError(t, p.StoreRoom(r))
	}
	registry, err := room.NewRegistry(p, 8, time.Minute, 50)
	require.NoError(t, err)
	return NewManager(p, registry, mirror), p
}

func TestJoinIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t, nil, types.Room{Id: "x", OwnerId: alice.Id})
	ctx := context.Background()

	first, err := m.Join(ctx, "x", alice)
	require.NoError(t, err)
	assert.True(t, first.IsActive)
	_, err = m.Join(ctx, "x", alice)
	require.NoError(t, err)

	participants, err := m.ActiveParticipants("x")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, alice.Id, participants[0].UserId)
}

func TestJoinErrors(t *testing.T) {
	m, _ := newTestManager(t, nil, types.Room{Id: "x"})
	ctx := context.Background()

	_, err := m.Join(ctx, "missing", alice)
	assert.True(t, errors.Is(err, types.ErrRoomNotFound))
	_, err = m.Join(ctx, "x", nil)
	assert.True(t, errors.Is(err, types.ErrUnauthenticated))
	_, err = m.Join(ctx, "x", &types.User{})
	assert.True(t, errors.Is(err, types.ErrUnauthenticated))
}

func TestLeaveAndRejoin(t *testing.T) {
	m, _ := newTestManager(t, nil, types.Room{Id: "x"})
	ctx := context.Background()

	require.NoError(t, m.Leave(ctx, "x", bob.Id))

	_, err := m.Join(ctx, "x", alice)
	require.NoError(t, err)
	require.NoError(t, m.Leave(ctx, "x", alice.Id))
	count, err := m.ActiveCount("x")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	p, err := m.Join(ctx, "x", alice)
	require.NoError(t, err)
	assert.True(t, p.IsActive)
	count, err = m.ActiveCount("x")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpdateCursor(t *testing.T) {
	m, _ := newTestManager(t, nil, types.Room{Id: "x"})
	ctx := context.Background()

	p, err := m.UpdateCursor(ctx, "x", alice.Id, 1, 2)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = m.Join(ctx, "x", alice)
	require.NoError(t, err)
	p, err = m.UpdateCursor(ctx, "x", alice.Id, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 1.0, p.CursorX)
	assert.Equal(t, 2.0, p.CursorY)

	require.NoError(t, m.Leave(ctx, "x", alice.Id))
	p, err = m.UpdateCursor(ctx, "x", alice.Id, 3, 4)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCheckAccess(t *testing.T) {
	locked := types.Room{Id: "locked", OwnerId: alice.Id, Password: "pw", MaxUsers: 2}
	m, _ := newTestManager(t, nil, locked)
	ctx := context.Background()
	r := &locked

	assert.NoError(t, m.CheckAccess(r, alice, ""))
	assert.True(t, errors.Is(m.CheckAccess(r, bob, ""), types.ErrAccessDenied))
	assert.True(t, errors.Is(m.CheckAccess(r, bob, "wrong"), types.ErrAccessDenied))
	assert.NoError(t, m.CheckAccess(r, bob, "pw"))

	_, err := m.Join(ctx, "locked", alice)
	require.NoError(t, err)
	_, err = m.Join(ctx, "locked", bob)
	require.NoError(t, err)

	// bob joined before, so no secret is needed any more
	assert.NoError(t, m.CheckAccess(r, bob, ""))
	assert.True(t, errors.Is(m.CheckAccess(r, carol, "pw"), types.ErrRoomFull))

	require.NoError(t, m.Leave(ctx, "locked", bob.Id))
	assert.NoError(t, m.CheckAccess(r, carol, "pw"))
}

func TestCheckSecret(t *testing.T) {
	locked := types.Room{Id: "locked", OwnerId: alice.Id, Password: "pw", MaxUsers: 1}
	m, _ := newTestManager(t, nil, locked, types.Room{Id: "open"})
	r := &locked

	assert.NoError(t, m.CheckSecret(r, alice, ""))
	assert.True(t, errors.Is(m.CheckSecret(r, bob, ""), types.ErrAccessDenied))
	assert.NoError(t, m.CheckSecret(r, bob, "pw"))

	// reading does not care about the capacity
	_, err := m.Join(context.Background(), "locked", alice)
	require.NoError(t, err)
	assert.NoError(t, m.CheckSecret(r, bob, "pw"))
	assert.NoError(t, m.CheckSecret(&types.Room{Id: "open"}, bob, ""))
}

func TestRedisMirror(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mirror := NewRedisMirrorFromClient(client, time.Minute)
	defer mirror.Close()

	m, _ := newTestManager(t, mirror, types.Room{Id: "x"})
	ctx := context.Background()

	_, err := m.Join(ctx, "x", alice)
	require.NoError(t, err)
	_, err = m.UpdateCursor(ctx, "x", alice.Id, 7, 8)
	require.NoError(t, err)

	mirrored, err := mirror.Participant(ctx, "x", alice.Id)
	require.NoError(t, err)
	require.NotNil(t, mirrored)
	assert.Equal(t, 7.0, mirrored.CursorX)

	users, err := mirror.OnlineUsers(ctx, "x", time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{alice.Id}, users)
	assert.True(t, mr.Exists("presence:x:"+alice.Id))

	online, err := mirror.OnlineParticipants(ctx, "x", time.Now())
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, alice.Id, online[0].UserId)
	assert.Equal(t, 8.0, online[0].CursorY)

	require.NoError(t, m.Leave(ctx, "x", alice.Id))
	mirrored, err = mirror.Participant(ctx, "x", alice.Id)
	require.NoError(t, err)
	assert.Nil(t, mirrored)
	online, err = mirror.OnlineParticipants(ctx, "x", time.Now())
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestRedisMirrorExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	mirror := NewRedisMirror(mr.Addr(), "", 0, time.Minute)
	defer mirror.Close()
	ctx := context.Background()

	require.NoError(t, mirror.Online(ctx, &types.Participant{RoomId: "x", UserId: bob.Id, LastActivity: time.Now()}))
	mr.FastForward(2 * time.Minute)
	p, err := mirror.Participant(ctx, "x", bob.Id)
	require.NoError(t, err)
	assert.Nil(t, p)
}
