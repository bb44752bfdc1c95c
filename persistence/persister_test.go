package persistence

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-whiteboard/config"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

func newTestPersisters(t *testing.T) map[string]Persister {
	t.Helper()
	res := make(map[string]Persister)
	for _, typ := range []string{"sqlite", "buntdb"} {
		cfg := &config.Config{PersistenceConfig: config.PersistenceConfig{Type: typ, DSN: ":memory:"}}
		p, err := NewPersister(cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = p.Close() })
		res[typ] = p
	}
	return res
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testElement(roomId, id string, z int, offset time.Duration) *types.Element {
	el := &types.Element{
		Id:        id,
		RoomId:    roomId,
		CreatedBy: "alice",
		Type:      types.ElementTypeRectangle,
		X:         10,
		Y:         20,
		Width:     30,
		Height:    40,
		ZIndex:    z,
		PathData:  []byte(`[{"x":1,"y":2}]`),
		CreatedAt: base.Add(offset),
		UpdatedAt: base.Add(offset),
		Version:   1,
	}
	el.ApplyDefaults()
	return el
}

func TestPersistRooms(t *testing.T) {
	for name, p := range newTestPersisters(t) {
		t.Run(name, func(t *testing.T) {
			room := types.Room{Id: "board", Name: "Board", OwnerId: "alice", Password: "pw", MaxUsers: 5, Tags: types.JSONStringMap{"team": "blue"}}
			require.NoError(t, p.StoreRoom(room))

			got := types.Room{Id: "board"}
			require.NoError(t, p.GetRoom(&got))
			assert.Equal(t, "alice", got.OwnerId)
			assert.Equal(t, "pw", got.Password)
			assert.Equal(t, 5, got.MaxUsers)
			assert.Equal(t, "blue", got.Tags["team"])

			room.Name = "Renamed"
			require.NoError(t, p.StoreRoom(room))
			rooms, err := p.GetRooms()
			require.NoError(t, err)
			require.Len(t, rooms, 1)
			assert.Equal(t, "Renamed", rooms[0].Name)

			missing := types.Room{Id: "nope"}
			assert.True(t, errors.Is(p.GetRoom(&missing), ErrNotFound))

			require.NoError(t, p.CreateElement(testElement("board", "e1", 0, 0)))
			require.NoError(t, p.DeleteRoom(&room))
			assert.True(t, errors.Is(p.GetRoom(&types.Room{Id: "board"}), ErrNotFound))
			elements, err := p.GetCurrentElements("board")
			require.NoError(t, err)
			assert.Empty(t, elements)
		})
	}
}

func TestPersistParticipants(t *testing.T) {
	for name, p := range newTestPersisters(t) {
		t.Run(name, func(t *testing.T) {
			participant := &types.Participant{RoomId: "r", UserId: "alice", Nick: "Alice", CursorColor: types.DefaultCursorColor, JoinedAt: base, LastActivity: base}
			require.NoError(t, p.JoinParticipant(participant))
			assert.True(t, participant.IsActive)

			again := &types.Participant{RoomId: "r", UserId: "alice", Nick: "Alice", JoinedAt: base.Add(time.Minute), LastActivity: base.Add(time.Minute)}
			require.NoError(t, p.JoinParticipant(again))
			assert.Equal(t, base, again.JoinedAt.UTC())
			assert.Equal(t, int64(2), again.Version)

			all, err := p.GetParticipants("r", false)
			require.NoError(t, err)
			assert.Len(t, all, 1)
			count, err := p.CountActiveParticipants("r")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			updated, err := p.UpdateCursor("r", "alice", 3, 4, base.Add(2*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, 3.0, updated.CursorX)
			assert.Equal(t, 4.0, updated.CursorY)

			found, err := p.LeaveParticipant("r", "alice", base.Add(3*time.Minute))
			require.NoError(t, err)
			assert.True(t, found)
			count, err = p.CountActiveParticipants("r")
			require.NoError(t, err)
			assert.Equal(t, 0, count)

			_, err = p.UpdateCursor("r", "alice", 5, 5, base.Add(4*time.Minute))
			assert.True(t, errors.Is(err, ErrNotFound))

			found, err = p.LeaveParticipant("r", "bob", base)
			require.NoError(t, err)
			assert.False(t, found)

			all, err = p.GetParticipants("r", false)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.False(t, all[0].IsActive)
		})
	}
}

func TestPersistElementOrdering(t *testing.T) {
	for name, p := range newTestPersisters(t) {
		t.Run(name, func(t *testing.T) {
			// inserted out of painter's order on purpose
			require.NoError(t, p.CreateElement(testElement("r", "c", 1, 0)))
			require.NoError(t, p.CreateElement(testElement("r", "b", 0, 2*time.Second)))
			require.NoError(t, p.CreateElement(testElement("r", "a", 0, time.Second)))
			require.NoError(t, p.CreateElement(testElement("other", "x", 0, 0)))

			elements, err := p.GetCurrentElements("r")
			require.NoError(t, err)
			ids := make([]string, 0)
			for _, el := range elements {
				ids = append(ids, el.Id)
			}
			assert.Equal(t, []string{"a", "b", "c"}, ids)
			assert.JSONEq(t, `[{"x":1,"y":2}]`, string(elements[0].PathData))
		})
	}
}

func TestPersistElementLifecycle(t *testing.T) {
	for name, p := range newTestPersisters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.CreateElement(testElement("r", "e1", 0, 0)))

			updated, err := p.UpdateElement("r", "e1", func(el *types.Element) error {
				el.Color = "#ff0000"
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, "#ff0000", updated.Color)
			assert.Equal(t, int64(2), updated.Version)

			_, err = p.UpdateElement("other-room", "e1", func(el *types.Element) error { return nil })
			assert.True(t, errors.Is(err, ErrNotFound))

			deleted, err := p.SoftDeleteElement("r", "e1", base.Add(time.Minute))
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = p.SoftDeleteElement("r", "e1", base.Add(time.Minute))
			require.NoError(t, err)
			assert.False(t, deleted)

			_, err = p.GetElement("r", "e1")
			assert.True(t, errors.Is(err, ErrNotFound))
			_, err = p.UpdateElement("r", "e1", func(el *types.Element) error { return nil })
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestPersistClearAndReplace(t *testing.T) {
	for name, p := range newTestPersisters(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				require.NoError(t, p.CreateElement(testElement("r", fmt.Sprintf("e%d", i), 0, time.Duration(i)*time.Second)))
			}
			require.NoError(t, p.CreateElement(testElement("keep", "k", 0, 0)))

			count, err := p.ClearElements("r", base.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 3, count)
			elements, err := p.GetCurrentElements("r")
			require.NoError(t, err)
			assert.Empty(t, elements)
			elements, err = p.GetCurrentElements("keep")
			require.NoError(t, err)
			assert.Len(t, elements, 1)

			require.NoError(t, p.CreateElement(testElement("r", "fresh", 0, 2*time.Hour)))
			require.NoError(t, p.ReplaceElements("r", base.Add(3*time.Hour), []*types.Element{
				testElement("r", "n1", 0, 4*time.Hour),
				testElement("r", "n2", 0, 5*time.Hour),
			}))
			elements, err = p.GetCurrentElements("r")
			require.NoError(t, err)
			require.Len(t, elements, 2)
			assert.Equal(t, "n1", elements[0].Id)
			assert.Equal(t, "n2", elements[1].Id)
		})
	}
}

func TestPersistConcurrentUpdates(t *testing.T) {
	for name, p := range newTestPersisters(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.CreateElement(testElement("r", "e1", 0, 0)))
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := p.UpdateElement("r", "e1", func(el *types.Element) error {
						el.X = float64(i)
						el.Y = float64(i)
						return nil
					})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()
			el, err := p.GetElement("r", "e1")
			require.NoError(t, err)
			assert.Equal(t, el.X, el.Y)
			assert.Equal(t, int64(11), el.Version)
		})
	}
}

func TestPersistSnapshots(t *testing.T) {
	for name, p := range newTestPersisters(t) {
		t.Run(name, func(t *testing.T) {
			first := &types.Snapshot{Id: "s1", RoomId: "r", Name: "Snapshot 1", CreatedAt: base, ElementCount: 1, Data: []byte(`[{"id":"e1"}]`)}
			second := &types.Snapshot{Id: "s2", RoomId: "r", Name: "Snapshot 2", CreatedAt: base.Add(time.Minute), Data: []byte(`[]`)}
			require.NoError(t, p.CreateSnapshot(first))
			require.NoError(t, p.CreateSnapshot(second))

			count, err := p.CountSnapshots("r")
			require.NoError(t, err)
			assert.Equal(t, 2, count)

			snapshots, err := p.GetSnapshots("r")
			require.NoError(t, err)
			require.Len(t, snapshots, 2)
			assert.Equal(t, "s2", snapshots[0].Id)

			got, err := p.GetSnapshot("r", "s1")
			require.NoError(t, err)
			assert.JSONEq(t, `[{"id":"e1"}]`, string(got.Data))

			_, err = p.GetSnapshot("other", "s1")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}
