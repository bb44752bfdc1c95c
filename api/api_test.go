package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-whiteboard/auth"
	"github.com/tcriess/lightspeed-whiteboard/board"
	"github.com/tcriess/lightspeed-whiteboard/config"
	"github.com/tcriess/lightspeed-whiteboard/persistence"
	"github.com/tcriess/lightspeed-whiteboard/room"
	"github.com/tcriess/lightspeed-whiteboard/session"
	"github.com/tcriess/lightspeed-whiteboard/types"
	"github.com/tcriess/lightspeed-whiteboard/ws"
)

// queryAuthenticator trusts the "user" query parameter.
type queryAuthenticator struct{}

func (queryAuthenticator) Authenticate(r *http.Request) (*types.User, error) {
	userId := r.URL.Query().Get("user")
	if userId == "" {
		return nil, types.ErrUnauthenticated
	}
	return &types.User{Id: userId, Nick: userId}, nil
}

type testEnv struct {
	server   *httptest.Server
	elements *board.ElementStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	p, err := persistence.NewPersister(&config.Config{PersistenceConfig: config.PersistenceConfig{Type: "sqlite", DSN: ":memory:"}})
	require.NoError(t, err)
	require.NoError(t, p.StoreRoom(types.Room{Id: "x", OwnerId: "alice"}))
	require.NoError(t, p.StoreRoom(types.Room{Id: "locked", OwnerId: "alice", Password: "s3cret"}))
	registry, err := room.NewRegistry(p, 8, time.Minute, 50)
	require.NoError(t, err)
	policy, err := auth.NewPolicy(config.PolicyConfig{Clear: "User.Id == Room.OwnerId", Restore: "User.Id == Room.OwnerId"})
	require.NoError(t, err)
	elements := board.NewElementStore(p, registry)
	s := &Server{
		Rooms:         registry,
		Sessions:      session.NewManager(p, registry, nil),
		Elements:      elements,
		Snapshots:     board.NewSnapshotManager(elements, policy),
		Policy:        policy,
		Hubs:          ws.NewHubs(),
		Authenticator: queryAuthenticator{},
	}
	env := &testEnv{server: httptest.NewServer(s.Router()), elements: elements}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Hubs.Shutdown(ctx)
		env.server.Close()
		_ = p.Close()
	})
	return env
}

func (env *testEnv) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, env.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (env *testEnv) dial(t *testing.T, roomId, userId string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/whiteboard/" + roomId + "?user=" + userId
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Equal(t, types.EventTypeInitialState, readEvent(t, conn)["type"])
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	event := make(map[string]interface{})
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func rect(x float64, z int) *types.Element {
	return &types.Element{Type: types.ElementTypeRectangle, X: x, Y: x, Width: 10, Height: 10, ZIndex: z}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	status, body = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "lightspeed_whiteboard_connections")
}

func TestGetElements(t *testing.T) {
	env := newTestEnv(t)
	alice := &types.User{Id: "alice"}
	top, err := env.elements.CreateElement("x", alice, rect(1, 2))
	require.NoError(t, err)
	bottom, err := env.elements.CreateElement("x", alice, rect(2, 0))
	require.NoError(t, err)

	status, _ := env.do(t, http.MethodGet, "/api/rooms/x/elements", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = env.do(t, http.MethodGet, "/api/rooms/nope/elements?user=bob", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body := env.do(t, http.MethodGet, "/api/rooms/x/elements?user=bob", "")
	require.Equal(t, http.StatusOK, status)
	elements := make([]*types.Element, 0)
	require.NoError(t, json.Unmarshal(body, &elements))
	require.Len(t, elements, 2)
	assert.Equal(t, bottom.Id, elements[0].Id)
	assert.Equal(t, top.Id, elements[1].Id)
}

func TestGetElement(t *testing.T) {
	env := newTestEnv(t)
	el, err := env.elements.CreateElement("x", &types.User{Id: "alice"}, rect(3, 0))
	require.NoError(t, err)

	status, body := env.do(t, http.MethodGet, "/api/rooms/x/elements/"+el.Id+"?user=bob", "")
	require.Equal(t, http.StatusOK, status)
	got := types.Element{}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, el.Id, got.Id)
	assert.Equal(t, 3.0, got.X)

	status, _ = env.do(t, http.MethodGet, "/api/rooms/x/elements/missing?user=bob", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestLockedRoomNeedsSecret(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, http.MethodGet, "/api/rooms/locked/elements?user=bob", "")
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = env.do(t, http.MethodGet, "/api/rooms/locked/elements?user=bob&secret=s3cret", "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = env.do(t, http.MethodGet, "/api/rooms/locked/participants?user=alice", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestGetParticipants(t *testing.T) {
	env := newTestEnv(t)
	env.dial(t, "x", "alice")

	status, body := env.do(t, http.MethodGet, "/api/rooms/x/participants?user=bob", "")
	require.Equal(t, http.StatusOK, status)
	participants := make([]*types.Participant, 0)
	require.NoError(t, json.Unmarshal(body, &participants))
	require.Len(t, participants, 1)
	assert.Equal(t, "alice", participants[0].UserId)
	assert.True(t, participants[0].IsActive)
}

func TestClearIsOwnerOnlyAndBroadcast(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.elements.CreateElement("x", &types.User{Id: "bob"}, rect(1, 0))
	require.NoError(t, err)
	conn := env.dial(t, "x", "bob")

	status, _ := env.do(t, http.MethodPost, "/api/rooms/x/clear?user=bob", "")
	assert.Equal(t, http.StatusForbidden, status)

	status, body := env.do(t, http.MethodPost, "/api/rooms/x/clear?user=alice", "")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"count":1}`, string(body))

	cleared := readEvent(t, conn)
	assert.Equal(t, types.EventTypeWhiteboardCleared, cleared["type"])
	assert.Equal(t, "alice", cleared["user_id"])
	assert.Equal(t, 1.0, cleared["count"])

	status, _ = env.do(t, http.MethodPost, "/api/rooms/nope/clear?user=alice", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSnapshotCaptureAndRestore(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.elements.CreateElement("x", &types.User{Id: "bob"}, rect(1, 0))
	require.NoError(t, err)

	status, body := env.do(t, http.MethodPost, "/api/rooms/x/snapshots?user=bob", "")
	require.Equal(t, http.StatusCreated, status)
	snapshot := types.Snapshot{}
	require.NoError(t, json.Unmarshal(body, &snapshot))
	assert.Equal(t, "Snapshot 1", snapshot.Name)
	assert.Equal(t, 1, snapshot.ElementCount)
	assert.Equal(t, "bob", snapshot.CreatedBy)

	status, _ = env.do(t, http.MethodPost, "/api/rooms/x/snapshots?user=bob", `{"name":"before lunch","description":"two rects"}`)
	require.Equal(t, http.StatusCreated, status)
	status, _ = env.do(t, http.MethodPost, "/api/rooms/x/snapshots?user=bob", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = env.do(t, http.MethodGet, "/api/rooms/x/snapshots?user=bob", "")
	require.Equal(t, http.StatusOK, status)
	snapshots := make([]*types.Snapshot, 0)
	require.NoError(t, json.Unmarshal(body, &snapshots))
	require.Len(t, snapshots, 2)
	assert.Equal(t, "before lunch", snapshots[0].Name)

	_, err = env.elements.ClearRoom("x")
	require.NoError(t, err)
	conn := env.dial(t, "x", "bob")

	status, _ = env.do(t, http.MethodPost, "/api/rooms/x/snapshots/"+snapshot.Id+"/restore?user=bob", "")
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = env.do(t, http.MethodPost, "/api/rooms/x/snapshots/missing/restore?user=alice", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = env.do(t, http.MethodPost, "/api/rooms/x/snapshots/"+snapshot.Id+"/restore?user=alice", "")
	require.Equal(t, http.StatusOK, status)
	restored := struct {
		SnapshotId string           `json:"snapshot_id"`
		Elements   []*types.Element `json:"elements"`
	}{}
	require.NoError(t, json.Unmarshal(body, &restored))
	require.Len(t, restored.Elements, 1)
	assert.Equal(t, "alice", restored.Elements[0].CreatedBy)

	event := readEvent(t, conn)
	assert.Equal(t, types.EventTypeSnapshotRestored, event["type"])
	assert.Equal(t, snapshot.Id, event["snapshot_id"])
	assert.Len(t, event["elements"], 1)

	current, err := env.elements.QueryCurrent("x")
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, restored.Elements[0].Id, current[0].Id)
}
