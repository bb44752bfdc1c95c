package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/tcriess/lightspeed-whiteboard/board"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/metrics"
	"github.com/tcriess/lightspeed-whiteboard/room"
	"github.com/tcriess/lightspeed-whiteboard/session"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

// Authenticator extracts the identity of a request. A request without any credentials yields
// types.ErrUnauthenticated.
type Authenticator interface {
	Authenticate(r *http.Request) (*types.User, error)
}

// ProtocolHandler serves the whiteboard websocket of a room. The room id is taken from the "room" route variable,
// the optional access secret from the "secret" query parameter.
type ProtocolHandler struct {
	hubs          *Hubs
	rooms         *room.Registry
	sessions      *session.Manager
	elements      *board.ElementStore
	authenticator Authenticator
	upgrader      websocket.Upgrader
}

func NewProtocolHandler(hubs *Hubs, rooms *room.Registry, sessions *session.Manager, elements *board.ElementStore, authenticator Authenticator, allowedOrigins []string) *ProtocolHandler {
	return &ProtocolHandler{
		hubs:          hubs,
		rooms:         rooms,
		sessions:      sessions,
		elements:      elements,
		authenticator: authenticator,
		upgrader: websocket.Upgrader{
			CheckOrigin: checkOrigin(allowedOrigins),
		},
	}
}

func checkOrigin(allowedOrigins []string) func(r *http.Request) bool {
	if len(allowedOrigins) == 0 {
		return func(r *http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// ServeHTTP authenticates the request and checks the room before upgrading. Every failure up to this point rejects
// the request with a plain HTTP status, no websocket message is ever sent for it.
func (h *ProtocolHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["room"]
	user, err := h.authenticator.Authenticate(r)
	if err == nil && (user == nil || user.Id == "") {
		err = types.ErrUnauthenticated
	}
	if err != nil {
		h.reject(w, roomId, err)
		return
	}
	rm, err := h.rooms.Resolve(roomId)
	if err != nil {
		h.reject(w, roomId, err)
		return
	}
	if err := h.sessions.CheckAccess(rm, user, r.URL.Query().Get("secret")); err != nil {
		h.reject(w, roomId, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered the request
		globals.AppLogger.Error("websocket upgrade error", "room", roomId, "error", err)
		return
	}
	h.serve(NewClient(conn, user), rm)
}

func (h *ProtocolHandler) reject(w http.ResponseWriter, roomId string, err error) {
	status := types.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		globals.AppLogger.Error("could not accept websocket", "room", roomId, "error", err)
	} else {
		globals.AppLogger.Debug("websocket rejected", "room", roomId, "status", status, "error", err)
	}
	http.Error(w, http.StatusText(status), status)
}

// serve runs the joined session until the connection closes.
func (h *ProtocolHandler) serve(client *Client, rm *types.Room) {
	hub := h.hubs.Acquire(rm.Id)
	defer h.hubs.Release(rm.Id)

	joined := false
	ok := hub.DoSync(func() { joined = h.join(hub, client, rm) })
	if !ok || !joined {
		client.Close()
		client.conn.Close()
		if !ok {
			// stopped while joining, the join may have gone through
			h.markInactive(rm.Id, client.user.Id)
		}
		return
	}
	metrics.Connections.Inc()
	defer metrics.Connections.Dec()
	globals.AppLogger.Info("client joined", "room", rm.Id, "user", client.user.Id)

	go client.WriteLoop()
	client.ReadLoop(func(raw []byte) { h.handleMessage(hub, client, rm.Id, raw) })

	// the session ends however the connection ended, commands queued before this one still run and broadcast
	if !hub.DoSync(func() { h.leave(hub, client, rm.Id) }) {
		// the hub was stopped underneath the session, nobody is left to notify
		client.Close()
		h.markInactive(rm.Id, client.user.Id)
	}
	globals.AppLogger.Info("client left", "room", rm.Id, "user", client.user.Id)
}

// join runs on the hub goroutine. The initial state is queued before the client is registered, so it is the first
// message the client receives and no broadcast can overtake it.
func (h *ProtocolHandler) join(hub *Hub, client *Client, rm *types.Room) bool {
	user := client.user
	if _, err := h.sessions.Join(context.Background(), rm.Id, user); err != nil {
		globals.AppLogger.Error("could not join room", "room", rm.Id, "user", user.Id, "error", err)
		return false
	}
	elements, err := h.elements.QueryCurrent(rm.Id)
	if err == nil {
		var data []byte
		data, err = json.Marshal(types.NewInitialStateEvent(rm, elements))
		if err == nil {
			client.Send(data)
		}
	}
	if err != nil {
		globals.AppLogger.Error("could not send initial state", "room", rm.Id, "user", user.Id, "error", err)
		if !hub.hasUser(user.Id) {
			h.markInactive(rm.Id, user.Id)
		}
		return false
	}
	first := !hub.hasUser(user.Id)
	hub.register(client)
	if first {
		hub.broadcastNow(types.NewUserJoinedEvent(user), client)
	}
	return true
}

// leave runs on the hub goroutine. The participant goes inactive with the last session of its identity.
func (h *ProtocolHandler) leave(hub *Hub, client *Client, roomId string) {
	hub.unregister(client)
	client.Close()
	if hub.hasUser(client.user.Id) {
		return
	}
	h.markInactive(roomId, client.user.Id)
	hub.broadcastNow(types.NewUserLeftEvent(client.user), nil)
}

func (h *ProtocolHandler) markInactive(roomId, userId string) {
	if err := h.sessions.Leave(context.Background(), roomId, userId); err != nil {
		globals.AppLogger.Error("could not leave room", "room", roomId, "user", userId, "error", err)
	}
}
