package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tcriess/lightspeed-whiteboard/board"
	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/metrics"
	"github.com/tcriess/lightspeed-whiteboard/room"
	"github.com/tcriess/lightspeed-whiteboard/session"
	"github.com/tcriess/lightspeed-whiteboard/types"
	"github.com/tcriess/lightspeed-whiteboard/ws"
)

const roomPattern = "{room:[a-z0-9][a-z0-9_-]*}"

type contextKey int

const userKey contextKey = iota

// Server bundles the components behind the HTTP surface.
type Server struct {
	Rooms         *room.Registry
	Sessions      *session.Manager
	Elements      *board.ElementStore
	Snapshots     *board.SnapshotManager
	Policy        board.Authorizer
	Hubs          *ws.Hubs
	Authenticator ws.Authenticator
	// AllowedOrigins restricts the Origin of websocket requests, empty allows every origin.
	AllowedOrigins []string
}

// Router returns the routes of the server:
//
//	GET  /ws/whiteboard/{room}                        websocket
//	GET  /api/rooms/{room}/elements                   current elements in painter's order
//	GET  /api/rooms/{room}/participants               active participants
//	POST /api/rooms/{room}/clear                      clear the room (policy "clear")
//	GET  /api/rooms/{room}/snapshots                  snapshots, newest first
//	POST /api/rooms/{room}/snapshots                  capture {name?, description?}
//	POST /api/rooms/{room}/snapshots/{id}/restore     restore (policy "restore")
//	GET  /healthz, /metrics
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(metrics.Middleware)
	router.Handle("/ws/whiteboard/"+roomPattern,
		ws.NewProtocolHandler(s.Hubs, s.Rooms, s.Sessions, s.Elements, s.Authenticator, s.AllowedOrigins)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	rooms := router.PathPrefix("/api/rooms/" + roomPattern).Subrouter()
	rooms.Use(s.authenticate)
	rooms.HandleFunc("/elements", s.getElements).Methods(http.MethodGet)
	rooms.HandleFunc("/elements/{element}", s.getElement).Methods(http.MethodGet)
	rooms.HandleFunc("/participants", s.getParticipants).Methods(http.MethodGet)
	rooms.HandleFunc("/clear", s.clearRoom).Methods(http.MethodPost)
	rooms.HandleFunc("/snapshots", s.getSnapshots).Methods(http.MethodGet)
	rooms.HandleFunc("/snapshots", s.captureSnapshot).Methods(http.MethodPost)
	rooms.HandleFunc("/snapshots/{id}/restore", s.restoreSnapshot).Methods(http.MethodPost)
	return router
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.Authenticator.Authenticate(r)
		if err == nil && (user == nil || user.Id == "") {
			err = types.ErrUnauthenticated
		}
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func userFrom(r *http.Request) *types.User {
	user, _ := r.Context().Value(userKey).(*types.User)
	return user
}

// readableRoom resolves the room of the request and checks the access secret ("secret" query parameter).
func (s *Server) readableRoom(r *http.Request) (*types.Room, error) {
	rm, err := s.Rooms.Resolve(mux.Vars(r)["room"])
	if err != nil {
		return nil, err
	}
	if err := s.Sessions.CheckSecret(rm, userFrom(r), r.URL.Query().Get("secret")); err != nil {
		return nil, err
	}
	return rm, nil
}

func (s *Server) getElements(w http.ResponseWriter, r *http.Request) {
	rm, err := s.readableRoom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	elements, err := s.Elements.QueryCurrent(rm.Id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, elements)
}

func (s *Server) getElement(w http.ResponseWriter, r *http.Request) {
	rm, err := s.readableRoom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	el, err := s.Elements.GetElement(rm.Id, mux.Vars(r)["element"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, el)
}

func (s *Server) getParticipants(w http.ResponseWriter, r *http.Request) {
	rm, err := s.readableRoom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	participants, err := s.Sessions.ActiveParticipants(rm.Id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, participants)
}

func (s *Server) clearRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := s.Rooms.Resolve(mux.Vars(r)["room"])
	if err != nil {
		writeError(w, err)
		return
	}
	user := userFrom(r)
	allowed, err := s.Policy.Allowed(types.ActionClear, rm, user)
	if err != nil {
		writeError(w, err)
		return
	}
	if !allowed {
		writeError(w, types.ErrPermissionDenied)
		return
	}
	count := 0
	if werr := s.Hubs.Within(rm.Id, func(broadcast func(types.Event)) {
		count, err = s.Elements.ClearRoom(rm.Id)
		if err == nil {
			broadcast(types.NewWhiteboardClearedEvent(count, user))
		}
	}); werr != nil {
		err = werr
	}
	if err != nil {
		writeError(w, err)
		return
	}
	globals.AppLogger.Info("room cleared", "room", rm.Id, "user", user.Id, "count", count)
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) getSnapshots(w http.ResponseWriter, r *http.Request) {
	rm, err := s.readableRoom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snapshots, err := s.Snapshots.List(rm.Id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

type captureRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) captureSnapshot(w http.ResponseWriter, r *http.Request) {
	rm, err := s.readableRoom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	req := captureRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	snapshot, err := s.Snapshots.Capture(rm.Id, userFrom(r), req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snapshot)
}

func (s *Server) restoreSnapshot(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	roomId, snapshotId := vars["room"], vars["id"]
	user := userFrom(r)
	var (
		elements []*types.Element
		err      error
	)
	if werr := s.Hubs.Within(roomId, func(broadcast func(types.Event)) {
		elements, err = s.Snapshots.Restore(roomId, user, snapshotId)
		if err == nil {
			broadcast(types.NewSnapshotRestoredEvent(snapshotId, elements, user))
		}
	}); werr != nil {
		err = werr
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshot_id": snapshotId, "elements": elements})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		globals.AppLogger.Error("could not write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := types.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		globals.AppLogger.Error("request failed", "error", err)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
