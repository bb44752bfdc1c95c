package types

import (
	"encoding/json"
	"fmt"
)

// Outbound event types, each event is sent as a flat JSON object with a "type" field.
const (
	EventTypeInitialState      = "initial_state"
	EventTypeDrawUpdate        = "draw_update"
	EventTypeElementAdded      = "element_added"
	EventTypeElementUpdated    = "element_updated"
	EventTypeElementDeleted    = "element_deleted"
	EventTypeEraseUpdate       = "erase_update"
	EventTypeCursorUpdate      = "cursor_update"
	EventTypeUserJoined        = "user_joined"
	EventTypeUserLeft          = "user_left"
	EventTypeWhiteboardCleared = "whiteboard_cleared"
	EventTypeSnapshotRestored  = "snapshot_restored"
	EventTypeError             = "error"
)

const ErrorCodeMalformedMessage = "malformed_message"

// Event is one outbound message, EventType returns the value of its "type" field.
type Event interface {
	EventType() string
}

// Actor identifies the user an event originates from.
type Actor struct {
	UserId string `json:"user_id"`
	User   string `json:"user"`
}

func actor(u *User) Actor {
	if u == nil {
		return Actor{}
	}
	return Actor{UserId: u.Id, User: u.Nick}
}

type InitialStateEvent struct {
	Type     string     `json:"type"`
	Room     *Room      `json:"room,omitempty"`
	Elements []*Element `json:"elements"`
}

func (e *InitialStateEvent) EventType() string { return e.Type }

func NewInitialStateEvent(room *Room, elements []*Element) *InitialStateEvent {
	if elements == nil {
		elements = make([]*Element, 0)
	}
	var r *Room
	if room != nil {
		public := room.Public()
		r = &public
	}
	return &InitialStateEvent{Type: EventTypeInitialState, Room: r, Elements: elements}
}

type DrawUpdateEvent struct {
	Type        string          `json:"type"`
	ElementId   string          `json:"element_id"`
	PathData    json.RawMessage `json:"path_data"`
	Color       string          `json:"color"`
	StrokeWidth float64         `json:"stroke_width"`
	Opacity     float64         `json:"opacity"`
	Version     int64           `json:"version"`
	Actor
}

func (e *DrawUpdateEvent) EventType() string { return e.Type }

func NewDrawUpdateEvent(el *Element, u *User) *DrawUpdateEvent {
	return &DrawUpdateEvent{
		Type:        EventTypeDrawUpdate,
		ElementId:   el.Id,
		PathData:    json.RawMessage(el.PathData),
		Color:       el.Color,
		StrokeWidth: el.StrokeWidth,
		Opacity:     el.Opacity,
		Version:     el.Version,
		Actor:       actor(u),
	}
}

type ElementAddedEvent struct {
	Type      string   `json:"type"`
	ElementId string   `json:"element_id"`
	Element   *Element `json:"element"`
	Actor
}

func (e *ElementAddedEvent) EventType() string { return e.Type }

func NewElementAddedEvent(el *Element, u *User) *ElementAddedEvent {
	return &ElementAddedEvent{Type: EventTypeElementAdded, ElementId: el.Id, Element: el, Actor: actor(u)}
}

type ElementUpdatedEvent struct {
	Type      string                 `json:"type"`
	ElementId string                 `json:"element_id"`
	Data      map[string]interface{} `json:"data"`
	Element   *Element               `json:"element"`
	Actor
}

func (e *ElementUpdatedEvent) EventType() string { return e.Type }

func NewElementUpdatedEvent(el *Element, data map[string]interface{}, u *User) *ElementUpdatedEvent {
	return &ElementUpdatedEvent{Type: EventTypeElementUpdated, ElementId: el.Id, Data: data, Element: el, Actor: actor(u)}
}

type ElementDeletedEvent struct {
	Type      string `json:"type"`
	ElementId string `json:"element_id"`
	Actor
}

func (e *ElementDeletedEvent) EventType() string { return e.Type }

func NewElementDeletedEvent(elementId string, u *User) *ElementDeletedEvent {
	return &ElementDeletedEvent{Type: EventTypeElementDeleted, ElementId: elementId, Actor: actor(u)}
}

type EraseUpdateEvent struct {
	Type      string  `json:"type"`
	ElementId string  `json:"element_id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Size      float64 `json:"size"`
	Actor
}

func (e *EraseUpdateEvent) EventType() string { return e.Type }

func NewEraseUpdateEvent(el *Element, size float64, u *User) *EraseUpdateEvent {
	return &EraseUpdateEvent{Type: EventTypeEraseUpdate, ElementId: el.Id, X: el.X, Y: el.Y, Size: size, Actor: actor(u)}
}

type CursorUpdateEvent struct {
	Type  string  `json:"type"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color"`
	Actor
}

func (e *CursorUpdateEvent) EventType() string { return e.Type }

func NewCursorUpdateEvent(p *Participant, u *User) *CursorUpdateEvent {
	return &CursorUpdateEvent{Type: EventTypeCursorUpdate, X: p.CursorX, Y: p.CursorY, Color: p.CursorColor, Actor: actor(u)}
}

// PresenceEvent is sent as user_joined and user_left.
type PresenceEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Actor
}

func (e *PresenceEvent) EventType() string { return e.Type }

func NewUserJoinedEvent(u *User) *PresenceEvent {
	return &PresenceEvent{Type: EventTypeUserJoined, Message: fmt.Sprintf("%s joined the whiteboard", u.Nick), Actor: actor(u)}
}

func NewUserLeftEvent(u *User) *PresenceEvent {
	return &PresenceEvent{Type: EventTypeUserLeft, Message: fmt.Sprintf("%s left the whiteboard", u.Nick), Actor: actor(u)}
}

type WhiteboardClearedEvent struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
	Actor
}

func (e *WhiteboardClearedEvent) EventType() string { return e.Type }

func NewWhiteboardClearedEvent(count int, u *User) *WhiteboardClearedEvent {
	return &WhiteboardClearedEvent{Type: EventTypeWhiteboardCleared, Count: count, Actor: actor(u)}
}

type SnapshotRestoredEvent struct {
	Type       string     `json:"type"`
	SnapshotId string     `json:"snapshot_id"`
	Elements   []*Element `json:"elements"`
	Actor
}

func (e *SnapshotRestoredEvent) EventType() string { return e.Type }

func NewSnapshotRestoredEvent(snapshotId string, elements []*Element, u *User) *SnapshotRestoredEvent {
	return &SnapshotRestoredEvent{Type: EventTypeSnapshotRestored, SnapshotId: snapshotId, Elements: elements, Actor: actor(u)}
}

// ErrorEvent is only ever sent to the session that caused it.
type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return e.Type }

func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{Type: EventTypeError, Code: code, Message: message}
}
