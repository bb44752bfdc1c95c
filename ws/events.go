package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/metrics"
	"github.com/tcriess/lightspeed-whiteboard/types"
	"gorm.io/datatypes"
)

// handleMessage decodes one raw message on the read goroutine. Malformed messages are answered directly, all other
// messages are handed to the hub.
func (h *ProtocolHandler) handleMessage(hub *Hub, client *Client, roomId string, raw []byte) {
	msg, err := types.DecodeInbound(raw)
	if err != nil {
		metrics.MalformedMessages.Inc()
		globals.AppLogger.Debug("malformed message", "room", roomId, "user", client.user.Id, "error", err)
		data, err := json.Marshal(types.NewErrorEvent(types.ErrorCodeMalformedMessage, err.Error()))
		if err == nil {
			client.Send(data)
		}
		return
	}
	if msg == nil {
		globals.AppLogger.Debug("ignoring message of unknown type", "room", roomId, "user", client.user.Id)
		return
	}
	metrics.MessagesReceived.WithLabelValues(msg.MessageType()).Inc()
	hub.Do(func() { h.dispatch(hub, client, roomId, msg) })
}

// dispatch runs on the hub goroutine: it performs the store operation of msg and broadcasts the outcome. A failed
// store operation is logged and nothing is broadcast.
func (h *ProtocolHandler) dispatch(hub *Hub, client *Client, roomId string, msg types.InboundMessage) {
	user := client.user
	var (
		event   types.Event
		exclude *Client
		err     error
	)
	switch m := msg.(type) {
	case *types.DrawMessage:
		var el *types.Element
		el, _, err = h.elements.UpsertStrokeSegment(roomId, user, m.ElementId, &types.Element{
			X:           m.X,
			Y:           m.Y,
			Color:       m.Color,
			StrokeWidth: m.StrokeWidth,
			Opacity:     m.Opacity,
			PathData:    datatypes.JSON(m.PathData),
		})
		if err == nil {
			event = types.NewDrawUpdateEvent(el, user)
		}

	case *types.EraseMessage:
		var el *types.Element
		el, err = h.elements.CreateElement(roomId, user, &types.Element{
			Type:        types.ElementTypeEraser,
			X:           *m.X,
			Y:           *m.Y,
			Width:       m.Size,
			Height:      m.Size,
			StrokeWidth: types.DefaultStrokeWidth,
			Opacity:     types.DefaultOpacity,
		})
		if err == nil {
			event = types.NewEraseUpdateEvent(el, m.Size, user)
		}

	case *types.ClearMessage:
		var count int
		count, err = h.elements.ClearRoom(roomId)
		if err == nil {
			event = types.NewWhiteboardClearedEvent(count, user)
		}

	case *types.CursorMoveMessage:
		var participant *types.Participant
		participant, err = h.sessions.UpdateCursor(context.Background(), roomId, user.Id, *m.X, *m.Y)
		if err == nil && participant != nil {
			event = types.NewCursorUpdateEvent(participant, user)
			exclude = client
		}

	case *types.AddElementMessage:
		var el *types.Element
		el, err = h.elements.CreateElement(roomId, user, m.Element())
		if err == nil {
			event = types.NewElementAddedEvent(el, user)
		}

	case *types.UpdateElementMessage:
		var el *types.Element
		el, err = h.elements.UpdateElement(roomId, m.ElementId, &m.Patch)
		if errors.Is(err, types.ErrElementNotFound) {
			globals.AppLogger.Debug("update of unknown element ignored", "room", roomId, "user", user.Id, "element", m.ElementId)
			return
		}
		if err == nil {
			event = types.NewElementUpdatedEvent(el, m.Data, user)
		}

	case *types.DeleteElementMessage:
		var deleted bool
		deleted, err = h.elements.DeleteElement(roomId, m.ElementId)
		if err == nil && deleted {
			event = types.NewElementDeletedEvent(m.ElementId, user)
		}
	}
	if err != nil {
		globals.AppLogger.Error("could not handle message", "room", roomId, "user", user.Id, "type", msg.MessageType(), "error", err)
		return
	}
	if event != nil {
		hub.broadcastNow(event, exclude)
	}
}
