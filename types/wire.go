package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// The closed set of messages a client may send. Every message is a flat JSON object whose "type" field selects the
// variant.
const (
	MessageTypeDraw          = "draw"
	MessageTypeErase         = "erase"
	MessageTypeClear         = "clear"
	MessageTypeCursorMove    = "cursor_move"
	MessageTypeAddElement    = "add_element"
	MessageTypeUpdateElement = "update_element"
	MessageTypeDeleteElement = "delete_element"
)

// InboundMessage is one decoded client message, the concrete type is one of the *Message structs below.
type InboundMessage interface {
	MessageType() string
}

type inboundMessage interface {
	InboundMessage
	normalize(fields map[string]interface{}) error
}

// DrawMessage carries the complete point list of a stroke. Without a (resolvable) element id a new stroke is started.
type DrawMessage struct {
	ElementId      string      `mapstructure:"element_id"`
	RawPath        interface{} `mapstructure:"path_data"`
	RawPathAlt     interface{} `mapstructure:"path"`
	Color          string      `mapstructure:"color"`
	RawStrokeWidth *float64    `mapstructure:"stroke_width"`
	RawSize        *float64    `mapstructure:"size"`
	RawOpacity     *float64    `mapstructure:"opacity"`
	X              float64     `mapstructure:"x"`
	Y              float64     `mapstructure:"y"`

	PathData    json.RawMessage `mapstructure:"-"`
	StrokeWidth float64         `mapstructure:"-"`
	Opacity     float64         `mapstructure:"-"`
}

func (m *DrawMessage) MessageType() string { return MessageTypeDraw }

func (m *DrawMessage) normalize(map[string]interface{}) error {
	raw := m.RawPath
	if raw == nil {
		raw = m.RawPathAlt
	}
	pathData, err := NormalizePathData(raw)
	if err != nil {
		return err
	}
	m.PathData = pathData
	strokeWidth := m.RawStrokeWidth
	if strokeWidth == nil {
		strokeWidth = m.RawSize
	}
	m.StrokeWidth = StyleOrDefault(strokeWidth, DefaultStrokeWidth)
	m.Opacity = StyleOrDefault(m.RawOpacity, DefaultOpacity)
	return nil
}

// EraseMessage records an eraser mark at (X, Y).
type EraseMessage struct {
	X    *float64 `mapstructure:"x"`
	Y    *float64 `mapstructure:"y"`
	Size float64  `mapstructure:"size"`
}

func (m *EraseMessage) MessageType() string { return MessageTypeErase }

func (m *EraseMessage) normalize(map[string]interface{}) error {
	if m.X == nil || m.Y == nil {
		return errors.New("erase requires x and y")
	}
	if m.Size <= 0 {
		m.Size = DefaultEraserSize
	}
	return nil
}

// ClearMessage soft-deletes every element of the room.
type ClearMessage struct{}

func (m *ClearMessage) MessageType() string { return MessageTypeClear }

func (m *ClearMessage) normalize(map[string]interface{}) error { return nil }

type CursorMoveMessage struct {
	X *float64 `mapstructure:"x"`
	Y *float64 `mapstructure:"y"`
}

func (m *CursorMoveMessage) MessageType() string { return MessageTypeCursorMove }

func (m *CursorMoveMessage) normalize(map[string]interface{}) error {
	if m.X == nil || m.Y == nil {
		return errors.New("cursor_move requires x and y")
	}
	return nil
}

// AddElementMessage creates a shape, text or image element.
type AddElementMessage struct {
	RawType     string      `mapstructure:"element_type"`
	X           *float64    `mapstructure:"x"`
	Y           *float64    `mapstructure:"y"`
	Width       float64     `mapstructure:"width"`
	Height      float64     `mapstructure:"height"`
	Color       string      `mapstructure:"color"`
	StrokeWidth *float64    `mapstructure:"stroke_width"`
	Opacity     *float64    `mapstructure:"opacity"`
	TextContent string      `mapstructure:"text_content"`
	FontSize    int         `mapstructure:"font_size"`
	FontFamily  string      `mapstructure:"font_family"`
	ImageRef    string      `mapstructure:"image"`
	ZIndex      int         `mapstructure:"z_index"`
	RawPath     interface{} `mapstructure:"path_data"`

	Type     ElementType     `mapstructure:"-"`
	PathData json.RawMessage `mapstructure:"-"`
}

func (m *AddElementMessage) MessageType() string { return MessageTypeAddElement }

func (m *AddElementMessage) normalize(map[string]interface{}) error {
	if m.X == nil || m.Y == nil {
		return errors.New("add_element requires x and y")
	}
	t, err := ParseElementType(m.RawType)
	if err != nil {
		return err
	}
	m.Type = t
	if m.RawPath != nil {
		m.PathData, err = NormalizePathData(m.RawPath)
		if err != nil {
			return err
		}
	}
	return nil
}

// Element builds the element described by the message, defaults applied to the attributes that were not sent.
func (m *AddElementMessage) Element() *Element {
	el := &Element{
		Type:        m.Type,
		X:           *m.X,
		Y:           *m.Y,
		Width:       m.Width,
		Height:      m.Height,
		Color:       m.Color,
		StrokeWidth: StyleOrDefault(m.StrokeWidth, DefaultStrokeWidth),
		Opacity:     StyleOrDefault(m.Opacity, DefaultOpacity),
		PathData:    []byte(m.PathData),
		TextContent: m.TextContent,
		FontSize:    m.FontSize,
		FontFamily:  m.FontFamily,
		ImageRef:    m.ImageRef,
		ZIndex:      m.ZIndex,
	}
	el.ApplyDefaults()
	return el
}

// UpdateElementMessage is a partial update, only the attributes present in the message are written.
type UpdateElementMessage struct {
	ElementId   string      `mapstructure:"element_id"`
	RawType     *string     `mapstructure:"element_type"`
	X           *float64    `mapstructure:"x"`
	Y           *float64    `mapstructure:"y"`
	Width       *float64    `mapstructure:"width"`
	Height      *float64    `mapstructure:"height"`
	Color       *string     `mapstructure:"color"`
	StrokeWidth *float64    `mapstructure:"stroke_width"`
	Opacity     *float64    `mapstructure:"opacity"`
	TextContent *string     `mapstructure:"text_content"`
	FontSize    *int        `mapstructure:"font_size"`
	FontFamily  *string     `mapstructure:"font_family"`
	ImageRef    *string     `mapstructure:"image"`
	ZIndex      *int        `mapstructure:"z_index"`
	RawPath     interface{} `mapstructure:"path_data"`

	Patch ElementPatch           `mapstructure:"-"`
	Data  map[string]interface{} `mapstructure:"-"` // the attributes as sent, echoed in element_updated
}

func (m *UpdateElementMessage) MessageType() string { return MessageTypeUpdateElement }

func (m *UpdateElementMessage) normalize(fields map[string]interface{}) error {
	if m.ElementId == "" {
		return errors.New("update_element requires element_id")
	}
	m.Patch = ElementPatch{
		X:           m.X,
		Y:           m.Y,
		Width:       m.Width,
		Height:      m.Height,
		Color:       m.Color,
		StrokeWidth: m.StrokeWidth,
		Opacity:     m.Opacity,
		TextContent: m.TextContent,
		FontSize:    m.FontSize,
		FontFamily:  m.FontFamily,
		ImageRef:    m.ImageRef,
		ZIndex:      m.ZIndex,
	}
	if m.RawType != nil {
		t, err := ParseElementType(*m.RawType)
		if err != nil {
			return err
		}
		m.Patch.Type = &t
	}
	if m.RawPath != nil {
		pathData, err := NormalizePathData(m.RawPath)
		if err != nil {
			return err
		}
		m.Patch.PathData = pathData
	}
	m.Data = make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if k == "type" || k == "element_id" {
			continue
		}
		m.Data[k] = v
	}
	return nil
}

type DeleteElementMessage struct {
	ElementId string `mapstructure:"element_id"`
}

func (m *DeleteElementMessage) MessageType() string { return MessageTypeDeleteElement }

func (m *DeleteElementMessage) normalize(map[string]interface{}) error {
	if m.ElementId == "" {
		return errors.New("delete_element requires element_id")
	}
	return nil
}

// DecodeInbound decodes one raw client message. Errors wrap ErrMalformedMessage. A well-formed message of an unknown
// type yields (nil, nil) and is expected to be ignored by the caller.
func DecodeInbound(raw []byte) (InboundMessage, error) {
	fields := make(map[string]interface{})
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	msgType, _ := fields["type"].(string)
	var msg inboundMessage
	switch msgType {
	case MessageTypeDraw:
		msg = &DrawMessage{}
	case MessageTypeErase:
		msg = &EraseMessage{}
	case MessageTypeClear:
		msg = &ClearMessage{}
	case MessageTypeCursorMove:
		msg = &CursorMoveMessage{}
	case MessageTypeAddElement:
		msg = &AddElementMessage{}
	case MessageTypeUpdateElement:
		msg = &UpdateElementMessage{}
	case MessageTypeDeleteElement:
		msg = &DeleteElementMessage{}
	default:
		return nil, nil
	}
	if err := mapstructure.WeakDecode(fields, msg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	if err := msg.normalize(fields); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	return msg, nil
}

// NormalizePathData turns the path payload into JSON. Clients send either the point list itself or a string
// containing the JSON encoded point list.
func NormalizePathData(v interface{}) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, errors.New("missing path data")
	case string:
		if !json.Valid([]byte(p)) {
			return nil, errors.New("path data is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}
