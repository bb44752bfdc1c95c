package types

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type ElementType string

const (
	ElementTypePen       ElementType = "pen"
	ElementTypeLine      ElementType = "line"
	ElementTypeRectangle ElementType = "rectangle"
	ElementTypeCircle    ElementType = "circle"
	ElementTypeText      ElementType = "text"
	ElementTypeImage     ElementType = "image"
	ElementTypeEraser    ElementType = "eraser"
)

const (
	DefaultColor       = "#000000"
	DefaultStrokeWidth = 2.0
	DefaultOpacity     = 1.0
	DefaultFontSize    = 16
	DefaultFontFamily  = "Arial"
	DefaultEraserSize  = 10.0
)

// ParseElementType validates a wire element type, the empty string maps to ElementTypePen.
func ParseElementType(s string) (ElementType, error) {
	switch t := ElementType(s); t {
	case "":
		return ElementTypePen, nil
	case ElementTypePen, ElementTypeLine, ElementTypeRectangle, ElementTypeCircle, ElementTypeText, ElementTypeImage, ElementTypeEraser:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidElementType, s)
}

// Element is one drawable object on a room's canvas. Deleted elements stay in the store with IsDeleted set.
type Element struct {
	Id          string         `json:"id" gorm:"primaryKey"`
	RoomId      string         `json:"room" gorm:"index:idx_element_room_order,priority:1"`
	CreatedBy   string         `json:"created_by"`
	Type        ElementType    `json:"type"`
	X           float64        `json:"x"`
	Y           float64        `json:"y"`
	Width       float64        `json:"width"`
	Height      float64        `json:"height"`
	Color       string         `json:"color"`
	StrokeWidth float64        `json:"stroke_width"`
	Opacity     float64        `json:"opacity"`
	PathData    datatypes.JSON `json:"path_data"`
	TextContent string         `json:"text_content"`
	FontSize    int            `json:"font_size"`
	FontFamily  string         `json:"font_family"`
	ImageRef    string         `json:"image"`
	ZIndex      int            `json:"z_index" gorm:"index:idx_element_room_order,priority:2"`
	IsDeleted   bool           `json:"-" gorm:"index"`
	DeletedAt   *time.Time     `json:"-"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime:false"`
	Version     int64          `json:"version"`
}

// ApplyDefaults fills in the style defaults for fields that were left empty. Stroke width and opacity are left
// alone, zero is a valid value for both; use StyleOrDefault where they are decoded.
func (e *Element) ApplyDefaults() {
	if e.Type == "" {
		e.Type = ElementTypePen
	}
	if e.Color == "" {
		e.Color = DefaultColor
	}
	if e.FontSize == 0 {
		e.FontSize = DefaultFontSize
	}
	if e.FontFamily == "" {
		e.FontFamily = DefaultFontFamily
	}
	if len(e.PathData) == 0 {
		e.PathData = datatypes.JSON("null")
	}
}

// StyleOrDefault returns *v, or def if v was not given.
func StyleOrDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// Before reports whether e is painted below o: layering index first, creation time second.
func (e *Element) Before(o *Element) bool {
	if e.ZIndex != o.ZIndex {
		return e.ZIndex < o.ZIndex
	}
	if !e.CreatedAt.Equal(o.CreatedAt) {
		return e.CreatedAt.Before(o.CreatedAt)
	}
	return e.Id < o.Id
}

// ElementPatch is a partial update of an element. Nil fields are left untouched.
type ElementPatch struct {
	Type        *ElementType    `json:"element_type,omitempty"`
	X           *float64        `json:"x,omitempty"`
	Y           *float64        `json:"y,omitempty"`
	Width       *float64        `json:"width,omitempty"`
	Height      *float64        `json:"height,omitempty"`
	Color       *string         `json:"color,omitempty"`
	StrokeWidth *float64        `json:"stroke_width,omitempty"`
	Opacity     *float64        `json:"opacity,omitempty"`
	PathData    json.RawMessage `json:"path_data,omitempty"`
	TextContent *string         `json:"text_content,omitempty"`
	FontSize    *int            `json:"font_size,omitempty"`
	FontFamily  *string         `json:"font_family,omitempty"`
	ImageRef    *string         `json:"image,omitempty"`
	ZIndex      *int            `json:"z_index,omitempty"`
}

// Empty reports whether the patch would not change anything.
func (p *ElementPatch) Empty() bool {
	return p.Type == nil && p.X == nil && p.Y == nil && p.Width == nil && p.Height == nil && p.Color == nil &&
		p.StrokeWidth == nil && p.Opacity == nil && p.PathData == nil && p.TextContent == nil && p.FontSize == nil &&
		p.FontFamily == nil && p.ImageRef == nil && p.ZIndex == nil
}

// Apply writes every set field of the patch into e.
func (p *ElementPatch) Apply(e *Element) {
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.X != nil {
		e.X = *p.X
	}
	if p.Y != nil {
		e.Y = *p.Y
	}
	if p.Width != nil {
		e.Width = *p.Width
	}
	if p.Height != nil {
		e.Height = *p.Height
	}
	if p.Color != nil {
		e.Color = *p.Color
	}
	if p.StrokeWidth != nil {
		e.StrokeWidth = *p.StrokeWidth
	}
	if p.Opacity != nil {
		e.Opacity = *p.Opacity
	}
	if p.PathData != nil {
		e.PathData = datatypes.JSON(p.PathData)
	}
	if p.TextContent != nil {
		e.TextContent = *p.TextContent
	}
	if p.FontSize != nil {
		e.FontSize = *p.FontSize
	}
	if p.FontFamily != nil {
		e.FontFamily = *p.FontFamily
	}
	if p.ImageRef != nil {
		e.ImageRef = *p.ImageRef
	}
	if p.ZIndex != nil {
		e.ZIndex = *p.ZIndex
	}
}
