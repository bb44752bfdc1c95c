package types

import (
	"time"
)

const (
	DefaultBackgroundColor = "#ffffff"
	DefaultMaxUsers        = 50
)

// Room is a collaborative session around one shared canvas. Rooms are created and changed outside of the
// synchronization core (admin cli, external metadata service), the core only reads them.
type Room struct {
	Id              string        `json:"id" gorm:"primaryKey"`
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	OwnerId         string        `json:"owner_id" gorm:"index"`
	IsPublic        bool          `json:"is_public"`
	Password        string        `json:"password,omitempty"`
	MaxUsers        int           `json:"max_users"`
	BackgroundColor string        `json:"background_color"`
	GridEnabled     bool          `json:"grid_enabled"`
	Tags            JSONStringMap `json:"tags"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ApplyDefaults fills in the canvas defaults for fields that were left empty.
func (r *Room) ApplyDefaults(defaultMaxUsers int) {
	if r.BackgroundColor == "" {
		r.BackgroundColor = DefaultBackgroundColor
	}
	if r.MaxUsers == 0 {
		r.MaxUsers = defaultMaxUsers
	}
	if r.Tags == nil {
		r.Tags = make(JSONStringMap)
	}
}

// HasPassword reports whether joining the room requires the access secret.
func (r *Room) HasPassword() bool {
	return r.Password != ""
}

// Public strips the access secret, use it for everything that leaves the server.
func (r Room) Public() Room {
	r.Password = ""
	return r
}

// Actions that require an authorization decision.
const (
	ActionClear   = "clear"
	ActionRestore = "restore"
)
