package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tcriess/lightspeed-whiteboard/globals"
	"github.com/tcriess/lightspeed-whiteboard/persistence"
	"github.com/tcriess/lightspeed-whiteboard/room"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

// PresenceMirror receives a copy of every presence change. Mirror errors are logged and never fail the operation.
type PresenceMirror interface {
	Online(ctx context.Context, p *types.Participant) error
	Offline(ctx context.Context, roomId, userId string) error
	Close() error
}

// Manager tracks which identities are active in which room, together with their cursor positions.
type Manager struct {
	persister persistence.Persister
	rooms     *room.Registry
	mirror    PresenceMirror
	now       func() time.Time
}

func NewManager(persister persistence.Persister, rooms *room.Registry, mirror PresenceMirror) *Manager {
	return &Manager{
		persister: persister,
		rooms:     rooms,
		mirror:    mirror,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CheckAccess decides whether user may open a new session in room. Owners and participants that joined before do
// not need the access secret. A user that is already active in the room does not count against the capacity.
func (m *Manager) CheckAccess(r *types.Room, user *types.User, secret string) error {
	participants, err := m.persister.GetParticipants(r.Id, false)
	if err != nil {
		return err
	}
	if err := checkSecret(r, user, secret, participants); err != nil {
		return err
	}
	active := 0
	alreadyActive := false
	for _, p := range participants {
		if p.IsActive {
			active++
			if p.UserId == user.Id {
				alreadyActive = true
			}
		}
	}
	if r.MaxUsers > 0 && !alreadyActive && active >= r.MaxUsers {
		return fmt.Errorf("%w: %d of %d", types.ErrRoomFull, active, r.MaxUsers)
	}
	return nil
}

// CheckSecret is the access secret part of CheckAccess, used for reading a room without joining it.
func (m *Manager) CheckSecret(r *types.Room, user *types.User, secret string) error {
	if !r.HasPassword() {
		return nil
	}
	participants, err := m.persister.GetParticipants(r.Id, false)
	if err != nil {
		return err
	}
	return checkSecret(r, user, secret, participants)
}

func checkSecret(r *types.Room, user *types.User, secret string, participants []*types.Participant) error {
	if !r.HasPassword() || user.Id == r.OwnerId || secret == r.Password {
		return nil
	}
	for _, p := range participants {
		if p.UserId == user.Id {
			return nil
		}
	}
	return fmt.Errorf("%w: wrong access secret for room %s", types.ErrAccessDenied, r.Id)
}

// Join creates or reactivates the participant row of user in the room and returns it.
func (m *Manager) Join(ctx context.Context, roomId string, user *types.User) (*types.Participant, error) {
	if user == nil || user.Id == "" {
		return nil, types.ErrUnauthenticated
	}
	if _, err := m.rooms.Resolve(roomId); err != nil {
		return nil, err
	}
	now := m.now()
	participant := &types.Participant{
		RoomId:       roomId,
		UserId:       user.Id,
		Nick:         user.Nick,
		CursorColor:  types.DefaultCursorColor,
		JoinedAt:     now,
		LastActivity: now,
	}
	if err := m.persister.JoinParticipant(participant); err != nil {
		return nil, err
	}
	globals.AppLogger.Debug("participant joined", "room", roomId, "user", user.Id, "version", participant.Version)
	m.mirrorOnline(ctx, participant)
	return participant, nil
}

// Leave marks the participant inactive. Leaving a room one never joined is not an error.
func (m *Manager) Leave(ctx context.Context, roomId, userId string) error {
	found, err := m.persister.LeaveParticipant(roomId, userId, m.now())
	if err != nil {
		return err
	}
	if !found {
		globals.AppLogger.Debug("leave without participant row", "room", roomId, "user", userId)
		return nil
	}
	if m.mirror != nil {
		if err := m.mirror.Offline(ctx, roomId, userId); err != nil {
			globals.AppLogger.Warn("could not mirror presence", "room", roomId, "user", userId, "error", err)
		}
	}
	return nil
}

// UpdateCursor stores the cursor position of an active participant. Without an active participant row nothing
// happens and (nil, nil) is returned.
func (m *Manager) UpdateCursor(ctx context.Context, roomId, userId string, x, y float64) (*types.Participant, error) {
	participant, err := m.persister.UpdateCursor(roomId, userId, x, y, m.now())
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.mirrorOnline(ctx, participant)
	return participant, nil
}

// ActiveParticipants returns the participants currently active in the room.
func (m *Manager) ActiveParticipants(roomId string) ([]*types.Participant, error) {
	return m.persister.GetParticipants(roomId, true)
}

func (m *Manager) ActiveCount(roomId string) (int, error) {
	return m.persister.CountActiveParticipants(roomId)
}

func (m *Manager) mirrorOnline(ctx context.Context, participant *types.Participant) {
	if m.mirror == nil {
		return
	}
	if err := m.mirror.Online(ctx, participant); err != nil {
		globals.AppLogger.Warn("could not mirror presence", "room", participant.RoomId, "user", participant.UserId, "error", err)
	}
}
