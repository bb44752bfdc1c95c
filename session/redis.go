package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tcriess/lightspeed-whiteboard/types"
)

const defaultPresenceTTL = 5 * time.Minute

// RedisMirror publishes presence into redis so that other services (or other server instances) can see who is
// online. Each participant is stored under presence:<room>:<user> with a TTL, the room index
// presence:room:<room> is a sorted set scored by the last activity.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisMirror(addr, password string, db int, ttl time.Duration) *RedisMirror {
	return NewRedisMirrorFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), ttl)
}

func NewRedisMirrorFromClient(client *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = defaultPresenceTTL
	}
	return &RedisMirror{client: client, ttl: ttl}
}

func presenceKey(roomId, userId string) string {
	return fmt.Sprintf("presence:%s:%s", roomId, userId)
}

func roomIndexKey(roomId string) string {
	return fmt.Sprintf("presence:room:%s", roomId)
}

func (r *RedisMirror) Online(ctx context.Context, p *types.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, presenceKey(p.RoomId, p.UserId), data, r.ttl)
	pipe.ZAdd(ctx, roomIndexKey(p.RoomId), redis.Z{Score: float64(p.LastActivity.Unix()), Member: p.UserId})
	pipe.Expire(ctx, roomIndexKey(p.RoomId), r.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisMirror) Offline(ctx context.Context, roomId, userId string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, presenceKey(roomId, userId))
	pipe.ZRem(ctx, roomIndexKey(roomId), userId)
	_, err := pipe.Exec(ctx)
	return err
}

// Participant returns the mirrored participant, or nil if the entry is gone or expired.
func (r *RedisMirror) Participant(ctx context.Context, roomId, userId string) (*types.Participant, error) {
	val, err := r.client.Get(ctx, presenceKey(roomId, userId)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p := &types.Participant{}
	if err := json.Unmarshal([]byte(val), p); err != nil {
		return nil, err
	}
	return p, nil
}

// OnlineUsers lists the users of a room whose last activity lies within the TTL.
func (r *RedisMirror) OnlineUsers(ctx context.Context, roomId string, now time.Time) ([]string, error) {
	min := strconv.FormatInt(now.Add(-r.ttl).Unix(), 10)
	return r.client.ZRangeByScore(ctx, roomIndexKey(roomId), &redis.ZRangeBy{Min: min, Max: "+inf"}).Result()
}

// OnlineParticipants returns the mirrored participants of a room that were active within the TTL, most recently
// active last. Entries that expired between the two lookups are skipped.
func (r *RedisMirror) OnlineParticipants(ctx context.Context, roomId string, now time.Time) ([]*types.Participant, error) {
	userIds, err := r.OnlineUsers(ctx, roomId, now)
	if err != nil {
		return nil, err
	}
	participants := make([]*types.Participant, 0, len(userIds))
	for _, userId := range userIds {
		p, err := r.Participant(ctx, roomId, userId)
		if err != nil {
			return nil, err
		}
		if p != nil {
			participants = append(participants, p)
		}
	}
	return participants, nil
}

func (r *RedisMirror) Close() error {
	return r.client.Close()
}
