package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-match-service/internal/app"
)

const roomsSetKey = "quiz:rooms"

// RoomRegistry mirrors live rooms into Redis so every instance can list them.
// Each room is a JSON value with a TTL acting as a liveness marker; a set
// indexes the ids. Ids whose key expired are pruned on List.
type RoomRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoomRegistry(client *redis.Client, ttl time.Duration) *RoomRegistry {
	return &RoomRegistry{client: client, ttl: ttl}
}

func (s *RoomRegistry) Register(ctx context.Context, info app.RoomInfo) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", info.RoomID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(info.RoomID), raw, s.ttl)
	pipe.SAdd(ctx, roomsSetKey, info.RoomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register room %s: %w", info.RoomID, err)
	}
	return nil
}

func (s *RoomRegistry) Remove(ctx context.Context, roomID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(roomID))
	pipe.SRem(ctx, roomsSetKey, roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove room %s: %w", roomID, err)
	}
	return nil
}

func (s *RoomRegistry) List(ctx context.Context) ([]app.RoomInfo, error) {
	ids, err := s.client.SMembers(ctx, roomsSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	if len(ids) == 0 {
		return []app.RoomInfo{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load rooms: %w", err)
	}

	out := make([]app.RoomInfo, 0, len(ids))
	var stale []interface{}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var info app.RoomInfo
		if err := json.Unmarshal([]byte(str), &info); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, info)
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, roomsSetKey, stale...).Err()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

func (s *RoomRegistry) key(roomID string) string {
	return "quiz:room:" + roomID
}
