package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-match-service/internal/app"
)

// RoomRegistry is an in-memory implementation of app.RoomRegistry.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]app.RoomInfo
}

func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]app.RoomInfo),
	}
}

func (s *RoomRegistry) Register(_ context.Context, info app.RoomInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[info.RoomID] = info
	return nil
}

func (s *RoomRegistry) Remove(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

func (s *RoomRegistry) List(_ context.Context) ([]app.RoomInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]app.RoomInfo, 0, len(s.rooms))
	for _, info := range s.rooms {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}
