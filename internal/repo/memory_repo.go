package repo

import (
	"context"
	"sync"

	"liveclass-api/internal/models"
)

// MemoryRoomRepo はRoomRepoのインメモリ実装です
// Redisなしのローカル起動とテストで使用します（TTLは無視します）
type MemoryRoomRepo struct {
	mu           sync.RWMutex
	rooms        map[string]models.Room
	participants map[string]map[string]models.Participant // roomId -> userId -> participant
}

func NewMemoryRoomRepo() *MemoryRoomRepo {
	return &MemoryRoomRepo{
		rooms:        make(map[string]models.Room),
		participants: make(map[string]map[string]models.Participant),
	}
}

func (mr *MemoryRoomRepo) CreateRoom(_ context.Context, room models.Room, _ int) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if _, exists := mr.rooms[room.RoomId]; exists {
		return ErrRoomExists
	}
	mr.rooms[room.RoomId] = room
	mr.participants[room.RoomId] = make(map[string]models.Participant)
	return nil
}

func (mr *MemoryRoomRepo) GetRoom(_ context.Context, roomId string) (models.Room, bool, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	r, ok := mr.rooms[roomId]
	return r, ok, nil
}

func (mr *MemoryRoomRepo) ListRooms(_ context.Context) ([]models.Room, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	res := make([]models.Room, 0, len(mr.rooms))
	for _, r := range mr.rooms {
		res = append(res, r)
	}
	return res, nil
}

func (mr *MemoryRoomRepo) EndRoom(_ context.Context, roomId string) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	r, ok := mr.rooms[roomId]
	if !ok {
		return nil
	}
	r.Status = models.RoomStatusEnded
	mr.rooms[roomId] = r
	// 終了済みルームに参加者スナップショットを残さない
	mr.participants[roomId] = make(map[string]models.Participant)
	return nil
}

func (mr *MemoryRoomRepo) DeleteRoom(_ context.Context, roomId string) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	delete(mr.rooms, roomId)
	delete(mr.participants, roomId)
	return nil
}

func (mr *MemoryRoomRepo) AddParticipant(_ context.Context, roomId string, p models.Participant, maxParticipants, _ int) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	m, ok := mr.participants[roomId]
	if !ok {
		m = make(map[string]models.Participant)
		mr.participants[roomId] = m
	}
	// 定員判定と追加を同一ロック内で行う。再joinは人数を変えないため通す
	if _, member := m[p.UserId]; !member && len(m) >= maxParticipants {
		return ErrRoomFull
	}
	m[p.UserId] = p
	return nil
}

func (mr *MemoryRoomRepo) RemoveParticipant(_ context.Context, roomId, userId string) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if m, ok := mr.participants[roomId]; ok {
		delete(m, userId)
	}
	return nil
}

func (mr *MemoryRoomRepo) ListParticipants(_ context.Context, roomId string) ([]models.Participant, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	m := mr.participants[roomId]
	res := make([]models.Participant, 0, len(m))
	for _, p := range m {
		res = append(res, p)
	}
	return res, nil
}

func (mr *MemoryRoomRepo) CountParticipants(_ context.Context, roomId string) (int, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return len(mr.participants[roomId]), nil
}

func (mr *MemoryRoomRepo) UpdateParticipantMedia(_ context.Context, roomId, userId string, video, audio bool) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	m, ok := mr.participants[roomId]
	if !ok {
		return ErrParticipantNotFound
	}
	p, ok := m[userId]
	if !ok {
		return ErrParticipantNotFound
	}
	p.IsVideoEnabled = video
	p.IsAudioEnabled = audio
	m[userId] = p
	return nil
}

func (mr *MemoryRoomRepo) TouchRoom(_ context.Context, _ string, _ int) error {
	return nil // TTLを持たないため何もしない
}

func (mr *MemoryRoomRepo) ExistsRoom(_ context.Context, roomId string) (bool, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	_, ok := mr.rooms[roomId]
	return ok, nil
}

// インターフェース実装の確認
var _ RoomRepo = (*MemoryRoomRepo)(nil)
var _ RoomRepo = (*RedisRoomRepo)(nil)
