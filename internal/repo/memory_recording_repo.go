package repo

import (
	"context"
	"errors"
	"sync"
)

// ErrRecordingNotFound は録画が存在しない場合に返します
var ErrRecordingNotFound = errors.New("recording not found")

// MemoryRecordingRepo はRecordingRepoのインメモリ実装です
type MemoryRecordingRepo struct {
	mu         sync.RWMutex
	recordings map[string][]byte
	startedBy  map[string]string
}

func NewMemoryRecordingRepo() *MemoryRecordingRepo {
	return &MemoryRecordingRepo{
		recordings: make(map[string][]byte),
		startedBy:  make(map[string]string),
	}
}

func (r *MemoryRecordingRepo) SaveRecording(_ context.Context, roomId string, data []byte, startedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordings[roomId] = data
	r.startedBy[roomId] = startedBy
	return nil
}

func (r *MemoryRecordingRepo) GetRecording(_ context.Context, roomId string) ([]byte, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.recordings[roomId]
	if !ok {
		return nil, "", ErrRecordingNotFound
	}
	return data, r.startedBy[roomId], nil
}

var _ RecordingRepo = (*MemoryRecordingRepo)(nil)
