package repo

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisRecordingRepo は録画データをRedisに保存します
// TODO: サイズの大きい録画はS3等のオブジェクトストレージに移す
type RedisRecordingRepo struct {
	rdb *redis.Client
}

func NewRedisRecordingRepo(rdb *redis.Client) *RedisRecordingRepo {
	return &RedisRecordingRepo{rdb: rdb}
}

func recordingKey(roomId string) string {
	return fmt.Sprintf("recordings:%s", roomId)
}

func recordingMetaKey(roomId string) string {
	return fmt.Sprintf("recordings:%s:startedBy", roomId)
}

// SaveRecording は録画データと開始者を保存します
func (r *RedisRecordingRepo) SaveRecording(ctx context.Context, roomId string, data []byte, startedBy string) error {
	if err := r.rdb.Set(ctx, recordingKey(roomId), data, 0).Err(); err != nil {
		return err
	}
	return r.rdb.Set(ctx, recordingMetaKey(roomId), startedBy, 0).Err()
}

// GetRecording は録画データと開始者を取得します
func (r *RedisRecordingRepo) GetRecording(ctx context.Context, roomId string) ([]byte, string, error) {
	data, err := r.rdb.Get(ctx, recordingKey(roomId)).Bytes()
	if err != nil {
		return nil, "", err
	}
	startedBy, err := r.rdb.Get(ctx, recordingMetaKey(roomId)).Result()
	if err != nil && err != redis.Nil {
		return nil, "", err
	}
	return data, startedBy, nil
}

var _ RecordingRepo = (*RedisRecordingRepo)(nil)
