package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"liveclass-api/internal/models"
)

type RedisRoomRepo struct{ rdb *redis.Client }

func NewRedisRoomRepo(rdb *redis.Client) *RedisRoomRepo {
	return &RedisRoomRepo{rdb: rdb}
}

const roomsIndexKey = "rooms:index"

func roomKey(id string) string {
	return fmt.Sprintf("rooms:%s", id)
}
func participantsKey(id string) string {
	return fmt.Sprintf("rooms:%s:participants", id)
}
func participantKey(rid, uid string) string {
	return fmt.Sprintf("participants:%s:%s", rid, uid)
}

func sec(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func (rr *RedisRoomRepo) CreateRoom(ctx context.Context, room models.Room, ttlSec int) error {
	b, err := json.Marshal(room)
	if err != nil {
		return err
	}
	d := sec(ttlSec)
	ok, err := rr.rdb.SetArgs(ctx, roomKey(room.RoomId), b, redis.SetArgs{Mode: "NX", TTL: d}).Result()
	if err != nil {
		return err
	}
	if ok != "OK" {
		return ErrRoomExists
	}
	return rr.rdb.SAdd(ctx, roomsIndexKey, room.RoomId).Err()
}

func (rr *RedisRoomRepo) GetRoom(ctx context.Context, roomId string) (models.Room, bool, error) {
	val, err := rr.rdb.Get(ctx, roomKey(roomId)).Bytes()
	if err == redis.Nil { // データがない
		return models.Room{}, false, nil
	}
	if err != nil {
		return models.Room{}, false, err
	}
	var r models.Room
	if err := json.Unmarshal(val, &r); err != nil {
		return models.Room{}, false, err
	}
	return r, true, nil
}

func (rr *RedisRoomRepo) ListRooms(ctx context.Context) ([]models.Room, error) {
	ids, err := rr.rdb.SMembers(ctx, roomsIndexKey).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Room{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = roomKey(id)
	}
	vals, err := rr.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	res := make([]models.Room, 0, len(ids))
	var stale []interface{} // TTL切れでレコードだけ消えたID
	for i, val := range vals {
		if val == nil {
			stale = append(stale, ids[i])
			continue
		}
		b, ok := val.(string)
		if !ok {
			continue
		}
		var r models.Room
		if json.Unmarshal([]byte(b), &r) == nil {
			res = append(res, r)
		}
	}
	if len(stale) > 0 {
		_ = rr.rdb.SRem(ctx, roomsIndexKey, stale...).Err()
	}
	return res, nil
}

func (rr *RedisRoomRepo) EndRoom(ctx context.Context, roomId string) error {
	r, ok, err := rr.GetRoom(ctx, roomId)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	r.Status = models.RoomStatusEnded
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}

	// TTLは維持したまま状態を書き換え、参加者スナップショットは消す
	// 強制終了後の切断はハブ側で処理済みのため、ここで残すと幽霊参加者になる
	script := `
		local room_key = KEYS[1]
		local participants_key = KEYS[2]
		local payload = ARGV[1]
		local room_id = ARGV[2]

		redis.call('SET', room_key, payload, 'KEEPTTL')

		local user_ids = redis.call('SMEMBERS', participants_key)
		for _, uid in ipairs(user_ids) do
			redis.call('DEL', 'participants:' .. room_id .. ':' .. uid)
		end
		redis.call('DEL', participants_key)

		return 'OK'
	`

	return rr.rdb.Eval(ctx, script, []string{roomKey(roomId), participantsKey(roomId)}, b, roomId).Err()
}

func (rr *RedisRoomRepo) DeleteRoom(ctx context.Context, roomId string) error {
	// Luaスクリプトでアトミックに処理
	script := `
		local room_key = KEYS[1]
		local participants_key = KEYS[2]
		local index_key = KEYS[3]
		local room_id = ARGV[1]

		-- 参加者一覧を取得
		local user_ids = redis.call('SMEMBERS', participants_key)

		-- 削除するキーリストを構築
		local keys_to_delete = {room_key, participants_key}
		for _, uid in ipairs(user_ids) do
			local p_key = 'participants:' .. room_id .. ':' .. uid
			table.insert(keys_to_delete, p_key)
		end

		-- 一括削除してインデックスからも外す
		if #keys_to_delete > 0 then
			redis.call('DEL', unpack(keys_to_delete))
		end
		redis.call('SREM', index_key, room_id)

		return 'OK'
	`

	return rr.rdb.Eval(ctx, script, []string{roomKey(roomId), participantsKey(roomId), roomsIndexKey}, roomId).Err()
}

func (rr *RedisRoomRepo) AddParticipant(ctx context.Context, roomId string, p models.Participant, maxParticipants, ttlSec int) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}

	// 定員判定と追加をLuaスクリプトでアトミックに処理
	// 満員の場合は一切書き込まない。参加済みユーザーの再joinは上書きで通す
	script := `
		local p_key = KEYS[1]
		local participants_key = KEYS[2]
		local room_key = KEYS[3]
		local uid = ARGV[1]
		local payload = ARGV[2]
		local max = tonumber(ARGV[3])
		local ttl = tonumber(ARGV[4])

		if redis.call('SISMEMBER', participants_key, uid) == 0 then
			if redis.call('SCARD', participants_key) >= max then
				return 'FULL'
			end
		end

		redis.call('SET', p_key, payload, 'EX', ttl)
		redis.call('SADD', participants_key, uid)
		redis.call('EXPIRE', participants_key, ttl)
		redis.call('EXPIRE', room_key, ttl)

		return 'OK'
	`

	res, err := rr.rdb.Eval(ctx, script,
		[]string{participantKey(roomId, p.UserId), participantsKey(roomId), roomKey(roomId)},
		p.UserId, b, maxParticipants, ttlSec).Text()
	if err != nil {
		return err
	}
	if res == "FULL" {
		return ErrRoomFull
	}
	return nil
}

func (rr *RedisRoomRepo) RemoveParticipant(ctx context.Context, roomId, userId string) error {
	pipe := rr.rdb.TxPipeline()
	pipe.SRem(ctx, participantsKey(roomId), userId)
	pipe.Del(ctx, participantKey(roomId, userId))
	_, err := pipe.Exec(ctx)
	return err
}

func (rr *RedisRoomRepo) ListParticipants(ctx context.Context, roomId string) ([]models.Participant, error) {
	ids, err := rr.rdb.SMembers(ctx, participantsKey(roomId)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Participant{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = participantKey(roomId, id)
	}

	// 一括取得
	vals, err := rr.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	res := make([]models.Participant, 0, len(ids))
	for _, val := range vals {
		if val == nil {
			continue
		}
		b, ok := val.(string)
		if !ok {
			continue
		}
		var p models.Participant
		if json.Unmarshal([]byte(b), &p) == nil {
			res = append(res, p)
		}
	}
	return res, nil
}

func (rr *RedisRoomRepo) CountParticipants(ctx context.Context, roomId string) (int, error) {
	n, err := rr.rdb.SCard(ctx, participantsKey(roomId)).Result()
	return int(n), err
}

func (rr *RedisRoomRepo) UpdateParticipantMedia(ctx context.Context, roomId, userId string, video, audio bool) error {
	val, err := rr.rdb.Get(ctx, participantKey(roomId, userId)).Bytes()
	if err == redis.Nil {
		return ErrParticipantNotFound
	}
	if err != nil {
		return err
	}
	var p models.Participant
	if err := json.Unmarshal(val, &p); err != nil {
		return err
	}
	p.IsVideoEnabled = video
	p.IsAudioEnabled = audio
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return rr.rdb.Set(ctx, participantKey(roomId, userId), b, redis.KeepTTL).Err()
}

func (rr *RedisRoomRepo) TouchRoom(ctx context.Context, roomId string, ttlSec int) error {
	// Luaスクリプトでアトミックに処理
	script := `
		local room_key = KEYS[1]
		local participants_key = KEYS[2]
		local ttl = tonumber(ARGV[1])
		local room_id = ARGV[2]

		redis.call('EXPIRE', room_key, ttl)
		redis.call('EXPIRE', participants_key, ttl)

		local user_ids = redis.call('SMEMBERS', participants_key)
		for _, uid in ipairs(user_ids) do
			local p_key = 'participants:' .. room_id .. ':' .. uid
			redis.call('EXPIRE', p_key, ttl)
		end

		return 'OK'
	`

	return rr.rdb.Eval(ctx, script, []string{roomKey(roomId), participantsKey(roomId)}, ttlSec, roomId).Err()
}

func (rr *RedisRoomRepo) ExistsRoom(ctx context.Context, roomId string) (bool, error) {
	n, err := rr.rdb.Exists(ctx, roomKey(roomId)).Result()
	return n == 1, err
}
