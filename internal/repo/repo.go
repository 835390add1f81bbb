package repo

import (
	"context"
	"errors"

	"liveclass-api/internal/models"
)

// ErrParticipantNotFound は対象の参加者レコードが存在しない場合に返します
var ErrParticipantNotFound = errors.New("participant not found")

// ErrRoomExists はCreateRoomで同じIDのルームがすでにある場合に返します
var ErrRoomExists = errors.New("room already exists")

// ErrRoomFull はAddParticipantで定員を超える場合に返します
// 判定と追加は同一の操作内で行い、満員時は何も書き込みません
var ErrRoomFull = errors.New("room is full")

// RoomRepo はルーム・参加者スナップショットの保存先です
// ライブ中の正（せい）の状態はハブがメモリ上で持ち、REST参照と
// 終了済み判定のためにここへ反映します
type RoomRepo interface {
	CreateRoom(ctx context.Context, room models.Room, ttlSec int) error
	GetRoom(ctx context.Context, roomId string) (models.Room, bool, error)
	ListRooms(ctx context.Context) ([]models.Room, error)
	EndRoom(ctx context.Context, roomId string) error
	DeleteRoom(ctx context.Context, roomId string) error

	// AddParticipant は定員チェックと追加をアトミックに行います
	// すでに参加済みのユーザーは定員に関係なく上書きで成功します
	AddParticipant(ctx context.Context, roomId string, p models.Participant, maxParticipants, ttlSec int) error
	RemoveParticipant(ctx context.Context, roomId, userId string) error
	ListParticipants(ctx context.Context, roomId string) ([]models.Participant, error)
	CountParticipants(ctx context.Context, roomId string) (int, error)
	UpdateParticipantMedia(ctx context.Context, roomId, userId string, video, audio bool) error

	TouchRoom(ctx context.Context, roomId string, ttlSec int) error
	ExistsRoom(ctx context.Context, roomId string) (bool, error)
}
