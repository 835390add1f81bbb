// Package service はビジネスロジックを担当します
// ルームの作成・参加・退出・終了と参加可否の判定を提供します
package service

import (
	"context"
	"errors"
	"time"

	"liveclass-api/internal/idgen"
	"liveclass-api/internal/models"
	"liveclass-api/internal/repo"
)

// RoomService はルーム管理のビジネスロジックを提供します
type RoomService struct {
	repo       repo.RoomRepo      // ルーム・参加者スナップショットのリポジトリ
	recordings repo.RecordingRepo // 録画データのリポジトリ
	idg        IDGenerator        // ルームID生成器
	ttlSec     int                // ルームの有効期限（秒）
	defaultMax int                // 最大参加人数のデフォルト値
}

// IDGenerator はユニークなIDを生成するインターフェース
type IDGenerator interface {
	New() (string, error) // 新しいIDを生成
}

// roomIDGen はIDGeneratorの実装
type roomIDGen struct{}

func (roomIDGen) New() (string, error) { return idgen.NewRoomID() }

// NewRoomIDGenerator は新しいRoomIDGeneratorを作成します
func NewRoomIDGenerator() IDGenerator {
	return roomIDGen{}
}

// NewRoomService は新しいRoomServiceを作成します
func NewRoomService(r repo.RoomRepo, rec repo.RecordingRepo, idg IDGenerator, ttlSec, defaultMax int) *RoomService {
	return &RoomService{repo: r, recordings: rec, idg: idg, ttlSec: ttlSec, defaultMax: defaultMax}
}

// RoomInfo はルームと現在の参加人数をまとめたものです（一覧表示用）
type RoomInfo struct {
	Room             models.Room `json:"room"`
	ParticipantCount int         `json:"participantCount"`
}

// Create は新しいルームを作成します
// 処理の流れ:
// 1. ユニークなルームIDを生成（重複チェック付き、最大10回リトライ）
// 2. ホストをhostIdに設定してルームを保存
// 参加者の追加はWebSocket経由のjoin時に行います
func (s *RoomService) Create(ctx context.Context, hostId string, maxParticipants int) (string, error) {
	const maxRetries = 10 // ID生成の最大リトライ回数

	var roomId string
	var err error

	// ID被りがあった場合、最大maxRetries回まで再生成を試みる
	for i := 0; i < maxRetries; i++ {
		roomId, err = s.idg.New()
		if err != nil {
			return "", err
		}

		exists, err := s.repo.ExistsRoom(ctx, roomId)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		if i == maxRetries-1 {
			return "", ErrRoomIDGenerationFailed
		}
	}

	if maxParticipants <= 0 {
		maxParticipants = s.defaultMax
	}
	room := models.Room{
		RoomId:          roomId,
		HostId:          hostId,
		Status:          models.RoomStatusLive,
		MaxParticipants: maxParticipants,
		CreatedAt:       time.Now().Unix(),
	}
	if err := s.repo.CreateRoom(ctx, room, s.ttlSec); err != nil {
		if errors.Is(err, repo.ErrRoomExists) {
			// 存在チェック後に同じIDで作成されたケース
			return "", ErrRoomIDGenerationFailed
		}
		return "", err
	}
	return roomId, nil
}

// Get は指定されたルームの情報と参加者一覧を取得します
// 戻り値: ルーム情報、参加者リスト、存在フラグ、エラー
func (s *RoomService) Get(ctx context.Context, roomId string) (models.Room, []models.Participant, bool, error) {
	r, ok, err := s.repo.GetRoom(ctx, roomId)
	if err != nil {
		return models.Room{}, nil, false, err
	}
	participants, err := s.repo.ListParticipants(ctx, roomId)
	return r, participants, ok, err
}

// List は全ルームを参加人数つきで取得します
func (s *RoomService) List(ctx context.Context) ([]RoomInfo, error) {
	rooms, err := s.repo.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		n, err := s.repo.CountParticipants(ctx, r.RoomId)
		if err != nil {
			return nil, err
		}
		res = append(res, RoomInfo{Room: r, ParticipantCount: n})
	}
	return res, nil
}

// Join はユーザーをルームに参加させます
// ルームが存在しない場合はその場で作成します（hostIdは参加者がホストの場合のみ設定）
// 参加を拒否するのは次の2つの場合のみ:
// - ルームが終了済み（ErrRoomEnded）
// - 満員（ErrRoomFull）。すでに参加済みのユーザーの再joinは人数を変えないため拒否しない
func (s *RoomService) Join(ctx context.Context, roomId string, p models.Participant) (models.Room, error) {
	room, ok, err := s.repo.GetRoom(ctx, roomId)
	if err != nil {
		return models.Room{}, err
	}
	if !ok {
		// 受け身の作成。ホスト以外が最初に来た場合hostIdは空のまま
		room = models.Room{
			RoomId:          roomId,
			Status:          models.RoomStatusLive,
			MaxParticipants: s.defaultMax,
			CreatedAt:       time.Now().Unix(),
		}
		if p.IsHost {
			room.HostId = p.UserId
		}
		switch err := s.repo.CreateRoom(ctx, room, s.ttlSec); {
		case err == nil:
		case errors.Is(err, repo.ErrRoomExists):
			// 同時joinで他の参加者が先に作成したケース。作成済みのルームに参加する
			room, ok, err = s.repo.GetRoom(ctx, roomId)
			if err != nil {
				return models.Room{}, err
			}
			if !ok {
				return models.Room{}, ErrRoomNotFound
			}
		default:
			return models.Room{}, err
		}
	}

	if room.Status == models.RoomStatusEnded {
		return models.Room{}, ErrRoomEnded
	}

	// 定員判定と追加はリポジトリ側でアトミックに行う
	// 参加済みユーザーの再joinは人数を変えないため拒否されない
	if err := s.repo.AddParticipant(ctx, roomId, p, room.MaxParticipants, s.ttlSec); err != nil {
		if errors.Is(err, repo.ErrRoomFull) {
			return models.Room{}, ErrRoomFull
		}
		return models.Room{}, err
	}
	return room, nil
}

// Leave はユーザーをルームから退出させます
// 最後の1人が退出した場合、ルームのレコードごと削除します
// （終了済みルームは参加拒否の判定に使うためTTL切れまで残す）
func (s *RoomService) Leave(ctx context.Context, roomId, userId string, last bool) error {
	if err := s.repo.RemoveParticipant(ctx, roomId, userId); err != nil {
		return err
	}
	if !last {
		return nil
	}
	room, ok, err := s.repo.GetRoom(ctx, roomId)
	if err != nil {
		return err
	}
	if ok && room.Status == models.RoomStatusLive {
		return s.repo.DeleteRoom(ctx, roomId)
	}
	return nil
}

// Close はルームを強制終了します（ホストのみ実行可能）
// レコードは終了済み状態でTTL切れまで残し、以降のjoinを拒否します
func (s *RoomService) Close(ctx context.Context, roomId, userId string) (models.Room, error) {
	room, ok, err := s.repo.GetRoom(ctx, roomId)
	if err != nil {
		return models.Room{}, err
	}
	if !ok {
		return models.Room{}, ErrRoomNotFound
	}
	if room.HostId != userId {
		return models.Room{}, ErrNotRoomHost
	}
	if err := s.repo.EndRoom(ctx, roomId); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// Touch はルームのTTL（有効期限）を更新します
func (s *RoomService) Touch(ctx context.Context, roomId string) error {
	return s.repo.TouchRoom(ctx, roomId, s.ttlSec)
}

// SetMediaState は参加者のカメラ・マイク状態をスナップショットに反映します
func (s *RoomService) SetMediaState(ctx context.Context, roomId, userId string, video, audio bool) error {
	if err := s.repo.UpdateParticipantMedia(ctx, roomId, userId, video, audio); err != nil {
		if errors.Is(err, repo.ErrParticipantNotFound) {
			return ErrParticipantNotFound
		}
		return err
	}
	return nil
}

// SaveRecording は授業録画を保存します
func (s *RoomService) SaveRecording(ctx context.Context, roomId string, data []byte, startedBy string) error {
	return s.recordings.SaveRecording(ctx, roomId, data, startedBy)
}

// GetRecording は授業録画を取得します
func (s *RoomService) GetRecording(ctx context.Context, roomId string) ([]byte, string, error) {
	return s.recordings.GetRecording(ctx, roomId)
}
