package service

import "errors"

// カスタムエラー定義
var (
	ErrRoomNotFound           = errors.New("room not found")
	ErrRoomEnded              = errors.New("room has already ended")
	ErrRoomFull               = errors.New("room is full")
	ErrNotRoomHost            = errors.New("forbidden: not room host")
	ErrParticipantNotFound    = errors.New("participant not found")
	ErrRoomIDGenerationFailed = errors.New("failed to generate unique room ID after multiple attempts")
)
