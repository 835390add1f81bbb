package repo

import "context"

// RecordingRepo は授業録画データを保存/取得するためのインターフェース
type RecordingRepo interface {
	SaveRecording(ctx context.Context, roomId string, data []byte, startedBy string) error
	GetRecording(ctx context.Context, roomId string) ([]byte, string, error)
}
