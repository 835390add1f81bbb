// Package models はアプリケーションで使用するデータ構造を定義します
package models

// ルームの状態
const (
	RoomStatusLive  = "live"  // 授業中
	RoomStatusEnded = "ended" // 終了済み（TTL切れまでは参加拒否のために保持）
)

// Participant はライブ授業ルームに参加するユーザーの情報を表します
type Participant struct {
	UserId         string `json:"userId"`         // ユーザーの一意な識別子（クライアントが指定）
	UserName       string `json:"userName"`       // 表示名
	IsHost         bool   `json:"isHost"`         // ホスト（講師）かどうか
	IsVideoEnabled bool   `json:"isVideoEnabled"` // カメラのオン/オフ
	IsAudioEnabled bool   `json:"isAudioEnabled"` // マイクのオン/オフ
}

// Room はライブ授業ルームの情報を表します
type Room struct {
	RoomId          string `json:"roomId"`          // ルームの一意な識別子
	HostId          string `json:"hostId"`          // ホストのユーザーID（ホスト不在で作られた場合は空）
	Status          string `json:"status"`          // ルームの状態（live / ended）
	MaxParticipants int    `json:"maxParticipants"` // 最大参加人数
	CreatedAt       int64  `json:"createdAt"`       // ルーム作成日時（Unixタイムスタンプ）
}

// ChatMessage はルーム内チャットの1メッセージを表します
// 配信のみ行い、サーバー側には保存しません（途中参加者は履歴を受け取れない）
type ChatMessage struct {
	Id         string `json:"id"`         // 送信時に採番するID（ULID）
	SenderId   string `json:"senderId"`   // 送信者のユーザーID
	SenderName string `json:"senderName"` // 送信者の表示名
	Message    string `json:"message"`    // 本文
	Timestamp  int64  `json:"timestamp"`  // 送信日時（Unixミリ秒）
	Type       string `json:"type"`       // メッセージ種別（現状 "text" のみ）
}
