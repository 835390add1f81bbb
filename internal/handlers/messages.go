package handlers

import "liveclass-api/internal/models"

// WebSocketMessage はWebSocketで送受信するメッセージの構造
// すべてのメッセージはこの形式でやり取りされます
type WebSocketMessage struct {
	Type    string      `json:"type"`    // メッセージタイプ (例: "join-room", "offer", "chat-message")
	Payload interface{} `json:"payload"` // メッセージのペイロード（型は動的）
}

// JoinPayload はルーム参加リクエストのペイロード
type JoinPayload struct {
	RoomId   string `json:"roomId"`   // 参加するルームのID
	UserId   string `json:"userId"`   // 参加するユーザーのID（クライアントが指定、セッション内で安定）
	UserName string `json:"userName"` // 表示名
	IsHost   bool   `json:"isHost"`   // ホストとして参加するか
}

// RoomJoinedPayload は参加成功時に本人へ返すペイロード
type RoomJoinedPayload struct {
	RoomId       string               `json:"roomId"`
	Participants []models.Participant `json:"participants"` // 本人を含む現在の参加者一覧
	IsHost       bool                 `json:"isHost"`
}

// JoinErrorPayload は参加拒否時に本人へ返すペイロード
// 満員・終了済みルームの場合のみ発生します
type JoinErrorPayload struct {
	Message string `json:"message"` // 拒否理由
}

// UserJoinedPayload は新規参加を他の参加者に通知するペイロード
type UserJoinedPayload struct {
	UserId           string `json:"userId"`
	UserName         string `json:"userName"`
	IsHost           bool   `json:"isHost"`
	ParticipantCount int    `json:"participantCount"` // 参加後の人数
}

// UserLeftPayload は退出を他の参加者に通知するペイロード
type UserLeftPayload struct {
	UserId           string `json:"userId"`
	ParticipantCount int    `json:"participantCount"` // 退出後の人数
}

// SignalPayload はWebRTCネゴシエーション（offer/answer/ICE candidate）のペイロード
// 中身は解釈せずそのまま相手に転送します
type SignalPayload struct {
	To        string      `json:"to,omitempty"`        // 宛先ユーザーID（受信時のみ）
	From      string      `json:"from,omitempty"`      // 送信元ユーザーID（転送時にサーバーが付与）
	Offer     interface{} `json:"offer,omitempty"`     // SDP offer
	Answer    interface{} `json:"answer,omitempty"`    // SDP answer
	Candidate interface{} `json:"candidate,omitempty"` // ICE candidate
}

// StreamUpdatePayload はカメラ・マイク状態変更のペイロード
type StreamUpdatePayload struct {
	RoomId         string `json:"roomId"`
	UserId         string `json:"userId"`
	IsVideoEnabled bool   `json:"isVideoEnabled"`
	IsAudioEnabled bool   `json:"isAudioEnabled"`
}

// ScreenSharePayload は画面共有の開始/停止のペイロード
type ScreenSharePayload struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId"`
}

// ChatSendPayload はチャット送信リクエストのペイロード
// 配信時はmodels.ChatMessageとしてID・タイムスタンプを採番して全員に送ります
type ChatSendPayload struct {
	RoomId   string `json:"roomId"`
	UserId   string `json:"userId"`
	UserName string `json:"userName"`
	Message  string `json:"message"`
}

// MuteUserPayload はホストによるミュート操作のペイロード
type MuteUserPayload struct {
	RoomId       string `json:"roomId"`
	TargetUserId string `json:"targetUserId"` // 対象ユーザーのID
	Muted        bool   `json:"muted"`        // ミュート状態（true: ミュート、false: 解除）
}

// UserMutedPayload は対象者本人にのみ送るミュート通知
type UserMutedPayload struct {
	Muted bool `json:"muted"`
}

// RemoveUserPayload はホストによる退出操作のペイロード
type RemoveUserPayload struct {
	RoomId       string `json:"roomId"`
	TargetUserId string `json:"targetUserId"` // 対象ユーザーのID
}

// UserRemovedPayload は対象者本人にのみ送る退出通知
type UserRemovedPayload struct {
	Reason string `json:"reason"`
}

// RecordingPayload は録画の開始/停止リクエストのペイロード
type RecordingPayload struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId"`
}

// RecordingStartedPayload は録画開始をルーム全員に通知するペイロード
type RecordingStartedPayload struct {
	StartedBy string `json:"startedBy"` // 開始したユーザーのID
}

// RecordingStoppedPayload は録画停止をルーム全員に通知するペイロード
type RecordingStoppedPayload struct {
	StoppedBy string `json:"stoppedBy"` // 停止したユーザーのID
}

// RoomClosedPayload はルーム終了をルーム全員に通知するペイロード
type RoomClosedPayload struct {
	RoomId string `json:"roomId"`
}
