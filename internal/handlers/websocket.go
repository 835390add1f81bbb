package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liveclass-api/internal/idgen"
	"liveclass-api/internal/models"
	"liveclass-api/internal/service"
)

// RoomHub はライブ中のルームとプレゼンス（ユーザーID→現在の接続）を管理します
// ルーム登録簿とプレゼンスの正の状態はここが持ち、変更はすべて
// 接続のライフサイクルイベント経由で行われます
// スレッドセーフな実装により、複数のgoroutineから同時にアクセス可能です
type RoomHub struct {
	rooms    map[string]*Room   // ルームIDをキーとしたルームのマップ
	presence map[string]*Client // ユーザーIDをキーとした現在の接続（後勝ちで上書き）
	mu       sync.RWMutex       // 読み書きのロック
}

// NewRoomHub は新しいRoomHubを作成します
func NewRoomHub() *RoomHub {
	return &RoomHub{
		rooms:    make(map[string]*Room),
		presence: make(map[string]*Client),
	}
}

// Room は1つのライブ授業ルームのWebSocket接続を管理します
type Room struct {
	roomId    string             // ルームID
	hostId    string             // ホストのユーザーID（ホスト不在で作られた場合は空）
	createdAt time.Time          // ルーム作成日時
	clients   map[string]*Client // ユーザーIDをキーとしたクライアントのマップ
	mu        sync.RWMutex       // clientsとクライアントのメディア状態のロック
}

// Client は1つのWebSocket接続を表します
type Client struct {
	connId   string          // 接続の一意な識別子（接続ごとに採番するULID）
	userId   string          // ユーザーID（join時にクライアントが指定）
	userName string          // 表示名
	isHost   bool            // ホストとして参加しているか
	video    bool            // カメラのオン/オフ（所属ルームのmuで保護）
	audio    bool            // マイクのオン/オフ（所属ルームのmuで保護）
	conn     *websocket.Conn // WebSocket接続
	writeMu  sync.Mutex      // gorillaのConnは並行書き込み不可のため直列化する
	room     *Room           // 所属するルーム（接続のgoroutineのみが読み書きする）
}

// send はクライアントにメッセージを送信します
// 配信はベストエフォートで、失敗してもログを残すだけで呼び出し側には伝播しません
func (c *Client) send(msg WebSocketMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Printf("failed to send message: userId=%s, connId=%s, err=%v", c.userId, c.connId, err)
	}
}

// WebSocketHandler はWebSocket接続を処理するハンドラー
type WebSocketHandler struct {
	svc      *service.RoomService // スナップショット反映と参加可否の判定を担当するサービス
	hub      *RoomHub             // ライブ状態を管理するハブ
	upgrader websocket.Upgrader   // HTTPからWebSocketへのアップグレーダー
}

// NewWebSocketHandler は新しいWebSocketHandlerを作成します
func NewWebSocketHandler(s *service.RoomService, hub *RoomHub) *WebSocketHandler {
	return &WebSocketHandler{
		svc: s,
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 本番環境では適切なOriginチェックを実装してください
				return true
			},
		},
	}
}

// HandleWebSocket はWebSocket接続を処理します
// 接続後、以下の処理を行います:
// 1. HTTPからWebSocketへのアップグレード
// 2. メッセージ受信ループの開始（join-roomを受けて初めてルームに所属する）
// 3. 切断時の自動退出処理とクリーンアップ
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{connId: idgen.NewULID(), conn: conn}
	defer func() {
		// WebSocket切断時にプレゼンスとルームを整合させる
		h.disconnect(client)
		conn.Close()
	}()

	log.Printf("WebSocket connected: connId=%s", client.connId)

	// メッセージ受信ループ
	for {
		var msg WebSocketMessage
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: connId=%s, err=%v", client.connId, err)
			}
			break
		}

		// メッセージタイプに応じて処理
		switch msg.Type {
		case "join-room":
			h.handleJoin(client, msg.Payload)
		case "offer", "answer", "ice-candidate":
			h.handleSignal(client, msg.Type, msg.Payload)
		case "stream-update":
			h.handleStreamUpdate(client, msg.Payload)
		case "screen-share-start":
			h.handleScreenShare(client, msg.Payload, true)
		case "screen-share-stop":
			h.handleScreenShare(client, msg.Payload, false)
		case "chat-message":
			h.handleChat(client, msg.Payload)
		case "mute-user":
			h.handleMuteUser(client, msg.Payload)
		case "remove-user":
			h.handleRemoveUser(client, msg.Payload)
		case "start-recording":
			h.handleRecording(client, msg.Payload, true)
		case "stop-recording":
			h.handleRecording(client, msg.Payload, false)
		case "ping":
			// ping/pongで接続を維持
			client.send(WebSocketMessage{Type: "pong"})
		default:
			log.Printf("Unknown message type: %s", msg.Type)
		}
	}
}

// handleJoin はルーム参加リクエストを処理します
// 処理の流れ:
// 1. ペイロードをパースして検証
// 2. すでに別ルームに参加中なら先に退出する（1接続1ルーム）
// 3. サービス層で参加可否を判定（終了済み・満員なら join-error を返して状態は変更しない）
// 4. ハブに登録してプレゼンスを上書き
// 5. 本人に room-joined、他の参加者に user-joined を通知
func (h *WebSocketHandler) handleJoin(client *Client, payload interface{}) {
	var in JoinPayload
	if err := decodePayload(payload, &in); err != nil {
		log.Printf("Failed to decode join payload: %v", err)
		return
	}

	roomId := normalizeID(in.RoomId)
	userId := normalizeID(in.UserId)
	if validateRoomId(roomId) != nil || validateUserId(userId) != nil {
		client.send(WebSocketMessage{Type: "join-error", Payload: JoinErrorPayload{Message: "roomId and userId are required"}})
		return
	}

	// 1接続が同時に参加できるルームは1つだけ
	if client.room != nil {
		h.leaveRoom(client)
	}

	p := models.Participant{
		UserId:         userId,
		UserName:       in.UserName,
		IsHost:         in.IsHost,
		IsVideoEnabled: true,
		IsAudioEnabled: true,
	}
	record, err := h.svc.Join(context.Background(), roomId, p)
	if err != nil {
		switch err {
		case service.ErrRoomFull, service.ErrRoomEnded:
			client.send(WebSocketMessage{Type: "join-error", Payload: JoinErrorPayload{Message: err.Error()}})
		default:
			log.Printf("Join room error: roomId=%s, userId=%s, err=%v", roomId, userId, err)
			client.send(WebSocketMessage{Type: "join-error", Payload: JoinErrorPayload{Message: "internal error"}})
		}
		return
	}

	client.userId = userId
	client.userName = in.UserName
	client.isHost = in.IsHost
	client.video = true
	client.audio = true

	room := h.hub.joinRoom(roomId, record.HostId, client)
	client.room = room

	// 本人に現在の参加者一覧とホストフラグを返す
	client.send(WebSocketMessage{Type: "room-joined", Payload: RoomJoinedPayload{
		RoomId:       roomId,
		Participants: room.participants(),
		IsHost:       in.IsHost,
	}})

	// 既存の参加者に新しいユーザーの参加を通知
	room.broadcast(WebSocketMessage{Type: "user-joined", Payload: UserJoinedPayload{
		UserId:           userId,
		UserName:         in.UserName,
		IsHost:           in.IsHost,
		ParticipantCount: room.count(),
	}}, userId)

	log.Printf("User joined: roomId=%s, userId=%s, isHost=%t", roomId, userId, in.IsHost)
}

// handleSignal はWebRTCネゴシエーションメッセージ（offer/answer/ice-candidate）を転送します
// プレゼンスで宛先を解決し、送信元のユーザーIDをfromに付与してそのまま渡します
// 宛先が解決できない場合は切断済みとみなして黙って破棄します（送信者への通知はしない）
func (h *WebSocketHandler) handleSignal(client *Client, msgType string, payload interface{}) {
	if client.room == nil {
		log.Printf("Signal before join: connId=%s, type=%s", client.connId, msgType)
		return
	}

	var in SignalPayload
	if err := decodePayload(payload, &in); err != nil {
		log.Printf("Failed to decode %s payload: %v", msgType, err)
		return
	}

	target := h.hub.resolve(normalizeID(in.To))
	if target == nil {
		// 相手はすでに切断しているとみなして破棄
		log.Printf("Signal target not found, dropped: type=%s, to=%s, from=%s", msgType, in.To, client.userId)
		return
	}

	in.To = ""
	in.From = client.userId
	target.send(WebSocketMessage{Type: msgType, Payload: in})
}

// handleStreamUpdate はカメラ・マイク状態の変更を処理します
// 本人確認のうえハブとスナップショットに反映し、送信者以外に通知します
func (h *WebSocketHandler) handleStreamUpdate(client *Client, payload interface{}) {
	room := client.room
	if room == nil {
		return
	}

	var in StreamUpdatePayload
	if err := decodePayload(payload, &in); err != nil {
		log.Printf("Failed to decode stream-update payload: %v", err)
		return
	}

	// userIdの検証
	if normalizeID(in.UserId) != client.userId {
		log.Printf("UserId mismatch: expected %s, got %s", client.userId, in.UserId)
		return
	}

	room.setMediaState(client.userId, in.IsVideoEnabled, in.IsAudioEnabled)
	if err := h.svc.SetMediaState(context.Background(), room.roomId, client.userId, in.IsVideoEnabled, in.IsAudioEnabled); err != nil {
		log.Printf("Failed to update media snapshot: roomId=%s, userId=%s, err=%v", room.roomId, client.userId, err)
	}

	room.broadcast(WebSocketMessage{Type: "stream-updated", Payload: StreamUpdatePayload{
		RoomId:         room.roomId,
		UserId:         client.userId,
		IsVideoEnabled: in.IsVideoEnabled,
		IsAudioEnabled: in.IsAudioEnabled,
	}}, client.userId)
}

// handleScreenShare は画面共有の開始/停止を送信者以外に通知します
func (h *WebSocketHandler) handleScreenShare(client *Client, payload interface{}, start bool) {
	room := client.room
	if room == nil {
		return
	}

	var in ScreenSharePayload
	if err := decodePayload(payload, &in); err != nil {
		log.Printf("Failed to decode screen-share payload: %v", err)
		return
	}
	if normalizeID(in.UserId) != client.userId {
		log.Printf("UserId mismatch: expected %s, got %s", client.userId, in.UserId)
		return
	}

	msgType := "screen-share-stopped"
	if start {
		msgType = "screen-share-started"
	}
	room.broadcast(WebSocketMessage{Type: msgType, Payload: ScreenSharePayload{
		RoomId: room.roomId,
		UserId: client.userId,
	}}, client.userId)
}

// handleChat はチャットメッセージを処理します
// サーバー側でIDとタイムスタンプを採番し、送信者本人を含む全員に配信します
// メッセージは保存しません
func (h *WebSocketHandler) handleChat(client *Client, payload interface{}) {
	room := client.room
	if room == nil {
		return
	}

	var in ChatSendPayload
	if err := decodePayload(payload, &in); err != nil {
		log.Printf("Failed to decode chat payload: %v", err)
		return
	}
	if normalizeID(in.UserId) != client.userId {
		log.Printf("UserId mismatch: expected %s, got %s", client.userId, in.UserId)
		return
	}
	if strings.TrimSpace(in.Message) == "" {
		return
	}

	msg := models.ChatMessage{
		Id:         idgen.NewULID(),
		SenderId:   client.userId,
		SenderName: client.userName,
		Message:    in.Message,
		Timestamp:  time.Now().UnixMilli(),
		Type:       "text",
	}
	room.broadcast(WebSocketMessage{Type: "chat-message", Payload: msg}, "")
}

// handleMuteUser はホストによるミュート操作を処理します
// 通知は対象者本人にのみ送ります（ブロードキャストしない）
func (h *WebSocketHandler) handleMuteUser(client *Client, payload interface{}) {
	room := client.room
	if room == nil {
		return
	}

	var in MuteUserPayload
	if err := decodePayload(payload, &in); err != nil {
		log.Printf("Failed to decode mute-user payload: %v", err)
		return
	}

	// モデレーション操作はホストのみ
	if !client.isHost || room.hostId != client.userId {
		log.Printf("Mute denied, not host: roomId=%s, userId=%s", room.roomId, client.userId)
		return
	}

	if !room.sendTo(normalizeID(in.TargetUserId), WebSocketMessage{Type: "user-muted", Payload: UserMutedPayload{Muted: in.Muted}}) {
		log.Printf("Mute target not in room: roomId=%s, targetUserId=%s", room.roomId, in.TargetUserId)
	}
}

// handleRemoveUser はホストによる強制退出操作を処理します
// 対象者本人に退出通知を送るだけで、切断自体は対象クライアントに任せます
func (h *WebSocketHandler) handleRemoveUser(client *Client, payload interface{}) {
	room := client.room
	if room == nil {
		return
	}

	var in RemoveUserPayload
	if err := decodePayload(payload, &in); err != nil {
		log.Printf("Failed to decode remove-user payload: %v", err)
		return
	}

	if !client.isHost || room.hostId != client.userId {
		log.Printf("Remove denied, not host: roomId=%s, userId=%s", room.roomId, client.userId)
		return
	}

	if !room.sendTo(normalizeID(in.TargetUserId), WebSocketMessage{Type: "user-removed", Payload: UserRemovedPayload{Reason: "removed by host"}}) {
		log.Printf("Remove target not in room: roomId=%s, targetUserId=%s", room.roomId, in.TargetUserId)
	}
}

// handleRecording は録画の開始/停止を送信者本人を含む全員に通知します
func (h *WebSocketHandler) handleRecording(client *Client, payload interface{}, start bool) {
	room := client.room
	if room == nil {
		return
	}

	var in RecordingPayload
	if err := decodePayload(payload, &in); err != nil {
		log.Printf("Failed to decode recording payload: %v", err)
		return
	}
	if normalizeID(in.UserId) != client.userId {
		log.Printf("UserId mismatch: expected %s, got %s", client.userId, in.UserId)
		return
	}

	if start {
		room.broadcast(WebSocketMessage{Type: "recording-started", Payload: RecordingStartedPayload{StartedBy: client.userId}}, "")
	} else {
		room.broadcast(WebSocketMessage{Type: "recording-stopped", Payload: RecordingStoppedPayload{StoppedBy: client.userId}}, "")
	}
	log.Printf("Recording state changed: roomId=%s, userId=%s, started=%t", room.roomId, client.userId, start)
}

// disconnect は切断時の整合処理を行います
// ルーム未参加の接続は何もせずに終了します
func (h *WebSocketHandler) disconnect(client *Client) {
	if client.room == nil {
		log.Printf("WebSocket disconnected: connId=%s", client.connId)
		return
	}
	h.leaveRoom(client)
	log.Printf("WebSocket disconnected: connId=%s, userId=%s", client.connId, client.userId)
}

// leaveRoom はクライアントをルームから退出させます
// 処理の流れ:
// 1. プレゼンスを解除（同じuserIdの新しい接続に上書きされている場合は触らない）
// 2. ルームから削除。空になったらルームごと削除
// 3. スナップショットに反映
// 4. 残りの参加者に user-left を通知（空になった場合は通知先がいない）
func (h *WebSocketHandler) leaveRoom(client *Client) {
	room := client.room
	if room == nil {
		return
	}
	client.room = nil

	h.hub.unregisterPresence(client)

	removed, remaining := room.removeClient(client)
	if !removed {
		// 同じuserIdの別接続に置き換えられている。状態はその接続のもの
		return
	}

	last := remaining == 0
	if last {
		h.hub.deleteRoom(room.roomId)
	}

	if err := h.svc.Leave(context.Background(), room.roomId, client.userId, last); err != nil {
		log.Printf("Failed to update snapshot on leave: roomId=%s, userId=%s, err=%v", room.roomId, client.userId, err)
	}

	if !last {
		room.broadcast(WebSocketMessage{Type: "user-left", Payload: UserLeftPayload{
			UserId:           client.userId,
			ParticipantCount: remaining,
		}}, client.userId)
	}

	log.Printf("User left: roomId=%s, userId=%s, remaining=%d", room.roomId, client.userId, remaining)
}

// joinRoom はルームを取得または作成してクライアントを追加し、プレゼンスを上書きします
// hostIdは新規作成時のみ設定します
func (hub *RoomHub) joinRoom(roomId, hostId string, client *Client) *Room {
	hub.mu.Lock()
	room, exists := hub.rooms[roomId]
	if !exists {
		room = &Room{
			roomId:    roomId,
			hostId:    hostId,
			createdAt: time.Now(),
			clients:   make(map[string]*Client),
		}
		hub.rooms[roomId] = room
	}
	// プレゼンスは後勝ち。古い接続の切断処理はポインタ比較で無効化される
	hub.presence[client.userId] = client
	hub.mu.Unlock()

	room.mu.Lock()
	room.clients[client.userId] = client
	room.mu.Unlock()

	return room
}

// resolve はユーザーIDから現在の接続を返します。見つからない場合はnil
func (hub *RoomHub) resolve(userId string) *Client {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return hub.presence[userId]
}

// unregisterPresence はプレゼンスを解除します
// 同じuserIdで新しい接続が登録済みの場合は何もしません（後勝ちを維持）
func (hub *RoomHub) unregisterPresence(client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	if hub.presence[client.userId] == client {
		delete(hub.presence, client.userId)
	}
}

// deleteRoom はルームを削除します
func (hub *RoomHub) deleteRoom(roomId string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	delete(hub.rooms, roomId)
}

// CloseRoom はルームを強制終了します
// 全員に room-closed を通知してからライブ状態を破棄します
// プレゼンスは各接続の切断時に解除されます
func (hub *RoomHub) CloseRoom(roomId string) {
	hub.mu.Lock()
	room := hub.rooms[roomId]
	delete(hub.rooms, roomId)
	hub.mu.Unlock()

	if room == nil {
		return
	}

	room.broadcast(WebSocketMessage{Type: "room-closed", Payload: RoomClosedPayload{RoomId: roomId}}, "")

	room.mu.Lock()
	room.clients = make(map[string]*Client)
	room.mu.Unlock()

	log.Printf("Room closed: roomId=%s", roomId)
}

// removeClient はクライアントをルームから削除します
// 同じuserIdの別接続に置き換えられている場合は削除しません
// 戻り値: 削除したかどうか、削除後の残り人数
func (room *Room) removeClient(client *Client) (bool, int) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.clients[client.userId] != client {
		return false, len(room.clients)
	}
	delete(room.clients, client.userId)
	return true, len(room.clients)
}

// count は現在の参加人数を返します
func (room *Room) count() int {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.clients)
}

// participants は現在の参加者一覧を返します（userIdでソート）
func (room *Room) participants() []models.Participant {
	room.mu.RLock()
	defer room.mu.RUnlock()
	res := make([]models.Participant, 0, len(room.clients))
	for _, c := range room.clients {
		res = append(res, models.Participant{
			UserId:         c.userId,
			UserName:       c.userName,
			IsHost:         c.isHost,
			IsVideoEnabled: c.video,
			IsAudioEnabled: c.audio,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserId < res[j].UserId })
	return res
}

// setMediaState は参加者のカメラ・マイク状態を更新します
func (room *Room) setMediaState(userId string, video, audio bool) {
	room.mu.Lock()
	defer room.mu.Unlock()
	if c, ok := room.clients[userId]; ok {
		c.video = video
		c.audio = audio
	}
}

// broadcast はルーム内の全クライアントにメッセージを送信します
// excludeUserIdが空でない場合、そのユーザーを除外します
// 参加者が0人の場合は何もしません
func (room *Room) broadcast(msg WebSocketMessage, excludeUserId string) {
	room.mu.RLock()
	defer room.mu.RUnlock()

	for userId, client := range room.clients {
		if excludeUserId != "" && userId == excludeUserId {
			continue
		}
		client.send(msg)
	}
}

// sendTo はルーム内の特定の参加者にのみメッセージを送信します
// 戻り値: 対象がルームにいたかどうか
func (room *Room) sendTo(userId string, msg WebSocketMessage) bool {
	room.mu.RLock()
	client, ok := room.clients[userId]
	room.mu.RUnlock()
	if !ok {
		return false
	}
	client.send(msg)
	return true
}

// decodePayload は動的な型のペイロードを具象型に変換します
func decodePayload(payload interface{}, dst interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
