package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass-api/internal/handlers"
	httpx "liveclass-api/internal/http"
	"liveclass-api/internal/models"
	"liveclass-api/internal/repo"
	"liveclass-api/internal/service"
)

// wsMessage はテストで受信するメッセージの形
type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// newTestServer はインメモリストアでサーバー一式を立ち上げます
func newTestServer(t *testing.T, maxParticipants int) *httptest.Server {
	t.Helper()
	svc := service.NewRoomService(
		repo.NewMemoryRoomRepo(),
		repo.NewMemoryRecordingRepo(),
		service.NewRoomIDGenerator(),
		3600,
		maxParticipants,
	)
	hub := handlers.NewRoomHub()
	router := httpx.NewRouter(
		handlers.NewRoomHandler(svc, hub),
		handlers.NewRecordingHandler(svc),
		handlers.NewWebSocketHandler(svc, hub),
		nil,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": msgType, "payload": payload}))
}

func recv(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// recvType は期待するタイプのメッセージを受信してペイロードをdstに詰めます
func recvType(t *testing.T, conn *websocket.Conn, msgType string, dst any) {
	t.Helper()
	msg := recv(t, conn)
	require.Equal(t, msgType, msg.Type)
	if dst != nil {
		require.NoError(t, json.Unmarshal(msg.Payload, dst))
	}
}

// recvNothing は何も届いていないことを確認します
// 読み取りがタイムアウトした接続は以降使えないため、各テストの最後でのみ使うこと
func recvNothing(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var msg wsMessage
	err := conn.ReadJSON(&msg)
	require.Error(t, err, "expected no message, got type=%s", msg.Type)
}

func join(t *testing.T, conn *websocket.Conn, roomId, userId, userName string, isHost bool) handlers.RoomJoinedPayload {
	t.Helper()
	send(t, conn, "join-room", handlers.JoinPayload{RoomId: roomId, UserId: userId, UserName: userName, IsHost: isHost})
	var joined handlers.RoomJoinedPayload
	recvType(t, conn, "room-joined", &joined)
	return joined
}

func getRoom(t *testing.T, srv *httptest.Server, roomId string) (int, models.Room, []models.Participant) {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/v1/rooms/" + roomId)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Room         models.Room          `json:"room"`
		Participants []models.Participant `json:"participants"`
	}
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp.StatusCode, body.Room, body.Participants
}

func TestJoinCreatesRoomAndNotifies(t *testing.T) {
	srv := newTestServer(t, 10)

	host := dial(t, srv)
	joined := join(t, host, "r1", "h1", "Hana", true)
	assert.True(t, joined.IsHost)
	assert.Equal(t, "r1", joined.RoomId)
	require.Len(t, joined.Participants, 1)
	assert.Equal(t, "h1", joined.Participants[0].UserId)

	u2 := dial(t, srv)
	joined2 := join(t, u2, "r1", "u2", "Ken", false)
	assert.Len(t, joined2.Participants, 2)

	var notice handlers.UserJoinedPayload
	recvType(t, host, "user-joined", &notice)
	assert.Equal(t, "u2", notice.UserId)
	assert.Equal(t, "Ken", notice.UserName)
	assert.False(t, notice.IsHost)
	assert.Equal(t, 2, notice.ParticipantCount)

	// スナップショットにも反映されている
	status, room, participants := getRoom(t, srv, "r1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "h1", room.HostId)
	assert.Equal(t, models.RoomStatusLive, room.Status)
	assert.Len(t, participants, 2)
}

func TestPassiveRoomHasNoHost(t *testing.T) {
	srv := newTestServer(t, 10)

	u := dial(t, srv)
	join(t, u, "r1", "u1", "Ken", false)

	status, room, _ := getRoom(t, srv, "r1")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, room.HostId)
}

func TestChatIncludesSender(t *testing.T) {
	srv := newTestServer(t, 10)

	host := dial(t, srv)
	join(t, host, "r1", "h1", "Hana", true)
	u2 := dial(t, srv)
	join(t, u2, "r1", "u2", "Ken", false)
	recvType(t, host, "user-joined", nil)

	send(t, u2, "chat-message", handlers.ChatSendPayload{RoomId: "r1", UserId: "u2", UserName: "Ken", Message: "hello"})

	for _, conn := range []*websocket.Conn{host, u2} {
		var msg models.ChatMessage
		recvType(t, conn, "chat-message", &msg)
		assert.NotEmpty(t, msg.Id)
		assert.Equal(t, "u2", msg.SenderId)
		assert.Equal(t, "Ken", msg.SenderName)
		assert.Equal(t, "hello", msg.Message)
		assert.Equal(t, "text", msg.Type)
		assert.Greater(t, msg.Timestamp, int64(0))
	}
}

func TestStreamUpdateExcludesSender(t *testing.T) {
	srv := newTestServer(t, 10)

	host := dial(t, srv)
	join(t, host, "r1", "h1", "Hana", true)
	a := dial(t, srv)
	join(t, a, "r1", "a", "Aya", false)
	recvType(t, host, "user-joined", nil)
	b := dial(t, srv)
	join(t, b, "r1", "b", "Ben", false)
	recvType(t, host, "user-joined", nil)
	recvType(t, a, "user-joined", nil)

	send(t, a, "stream-update", handlers.StreamUpdatePayload{RoomId: "r1", UserId: "a", IsVideoEnabled: false, IsAudioEnabled: true})
	// 送信者が次に受け取るのはstream-updatedではなくchatであることを確認する
	send(t, a, "chat-message", handlers.ChatSendPayload{RoomId: "r1", UserId: "a", Message: "after"})

	for _, conn := range []*websocket.Conn{host, b} {
		var upd handlers.StreamUpdatePayload
		recvType(t, conn, "stream-updated", &upd)
		assert.Equal(t, "a", upd.UserId)
		assert.False(t, upd.IsVideoEnabled)
		assert.True(t, upd.IsAudioEnabled)
		recvType(t, conn, "chat-message", nil)
	}
	recvType(t, a, "chat-message", nil)

	// メディア状態がスナップショットに反映されている
	_, _, participants := getRoom(t, srv, "r1")
	for _, p := range participants {
		if p.UserId == "a" {
			assert.False(t, p.IsVideoEnabled)
			assert.True(t, p.IsAudioEnabled)
		}
	}
}

func TestOfferRelayAndDrop(t *testing.T) {
	srv := newTestServer(t, 10)

	host := dial(t, srv)
	join(t, host, "r1", "h1", "Hana", true)
	a := dial(t, srv)
	join(t, a, "r1", "a", "Aya", false)
	recvType(t, host, "user-joined", nil)

	// 存在しない相手宛は黙って破棄される
	send(t, a, "offer", handlers.SignalPayload{To: "ghost", Offer: map[string]any{"sdp": "x"}})

	// 実在する相手宛は送信元を付与して届く
	send(t, a, "offer", handlers.SignalPayload{To: "h1", Offer: map[string]any{"sdp": "v=0", "type": "offer"}})
	var offer handlers.SignalPayload
	recvType(t, host, "offer", &offer)
	assert.Equal(t, "a", offer.From)
	assert.NotNil(t, offer.Offer)

	send(t, host, "answer", handlers.SignalPayload{To: "a", Answer: map[string]any{"sdp": "v=0", "type": "answer"}})
	var answer handlers.SignalPayload
	recvType(t, a, "answer", &answer)
	assert.Equal(t, "h1", answer.From)
	assert.NotNil(t, answer.Answer)

	send(t, a, "ice-candidate", handlers.SignalPayload{To: "h1", Candidate: map[string]any{"candidate": "c"}})
	var cand handlers.SignalPayload
	recvType(t, host, "ice-candidate", &cand)
	assert.Equal(t, "a", cand.From)
	assert.NotNil(t, cand.Candidate)

	// 破棄後も接続は生きている
	send(t, a, "ping", nil)
	recvType(t, a, "pong", nil)
}

func TestCapacityRejection(t *testing.T) {
	srv := newTestServer(t, 2)

	host := dial(t, srv)
	join(t, host, "r1", "h1", "Hana", true)
	u2 := dial(t, srv)
	join(t, u2, "r1", "u2", "Ken", false)
	recvType(t, host, "user-joined", nil)

	u3 := dial(t, srv)
	send(t, u3, "join-room", handlers.JoinPayload{RoomId: "r1", UserId: "u3", UserName: "Mio"})
	var rejection handlers.JoinErrorPayload
	recvType(t, u3, "join-error", &rejection)
	assert.Contains(t, rejection.Message, "full")

	// 拒否時は状態を変更しない
	_, _, participants := getRoom(t, srv, "r1")
	assert.Len(t, participants, 2)
}

func TestEndedRoomRejectsJoin(t *testing.T) {
	srv := newTestServer(t, 10)

	host := dial(t, srv)
	join(t, host, "r1", "h1", "Hana", true)

	body, _ := json.Marshal(map[string]string{"userId": "h1"})
	resp, err := http.Post(srv.URL+"/api/v1/rooms/r1/close", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var closed handlers.RoomClosedPayload
	recvType(t, host, "room-closed", &closed)
	assert.Equal(t, "r1", closed.RoomId)

	u2 := dial(t, srv)
	send(t, u2, "join-room", handlers.JoinPayload{RoomId: "r1", UserId: "u2", UserName: "Ken"})
	var rejection handlers.JoinErrorPayload
	recvType(t, u2, "join-error", &rejection)
	assert.Contains(t, rejection.Message, "ended")

	// 強制終了後はレコードが終了済み状態で残り、参加者スナップショットは空になる
	status, room, participants := getRoom(t, srv, "r1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.RoomStatusEnded, room.Status)
	assert.Empty(t, participants)
}

func TestCloseRequiresHost(t *testing.T) {
	srv := newTestServer(t, 10)

	host := dial(t, srv)
	join(t, host, "r1", "h1", "Hana", true)
	u2 := dial(t, srv)
	join(t, u2, "r1", "u2", "Ken", false)
	recvType(t, host, "user-joined", nil)

	body, _ := json.Marshal(map[string]string{"userId": "u2"})
	resp, err := http.Post(srv.URL+"/api/v1/rooms/r1/close", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDisconnectReconciliation(t *testing.T) {
	srv := newTestServer(t, 10)

	host := dial(t, srv)
	join(t, host, "r1", "h1", "Hana", true)
	u2 := dial(t, srv)
	join(t, u2, "r1", "u2", "Ken", false)
	recvType(t, host, "user-joined", nil)

	// 明示的なleaveメッセージなしの切断
	u2.Close()

	var left handlers.UserLeftPayload
	recvType(t, host, "user-left", &left)
	assert.Equal(t, "u2", left.UserId)
	assert.Equal(t, 1, left.ParticipantCount)

	// 最後の1人が切断するとルームごと消える
	host.Close()
	require.Eventually(t, func() bool {
		status, _, _ := getRoom(t, srv, "r1")
		return status == http.StatusNotFound
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPresenceOverwrite(t *testing.T) {
	srv := newTestServer(t, 10)

	host := dial(t, srv)
	join(t, host, "r1", "h1", "Hana", true)

	// 同じuserIdで2回接続。プレゼンスは後勝ち
	oldConn := dial(t, srv)
	join(t, oldConn, "r1", "u2", "Ken", false)
	recvType(t, host, "user-joined", nil)
	newConn := dial(t, srv)
	join(t, newConn, "r1", "u2", "Ken", false)
	recvType(t, host, "user-joined", nil)

	send(t, host, "offer", handlers.SignalPayload{To: "u2", Offer: map[string]any{"sdp": "x"}})
	recvType(t, newConn, "offer", nil)

	// 古い接続の切断は新しいプレゼンスに影響しない
	oldConn.Close()
	time.Sleep(100 * time.Millisecond)
	send(t, host, "offer", handlers.SignalPayload{To: "u2", Offer: map[string]any{"sdp": "y"}})
	recvType(t, newConn, "offer", nil)

	_, _, participants := getRoom(t, srv, "r1")
	assert.Len(t, participants, 2)
}

func TestRejoinSameRoomKeepsSingleEntry(t *testing.T) {
	srv := newTestServer(t, 10)

	conn := dial(t, srv)
	join(t, conn, "r1", "u1", "Ken", false)
	join(t, conn, "r1", "u1", "Ken", false)

	_, _, participants := getRoom(t, srv, "r1")
	assert.Len(t, participants, 1)
}

func TestModerationIsHostOnlyAndDirected(t *testing.T) {
	srv := newTestServer(t, 10)

	host := dial(t, srv)
	join(t, host, "r1", "h1", "Hana", true)
	a := dial(t, srv)
	join(t, a, "r1", "a", "Aya", false)
	recvType(t, host, "user-joined", nil)
	b := dial(t, srv)
	join(t, b, "r1", "b", "Ben", false)
	recvType(t, host, "user-joined", nil)
	recvType(t, a, "user-joined", nil)

	// ホスト以外のモデレーション操作は無視される
	send(t, a, "mute-user", handlers.MuteUserPayload{RoomId: "r1", TargetUserId: "h1", Muted: true})

	// ホストのミュートは対象者にのみ届く
	send(t, host, "mute-user", handlers.MuteUserPayload{RoomId: "r1", TargetUserId: "a", Muted: true})
	var muted handlers.UserMutedPayload
	recvType(t, a, "user-muted", &muted)
	assert.True(t, muted.Muted)

	// ホストの強制退出も対象者にのみ届く
	send(t, host, "remove-user", handlers.RemoveUserPayload{RoomId: "r1", TargetUserId: "a"})
	var removed handlers.UserRemovedPayload
	recvType(t, a, "user-removed", &removed)
	assert.NotEmpty(t, removed.Reason)

	// bとhostには何も配信されていないことをchatの順序で確認する
	send(t, host, "chat-message", handlers.ChatSendPayload{RoomId: "r1", UserId: "h1", Message: "after"})
	recvType(t, b, "chat-message", nil)
	recvType(t, host, "chat-message", nil)
}

func TestRecordingBroadcastIncludesSender(t *testing.T) {
	srv := newTestServer(t, 10)

	host := dial(t, srv)
	join(t, host, "r1", "h1", "Hana", true)
	u2 := dial(t, srv)
	join(t, u2, "r1", "u2", "Ken", false)
	recvType(t, host, "user-joined", nil)

	send(t, host, "start-recording", handlers.RecordingPayload{RoomId: "r1", UserId: "h1"})
	for _, conn := range []*websocket.Conn{host, u2} {
		var started handlers.RecordingStartedPayload
		recvType(t, conn, "recording-started", &started)
		assert.Equal(t, "h1", started.StartedBy)
	}

	send(t, host, "stop-recording", handlers.RecordingPayload{RoomId: "r1", UserId: "h1"})
	for _, conn := range []*websocket.Conn{host, u2} {
		var stopped handlers.RecordingStoppedPayload
		recvType(t, conn, "recording-stopped", &stopped)
		assert.Equal(t, "h1", stopped.StoppedBy)
	}
}

func TestScreenShareExcludesSender(t *testing.T) {
	srv := newTestServer(t, 10)

	host := dial(t, srv)
	join(t, host, "r1", "h1", "Hana", true)
	a := dial(t, srv)
	join(t, a, "r1", "a", "Aya", false)
	recvType(t, host, "user-joined", nil)

	send(t, a, "screen-share-start", handlers.ScreenSharePayload{RoomId: "r1", UserId: "a"})
	var started handlers.ScreenSharePayload
	recvType(t, host, "screen-share-started", &started)
	assert.Equal(t, "a", started.UserId)

	send(t, a, "screen-share-stop", handlers.ScreenSharePayload{RoomId: "r1", UserId: "a"})
	recvType(t, host, "screen-share-stopped", nil)

	// 送信者には届いていない
	recvNothing(t, a)
}

func TestListRooms(t *testing.T) {
	srv := newTestServer(t, 10)

	host := dial(t, srv)
	join(t, host, "r1", "h1", "Hana", true)
	u := dial(t, srv)
	join(t, u, "r2", "u1", "Ken", false)

	resp, err := http.Get(srv.URL + "/api/v1/rooms/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Rooms []service.RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Rooms, 2)
	for _, info := range body.Rooms {
		assert.Equal(t, 1, info.ParticipantCount, fmt.Sprintf("roomId=%s", info.Room.RoomId))
	}
}
