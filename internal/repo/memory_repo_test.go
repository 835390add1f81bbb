package repo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass-api/internal/models"
)

func TestMemoryRepoRoomLifecycle(t *testing.T) {
	mr := NewMemoryRoomRepo()
	ctx := context.Background()

	room := models.Room{RoomId: "r1", HostId: "h1", Status: models.RoomStatusLive, MaxParticipants: 10, CreatedAt: 1}
	require.NoError(t, mr.CreateRoom(ctx, room, 60))
	assert.ErrorIs(t, mr.CreateRoom(ctx, room, 60), ErrRoomExists) // 同じIDでは作成できない

	got, ok, err := mr.GetRoom(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, room, got)

	exists, err := mr.ExistsRoom(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, exists)

	rooms, err := mr.ListRooms(ctx)
	require.NoError(t, err)
	assert.Len(t, rooms, 1)

	require.NoError(t, mr.AddParticipant(ctx, "r1", models.Participant{UserId: "u1"}, 10, 60))

	require.NoError(t, mr.EndRoom(ctx, "r1"))
	got, _, _ = mr.GetRoom(ctx, "r1")
	assert.Equal(t, models.RoomStatusEnded, got.Status)

	// 終了済みルームには参加者スナップショットが残らない
	n, err := mr.CountParticipants(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, mr.DeleteRoom(ctx, "r1"))
	_, ok, err = mr.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRepoParticipants(t *testing.T) {
	mr := NewMemoryRoomRepo()
	ctx := context.Background()

	require.NoError(t, mr.CreateRoom(ctx, models.Room{RoomId: "r1"}, 60))

	p := models.Participant{UserId: "u1", UserName: "Ken", IsVideoEnabled: true, IsAudioEnabled: true}
	require.NoError(t, mr.AddParticipant(ctx, "r1", p, 10, 60))
	require.NoError(t, mr.AddParticipant(ctx, "r1", p, 10, 60)) // 冪等

	n, err := mr.CountParticipants(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, mr.UpdateParticipantMedia(ctx, "r1", "u1", false, true))
	participants, err := mr.ListParticipants(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.False(t, participants[0].IsVideoEnabled)

	assert.ErrorIs(t, mr.UpdateParticipantMedia(ctx, "r1", "ghost", false, false), ErrParticipantNotFound)

	require.NoError(t, mr.RemoveParticipant(ctx, "r1", "u1"))
	require.NoError(t, mr.RemoveParticipant(ctx, "r1", "u1")) // 冪等
	n, _ = mr.CountParticipants(ctx, "r1")
	assert.Equal(t, 0, n)
}

func TestMemoryRepoCapacity(t *testing.T) {
	mr := NewMemoryRoomRepo()
	ctx := context.Background()

	require.NoError(t, mr.CreateRoom(ctx, models.Room{RoomId: "r1", MaxParticipants: 2}, 60))
	require.NoError(t, mr.AddParticipant(ctx, "r1", models.Participant{UserId: "u1"}, 2, 60))
	require.NoError(t, mr.AddParticipant(ctx, "r1", models.Participant{UserId: "u2"}, 2, 60))

	// 満員時は何も書き込まない
	assert.ErrorIs(t, mr.AddParticipant(ctx, "r1", models.Participant{UserId: "u3"}, 2, 60), ErrRoomFull)
	n, err := mr.CountParticipants(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 参加済みユーザーの再joinは定員に達していても通る
	require.NoError(t, mr.AddParticipant(ctx, "r1", models.Participant{UserId: "u2", IsAudioEnabled: true}, 2, 60))
	n, _ = mr.CountParticipants(ctx, "r1")
	assert.Equal(t, 2, n)
}
