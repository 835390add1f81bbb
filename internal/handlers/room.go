package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"liveclass-api/internal/service"
)

// RoomHandler はルームの管理系REST APIを処理します
// ライブ中の状態変更が必要な操作（強制終了）はハブにも反映します
type RoomHandler struct {
	svc *service.RoomService
	hub *RoomHub
}

func NewRoomHandler(s *service.RoomService, hub *RoomHub) *RoomHandler {
	return &RoomHandler{svc: s, hub: hub}
}

type createRoomRequest struct {
	UserId          string `json:"userId"`
	UserName        string `json:"userName"`
	MaxParticipants int    `json:"maxParticipants"`
}

func (r createRoomRequest) validate() error {
	return validateUserId(r.UserId)
}

type userRequest struct {
	UserId string `json:"userId"`
}

func (r userRequest) validate() error {
	return validateUserId(r.UserId)
}

// Create は新しいルームを作成します。作成者がホストになります
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in createRoomRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.svc.Create(r.Context(), normalizeID(in.UserId), in.MaxParticipants)
	if err != nil {
		log.Printf("Create room error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "roomId": id})
}

// List は全ルームを参加人数つきで返します
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.svc.List(r.Context())
	if err != nil {
		log.Printf("List rooms error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

// Get は1ルームの情報と参加者一覧を返します
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomId := normalizeID(chi.URLParam(r, "roomId"))
	if err := validateRoomId(roomId); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	room, participants, ok, err := h.svc.Get(r.Context(), roomId)
	if err != nil {
		log.Printf("Get room error (roomId=%s): %v", roomId, err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "room not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"room": room, "participants": participants})
}

// Close はルームを強制終了します（ホストのみ実行可能）
// 参加者全員に room-closed を通知してからライブ状態を破棄します
func (h *RoomHandler) Close(w http.ResponseWriter, r *http.Request) {
	roomId := normalizeID(chi.URLParam(r, "roomId"))
	if err := validateRoomId(roomId); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in userRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := in.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.svc.Close(r.Context(), roomId, normalizeID(in.UserId)); err != nil {
		log.Printf("Close room error (roomId=%s, userId=%s): %v", roomId, in.UserId, err)
		h.writeServiceError(w, err)
		return
	}
	h.hub.CloseRoom(roomId)
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Touch はルームのTTLを更新します
func (h *RoomHandler) Touch(w http.ResponseWriter, r *http.Request) {
	roomId := normalizeID(chi.URLParam(r, "roomId"))
	if err := validateRoomId(roomId); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.Touch(r.Context(), roomId); err != nil {
		log.Printf("Touch room error (roomId=%s): %v", roomId, err)
		h.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *RoomHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch err {
	case service.ErrNotRoomHost:
		respondError(w, http.StatusForbidden, err.Error())
	case service.ErrRoomNotFound:
		respondError(w, http.StatusNotFound, err.Error())
	case service.ErrParticipantNotFound:
		respondError(w, http.StatusNotFound, err.Error())
	case service.ErrRoomEnded:
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
