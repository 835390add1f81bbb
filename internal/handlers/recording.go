package handlers

import (
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"liveclass-api/internal/service"
)

// RecordingHandler は授業録画のアップロード/取得を処理します
type RecordingHandler struct {
	svc *service.RoomService
}

func NewRecordingHandler(svc *service.RoomService) *RecordingHandler {
	return &RecordingHandler{svc: svc}
}

// Upload は multipart/form-data の file を受け取って保存します
func (h *RecordingHandler) Upload(w http.ResponseWriter, r *http.Request) {
	roomId := normalizeID(r.FormValue("roomId"))
	startedBy := normalizeID(r.FormValue("startedBy"))

	if roomId == "" || startedBy == "" {
		respondError(w, http.StatusBadRequest, "roomId and startedBy are required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		log.Printf("upload recording: failed to read file: %v", err)
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		log.Printf("upload recording: failed to read file body: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	if err := h.svc.SaveRecording(r.Context(), roomId, data, startedBy); err != nil {
		log.Printf("upload recording: save error roomId=%s err=%v", roomId, err)
		respondError(w, http.StatusInternalServerError, "failed to save recording")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Get は保存した録画を返します
func (h *RecordingHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomId := normalizeID(chi.URLParam(r, "roomId"))
	if roomId == "" {
		respondError(w, http.StatusBadRequest, "roomId is required")
		return
	}

	data, startedBy, err := h.svc.GetRecording(r.Context(), roomId)
	if err != nil {
		log.Printf("get recording: failed roomId=%s err=%v", roomId, err)
		respondError(w, http.StatusNotFound, "recording not found")
		return
	}

	// 開始者はヘッダーで渡す（必要に応じて変更可）
	if startedBy != "" {
		w.Header().Set("X-Recording-Started-By", startedBy)
	}
	w.Header().Set("Content-Type", "video/webm")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
