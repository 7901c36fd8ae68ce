package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"mathsnap-api/internal/middleware"
	"mathsnap-api/internal/store"
)

type uploadRequest struct {
	UserID       string `json:"userId"`
	Bucket       string `json:"bucket"`
	StorageKey   string `json:"storageKey"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	SizeBytes    int64  `json:"sizeBytes"`
}

// HandleUploads routes the upload-metadata collection: POST records a
// row after the client has pushed bytes to storage, GET lists the
// caller's rows, DELETE removes one by id.
func (h *Handler) HandleUploads(w http.ResponseWriter, r *http.Request) {
	if h.uploads == nil {
		writeError(w, apiError("upload store is not configured"))
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.createUpload(w, r)
	case http.MethodGet:
		h.listUploads(w, r)
	case http.MethodDelete:
		h.deleteUpload(w, r)
	default:
		writeError(w, errMethodNotAllowed)
	}
}

func (h *Handler) createUpload(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LogWithTrace(r.Context())

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadJSON)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, apiError("userId is required"))
		return
	}
	if strings.TrimSpace(req.Bucket) == "" || strings.TrimSpace(req.StorageKey) == "" {
		writeError(w, apiError("bucket and storageKey are required"))
		return
	}

	u := &store.Upload{
		UserID:       req.UserID,
		Bucket:       req.Bucket,
		StorageKey:   req.StorageKey,
		OriginalName: req.OriginalName,
		MimeType:     req.MimeType,
		SizeBytes:    req.SizeBytes,
	}
	if err := h.uploads.Insert(r.Context(), u); err != nil {
		logger.Error("upload insert failed", "error", err)
		writeError(w, err)
		return
	}

	logger.Info("upload recorded", "id", u.ID, "bucket", u.Bucket)
	writeJSON(w, http.StatusCreated, u)
}

func queryUserID(r *http.Request) string {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("user"))
	}
	return userID
}

func (h *Handler) listUploads(w http.ResponseWriter, r *http.Request) {
	userID := queryUserID(r)
	if userID == "" {
		writeError(w, apiError("userId is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	uploads, err := h.uploads.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"uploads": uploads})
}

func (h *Handler) deleteUpload(w http.ResponseWriter, r *http.Request) {
	userID := queryUserID(r)
	if userID == "" {
		writeError(w, apiError("userId is required"))
		return
	}

	idStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/uploads"), "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, apiError("upload id is required"))
		return
	}

	ok, err := h.uploads.Delete(r.Context(), id, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		w.Header().Set("x-error", "upload not found")
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "upload not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
