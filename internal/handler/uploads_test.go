package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"mathsnap-api/internal/store"
)

func newUploadsHandler(t *testing.T) *Handler {
	t.Helper()
	h, _ := newTestHandler(t, upstreamText("unused"))
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "uploads.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	h.SetUploadStore(s)
	return h
}

func TestUploadsLifecycle(t *testing.T) {
	h := newUploadsHandler(t)

	// Create.
	body := `{"userId":"u1","bucket":"math-images","storageKey":"u1/q.jpg","originalName":"q.jpg","mimeType":"image/jpeg","sizeBytes":1234}`
	rec := httptest.NewRecorder()
	h.HandleUploads(rec, httptest.NewRequest(http.MethodPost, "/v1/uploads", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	var created store.Upload
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.ID == 0 {
		t.Fatal("id not assigned")
	}

	// List.
	rec = httptest.NewRecorder()
	h.HandleUploads(rec, httptest.NewRequest(http.MethodGet, "/v1/uploads?userId=u1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status=%d", rec.Code)
	}
	var listed struct {
		Uploads []store.Upload `json:"uploads"`
	}
	json.Unmarshal(rec.Body.Bytes(), &listed)
	if len(listed.Uploads) != 1 || listed.Uploads[0].StorageKey != "u1/q.jpg" {
		t.Fatalf("listed=%v", listed.Uploads)
	}

	// Delete.
	rec = httptest.NewRecorder()
	h.HandleUploads(rec, httptest.NewRequest(http.MethodDelete, "/v1/uploads/1?userId=u1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.HandleUploads(rec, httptest.NewRequest(http.MethodGet, "/v1/uploads?userId=u1", nil))
	json.Unmarshal(rec.Body.Bytes(), &listed)
	if len(listed.Uploads) != 0 {
		t.Fatalf("uploads remain after delete: %v", listed.Uploads)
	}
}

func TestUploadsRequireUser(t *testing.T) {
	h := newUploadsHandler(t)

	rec := httptest.NewRecorder()
	h.HandleUploads(rec, httptest.NewRequest(http.MethodPost, "/v1/uploads",
		strings.NewReader(`{"bucket":"math-images","storageKey":"k"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("create status=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.HandleUploads(rec, httptest.NewRequest(http.MethodGet, "/v1/uploads", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("list status=%d", rec.Code)
	}
}

func TestUploadsDeleteNotFound(t *testing.T) {
	h := newUploadsHandler(t)

	rec := httptest.NewRecorder()
	h.HandleUploads(rec, httptest.NewRequest(http.MethodDelete, "/v1/uploads/99?userId=u1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestUploadsWithoutStore(t *testing.T) {
	h, _ := newTestHandler(t, upstreamText("unused"))

	rec := httptest.NewRecorder()
	h.HandleUploads(rec, httptest.NewRequest(http.MethodGet, "/v1/uploads?userId=u1", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
}
