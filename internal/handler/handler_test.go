package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mathsnap-api/internal/config"
	"mathsnap-api/internal/resultcache"
)

// tinyPNG is a 1x1 image, base64-encoded. The fake upstream never looks
// at the bytes; it only has to survive the inline size check.
const tinyPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

func newTestHandler(t *testing.T, upstream http.HandlerFunc) (*Handler, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		GeminiAPIKey:  "test-key",
		GeminiBaseURL: srv.URL,
	}
	config.ApplyDefaults(cfg)
	cfg.GeminiAPIKey = "test-key"
	cfg.RetryBaseDelayMS = 1
	cfg.HeartbeatIntervalMS = 20

	return New(cfg), srv
}

func upstreamText(text string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"candidates": []map[string]interface{}{
				{
					"content":      map[string]interface{}{"parts": []map[string]string{{"text": text}}},
					"finishReason": "STOP",
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestSolveReturnsEnvelope(t *testing.T) {
	h, _ := newTestHandler(t, upstreamText(`{"answer":"x = 4","explanation":"移項して整理します。","steps":["2x = 8","x = 4"]}`))

	body := `{"imageBase64":"` + tinyPNG + `","mimeType":"image/png","locale":"ja"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/solve", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleSolve(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := envelope["candidates"]; !ok {
		t.Fatal("raw candidates missing from envelope")
	}
	annotation, ok := envelope["analysis"].(map[string]interface{})
	if !ok {
		t.Fatalf("analysis missing: %v", envelope)
	}
	if annotation["answer"] != "x = 4" {
		t.Fatalf("answer=%v", annotation["answer"])
	}
	if annotation["usedModel"] != "gemini-2.5-flash" {
		t.Fatalf("usedModel=%v", annotation["usedModel"])
	}
	steps, _ := annotation["steps"].([]interface{})
	if len(steps) != 2 {
		t.Fatalf("steps=%v", annotation["steps"])
	}
	if annotation["candidatesCount"] != float64(1) {
		t.Fatalf("candidatesCount=%v", annotation["candidatesCount"])
	}
}

func TestSolveMissingImage(t *testing.T) {
	h, _ := newTestHandler(t, upstreamText("unused"))

	req := httptest.NewRequest(http.MethodPost, "/v1/solve", strings.NewReader(`{"locale":"ja"}`))
	rec := httptest.NewRecorder()
	h.HandleSolve(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
	if got := rec.Header().Get("x-error"); !strings.Contains(got, "required") {
		t.Fatalf("x-error=%q", got)
	}
}

func TestSolveMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, upstreamText("unused"))

	req := httptest.NewRequest(http.MethodGet, "/v1/solve", nil)
	rec := httptest.NewRecorder()
	h.HandleSolve(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestSolveUpstreamErrorMapsTo500(t *testing.T) {
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("malformed request"))
	})

	body := `{"imageBase64":"` + tinyPNG + `","mimeType":"image/png"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/solve", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleSolve(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
	if rec.Header().Get("x-error") == "" {
		t.Fatal("x-error header missing")
	}
}

func TestSummarize(t *testing.T) {
	h, _ := newTestHandler(t, upstreamText("短い要約です。"))

	req := httptest.NewRequest(http.MethodPost, "/v1/summarize", strings.NewReader(`{"text":"長い文章","locale":"ja"}`))
	rec := httptest.NewRecorder()
	h.HandleSummarize(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["summary"] != "短い要約です。" {
		t.Fatalf("summary=%q", resp["summary"])
	}
}

func TestSummarizeRequiresText(t *testing.T) {
	h, _ := newTestHandler(t, upstreamText("unused"))

	req := httptest.NewRequest(http.MethodPost, "/v1/summarize", strings.NewReader(`{"text":"  "}`))
	rec := httptest.NewRecorder()
	h.HandleSummarize(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestSummarizeTrimsLongInput(t *testing.T) {
	var gotLen int
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotLen = len(req.Contents[0].Parts[0].Text)
		upstreamText("ok")(w, r)
	})

	long := strings.Repeat("a", maxSummaryInput+5000)
	req := httptest.NewRequest(http.MethodPost, "/v1/summarize", strings.NewReader(`{"text":"`+long+`"}`))
	rec := httptest.NewRecorder()
	h.HandleSummarize(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	// Prompt prefix rides along, so just check the oversize tail is gone.
	if gotLen > maxSummaryInput+500 {
		t.Fatalf("upstream text length=%d", gotLen)
	}
}

func TestSummarizeUsesCache(t *testing.T) {
	calls := 0
	h, _ := newTestHandler(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		upstreamText("cached summary")(w, r)
	})
	h.SetResultCache(resultcache.NewMemoryCache(16, 0))

	body := `{"text":"same input","locale":"ja"}`
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/summarize", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.HandleSummarize(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d", rec.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("upstream calls=%d want=1", calls)
	}
}

func TestHealthReportsCacheCounters(t *testing.T) {
	h, _ := newTestHandler(t, upstreamText("cached summary"))
	stats := resultcache.NewStats()
	h.SetResultStats(stats)
	h.SetResultCache(resultcache.NewInstrumentedCache(resultcache.NewMemoryCache(16, 0), stats, "result"))

	// First call misses the cache, second hits it.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/summarize", strings.NewReader(`{"text":"same input"}`))
		h.HandleSummarize(httptest.NewRecorder(), req)
	}

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("status=%v", resp["status"])
	}
	if resp["cacheHits"] != float64(1) || resp["cacheMisses"] != float64(1) {
		t.Fatalf("hits=%v misses=%v", resp["cacheHits"], resp["cacheMisses"])
	}
}

func TestTranscribeRequiresAudio(t *testing.T) {
	h, _ := newTestHandler(t, upstreamText("unused"))

	req := httptest.NewRequest(http.MethodPost, "/v1/transcribe", strings.NewReader(`{"locale":"ja"}`))
	rec := httptest.NewRecorder()
	h.HandleTranscribe(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestTranscribeInlineAudio(t *testing.T) {
	h, _ := newTestHandler(t, upstreamText("こんにちは、テストです。"))

	req := httptest.NewRequest(http.MethodPost, "/v1/transcribe",
		strings.NewReader(`{"audioBase64":"aGVsbG8=","mimeType":"audio/mp4","locale":"ja"}`))
	rec := httptest.NewRecorder()
	h.HandleTranscribe(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["transcript"] != "こんにちは、テストです。" {
		t.Fatalf("transcript=%q", resp["transcript"])
	}
	if resp["model"] != "gemini-2.5-flash" {
		t.Fatalf("model=%q", resp["model"])
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		msg  string
		want int
	}{
		{"imageUrl or imageBase64 is required", http.StatusBadRequest},
		{"image too large (6 MB). please try a smaller image.", http.StatusBadRequest},
		{"method not allowed", http.StatusMethodNotAllowed},
		{"timeout after 12000ms", http.StatusGatewayTimeout},
		{"deadline too short (remain 100ms)", http.StatusGatewayTimeout},
		{"gemini error: 500 boom", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForError(tc.msg); got != tc.want {
			t.Fatalf("statusForError(%q)=%d want=%d", tc.msg, got, tc.want)
		}
	}
}
