// Package handler implements the HTTP endpoints: the solve stream, the
// non-streaming solve/transcribe/summarize calls, and upload metadata.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mathsnap-api/internal/answer"
	"mathsnap-api/internal/config"
	"mathsnap-api/internal/debug"
	"mathsnap-api/internal/gemini"
	"mathsnap-api/internal/metrics"
	"mathsnap-api/internal/middleware"
	"mathsnap-api/internal/resultcache"
	"mathsnap-api/internal/store"
)

// maxSummaryInput bounds the text sent upstream; longer transcripts are
// trimmed, not rejected.
const maxSummaryInput = 16000

// xErrorLimit caps the x-error header so proxies don't drop the response.
const xErrorLimit = 256

type Handler struct {
	config      *config.Config
	client      *gemini.Client
	resultCache resultcache.Cache
	resultStats *resultcache.Stats
	uploads     store.UploadStore
	cacheLog    bool
}

func New(cfg *config.Config) *Handler {
	return &Handler{
		config:   cfg,
		client:   gemini.New(cfg),
		cacheLog: cfg.ResultCacheLog,
	}
}

func (h *Handler) SetResultCache(cache resultcache.Cache) {
	h.resultCache = cache
}

func (h *Handler) SetResultStats(stats *resultcache.Stats) {
	h.resultStats = stats
}

func (h *Handler) SetUploadStore(s store.UploadStore) {
	h.uploads = s
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// statusForError maps an error message onto the HTTP taxonomy: missing
// input is the caller's fault, timeouts are 504, the rest is 500.
func statusForError(msg string) int {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "required") || strings.Contains(lower, "too large") || strings.Contains(lower, "invalid base64"):
		return http.StatusBadRequest
	case strings.Contains(lower, "method"):
		return http.StatusMethodNotAllowed
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError emits the JSON error body plus the truncated x-error header
// that native clients read when they can't reach the body.
func writeError(w http.ResponseWriter, err error) {
	msg := err.Error()
	status := statusForError(msg)

	headerMsg := msg
	if len(headerMsg) > xErrorLimit {
		headerMsg = headerMsg[:xErrorLimit]
	}
	headerMsg = strings.Map(func(r rune) rune {
		if r < 32 || r > 126 {
			return ' '
		}
		return r
	}, headerMsg)
	w.Header().Set("x-error", headerMsg)

	metrics.ErrorsTotal.WithLabelValues(errorType(status)).Inc()
	writeJSON(w, status, map[string]string{"error": msg})
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusGatewayTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodPost {
		return true
	}
	writeError(w, errMethodNotAllowed)
	return false
}

type apiError string

func (e apiError) Error() string { return string(e) }

const (
	errMethodNotAllowed apiError = "method not allowed"
	errBadJSON          apiError = "request body must be valid JSON (required)"
)

type solveRequest struct {
	ImageURL    string `json:"imageUrl"`
	ImageBase64 string `json:"imageBase64"`
	MimeType    string `json:"mimeType"`
	Locale      string `json:"locale"`
}

// resolveImage prefers inline base64 and falls back to fetching the URL.
func (h *Handler) resolveImage(ctx context.Context, req solveRequest) (*gemini.Media, error) {
	if strings.TrimSpace(req.ImageBase64) != "" {
		tooLarge := "image too large (" + strconv.Itoa(h.config.MaxImageBytes/1_000_000) + " MB). please try a smaller image."
		return gemini.InlineMedia(req.ImageBase64, req.MimeType, "image/jpeg", h.config.MaxImageBytes, tooLarge)
	}
	if strings.TrimSpace(req.ImageURL) != "" {
		return h.client.FetchImage(ctx, req.ImageURL)
	}
	return nil, apiError("imageUrl or imageBase64 is required")
}

// HandleSolve is the non-streaming variant of the solve stream: same
// upstream call and envelope, delivered as one JSON document.
func (h *Handler) HandleSolve(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	logger := middleware.LogWithTrace(r.Context())

	var req solveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadJSON)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(h.config.SolveDeadlineMS)*time.Millisecond)
	defer cancel()

	media, err := h.resolveImage(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}

	upstreamReq := gemini.SolveRequest(req.Locale, media.MimeType, media.Base64)
	result, err := h.client.GenerateWithFallback(ctx, upstreamReq)
	if err != nil && gemini.IsRetriable(err) && ctx.Err() == nil {
		// Transient upstream failures get one more shot within the
		// request deadline.
		result, err = h.client.GenerateWithFallback(ctx, upstreamReq)
	}
	if err != nil {
		logger.Error("solve failed", "error", err)
		writeError(w, err)
		return
	}

	envelope := buildEnvelope(result)
	logger.Info("solve completed", "used_model", result.UsedModel, "candidates", len(result.Response.Candidates))
	writeJSON(w, http.StatusOK, envelope)
}

// buildEnvelope merges the raw upstream reply with the normalized
// analysis annotation. The raw fields stay untouched so clients that
// traverse candidates themselves keep working.
func buildEnvelope(result *gemini.Result) map[string]interface{} {
	envelope := map[string]interface{}{}
	if err := json.Unmarshal(result.Raw, &envelope); err != nil {
		envelope = map[string]interface{}{}
	}

	normalized := answer.Normalize(result.Response)
	annotation := map[string]interface{}{
		"answer":         normalized.Answer,
		"explanation":    normalized.Explanation,
		"steps":          normalized.Steps,
		"candidatesCount": normalized.CandidatesCount,
		"usedModel":      result.UsedModel,
	}
	if normalized.FinishReason != "" {
		annotation["finishReason"] = normalized.FinishReason
	}
	if len(normalized.PromptFeedback) > 0 {
		annotation["promptFeedback"] = json.RawMessage(normalized.PromptFeedback)
	}
	envelope["analysis"] = annotation
	return envelope
}

type transcribeRequest struct {
	AudioURL    string `json:"audioUrl"`
	AudioBase64 string `json:"audioBase64"`
	MimeType    string `json:"mimeType"`
	Locale      string `json:"locale"`
}

func (h *Handler) HandleTranscribe(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	logger := middleware.LogWithTrace(r.Context())

	var req transcribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadJSON)
		return
	}

	var media *gemini.Media
	var err error
	switch {
	case strings.TrimSpace(req.AudioBase64) != "":
		tooLarge := "audio too large (" + strconv.Itoa(h.config.MaxAudioBytes/1_000_000) + " MB). please try a shorter recording."
		media, err = gemini.InlineMedia(req.AudioBase64, req.MimeType, "audio/mp4", h.config.MaxAudioBytes, tooLarge)
	case strings.TrimSpace(req.AudioURL) != "":
		media, err = h.client.FetchAudio(r.Context(), req.AudioURL)
	default:
		err = apiError("audioUrl or audioBase64 is required")
	}
	if err != nil {
		writeError(w, err)
		return
	}

	cacheKey := resultcache.Key("transcript", req.Locale, media.Base64)
	if entry, ok := h.cacheGet(cacheKey); ok {
		if h.cacheLog {
			logger.Info("transcribe cache hit", "key", cacheKey[:12])
		}
		writeJSON(w, http.StatusOK, map[string]string{"transcript": entry.Text, "model": entry.Model})
		return
	}

	deadline := time.Duration(h.config.TranscribeDeadlineMS) * time.Millisecond
	result, err := h.client.GenerateWithRetry(r.Context(), h.config.Model,
		gemini.TranscribeRequest(req.Locale, media.MimeType, media.Base64),
		deadline, h.config.TranscribeMaxAttempts)
	if err != nil {
		logger.Error("transcribe failed", "error", err)
		writeError(w, err)
		return
	}

	transcript := firstCandidateText(result)
	if transcript == "" {
		writeError(w, apiError("transcription produced no text"))
		return
	}

	h.cachePut(cacheKey, resultcache.Entry{Kind: "transcript", Text: transcript, Model: result.UsedModel})
	writeJSON(w, http.StatusOK, map[string]string{"transcript": transcript, "model": result.UsedModel})
}

type summarizeRequest struct {
	Text         string `json:"text"`
	Transcript   string `json:"transcript"` // accepted as an alias for text
	Locale       string `json:"locale"`
	MaxSentences int    `json:"maxSentences"`
}

func (h *Handler) HandleSummarize(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	logger := middleware.LogWithTrace(r.Context())

	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadJSON)
		return
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = strings.TrimSpace(req.Transcript)
	}
	if text == "" {
		writeError(w, apiError("text is required"))
		return
	}
	if len(text) > maxSummaryInput {
		text = text[:maxSummaryInput]
	}
	if req.MaxSentences <= 0 {
		req.MaxSentences = 5
	}
	if req.MaxSentences > 10 {
		req.MaxSentences = 10
	}

	cacheKey := resultcache.Key("summary", req.Locale+"/"+strconv.Itoa(req.MaxSentences), text)
	if entry, ok := h.cacheGet(cacheKey); ok {
		if h.cacheLog {
			logger.Info("summarize cache hit", "key", cacheKey[:12])
		}
		writeJSON(w, http.StatusOK, map[string]string{"summary": entry.Text, "model": entry.Model})
		return
	}

	deadline := time.Duration(h.config.SummarizeDeadlineMS) * time.Millisecond
	result, err := h.client.GenerateWithRetry(r.Context(), h.config.Model,
		gemini.SummarizeRequest(req.Locale, req.MaxSentences, text),
		deadline, h.config.SummarizeMaxAttempts)
	if err != nil {
		logger.Error("summarize failed", "error", err)
		writeError(w, err)
		return
	}

	summary := firstCandidateText(result)
	if summary == "" {
		writeError(w, apiError("summary produced no text"))
		return
	}

	h.cachePut(cacheKey, resultcache.Entry{Kind: "summary", Text: summary, Model: result.UsedModel})
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary, "model": result.UsedModel})
}

// HandleHealth reports liveness plus the result cache counters.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]interface{}{
		"status": "ok",
		"model":  h.config.Model,
	}
	if h.resultStats != nil {
		hits, misses := h.resultStats.Snapshot()
		payload["cacheHits"] = hits
		payload["cacheMisses"] = misses
	}
	writeJSON(w, http.StatusOK, payload)
}

func firstCandidateText(result *gemini.Result) string {
	if result == nil || result.Response == nil || len(result.Response.Candidates) == 0 {
		return ""
	}
	return strings.TrimSpace(gemini.JoinCandidateText(result.Response.Candidates[0]))
}

func (h *Handler) cacheGet(key string) (resultcache.Entry, bool) {
	if h.resultCache == nil {
		return resultcache.Entry{}, false
	}
	return h.resultCache.Get(key)
}

func (h *Handler) cachePut(key string, entry resultcache.Entry) {
	if h.resultCache == nil {
		return
	}
	h.resultCache.Put(key, entry)
}

func (h *Handler) newDebugLogger(label string) *debug.Logger {
	return debug.New(h.config.DebugEnabled, h.config.DebugLogSSE, label)
}
