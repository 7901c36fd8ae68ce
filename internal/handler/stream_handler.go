package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"mathsnap-api/internal/debug"
	"mathsnap-api/internal/gemini"
	"mathsnap-api/internal/metrics"
	"mathsnap-api/internal/middleware"
	"mathsnap-api/internal/sse"
)

// HandleSolveStream wraps the single vision call in an SSE stream. The
// padding and heartbeat frames exist purely to keep proxies and mobile
// HTTP stacks from buffering or dropping the connection while the model
// thinks; the answer still arrives as one envelope frame.
func (h *Handler) HandleSolveStream(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	logger := middleware.LogWithTrace(r.Context())

	var req solveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadJSON)
		return
	}

	dbg := h.newDebugLogger("solve-stream")
	defer dbg.Close()
	if dir := dbg.Dir(); dir != "" {
		logger.Info("request dump enabled", "dir", dir)
	}
	dbg.LogIncomingRequest(map[string]interface{}{
		"imageUrl": req.ImageURL,
		"mimeType": req.MimeType,
		"locale":   req.Locale,
		"inline":   req.ImageBase64 != "",
	})

	stream := sse.NewWriter(w)
	metrics.StreamsActive.Inc()
	defer metrics.StreamsActive.Dec()

	// Padding and the open frame must go out before any slow work so the
	// client sees bytes immediately.
	if err := stream.Padding(); err != nil {
		logger.Warn("stream closed before padding", "error", err)
		return
	}
	if err := stream.Event("open", map[string]string{"status": "starting"}); err != nil {
		return
	}
	dbg.LogOutputSSE("open", `{"status":"starting"}`)

	stopHeartbeat := h.startHeartbeat(stream, dbg)
	defer stopHeartbeat()

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(h.config.StreamDeadlineMS)*time.Millisecond)
	defer cancel()

	start := time.Now()
	media, err := h.resolveImage(ctx, req)
	if err != nil {
		h.emitStreamError(stream, dbg, logger, err)
		return
	}

	upstreamReq := gemini.SolveRequest(req.Locale, media.MimeType, media.Base64)
	dbg.LogUpstreamRequest(h.config.GeminiBaseURL, h.config.Model, upstreamReq)
	result, err := h.client.GenerateWithFallback(ctx, upstreamReq)
	if err != nil {
		h.emitStreamError(stream, dbg, logger, err)
		return
	}
	dbg.LogUpstreamResponse(result.Raw)

	envelope := buildEnvelope(result)
	payload, err := json.Marshal(envelope)
	if err != nil {
		h.emitStreamError(stream, dbg, logger, err)
		return
	}

	// Heartbeats stop before the terminal frames so a comment can never
	// land between the envelope and done.
	stopHeartbeat()

	// The envelope rides an unnamed data frame; only open/done/error
	// carry event names.
	if err := stream.DataRaw(payload); err != nil {
		logger.Warn("client went away before envelope", "error", err)
		return
	}
	dbg.LogOutputSSE("", string(payload))

	if err := stream.Event("done", []string{"complete"}); err != nil {
		return
	}
	dbg.LogOutputSSE("done", `["complete"]`)
	dbg.LogSummary(result.UsedModel, 1, time.Since(start), "ok")

	logger.Info("solve stream completed",
		"used_model", result.UsedModel,
		"duration", time.Since(start),
		"bytes", len(payload),
	)
}

// startHeartbeat emits ":hb" comments until the returned stop function
// runs. Stopping twice is safe; the terminal path and the deferred
// cleanup both call it.
func (h *Handler) startHeartbeat(stream *sse.Writer, dbg *debug.Logger) func() {
	interval := time.Duration(h.config.HeartbeatIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := stream.Comment("hb"); err != nil {
					return
				}
				dbg.LogOutputSSE("", ":hb")
			case <-stop:
				return
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(stop)
		<-done
	}
}

// emitStreamError reports a failure in-band. The HTTP status is already
// 200 by the time anything goes wrong, so the error frame is the only
// channel left.
func (h *Handler) emitStreamError(stream *sse.Writer, dbg *debug.Logger, logger *slog.Logger, err error) {
	logger.Error("solve stream failed", "error", err)
	metrics.ErrorsTotal.WithLabelValues("stream").Inc()

	payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return
	}
	if writeErr := stream.EventRaw("error", payload); writeErr != nil {
		return
	}
	dbg.LogOutputSSE("error", string(payload))
}
