package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseBody(frames ...string) string {
	return strings.Join(frames, "\n\n") + "\n\n"
}

func TestSolveStreamReadsAnnotation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/solve/stream" {
			t.Fatalf("path=%q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key123" {
			t.Fatalf("auth=%q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.Write([]byte(sseBody(
			"event: open\ndata: {\"status\":\"starting\"}",
			":hb",
			`data: {"candidates":[{"content":{"parts":[{"text":"raw"}]}}],"analysis":{"answer":"x = 3","explanation":"両辺を2で割る","steps":["2x = 6","x = 3"],"usedModel":"gemini-2.5-flash"}}`,
			"event: done\ndata: [\"complete\"]",
		)))
	}))
	defer srv.Close()

	c := New(srv.URL, "key123")
	res, err := c.SolveStream(context.Background(), SolveInput{ImageBase64: "aGk=", MimeType: "image/png"})
	if err != nil {
		t.Fatalf("SolveStream: %v", err)
	}
	if res.Answer != "x = 3" {
		t.Fatalf("answer=%q", res.Answer)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("steps=%v", res.Steps)
	}
	if res.UsedModel != "gemini-2.5-flash" {
		t.Fatalf("usedModel=%q", res.UsedModel)
	}
	if res.Synthesized {
		t.Fatal("annotation result must not be marked synthesized")
	}
}

func TestSolveStreamSynthesizesFromText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sseBody(
			`data: {"candidates":[{"content":{"parts":[{"text":"途中経過のみ"}]}}]}`,
			"event: done\ndata: [\"complete\"]",
		)))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	res, err := c.SolveStream(context.Background(), SolveInput{ImageURL: "http://example/img.png"})
	if err != nil {
		t.Fatalf("SolveStream: %v", err)
	}
	if !res.Synthesized {
		t.Fatal("expected synthesized result")
	}
	if res.Answer != "" || res.Explanation != "途中経過のみ" {
		t.Fatalf("res=%+v", res)
	}
}

func TestSolveStreamProbesEmbeddedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sseBody(
			`data: {"candidates":[{"content":{"parts":[{"text":"{\"answer\":\"y = 5\",\"explanation\":\"代入します。\",\"steps\":[]}"}]}}]}`,
			"event: done\ndata: [\"complete\"]",
		)))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	res, err := c.SolveStream(context.Background(), SolveInput{ImageURL: "http://example/img.png"})
	if err != nil {
		t.Fatalf("SolveStream: %v", err)
	}
	if res.Answer != "y = 5" {
		t.Fatalf("answer=%q", res.Answer)
	}
	if !res.Synthesized {
		t.Fatal("embedded-JSON result should be marked synthesized")
	}
}

func TestSolveStreamRawJSONFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"JSONのみの返答"}]}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	res, err := c.SolveStream(context.Background(), SolveInput{ImageURL: "http://example/img.png"})
	if err != nil {
		t.Fatalf("SolveStream: %v", err)
	}
	if res.Explanation != "JSONのみの返答" {
		t.Fatalf("explanation=%q", res.Explanation)
	}
}

func TestSolveStreamErrorFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sseBody("event: error\ndata: {\"error\":\"gemini error: 500 boom\"}")))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.SolveStream(context.Background(), SolveInput{ImageURL: "http://example/img.png"})
	if err == nil || !strings.Contains(err.Error(), "gemini error: 500") {
		t.Fatalf("err=%v", err)
	}
}

func TestSolveStreamNoUsableContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sseBody(
			`data: {"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`,
		)))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.SolveStream(context.Background(), SolveInput{ImageURL: "http://example/img.png"})
	if err == nil {
		t.Fatal("want error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "events=1") || !strings.Contains(msg, "blockReason=SAFETY") {
		t.Fatalf("err=%q", msg)
	}
	if !strings.Contains(msg, "payload=") {
		t.Fatalf("payload preview missing: %q", msg)
	}
}

func TestSolveStreamRawBodyNoContentKeepsPreview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.SolveStream(context.Background(), SolveInput{ImageURL: "http://example/img.png"})
	if err == nil {
		t.Fatal("want error")
	}
	if !strings.Contains(err.Error(), `payload={"candidates":[]}`) {
		t.Fatalf("payload preview missing for non-streaming body: %q", err.Error())
	}
}

func TestSolveStreamReadsXErrorHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-error", "imageUrl or imageBase64 is required")
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.SolveStream(context.Background(), SolveInput{})
	if err == nil || !strings.Contains(err.Error(), "imageUrl or imageBase64 is required") {
		t.Fatalf("err=%v", err)
	}
}

func TestTranscribeAndSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/transcribe":
			w.Write([]byte(`{"transcript":"音声の内容","model":"gemini-2.5-flash"}`))
		case "/v1/summarize":
			w.Write([]byte(`{"summary":"要約","model":"gemini-2.5-flash"}`))
		default:
			t.Fatalf("path=%q", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	transcript, err := c.Transcribe(context.Background(), TranscribeInput{AudioBase64: "aGk=", MimeType: "audio/mp4"})
	if err != nil || transcript != "音声の内容" {
		t.Fatalf("transcript=%q err=%v", transcript, err)
	}
	summary, err := c.Summarize(context.Background(), SummarizeInput{Text: "長文"})
	if err != nil || summary != "要約" {
		t.Fatalf("summary=%q err=%v", summary, err)
	}
}

func TestSolveStreamContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.SolveStream(ctx, SolveInput{ImageURL: "http://example/img.png"})
	if err == nil {
		t.Fatal("cancelled context must fail")
	}
}
