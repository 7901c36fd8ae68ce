// solve-tool exercises the API from the command line: point it at an
// image to run the solve stream, at an audio file to transcribe, or
// pipe text to summarize.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mathsnap-api/internal/client"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	server := flag.String("server", "http://localhost:3002", "API base URL")
	apiKey := flag.String("key", "", "API key (optional)")
	image := flag.String("image", "", "Path to a math problem image")
	audio := flag.String("audio", "", "Path to an audio recording")
	text := flag.String("text", "", "Text to summarize")
	locale := flag.String("locale", "ja", "Response locale")
	timeout := flag.Duration("timeout", 90*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := client.New(*server, *apiKey)

	switch {
	case *image != "":
		runSolve(ctx, c, *image, *locale)
	case *audio != "":
		runTranscribe(ctx, c, *audio, *locale)
	case *text != "":
		runSummarize(ctx, c, *text, *locale)
	default:
		fmt.Fprintln(os.Stderr, "one of -image, -audio, or -text is required")
		flag.Usage()
		os.Exit(2)
	}
}

func readBase64(path string) (data, mimeType string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Error("Failed to read file", "path", path, "error", err)
		os.Exit(1)
	}
	mimeType = mime.TypeByExtension(filepath.Ext(path))
	return base64.StdEncoding.EncodeToString(raw), mimeType
}

func runSolve(ctx context.Context, c *client.Client, path, locale string) {
	data, mimeType := readBase64(path)
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	start := time.Now()
	res, err := c.SolveStream(ctx, client.SolveInput{
		ImageBase64: data,
		MimeType:    mimeType,
		Locale:      locale,
	})
	if err != nil {
		slog.Error("Solve failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("answer: %s\n", res.Answer)
	if res.Explanation != "" {
		fmt.Printf("\n%s\n", res.Explanation)
	}
	for i, step := range res.Steps {
		fmt.Printf("%d. %s\n", i+1, step)
	}
	slog.Info("Solve completed",
		"model", res.UsedModel,
		"events", res.Stream.SSEEvents,
		"synthesized", res.Synthesized,
		"duration", time.Since(start),
	)
}

func runTranscribe(ctx context.Context, c *client.Client, path, locale string) {
	data, mimeType := readBase64(path)
	if mimeType == "" {
		mimeType = "audio/mp4"
	}

	transcript, err := c.Transcribe(ctx, client.TranscribeInput{
		AudioBase64: data,
		MimeType:    mimeType,
		Locale:      locale,
	})
	if err != nil {
		slog.Error("Transcribe failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(transcript)
}

func runSummarize(ctx context.Context, c *client.Client, text, locale string) {
	summary, err := c.Summarize(ctx, client.SummarizeInput{Text: text, Locale: locale})
	if err != nil {
		slog.Error("Summarize failed", "error", err)
		os.Exit(1)
	}
	fmt.Println(summary)
}
