// Package client is the Go consumer of the mathsnap API. It buffers the
// solve stream, parses the frames, and degrades gracefully when the
// envelope is missing or the reply came back as plain JSON.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mathsnap-api/internal/answer"
	"mathsnap-api/internal/sse"
)

const previewLimit = 400

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

type SolveInput struct {
	ImageURL    string `json:"imageUrl,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Locale      string `json:"locale,omitempty"`
}

type SolveResult struct {
	Answer      string
	Explanation string
	Steps       []string
	UsedModel   string

	// Synthesized is set when no annotation arrived and the result was
	// rebuilt from accumulated candidate text.
	Synthesized bool

	Stream sse.ParseResult
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return c.httpClient.Do(req)
}

// SolveStream posts an image and consumes the whole SSE reply. The
// caller cancels by cancelling ctx; the transport tears the stream down.
func (c *Client) SolveStream(ctx context.Context, input SolveInput) (*SolveResult, error) {
	resp, err := c.post(ctx, "/v1/solve/stream", input)
	if err != nil {
		return nil, fmt.Errorf("solve stream request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("solve stream read failed: %w", err)
	}
	body := string(raw)

	if resp.StatusCode != http.StatusOK {
		return nil, httpError(resp, body)
	}

	parsed := sse.Parse(body)

	// In-band error frame.
	if parsed.FinalJSON != nil {
		if msg, ok := parsed.FinalJSON["error"].(string); ok && msg != "" {
			return nil, fmt.Errorf("solve failed: %s", msg)
		}
	}

	if result := fromAnnotation(parsed); result != nil {
		return result, nil
	}

	// No annotation, but the candidates carried text. Probe it for an
	// embedded structured answer before degrading to explanation-only.
	if parsed.CombinedText != "" {
		if n, ok := answer.FromStructured(parsed.CombinedText); ok {
			return &SolveResult{
				Answer:      n.Answer,
				Explanation: n.Explanation,
				Steps:       n.Steps,
				Synthesized: true,
				Stream:      parsed,
			}, nil
		}
		return &SolveResult{
			Explanation: parsed.CombinedText,
			Steps:       []string{},
			Synthesized: true,
			Stream:      parsed,
		}, nil
	}

	return nil, noUsableContent(parsed)
}

func fromAnnotation(parsed sse.ParseResult) *SolveResult {
	if parsed.FinalJSON == nil {
		return nil
	}
	annotation, ok := parsed.FinalJSON["analysis"].(map[string]interface{})
	if !ok {
		return nil
	}

	result := &SolveResult{Steps: []string{}, Stream: parsed}
	result.Answer, _ = annotation["answer"].(string)
	result.Explanation, _ = annotation["explanation"].(string)
	result.UsedModel, _ = annotation["usedModel"].(string)
	if steps, ok := annotation["steps"].([]interface{}); ok {
		for _, s := range steps {
			if str, ok := s.(string); ok && str != "" {
				result.Steps = append(result.Steps, str)
			}
		}
	}

	if result.Answer == "" && result.Explanation == "" && len(result.Steps) == 0 {
		return nil
	}
	return result
}

// noUsableContent builds the diagnostic error shown to users when the
// stream finished but nothing renderable arrived.
func noUsableContent(parsed sse.ParseResult) error {
	blockReason := ""
	if parsed.PromptFeedback != nil {
		blockReason, _ = parsed.PromptFeedback["blockReason"].(string)
	}

	preview := ""
	if len(parsed.Payloads) > 0 {
		preview = parsed.Payloads[len(parsed.Payloads)-1]
		if len(preview) > previewLimit {
			preview = preview[:previewLimit]
		}
	}

	msg := fmt.Sprintf("no usable content in reply (events=%d textLen=%d)",
		parsed.SSEEvents, len(parsed.CombinedText))
	if blockReason != "" {
		msg += " blockReason=" + blockReason
	}
	if preview != "" {
		msg += " payload=" + preview
	}
	return fmt.Errorf("%s", msg)
}

func httpError(resp *http.Response, body string) error {
	if xerr := strings.TrimSpace(resp.Header.Get("x-error")); xerr != "" {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, xerr)
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, payload.Error)
	}
	if len(body) > previewLimit {
		body = body[:previewLimit]
	}
	return fmt.Errorf("server error (%d): %s", resp.StatusCode, body)
}

type TranscribeInput struct {
	AudioURL    string `json:"audioUrl,omitempty"`
	AudioBase64 string `json:"audioBase64,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Locale      string `json:"locale,omitempty"`
}

func (c *Client) Transcribe(ctx context.Context, input TranscribeInput) (string, error) {
	resp, err := c.post(ctx, "/v1/transcribe", input)
	if err != nil {
		return "", fmt.Errorf("transcribe request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", httpError(resp, string(raw))
	}

	var payload struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("transcribe reply not JSON: %w", err)
	}
	return payload.Transcript, nil
}

type SummarizeInput struct {
	Text         string `json:"text"`
	Locale       string `json:"locale,omitempty"`
	MaxSentences int    `json:"maxSentences,omitempty"`
}

func (c *Client) Summarize(ctx context.Context, input SummarizeInput) (string, error) {
	resp, err := c.post(ctx, "/v1/summarize", input)
	if err != nil {
		return "", fmt.Errorf("summarize request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", httpError(resp, string(raw))
	}

	var payload struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("summarize reply not JSON: %w", err)
	}
	return payload.Summary, nil
}
