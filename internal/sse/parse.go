package sse

import (
	"encoding/json"
	"strings"

	"mathsnap-api/internal/gemini"
)

// ParseResult summarizes one fully-buffered stream body.
type ParseResult struct {
	// FinalJSON is the payload clients should read: the envelope
	// carrying the analysis annotation when one arrived, otherwise the
	// last JSON object seen.
	FinalJSON map[string]interface{}

	// SSEEvents counts data-bearing frames, [DONE] sentinels excluded.
	SSEEvents int

	// CombinedText accumulates candidate text across every frame.
	CombinedText string

	// Payloads holds the raw data payloads in arrival order.
	Payloads []string

	PromptFeedback map[string]interface{}
}

// Parse walks a buffered SSE body. Bodies that contain no SSE frames at
// all are retried as a single JSON document, because error replies and
// misconfigured proxies both come back that way.
func Parse(body string) ParseResult {
	result := ParseResult{}
	body = strings.ReplaceAll(body, "\r\n", "\n")

	var lastObject map[string]interface{}
	var annotated map[string]interface{}
	var texts []string

	for _, block := range strings.Split(body, "\n\n") {
		payload := dataPayload(block)
		if payload == "" || payload == "[DONE]" {
			continue
		}
		result.SSEEvents++
		result.Payloads = append(result.Payloads, payload)

		obj, ok := decodeObject(payload)
		if !ok {
			continue
		}
		lastObject = obj
		if _, has := obj["analysis"]; has {
			annotated = obj
		}
		if fb := promptFeedbackOf(obj); fb != nil {
			result.PromptFeedback = fb
		}
		if t := candidateText(payload); t != "" {
			texts = append(texts, t)
		}
	}

	if result.SSEEvents == 0 {
		trimmed := strings.TrimSpace(body)
		if trimmed != "" {
			// Recorded even when the decode fails: the payload preview in
			// the caller's diagnostics is most useful for exactly these
			// legacy bodies.
			result.Payloads = append(result.Payloads, trimmed)
		}
		if obj, ok := decodeObject(trimmed); ok {
			lastObject = obj
			if _, has := obj["analysis"]; has {
				annotated = obj
			}
			if fb := promptFeedbackOf(obj); fb != nil {
				result.PromptFeedback = fb
			}
			if t := candidateText(trimmed); t != "" {
				texts = append(texts, t)
			}
		}
	}

	if annotated != nil {
		result.FinalJSON = annotated
	} else {
		result.FinalJSON = lastObject
	}
	result.CombinedText = strings.TrimSpace(strings.Join(texts, "\n"))
	return result
}

// dataPayload joins the data lines of one frame. Comment and event-name
// lines carry no payload.
func dataPayload(block string) string {
	var lines []string
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "data:") {
			continue
		}
		lines = append(lines, strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func decodeObject(payload string) (map[string]interface{}, bool) {
	if !strings.HasPrefix(payload, "{") {
		return nil, false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// candidateText decodes a payload as a model reply and flattens the
// text of every candidate across the known content shapes.
func candidateText(payload string) string {
	var resp gemini.GenerateContentResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return ""
	}
	return gemini.JoinAllCandidateText(resp.Candidates)
}

// promptFeedbackOf reads feedback from the payload root or from the
// analysis annotation, whichever is present.
func promptFeedbackOf(obj map[string]interface{}) map[string]interface{} {
	if fb, ok := obj["promptFeedback"].(map[string]interface{}); ok {
		return fb
	}
	if annotation, ok := obj["analysis"].(map[string]interface{}); ok {
		if fb, ok := annotation["promptFeedback"].(map[string]interface{}); ok {
			return fb
		}
	}
	return nil
}
