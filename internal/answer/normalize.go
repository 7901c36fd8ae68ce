// Package answer turns a raw model reply into the normalized
// answer/explanation/steps shape that clients render.
package answer

import (
	"encoding/json"
	"regexp"
	"strings"

	"mathsnap-api/internal/gemini"
	"mathsnap-api/internal/sanitize"
)

// A reply carries at most this many solution steps; the explanation
// keeps the full text either way.
const maxSteps = 8

// Normalized is the annotation attached to every solve response.
type Normalized struct {
	Answer          string          `json:"answer"`
	Explanation     string          `json:"explanation"`
	Steps           []string        `json:"steps"`
	FinishReason    string          `json:"finishReason,omitempty"`
	CandidatesCount int             `json:"candidatesCount"`
	PromptFeedback  json.RawMessage `json:"promptFeedback,omitempty"`
}

var (
	reAnswerLabel = regexp.MustCompile(`^(?:答え|解答|Answer|Solution)\s*[:：]\s*(.*)$`)
	reStepMarker  = regexp.MustCompile(`^\s*(?:\d+\s*[.)]\s*|・\s*|[①②③④⑤⑥⑦⑧⑨]\s*|-\s+)(.+)$`)
)

// Normalize flattens text from every candidate and parses the result.
// The structured JSON path is tried first; free-form replies go through
// the line heuristics.
func Normalize(resp *gemini.GenerateContentResponse) Normalized {
	n := Normalized{Steps: []string{}}
	if resp == nil {
		return n
	}
	n.CandidatesCount = len(resp.Candidates)
	n.PromptFeedback = resp.PromptFeedback

	if len(resp.Candidates) == 0 {
		return n
	}
	for _, c := range resp.Candidates {
		if c.FinishReason != "" {
			n.FinishReason = c.FinishReason
			break
		}
	}

	parsed := FromText(gemini.JoinAllCandidateText(resp.Candidates))
	n.Answer = parsed.Answer
	n.Explanation = parsed.Explanation
	n.Steps = parsed.Steps
	return n
}

// FromText parses model output into answer/explanation/steps.
func FromText(text string) Normalized {
	n := Normalized{Steps: []string{}}
	text = strings.TrimSpace(text)
	if text == "" {
		return n
	}

	if structured, ok := FromStructured(text); ok {
		return structured
	}
	return fromLines(text)
}

// FromStructured parses only the embedded-JSON path: the substring from
// the first "{" to the last "}" decoded as answer/explanation/steps. It
// reports false when no such object exists, leaving heuristics to the
// caller.
func FromStructured(text string) (Normalized, bool) {
	n := Normalized{Steps: []string{}}
	obj, ok := extractJSONObject(text)
	if !ok {
		return n, false
	}

	var structured struct {
		Answer      string   `json:"answer"`
		Explanation string   `json:"explanation"`
		Steps       []string `json:"steps"`
	}
	if err := json.Unmarshal([]byte(obj), &structured); err != nil {
		return n, false
	}
	if structured.Answer == "" && structured.Explanation == "" && len(structured.Steps) == 0 {
		return n, false
	}

	n.Answer = sanitize.Plain(structured.Answer)
	n.Explanation = sanitize.Plain(structured.Explanation)
	for _, s := range structured.Steps {
		if len(n.Steps) >= maxSteps {
			break
		}
		if clean := sanitize.Plain(s); clean != "" {
			n.Steps = append(n.Steps, clean)
		}
	}
	return n, true
}

// extractJSONObject cuts the substring from the first "{" to the last
// "}". Models wrap JSON in prose or code fences often enough that a
// strict parse of the whole text would rarely succeed.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// fromLines is the heuristic path: the whole text becomes the
// explanation, and the label/marker scans only populate answer and
// steps. Answer stays empty when no label matches; guessing one from
// surrounding prose would surface arbitrary text as the result.
func fromLines(text string) Normalized {
	n := Normalized{Steps: []string{}}
	n.Explanation = sanitize.Plain(text)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if m := reAnswerLabel.FindStringSubmatch(line); m != nil && n.Answer == "" {
			value := m[1]
			// The label line often runs on ("答え: 42。よって…"); only
			// the part before the first 。 is the answer.
			if idx := strings.Index(value, "。"); idx >= 0 {
				value = value[:idx]
			}
			n.Answer = sanitize.Plain(value)
			continue
		}

		if m := reStepMarker.FindStringSubmatch(line); m != nil && len(n.Steps) < maxSteps {
			if clean := sanitize.Plain(m[1]); clean != "" {
				n.Steps = append(n.Steps, clean)
			}
		}
	}

	return n
}
