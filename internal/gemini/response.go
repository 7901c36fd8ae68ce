package gemini

import (
	"encoding/json"
	"strings"
)

// GenerateContentResponse is the decoded shape of a generateContent reply.
// PromptFeedback stays raw: it is forwarded to clients untouched.
type GenerateContentResponse struct {
	Candidates     []Candidate     `json:"candidates"`
	PromptFeedback json.RawMessage `json:"promptFeedback,omitempty"`
}

type Candidate struct {
	Content      CandidateContent `json:"content"`
	FinishReason string           `json:"finishReason"`
	OutputText   string           `json:"output_text"`
}

// CandidateContent absorbs the two content shapes the API has been seen to
// produce: an object carrying a parts array (optionally with a direct text
// field), and an array of content entries. Each shape has its own decode
// branch; unknown shapes decode to an empty value rather than failing.
type CandidateContent struct {
	Parts   []Part
	Entries []ContentEntry
	Text    string
}

func (c *CandidateContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	switch trimmed[0] {
	case '{':
		var obj struct {
			Parts []Part `json:"parts"`
			Text  string `json:"text"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil
		}
		c.Parts = obj.Parts
		c.Text = obj.Text
	case '[':
		var entries []ContentEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil
		}
		c.Entries = entries
	}
	return nil
}

// ContentEntry is one element of the array-of-entries content shape. An
// entry either wraps its own parts array or is itself a part.
type ContentEntry struct {
	Parts      []Part
	Text       string
	InlineData *InlineData
}

func (e *ContentEntry) UnmarshalJSON(data []byte) error {
	var obj struct {
		Parts      []Part      `json:"parts"`
		Text       string      `json:"text"`
		InlineData *InlineData `json:"inlineData"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	e.Parts = obj.Parts
	e.Text = obj.Text
	e.InlineData = obj.InlineData
	return nil
}

func partText(p Part) string {
	if t := strings.TrimSpace(p.Text); t != "" {
		return t
	}
	if p.InlineData != nil && p.InlineData.Data != "" {
		mime := p.InlineData.MimeType
		if mime == "" {
			mime = "binary"
		}
		// Placeholder instead of the bytes.
		return "[inlineData:" + mime + "]"
	}
	return ""
}

// CollectTexts gathers every text fragment from a candidate across the
// known content shapes, in document order. Exact repeats are dropped:
// replies that populate both parts and output_text would otherwise
// double the text.
func CollectTexts(c Candidate) []string {
	var texts []string
	collectInto(c, map[string]bool{}, &texts)
	return texts
}

// CollectAllTexts flattens every candidate in order. The repeat filter
// spans candidates: a second candidate often restates the first before
// adding anything new.
func CollectAllTexts(cands []Candidate) []string {
	var texts []string
	seen := map[string]bool{}
	for _, c := range cands {
		collectInto(c, seen, &texts)
	}
	return texts
}

func collectInto(c Candidate, seen map[string]bool, texts *[]string) {
	push := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			*texts = append(*texts, s)
		}
	}

	for _, p := range c.Content.Parts {
		push(partText(p))
	}
	for _, entry := range c.Content.Entries {
		if len(entry.Parts) > 0 {
			for _, p := range entry.Parts {
				push(partText(p))
			}
			continue
		}
		push(partText(Part{Text: entry.Text, InlineData: entry.InlineData}))
	}
	push(c.OutputText)
	push(c.Content.Text)
}

// JoinCandidateText flattens a candidate into a single newline-joined
// string, the form the stream consumer accumulates.
func JoinCandidateText(c Candidate) string {
	return strings.Join(CollectTexts(c), "\n")
}

// JoinAllCandidateText flattens a whole candidate list the same way.
func JoinAllCandidateText(cands []Candidate) string {
	return strings.Join(CollectAllTexts(cands), "\n")
}
