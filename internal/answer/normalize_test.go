package answer

import (
	"encoding/json"
	"strings"
	"testing"

	"mathsnap-api/internal/gemini"
)

func TestFromTextStructuredJSON(t *testing.T) {
	text := "Here you go:\n{\"answer\":\"x = 4\",\"explanation\":\"Solve by factoring.\",\"steps\":[\"factor\",\"solve\"]}"
	n := FromText(text)
	if n.Answer != "x = 4" {
		t.Fatalf("answer=%q", n.Answer)
	}
	if n.Explanation != "Solve by factoring." {
		t.Fatalf("explanation=%q", n.Explanation)
	}
	if len(n.Steps) != 2 || n.Steps[0] != "factor" {
		t.Fatalf("steps=%v", n.Steps)
	}
}

func TestFromTextStructuredSanitized(t *testing.T) {
	text := `{"answer":"**42**","explanation":"area is \\frac{a}{2}","steps":["$x=1$"]}`
	n := FromText(text)
	if n.Answer != "42" {
		t.Fatalf("answer=%q", n.Answer)
	}
	if n.Explanation != "area is (a)/(2)" {
		t.Fatalf("explanation=%q", n.Explanation)
	}
	if len(n.Steps) != 1 || n.Steps[0] != "x=1" {
		t.Fatalf("steps=%v", n.Steps)
	}
}

func TestFromTextHeuristicLabel(t *testing.T) {
	text := "答え: 42\n1. 式を立てる\n2. 移項する\n3) 両辺を割る"
	n := FromText(text)
	if n.Answer != "42" {
		t.Fatalf("answer=%q", n.Answer)
	}
	if len(n.Steps) != 3 {
		t.Fatalf("steps=%v", n.Steps)
	}
	if n.Steps[2] != "両辺を割る" {
		t.Fatalf("steps[2]=%q", n.Steps[2])
	}
}

func TestFromTextHeuristicEnglishLabel(t *testing.T) {
	n := FromText("Answer: y = 2x + 1\nSome context here.")
	if n.Answer != "y = 2x + 1" {
		t.Fatalf("answer=%q", n.Answer)
	}
	// The heuristic path keeps the whole text as the explanation; the
	// label line is not carved out.
	if n.Explanation != "Answer: y = 2x + 1\nSome context here." {
		t.Fatalf("explanation=%q", n.Explanation)
	}
}

func TestFromTextLabelCutAtPeriod(t *testing.T) {
	n := FromText("答え: 42。よって両辺が一致します。")
	if n.Answer != "42" {
		t.Fatalf("answer=%q", n.Answer)
	}
	if !strings.Contains(n.Explanation, "よって両辺が一致します") {
		t.Fatalf("explanation=%q", n.Explanation)
	}
}

func TestFromStructured(t *testing.T) {
	n, ok := FromStructured(`prefix {"answer":"8","explanation":"","steps":[]} suffix`)
	if !ok || n.Answer != "8" {
		t.Fatalf("ok=%v n=%+v", ok, n)
	}
	if _, ok := FromStructured("no json here"); ok {
		t.Fatal("plain text must not parse as structured")
	}
	if _, ok := FromStructured(`{"other":"fields"}`); ok {
		t.Fatal("object without answer fields must not count")
	}
}

func TestFromTextStepCap(t *testing.T) {
	text := ""
	for i := 1; i <= 20; i++ {
		text += "・ステップ\n"
	}
	n := FromText(text)
	if len(n.Steps) != maxSteps {
		t.Fatalf("steps=%d want=%d", len(n.Steps), maxSteps)
	}
	if n.Explanation == "" {
		t.Fatal("explanation must keep the full text")
	}
}

func TestFromTextNoLabelLeavesAnswerEmpty(t *testing.T) {
	n := FromText("1. compute\n2. x = 7")
	if n.Answer != "" {
		t.Fatalf("answer=%q, must stay empty without a label", n.Answer)
	}
	if len(n.Steps) != 2 {
		t.Fatalf("steps=%v", n.Steps)
	}
	if n.Explanation == "" {
		t.Fatal("explanation missing")
	}
}

func TestFromTextEmpty(t *testing.T) {
	n := FromText("  \n ")
	if n.Answer != "" || n.Explanation != "" || len(n.Steps) != 0 {
		t.Fatalf("want empty result, got %+v", n)
	}
}

func TestNormalizeCarriesMetadata(t *testing.T) {
	resp := &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{
			{
				Content:      gemini.CandidateContent{Parts: []gemini.Part{{Text: `{"answer":"9","explanation":"3 squared","steps":[]}`}}},
				FinishReason: "STOP",
			},
		},
		PromptFeedback: json.RawMessage(`{"blockReason":"NONE"}`),
	}
	n := Normalize(resp)
	if n.Answer != "9" {
		t.Fatalf("answer=%q", n.Answer)
	}
	if n.FinishReason != "STOP" {
		t.Fatalf("finishReason=%q", n.FinishReason)
	}
	if n.CandidatesCount != 1 {
		t.Fatalf("candidatesCount=%d", n.CandidatesCount)
	}
	if string(n.PromptFeedback) != `{"blockReason":"NONE"}` {
		t.Fatalf("promptFeedback=%s", n.PromptFeedback)
	}
}

func TestNormalizeNilAndEmpty(t *testing.T) {
	if n := Normalize(nil); n.CandidatesCount != 0 || n.Steps == nil {
		t.Fatalf("nil resp: %+v", n)
	}
	if n := Normalize(&gemini.GenerateContentResponse{}); n.CandidatesCount != 0 {
		t.Fatalf("empty resp: %+v", n)
	}
}

func TestNormalizeSpansAllCandidates(t *testing.T) {
	resp := &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{
			{Content: gemini.CandidateContent{Parts: []gemini.Part{{Text: "considering the image"}}}},
			{Content: gemini.CandidateContent{Parts: []gemini.Part{{Text: `{"answer":"x = 9","explanation":"二乗します。","steps":[]}`}}}},
		},
	}
	n := Normalize(resp)
	if n.Answer != "x = 9" {
		t.Fatalf("answer=%q, structured JSON in a later candidate was dropped", n.Answer)
	}
	if n.CandidatesCount != 2 {
		t.Fatalf("candidatesCount=%d", n.CandidatesCount)
	}
}
