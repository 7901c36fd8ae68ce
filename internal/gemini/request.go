package gemini

import "fmt"

// Part is one element of a content turn: either text or inline binary data.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type GenerationConfig struct {
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
}

type GenerateContentRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// SolveRequest builds the vision request for one math-problem image.
// Asking for application/json is best effort; the normalizer absorbs
// replies that ignore it.
func SolveRequest(locale, mimeType, imageBase64 string) GenerateContentRequest {
	return GenerateContentRequest{
		Contents: []Content{
			{
				Role: "user",
				Parts: []Part{
					{Text: solvePrompt(locale)},
					{InlineData: &InlineData{MimeType: mimeType, Data: imageBase64}},
				},
			},
		},
		GenerationConfig: &GenerationConfig{
			ResponseMimeType: "application/json",
			Temperature:      0.2,
		},
	}
}

func TranscribeRequest(locale, mimeType, audioBase64 string) GenerateContentRequest {
	return GenerateContentRequest{
		Contents: []Content{
			{
				Role: "user",
				Parts: []Part{
					{Text: transcribePrompt(locale)},
					{InlineData: &InlineData{MimeType: mimeType, Data: audioBase64}},
				},
			},
		},
	}
}

func SummarizeRequest(locale string, maxSentences int, transcript string) GenerateContentRequest {
	return GenerateContentRequest{
		Contents: []Content{
			{
				Role: "user",
				Parts: []Part{
					{Text: fmt.Sprintf("%s\n\n%s", summaryPrompt(locale, maxSentences), transcript)},
				},
			},
		},
	}
}

// The solve prompt forces readable Japanese plain text plus a structured
// JSON envelope. Forbidding LaTeX/Markdown at the source beats patching
// the output on the display side.
func solvePrompt(locale string) string {
	return `あなたは優秀な数学解説者です。画像に写っている数学の問題を読み取り、必ず次のJSON形式“のみ”で日本語で返してください。

出力JSONスキーマ:
{
  "answer": "最終的な答え（数値や式。可能なら=で完結させる）",
  "explanation": "要点を押さえた分かりやすい解説（2〜6文。結論→根拠の順）",
  "steps": ["解法ステップを順番に（最大8個）"]
}

重要な制約:
- Markdown記法を使わない（#, *, -, >, コードブロック などを出力しない）
- LaTeX/TeX記法を使わない（$, \frac, \sqrt, \circ, ^{...} などを出力しない）
- 数式はプレーンテキストで書く（例: x^2, (a+b)/c, 30° など。必要ならUnicode記号はOK）
- JSON以外の文章・前置き・挨拶・コードブロックは一切書かない
`
}

func transcribePrompt(locale string) string {
	if locale == "ja" {
		return "以下の音声を丁寧に文字起こししてください。雑音や意味の曖昧な部分は「(聞き取り困難)」と注記してください。改行は文や段落の区切りで適切に挿入してください。"
	}
	return `Please transcribe the following audio accurately. Use "(inaudible)" for unintelligible parts and insert line breaks at natural boundaries.`
}

func summaryPrompt(locale string, maxSentences int) string {
	if locale == "ja" {
		return fmt.Sprintf("以下の文章を %d 文以内で要約してください。重要なポイントは保ち、自然な日本語で書いてください。", maxSentences)
	}
	return fmt.Sprintf("Summarize the following text in at most %d sentences. Keep key points and use natural language.", maxSentences)
}
