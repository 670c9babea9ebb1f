package services

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/sashabaranov/go-openai"

	"supportdraft/internal/domain"
	"supportdraft/internal/metrics"
	"supportdraft/internal/search"
)

// Placeholder texts shown to operators when a step degrades
const (
	NoReferenceText      = "関連ナレッジなし"
	SearchErrorText      = "データベース検索中にエラーが発生しました。"
	DraftErrorText       = "AIによる回答生成中にエラーが発生しました。"
	OrderLookupErrorText = "ロジレス情報の取得中にエラーが発生しました。"
)

// DraftInput is everything the model sees about one inquiry
type DraftInput struct {
	Query        string
	CustomerName string
	UserID       string
	Order        *domain.OrderInfo
	References   string
}

var promptTemplate = template.Must(template.New("draft").Parse(`# 役割
あなたはカスタマーサポートの一次回答案を作成するアシスタントです。回答案はSlackに投稿され、オペレーターが確認・編集してからお客様に送信されます。

# 前提
* 不明な点や判断が必要なケース、クレームには無理に回答せず、オペレーターへの確認メモを残してください。
* 敬語（です・ます調）で、丁寧かつ共感的な言葉遣いにしてください。

# 問い合わせ内容
` + "```" + `
{{.Query}}
` + "```" + `

# 顧客情報
* 顧客名: {{if .CustomerName}}{{.CustomerName}}{{else}}不明{{end}}
* UserID: {{if .UserID}}{{.UserID}}{{else}}不明{{end}}

# 注文情報
{{- if .Order}}
* 問い合わせ内の注文番号: {{.Order.OrderNumber}}
* ロジレス連携結果: {{if .Order.Summary}}{{.Order.Summary}}{{else}}該当注文に関する情報なし{{end}}
{{- if .Order.URL}}
* ロジレス注文詳細URL: <{{.Order.URL}}|ロジレスで確認>
{{- end}}
{{- else}}
* 問い合わせ内に注文番号なし（ロジレスは未検索）
{{- end}}

# 関連する社内ナレッジ
{{.References}}

# 回答ガイドライン
1. 挨拶から始めてください。{{if .CustomerName}}「{{.CustomerName}}様、お問い合わせありがとうございます。」のように呼びかけてください。{{end}}
2. 関連ナレッジと注文情報に基づいて回答し、情報がない場合は推測せず「確認いたします」と伝えてください。
3. 回答できない、または確認が必要な事項がある場合は、回答案の末尾に [要オペレーター確認: (理由)] の形式で記載してください。
4. 住所・電話番号・カード情報などの個人情報の入力を促さないでください。
5. スパム・詐欺・営業メッセージには [SPAM] または [SALES] とだけ出力してください。

# 出力
回答案のみを出力してください。`))

type DraftService struct {
	client      *openai.Client
	model       string
	temperature float32
}

func NewDraftService(client *openai.Client, model string, temperature float32) *DraftService {
	return &DraftService{client: client, model: model, temperature: temperature}
}

// BuildPrompt renders the prompt for in
func BuildPrompt(in DraftInput) (string, error) {
	if in.References == "" {
		in.References = NoReferenceText
	}

	var b strings.Builder
	if err := promptTemplate.Execute(&b, in); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return b.String(), nil
}

// Draft asks the completion model for a reply draft
func (d *DraftService) Draft(ctx context.Context, in DraftInput) (string, error) {
	if strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("%w: query is empty", domain.ErrInvalidInput)
	}

	prompt, err := BuildPrompt(in)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: d.temperature,
	})
	metrics.OpenAIAPICallDuration.WithLabelValues("completion").Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.OpenAIAPICalls.WithLabelValues("completion", "error").Inc()
		return "", fmt.Errorf("failed to call OpenAI API: %w", err)
	}
	metrics.OpenAIAPICalls.WithLabelValues("completion", "success").Inc()

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("completion returned an empty answer")
	}
	return answer, nil
}

// FormatReferences renders ranked chunks as numbered reference passages
func FormatReferences(results []search.Result) string {
	if len(results) == 0 {
		return NoReferenceText
	}

	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, r.Chunk.Content)
	}
	return strings.Join(parts, "\n\n")
}
