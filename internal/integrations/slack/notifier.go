package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"supportdraft/internal/domain"
	"supportdraft/internal/metrics"
)

const (
	maxSectionText  = 2900
	unknownText     = "不明"
	noReferenceText = "関連ナレッジなし"
)

// Notifier posts drafts and error reports to Slack
type Notifier struct {
	client         *slack.Client
	channelID      string
	errorChannelID string
}

// NewNotifier creates a notifier. An empty errorChannelID sends error reports
// to the log only.
func NewNotifier(client *slack.Client, channelID, errorChannelID string) *Notifier {
	return &Notifier{
		client:         client,
		channelID:      channelID,
		errorChannelID: errorChannelID,
	}
}

// PostInquiry posts the draft, as a reply when threadTS is set, and returns
// the posted message's timestamp
func (n *Notifier) PostInquiry(ctx context.Context, threadTS string, notification domain.Notification) (string, error) {
	if n.channelID == "" {
		return "", fmt.Errorf("%w: slack channel is not configured", domain.ErrConfiguration)
	}

	opts := []slack.MsgOption{
		slack.MsgOptionText(fallbackText(notification.Inquiry), false),
		slack.MsgOptionBlocks(BuildInquiryBlocks(notification, threadTS != "")...),
	}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	kind := "new_thread"
	if threadTS != "" {
		kind = "reply"
	}

	_, ts, err := n.client.PostMessageContext(ctx, n.channelID, opts...)
	if err != nil {
		metrics.SlackMessagesPosted.WithLabelValues(kind, "error").Inc()
		return "", fmt.Errorf("failed to post message to %s: %w", n.channelID, err)
	}
	metrics.SlackMessagesPosted.WithLabelValues(kind, "success").Inc()

	slog.Info("Message posted to Slack", "channel", n.channelID, "thread_ts", threadTS, "ts", ts)
	return ts, nil
}

// ReportError posts a failed pipeline step to the error channel
func (n *Notifier) ReportError(ctx context.Context, report domain.ErrorReport) error {
	if n.errorChannelID == "" {
		slog.Error("Error channel is not configured",
			"step", report.Step,
			"error", report.Err,
			"query", report.Query,
			"user_id", report.UserID,
			"order_number", report.OrderNumber)
		return nil
	}

	_, _, err := n.client.PostMessageContext(ctx, n.errorChannelID,
		slack.MsgOptionText(fmt.Sprintf(":warning: Channelio 自動応答エラー発生 (%s)", report.Step), false),
		slack.MsgOptionBlocks(BuildErrorBlocks(report)...),
	)
	if err != nil {
		metrics.SlackMessagesPosted.WithLabelValues("error_report", "error").Inc()
		return fmt.Errorf("failed to post error report: %w", err)
	}
	metrics.SlackMessagesPosted.WithLabelValues("error_report", "success").Inc()
	return nil
}

// BuildInquiryBlocks lays out a draft for review with the feedback buttons
func BuildInquiryBlocks(n domain.Notification, reply bool) []slack.Block {
	inq := n.Inquiry

	header := ":loudspeaker: 新しい問い合わせがありました"
	if reply {
		header = ":speech_balloon: 同じ会話から追加の問い合わせがありました"
	}

	chatLink := unknownText
	if inq.ChatLink != "" {
		chatLink = fmt.Sprintf("<%s|リンクを開く>", inq.ChatLink)
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, header, true, false)),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			markdown(fmt.Sprintf("*顧客名:*\n%s", orDefault(inq.CustomerName, unknownText))),
			markdown(fmt.Sprintf("*Channelioリンク:*\n%s", chatLink)),
		}, nil),
		slack.NewSectionBlock(markdown(fmt.Sprintf("*問い合わせ内容:*\n```%s```", truncate(inq.Query, maxSectionText))), nil, nil),
	}

	if n.Order != nil {
		text := fmt.Sprintf("*Logiless関連情報 (%s):*\n%s",
			orDefault(n.Order.OrderNumber, "番号不明"), orDefault(n.Order.Summary, "情報なし"))
		if n.Order.URL != "" {
			text += fmt.Sprintf("\n<%s|Logilessで詳細確認>", n.Order.URL)
		}
		blocks = append(blocks, slack.NewDividerBlock(), slack.NewSectionBlock(markdown(text), nil, nil))
	}

	draftText := fmt.Sprintf("*AIによる回答案:*\n```%s```", truncate(n.Draft, maxSectionText))
	blocks = append(blocks,
		slack.NewDividerBlock(),
		slack.NewSectionBlock(markdown(draftText), nil, nil),
	)

	references := orDefault(n.ReferenceNote, noReferenceText)
	if n.ReferenceCount > 0 {
		references = fmt.Sprintf("%d件", n.ReferenceCount)
	}
	blocks = append(blocks, slack.NewContextBlock("", markdown("参照ナレッジ: "+references)))

	value := ButtonValue{OriginalQuery: inq.Query, ChatID: inq.ChatID}.Encode()
	ignoreAI := slack.NewButtonBlockElement(ActionIgnoreAI, value,
		slack.NewTextBlockObject(slack.PlainTextType, "AI回答を無視", false, false))
	ignoreNotification := slack.NewButtonBlockElement(ActionIgnoreNotification, value,
		slack.NewTextBlockObject(slack.PlainTextType, "通知を無視", false, false))
	ignoreNotification.Style = slack.StyleDanger

	blocks = append(blocks, slack.NewActionBlock("feedback_actions", ignoreAI, ignoreNotification))
	return blocks
}

// BuildErrorBlocks lays out an error report
func BuildErrorBlocks(r domain.ErrorReport) []slack.Block {
	occurred := r.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	message := "unknown error"
	if r.Err != nil {
		message = r.Err.Error()
	}

	return []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, ":warning: Channelio 自動応答エラー", true, false)),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			markdown(fmt.Sprintf("*発生日時:*\n%s", occurred.Format(time.RFC3339))),
			markdown(fmt.Sprintf("*発生箇所:*\n%s", r.Step)),
		}, nil),
		slack.NewSectionBlock(markdown(fmt.Sprintf("*エラーメッセージ:*\n```%s```", truncate(message, 1000))), nil, nil),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			markdown(fmt.Sprintf("*Query:*\n%s", orDefault(truncate(r.Query, 500), "N/A"))),
			markdown(fmt.Sprintf("*UserID:*\n%s", orDefault(r.UserID, "N/A"))),
			markdown(fmt.Sprintf("*Order#:*\n%s", orDefault(r.OrderNumber, "N/A"))),
		}, nil),
		slack.NewDividerBlock(),
	}
}

func fallbackText(inq domain.Inquiry) string {
	return fmt.Sprintf("新規問い合わせ (%s): %s", orDefault(inq.CustomerName, unknownText), truncate(inq.Query, 50))
}

func markdown(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, text, false, false)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
