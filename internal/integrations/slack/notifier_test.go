package slack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"

	"supportdraft/internal/domain"
)

type postedForm struct {
	channel  string
	threadTS string
	text     string
	blocks   string
}

func newTestSlackClient(t *testing.T, ok bool) (*slack.Client, func() []postedForm) {
	t.Helper()

	var (
		mu    sync.Mutex
		posts []postedForm
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		mu.Lock()
		posts = append(posts, postedForm{
			channel:  r.FormValue("channel"),
			threadTS: r.FormValue("thread_ts"),
			text:     r.FormValue("text"),
			blocks:   r.FormValue("blocks"),
		})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
			return
		}
		w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1712000000.000100"}`))
	}))
	t.Cleanup(srv.Close)

	client := slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/"))
	return client, func() []postedForm {
		mu.Lock()
		defer mu.Unlock()
		return append([]postedForm(nil), posts...)
	}
}

func testNotification() domain.Notification {
	return domain.Notification{
		Inquiry: domain.Inquiry{
			ChatID:       "chat-1",
			Query:        "注文 yeni-42 の配送状況を教えてください",
			CustomerName: "山田",
			ChatLink:     "https://desk.channel.io/#/channels/1/user_chats/chat-1",
		},
		Order:          &domain.OrderInfo{OrderNumber: "yeni-42", Summary: "ステータス: 出荷済", URL: "https://app2.logiless.com/merchant/9/sales_orders/42"},
		Draft:          "山田様、お問い合わせありがとうございます。",
		ReferenceCount: 2,
	}
}

func TestNotifier_PostInquiryNewThread(t *testing.T) {
	client, posts := newTestSlackClient(t, true)
	n := NewNotifier(client, "C123", "")

	ts, err := n.PostInquiry(context.Background(), "", testNotification())
	if err != nil {
		t.Fatalf("PostInquiry() error = %v", err)
	}
	if ts != "1712000000.000100" {
		t.Errorf("ts = %q", ts)
	}

	got := posts()
	if len(got) != 1 {
		t.Fatalf("expected 1 post, got %d", len(got))
	}
	if got[0].channel != "C123" || got[0].threadTS != "" {
		t.Errorf("unexpected post %+v", got[0])
	}
	for _, want := range []string{ActionIgnoreAI, ActionIgnoreNotification, "yeni-42", "AIによる回答案", "新しい問い合わせ"} {
		if !strings.Contains(got[0].blocks, want) {
			t.Errorf("blocks missing %q", want)
		}
	}
	if !strings.HasPrefix(got[0].text, "新規問い合わせ (山田)") {
		t.Errorf("fallback text = %q", got[0].text)
	}
}

func TestNotifier_PostInquiryReply(t *testing.T) {
	client, posts := newTestSlackClient(t, true)
	n := NewNotifier(client, "C123", "")

	if _, err := n.PostInquiry(context.Background(), "1711000000.000001", testNotification()); err != nil {
		t.Fatalf("PostInquiry() error = %v", err)
	}

	got := posts()
	if got[0].threadTS != "1711000000.000001" {
		t.Errorf("thread_ts = %q", got[0].threadTS)
	}
	if !strings.Contains(got[0].blocks, "追加の問い合わせ") {
		t.Error("reply should use the follow-up header")
	}
}

func TestNotifier_PostInquiryAPIError(t *testing.T) {
	client, _ := newTestSlackClient(t, false)
	n := NewNotifier(client, "C123", "")

	if _, err := n.PostInquiry(context.Background(), "", testNotification()); err == nil {
		t.Fatal("expected error")
	}

	unconfigured := NewNotifier(client, "", "")
	if _, err := unconfigured.PostInquiry(context.Background(), "", testNotification()); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestNotifier_ReportError(t *testing.T) {
	client, posts := newTestSlackClient(t, true)

	logOnly := NewNotifier(client, "C123", "")
	if err := logOnly.ReportError(context.Background(), domain.ErrorReport{Step: "AICreation", Err: errors.New("boom")}); err != nil {
		t.Fatalf("ReportError() error = %v", err)
	}
	if len(posts()) != 0 {
		t.Fatal("no post expected without an error channel")
	}

	n := NewNotifier(client, "C123", "CERR")
	err := n.ReportError(context.Background(), domain.ErrorReport{
		Step:        "LogilessAPICall",
		Err:         errors.New("logiless: 503"),
		Query:       "yeni-42",
		OrderNumber: "yeni-42",
	})
	if err != nil {
		t.Fatalf("ReportError() error = %v", err)
	}

	got := posts()
	if len(got) != 1 || got[0].channel != "CERR" {
		t.Fatalf("unexpected posts %+v", got)
	}
	for _, want := range []string{"LogilessAPICall", "logiless: 503", "Order#"} {
		if !strings.Contains(got[0].blocks, want) {
			t.Errorf("error blocks missing %q", want)
		}
	}
}

func TestBuildInquiryBlocks_ButtonValue(t *testing.T) {
	blocks := BuildInquiryBlocks(testNotification(), false)

	actions, ok := blocks[len(blocks)-1].(*slack.ActionBlock)
	if !ok {
		t.Fatalf("last block is %T, want *slack.ActionBlock", blocks[len(blocks)-1])
	}
	if len(actions.Elements.ElementSet) != 2 {
		t.Fatalf("expected 2 buttons, got %d", len(actions.Elements.ElementSet))
	}

	button := actions.Elements.ElementSet[0].(*slack.ButtonBlockElement)
	if button.ActionID != ActionIgnoreAI {
		t.Errorf("action id = %q", button.ActionID)
	}

	var value ButtonValue
	if err := json.Unmarshal([]byte(button.Value), &value); err != nil {
		t.Fatalf("button value is not JSON: %v", err)
	}
	if value.ChatID != "chat-1" || !strings.Contains(value.OriginalQuery, "yeni-42") {
		t.Errorf("unexpected value %+v", value)
	}
}

func TestBuildInquiryBlocks_WithoutOrder(t *testing.T) {
	n := testNotification()
	n.Order = nil
	n.ReferenceCount = 0
	n.Inquiry.CustomerName = ""
	n.Inquiry.ChatLink = ""

	data, err := json.Marshal(BuildInquiryBlocks(n, false))
	if err != nil {
		t.Fatalf("failed to marshal blocks: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "Logiless関連情報") {
		t.Error("order section should be omitted")
	}
	if !strings.Contains(out, "参照ナレッジ: 関連ナレッジなし") {
		t.Error("empty references should render the no-reference placeholder")
	}
	if !strings.Contains(out, unknownText) {
		t.Error("missing customer name should render as unknown")
	}
}

func TestBuildInquiryBlocks_References(t *testing.T) {
	tests := []struct {
		name  string
		count int
		note  string
		want  string
	}{
		{name: "references used", count: 2, want: "参照ナレッジ: 2件"},
		{name: "nothing found", note: "関連ナレッジなし", want: "参照ナレッジ: 関連ナレッジなし"},
		{name: "search failed", note: "データベース検索中にエラーが発生しました。", want: "参照ナレッジ: データベース検索中にエラーが発生しました。"},
		{name: "no note", want: "参照ナレッジ: 関連ナレッジなし"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := testNotification()
			n.ReferenceCount = tt.count
			n.ReferenceNote = tt.note

			data, err := json.Marshal(BuildInquiryBlocks(n, false))
			if err != nil {
				t.Fatalf("failed to marshal blocks: %v", err)
			}
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("blocks missing %q", tt.want)
			}
		})
	}
}

func TestButtonValue_EncodeFitsLimit(t *testing.T) {
	v := ButtonValue{OriginalQuery: strings.Repeat("長い問い合わせ", 500), ChatID: "chat-1"}
	encoded := v.Encode()
	if len(encoded) > maxButtonValue {
		t.Errorf("encoded value is %d bytes, want <= %d", len(encoded), maxButtonValue)
	}

	var decoded ButtonValue
	if err := json.Unmarshal([]byte(encoded), &decoded); err != nil {
		t.Fatalf("encoded value is not JSON: %v", err)
	}
	if decoded.ChatID != "chat-1" {
		t.Errorf("chat id lost: %+v", decoded)
	}
}
