package services

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"supportdraft/internal/domain"
	"supportdraft/internal/search"
)

func TestBuildPrompt(t *testing.T) {
	testCases := []struct {
		name     string
		input    DraftInput
		contains []string
		excludes []string
	}{
		{
			name:  "no order and no references",
			input: DraftInput{Query: "返品できますか"},
			contains: []string{
				"返品できますか",
				"顧客名: 不明",
				"問い合わせ内に注文番号なし",
				NoReferenceText,
				"[要オペレーター確認: (理由)]",
				"[SPAM]",
			},
			excludes: []string{"ロジレス注文詳細URL"},
		},
		{
			name: "with order and references",
			input: DraftInput{
				Query:        "yeni-123 はいつ届きますか",
				CustomerName: "山田",
				UserID:       "user-1",
				Order: &domain.OrderInfo{
					OrderNumber: "yeni-123",
					Summary:     "注文日: 2025-04-01, 商品: Tシャツ(1), ステータス: 出荷済",
					URL:         "https://app2.logiless.com/merchant/9/sales_orders/123",
				},
				References: "[1] 配送には通常3営業日かかります。",
			},
			contains: []string{
				"顧客名: 山田",
				"山田様、お問い合わせありがとうございます。",
				"問い合わせ内の注文番号: yeni-123",
				"ステータス: 出荷済",
				"<https://app2.logiless.com/merchant/9/sales_orders/123|ロジレスで確認>",
				"[1] 配送には通常3営業日かかります。",
			},
			excludes: []string{"問い合わせ内に注文番号なし"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			prompt, err := BuildPrompt(tc.input)
			if err != nil {
				t.Fatalf("BuildPrompt() error = %v", err)
			}
			for _, want := range tc.contains {
				if !strings.Contains(prompt, want) {
					t.Errorf("prompt missing %q", want)
				}
			}
			for _, unwanted := range tc.excludes {
				if strings.Contains(prompt, unwanted) {
					t.Errorf("prompt should not contain %q", unwanted)
				}
			}
		})
	}
}

func TestFormatReferences(t *testing.T) {
	if got := FormatReferences(nil); got != NoReferenceText {
		t.Errorf("FormatReferences(nil) = %q, want %q", got, NoReferenceText)
	}

	got := FormatReferences([]search.Result{
		{Chunk: search.Chunk{Content: "A"}},
		{Chunk: search.Chunk{Content: "B"}},
	})
	if got != "[1] A\n\n[2] B" {
		t.Errorf("FormatReferences() = %q", got)
	}
}

func TestDraftService_Draft(t *testing.T) {
	var req struct {
		Model       string  `json:"model"`
		Temperature float32 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		writeJSON(t, w, map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]any{
				{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": "  お問い合わせありがとうございます。  "}},
			},
		})
	})

	svc := NewDraftService(client, "gpt-4o-mini", 0.2)
	answer, err := svc.Draft(context.Background(), DraftInput{Query: "送料について"})
	if err != nil {
		t.Fatalf("Draft() error = %v", err)
	}
	if answer != "お問い合わせありがとうございます。" {
		t.Errorf("answer = %q", answer)
	}
	if req.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", req.Model)
	}
	if req.Temperature < 0.19 || req.Temperature > 0.21 {
		t.Errorf("temperature = %v", req.Temperature)
	}
	if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "送料について") {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
}

func TestDraftService_EmptyChoices(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"id": "chatcmpl-2", "object": "chat.completion", "choices": []any{}})
	})

	svc := NewDraftService(client, "gpt-4o-mini", 0.2)
	if _, err := svc.Draft(context.Background(), DraftInput{Query: "hello"}); err == nil {
		t.Error("expected error for empty choices")
	}
}
