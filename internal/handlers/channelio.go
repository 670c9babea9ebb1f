package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"supportdraft/internal/domain"
	"supportdraft/internal/integrations/channelio"
	"supportdraft/internal/logging"
	"supportdraft/internal/metrics"
)

const maxWebhookBody = 1 << 20

// Dispatcher hands an inquiry to background processing
type Dispatcher interface {
	Dispatch(ctx context.Context, inq domain.Inquiry) error
}

type WebhookHandler struct {
	dispatcher Dispatcher
	deskURL    string
	now        func() time.Time
}

type webhookResponse struct {
	Message string `json:"message"`
}

func NewWebhookHandler(dispatcher Dispatcher, deskURL string) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		deskURL:    deskURL,
		now:        time.Now,
	}
}

// HandleWebhook accepts a Channel.io event and queues customer messages.
// It answers before the inquiry is processed.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerFromContext(r.Context())

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		logger.Warn("Received non-POST request", "method", r.Method)
		metrics.WebhooksReceived.WithLabelValues("method_not_allowed").Inc()
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	if contentType := r.Header.Get("Content-Type"); !strings.Contains(contentType, "application/json") {
		logger.Warn("Received invalid Content-Type", "content_type", contentType)
		metrics.WebhooksReceived.WithLabelValues("unsupported_media_type").Inc()
		http.Error(w, "Unsupported Media Type: Expected application/json", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		logger.Error("Error reading request body", "error", err)
		metrics.WebhooksReceived.WithLabelValues("bad_request").Inc()
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var payload channelio.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Error("Failed to parse request body", "error", err)
		metrics.WebhooksReceived.WithLabelValues("bad_request").Inc()
		http.Error(w, "Bad Request: Invalid JSON format", http.StatusBadRequest)
		return
	}

	if reason := payload.SkipReason(); reason != "" {
		logger.Debug("Ignoring webhook event", "reason", reason, "event", payload.Event, "type", payload.Type)
		metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
		writeAccepted(w)
		return
	}

	inq, err := payload.ToInquiry(h.deskURL, h.now())
	if err != nil {
		logger.Error("Failed to convert webhook event", "error", err)
		metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
		writeAccepted(w)
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), inq); err != nil {
		logger.Error("Failed to queue inquiry", "chat_id", inq.ChatID, "error", err)
		metrics.WebhooksReceived.WithLabelValues("dispatch_error").Inc()
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	logger.Info("Webhook received successfully. Processing in background.", "chat_id", inq.ChatID, "event_id", inq.EventID)
	metrics.WebhooksReceived.WithLabelValues("accepted").Inc()
	writeAccepted(w)
}

func writeAccepted(w http.ResponseWriter) {
	WriteJSON(w, http.StatusOK, webhookResponse{Message: "Webhook received successfully. Processing in background."})
}

// WriteJSON encodes v as the response body
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}
