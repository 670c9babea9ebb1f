package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"supportdraft/internal/domain"
	"supportdraft/internal/metrics"
	"supportdraft/internal/storage"
)

const unparsedQuery = "(Could not parse original query)"

// InteractionHandler records operator feedback from draft buttons
type InteractionHandler struct {
	feedback storage.FeedbackRepository
}

func NewInteractionHandler(feedback storage.FeedbackRepository) *InteractionHandler {
	return &InteractionHandler{feedback: feedback}
}

// HandleAction handles Slack interactive component requests
func (h *InteractionHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	payload := r.FormValue("payload")
	if payload == "" {
		slog.Error("Missing payload in Slack action request")
		http.Error(w, "Missing payload", http.StatusBadRequest)
		return
	}

	var interaction slack.InteractionCallback
	if err := json.Unmarshal([]byte(payload), &interaction); err != nil {
		slog.Error("Failed to parse interaction payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := h.Record(ctx, interaction); err != nil {
		slog.Error("Error handling Slack interaction", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// Record stores the feedback carried by a block action. It returns nil, nil
// for interactions that are not feedback button clicks.
func (h *InteractionHandler) Record(ctx context.Context, interaction slack.InteractionCallback) (*storage.Feedback, error) {
	fb, err := FeedbackFromInteraction(interaction)
	if err != nil || fb == nil {
		return nil, err
	}

	if err := h.feedback.InsertFeedback(ctx, fb); err != nil {
		metrics.FeedbackRecorded.WithLabelValues(fb.FeedbackType, "error").Inc()
		return nil, fmt.Errorf("failed to record feedback: %w", err)
	}
	metrics.FeedbackRecorded.WithLabelValues(fb.FeedbackType, "success").Inc()

	slog.Info("Feedback recorded",
		"feedback_type", fb.FeedbackType,
		"thread_ts", fb.SlackThreadTS,
		"chat_id", fb.ChannelioChatID,
		"user", interaction.User.ID)
	return fb, nil
}

// FeedbackFromInteraction extracts feedback from a button click
func FeedbackFromInteraction(interaction slack.InteractionCallback) (*storage.Feedback, error) {
	if interaction.Type != slack.InteractionTypeBlockActions || len(interaction.ActionCallback.BlockActions) == 0 {
		slog.Debug("Ignoring non-block_actions interaction", "type", interaction.Type)
		return nil, nil
	}

	action := interaction.ActionCallback.BlockActions[0]
	threadTS := interaction.Message.ThreadTimestamp
	if threadTS == "" {
		threadTS = interaction.Message.Timestamp
	}

	if action.ActionID == "" || action.Value == "" || threadTS == "" {
		return nil, fmt.Errorf("%w: missing action_id, value or message ts", domain.ErrInvalidInput)
	}

	feedbackType, ok := FeedbackTypeForAction(action.ActionID)
	if !ok {
		slog.Warn("Received unknown action_id", "action_id", action.ActionID)
		return nil, nil
	}

	var value ButtonValue
	if err := json.Unmarshal([]byte(action.Value), &value); err != nil {
		slog.Warn("Failed to parse button value", "error", err)
	}
	if value.OriginalQuery == "" {
		value.OriginalQuery = unparsedQuery
	}

	return &storage.Feedback{
		FeedbackType:    feedbackType,
		MessageContent:  value.OriginalQuery,
		ChannelioChatID: value.ChatID,
		SlackThreadTS:   threadTS,
	}, nil
}
