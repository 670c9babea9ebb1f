package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"supportdraft/internal/storage"
)

// FeedbackRecorder stores feedback from a Slack interaction
type FeedbackRecorder interface {
	Record(ctx context.Context, interaction slack.InteractionCallback) (*storage.Feedback, error)
}

// SlackHandler receives button clicks over Socket Mode, for workspaces that
// cannot reach the HTTP actions endpoint
type SlackHandler struct {
	socketMode *socketmode.Client
	recorder   FeedbackRecorder
}

// NewSlackHandler expects a client created with slack.OptionAppLevelToken
func NewSlackHandler(client *slack.Client, recorder FeedbackRecorder) *SlackHandler {
	return &SlackHandler{
		socketMode: socketmode.New(client),
		recorder:   recorder,
	}
}

// Run blocks until ctx is done or the connection fails for good
func (h *SlackHandler) Run(ctx context.Context) error {
	go h.handleEvents(ctx)
	return h.socketMode.RunContext(ctx)
}

func (h *SlackHandler) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-h.socketMode.Events:
			if !ok {
				return
			}
			h.handleEvent(ctx, evt)
		}
	}
}

func (h *SlackHandler) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		slog.Info("Connecting to Slack with Socket Mode")
	case socketmode.EventTypeConnected:
		slog.Info("Connected to Slack with Socket Mode")
	case socketmode.EventTypeConnectionError:
		slog.Warn("Slack Socket Mode connection failed, retrying")
	case socketmode.EventTypeInteractive:
		interaction, ok := evt.Data.(slack.InteractionCallback)
		if !ok {
			slog.Debug("Ignored interactive event", "data", evt.Data)
			return
		}

		// Slack expects the ack within three seconds, before the insert
		if evt.Request != nil {
			h.socketMode.Ack(*evt.Request)
		}
		h.handleInteraction(ctx, interaction)
	}
}

func (h *SlackHandler) handleInteraction(ctx context.Context, interaction slack.InteractionCallback) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := h.recorder.Record(ctx, interaction); err != nil {
		slog.Error("Error recording feedback from Socket Mode", "error", err, "user", interaction.User.ID)
	}
}
