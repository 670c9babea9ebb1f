package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"supportdraft/internal/storage"
)

type mockRecorder struct {
	mu           sync.Mutex
	interactions []slack.InteractionCallback
	err          error
}

func (m *mockRecorder) Record(ctx context.Context, interaction slack.InteractionCallback) (*storage.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactions = append(m.interactions, interaction)
	if m.err != nil {
		return nil, m.err
	}
	return &storage.Feedback{FeedbackType: storage.FeedbackIgnoreAI}, nil
}

func newTestSlackHandler(recorder FeedbackRecorder) *SlackHandler {
	client := slack.New("xoxb-test", slack.OptionAppLevelToken("xapp-test"))
	return NewSlackHandler(client, recorder)
}

func TestSlackHandler_HandleEvent(t *testing.T) {
	interaction := slack.InteractionCallback{Type: slack.InteractionTypeBlockActions}

	testCases := []struct {
		name         string
		event        socketmode.Event
		wantRecorded int
	}{
		{
			name:         "interactive event is recorded",
			event:        socketmode.Event{Type: socketmode.EventTypeInteractive, Data: interaction},
			wantRecorded: 1,
		},
		{
			name:         "interactive event with unexpected data",
			event:        socketmode.Event{Type: socketmode.EventTypeInteractive, Data: "nope"},
			wantRecorded: 0,
		},
		{
			name:         "connection event",
			event:        socketmode.Event{Type: socketmode.EventTypeConnected},
			wantRecorded: 0,
		},
		{
			name:         "events api is ignored",
			event:        socketmode.Event{Type: socketmode.EventTypeEventsAPI},
			wantRecorded: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := &mockRecorder{}
			handler := newTestSlackHandler(recorder)

			handler.handleEvent(context.Background(), tc.event)

			if len(recorder.interactions) != tc.wantRecorded {
				t.Errorf("recorded %d interactions, want %d", len(recorder.interactions), tc.wantRecorded)
			}
		})
	}
}

func TestSlackHandler_RecorderErrorIsLogged(t *testing.T) {
	recorder := &mockRecorder{err: errors.New("db down")}
	handler := newTestSlackHandler(recorder)

	handler.handleEvent(context.Background(), socketmode.Event{
		Type: socketmode.EventTypeInteractive,
		Data: slack.InteractionCallback{Type: slack.InteractionTypeBlockActions},
	})

	if len(recorder.interactions) != 1 {
		t.Fatalf("expected the recorder to be called once, got %d", len(recorder.interactions))
	}
}

func TestSlackHandler_HandleEventsStopsOnCancel(t *testing.T) {
	handler := newTestSlackHandler(&mockRecorder{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		handler.handleEvents(ctx)
		close(done)
	}()

	cancel()
	<-done
}
