package slack

import (
	"encoding/json"

	"supportdraft/internal/storage"
)

// Action ids of the feedback buttons attached to every draft
const (
	ActionIgnoreAI           = "ignore_ai_button"
	ActionIgnoreNotification = "ignore_notification_button"
)

var feedbackTypes = map[string]string{
	ActionIgnoreAI:           storage.FeedbackIgnoreAI,
	ActionIgnoreNotification: storage.FeedbackIgnoreNotification,
}

// FeedbackTypeForAction maps a button action id to the stored feedback type
func FeedbackTypeForAction(actionID string) (string, bool) {
	t, ok := feedbackTypes[actionID]
	return t, ok
}

// ButtonValue is the context carried in a feedback button's value
type ButtonValue struct {
	OriginalQuery string `json:"originalQuery"`
	ChatID        string `json:"chatId"`
}

// Slack caps button values at 2000 characters
const maxButtonValue = 2000

func (v ButtonValue) Encode() string {
	data, _ := json.Marshal(v)
	for len(data) > maxButtonValue && v.OriginalQuery != "" {
		runes := []rune(v.OriginalQuery)
		v.OriginalQuery = string(runes[:len(runes)*3/4])
		data, _ = json.Marshal(v)
	}
	return string(data)
}
