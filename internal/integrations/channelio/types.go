package channelio

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"supportdraft/internal/domain"
)

// Person types on a message entity
const (
	PersonUser    = "user"
	PersonManager = "manager"
	PersonBot     = "bot"
)

// WebhookPayload is the body Channel.io posts for message events
type WebhookPayload struct {
	Event  string `json:"event"`
	Type   string `json:"type"`
	Entity Entity `json:"entity"`
	Refers Refers `json:"refers"`
}

type Entity struct {
	ID             string   `json:"id"`
	ChatID         string   `json:"chatId"`
	PersonID       string   `json:"personId"`
	PersonType     string   `json:"personType"`
	PlainText      string   `json:"plainText"`
	WorkflowButton bool     `json:"workflowButton"`
	Options        []string `json:"options,omitempty"`
	CreatedAt      int64    `json:"createdAt,omitempty"`
}

type Refers struct {
	UserChat *UserChat `json:"userChat,omitempty"`
	User     *User     `json:"user,omitempty"`
}

type UserChat struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	UserID string `json:"userId"`
}

type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SkipReason explains why a payload is not an inquiry, or is empty when it is one
func (p WebhookPayload) SkipReason() string {
	switch {
	case p.Entity.PersonType != PersonUser:
		return fmt.Sprintf("message from %q", p.Entity.PersonType)
	case p.Entity.WorkflowButton:
		return "workflow button"
	case strings.TrimSpace(p.Entity.PlainText) == "":
		return "no text"
	case p.chatID() == "":
		return "no chat id"
	default:
		return ""
	}
}

func (p WebhookPayload) chatID() string {
	if p.Entity.ChatID != "" {
		return p.Entity.ChatID
	}
	if p.Refers.UserChat != nil {
		return p.Refers.UserChat.ID
	}
	return ""
}

// ToInquiry converts a customer message into an inquiry. deskURL is the
// Channel.io desk base used to build the chat link and may be empty.
func (p WebhookPayload) ToInquiry(deskURL string, receivedAt time.Time) (domain.Inquiry, error) {
	if reason := p.SkipReason(); reason != "" {
		return domain.Inquiry{}, fmt.Errorf("%w: %s", domain.ErrInvalidInput, reason)
	}

	eventID := p.Entity.ID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	inq := domain.Inquiry{
		EventID:    eventID,
		ChatID:     p.chatID(),
		Query:      strings.TrimSpace(p.Entity.PlainText),
		UserID:     p.Entity.PersonID,
		ReceivedAt: receivedAt,
	}
	if p.Refers.User != nil {
		inq.CustomerName = p.Refers.User.Name
		if inq.UserID == "" {
			inq.UserID = p.Refers.User.ID
		}
	}
	if inq.UserID == "" && p.Refers.UserChat != nil {
		inq.UserID = p.Refers.UserChat.UserID
	}
	if deskURL != "" {
		inq.ChatLink = strings.TrimRight(deskURL, "/") + "/user_chats/" + inq.ChatID
	}
	return inq, nil
}
