package domain

import "time"

// Inquiry is one customer message taken from a Channel.io webhook
type Inquiry struct {
	EventID      string    `json:"event_id"`
	ChatID       string    `json:"chat_id"`
	Query        string    `json:"query"`
	CustomerName string    `json:"customer_name,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	ChatLink     string    `json:"chat_link,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// OrderInfo is what the order system told us about an order number found in
// the inquiry. Summary carries a human-readable failure reason when the
// lookup did not succeed.
type OrderInfo struct {
	OrderNumber string `json:"order_number"`
	OrderID     string `json:"order_id"`
	Summary     string `json:"summary"`
	URL         string `json:"url,omitempty"`
	Found       bool   `json:"found"`
}

// Notification is the draft posted for human review. ReferenceNote is shown
// in place of the reference count when no chunk was used.
type Notification struct {
	Inquiry        Inquiry
	Order          *OrderInfo
	Draft          string
	ReferenceCount int
	ReferenceNote  string
}

// ErrorReport describes a failed pipeline step for the error channel
type ErrorReport struct {
	Step        string
	Err         error
	Query       string
	UserID      string
	OrderNumber string
	OccurredAt  time.Time
}
