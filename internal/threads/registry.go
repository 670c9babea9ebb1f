// Package threads keeps at most one active Slack thread per Channel.io conversation.
//
// A binding maps a conversation id to a thread handle (a Slack message ts) and
// expires after a TTL. Expired bindings are ignored but never deleted; the next
// Bind for the same conversation overwrites them.
//
// Lookup followed by Bind is not atomic. Two deliveries for a brand-new
// conversation processed at the same time can both see no binding and open two
// threads; the later Bind wins. Closing that gap needs a bind-if-absent
// primitive in the store.
package threads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"supportdraft/internal/domain"
)

// DefaultTTL is how long a thread stays active after its last notification
const DefaultTTL = 48 * time.Hour

// Binding associates one conversation with its discussion thread
type Binding struct {
	ConversationID string    `json:"conversation_id"`
	ThreadHandle   string    `json:"thread_handle"`
	LastUpdatedAt  time.Time `json:"last_updated_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Active reports whether the binding is still authoritative at now
func (b Binding) Active(now time.Time) bool {
	return b.ExpiresAt.After(now)
}

// Store persists bindings keyed by conversation id
type Store interface {
	// Active returns the freshest binding for the conversation whose ExpiresAt
	// is after now, or nil when there is none
	Active(ctx context.Context, conversationID string, now time.Time) (*Binding, error)
	// Upsert creates or overwrites the binding for b.ConversationID
	Upsert(ctx context.Context, b Binding) error
}

// Registry implements lookup/bind semantics over a Store
type Registry struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a registry. A non-positive ttl falls back to DefaultTTL.
func NewRegistry(store Store, ttl time.Duration, opts ...Option) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{store: store, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL returns the registry's default binding lifetime
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Lookup returns the active thread handle for a conversation.
// ok is false when no binding exists or the binding has expired.
func (r *Registry) Lookup(ctx context.Context, conversationID string) (handle string, ok bool, err error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", false, fmt.Errorf("%w: conversation id is empty", domain.ErrInvalidInput)
	}

	now := r.now()
	b, err := r.store.Active(ctx, conversationID, now)
	if err != nil {
		return "", false, unavailable("lookup thread", err)
	}
	if b == nil || b.ThreadHandle == "" || !b.Active(now) {
		return "", false, nil
	}
	return b.ThreadHandle, true, nil
}

// Bind creates or overwrites the binding for a conversation so that Lookup
// returns handle until ttl elapses. ttl <= 0 stores an already-expired binding.
func (r *Registry) Bind(ctx context.Context, conversationID, handle string, ttl time.Duration) error {
	if strings.TrimSpace(conversationID) == "" || strings.TrimSpace(handle) == "" {
		return fmt.Errorf("%w: conversation id and thread handle are required", domain.ErrInvalidInput)
	}
	if ttl < 0 {
		ttl = 0
	}

	now := r.now()
	b := Binding{
		ConversationID: conversationID,
		ThreadHandle:   handle,
		LastUpdatedAt:  now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := r.store.Upsert(ctx, b); err != nil {
		return unavailable("bind thread", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}
