package session

import (
	"context"
	"time"

	"github.com/iliyamo/rentdesk-portal/internal/model"
)

// EventType names a session transition worth telling the rest of the system
// about.
type EventType string

const (
	EventLogin        EventType = "login"
	EventLogout       EventType = "logout"
	EventForcedLogout EventType = "forced_logout" // credential rejected by the API
	EventRefreshed    EventType = "refreshed"
)

// Event describes one transition.  It never carries the token.
type Event struct {
	Type      EventType  `json:"type"`
	SessionID string     `json:"session_id"`
	UserID    string     `json:"user_id,omitempty"`
	Role      model.Role `json:"role,omitempty"`
	At        time.Time  `json:"at"`
}

// EventSink receives session events.  Publish must not block for long; the
// store calls it after every committed transition, outside its lock.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

type discardSink struct{}

func (discardSink) Publish(context.Context, Event) error { return nil }
