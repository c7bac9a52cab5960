// Package queue carries session events over RabbitMQ: the publisher used by
// the portal, and the consumer behind cmd/session-audit that appends them to
// logs/session.log.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/rentdesk-portal/internal/session"
)

// SessionQueue is the durable queue session events are published to.
const SessionQueue = "session.events"

// Decode parses a message body into a session event.
func Decode(body []byte) (session.Event, error) {
	var ev session.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return session.Event{}, fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.SessionID == "" {
		return session.Event{}, fmt.Errorf("event missing type or session id")
	}
	return ev, nil
}

// FormatLine renders ev as one line of the audit log.
func FormatLine(ev session.Event) string {
	user, role := ev.UserID, string(ev.Role)
	if user == "" {
		user = "-"
	}
	if role == "" {
		role = "-"
	}
	return fmt.Sprintf("[%s] Session %s | session_id=%s | user_id=%s | role=%s\n",
		ev.At.UTC().Format(time.RFC3339), ev.Type, ev.SessionID, user, role)
}
