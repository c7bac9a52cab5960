package session

import (
	"encoding/json"
	"fmt"

	"github.com/iliyamo/rentdesk-portal/internal/model"
)

// KeyPrefix namespaces persisted records.  The full key is
// "auth-storage:<session id>".
const KeyPrefix = "auth-storage"

// Key returns the persistence key for a session id.
func Key(sessionID string) string { return KeyPrefix + ":" + sessionID }

// State is the persisted subset of a session.  isLoading and the hydration
// flag never leave the process.
type State struct {
	User            *model.User
	Token           string
	IsAuthenticated bool
}

// derive recomputes IsAuthenticated from User and Token.
func (s State) derive() State {
	s.IsAuthenticated = s.User != nil && s.Token != ""
	return s
}

// record is the JSON shape of the auth-storage entry.  token is nullable on
// the wire; an empty token is written as null.
type record struct {
	User            *model.User `json:"user"`
	Token           *string     `json:"token"`
	IsAuthenticated bool        `json:"isAuthenticated"`
}

// EncodeRecord maps a state to its persisted JSON form.  The stored
// isAuthenticated is always the derived value, whatever the caller passed.
func EncodeRecord(s State) ([]byte, error) {
	s = s.derive()
	rec := record{User: s.User, IsAuthenticated: s.IsAuthenticated}
	if s.Token != "" {
		tok := s.Token
		rec.Token = &tok
	}
	return json.Marshal(rec)
}

// DecodeRecord parses a persisted record.  The stored isAuthenticated flag is
// ignored and re-derived, so a hand-edited or truncated record can never
// claim a session it does not hold.
func DecodeRecord(b []byte) (State, error) {
	var rec record
	if err := json.Unmarshal(b, &rec); err != nil {
		return State{}, fmt.Errorf("decode auth-storage record: %w", err)
	}
	s := State{User: rec.User}
	if rec.Token != nil {
		s.Token = *rec.Token
	}
	return s.derive(), nil
}
