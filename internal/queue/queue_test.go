package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/rentdesk-portal/internal/model"
	"github.com/iliyamo/rentdesk-portal/internal/session"
)

var at = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func TestFormatLine(t *testing.T) {
	line := FormatLine(session.Event{Type: session.EventLogin, SessionID: "s1", UserID: "u1", Role: model.RoleAdmin, At: at})
	assert.Equal(t, "[2026-03-01T09:30:00Z] Session login | session_id=s1 | user_id=u1 | role=admin\n", line)

	line = FormatLine(session.Event{Type: session.EventLogout, SessionID: "s1", At: at})
	assert.Equal(t, "[2026-03-01T09:30:00Z] Session logout | session_id=s1 | user_id=- | role=-\n", line)
}

func TestDecodeRejectsIncompleteEvents(t *testing.T) {
	_, err := Decode([]byte(`{"type":"login"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	ev, err := Decode([]byte(`{"type":"forced_logout","session_id":"s9","at":"2026-03-01T09:30:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, session.EventForcedLogout, ev.Type)
	assert.True(t, ev.At.Equal(at))
}

func TestHandleAppendsLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	c := &Consumer{Dir: dir, Log: zerolog.Nop()}

	for _, typ := range []session.EventType{session.EventLogin, session.EventRefreshed} {
		body, err := json.Marshal(session.Event{Type: typ, SessionID: "s1", UserID: "u1", At: at})
		require.NoError(t, err)
		require.NoError(t, c.Handle(body))
	}
	assert.Error(t, c.Handle([]byte(`{}`)))

	b, err := os.ReadFile(filepath.Join(dir, "session.log"))
	require.NoError(t, err)
	assert.Equal(t,
		"[2026-03-01T09:30:00Z] Session login | session_id=s1 | user_id=u1 | role=-\n"+
			"[2026-03-01T09:30:00Z] Session refreshed | session_id=s1 | user_id=u1 | role=-\n",
		string(b))
}

type fakeChannel struct {
	mu        sync.Mutex
	declared  []string
	published []amqp.Publishing
	failNext  bool
	closed    int
}

func (f *fakeChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("channel closed")
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestPublisherSendsAndRedials(t *testing.T) {
	ch := &fakeChannel{failNext: true}
	var dials int
	var dialMu sync.Mutex
	p := NewPublisher(func() (Channel, func() error, error) {
		dialMu.Lock()
		dials++
		dialMu.Unlock()
		return ch, func() error { return nil }, nil
	}, 8, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	require.NoError(t, p.Publish(ctx, session.Event{Type: session.EventLogin, SessionID: "s1", At: at}))
	require.NoError(t, p.Publish(ctx, session.Event{Type: session.EventLogout, SessionID: "s1", At: at}))

	assert.Eventually(t, func() bool { return ch.count() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, "logout", ch.published[0].Type, "first send failed and was dropped")
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.Equal(t, []string{SessionQueue, SessionQueue}, ch.declared)
	dialMu.Lock()
	assert.Equal(t, 2, dials)
	dialMu.Unlock()
}

func TestPublisherBufferFull(t *testing.T) {
	p := NewPublisher(func() (Channel, func() error, error) { return nil, nil, errors.New("down") }, 1, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, session.Event{Type: session.EventLogin}))
	assert.ErrorIs(t, p.Publish(ctx, session.Event{Type: session.EventLogin}), ErrBufferFull)
}
