package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xavierca1/lead-pipeline/internal/entity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeListener struct {
	mu        sync.Mutex
	channels  []string
	listenErr error
	closed    bool
	ch        chan *pq.Notification
}

func newFakeListener() *fakeListener {
	return &fakeListener{ch: make(chan *pq.Notification)}
}

func (l *fakeListener) Listen(channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listenErr != nil {
		return l.listenErr
	}
	l.channels = append(l.channels, channel)
	return nil
}

func (l *fakeListener) NotificationChannel() <-chan *pq.Notification { return l.ch }

func (l *fakeListener) Ping() error { return nil }

func (l *fakeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

type recorder struct {
	mu      sync.Mutex
	events  []entity.ChangeEvent
	resyncs int
}

func (r *recorder) onChange(ev entity.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) onResync() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resyncs++
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events), r.resyncs
}

func TestDispatchRoutesByTable(t *testing.T) {
	hub := NewHub(newFakeListener(), nil)

	var leads, contacts recorder
	_, err := hub.Subscribe("leads", leads.onChange, leads.onResync)
	require.NoError(t, err)
	_, err = hub.Subscribe("contacts", contacts.onChange, contacts.onResync)
	require.NoError(t, err)

	hub.Dispatch(&pq.Notification{
		Channel: "leads_changes",
		Extra:   `{"type":"UPDATE","table":"leads","record":{"phone":"111","stage":"Nutrición"},"old_record":{"phone":"111"}}`,
	})

	require.Len(t, leads.events, 1)
	assert.Equal(t, entity.ChangeUpdate, leads.events[0].Type)
	assert.JSONEq(t, `{"phone":"111","stage":"Nutrición"}`, string(leads.events[0].Record))
	assert.Empty(t, contacts.events)
}

func TestDispatchFallsBackToChannelName(t *testing.T) {
	hub := NewHub(newFakeListener(), nil)

	var rec recorder
	_, err := hub.Subscribe("properties", rec.onChange, nil)
	require.NoError(t, err)

	hub.Dispatch(&pq.Notification{Channel: "properties_changes", Extra: `{"type":"DELETE","old_record":{"id":"x"}}`})

	require.Len(t, rec.events, 1)
	assert.Equal(t, "properties", rec.events[0].Table)
}

func TestDispatchDropsUndecodablePayload(t *testing.T) {
	hub := NewHub(newFakeListener(), nil)

	var rec recorder
	_, err := hub.Subscribe("leads", rec.onChange, nil)
	require.NoError(t, err)

	hub.Dispatch(&pq.Notification{Channel: "leads_changes", Extra: "not json"})

	assert.Empty(t, rec.events)
}

func TestSubscribeErrors(t *testing.T) {
	hub := NewHub(newFakeListener(), nil)

	_, err := hub.Subscribe("invoices", func(entity.ChangeEvent) {}, nil)
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = hub.Subscribe("leads", nil, nil)
	assert.Error(t, err)
}

func TestSubscriptionCloseUnregisters(t *testing.T) {
	hub := NewHub(newFakeListener(), nil)

	var rec recorder
	sub, err := hub.Subscribe("leads", rec.onChange, nil)
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	hub.Dispatch(&pq.Notification{Channel: "leads_changes", Extra: `{"type":"INSERT","table":"leads","record":{"phone":"1"}}`})
	assert.Empty(t, rec.events)
}

func TestStartListensAndRuns(t *testing.T) {
	listener := newFakeListener()
	hub := NewHub(listener, nil)

	var leads, props recorder
	_, err := hub.Subscribe("leads", leads.onChange, leads.onResync)
	require.NoError(t, err)
	_, err = hub.Subscribe("properties", props.onChange, props.onResync)
	require.NoError(t, err)

	require.NoError(t, hub.Start(context.Background()))
	assert.Equal(t, []string{"leads_changes", "contacts_changes", "properties_changes"}, listener.channels)

	listener.ch <- &pq.Notification{Channel: "leads_changes", Extra: `{"type":"INSERT","table":"leads","record":{"phone":"1"}}`}
	// nil signals a reconnect
	listener.ch <- nil

	require.Eventually(t, func() bool {
		events, resyncs := leads.counts()
		return events == 1 && resyncs == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, resyncs := props.counts()
		return resyncs == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Close())
	assert.True(t, listener.closed)
}

func TestStartListenFailure(t *testing.T) {
	listener := newFakeListener()
	listener.listenErr = errors.New("connection refused")
	hub := NewHub(listener, nil)

	err := hub.Start(context.Background())

	assert.ErrorContains(t, err, "leads_changes")
	require.NoError(t, hub.Close())
}

func TestRunStopsWithContext(t *testing.T) {
	listener := newFakeListener()
	hub := NewHub(listener, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, hub.Start(ctx))
	cancel()

	select {
	case <-hub.done:
	case <-time.After(time.Second):
		t.Fatal("dispatch loop did not stop")
	}
	require.NoError(t, hub.Close())
}
