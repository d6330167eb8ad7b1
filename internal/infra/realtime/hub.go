package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-pipeline/internal/entity"
	"github.com/xavierca1/lead-pipeline/internal/usecase"
)

const (
	channelSuffix = "_changes"
	pingInterval  = 90 * time.Second
)

// Tables announced by the notify triggers.
var Tables = []string{"leads", "contacts", "properties"}

var ErrUnknownTable = errors.New("table has no change feed")

// Listener is the part of *pq.Listener the hub drives.
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

type handler struct {
	onChange func(entity.ChangeEvent)
	onResync func()
}

// Hub fans Postgres NOTIFY payloads out to per-table subscribers.
type Hub struct {
	listener Listener
	logger   *zap.Logger

	mu       sync.RWMutex
	handlers map[string]map[uint64]handler
	nextID   uint64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener opens a pq listener that logs connection events.
func NewListener(dsn string, logger *zap.Logger) *pq.Listener {
	return pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Info("change feed connected")
		case pq.ListenerEventDisconnected:
			logger.Warn("change feed disconnected", zap.Error(err))
		case pq.ListenerEventReconnected:
			logger.Info("change feed reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Warn("change feed connection attempt failed", zap.Error(err))
		}
	})
}

func NewHub(listener Listener, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		listener: listener,
		logger:   logger.Named("realtime"),
		handlers: make(map[string]map[uint64]handler, len(Tables)),
	}
	for _, t := range Tables {
		h.handlers[t] = map[uint64]handler{}
	}
	return h
}

// Start listens on every table channel and dispatches until ctx ends or
// Close is called.
func (h *Hub) Start(ctx context.Context) error {
	for _, t := range Tables {
		if err := h.listener.Listen(t + channelSuffix); err != nil {
			return fmt.Errorf("listen %s: %w", t+channelSuffix, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.run(ctx)

	h.logger.Info("change feed started", zap.Strings("tables", Tables))
	return nil
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	notifications := h.listener.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notifications:
			if !ok {
				return
			}
			// pq delivers nil after a reconnect; anything sent meanwhile is lost.
			if n == nil {
				h.resyncAll()
				continue
			}
			h.Dispatch(n)
		case <-ticker.C:
			if err := h.listener.Ping(); err != nil {
				h.logger.Warn("change feed ping failed", zap.Error(err))
			}
		}
	}
}

// Dispatch decodes one notification and hands it to the table's subscribers.
func (h *Hub) Dispatch(n *pq.Notification) {
	var ev entity.ChangeEvent
	if err := json.Unmarshal([]byte(n.Extra), &ev); err != nil {
		h.logger.Warn("undecodable change payload",
			zap.String("channel", n.Channel),
			zap.Error(err),
		)
		return
	}
	if ev.Table == "" {
		ev.Table = strings.TrimSuffix(n.Channel, channelSuffix)
	}

	for _, hd := range h.snapshot(ev.Table) {
		hd.onChange(ev)
	}
}

func (h *Hub) resyncAll() {
	h.logger.Info("change feed reconnected, requesting resync")
	for _, t := range Tables {
		for _, hd := range h.snapshot(t) {
			if hd.onResync != nil {
				hd.onResync()
			}
		}
	}
}

func (h *Hub) snapshot(table string) []handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]handler, 0, len(h.handlers[table]))
	for _, hd := range h.handlers[table] {
		out = append(out, hd)
	}
	return out
}

// Subscribe implements usecase.ChangeSubscriber.
func (h *Hub) Subscribe(table string, onChange func(entity.ChangeEvent), onResync func()) (usecase.Subscription, error) {
	if onChange == nil {
		return nil, errors.New("onChange is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.handlers[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	h.nextID++
	id := h.nextID
	subs[id] = handler{onChange: onChange, onResync: onResync}

	return &subscription{hub: h, table: table, id: id}, nil
}

func (h *Hub) unsubscribe(table string, id uint64) {
	h.mu.Lock()
	delete(h.handlers[table], id)
	h.mu.Unlock()
}

// Close stops dispatching and closes the listener.
func (h *Hub) Close() error {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	return h.listener.Close()
}

type subscription struct {
	hub   *Hub
	table string
	id    uint64
	once  sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() { s.hub.unsubscribe(s.table, s.id) })
	return nil
}
