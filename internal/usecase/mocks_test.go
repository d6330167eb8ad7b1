package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xavierca1/lead-pipeline/internal/entity"
	"github.com/xavierca1/lead-pipeline/internal/infra/queue"
)

// MockLeadRepository
type MockLeadRepository struct {
	mock.Mock
}

func (m *MockLeadRepository) ListOrderedByCreatedDesc(ctx context.Context) ([]entity.Lead, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Lead), args.Error(1)
}

func (m *MockLeadRepository) UpdateStage(ctx context.Context, phone string, stage entity.Stage) (*entity.Lead, error) {
	args := m.Called(ctx, phone, stage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Lead), args.Error(1)
}

func (m *MockLeadRepository) UpdateNotes(ctx context.Context, phone string, notes *string) (*entity.Lead, error) {
	args := m.Called(ctx, phone, notes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Lead), args.Error(1)
}

func (m *MockLeadRepository) ListStageTallies(ctx context.Context) ([]entity.StageTally, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.StageTally), args.Error(1)
}

// MockQueueProducer
type MockQueueProducer struct {
	mock.Mock
}

func (m *MockQueueProducer) PublishStageChange(ctx context.Context, event queue.StageChangedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// fakeFeed records subscriptions and lets tests push events.
type fakeFeed struct {
	mu   sync.Mutex
	subs map[string][]*fakeSub
	err  error
}

type fakeSub struct {
	feed     *fakeFeed
	table    string
	onChange func(entity.ChangeEvent)
	onResync func()
	closed   bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: map[string][]*fakeSub{}}
}

func (f *fakeFeed) Subscribe(table string, onChange func(entity.ChangeEvent), onResync func()) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSub{feed: f, table: table, onChange: onChange, onResync: onResync}
	f.subs[table] = append(f.subs[table], s)
	return s, nil
}

func (s *fakeSub) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	s.closed = true
	return nil
}

func (f *fakeFeed) active(table string) []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSub
	for _, s := range f.subs[table] {
		if !s.closed {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeFeed) emit(table string, ev entity.ChangeEvent) {
	for _, s := range f.active(table) {
		s.onChange(ev)
	}
}

func (f *fakeFeed) resync(table string) {
	for _, s := range f.active(table) {
		if s.onResync != nil {
			s.onResync()
		}
	}
}

func (f *fakeFeed) closedCount(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs[table] {
		if s.closed {
			n++
		}
	}
	return n
}

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func lead(phone string, stage entity.Stage, interest string) entity.Lead {
	return entity.Lead{
		Phone:            phone,
		Name:             "Lead " + phone,
		PropertyInterest: interest,
		Stage:            stage,
		CreatedAt:        baseTime,
		UpdatedAt:        baseTime,
	}
}

func record(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func leadEvent(t entity.ChangeType, rec, old any) entity.ChangeEvent {
	ev := entity.ChangeEvent{Type: t, Table: "leads"}
	if rec != nil {
		ev.Record = record(rec)
	}
	if old != nil {
		ev.OldRecord = record(old)
	}
	return ev
}

// MockContactRepository
type MockContactRepository struct {
	mock.Mock
}

func (m *MockContactRepository) List(ctx context.Context, q entity.ContactQuery) ([]entity.Contact, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Contact), args.Error(1)
}

func (m *MockContactRepository) GetByPhone(ctx context.Context, phone string) (*entity.Contact, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Contact), args.Error(1)
}

func (m *MockContactRepository) Create(ctx context.Context, c *entity.Contact) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockContactRepository) Upsert(ctx context.Context, c *entity.Contact) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockContactRepository) Update(ctx context.Context, phone string, patch entity.ContactPatch) (*entity.Contact, error) {
	args := m.Called(ctx, phone, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Contact), args.Error(1)
}

func (m *MockContactRepository) Delete(ctx context.Context, phone string) error {
	args := m.Called(ctx, phone)
	return args.Error(0)
}

// MockPropertyRepository
type MockPropertyRepository struct {
	mock.Mock
}

func (m *MockPropertyRepository) List(ctx context.Context, f entity.PropertyFilters) ([]entity.Property, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Property), args.Error(1)
}

func (m *MockPropertyRepository) GetByID(ctx context.Context, id string) (*entity.Property, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Property), args.Error(1)
}

func (m *MockPropertyRepository) Create(ctx context.Context, p *entity.Property) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockPropertyRepository) Update(ctx context.Context, id string, fields map[string]any) (*entity.Property, error) {
	args := m.Called(ctx, id, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Property), args.Error(1)
}

func (m *MockPropertyRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// memCache is an in-process cache.Cache.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets map[string]map[string]bool
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, sets: map[string]map[string]bool{}}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
		delete(c.sets, k)
	}
	return nil
}

func (c *memCache) AddToSet(ctx context.Context, key string, ttl time.Duration, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[key]
	if !ok {
		set = map[string]bool{}
		c.sets[key] = set
	}
	for _, m := range members {
		set[m] = true
	}
	return nil
}

func (c *memCache) Members(ctx context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sets[key]))
	for m := range c.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	_, isSet := c.sets[key]
	return ok || isSet
}
