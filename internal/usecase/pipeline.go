package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xavierca1/lead-pipeline/internal/entity"
	"github.com/xavierca1/lead-pipeline/internal/infra/http/middleware"
	"github.com/xavierca1/lead-pipeline/internal/infra/queue"
)

const leadsTable = "leads"

var ErrSynchronizerClosed = errors.New("pipeline synchronizer closed")

// Subscription is a live change-feed registration. Close releases it.
type Subscription interface {
	Close() error
}

// ChangeSubscriber opens change feeds per table. onResync fires when the feed
// may have missed notifications (e.g. after a reconnect).
type ChangeSubscriber interface {
	Subscribe(table string, onChange func(entity.ChangeEvent), onResync func()) (Subscription, error)
}

// PipelineState is what the board renders.
type PipelineState struct {
	Leads     []entity.Lead `json:"leads"`
	IsLoading bool          `json:"is_loading"`
	Error     string        `json:"error,omitempty"`
}

type StageColumn struct {
	ID            entity.Stage   `json:"id"`
	Title         entity.Stage   `json:"title"`
	Leads         []entity.Lead  `json:"leads"`
	Count         int            `json:"count"`
	PropertyTypes map[string]int `json:"property_types"`
}

// PipelineSynchronizer keeps the in-memory lead collection consistent with
// the store across bulk loads, optimistic edits and the change feed.
//
// Optimistic edits and change events touching the same lead are
// last-write-wins: whichever handler runs last owns the record.
type PipelineSynchronizer struct {
	repo      entity.LeadRepositoryInterface
	feed      ChangeSubscriber
	publisher queue.QueueProducerInterface
	logger    *zap.Logger
	loads     singleflight.Group

	mu      sync.RWMutex
	leads   []entity.Lead
	loading bool
	errMsg  string
	closed  bool
	sub     Subscription
	// pending holds change events seen while a load is in flight; they are
	// replayed over the loaded rows.
	pending []entity.LeadChange
}

// NewPipelineSynchronizer builds a synchronizer. feed and publisher may be nil.
func NewPipelineSynchronizer(
	repo entity.LeadRepositoryInterface,
	feed ChangeSubscriber,
	publisher queue.QueueProducerInterface,
	logger *zap.Logger,
) *PipelineSynchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineSynchronizer{
		repo:      repo,
		feed:      feed,
		publisher: publisher,
		logger:    logger.Named("pipeline"),
	}
}

// Start subscribes to the leads feed and performs the initial load. The
// subscription is opened first; events that arrive while the load is in
// flight are replayed over its result.
// A failed load is kept in State and does not fail Start.
func (s *PipelineSynchronizer) Start(ctx context.Context) error {
	if s.feed != nil {
		sub, err := s.feed.Subscribe(leadsTable, s.OnRemoteChange, s.resync)
		if err != nil {
			return fmt.Errorf("subscribe to %s changes: %w", leadsTable, err)
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			sub.Close()
			return ErrSynchronizerClosed
		}
		s.sub = sub
		s.mu.Unlock()
		s.logger.Info("realtime subscription open", zap.String("table", leadsTable))
	}

	if err := s.LoadAll(ctx); err != nil {
		s.logger.Warn("initial load failed", zap.Error(err))
	}
	return nil
}

// Close releases the change subscription. Results of calls still in flight
// are discarded. Safe to call more than once.
func (s *PipelineSynchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	s.logger.Info("closing realtime subscription", zap.String("table", leadsTable))
	return sub.Close()
}

// LoadAll replaces the collection with the store's leads, newest first.
// Concurrent callers share one fetch. On failure nothing is replaced. Change
// events received during the fetch are applied again on top of the result.
func (s *PipelineSynchronizer) LoadAll(ctx context.Context) error {
	_, err, _ := s.loads.Do(leadsTable, func() (any, error) {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSynchronizerClosed
		}
		s.loading = true
		s.pending = nil
		s.mu.Unlock()

		data, err := s.repo.ListOrderedByCreatedDesc(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.loading = false
		pending := s.pending
		s.pending = nil

		if s.closed {
			return nil, ErrSynchronizerClosed
		}

		if err != nil {
			middleware.RecordLoad("error")
			s.errMsg = fmt.Sprintf("failed to load leads: %v", err)
			return nil, &TechnicalError{Code: CodeLoadFailed, Message: "failed to load leads", Err: err}
		}

		middleware.RecordLoad("ok")
		s.leads = data
		for _, change := range pending {
			s.reconcile(change, change.Key())
		}
		s.errMsg = ""
		s.logger.Debug("leads loaded",
			zap.Int("count", len(data)),
			zap.Int("replayed", len(pending)),
		)
		return nil, nil
	})
	return err
}

func (s *PipelineSynchronizer) resync() {
	s.logger.Info("change feed resync requested, reloading leads")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.LoadAll(ctx); err != nil && !errors.Is(err, ErrSynchronizerClosed) {
		s.logger.Warn("resync load failed", zap.Error(err))
	}
}

// UpdateStage moves a lead locally, then persists the move. When the store
// rejects it the local record is restored and the error is kept in State.
func (s *PipelineSynchronizer) UpdateStage(ctx context.Context, phone string, stage entity.Stage) error {
	if !stage.Valid() {
		return &DomainError{Code: CodeValidation, Message: fmt.Sprintf("invalid stage %q", stage), Err: entity.ErrInvalidStage}
	}

	var prev entity.Lead
	tx := NewTransaction(s.logger)
	tx.AddOperation("apply stage locally",
		func(context.Context) error {
			var err error
			prev, err = s.applyLocal(phone, func(l *entity.Lead) { l.Stage = stage })
			return err
		},
		func(context.Context) error { return s.restore(prev) },
	)
	tx.AddOperation("persist stage",
		func(ctx context.Context) error {
			_, err := s.repo.UpdateStage(ctx, phone, stage)
			return err
		},
		nil,
	)

	if err := tx.Execute(ctx); err != nil {
		middleware.RecordStageMove(string(stage), "rolled_back")
		return s.mutationFailed("failed to update lead stage", err)
	}

	middleware.RecordStageMove(string(stage), "ok")
	s.logger.Info("lead stage updated",
		zap.String("phone", phone),
		zap.String("from", string(prev.Stage)),
		zap.String("to", string(stage)),
	)
	s.publishStageChange(ctx, prev, stage)
	return nil
}

// UpdateNotes follows the same optimistic contract as UpdateStage. An empty
// text clears the notes.
func (s *PipelineSynchronizer) UpdateNotes(ctx context.Context, phone, text string) error {
	var notes *string
	if text != "" {
		notes = &text
	}

	var prev entity.Lead
	tx := NewTransaction(s.logger)
	tx.AddOperation("apply notes locally",
		func(context.Context) error {
			var err error
			prev, err = s.applyLocal(phone, func(l *entity.Lead) { l.Notes = notes })
			return err
		},
		func(context.Context) error { return s.restore(prev) },
	)
	tx.AddOperation("persist notes",
		func(ctx context.Context) error {
			_, err := s.repo.UpdateNotes(ctx, phone, notes)
			return err
		},
		nil,
	)

	if err := tx.Execute(ctx); err != nil {
		return s.mutationFailed("failed to update lead notes", err)
	}
	return nil
}

func (s *PipelineSynchronizer) mutationFailed(msg string, err error) error {
	if errors.Is(err, entity.ErrLeadNotFound) {
		return &DomainError{Code: CodeNotFound, Message: "lead not found", Err: err}
	}
	if errors.Is(err, ErrSynchronizerClosed) {
		return err
	}

	s.mu.Lock()
	if !s.closed {
		s.errMsg = fmt.Sprintf("%s: %v", msg, err)
	}
	s.mu.Unlock()

	s.logger.Warn(msg, zap.Error(err))
	return &TechnicalError{Code: CodeMutationFailed, Message: msg, Err: err}
}

// applyLocal mutates the lead in place and returns its prior value.
func (s *PipelineSynchronizer) applyLocal(phone string, mutate func(*entity.Lead)) (entity.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return entity.Lead{}, ErrSynchronizerClosed
	}

	i := s.indexOf(phone)
	if i < 0 {
		return entity.Lead{}, entity.ErrLeadNotFound
	}

	prev := s.leads[i]
	// Copy on write: snapshots handed out earlier must not observe the edit.
	next := make([]entity.Lead, len(s.leads))
	copy(next, s.leads)
	mutate(&next[i])
	s.leads = next
	return prev, nil
}

// restore puts back a pre-mutation record. A lead removed in the meantime by
// the change feed stays removed.
func (s *PipelineSynchronizer) restore(prev entity.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	i := s.indexOf(prev.Phone)
	if i < 0 {
		return nil
	}

	next := make([]entity.Lead, len(s.leads))
	copy(next, s.leads)
	next[i] = prev
	s.leads = next
	return nil
}

func (s *PipelineSynchronizer) publishStageChange(ctx context.Context, prev entity.Lead, stage entity.Stage) {
	if s.publisher == nil {
		return
	}

	event := queue.StageChangedEvent{
		Phone:            prev.Phone,
		Name:             prev.Name,
		PropertyInterest: prev.PropertyInterest,
		FromStage:        string(prev.Stage),
		ToStage:          string(stage),
		ChangedAt:        time.Now().UTC(),
	}
	if err := s.publisher.PublishStageChange(ctx, event); err != nil {
		middleware.RecordIntegrationError("rabbitmq")
		s.logger.Error("stage persisted but publish failed",
			zap.String("phone", prev.Phone),
			zap.Error(err),
		)
	}
}

// OnRemoteChange reconciles one change-feed event into the collection.
// Events without a usable key are dropped.
func (s *PipelineSynchronizer) OnRemoteChange(ev entity.ChangeEvent) {
	change := entity.DecodeLeadChange(ev)
	key := change.Key()
	if key == "" {
		middleware.RecordChangeEvent(leadsTable, string(ev.Type), "malformed")
		s.logger.Debug("dropping change event without key", zap.String("type", string(ev.Type)))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	result := s.reconcile(change, key)
	if s.loading {
		s.pending = append(s.pending, change)
	}
	middleware.RecordChangeEvent(leadsTable, string(change.Type), result)
	s.logger.Debug("change event reconciled",
		zap.String("type", string(change.Type)),
		zap.String("phone", key),
		zap.String("result", result),
	)
}

// reconcile must be called with s.mu held.
func (s *PipelineSynchronizer) reconcile(change entity.LeadChange, key string) string {
	i := s.indexOf(key)

	switch change.Type {
	case entity.ChangeInsert:
		if change.New == nil {
			return "malformed"
		}
		if i >= 0 {
			return "duplicate"
		}
		next := make([]entity.Lead, 0, len(s.leads)+1)
		next = append(next, *change.New)
		s.leads = append(next, s.leads...)
		return "applied"

	case entity.ChangeUpdate:
		if change.New == nil {
			return "malformed"
		}
		if i < 0 {
			return "unknown_key"
		}
		next := make([]entity.Lead, len(s.leads))
		copy(next, s.leads)
		next[i] = *change.New
		s.leads = next
		return "applied"

	case entity.ChangeDelete:
		if i < 0 {
			return "unknown_key"
		}
		next := make([]entity.Lead, 0, len(s.leads)-1)
		next = append(next, s.leads[:i]...)
		s.leads = append(next, s.leads[i+1:]...)
		return "applied"
	}

	return "unknown_type"
}

func (s *PipelineSynchronizer) indexOf(phone string) int {
	for i := range s.leads {
		if s.leads[i].Phone == phone {
			return i
		}
	}
	return -1
}

// State returns a snapshot safe to hand to other goroutines.
func (s *PipelineSynchronizer) State() PipelineState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	leads := make([]entity.Lead, len(s.leads))
	copy(leads, s.leads)
	return PipelineState{
		Leads:     leads,
		IsLoading: s.loading,
		Error:     s.errMsg,
	}
}

// Leads returns a copy of the current collection.
func (s *PipelineSynchronizer) Leads() []entity.Lead {
	return s.State().Leads
}

// StageColumns groups the current collection by stage, in stage order.
// It has no side effects.
func (s *PipelineSynchronizer) StageColumns() []StageColumn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return BuildStageColumns(s.leads)
}

// BuildStageColumns partitions leads into one column per stage, keeping the
// input order inside each column.
func BuildStageColumns(leads []entity.Lead) []StageColumn {
	columns := make([]StageColumn, 0, len(entity.PipelineStages))
	for _, stage := range entity.PipelineStages {
		col := StageColumn{
			ID:            stage,
			Title:         stage,
			Leads:         []entity.Lead{},
			PropertyTypes: map[string]int{},
		}
		for _, l := range leads {
			if l.Stage != stage {
				continue
			}
			col.Leads = append(col.Leads, l)
			col.PropertyTypes[l.PropertyInterest]++
		}
		col.Count = len(col.Leads)
		columns = append(columns, col)
	}
	return columns
}
