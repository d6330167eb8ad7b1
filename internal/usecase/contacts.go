package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xavierca1/lead-pipeline/internal/entity"
	"github.com/xavierca1/lead-pipeline/internal/infra/cache"
	"github.com/xavierca1/lead-pipeline/internal/validation"
)

const (
	contactsTable         = "contacts"
	contactsWithStatsKey  = "contacts:with-stats"
	defaultContactsSortBy = "created_at"
	sortByOpportunities   = "total_oportunidades"
)

var contactSortFields = map[string]bool{
	"nombres":           true,
	"created_at":        true,
	"updated_at":        true,
	sortByOpportunities: true,
}

type ContactInput struct {
	Phone   string   `json:"phone" validate:"required,phone"`
	Name    string   `json:"nombres" validate:"required,max=200"`
	Email   *string  `json:"email" validate:"omitempty,email"`
	Company *string  `json:"empresa" validate:"omitempty,max=200"`
	Role    *string  `json:"cargo" validate:"omitempty,max=200"`
	Notes   *string  `json:"notas"`
	Tags    []string `json:"tags" validate:"omitempty,dive,required,max=50"`
}

type ContactUpdateInput struct {
	Phone   string   `json:"phone" validate:"required,phone"`
	Name    *string  `json:"nombres" validate:"omitempty,min=1,max=200"`
	Email   *string  `json:"email" validate:"omitempty,email"`
	Company *string  `json:"empresa" validate:"omitempty,max=200"`
	Role    *string  `json:"cargo" validate:"omitempty,max=200"`
	Notes   *string  `json:"notas"`
	Tags    []string `json:"tags" validate:"omitempty,dive,required,max=50"`
}

type ContactFilters struct {
	Search           string
	Tags             []string
	Company          string
	HasOpportunities *bool
}

type ContactSort struct {
	Field     string
	Ascending bool
}

// StageTallySource lists (contact, stage) pairs from the leads table.
type StageTallySource interface {
	ListStageTallies(ctx context.Context) ([]entity.StageTally, error)
}

type ContactService struct {
	repo     entity.ContactRepositoryInterface
	tallies  StageTallySource
	cache    cache.Cache
	ttl      time.Duration
	validate *validation.Validator
	logger   *zap.Logger

	gen  atomic.Uint64
	mu   sync.Mutex
	subs []Subscription
}

func NewContactService(
	repo entity.ContactRepositoryInterface,
	tallies StageTallySource,
	c cache.Cache,
	ttl time.Duration,
	validate *validation.Validator,
	logger *zap.Logger,
) *ContactService {
	if c == nil {
		c = cache.NewNoop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContactService{
		repo:     repo,
		tallies:  tallies,
		cache:    c,
		ttl:      ttl,
		validate: validate,
		logger:   logger.Named("contacts"),
	}
}

// Watch drops cached stats whenever contacts or leads change.
func (s *ContactService) Watch(feed ChangeSubscriber) error {
	for _, table := range []string{contactsTable, leadsTable} {
		sub, err := feed.Subscribe(table,
			func(entity.ChangeEvent) { s.invalidate(context.Background()) },
			func() { s.invalidate(context.Background()) },
		)
		if err != nil {
			s.Close()
			return err
		}
		s.mu.Lock()
		s.subs = append(s.subs, sub)
		s.mu.Unlock()
	}
	return nil
}

func (s *ContactService) Close() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		errs = append(errs, sub.Close())
	}
	return errors.Join(errs...)
}

// invalidate drops the cached stats. Bumping the generation first makes a
// ListWithStats already reading discard its result.
func (s *ContactService) invalidate(ctx context.Context) {
	s.gen.Add(1)
	if err := s.cache.Delete(ctx, contactsWithStatsKey); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Error(err))
	}
}

func (s *ContactService) List(ctx context.Context) ([]entity.Contact, error) {
	contacts, err := s.repo.List(ctx, entity.ContactQuery{SortField: defaultContactsSortBy})
	if err != nil {
		return nil, &TechnicalError{Code: CodeLoadFailed, Message: "failed to list contacts", Err: err}
	}
	return contacts, nil
}

// ListWithStats returns every contact with opportunity counts, newest first.
func (s *ContactService) ListWithStats(ctx context.Context) ([]entity.ContactWithStats, error) {
	if raw, ok, err := s.cache.Get(ctx, contactsWithStatsKey); err != nil {
		s.logger.Warn("cache read failed", zap.Error(err))
	} else if ok {
		var cached []entity.ContactWithStats
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	gen := s.gen.Load()
	out, err := s.withStats(ctx, entity.ContactQuery{SortField: defaultContactsSortBy})
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(out); err == nil {
		s.remember(ctx, raw, gen)
	}
	return out, nil
}

// remember caches stats read at generation gen, and drops them again if
// an invalidation ran since the read.
func (s *ContactService) remember(ctx context.Context, value []byte, gen uint64) {
	if err := s.cache.Set(ctx, contactsWithStatsKey, value, s.ttl); err != nil {
		s.logger.Warn("cache write failed", zap.Error(err))
		return
	}
	if s.gen.Load() != gen {
		if err := s.cache.Delete(ctx, contactsWithStatsKey); err != nil {
			s.logger.Warn("cache invalidation failed", zap.Error(err))
		}
	}
}

// withStats fetches contacts and lead tallies concurrently and joins them.
func (s *ContactService) withStats(ctx context.Context, q entity.ContactQuery) ([]entity.ContactWithStats, error) {
	var (
		contacts []entity.Contact
		tallies  []entity.StageTally
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		contacts, err = s.repo.List(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		tallies, err = s.tallies.ListStageTallies(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, &TechnicalError{Code: CodeLoadFailed, Message: "failed to load contacts", Err: err}
	}

	return AttachContactStats(contacts, tallies), nil
}

// AttachContactStats counts opportunities per contact. Won deals are
// "Venta ganada"; every stage other than that and "Nutrición" is active.
func AttachContactStats(contacts []entity.Contact, tallies []entity.StageTally) []entity.ContactWithStats {
	type counts struct{ total, active, won int }
	byPhone := map[string]*counts{}

	for _, t := range tallies {
		if t.ContactPhone == "" {
			continue
		}
		c, ok := byPhone[t.ContactPhone]
		if !ok {
			c = &counts{}
			byPhone[t.ContactPhone] = c
		}
		c.total++
		switch t.Stage {
		case entity.StageDealWon:
			c.won++
		case entity.StageNurture:
		default:
			c.active++
		}
	}

	out := make([]entity.ContactWithStats, 0, len(contacts))
	for _, contact := range contacts {
		cs := entity.ContactWithStats{Contact: contact}
		if c, ok := byPhone[contact.Phone]; ok {
			cs.TotalOpportunities = c.total
			cs.ActiveOpportunities = c.active
			cs.WonOpportunities = c.won
		}
		out = append(out, cs)
	}
	return out
}

// GetByPhone returns nil, nil when the contact does not exist.
func (s *ContactService) GetByPhone(ctx context.Context, phone string) (*entity.Contact, error) {
	c, err := s.repo.GetByPhone(ctx, phone)
	if errors.Is(err, entity.ErrContactNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &TechnicalError{Code: CodeLoadFailed, Message: "failed to get contact", Err: err}
	}
	return c, nil
}

func (s *ContactService) Create(ctx context.Context, input ContactInput) (*entity.Contact, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}

	c := input.toContact()
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, s.writeFailed("failed to create contact", err)
	}
	s.invalidate(ctx)
	return c, nil
}

func (s *ContactService) Upsert(ctx context.Context, input ContactInput) (*entity.Contact, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}

	c := input.toContact()
	if err := s.repo.Upsert(ctx, c); err != nil {
		return nil, s.writeFailed("failed to save contact", err)
	}
	s.invalidate(ctx)
	return c, nil
}

func (s *ContactService) Update(ctx context.Context, input ContactUpdateInput) (*entity.Contact, error) {
	if err := s.check(input); err != nil {
		return nil, err
	}

	patch := entity.ContactPatch{
		Name:    input.Name,
		Email:   input.Email,
		Company: input.Company,
		Role:    input.Role,
		Notes:   input.Notes,
		Tags:    input.Tags,
	}
	c, err := s.repo.Update(ctx, input.Phone, patch)
	if err != nil {
		return nil, s.writeFailed("failed to update contact", err)
	}
	s.invalidate(ctx)
	return c, nil
}

func (s *ContactService) Delete(ctx context.Context, phone string) error {
	if err := s.repo.Delete(ctx, phone); err != nil {
		return s.writeFailed("failed to delete contact", err)
	}
	s.invalidate(ctx)
	return nil
}

// Search applies filters in the store, enriches with stats, then applies the
// opportunity filter and, when requested, the opportunity sort in memory.
func (s *ContactService) Search(ctx context.Context, f ContactFilters, sortBy *ContactSort) ([]entity.ContactWithStats, error) {
	q := entity.ContactQuery{
		Search:    f.Search,
		Company:   f.Company,
		Tags:      f.Tags,
		SortField: defaultContactsSortBy,
	}

	byOpportunities := false
	if sortBy != nil {
		if !contactSortFields[sortBy.Field] {
			return nil, &DomainError{
				Code:    CodeValidation,
				Message: "invalid sort field",
				Details: map[string]string{"sort": sortBy.Field},
			}
		}
		if sortBy.Field == sortByOpportunities {
			byOpportunities = true
		} else {
			q.SortField = sortBy.Field
			q.Ascending = sortBy.Ascending
		}
	}

	out, err := s.withStats(ctx, q)
	if err != nil {
		return nil, err
	}

	if f.HasOpportunities != nil {
		want := *f.HasOpportunities
		filtered := out[:0]
		for _, c := range out {
			if (c.TotalOpportunities > 0) == want {
				filtered = append(filtered, c)
			}
		}
		out = filtered
	}

	if byOpportunities {
		asc := sortBy.Ascending
		sort.SliceStable(out, func(i, j int) bool {
			if asc {
				return out[i].TotalOpportunities < out[j].TotalOpportunities
			}
			return out[i].TotalOpportunities > out[j].TotalOpportunities
		})
	}
	return out, nil
}

func (s *ContactService) check(input any) error {
	if err := s.validate.Struct(input); err != nil {
		return &DomainError{
			Code:    CodeValidation,
			Message: "invalid contact",
			Details: s.validate.Details(err),
			Err:     err,
		}
	}
	return nil
}

func (s *ContactService) writeFailed(msg string, err error) error {
	switch {
	case errors.Is(err, entity.ErrContactNotFound):
		return &DomainError{Code: CodeNotFound, Message: "contact not found", Err: err}
	case errors.Is(err, entity.ErrContactExists):
		return &DomainError{Code: CodeConflict, Message: "contact already exists", Err: err}
	}
	s.logger.Error(msg, zap.Error(err))
	return &TechnicalError{Code: CodeMutationFailed, Message: msg, Err: err}
}

func (in ContactInput) toContact() *entity.Contact {
	now := time.Now().UTC()
	return &entity.Contact{
		Phone:     in.Phone,
		Name:      in.Name,
		Email:     in.Email,
		Company:   in.Company,
		Role:      in.Role,
		Notes:     in.Notes,
		Tags:      in.Tags,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
