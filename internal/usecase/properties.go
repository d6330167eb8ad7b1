package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-pipeline/internal/entity"
	"github.com/xavierca1/lead-pipeline/internal/infra/cache"
	"github.com/xavierca1/lead-pipeline/internal/validation"
)

const (
	propertiesTable       = "properties"
	propertiesCachePrefix = "properties:list:"
	propertiesCacheIndex  = "properties:keys"
)

// PropertyInput is the create payload. Required columns follow the catalog
// form; the rest are optional.
type PropertyInput struct {
	Number             *int     `json:"numero" validate:"omitempty,min=0"`
	Agent              string   `json:"agente" validate:"required"`
	Phone              string   `json:"telefono" validate:"required,phone"`
	PropertyID         string   `json:"property_id" validate:"required"`
	Status             string   `json:"estado" validate:"required"`
	Name               string   `json:"propiedad" validate:"required"`
	ListingTitle       string   `json:"titulo_publicacion" validate:"required"`
	ListingAddress     string   `json:"direccion_publicacion" validate:"required"`
	Operation          string   `json:"operacion" validate:"required"`
	RentalRequirements *string  `json:"requisitos_alquiler"`
	Floor              *string  `json:"piso"`
	Neighborhood       string   `json:"barrio" validate:"required"`
	Type               string   `json:"tipo" validate:"required"`
	Link               string   `json:"link" validate:"required,url"`
	Rooms              *int     `json:"ambientes" validate:"omitempty,min=0"`
	Amenities          *string  `json:"amenities"`
	CoveredM2          *float64 `json:"m2_cubiertos" validate:"omitempty,min=0"`
	SemiCoveredM2      *float64 `json:"m2_semicubiertos" validate:"omitempty,min=0"`
	UncoveredM2        *float64 `json:"m2_descubiertos" validate:"omitempty,min=0"`
	TotalM2            *float64 `json:"m2_total" validate:"omitempty,min=0"`
	WeightedM2         *float64 `json:"m2_ponderados" validate:"omitempty,min=0"`
	PricePerM2         *string  `json:"valor_m2"`
	CurrentPrice       *string  `json:"valor_actual"`
	PreviousPrice      *string  `json:"valor_anterior"`
	PriceDropPercent   *string  `json:"porcentaje_bajado"`
	Expenses           *string  `json:"expensas"`
	MortgageEligible   *string  `json:"es_apto_credito"`
	ProfessionalUse    *string  `json:"es_apto_profesional"`
	FinancingOrSwap    *string  `json:"acepta_financiacion_permuta"`
	VisitArrangement   *string  `json:"modalidad_visitas"`
}

func (in PropertyInput) toProperty() entity.Property {
	return entity.Property{
		Number:             in.Number,
		Agent:              in.Agent,
		Phone:              in.Phone,
		PropertyID:         in.PropertyID,
		Status:             in.Status,
		Name:               in.Name,
		ListingTitle:       in.ListingTitle,
		ListingAddress:     in.ListingAddress,
		Operation:          in.Operation,
		RentalRequirements: in.RentalRequirements,
		Floor:              in.Floor,
		Neighborhood:       in.Neighborhood,
		Type:               in.Type,
		Link:               in.Link,
		Rooms:              in.Rooms,
		Amenities:          in.Amenities,
		CoveredM2:          in.CoveredM2,
		SemiCoveredM2:      in.SemiCoveredM2,
		UncoveredM2:        in.UncoveredM2,
		TotalM2:            in.TotalM2,
		WeightedM2:         in.WeightedM2,
		PricePerM2:         in.PricePerM2,
		CurrentPrice:       in.CurrentPrice,
		PreviousPrice:      in.PreviousPrice,
		PriceDropPercent:   in.PriceDropPercent,
		Expenses:           in.Expenses,
		MortgageEligible:   in.MortgageEligible,
		ProfessionalUse:    in.ProfessionalUse,
		FinancingOrSwap:    in.FinancingOrSwap,
		VisitArrangement:   in.VisitArrangement,
	}
}

// PropertyPatch mirrors PropertyInput for partial updates: only the keys the
// client sent are set, and each is checked with the rule Create applies.
type PropertyPatch struct {
	Number             *int     `json:"numero" validate:"omitnil,min=0"`
	Agent              *string  `json:"agente" validate:"omitnil,required"`
	Phone              *string  `json:"telefono" validate:"omitnil,phone"`
	PropertyID         *string  `json:"property_id" validate:"omitnil,required"`
	Status             *string  `json:"estado" validate:"omitnil,required"`
	Name               *string  `json:"propiedad" validate:"omitnil,required"`
	ListingTitle       *string  `json:"titulo_publicacion" validate:"omitnil,required"`
	ListingAddress     *string  `json:"direccion_publicacion" validate:"omitnil,required"`
	Operation          *string  `json:"operacion" validate:"omitnil,required"`
	RentalRequirements *string  `json:"requisitos_alquiler"`
	Floor              *string  `json:"piso"`
	Neighborhood       *string  `json:"barrio" validate:"omitnil,required"`
	Type               *string  `json:"tipo" validate:"omitnil,required"`
	Link               *string  `json:"link" validate:"omitnil,url"`
	Rooms              *int     `json:"ambientes" validate:"omitnil,min=0"`
	Amenities          *string  `json:"amenities"`
	CoveredM2          *float64 `json:"m2_cubiertos" validate:"omitnil,min=0"`
	SemiCoveredM2      *float64 `json:"m2_semicubiertos" validate:"omitnil,min=0"`
	UncoveredM2        *float64 `json:"m2_descubiertos" validate:"omitnil,min=0"`
	TotalM2            *float64 `json:"m2_total" validate:"omitnil,min=0"`
	WeightedM2         *float64 `json:"m2_ponderados" validate:"omitnil,min=0"`
	PricePerM2         *string  `json:"valor_m2"`
	CurrentPrice       *string  `json:"valor_actual"`
	PreviousPrice      *string  `json:"valor_anterior"`
	PriceDropPercent   *string  `json:"porcentaje_bajado"`
	Expenses           *string  `json:"expensas"`
	MortgageEligible   *string  `json:"es_apto_credito"`
	ProfessionalUse    *string  `json:"es_apto_profesional"`
	FinancingOrSwap    *string  `json:"acepta_financiacion_permuta"`
	VisitArrangement   *string  `json:"modalidad_visitas"`
}

// requiredPropertyColumns are NOT NULL in the store; a patch may not null them.
var requiredPropertyColumns = map[string]bool{
	"agente": true, "telefono": true, "property_id": true, "estado": true,
	"propiedad": true, "titulo_publicacion": true, "direccion_publicacion": true,
	"operacion": true, "barrio": true, "tipo": true, "link": true,
}

// propertyColumns are the columns a partial update may touch, keyed by the
// JSON name the client sends.
var propertyColumns = map[string]bool{
	"numero": true, "agente": true, "telefono": true, "property_id": true,
	"estado": true, "propiedad": true, "titulo_publicacion": true,
	"direccion_publicacion": true, "operacion": true, "requisitos_alquiler": true,
	"piso": true, "barrio": true, "tipo": true, "link": true, "ambientes": true,
	"amenities": true, "m2_cubiertos": true, "m2_semicubiertos": true,
	"m2_descubiertos": true, "m2_total": true, "m2_ponderados": true,
	"valor_m2": true, "valor_actual": true, "valor_anterior": true,
	"porcentaje_bajado": true, "expensas": true, "es_apto_credito": true,
	"es_apto_profesional": true, "acepta_financiacion_permuta": true,
	"modalidad_visitas": true,
}

type PropertyService struct {
	repo     entity.PropertyRepositoryInterface
	cache    cache.Cache
	ttl      time.Duration
	validate *validation.Validator
	logger   *zap.Logger

	gen atomic.Uint64
	mu  sync.Mutex
	sub Subscription
}

func NewPropertyService(
	repo entity.PropertyRepositoryInterface,
	c cache.Cache,
	ttl time.Duration,
	validate *validation.Validator,
	logger *zap.Logger,
) *PropertyService {
	if c == nil {
		c = cache.NewNoop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PropertyService{
		repo:     repo,
		cache:    c,
		ttl:      ttl,
		validate: validate,
		logger:   logger.Named("properties"),
	}
}

// Watch drops cached listings whenever the properties table changes.
func (s *PropertyService) Watch(feed ChangeSubscriber) error {
	sub, err := feed.Subscribe(propertiesTable,
		func(entity.ChangeEvent) { s.invalidate(context.Background()) },
		func() { s.invalidate(context.Background()) },
	)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()
	return nil
}

func (s *PropertyService) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

func listCacheKey(f entity.PropertyFilters) string {
	raw, _ := json.Marshal(f)
	sum := sha1.Sum(raw)
	return propertiesCachePrefix + hex.EncodeToString(sum[:])
}

// invalidate removes every cached listing recorded in the key index. The
// generation bump makes an in-flight List discard what it read.
func (s *PropertyService) invalidate(ctx context.Context) {
	s.gen.Add(1)
	indexed, err := s.cache.Members(ctx, propertiesCacheIndex)
	if err != nil {
		s.logger.Warn("cache index read failed", zap.Error(err))
	}
	keys := append([]string{propertiesCacheIndex}, indexed...)
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed", zap.Error(err))
	}
}

// remember caches a listing read at generation gen. The key is indexed
// before the value is written, and the value is dropped again if an
// invalidation ran since the read.
func (s *PropertyService) remember(ctx context.Context, key string, value []byte, gen uint64) {
	if err := s.cache.AddToSet(ctx, propertiesCacheIndex, s.ttl, key); err != nil {
		s.logger.Warn("cache index write failed", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("cache write failed", zap.Error(err))
		return
	}
	if s.gen.Load() != gen {
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn("cache invalidation failed", zap.Error(err))
		}
	}
}

// List returns properties newest first, narrowed by the filters.
func (s *PropertyService) List(ctx context.Context, f entity.PropertyFilters) ([]entity.Property, error) {
	key := listCacheKey(f)
	if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var cached []entity.Property
		if json.Unmarshal(raw, &cached) == nil {
			return cached, nil
		}
	}

	gen := s.gen.Load()
	props, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, &TechnicalError{Code: CodeLoadFailed, Message: "failed to fetch properties", Err: err}
	}

	if raw, err := json.Marshal(props); err == nil {
		s.remember(ctx, key, raw, gen)
	}
	return props, nil
}

func (s *PropertyService) Get(ctx context.Context, id string) (*entity.Property, error) {
	if err := checkPropertyID(id); err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.failed("failed to fetch property", err)
	}
	return p, nil
}

func (s *PropertyService) Create(ctx context.Context, input PropertyInput) (*entity.Property, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, &DomainError{
			Code:    CodeValidation,
			Message: "invalid property",
			Details: s.validate.Details(err),
			Err:     err,
		}
	}

	p := entity.NewProperty(input.toProperty())
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, s.failed("failed to create property", err)
	}
	s.invalidate(ctx)
	return p, nil
}

// Update applies a partial change. Unknown keys are rejected so a typo does
// not silently become a no-op.
func (s *PropertyService) Update(ctx context.Context, id string, fields map[string]any) (*entity.Property, error) {
	if len(fields) == 0 {
		return nil, &DomainError{Code: CodeValidation, Message: "no fields to update"}
	}
	if err := checkPropertyID(id); err != nil {
		return nil, err
	}
	for k := range fields {
		if !propertyColumns[k] {
			return nil, &DomainError{
				Code:    CodeValidation,
				Message: fmt.Sprintf("unknown property field %q", k),
				Details: map[string]string{k: "unknown"},
			}
		}
	}

	if err := s.checkPatch(fields); err != nil {
		return nil, err
	}

	p, err := s.repo.Update(ctx, id, fields)
	if err != nil {
		return nil, s.failed("failed to update property", err)
	}
	s.invalidate(ctx)
	return p, nil
}

func (s *PropertyService) Delete(ctx context.Context, id string) error {
	if err := checkPropertyID(id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.failed("failed to delete property", err)
	}
	s.invalidate(ctx)
	return nil
}

// checkPatch validates the values of a partial update. Every offending key
// is reported in Details.
func (s *PropertyService) checkPatch(fields map[string]any) error {
	details := map[string]string{}
	for k, v := range fields {
		if v == nil && requiredPropertyColumns[k] {
			details[k] = "required"
		}
	}

	var patch PropertyPatch
	raw, err := json.Marshal(fields)
	if err == nil {
		err = json.Unmarshal(raw, &patch)
	}
	if err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) || typeErr.Field == "" {
			return &DomainError{Code: CodeValidation, Message: "invalid property fields", Err: err}
		}
		details[typeErr.Field] = "type"
	} else if err := s.validate.Struct(patch); err != nil {
		for k, tag := range s.validate.Details(err) {
			if _, ok := details[k]; !ok {
				details[k] = tag
			}
		}
	}

	if len(details) > 0 {
		return &DomainError{Code: CodeValidation, Message: "invalid property", Details: details}
	}
	return nil
}

// checkPropertyID treats a malformed id as a missing property.
func checkPropertyID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &DomainError{Code: CodeNotFound, Message: "property not found", Err: entity.ErrPropertyNotFound}
	}
	return nil
}

func (s *PropertyService) failed(msg string, err error) error {
	if errors.Is(err, entity.ErrPropertyNotFound) {
		return &DomainError{Code: CodeNotFound, Message: "property not found", Err: err}
	}
	s.logger.Error(msg, zap.Error(err))
	return &TechnicalError{Code: CodeMutationFailed, Message: msg, Err: err}
}
