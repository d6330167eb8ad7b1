package entity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Property struct {
	ID                 string    `json:"id"`
	Number             *int      `json:"numero"`
	Agent              string    `json:"agente"`
	Phone              string    `json:"telefono"`
	PropertyID         string    `json:"property_id"`
	Status             string    `json:"estado"`
	Name               string    `json:"propiedad"`
	ListingTitle       string    `json:"titulo_publicacion"`
	ListingAddress     string    `json:"direccion_publicacion"`
	Operation          string    `json:"operacion"`
	RentalRequirements *string   `json:"requisitos_alquiler"`
	Floor              *string   `json:"piso"`
	Neighborhood       string    `json:"barrio"`
	Type               string    `json:"tipo"`
	Link               string    `json:"link"`
	Rooms              *int      `json:"ambientes"`
	Amenities          *string   `json:"amenities"`
	CoveredM2          *float64  `json:"m2_cubiertos"`
	SemiCoveredM2      *float64  `json:"m2_semicubiertos"`
	UncoveredM2        *float64  `json:"m2_descubiertos"`
	TotalM2            *float64  `json:"m2_total"`
	WeightedM2         *float64  `json:"m2_ponderados"`
	PricePerM2         *string   `json:"valor_m2"`
	CurrentPrice       *string   `json:"valor_actual"`
	PreviousPrice      *string   `json:"valor_anterior"`
	PriceDropPercent   *string   `json:"porcentaje_bajado"`
	Expenses           *string   `json:"expensas"`
	MortgageEligible   *string   `json:"es_apto_credito"`
	ProfessionalUse    *string   `json:"es_apto_profesional"`
	FinancingOrSwap    *string   `json:"acepta_financiacion_permuta"`
	VisitArrangement   *string   `json:"modalidad_visitas"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NewProperty assigns a fresh id and timestamps.
func NewProperty(p Property) *Property {
	now := time.Now().UTC()
	p.ID = uuid.New().String()
	p.CreatedAt = now
	p.UpdatedAt = now
	return &p
}

type PropertyFilters struct {
	Status       string
	Type         string
	Neighborhood string
	Agent        string
	Search       string
}

type PropertyRepositoryInterface interface {
	List(ctx context.Context, f PropertyFilters) ([]Property, error)
	GetByID(ctx context.Context, id string) (*Property, error)
	Create(ctx context.Context, p *Property) error
	Update(ctx context.Context, id string, fields map[string]any) (*Property, error)
	Delete(ctx context.Context, id string) error
}
