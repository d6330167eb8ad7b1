package entity

import (
	"context"
	"time"
)

type Contact struct {
	Phone     string    `json:"phone"`
	Name      string    `json:"nombres"`
	Email     *string   `json:"email,omitempty"`
	Company   *string   `json:"empresa,omitempty"`
	Role      *string   `json:"cargo,omitempty"`
	Notes     *string   `json:"notas,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContactWithStats carries opportunity counts derived from the leads table.
type ContactWithStats struct {
	Contact
	TotalOpportunities  int `json:"total_oportunidades"`
	ActiveOpportunities int `json:"oportunidades_activas"`
	WonOpportunities    int `json:"oportunidades_ganadas"`
}

// ContactPatch holds the columns to change; nil fields are left untouched.
type ContactPatch struct {
	Name    *string
	Email   *string
	Company *string
	Role    *string
	Notes   *string
	Tags    []string
}

type ContactQuery struct {
	Search  string
	Company string
	Tags    []string
	// SortField is a column name; stats-based sorting happens in memory.
	SortField string
	Ascending bool
}

type ContactRepositoryInterface interface {
	List(ctx context.Context, q ContactQuery) ([]Contact, error)
	GetByPhone(ctx context.Context, phone string) (*Contact, error)
	Create(ctx context.Context, c *Contact) error
	Upsert(ctx context.Context, c *Contact) error
	Update(ctx context.Context, phone string, patch ContactPatch) (*Contact, error)
	Delete(ctx context.Context, phone string) error
}
