package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xavierca1/lead-pipeline/internal/entity"
)

const leadColumns = `phone, nombres, interes_propiedad, stage, contact_phone, notes, created_at, updated_at`

type LeadRepository struct {
	DB *sql.DB
}

func NewLeadRepository(db *sql.DB) *LeadRepository {
	return &LeadRepository{DB: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*entity.Lead, error) {
	var (
		l            entity.Lead
		stage        string
		contactPhone sql.NullString
		notes        sql.NullString
	)
	err := row.Scan(
		&l.Phone,
		&l.Name,
		&l.PropertyInterest,
		&stage,
		&contactPhone,
		&notes,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Stage = entity.Stage(stage)
	l.ContactPhone = fromNullString(contactPhone)
	l.Notes = fromNullString(notes)
	return &l, nil
}

func (r *LeadRepository) ListOrderedByCreatedDesc(ctx context.Context) ([]entity.Lead, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+leadColumns+` FROM leads ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	leads := []entity.Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		leads = append(leads, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leads: %w", err)
	}
	return leads, nil
}

func (r *LeadRepository) UpdateStage(ctx context.Context, phone string, stage entity.Stage) (*entity.Lead, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE leads SET stage = $2, updated_at = NOW()
		WHERE phone = $1
		RETURNING `+leadColumns,
		phone, string(stage),
	)
	return r.updated(row, "stage")
}

func (r *LeadRepository) UpdateNotes(ctx context.Context, phone string, notes *string) (*entity.Lead, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE leads SET notes = $2, updated_at = NOW()
		WHERE phone = $1
		RETURNING `+leadColumns,
		phone, notes,
	)
	return r.updated(row, "notes")
}

func (r *LeadRepository) updated(row *sql.Row, what string) (*entity.Lead, error) {
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrLeadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update lead %s: %w", what, err)
	}
	return l, nil
}

// Create is used by intake tooling; the board itself never creates leads.
func (r *LeadRepository) Create(ctx context.Context, l *entity.Lead) error {
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO leads (phone, nombres, interes_propiedad, stage, contact_phone, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone) DO NOTHING
		RETURNING created_at, updated_at`,
		l.Phone, l.Name, l.PropertyInterest, string(l.Stage), l.ContactPhone, l.Notes,
	).Scan(&l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// already present
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func (r *LeadRepository) ListStageTallies(ctx context.Context) ([]entity.StageTally, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT contact_phone, stage FROM leads WHERE contact_phone IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query lead stages: %w", err)
	}
	defer rows.Close()

	var out []entity.StageTally
	for rows.Next() {
		var t entity.StageTally
		var stage string
		if err := rows.Scan(&t.ContactPhone, &stage); err != nil {
			return nil, fmt.Errorf("scan lead stage: %w", err)
		}
		t.Stage = entity.Stage(stage)
		out = append(out, t)
	}
	return out, rows.Err()
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
