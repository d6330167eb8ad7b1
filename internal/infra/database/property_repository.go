package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/xavierca1/lead-pipeline/internal/entity"
)

const propertyColumns = `id, numero, agente, telefono, property_id, estado, propiedad,
	titulo_publicacion, direccion_publicacion, operacion, requisitos_alquiler, piso,
	barrio, tipo, link, ambientes, amenities, m2_cubiertos, m2_semicubiertos,
	m2_descubiertos, m2_total, m2_ponderados, valor_m2, valor_actual, valor_anterior,
	porcentaje_bajado, expensas, es_apto_credito, es_apto_profesional,
	acepta_financiacion_permuta, modalidad_visitas, created_at, updated_at`

type PropertyRepository struct {
	DB *sql.DB
}

func NewPropertyRepository(db *sql.DB) *PropertyRepository {
	return &PropertyRepository{DB: db}
}

// propertyFields returns scan destinations in propertyColumns order.
func propertyFields(p *entity.Property) []any {
	return []any{
		&p.ID, &p.Number, &p.Agent, &p.Phone, &p.PropertyID, &p.Status, &p.Name,
		&p.ListingTitle, &p.ListingAddress, &p.Operation, &p.RentalRequirements, &p.Floor,
		&p.Neighborhood, &p.Type, &p.Link, &p.Rooms, &p.Amenities, &p.CoveredM2, &p.SemiCoveredM2,
		&p.UncoveredM2, &p.TotalM2, &p.WeightedM2, &p.PricePerM2, &p.CurrentPrice, &p.PreviousPrice,
		&p.PriceDropPercent, &p.Expenses, &p.MortgageEligible, &p.ProfessionalUse,
		&p.FinancingOrSwap, &p.VisitArrangement, &p.CreatedAt, &p.UpdatedAt,
	}
}

func scanProperty(row rowScanner) (*entity.Property, error) {
	var p entity.Property
	if err := row.Scan(propertyFields(&p)...); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PropertyRepository) List(ctx context.Context, f entity.PropertyFilters) ([]entity.Property, error) {
	var (
		where []string
		args  []any
	)
	eq := func(col, v string) {
		if v == "" {
			return
		}
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	eq("estado", f.Status)
	eq("tipo", f.Type)
	eq("barrio", f.Neighborhood)
	eq("agente", f.Agent)

	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(propiedad ILIKE $%d OR titulo_publicacion ILIKE $%d OR direccion_publicacion ILIKE $%d OR barrio ILIKE $%d)",
			n, n, n, n,
		))
	}

	query := `SELECT ` + propertyColumns + ` FROM properties`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	defer rows.Close()

	props := []entity.Property{}
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		props = append(props, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate properties: %w", err)
	}
	return props, nil
}

func (r *PropertyRepository) GetByID(ctx context.Context, id string) (*entity.Property, error) {
	p, err := scanProperty(r.DB.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrPropertyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get property: %w", err)
	}
	return p, nil
}

func (r *PropertyRepository) Create(ctx context.Context, p *entity.Property) error {
	args := []any{
		p.ID, p.Number, p.Agent, p.Phone, p.PropertyID, p.Status, p.Name,
		p.ListingTitle, p.ListingAddress, p.Operation, p.RentalRequirements, p.Floor,
		p.Neighborhood, p.Type, p.Link, p.Rooms, p.Amenities, p.CoveredM2, p.SemiCoveredM2,
		p.UncoveredM2, p.TotalM2, p.WeightedM2, p.PricePerM2, p.CurrentPrice, p.PreviousPrice,
		p.PriceDropPercent, p.Expenses, p.MortgageEligible, p.ProfessionalUse,
		p.FinancingOrSwap, p.VisitArrangement, p.CreatedAt, p.UpdatedAt,
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := `INSERT INTO properties (` + propertyColumns + `) VALUES (` + strings.Join(placeholders, ", ") + `)`
	if _, err := r.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert property: %w", err)
	}
	return nil
}

// Update sets the given columns. Column names are quoted; callers are
// expected to have checked them against the known set.
func (r *PropertyRepository) Update(ctx context.Context, id string, fields map[string]any) (*entity.Property, error) {
	cols := make([]string, 0, len(fields))
	for col := range fields {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	args := []any{id}
	sets := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		args = append(args, fields[col])
		sets = append(sets, fmt.Sprintf("%s = $%d", pq.QuoteIdentifier(col), len(args)))
	}
	sets = append(sets, "updated_at = NOW()")

	query := `UPDATE properties SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + propertyColumns

	p, err := scanProperty(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrPropertyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update property: %w", err)
	}
	return p, nil
}

func (r *PropertyRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM properties WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete property: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete property: %w", err)
	}
	if n == 0 {
		return entity.ErrPropertyNotFound
	}
	return nil
}
