package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/xavierca1/lead-pipeline/internal/entity"
)

const contactColumns = `phone, nombres, email, empresa, cargo, notas, tags, created_at, updated_at`

const pgUniqueViolation = "23505"

var contactOrderColumns = map[string]string{
	"nombres":    "nombres",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

type ContactRepository struct {
	DB *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{DB: db}
}

func scanContact(row rowScanner) (*entity.Contact, error) {
	var (
		c                           entity.Contact
		email, company, role, notes sql.NullString
		tags                        pq.StringArray
	)
	err := row.Scan(&c.Phone, &c.Name, &email, &company, &role, &notes, &tags, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Email = fromNullString(email)
	c.Company = fromNullString(company)
	c.Role = fromNullString(role)
	c.Notes = fromNullString(notes)
	if len(tags) > 0 {
		c.Tags = []string(tags)
	}
	return &c, nil
}

// buildContactQuery renders the search as SQL. Free text matches name, email
// or phone case-insensitively; tags must all be present.
func buildContactQuery(q entity.ContactQuery) (string, []any) {
	var (
		where []string
		args  []any
	)

	if q.Search != "" {
		args = append(args, "%"+q.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(nombres ILIKE $%d OR email ILIKE $%d OR phone ILIKE $%d)", n, n, n))
	}
	if q.Company != "" {
		args = append(args, q.Company)
		where = append(where, fmt.Sprintf("empresa = $%d", len(args)))
	}
	if len(q.Tags) > 0 {
		args = append(args, pq.Array(q.Tags))
		where = append(where, fmt.Sprintf("tags @> $%d", len(args)))
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + contactColumns + " FROM contacts")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	col, ok := contactOrderColumns[q.SortField]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if q.Ascending {
		dir = "ASC"
	}
	sb.WriteString(" ORDER BY " + col + " " + dir)

	return sb.String(), args
}

func (r *ContactRepository) List(ctx context.Context, q entity.ContactQuery) ([]entity.Contact, error) {
	query, args := buildContactQuery(q)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	contacts := []entity.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

func (r *ContactRepository) GetByPhone(ctx context.Context, phone string) (*entity.Contact, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE phone = $1`, phone)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (r *ContactRepository) Create(ctx context.Context, c *entity.Contact) error {
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO contacts (phone, nombres, email, empresa, cargo, notas, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		c.Phone, c.Name, c.Email, c.Company, c.Role, c.Notes, pq.Array(c.Tags),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return entity.ErrContactExists
		}
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (r *ContactRepository) Upsert(ctx context.Context, c *entity.Contact) error {
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO contacts (phone, nombres, email, empresa, cargo, notas, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (phone) DO UPDATE SET
			nombres = EXCLUDED.nombres,
			email = EXCLUDED.email,
			empresa = EXCLUDED.empresa,
			cargo = EXCLUDED.cargo,
			notas = EXCLUDED.notas,
			tags = EXCLUDED.tags,
			updated_at = NOW()
		RETURNING created_at, updated_at`,
		c.Phone, c.Name, c.Email, c.Company, c.Role, c.Notes, pq.Array(c.Tags),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

func (r *ContactRepository) Update(ctx context.Context, phone string, p entity.ContactPatch) (*entity.Contact, error) {
	var (
		sets []string
		args = []any{phone}
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Name != nil {
		add("nombres", *p.Name)
	}
	if p.Email != nil {
		add("email", *p.Email)
	}
	if p.Company != nil {
		add("empresa", *p.Company)
	}
	if p.Role != nil {
		add("cargo", *p.Role)
	}
	if p.Notes != nil {
		add("notas", *p.Notes)
	}
	if p.Tags != nil {
		add("tags", pq.Array(p.Tags))
	}
	sets = append(sets, "updated_at = NOW()")

	query := `UPDATE contacts SET ` + strings.Join(sets, ", ") +
		` WHERE phone = $1 RETURNING ` + contactColumns

	c, err := scanContact(r.DB.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrContactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	return c, nil
}

func (r *ContactRepository) Delete(ctx context.Context, phone string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM contacts WHERE phone = $1`, phone)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if n == 0 {
		return entity.ErrContactNotFound
	}
	return nil
}
