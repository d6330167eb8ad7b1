package database

import (
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/xavierca1/lead-pipeline/internal/entity"
)

func TestBuildContactQuery(t *testing.T) {
	t.Run("defaults to newest first", func(t *testing.T) {
		query, args := buildContactQuery(entity.ContactQuery{})

		assert.Equal(t, "SELECT "+contactColumns+" FROM contacts ORDER BY created_at DESC", query)
		assert.Empty(t, args)
	})

	t.Run("combines filters in order", func(t *testing.T) {
		query, args := buildContactQuery(entity.ContactQuery{
			Search:    "ana",
			Company:   "Acme",
			Tags:      []string{"vip", "inversor"},
			SortField: "nombres",
			Ascending: true,
		})

		assert.Equal(t,
			"SELECT "+contactColumns+" FROM contacts"+
				" WHERE (nombres ILIKE $1 OR email ILIKE $1 OR phone ILIKE $1)"+
				" AND empresa = $2 AND tags @> $3 ORDER BY nombres ASC",
			query,
		)
		assert.Equal(t, []any{"%ana%", "Acme", pq.Array([]string{"vip", "inversor"})}, args)
	})

	t.Run("unknown sort column falls back", func(t *testing.T) {
		query, _ := buildContactQuery(entity.ContactQuery{SortField: "phone; DROP TABLE contacts"})

		assert.Contains(t, query, "ORDER BY created_at DESC")
	})
}
