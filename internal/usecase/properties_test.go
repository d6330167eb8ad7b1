package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-pipeline/internal/entity"
	"github.com/xavierca1/lead-pipeline/internal/validation"
)

func newPropertyService(repo *MockPropertyRepository, c *memCache) *PropertyService {
	return NewPropertyService(repo, c, time.Minute, validation.New(), zap.NewNop())
}

func validPropertyInput() PropertyInput {
	rooms := 3
	return PropertyInput{
		Agent:          "Carla",
		Phone:          "5491155550009",
		PropertyID:     "AP-1021",
		Status:         "Disponible",
		Name:           "Depto Palermo",
		ListingTitle:   "Luminoso 3 ambientes",
		ListingAddress: "Gorriti 4500",
		Operation:      "Venta",
		Neighborhood:   "Palermo",
		Type:           "Departamento",
		Link:           "https://example.com/ap-1021",
		Rooms:          &rooms,
	}
}

func TestPropertyCreate(t *testing.T) {
	repo := new(MockPropertyRepository)
	svc := newPropertyService(repo, newMemCache())

	repo.On("Create", mock.Anything, mock.MatchedBy(func(p *entity.Property) bool {
		_, err := uuid.Parse(p.ID)
		return err == nil && p.PropertyID == "AP-1021" && *p.Rooms == 3 && !p.CreatedAt.IsZero()
	})).Return(nil).Once()

	p, err := svc.Create(context.Background(), validPropertyInput())

	require.NoError(t, err)
	assert.Equal(t, "Palermo", p.Neighborhood)
	repo.AssertExpectations(t)
}

func TestPropertyCreateValidation(t *testing.T) {
	repo := new(MockPropertyRepository)
	svc := newPropertyService(repo, newMemCache())

	in := validPropertyInput()
	in.Link = "not a url"
	in.Agent = ""

	_, err := svc.Create(context.Background(), in)

	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "url", de.Details["link"])
	assert.Equal(t, "required", de.Details["agente"])
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestPropertyUpdateRejectsUnknownFields(t *testing.T) {
	repo := new(MockPropertyRepository)
	svc := newPropertyService(repo, newMemCache())
	id := uuid.New().String()

	_, err := svc.Update(context.Background(), id, map[string]any{"estado": "Reservado", "id": "x"})
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "unknown", de.Details["id"])

	_, err = svc.Update(context.Background(), id, map[string]any{})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeValidation, de.Code)

	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestPropertyUpdate(t *testing.T) {
	repo := new(MockPropertyRepository)
	svc := newPropertyService(repo, newMemCache())
	id := uuid.New().String()

	fields := map[string]any{"estado": "Reservado"}
	repo.On("Update", mock.Anything, id, fields).Return(&entity.Property{ID: id, Status: "Reservado"}, nil).Once()

	p, err := svc.Update(context.Background(), id, fields)

	require.NoError(t, err)
	assert.Equal(t, "Reservado", p.Status)
}

func TestPropertyUpdateValidatesValues(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		key    string
		tag    string
	}{
		{"bad link", map[string]any{"link": "not a url"}, "link", "url"},
		{"bad phone", map[string]any{"telefono": "abc"}, "telefono", "phone"},
		{"null required column", map[string]any{"agente": nil}, "agente", "required"},
		{"empty required column", map[string]any{"barrio": ""}, "barrio", "required"},
		{"negative rooms", map[string]any{"ambientes": -4}, "ambientes", "min"},
		{"negative area", map[string]any{"m2_total": -1.5}, "m2_total", "min"},
		{"wrong type", map[string]any{"ambientes": "three"}, "ambientes", "type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockPropertyRepository)
			svc := newPropertyService(repo, newMemCache())

			_, err := svc.Update(context.Background(), uuid.New().String(), tt.fields)

			var de *DomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, CodeValidation, de.Code)
			assert.Equal(t, tt.tag, de.Details[tt.key])
			repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPropertyUpdateAllowsNullingOptionalColumns(t *testing.T) {
	repo := new(MockPropertyRepository)
	svc := newPropertyService(repo, newMemCache())
	id := uuid.New().String()

	fields := map[string]any{"piso": nil, "ambientes": 2, "telefono": "5491155550010"}
	repo.On("Update", mock.Anything, id, fields).Return(&entity.Property{ID: id}, nil).Once()

	_, err := svc.Update(context.Background(), id, fields)

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestPropertyMalformedIDIsNotFound(t *testing.T) {
	repo := new(MockPropertyRepository)
	svc := newPropertyService(repo, newMemCache())

	_, err := svc.Get(context.Background(), "not-a-uuid")
	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeNotFound, de.Code)

	err = svc.Delete(context.Background(), "not-a-uuid")
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeNotFound, de.Code)

	repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestPropertyGetNotFound(t *testing.T) {
	repo := new(MockPropertyRepository)
	svc := newPropertyService(repo, newMemCache())
	id := uuid.New().String()

	repo.On("GetByID", mock.Anything, id).Return(nil, entity.ErrPropertyNotFound)

	_, err := svc.Get(context.Background(), id)

	var de *DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, CodeNotFound, de.Code)
}

// TestPropertyListCaching - per-filter entries, all dropped on a change event
func TestPropertyListCaching(t *testing.T) {
	repo := new(MockPropertyRepository)
	c := newMemCache()
	svc := newPropertyService(repo, c)
	feed := newFakeFeed()
	require.NoError(t, svc.Watch(feed))
	defer svc.Close()

	palermo := entity.PropertyFilters{Neighborhood: "Palermo"}
	all := entity.PropertyFilters{}
	repo.On("List", mock.Anything, palermo).Return([]entity.Property{{ID: "1", Neighborhood: "Palermo"}}, nil)
	repo.On("List", mock.Anything, all).Return([]entity.Property{{ID: "1"}, {ID: "2"}}, nil)

	for i := 0; i < 2; i++ {
		out, err := svc.List(context.Background(), palermo)
		require.NoError(t, err)
		assert.Len(t, out, 1)
		out, err = svc.List(context.Background(), all)
		require.NoError(t, err)
		assert.Len(t, out, 2)
	}
	repo.AssertNumberOfCalls(t, "List", 2)
	assert.True(t, c.has(listCacheKey(palermo)))
	assert.True(t, c.has(listCacheKey(all)))

	feed.emit("properties", entity.ChangeEvent{Type: entity.ChangeDelete, Table: "properties"})

	assert.False(t, c.has(listCacheKey(palermo)))
	assert.False(t, c.has(listCacheKey(all)))
	assert.False(t, c.has(propertiesCacheIndex))
}

func TestPropertyListConcurrentIndexing(t *testing.T) {
	repo := new(MockPropertyRepository)
	c := newMemCache()
	svc := newPropertyService(repo, c)
	feed := newFakeFeed()
	require.NoError(t, svc.Watch(feed))
	defer svc.Close()

	repo.On("List", mock.Anything, mock.Anything).Return([]entity.Property{{ID: "1"}}, nil)

	filters := make([]entity.PropertyFilters, 32)
	for i := range filters {
		filters[i] = entity.PropertyFilters{Neighborhood: fmt.Sprintf("barrio-%d", i)}
	}

	var wg sync.WaitGroup
	for _, f := range filters {
		wg.Add(1)
		go func(f entity.PropertyFilters) {
			defer wg.Done()
			_, err := svc.List(context.Background(), f)
			assert.NoError(t, err)
		}(f)
	}
	wg.Wait()

	indexed, err := c.Members(context.Background(), propertiesCacheIndex)
	require.NoError(t, err)
	assert.Len(t, indexed, len(filters))

	feed.emit("properties", entity.ChangeEvent{Type: entity.ChangeUpdate, Table: "properties"})

	for _, f := range filters {
		assert.False(t, c.has(listCacheKey(f)), f.Neighborhood)
	}
	assert.False(t, c.has(propertiesCacheIndex))
}

func TestPropertyListDropsResultInvalidatedDuringRead(t *testing.T) {
	repo := new(MockPropertyRepository)
	c := newMemCache()
	svc := newPropertyService(repo, c)
	feed := newFakeFeed()
	require.NoError(t, svc.Watch(feed))
	defer svc.Close()

	f := entity.PropertyFilters{Status: "Disponible"}
	repo.On("List", mock.Anything, f).Run(func(mock.Arguments) {
		feed.emit("properties", entity.ChangeEvent{Type: entity.ChangeInsert, Table: "properties"})
	}).Return([]entity.Property{{ID: "stale"}}, nil).Once()

	out, err := svc.List(context.Background(), f)

	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.False(t, c.has(listCacheKey(f)))
}

func TestPropertyListFailure(t *testing.T) {
	repo := new(MockPropertyRepository)
	svc := newPropertyService(repo, newMemCache())

	repo.On("List", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	_, err := svc.List(context.Background(), entity.PropertyFilters{})
	assert.True(t, IsTechnicalError(err))
}
