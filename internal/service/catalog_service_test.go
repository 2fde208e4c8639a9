package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository/memory"
)

var errCacheMiss = errors.New("miss")

type mapCache struct {
	data    map[string][]byte
	ttls    map[string]time.Duration
	failGet bool
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *mapCache) GetJSON(_ context.Context, key string, dst any) error {
	if c.failGet {
		return errors.New("connection refused")
	}
	raw, ok := c.data[key]
	if !ok {
		return errCacheMiss
	}
	return json.Unmarshal(raw, dst)
}

func (c *mapCache) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	c.ttls[key] = ttl
	return nil
}

func seedCatalog(store *memory.Store) (domain.RequestType, domain.RequestType) {
	printers := store.AddRequestType(domain.RequestType{Name: "Impresoras", Slug: "impresoras", Order: 2, Active: true})
	mail := store.AddRequestType(domain.RequestType{Name: "Correo", Slug: "correo", Order: 1, Active: true})
	store.AddRequestType(domain.RequestType{Name: "Fax", Slug: "fax", Order: 0, Active: false})

	store.AddSuggestion(domain.ProblemSuggestion{RequestTypeID: printers.ID, Text: "Atasco de papel", Order: 2, Active: true})
	store.AddSuggestion(domain.ProblemSuggestion{RequestTypeID: printers.ID, Text: "No imprime", Order: 1, Active: true})
	store.AddSuggestion(domain.ProblemSuggestion{RequestTypeID: printers.ID, Text: "Obsoleta", Order: 0, Active: false})
	return printers, mail
}

func TestCatalogRequestTypesAreCached(t *testing.T) {
	store := memory.NewStore()
	_, mail := seedCatalog(store)
	cache := newMapCache()
	svc := NewCatalogService(CatalogDependencies{Store: store, Cache: cache, CacheKey: "catalog", TTL: time.Minute})
	ctx := context.Background()

	types, err := svc.RequestTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, mail.ID, types[0].ID)
	assert.Equal(t, time.Minute, cache.ttls["catalog"])

	// served from cache even after the store changes
	store.AddRequestType(domain.RequestType{Name: "Red", Slug: "red", Order: 3, Active: true})
	cached, err := svc.RequestTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 2)

	cache.failGet = true
	fresh, err := svc.RequestTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh, 3)
}

func TestCatalogSuggestions(t *testing.T) {
	store := memory.NewStore()
	printers, mail := seedCatalog(store)
	svc := NewCatalogService(CatalogDependencies{Store: store})
	ctx := context.Background()

	byID, err := svc.Suggestions(ctx, &printers.ID, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"No imprime", "Atasco de papel"}, []string{byID[0].Text, byID[1].Text})

	bySlug, err := svc.Suggestions(ctx, nil, "impresoras")
	require.NoError(t, err)
	assert.Len(t, bySlug, 2)

	byName, err := svc.Suggestions(ctx, nil, "Impresoras")
	require.NoError(t, err)
	assert.Len(t, byName, 2)

	none, err := svc.Suggestions(ctx, &mail.ID, "")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	empty, err := svc.Suggestions(ctx, nil, "  ")
	require.NoError(t, err)
	assert.Equal(t, []domain.ProblemSuggestion{}, empty)
}
