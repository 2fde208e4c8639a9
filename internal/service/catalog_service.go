package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// JSONCache is the slice of the Redis wrapper the catalog relies on.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CatalogService serves the request catalog shown on the ticket form.
type CatalogService struct {
	store    repository.Store
	cache    JSONCache
	cacheKey string
	ttl      time.Duration
	logger   *zap.Logger
}

// CatalogDependencies bundles collaborators for the catalog service.
type CatalogDependencies struct {
	Store    repository.Store
	Cache    JSONCache
	CacheKey string
	TTL      time.Duration
	Logger   *zap.Logger
}

// NewCatalogService constructs the service. A nil cache always reads the store.
func NewCatalogService(deps CatalogDependencies) *CatalogService {
	return &CatalogService{
		store:    deps.Store,
		cache:    deps.Cache,
		cacheKey: deps.CacheKey,
		ttl:      deps.TTL,
		logger:   loggerOrNop(deps.Logger),
	}
}

// RequestTypes returns active request types ordered for display.
func (s *CatalogService) RequestTypes(ctx context.Context) ([]domain.RequestType, error) {
	if s.cache != nil && s.cacheKey != "" {
		var cached []domain.RequestType
		err := s.cache.GetJSON(ctx, s.cacheKey, &cached)
		if err == nil {
			return cached, nil
		}
		s.logger.Debug("catalog cache unavailable", zap.Error(err))
	}

	var types []domain.RequestType
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		types, err = repos.Catalog.ListRequestTypes(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if types == nil {
		types = []domain.RequestType{}
	}

	if s.cache != nil && s.cacheKey != "" {
		if err := s.cache.SetJSON(ctx, s.cacheKey, types, s.ttl); err != nil {
			s.logger.Debug("catalog cache write failed", zap.Error(err))
		}
	}
	return types, nil
}

// Suggestions returns canned problems for a request type selected by id or
// by slug or name. An empty selector yields an empty list.
func (s *CatalogService) Suggestions(ctx context.Context, typeID *int64, key string) ([]domain.ProblemSuggestion, error) {
	key = strings.TrimSpace(key)
	if typeID == nil && key == "" {
		return []domain.ProblemSuggestion{}, nil
	}

	var out []domain.ProblemSuggestion
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		out, err = repos.Catalog.ListSuggestions(ctx, repository.SuggestionQuery{TypeID: typeID, Key: key})
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.ProblemSuggestion{}
	}
	return out, nil
}
