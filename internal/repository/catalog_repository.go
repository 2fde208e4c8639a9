package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// SuggestionQuery selects a request type by id, or by slug or name when ID is nil.
type SuggestionQuery struct {
	TypeID *int64
	Key    string
}

// CatalogRepository reads the request catalog.
type CatalogRepository interface {
	ListRequestTypes(ctx context.Context) ([]domain.RequestType, error)
	ListSuggestions(ctx context.Context, query SuggestionQuery) ([]domain.ProblemSuggestion, error)
}

type catalogRepository struct {
	q Querier
}

func (r *catalogRepository) ListRequestTypes(ctx context.Context) ([]domain.RequestType, error) {
	const query = `
        SELECT id, name, slug, sort_order, active
        FROM request_types WHERE active = TRUE
        ORDER BY sort_order ASC, id ASC`
	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RequestType
	for rows.Next() {
		var rt domain.RequestType
		if err := rows.Scan(&rt.ID, &rt.Name, &rt.Slug, &rt.Order, &rt.Active); err != nil {
			return nil, err
		}
		result = append(result, rt)
	}
	return result, rows.Err()
}

func (r *catalogRepository) ListSuggestions(ctx context.Context, query SuggestionQuery) ([]domain.ProblemSuggestion, error) {
	const base = `
        SELECT s.id, s.request_type_id, s.body, s.sort_order, s.active
        FROM problem_suggestions s JOIN request_types t ON t.id = s.request_type_id
        WHERE s.active = TRUE AND t.active = TRUE`

	var (
		rows pgx.Rows
		err  error
	)
	if query.TypeID != nil {
		rows, err = r.q.Query(ctx, base+` AND t.id=$1 ORDER BY s.sort_order ASC, s.id ASC`, *query.TypeID)
	} else {
		rows, err = r.q.Query(ctx, base+` AND (t.slug=$1 OR t.name=$1) ORDER BY s.sort_order ASC, s.id ASC`, query.Key)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ProblemSuggestion
	for rows.Next() {
		var sg domain.ProblemSuggestion
		if err := rows.Scan(&sg.ID, &sg.RequestTypeID, &sg.Text, &sg.Order, &sg.Active); err != nil {
			return nil, err
		}
		result = append(result, sg)
	}
	return result, rows.Err()
}
