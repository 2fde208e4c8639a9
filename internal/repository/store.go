package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("repository: duplicate")
)

const uniqueViolation = "23505"

// Querier is satisfied by both the pool and an open transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repositories bundles the repositories bound to one transaction.
type Repositories struct {
	Users       UserRepository
	Tickets     TicketRepository
	Assignments AssignmentRepository
	Notes       NoteRepository
	Attachments AttachmentRepository
	Surveys     SurveyRepository
	Catalog     CatalogRepository
}

// Store runs units of work atomically.
type Store interface {
	// WithinTx commits when fn returns nil and rolls back every write otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connected pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Bind returns repositories executing against q.
func Bind(q Querier) Repositories {
	return Repositories{
		Users:       &userRepository{q: q},
		Tickets:     &ticketRepository{q: q},
		Assignments: &assignmentRepository{q: q},
		Notes:       &noteRepository{q: q},
		Attachments: &attachmentRepository{q: q},
		Surveys:     &surveyRepository{q: q},
		Catalog:     &catalogRepository{q: q},
	}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, Bind(tx)); err != nil {
		return err
	}
	err = tx.Commit(ctx)
	return err
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}
