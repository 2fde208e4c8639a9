package repository

import (
	"context"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// UserRepository defines persistence access for helpdesk accounts.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	ListActiveTechnicians(ctx context.Context) ([]domain.TechnicianRef, error)
	// LockForUpdate holds the user row until the transaction ends.
	LockForUpdate(ctx context.Context, id int64) error
}

type userRepository struct {
	q Querier
}

const userColumns = `
        SELECT u.id, u.username, u.email, u.password_hash, u.role, u.active, u.area_id,
               COALESCE(a.name, ''), u.created_at
        FROM users u LEFT JOIN areas a ON a.id = u.area_id`

func (r *userRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return r.fetchSingle(ctx, userColumns+` WHERE u.id=$1`, id)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.fetchSingle(ctx, userColumns+` WHERE u.username=$1`, username)
}

func (r *userRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.User, error) {
	var user domain.User
	if err := r.q.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.Active,
		&user.AreaID,
		&user.AreaName,
		&user.CreatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	return &user, nil
}

func (r *userRepository) ListActiveTechnicians(ctx context.Context) ([]domain.TechnicianRef, error) {
	const query = `
        SELECT id, username FROM users
        WHERE role=$1 AND active = TRUE
        ORDER BY username ASC`
	rows, err := r.q.Query(ctx, query, domain.RoleTechnician)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TechnicianRef
	for rows.Next() {
		var ref domain.TechnicianRef
		if err := rows.Scan(&ref.ID, &ref.Username); err != nil {
			return nil, err
		}
		result = append(result, ref)
	}
	return result, rows.Err()
}

func (r *userRepository) LockForUpdate(ctx context.Context, id int64) error {
	var locked int64
	err := r.q.QueryRow(ctx, `SELECT id FROM users WHERE id=$1 FOR UPDATE`, id).Scan(&locked)
	return mapErr(err)
}
