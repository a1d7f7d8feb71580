package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/miladahmadkhan/promotion-panel/internal/platform/database"
	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
)

// UserRepository manages accounts and the HRBP department mapping. No
// credentials are stored.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, full_name, email, role, is_active, created_at`

// EnsureUser creates u unless the username already exists, in which case u
// is filled from the stored row. A concurrent insert of the same username is
// treated as already existing. Reports whether a row was created.
func (r *UserRepository) EnsureUser(ctx context.Context, u *User) (bool, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (id, username, full_name, email, role, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (username) DO NOTHING
		RETURNING created_at
	`, u.ID, u.Username, u.FullName, u.Email, u.Role).Scan(&u.CreatedAt)
	switch {
	case err == nil:
		u.Active = true
		u.CreatedAt = utc(u.CreatedAt)
		return true, nil
	case isNoRows(err), IsUniqueViolation(err):
		existing, err := r.GetUserByUsername(ctx, u.Username)
		if err != nil {
			return false, err
		}
		*u = *existing
		return false, nil
	default:
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to create user")
	}
}

// GetUser returns an account by id.
func (r *UserRepository) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if isNoRows(err) {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// GetUserByUsername returns an account by username.
func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if isNoRows(err) {
		return nil, errors.NotFound("user", username)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// ListUsersByRole returns active accounts holding role, by name.
func (r *UserRepository) ListUsersByRole(ctx context.Context, role string) ([]*User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = $1 AND is_active
		ORDER BY full_name, username
	`, role)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users")
	}
	defer rows.Close()

	out := make([]*User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan user")
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users")
	}
	return out, nil
}

// SetUserDepartments replaces the departments mapped to userID.
func (r *UserRepository) SetUserDepartments(ctx context.Context, userID string, departments []string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_departments WHERE user_id = $1`, userID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear departments")
		}
		for _, d := range departments {
			_, err := tx.Exec(ctx, `
				INSERT INTO user_departments (user_id, department)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, userID, d)
			if pgCode(err) == pgForeignKeyViolation {
				return errors.NotFound("user", userID)
			}
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to map department")
			}
		}
		return nil
	})
}

// ListUserDepartments returns the departments mapped to userID, sorted.
func (r *UserRepository) ListUserDepartments(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT department FROM user_departments WHERE user_id = $1 ORDER BY department
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list departments")
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan department")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list departments")
	}
	return out, nil
}

func scanUser(sc scanner) (*User, error) {
	u := &User{}
	if err := sc.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.Role, &u.Active, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.CreatedAt = utc(u.CreatedAt)
	return u, nil
}
