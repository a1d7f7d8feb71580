package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/miladahmadkhan/promotion-panel/internal/platform/errors"
	"github.com/miladahmadkhan/promotion-panel/internal/repository"
)

const userColumns = `id, username, full_name, email, role, is_active, created_at`

// EnsureUser creates u unless the username already exists, in which case u
// is filled from the stored row. Reports whether a row was created.
func (s *Store) EnsureUser(ctx context.Context, u *repository.User) (bool, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := s.now()
	res, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO users (id, username, full_name, email, role, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (username) DO NOTHING
	`, u.ID, u.Username, u.FullName, u.Email, u.Role, toMillis(now))
	if err != nil && !isUniqueViolation(err) {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to create user")
	}
	if err == nil {
		if n, _ := res.RowsAffected(); n == 1 {
			u.Active = true
			u.CreatedAt = fromMillis(toMillis(now))
			return true, nil
		}
	}

	existing, err := s.GetUserByUsername(ctx, u.Username)
	if err != nil {
		return false, err
	}
	*u = *existing
	return false, nil
}

// GetUser returns an account by id.
func (s *Store) GetUser(ctx context.Context, id string) (*repository.User, error) {
	u, err := scanUser(s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if isNoRows(err) {
		return nil, errors.NotFound("user", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// GetUserByUsername returns an account by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*repository.User, error) {
	u, err := scanUser(s.sqlDB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if isNoRows(err) {
		return nil, errors.NotFound("user", username)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get user")
	}
	return u, nil
}

// ListUsersByRole returns active accounts holding role, by name.
func (s *Store) ListUsersByRole(ctx context.Context, role string) ([]*repository.User, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE role = ? AND is_active = 1
		ORDER BY full_name, username
	`, role)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list users")
	}
	defer rows.Close()

	out := make([]*repository.User, 0)
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
func (s *Store) SetUserDepartments(ctx context.Context, userID string, departments []string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_departments WHERE user_id = ?`, userID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear departments")
		}
		for _, d := range departments {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO user_departments (user_id, department)
				VALUES (?, ?)
				ON CONFLICT DO NOTHING
			`, userID, d)
			if isForeignKeyViolation(err) {
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
func (s *Store) ListUserDepartments(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT department FROM user_departments WHERE user_id = ? ORDER BY department
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

// AppendAudit inserts one audit entry. Triggers reject updates and deletes.
func (s *Store) AppendAudit(ctx context.Context, entry *repository.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	var metadata any
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
		metadata = string(data)
	}
	now := s.now()
	_, err := s.sqlDB.ExecContext(ctx, `
		INSERT INTO evaluation_audit_log
		    (id, evaluation_id, action, performed_by, performed_at,
		     status_before, status_after, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.EvaluationID,
		entry.Action,
		entry.PerformedBy,
		toMillis(now),
		stringArg(entry.StatusBefore),
		stringArg(entry.StatusAfter),
		metadata,
	)
	if isForeignKeyViolation(err) {
		return errors.NotFound("evaluation", entry.EvaluationID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	entry.PerformedAt = fromMillis(toMillis(now))
	return nil
}

// ListAudit returns the full audit trail for an evaluation ordered oldest-first.
func (s *Store) ListAudit(ctx context.Context, evaluationID string) ([]*repository.AuditEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT id, evaluation_id, action, performed_by, performed_at,
		       status_before, status_after, metadata
		FROM evaluation_audit_log
		WHERE evaluation_id = ?
		ORDER BY performed_at ASC, rowid
	`, evaluationID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	entries := make([]*repository.AuditEntry, 0)
	for rows.Next() {
		entry := &repository.AuditEntry{}
		var performedAt int64
		var metadata sql.NullString
		err := rows.Scan(
			&entry.ID,
			&entry.EvaluationID,
			&entry.Action,
			&entry.PerformedBy,
			&performedAt,
			&entry.StatusBefore,
			&entry.StatusAfter,
			&metadata,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}
		entry.PerformedAt = fromMillis(performedAt)
		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read audit log")
	}
	return entries, nil
}

func scanUser(sc scanner) (*repository.User, error) {
	u := &repository.User{}
	var createdAt int64
	if err := sc.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.Role, &u.Active, &createdAt); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}
