package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/campusdesk/helpdesk/internal/model"
)

const profileColumns = `id, user_id, full_name, avatar_url, created_at`

func scanProfile(row pgx.Row) (*model.Profile, error) {
	var p model.Profile
	if err := row.Scan(&p.ID, &p.UserID, &p.FullName, &p.AvatarURL, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateAccount writes the user, role and profile rows in one transaction.
func (s *Store) CreateAccount(ctx context.Context, account *model.NewAccount) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		u := account.User
		if _, err := tx.Exec(ctx, `INSERT INTO users (id, email, password_hash, created_at)
			VALUES ($1, lower($2), $3, $4)`, u.ID, u.Email, u.PasswordHash, u.CreatedAt); err != nil {
			return fmt.Errorf("postgres: insert user: %w", mapError(err))
		}
		if _, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role, created_at) VALUES ($1, $2, $3)`,
			u.ID, string(account.Role), u.CreatedAt); err != nil {
			return fmt.Errorf("postgres: insert role: %w", mapError(err))
		}
		p := account.Profile
		if _, err := tx.Exec(ctx, `INSERT INTO profiles (`+profileColumns+`) VALUES ($1, $2, $3, $4, $5)`,
			p.ID, p.UserID, p.FullName, p.AvatarURL, p.CreatedAt); err != nil {
			return fmt.Errorf("postgres: insert profile: %w", mapError(err))
		}
		return nil
	})
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// GetUserByEmail loads a user by case-insensitive email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT id, email, password_hash, created_at FROM users WHERE email = lower($1)`, email))
	if err != nil {
		return nil, mapError(err)
	}
	return u, nil
}

// UpdatePassword replaces a user's password hash.
func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("postgres: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mapError(pgx.ErrNoRows)
	}
	return nil
}

// GetRole returns a user's role.
func (s *Store) GetRole(ctx context.Context, userID string) (model.Role, error) {
	var role string
	if err := s.pool.QueryRow(ctx, `SELECT role FROM user_roles WHERE user_id = $1`, userID).Scan(&role); err != nil {
		return "", mapError(err)
	}
	return model.Role(role), nil
}

// FirstAdmin returns the earliest administrator.
func (s *Store) FirstAdmin(ctx context.Context) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT user_id FROM user_roles WHERE role = 'admin'
		ORDER BY created_at ASC, user_id ASC LIMIT 1`).Scan(&id)
	if err != nil {
		return "", mapError(err)
	}
	return id, nil
}

// GetProfile loads a user's profile.
func (s *Store) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// UpdateProfileName sets a user's display name.
func (s *Store) UpdateProfileName(ctx context.Context, userID, fullName string) (*model.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, `UPDATE profiles SET full_name = $2 WHERE user_id = $1
		RETURNING `+profileColumns, userID, fullName))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// SetAvatarURL sets or clears a user's avatar URL.
func (s *Store) SetAvatarURL(ctx context.Context, userID string, url *string) (*model.Profile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, `UPDATE profiles SET avatar_url = $2 WHERE user_id = $1
		RETURNING `+profileColumns, userID, url))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// CountProfiles returns the number of profiles.
func (s *Store) CountProfiles(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count profiles: %w", err)
	}
	return n, nil
}

// ListUserSummaries returns profiles with role and problem count, oldest first.
func (s *Store) ListUserSummaries(ctx context.Context) ([]model.UserSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.user_id, p.full_name, COALESCE(r.role, 'student'),
			(SELECT count(*) FROM problems pr WHERE pr.submitted_by = p.user_id),
			p.created_at
		FROM profiles p
		LEFT JOIN user_roles r ON r.user_id = p.user_id
		ORDER BY p.created_at ASC, p.user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list users: %w", err)
	}
	defer rows.Close()

	var out []model.UserSummary
	for rows.Next() {
		var u model.UserSummary
		var role string
		if err := rows.Scan(&u.ID, &u.UserID, &u.FullName, &role, &u.ProblemCount, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Role = model.Role(role)
		out = append(out, u)
	}
	return out, rows.Err()
}
