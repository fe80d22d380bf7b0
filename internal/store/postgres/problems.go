package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/campusdesk/helpdesk/internal/model"
)

const problemColumns = `id, title, description, category, status, is_urgent, submitted_by, created_at, updated_at`

func scanProblem(row pgx.Row) (*model.Problem, error) {
	var p model.Problem
	var status string
	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Category, &status, &p.IsUrgent,
		&p.SubmittedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.ProblemStatus(status)
	return &p, nil
}

// CreateProblem inserts a problem.
func (s *Store) CreateProblem(ctx context.Context, p *model.Problem) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO problems (`+problemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Title, p.Description, p.Category, string(p.Status), p.IsUrgent,
		p.SubmittedBy, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert problem: %w", mapError(err))
	}
	return nil
}

// GetProblem loads a problem by id.
func (s *Store) GetProblem(ctx context.Context, id string) (*model.Problem, error) {
	p, err := scanProblem(s.pool.QueryRow(ctx, `SELECT `+problemColumns+` FROM problems WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}

// ListProblems returns problems newest first, optionally for one submitter.
func (s *Store) ListProblems(ctx context.Context, submittedBy string) ([]model.Problem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+problemColumns+` FROM problems
		WHERE $1 = '' OR submitted_by = $1
		ORDER BY created_at DESC, id DESC`, submittedBy)
	if err != nil {
		return nil, fmt.Errorf("postgres: list problems: %w", err)
	}
	defer rows.Close()

	var out []model.Problem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateProblemStatus sets status and updated_at.
func (s *Store) UpdateProblemStatus(ctx context.Context, id string, status model.ProblemStatus, at time.Time) (*model.Problem, error) {
	row := s.pool.QueryRow(ctx, `UPDATE problems SET status = $2, updated_at = $3 WHERE id = $1
		RETURNING `+problemColumns, id, string(status), at)
	p, err := scanProblem(row)
	if err != nil {
		return nil, mapError(err)
	}
	return p, nil
}
