package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/realtime"
	"github.com/campusdesk/helpdesk/internal/store"
	"github.com/campusdesk/helpdesk/pkg/logger"
	"github.com/campusdesk/helpdesk/pkg/metrics"
)

// Problem field bounds, counted in characters after trimming.
const (
	TitleMin       = 5
	TitleMax       = 200
	DescriptionMin = 10
	DescriptionMax = 2000
)

// ProblemService handles problem tickets.
type ProblemService struct {
	problems store.ProblemStore
	users    store.UserStore
	publisher
	now Clock
}

// NewProblemService creates a new problem service.
func NewProblemService(problems store.ProblemStore, users store.UserStore, feed realtime.Feed, log *logger.Logger) *ProblemService {
	log = log.Named("problems")
	return &ProblemService{
		problems:  problems,
		users:     users,
		publisher: publisher{feed: feed, logger: log},
		now:       utcNow,
	}
}

// ValidateProblem checks a submission and returns it trimmed.
func ValidateProblem(req model.SubmitProblemRequest) (model.SubmitProblemRequest, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.Category = strings.TrimSpace(req.Category)

	if n := utf8.RuneCountInString(req.Title); n < TitleMin || n > TitleMax {
		return req, invalid("title", "must be between %d and %d characters", TitleMin, TitleMax)
	}
	if n := utf8.RuneCountInString(req.Description); n < DescriptionMin || n > DescriptionMax {
		return req, invalid("description", "must be between %d and %d characters", DescriptionMin, DescriptionMax)
	}
	if req.Category == "" {
		return req, invalid("category", "is required")
	}
	if !slices.Contains(model.Categories, req.Category) {
		return req, invalid("category", "must be one of %s", strings.Join(model.Categories, ", "))
	}
	return req, nil
}

// Submit files a new problem for the caller.
func (s *ProblemService) Submit(ctx context.Context, submitter model.Identity, req model.SubmitProblemRequest) (*model.Problem, error) {
	req, err := ValidateProblem(req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &model.Problem{
		ID:          newID(),
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Status:      model.StatusPending,
		IsUrgent:    req.IsUrgent,
		SubmittedBy: submitter.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.problems.CreateProblem(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create problem: %w", err)
	}

	metrics.ProblemsTotal.WithLabelValues(p.Category, strconv.FormatBool(p.IsUrgent)).Inc()
	s.logger.Info("problem submitted",
		zap.String("problem_id", p.ID),
		zap.String("category", p.Category),
		zap.Bool("urgent", p.IsUrgent),
	)
	s.publish(ctx, model.TableProblems, model.ChangeInsert, p.SubmittedBy, p)
	return p, nil
}

// ListForStudent returns the student's problems, newest first.
func (s *ProblemService) ListForStudent(ctx context.Context, studentID string) (*model.ListProblemsResponse, error) {
	problems, err := s.problems.ListProblems(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}
	return s.annotate(ctx, problems)
}

// List returns every problem matching filter, newest first.
func (s *ProblemService) List(ctx context.Context, filter model.ProblemFilter) (*model.ListProblemsResponse, error) {
	problems, err := s.problems.ListProblems(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}
	return s.annotate(ctx, FilterProblems(problems, filter))
}

// FilterProblems applies status, category and case-insensitive text search.
func FilterProblems(problems []model.Problem, filter model.ProblemFilter) []model.Problem {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]model.Problem, 0, len(problems))
	for _, p := range problems {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Title), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *ProblemService) annotate(ctx context.Context, problems []model.Problem) (*model.ListProblemsResponse, error) {
	names := make(map[string]string)
	out := make([]model.ProblemWithSubmitter, 0, len(problems))
	for _, p := range problems {
		name, ok := names[p.SubmittedBy]
		if !ok {
			name = UnknownName
			profile, err := s.users.GetProfile(ctx, p.SubmittedBy)
			switch {
			case err == nil:
				name = profile.FullName
			case !errors.Is(err, store.ErrNotFound):
				return nil, fmt.Errorf("failed to get submitter profile: %w", err)
			}
			names[p.SubmittedBy] = name
		}
		out = append(out, model.ProblemWithSubmitter{Problem: p, SubmitterName: name})
	}
	return &model.ListProblemsResponse{Problems: out, Total: len(out)}, nil
}

// UpdateStatus moves a problem to status.
func (s *ProblemService) UpdateStatus(ctx context.Context, problemID string, status model.ProblemStatus) (*model.Problem, error) {
	if !status.Valid() {
		return nil, invalid("status", "must be pending, in_progress or resolved")
	}
	p, err := s.problems.UpdateProblemStatus(ctx, problemID, status, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to update problem status: %w", err)
	}
	s.logger.Info("problem status changed", zap.String("problem_id", p.ID), zap.String("status", string(status)))
	s.publish(ctx, model.TableProblems, model.ChangeUpdate, p.SubmittedBy, p)
	return p, nil
}

// Categories returns the distinct categories in use, sorted.
func (s *ProblemService) Categories(ctx context.Context) ([]string, error) {
	problems, err := s.problems.ListProblems(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}
	seen := make(map[string]struct{})
	out := []string{}
	for _, p := range problems {
		if _, ok := seen[p.Category]; !ok {
			seen[p.Category] = struct{}{}
			out = append(out, p.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}
