package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/campusdesk/helpdesk/internal/model"
	"github.com/campusdesk/helpdesk/internal/store"
)

// Dashboard window and feed sizes.
const (
	TimelineDays     = 7
	ActivityPerKind  = 5
	ActivityFeedSize = 10
)

// DashboardService aggregates problems, profiles and messages for admins.
type DashboardService struct {
	problems store.ProblemStore
	messages store.MessageStore
	users    store.UserStore
	now      Clock
}

// NewDashboardService creates a new dashboard service.
func NewDashboardService(problems store.ProblemStore, messages store.MessageStore, users store.UserStore) *DashboardService {
	return &DashboardService{problems: problems, messages: messages, users: users, now: utcNow}
}

func (s *DashboardService) allProblems(ctx context.Context) ([]model.Problem, error) {
	problems, err := s.problems.ListProblems(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list problems: %w", err)
	}
	return problems, nil
}

// Stats returns the headline numbers.
func (s *DashboardService) Stats(ctx context.Context) (*model.DashboardStats, error) {
	problems, err := s.allProblems(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.users.CountProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	stats := ComputeStats(problems, users)
	return &stats, nil
}

// ComputeStats derives the dashboard stats from the full problem list.
func ComputeStats(problems []model.Problem, users int) model.DashboardStats {
	stats := model.DashboardStats{TotalProblems: len(problems), ActiveUsers: users}

	var resolved int
	var total time.Duration
	for _, p := range problems {
		if p.IsUrgent {
			stats.UrgentProblems++
		}
		if p.Status == model.StatusResolved {
			resolved++
			total += p.UpdatedAt.Sub(p.CreatedAt)
		}
	}

	hours := 0.0
	if resolved > 0 {
		hours = (total / time.Duration(resolved)).Hours()
	}
	stats.AvgResponseTime = FormatHours(hours)
	return stats
}

// FormatHours renders hours with at most one decimal, e.g. "2.5h".
func FormatHours(hours float64) string {
	rounded := math.Round(hours*10) / 10
	return strconv.FormatFloat(rounded, 'f', -1, 64) + "h"
}

// ProblemsOverTime buckets the last TimelineDays calendar days.
func (s *DashboardService) ProblemsOverTime(ctx context.Context) (*model.Timeline, error) {
	problems, err := s.allProblems(ctx)
	if err != nil {
		return nil, err
	}
	timeline := BuildTimeline(problems, s.now(), TimelineDays)
	return &timeline, nil
}

// BuildTimeline returns one bucket per UTC calendar day ending on now's day.
func BuildTimeline(problems []model.Problem, now time.Time, days int) model.Timeline {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	timeline := model.Timeline{Days: make([]model.DayBucket, days)}
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		day := today.AddDate(0, 0, i-(days-1))
		key := day.Format(time.DateOnly)
		timeline.Days[i] = model.DayBucket{Date: key, Label: day.Format("Jan 2")}
		index[key] = i
	}

	for _, p := range problems {
		i, ok := index[p.CreatedAt.UTC().Format(time.DateOnly)]
		if !ok {
			continue
		}
		b := &timeline.Days[i]
		b.Total++
		timeline.Total++
		if p.IsUrgent {
			b.Urgent++
			timeline.Urgent++
		}
		if p.Status == model.StatusResolved {
			b.Resolved++
			timeline.Resolved++
		}
	}
	return timeline
}

// CategoryBreakdown counts problems per category.
func (s *DashboardService) CategoryBreakdown(ctx context.Context) ([]model.CountEntry, error) {
	problems, err := s.allProblems(ctx)
	if err != nil {
		return nil, err
	}
	return CountBy(problems, func(p model.Problem) string { return p.Category }), nil
}

// StatusBreakdown counts problems per status.
func (s *DashboardService) StatusBreakdown(ctx context.Context) ([]model.CountEntry, error) {
	problems, err := s.allProblems(ctx)
	if err != nil {
		return nil, err
	}
	return CountBy(problems, func(p model.Problem) string { return string(p.Status) }), nil
}

// CountBy counts problems per key, largest first then by name.
func CountBy(problems []model.Problem, key func(model.Problem) string) []model.CountEntry {
	counts := make(map[string]int)
	for _, p := range problems {
		counts[key(p)]++
	}
	out := make([]model.CountEntry, 0, len(counts))
	for name, n := range counts {
		out = append(out, model.CountEntry{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// RecentActivity merges the newest problems and messages.
func (s *DashboardService) RecentActivity(ctx context.Context) ([]model.Activity, error) {
	problems, err := s.allProblems(ctx)
	if err != nil {
		return nil, err
	}
	if len(problems) > ActivityPerKind {
		problems = problems[:ActivityPerKind]
	}
	messages, err := s.messages.RecentMessages(ctx, ActivityPerKind)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}

	names := make(map[string]string)
	name := func(userID string) string {
		if n, ok := names[userID]; ok {
			return n
		}
		n := "User"
		if p, err := s.users.GetProfile(ctx, userID); err == nil {
			n = p.FullName
		}
		names[userID] = n
		return n
	}

	return MergeActivity(problems, messages, name), nil
}

// MergeActivity builds the activity feed, newest first.
func MergeActivity(problems []model.Problem, messages []model.Message, name func(userID string) string) []model.Activity {
	out := make([]model.Activity, 0, len(problems)+len(messages))
	for _, p := range problems {
		out = append(out, model.Activity{
			ID:          p.ID,
			Type:        model.ActivityProblem,
			Description: fmt.Sprintf("%s submitted %q", name(p.SubmittedBy), p.Title),
			Timestamp:   p.CreatedAt,
		})
	}
	for _, m := range messages {
		out = append(out, model.Activity{
			ID:          m.ID,
			Type:        model.ActivityMessage,
			Description: fmt.Sprintf("%s sent a message", name(m.SenderID)),
			Timestamp:   m.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > ActivityFeedSize {
		out = out[:ActivityFeedSize]
	}
	return out
}
