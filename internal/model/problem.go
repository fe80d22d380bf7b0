package model

import (
	"time"
)

// ProblemStatus tracks a ticket through triage.
type ProblemStatus string

const (
	StatusPending    ProblemStatus = "pending"
	StatusInProgress ProblemStatus = "in_progress"
	StatusResolved   ProblemStatus = "resolved"
)

// Valid reports whether s is a known status.
func (s ProblemStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusResolved:
		return true
	}
	return false
}

// Categories a student can file a problem under.
var Categories = []string{"technical", "academic", "facilities", "administrative", "other"}

// Problem is a student-submitted ticket.
type Problem struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Status      ProblemStatus `json:"status"`
	IsUrgent    bool          `json:"is_urgent"`
	SubmittedBy string        `json:"submitted_by"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ProblemWithSubmitter is a problem annotated with the submitter's name.
type ProblemWithSubmitter struct {
	Problem
	SubmitterName string `json:"submitter_name"`
}

// ProblemFilter narrows an administrator's problem list. Empty fields match all.
type ProblemFilter struct {
	Status   ProblemStatus
	Category string
	Search   string
}

// SubmitProblemRequest is the request to submit a problem.
type SubmitProblemRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	IsUrgent    bool   `json:"is_urgent"`
}

// UpdateStatusRequest changes a problem's status.
type UpdateStatusRequest struct {
	Status ProblemStatus `json:"status"`
}

// ListProblemsResponse is the response for listing problems.
type ListProblemsResponse struct {
	Problems []ProblemWithSubmitter `json:"problems"`
	Total    int                    `json:"total"`
}
