package model

import "time"

// DashboardStats are the headline numbers of the admin dashboard.
type DashboardStats struct {
	TotalProblems   int    `json:"total_problems"`
	ActiveUsers     int    `json:"active_users"`
	UrgentProblems  int    `json:"urgent_problems"`
	AvgResponseTime string `json:"avg_response_time"`
}

// DayBucket aggregates the problems created on one calendar day.
type DayBucket struct {
	Date     string `json:"date"`
	Label    string `json:"label"`
	Total    int    `json:"total"`
	Urgent   int    `json:"urgent"`
	Resolved int    `json:"resolved"`
}

// Timeline is the per-day series plus totals over the window.
type Timeline struct {
	Days     []DayBucket `json:"days"`
	Total    int         `json:"total"`
	Urgent   int         `json:"urgent"`
	Resolved int         `json:"resolved"`
}

// CountEntry is one slice of a breakdown chart.
type CountEntry struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ActivityType classifies a recent-activity row.
type ActivityType string

const (
	ActivityProblem ActivityType = "problem"
	ActivityMessage ActivityType = "message"
)

// Activity is one row in the recent-activity feed.
type Activity struct {
	ID          string       `json:"id"`
	Type        ActivityType `json:"type"`
	Description string       `json:"description"`
	Timestamp   time.Time    `json:"timestamp"`
}
