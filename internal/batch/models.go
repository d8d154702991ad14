package batch

import (
	"time"

	"edusched/internal/apperr"
	"edusched/internal/schedule"
)

// Batch lifecycle statuses.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusOngoing   = "ongoing"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Delivery modes.
const (
	ModeOnline  = "online"
	ModeOffline = "offline"
	ModeHybrid  = "hybrid"
)

// ActiveStatuses are the statuses that count for schedule conflicts.
var ActiveStatuses = []string{StatusDraft, StatusPublished, StatusOngoing}

// Schedule is the weekly recurrence descriptor shared by batches and
// availability windows.
type Schedule struct {
	DaysOfWeek []string `json:"days_of_week"`
	StartTime  string   `json:"start_time"`
	EndTime    string   `json:"end_time"`
	TimeZone   string   `json:"time_zone"`
}

// Empty reports whether the schedule declares no recurrence at all.
func (s Schedule) Empty() bool {
	return len(s.DaysOfWeek) == 0
}

// Validate checks day codes and time ordering. Missing times are
// allowed (no constraint); malformed or inverted times are not.
func (s Schedule) Validate() error {
	for _, d := range s.DaysOfWeek {
		if !schedule.ValidDay(d) {
			return apperr.Newf(apperr.KindInvalidInput, "unknown day code %q", d)
		}
	}
	start := schedule.NoTime
	end := schedule.NoTime
	var ok bool
	if s.StartTime != "" {
		if start, ok = schedule.TimeToMinutes(s.StartTime); !ok {
			return apperr.InvalidInput("schedule start_time must be HH:MM")
		}
	}
	if s.EndTime != "" {
		if end, ok = schedule.TimeToMinutes(s.EndTime); !ok {
			return apperr.InvalidInput("schedule end_time must be HH:MM")
		}
	}
	if start != schedule.NoTime && end != schedule.NoTime && start >= end {
		return apperr.InvalidInput("schedule start_time must be before end_time")
	}
	return nil
}

// Minutes returns the schedule's time range in minute space, NoTime for
// absent parts.
func (s Schedule) Minutes() (start, end int) {
	start, end = schedule.NoTime, schedule.NoTime
	if v, ok := schedule.TimeToMinutes(s.StartTime); ok {
		start = v
	}
	if v, ok := schedule.TimeToMinutes(s.EndTime); ok {
		end = v
	}
	return start, end
}

// Batch is a recurring class offering with a bounded calendar run.
type Batch struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Code            string    `json:"code,omitempty"`
	CourseID        string    `json:"course_id"`
	EducatorID      *string   `json:"educator_id,omitempty"`
	SubOrgID        *string   `json:"sub_org_id,omitempty"`
	Mode            string    `json:"mode"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	Capacity        int       `json:"capacity"`
	EnrollmentCount int       `json:"enrollment_count"`
	Status          string    `json:"status"`
	Schedule        Schedule  `json:"schedule"`
	CreatedBy       string    `json:"created_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ValidStatus reports whether s is a known lifecycle status.
func ValidStatus(s string) bool {
	switch s {
	case StatusDraft, StatusPublished, StatusOngoing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ValidMode reports whether m is a known delivery mode.
func ValidMode(m string) bool {
	switch m {
	case ModeOnline, ModeOffline, ModeHybrid:
		return true
	}
	return false
}
