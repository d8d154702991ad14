package educator

import (
	"context"

	"edusched/internal/apperr"
	"edusched/internal/schedule"
)

// AvailabilityRepository is the persistence surface the service needs.
type AvailabilityRepository interface {
	CreateAvailability(ctx context.Context, av Availability) (Availability, error)
	GetAvailability(ctx context.Context, educatorID, id string) (*Availability, error)
	ListActiveAvailability(ctx context.Context, educatorID string) ([]Availability, error)
	UpdateAvailability(ctx context.Context, av Availability) error
	DeleteAvailability(ctx context.Context, educatorID, id string) error
}

// Service manages educator availability windows.
type Service struct {
	repo AvailabilityRepository
}

// NewService creates a service backed by a repository.
func NewService(repo AvailabilityRepository) *Service {
	return &Service{repo: repo}
}

func validateWindow(days []string, startTime, endTime string) error {
	if len(days) == 0 || startTime == "" || endTime == "" {
		return apperr.InvalidInput("days_of_week, start_time and end_time are required")
	}
	for _, d := range days {
		if !schedule.ValidDay(d) {
			return apperr.Newf(apperr.KindInvalidInput, "unknown day code %q", d)
		}
	}
	start, ok := schedule.TimeToMinutes(startTime)
	if !ok {
		return apperr.InvalidInput("start_time must be HH:MM")
	}
	end, ok := schedule.TimeToMinutes(endTime)
	if !ok {
		return apperr.InvalidInput("end_time must be HH:MM")
	}
	if start >= end {
		return apperr.InvalidInput("start_time must be before end_time")
	}
	return nil
}

// Declare records a new availability window for the educator.
func (s *Service) Declare(ctx context.Context, educatorID string, days []string, startTime, endTime, timeZone string) (Availability, error) {
	if err := validateWindow(days, startTime, endTime); err != nil {
		return Availability{}, err
	}
	return s.repo.CreateAvailability(ctx, Availability{
		EducatorID: educatorID,
		DaysOfWeek: days,
		StartTime:  startTime,
		EndTime:    endTime,
		TimeZone:   timeZone,
	})
}

// List returns the educator's active windows.
func (s *Service) List(ctx context.Context, educatorID string) ([]Availability, error) {
	return s.repo.ListActiveAvailability(ctx, educatorID)
}

// Update overwrites a window's recurrence and active flag.
func (s *Service) Update(ctx context.Context, educatorID, id string, days []string, startTime, endTime, timeZone string, active bool) (Availability, error) {
	existing, err := s.repo.GetAvailability(ctx, educatorID, id)
	if err != nil {
		return Availability{}, err
	}
	if existing == nil {
		return Availability{}, apperr.NotFound("availability not found")
	}
	if len(days) == 0 {
		days = existing.DaysOfWeek
	}
	if startTime == "" {
		startTime = existing.StartTime
	}
	if endTime == "" {
		endTime = existing.EndTime
	}
	if timeZone == "" {
		timeZone = existing.TimeZone
	}
	if err := validateWindow(days, startTime, endTime); err != nil {
		return Availability{}, err
	}
	updated := *existing
	updated.DaysOfWeek = days
	updated.StartTime = startTime
	updated.EndTime = endTime
	updated.TimeZone = timeZone
	updated.Active = active
	if err := s.repo.UpdateAvailability(ctx, updated); err != nil {
		return Availability{}, err
	}
	return updated, nil
}

// Delete removes a window owned by the educator.
func (s *Service) Delete(ctx context.Context, educatorID, id string) error {
	return s.repo.DeleteAvailability(ctx, educatorID, id)
}
