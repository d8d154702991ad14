package educator

import "time"

// Verification states for an educator profile.
const (
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

// Educator is an org member who can be assigned to batches.
type Educator struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Email              string    `json:"email"`
	SubOrgID           *string   `json:"sub_org_id,omitempty"`
	Status             string    `json:"status"`
	VerificationStatus string    `json:"verification_status"`
	TeachesCourses     []string  `json:"teaches_courses,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Availability is one recurring free-time window an educator declares.
// Multiple windows per educator form a union.
type Availability struct {
	ID         string    `json:"id"`
	EducatorID string    `json:"educator_id"`
	DaysOfWeek []string  `json:"days_of_week"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	TimeZone   string    `json:"time_zone"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
