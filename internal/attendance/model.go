package attendance

import (
	"errors"

	"qrattend/internal/window"
)

// ErrNotFound is returned by stores when a keyed row does not exist.
var ErrNotFound = errors.New("not found")

// Student is read from the directory; the admission core never writes it
// except for re-issued token data.
type Student struct {
	ID             string `db:"id" json:"id"`
	ExternalID     string `db:"external_student_id" json:"external_student_id"`
	DisplayName    string `db:"display_name" json:"display_name"`
	OrganizationID string `db:"organization_id" json:"organization_id"`
	TokenData      string `db:"token_data" json:"-"`
}

// Organization owns students and events.
type Organization struct {
	ID          string `db:"id" json:"id"`
	Identifier  string `db:"identifier" json:"identifier"`
	Name        string `db:"name" json:"name"`
	TokenSecret string `db:"token_secret" json:"-"`
}

// Event is a dated attendance occasion with one start/end pair shared by both sessions.
type Event struct {
	ID                      string `db:"id" json:"id"`
	OrganizationID          string `db:"organization_id" json:"organization_id"`
	Name                    string `db:"name" json:"name"`
	Date                    string `db:"event_date" json:"date"`
	StartTime               string `db:"start_time" json:"start_time"`
	EndTime                 string `db:"end_time" json:"end_time"`
	ScanWindowMinutesBefore int    `db:"scan_window_minutes_before" json:"scan_window_minutes_before"`
	GraceMinutesAfter       int    `db:"grace_minutes_after" json:"grace_minutes_after"`
}

// Schedule returns the window inputs of the event.
func (e Event) Schedule() window.Schedule {
	return window.Schedule{
		Date:          e.Date,
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		MinutesBefore: e.ScanWindowMinutesBefore,
		MinutesAfter:  e.GraceMinutesAfter,
	}
}

// Validate checks the event invariants.
func (e Event) Validate() error {
	return e.Schedule().Validate()
}
