// Package ledger holds the per-(student, event) attendance record and the
// morning/afternoon sign-in state machine.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrAlreadySignedIn  = errors.New("already signed in")
	ErrAlreadySignedOut = errors.New("already signed out")
	ErrNotYetSignedIn   = errors.New("not yet signed in")
	ErrUnknownSession   = errors.New("unknown session")
	ErrUnknownAction    = errors.New("unknown action")
)

// Session is one of the two daily attendance slots.
type Session string

const (
	Morning   Session = "morning"
	Afternoon Session = "afternoon"
)

// ParseSession validates a session tag.
func ParseSession(s string) (Session, error) {
	switch Session(s) {
	case Morning, Afternoon:
		return Session(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSession, s)
}

// Action is the transition requested for a session.
type Action string

const (
	SignInAction  Action = "sign-in"
	SignOutAction Action = "sign-out"
)

// ParseAction validates an action tag.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case SignInAction, SignOutAction:
		return Action(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// State of a single session.
type State int

const (
	NotSignedIn State = iota
	SignedIn
	SignedOut
)

func (s State) String() string {
	switch s {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	default:
		return "not_signed_in"
	}
}

// Status is the record-level status column shared with the excuse workflow.
type Status string

const (
	StatusPending Status = "pending"
	StatusPresent Status = "present"
	StatusExcused Status = "excused"
)

// Slot holds the timestamps of one session. Its state is derived from them.
type Slot struct {
	SignIn  *time.Time `json:"sign_in,omitempty"`
	SignOut *time.Time `json:"sign_out,omitempty"`
}

// State derives the session state from the timestamps.
func (s Slot) State() State {
	switch {
	case s.SignOut != nil:
		return SignedOut
	case s.SignIn != nil:
		return SignedIn
	default:
		return NotSignedIn
	}
}

// Record is the ledger row for one (student, event) pair.
type Record struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	EventID   string    `json:"event_id"`
	Status    Status    `json:"status"`
	Morning   Slot      `json:"morning"`
	Afternoon Slot      `json:"afternoon"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an empty pending record.
func New(studentID, eventID string) *Record {
	return &Record{StudentID: studentID, EventID: eventID, Status: StatusPending}
}

// Slot returns a pointer to the session's timestamps.
func (r *Record) Slot(s Session) (*Slot, error) {
	switch s {
	case Morning:
		return &r.Morning, nil
	case Afternoon:
		return &r.Afternoon, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSession, s)
}

// State returns the state of a session; unknown sessions read as NotSignedIn.
func (r *Record) State(s Session) State {
	slot, err := r.Slot(s)
	if err != nil {
		return NotSignedIn
	}
	return slot.State()
}

// Present reports whether any session has been signed in.
func (r *Record) Present() bool {
	return r.Morning.SignIn != nil || r.Afternoon.SignIn != nil
}

// SignIn moves the session from NotSignedIn to SignedIn and marks the record present.
func (r *Record) SignIn(s Session, at time.Time) error {
	slot, err := r.Slot(s)
	if err != nil {
		return err
	}
	if slot.State() != NotSignedIn {
		return ErrAlreadySignedIn
	}
	t := at
	slot.SignIn = &t
	r.Status = StatusPresent
	r.UpdatedAt = at
	return nil
}

// SignOut moves the session from SignedIn to SignedOut.
func (r *Record) SignOut(s Session, at time.Time) error {
	slot, err := r.Slot(s)
	if err != nil {
		return err
	}
	switch slot.State() {
	case NotSignedIn:
		return ErrNotYetSignedIn
	case SignedOut:
		return ErrAlreadySignedOut
	}
	t := at
	slot.SignOut = &t
	r.UpdatedAt = at
	return nil
}

// Apply runs the transition named by action.
func (r *Record) Apply(action Action, s Session, at time.Time) error {
	switch action {
	case SignInAction:
		return r.SignIn(s, at)
	case SignOutAction:
		return r.SignOut(s, at)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// Rejection explains why action could not be applied to r, which may be nil
// when no record exists yet. It returns nil if the transition would succeed.
func Rejection(r *Record, action Action, s Session) error {
	probe := New("", "")
	if r != nil {
		cp := *r
		probe = &cp
	}
	return probe.Apply(action, s, time.Time{})
}
