package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"qrattend/internal/ledger"
)

// Repository persists directory lookups, ledger records and audit
// decisions in Postgres.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a repo.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const studentColumns = `id, external_student_id, display_name, organization_id, COALESCE(token_data, '') AS token_data`

func (r *Repository) getStudent(ctx context.Context, where string, arg any) (*Student, error) {
	var st Student
	err := r.db.GetContext(ctx, &st, `SELECT `+studentColumns+` FROM students WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// FindStudent looks a student up by primary key.
func (r *Repository) FindStudent(ctx context.Context, id string) (*Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.getStudent(ctx, "id = $1", id)
}

// FindStudentByExternalID looks a student up by institutional id.
func (r *Repository) FindStudentByExternalID(ctx context.Context, externalID string) (*Student, error) {
	return r.getStudent(ctx, "external_student_id = $1", externalID)
}

// FindStudentByToken matches the stored QR payload exactly.
func (r *Repository) FindStudentByToken(ctx context.Context, token string) (*Student, error) {
	if token == "" {
		return nil, nil
	}
	return r.getStudent(ctx, "token_data = $1", token)
}

// FindStudentsByTokenPrefix matches stored QR payloads starting with prefix.
func (r *Repository) FindStudentsByTokenPrefix(ctx context.Context, prefix string, limit int) ([]Student, error) {
	if limit <= 0 {
		limit = 2
	}
	var out []Student
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+studentColumns+`
		FROM students
		WHERE token_data LIKE $1 ESCAPE '\'
		ORDER BY external_student_id
		LIMIT $2
	`, escapeLike(prefix)+"%", limit)
	return out, err
}

// FindOrganization returns an organization by primary key.
func (r *Repository) FindOrganization(ctx context.Context, id string) (*Organization, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	var o Organization
	err := r.db.GetContext(ctx, &o, `
		SELECT id, identifier, name, COALESCE(token_secret, '') AS token_secret
		FROM organizations WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// FindEvent returns an event with its date and clock times formatted for window.Schedule.
func (r *Repository) FindEvent(ctx context.Context, id string) (*Event, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	var e Event
	err := r.db.GetContext(ctx, &e, `
		SELECT id, organization_id, name,
			to_char(event_date, 'YYYY-MM-DD') AS event_date,
			to_char(start_time, 'HH24:MI') AS start_time,
			to_char(end_time, 'HH24:MI') AS end_time,
			scan_window_minutes_before, grace_minutes_after
		FROM events WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveStudentToken replaces the stored QR payload of a student.
func (r *Repository) SaveStudentToken(ctx context.Context, studentID, token string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE students SET token_data = $2, updated_at = NOW() WHERE id = $1
	`, studentID, token)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// recordRow is the attendance_records projection shared by every ledger query.
type recordRow struct {
	ID               string       `db:"id"`
	StudentID        string       `db:"student_id"`
	EventID          string       `db:"event_id"`
	Status           string       `db:"status"`
	SignInMorning    sql.NullTime `db:"sign_in_morning"`
	SignOutMorning   sql.NullTime `db:"sign_out_morning"`
	SignInAfternoon  sql.NullTime `db:"sign_in_afternoon"`
	SignOutAfternoon sql.NullTime `db:"sign_out_afternoon"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
	Inserted         bool         `db:"inserted"`
}

const recordColumns = `id, student_id, event_id, status,
	sign_in_morning, sign_out_morning, sign_in_afternoon, sign_out_afternoon,
	created_at, updated_at`

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func (row recordRow) record() *ledger.Record {
	return &ledger.Record{
		ID:        row.ID,
		StudentID: row.StudentID,
		EventID:   row.EventID,
		Status:    ledger.Status(row.Status),
		Morning:   ledger.Slot{SignIn: nullTime(row.SignInMorning), SignOut: nullTime(row.SignOutMorning)},
		Afternoon: ledger.Slot{SignIn: nullTime(row.SignInAfternoon), SignOut: nullTime(row.SignOutAfternoon)},
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
}

// sessionColumns maps a session to its timestamp columns. Column names in
// ledger SQL only ever come from here.
func sessionColumns(s ledger.Session) (signIn, signOut string, err error) {
	switch s {
	case ledger.Morning:
		return "sign_in_morning", "sign_out_morning", nil
	case ledger.Afternoon:
		return "sign_in_afternoon", "sign_out_afternoon", nil
	}
	return "", "", fmt.Errorf("%w: %q", ledger.ErrUnknownSession, s)
}

// FindRecord returns the ledger row of a (student, event) pair.
func (r *Repository) FindRecord(ctx context.Context, studentID, eventID string) (*ledger.Record, error) {
	var row recordRow
	err := r.db.GetContext(ctx, &row, `
		SELECT `+recordColumns+`
		FROM attendance_records WHERE student_id = $1 AND event_id = $2
	`, studentID, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

// SignIn creates the record or fills the session's sign-in column in one
// statement; the WHERE on the conflict branch is the session guard.
func (r *Repository) SignIn(ctx context.Context, studentID, eventID string, s ledger.Session, at time.Time) (*ledger.Record, bool, error) {
	in, _, err := sessionColumns(s)
	if err != nil {
		return nil, false, err
	}
	query := fmt.Sprintf(`
		INSERT INTO attendance_records (id, student_id, event_id, status, %[1]s, created_at, updated_at)
		VALUES ($1, $2, $3, 'present', $4, $4, $4)
		ON CONFLICT (student_id, event_id) DO UPDATE
		SET %[1]s = EXCLUDED.%[1]s, status = 'present', updated_at = EXCLUDED.updated_at
		WHERE attendance_records.%[1]s IS NULL
		RETURNING %[2]s, (xmax = 0) AS inserted
	`, in, recordColumns)

	var row recordRow
	err = r.db.QueryRowxContext(ctx, query, uuid.NewString(), studentID, eventID, at.UTC()).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		rec, rerr := r.rejection(ctx, studentID, eventID, ledger.SignInAction, s)
		return rec, false, rerr
	}
	if err != nil {
		return nil, false, err
	}
	return row.record(), row.Inserted, nil
}

// SignOut fills the session's sign-out column only if sign-in is set and
// sign-out is not.
func (r *Repository) SignOut(ctx context.Context, studentID, eventID string, s ledger.Session, at time.Time) (*ledger.Record, error) {
	in, out, err := sessionColumns(s)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		UPDATE attendance_records
		SET %[2]s = $3, updated_at = $3
		WHERE student_id = $1 AND event_id = $2 AND %[1]s IS NOT NULL AND %[2]s IS NULL
		RETURNING %[3]s
	`, in, out, recordColumns)

	var row recordRow
	err = r.db.QueryRowxContext(ctx, query, studentID, eventID, at.UTC()).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return r.rejection(ctx, studentID, eventID, ledger.SignOutAction, s)
	}
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

// rejection reloads the row after a conditional write matched nothing and
// names the failed guard.
func (r *Repository) rejection(ctx context.Context, studentID, eventID string, action ledger.Action, s ledger.Session) (*ledger.Record, error) {
	rec, err := r.FindRecord(ctx, studentID, eventID)
	if err != nil {
		return nil, err
	}
	if reason := ledger.Rejection(rec, action, s); reason != nil {
		return rec, reason
	}
	return nil, fmt.Errorf("%s %s for student %s event %s: conditional write matched no row", action, s, studentID, eventID)
}

// ListRecords returns ledger rows of an event, oldest first.
func (r *Repository) ListRecords(ctx context.Context, eventID string, limit, offset int) ([]ledger.Record, error) {
	if _, err := uuid.Parse(eventID); err != nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryxContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE event_id = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, eventID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ledger.Record
	for rows.Next() {
		var row recordRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		res = append(res, *row.record())
	}
	return res, rows.Err()
}

// UpsertDevice ensures a scanner device record exists.
func (r *Repository) UpsertDevice(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return errors.New("device id required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (device_id)
		VALUES ($1)
		ON CONFLICT (device_id) DO UPDATE SET last_seen_at = NOW()
	`, deviceID)
	return err
}

// InsertDecision stores an audit entry; redelivered entries are ignored.
func (r *Repository) InsertDecision(ctx context.Context, d Decision) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO admission_decisions
			(id, kind, student_id, event_id, session, action, outcome, reason, matcher, decided_at)
		VALUES
			(:id, :kind, NULLIF(:student_id, ''), :event_id, :session, :action, :outcome, NULLIF(:reason, ''), NULLIF(:matcher, ''), :decided_at)
		ON CONFLICT (id) DO NOTHING
	`, d)
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
