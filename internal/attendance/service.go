package attendance

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"qrattend/internal/ledger"
	"qrattend/internal/metrics"
	"qrattend/internal/qrtoken"
	"qrattend/internal/window"
)

// Outcome of one admission attempt.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeUpdated  Outcome = "updated"
	OutcomeRejected Outcome = "rejected"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonInvalidToken         Reason = "invalid_token"
	ReasonStudentNotFound      Reason = "student_not_found"
	ReasonOrganizationNotFound Reason = "organization_not_found"
	ReasonEventNotFound        Reason = "event_not_found"
	ReasonTooEarly             Reason = "too_early"
	ReasonTooLate              Reason = "too_late"
	ReasonAlreadySignedIn      Reason = "already_signed_in"
	ReasonAlreadySignedOut     Reason = "already_signed_out"
	ReasonNotYetSignedIn       Reason = "not_yet_signed_in"
)

const (
	kindScan   = "scan"
	kindManual = "manual"
)

// Result is returned for every decided attempt. Rejections are results, not errors.
type Result struct {
	Outcome Outcome        `json:"outcome"`
	Reason  Reason         `json:"reason,omitempty"`
	Record  *ledger.Record `json:"record,omitempty"`
	Window  *window.Bounds `json:"window,omitempty"`
}

// Accepted reports whether the ledger was written.
func (r Result) Accepted() bool {
	return r.Outcome == OutcomeCreated || r.Outcome == OutcomeUpdated
}

func rejected(reason Reason) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason}
}

// ScanRequest is a QR admission.
type ScanRequest struct {
	Token   string
	EventID string
	Session string
}

// ManualEntry is an administrator's direct sign-in or sign-out.
type ManualEntry struct {
	StudentID string
	EventID   string
	Session   string
	Action    string
}

// Options configure a Service. Zero values get working defaults.
type Options struct {
	Keyring            *qrtoken.Keyring
	Clock              clockwork.Clock
	Location           *time.Location
	Logger             *zap.Logger
	Metrics            metrics.Recorder
	Publisher          Publisher
	Matchers           []Matcher
	AcceptStoredTokens bool
}

// Service coordinates token checks, window evaluation and ledger transitions.
type Service struct {
	dir          Directory
	ledger       LedgerStore
	keys         *qrtoken.Keyring
	clock        clockwork.Clock
	loc          *time.Location
	log          *zap.Logger
	metrics      metrics.Recorder
	audit        Publisher
	matchers     []Matcher
	acceptStored bool
	tracer       trace.Tracer
}

// NewService creates a service backed by a directory and a ledger store.
func NewService(dir Directory, store LedgerStore, opts Options) *Service {
	s := &Service{
		dir:          dir,
		ledger:       store,
		keys:         opts.Keyring,
		clock:        opts.Clock,
		loc:          opts.Location,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		audit:        opts.Publisher,
		matchers:     opts.Matchers,
		acceptStored: opts.AcceptStoredTokens,
		tracer:       otel.Tracer("qrattend/attendance"),
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if len(s.matchers) == 0 {
		s.matchers = DefaultMatchers()
	}
	return s
}

// Admit decides a QR scan. The clock is read once for the whole attempt.
func (s *Service) Admit(ctx context.Context, req ScanRequest) (res Result, err error) {
	now := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, "attendance.Admit", trace.WithAttributes(
		attribute.String("event.id", req.EventID),
		attribute.String("session", req.Session),
	))
	d := newDecision(kindScan, now)
	d.EventID, d.Session, d.Action = req.EventID, req.Session, string(ledger.SignInAction)
	defer func() { s.finish(ctx, span, &d, res, err) }()

	session, err := ledger.ParseSession(req.Session)
	if err != nil {
		return Result{}, err
	}

	tok, err := qrtoken.Decode(req.Token)
	if err != nil {
		return rejected(ReasonInvalidToken), nil
	}

	student, matcher, err := ResolveStudent(ctx, s.dir, s.matchers, Criteria{Raw: req.Token, Token: tok})
	if err != nil {
		return Result{}, fmt.Errorf("resolve student: %w", err)
	}
	if student == nil {
		return rejected(ReasonStudentNotFound), nil
	}
	d.StudentID, d.Matcher = student.ID, matcher

	org, err := s.dir.FindOrganization(ctx, student.OrganizationID)
	if err != nil {
		return Result{}, fmt.Errorf("find organization: %w", err)
	}
	if org == nil {
		return rejected(ReasonOrganizationNotFound), nil
	}

	ok, err := s.tokenValid(req.Token, tok, student, org)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return rejected(ReasonInvalidToken), nil
	}

	return s.admitToEvent(ctx, student, req.EventID, session, ledger.SignInAction, now)
}

// Record applies an administrator's manual entry. Sign-in is window checked
// like a scan; sign-out is not.
func (s *Service) Record(ctx context.Context, e ManualEntry) (res Result, err error) {
	now := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, "attendance.Record", trace.WithAttributes(
		attribute.String("event.id", e.EventID),
		attribute.String("session", e.Session),
		attribute.String("action", e.Action),
	))
	d := newDecision(kindManual, now)
	d.EventID, d.Session, d.Action = e.EventID, e.Session, e.Action
	defer func() { s.finish(ctx, span, &d, res, err) }()

	session, err := ledger.ParseSession(e.Session)
	if err != nil {
		return Result{}, err
	}
	action, err := ledger.ParseAction(e.Action)
	if err != nil {
		return Result{}, err
	}

	student, err := s.dir.FindStudent(ctx, e.StudentID)
	if err != nil {
		return Result{}, fmt.Errorf("find student: %w", err)
	}
	if student == nil {
		return rejected(ReasonStudentNotFound), nil
	}
	d.StudentID = student.ID

	return s.admitToEvent(ctx, student, e.EventID, session, action, now)
}

// admitToEvent runs event lookup, window check and the ledger write. An
// event of another organization is reported as not found.
func (s *Service) admitToEvent(ctx context.Context, student *Student, eventID string, session ledger.Session, action ledger.Action, now time.Time) (Result, error) {
	event, err := s.dir.FindEvent(ctx, eventID)
	if err != nil {
		return Result{}, fmt.Errorf("find event: %w", err)
	}
	if event == nil || event.OrganizationID != student.OrganizationID {
		return rejected(ReasonEventNotFound), nil
	}

	var bounds *window.Bounds
	if action == ledger.SignInAction {
		b, err := window.Compute(event.Schedule(), s.loc)
		if err != nil {
			return Result{}, fmt.Errorf("event %s window: %w", event.ID, err)
		}
		bounds = &b
		switch b.Classify(now) {
		case window.TooEarly:
			return Result{Outcome: OutcomeRejected, Reason: ReasonTooEarly, Window: bounds}, nil
		case window.TooLate:
			return Result{Outcome: OutcomeRejected, Reason: ReasonTooLate, Window: bounds}, nil
		}
	}

	var (
		rec     *ledger.Record
		created bool
	)
	if action == ledger.SignInAction {
		rec, created, err = s.ledger.SignIn(ctx, student.ID, event.ID, session, now)
	} else {
		rec, err = s.ledger.SignOut(ctx, student.ID, event.ID, session, now)
	}
	if reason, ok := ledgerReason(err); ok {
		return Result{Outcome: OutcomeRejected, Reason: reason, Record: rec, Window: bounds}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("ledger %s: %w", action, err)
	}

	res := Result{Outcome: OutcomeUpdated, Record: rec, Window: bounds}
	if created {
		res.Outcome = OutcomeCreated
	}
	return res, nil
}

// tokenValid checks the organization claim and the integrity tag. A scan
// equal to the token stored for the student is accepted when enabled, which
// keeps codes printed before HMAC tags working.
func (s *Service) tokenValid(raw string, tok qrtoken.Token, st *Student, org *Organization) (bool, error) {
	if tok.OrganizationID != org.Identifier {
		return false, nil
	}
	if s.acceptStored && st.TokenData != "" &&
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(raw)), []byte(st.TokenData)) == 1 {
		return true, nil
	}
	if s.keys == nil && org.TokenSecret == "" {
		return false, nil
	}
	secret, err := s.keys.SecretFor(org.Identifier, org.TokenSecret)
	if err != nil {
		return false, fmt.Errorf("organization %s secret: %w", org.ID, err)
	}
	return tok.Validate(secret), nil
}

// IssueToken signs a fresh token for the student and stores it as the
// student's current QR payload.
func (s *Service) IssueToken(ctx context.Context, studentExternalID string) (string, error) {
	st, err := s.dir.FindStudentByExternalID(ctx, studentExternalID)
	if err != nil {
		return "", fmt.Errorf("find student: %w", err)
	}
	if st == nil {
		return "", fmt.Errorf("student %s: %w", studentExternalID, ErrNotFound)
	}
	org, err := s.dir.FindOrganization(ctx, st.OrganizationID)
	if err != nil {
		return "", fmt.Errorf("find organization: %w", err)
	}
	if org == nil {
		return "", fmt.Errorf("organization %s: %w", st.OrganizationID, ErrNotFound)
	}
	secret, err := s.keys.SecretFor(org.Identifier, org.TokenSecret)
	if err != nil {
		return "", err
	}
	token, err := qrtoken.Encode(st.ExternalID, org.Identifier, secret)
	if err != nil {
		return "", err
	}
	if err := s.dir.SaveStudentToken(ctx, st.ID, token); err != nil {
		return "", fmt.Errorf("save token: %w", err)
	}
	s.log.Info("qr token issued", zap.String("student_id", st.ID), zap.String("organization", org.Identifier))
	return token, nil
}

// ListRecords returns the ledger rows of an event.
func (s *Service) ListRecords(ctx context.Context, eventID string, limit, offset int) ([]ledger.Record, error) {
	return s.ledger.ListRecords(ctx, eventID, limit, offset)
}

// IsInvalidInput reports errors caused by a bad session or action tag.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ledger.ErrUnknownSession) || errors.Is(err, ledger.ErrUnknownAction)
}

func ledgerReason(err error) (Reason, bool) {
	switch {
	case errors.Is(err, ledger.ErrAlreadySignedIn):
		return ReasonAlreadySignedIn, true
	case errors.Is(err, ledger.ErrAlreadySignedOut):
		return ReasonAlreadySignedOut, true
	case errors.Is(err, ledger.ErrNotYetSignedIn):
		return ReasonNotYetSignedIn, true
	}
	return "", false
}

// finish logs, counts, traces and publishes the decision. None of it can
// change the result.
func (s *Service) finish(ctx context.Context, span trace.Span, d *Decision, res Result, err error) {
	defer span.End()
	elapsed := s.clock.Since(d.DecidedAt)

	fields := []zap.Field{
		zap.String("decision_id", d.ID),
		zap.String("kind", d.Kind),
		zap.String("event_id", d.EventID),
		zap.String("session", d.Session),
		zap.String("action", d.Action),
	}
	if d.StudentID != "" {
		fields = append(fields, zap.String("student_id", d.StudentID))
	}
	if d.Matcher != "" {
		fields = append(fields, zap.String("matcher", d.Matcher))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if IsInvalidInput(err) {
			s.log.Warn("admission request invalid", append(fields, zap.Error(err))...)
			s.metrics.RecordAdmission(d.Kind, "invalid", "none", elapsed)
			return
		}
		s.log.Error("admission failed", append(fields, zap.Error(err))...)
		s.metrics.RecordAdmission(d.Kind, "error", "none", elapsed)
		return
	}

	d.Outcome, d.Reason = res.Outcome, res.Reason
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)), attribute.String("reason", string(res.Reason)))
	fields = append(fields, zap.String("outcome", string(res.Outcome)))
	if res.Reason != "" {
		fields = append(fields, zap.String("reason", string(res.Reason)))
	}
	if res.Window != nil && !res.Accepted() {
		fields = append(fields, zap.Time("window_opens", res.Window.Opens), zap.Time("window_closes", res.Window.Closes))
	}
	s.log.Info("admission decided", fields...)

	reason := string(res.Reason)
	if reason == "" {
		reason = "none"
	}
	s.metrics.RecordAdmission(d.Kind, string(res.Outcome), reason, elapsed)

	if s.audit != nil {
		decision := *d
		go s.publish(context.WithoutCancel(ctx), decision)
	}
}

func (s *Service) publish(ctx context.Context, d Decision) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.audit.PublishDecision(ctx, d); err != nil {
		s.metrics.RecordAuditPublishFailure()
		s.log.Warn("audit publish failed", zap.String("decision_id", d.ID), zap.Error(err))
	}
}
