package attendance

import (
	"context"
	"strings"
	"time"

	"qrattend/internal/ledger"
	"qrattend/internal/qrtoken"
)

// Directory is the lookup surface of the student/organization/event CRUD
// layer. Finders return (nil, nil) when nothing matches.
type Directory interface {
	FindStudent(ctx context.Context, id string) (*Student, error)
	FindStudentByExternalID(ctx context.Context, externalID string) (*Student, error)
	FindStudentByToken(ctx context.Context, token string) (*Student, error)
	FindStudentsByTokenPrefix(ctx context.Context, prefix string, limit int) ([]Student, error)
	FindOrganization(ctx context.Context, id string) (*Organization, error)
	FindEvent(ctx context.Context, id string) (*Event, error)
	SaveStudentToken(ctx context.Context, studentID, token string) error
}

// LedgerStore persists attendance records. SignIn and SignOut are single
// conditional writes: when the session guard fails they return the current
// record together with the matching ledger error.
type LedgerStore interface {
	FindRecord(ctx context.Context, studentID, eventID string) (*ledger.Record, error)
	SignIn(ctx context.Context, studentID, eventID string, s ledger.Session, at time.Time) (rec *ledger.Record, created bool, err error)
	SignOut(ctx context.Context, studentID, eventID string, s ledger.Session, at time.Time) (*ledger.Record, error)
	ListRecords(ctx context.Context, eventID string, limit, offset int) ([]ledger.Record, error)
}

// Criteria is what a scan offers for student resolution.
type Criteria struct {
	Raw   string
	Token qrtoken.Token
}

// Matcher is one student resolution strategy.
type Matcher interface {
	Name() string
	Match(ctx context.Context, dir Directory, c Criteria) (*Student, error)
}

// ExternalIDMatcher looks the student up by the decoded external id.
type ExternalIDMatcher struct{}

func (ExternalIDMatcher) Name() string { return "external_id" }

func (ExternalIDMatcher) Match(ctx context.Context, dir Directory, c Criteria) (*Student, error) {
	return dir.FindStudentByExternalID(ctx, c.Token.StudentExternalID)
}

// StoredTokenMatcher finds the student whose stored token equals the scan.
type StoredTokenMatcher struct{}

func (StoredTokenMatcher) Name() string { return "stored_token" }

func (StoredTokenMatcher) Match(ctx context.Context, dir Directory, c Criteria) (*Student, error) {
	return dir.FindStudentByToken(ctx, strings.TrimSpace(c.Raw))
}

// TokenPrefixMatcher matches stored tokens starting with "<studentId>-".
// Ambiguous prefixes resolve to nothing.
type TokenPrefixMatcher struct{}

func (TokenPrefixMatcher) Name() string { return "token_prefix" }

func (TokenPrefixMatcher) Match(ctx context.Context, dir Directory, c Criteria) (*Student, error) {
	prefix := c.Token.StudentExternalID + qrtoken.Delimiter
	found, err := dir.FindStudentsByTokenPrefix(ctx, prefix, 2)
	if err != nil || len(found) != 1 {
		return nil, err
	}
	return &found[0], nil
}

// DefaultMatchers is the lookup order used for scans.
func DefaultMatchers() []Matcher {
	return []Matcher{ExternalIDMatcher{}, StoredTokenMatcher{}, TokenPrefixMatcher{}}
}

// ResolveStudent tries matchers in order and reports which one hit.
func ResolveStudent(ctx context.Context, dir Directory, matchers []Matcher, c Criteria) (*Student, string, error) {
	for _, m := range matchers {
		st, err := m.Match(ctx, dir, c)
		if err != nil {
			return nil, m.Name(), err
		}
		if st != nil {
			return st, m.Name(), nil
		}
	}
	return nil, "", nil
}
