package attendance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/ledger"
)

// MemoryStore is an in-process Directory and LedgerStore for dev/testing.
// One mutex covers every check-and-write, so ledger transitions are atomic.
type MemoryStore struct {
	mu        sync.Mutex
	students  map[string]Student
	orgs      map[string]Organization
	events    map[string]Event
	records   map[recordKey]*ledger.Record
	decisions []Decision
}

type recordKey struct {
	studentID string
	eventID   string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students: make(map[string]Student),
		orgs:     make(map[string]Organization),
		events:   make(map[string]Event),
		records:  make(map[recordKey]*ledger.Record),
	}
}

// PutOrganization adds or replaces an organization.
func (m *MemoryStore) PutOrganization(o Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orgs[o.ID] = o
}

// PutStudent adds or replaces a student.
func (m *MemoryStore) PutStudent(s Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.students[s.ID] = s
}

// PutEvent adds or replaces an event after validating it.
func (m *MemoryStore) PutEvent(e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = e
	return nil
}

func (m *MemoryStore) FindStudent(_ context.Context, id string) (*Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, nil
}

func (m *MemoryStore) FindStudentByExternalID(_ context.Context, externalID string) (*Student, error) {
	return m.findStudent(func(s Student) bool { return s.ExternalID == externalID }), nil
}

func (m *MemoryStore) FindStudentByToken(_ context.Context, token string) (*Student, error) {
	if token == "" {
		return nil, nil
	}
	return m.findStudent(func(s Student) bool { return s.TokenData == token }), nil
}

func (m *MemoryStore) FindStudentsByTokenPrefix(_ context.Context, prefix string, limit int) ([]Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Student
	for _, s := range m.students {
		if s.TokenData != "" && strings.HasPrefix(s.TokenData, prefix) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) findStudent(match func(Student) bool) *Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if match(s) {
			return &s
		}
	}
	return nil
}

func (m *MemoryStore) FindOrganization(_ context.Context, id string) (*Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orgs[id]; ok {
		return &o, nil
	}
	return nil, nil
}

func (m *MemoryStore) FindEvent(_ context.Context, id string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.events[id]; ok {
		return &e, nil
	}
	return nil, nil
}

func (m *MemoryStore) SaveStudentToken(_ context.Context, studentID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[studentID]
	if !ok {
		return ErrNotFound
	}
	s.TokenData = token
	m.students[studentID] = s
	return nil
}

func (m *MemoryStore) FindRecord(_ context.Context, studentID, eventID string) (*ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[recordKey{studentID, eventID}]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) SignIn(_ context.Context, studentID, eventID string, s ledger.Session, at time.Time) (*ledger.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{studentID, eventID}
	r, exists := m.records[key]
	if !exists {
		r = ledger.New(studentID, eventID)
		r.ID = uuid.NewString()
		r.CreatedAt = at
	}
	if err := r.SignIn(s, at); err != nil {
		if !exists {
			return nil, false, err
		}
		cp := *r
		return &cp, false, err
	}
	m.records[key] = r
	cp := *r
	return &cp, !exists, nil
}

func (m *MemoryStore) SignOut(_ context.Context, studentID, eventID string, s ledger.Session, at time.Time) (*ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordKey{studentID, eventID}]
	if !ok {
		return nil, ledger.Rejection(nil, ledger.SignOutAction, s)
	}
	if err := r.SignOut(s, at); err != nil {
		cp := *r
		return &cp, err
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListRecords(_ context.Context, eventID string, limit, offset int) ([]ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Record
	for _, r := range m.records {
		if r.EventID == eventID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertDecision keeps the decision in memory.
func (m *MemoryStore) InsertDecision(_ context.Context, d Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, d)
	return nil
}

// Decisions returns a copy of the stored decisions.
func (m *MemoryStore) Decisions() []Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Decision(nil), m.decisions...)
}
