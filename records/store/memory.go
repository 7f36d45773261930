// Package store provides in-memory implementations of the records interfaces.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/records"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type adjustmentKey struct {
	TrainerID records.TrainerID
	Year      int
	Month     int
}

// state holds every table. Its methods assume the caller holds the lock.
type state struct {
	courses        map[records.CourseID]records.Course
	lectures       map[records.LectureID]records.Lecture
	trainers       map[records.TrainerID]records.Trainer
	adjustments    map[adjustmentKey]records.PayrollAdjustment
	paymentMethods map[records.TrainerID]records.PaymentMethod
	rules          []records.RulesRecord
	audit          []generic.AuditEntry
}

func newState() *state {
	return &state{
		courses:        make(map[records.CourseID]records.Course),
		lectures:       make(map[records.LectureID]records.Lecture),
		trainers:       make(map[records.TrainerID]records.Trainer),
		adjustments:    make(map[adjustmentKey]records.PayrollAdjustment),
		paymentMethods: make(map[records.TrainerID]records.PaymentMethod),
	}
}

// clone deep-copies the state for snapshot/rollback.
func (s *state) clone() *state {
	out := newState()
	for k, v := range s.courses {
		out.courses[k] = v.Clone()
	}
	for k, v := range s.lectures {
		out.lectures[k] = v.Clone()
	}
	for k, v := range s.trainers {
		out.trainers[k] = v
	}
	for k, v := range s.adjustments {
		out.adjustments[k] = v
	}
	for k, v := range s.paymentMethods {
		out.paymentMethods[k] = v
	}
	out.rules = append(out.rules, s.rules...)
	out.audit = append(out.audit, s.audit...)
	return out
}

// --- courses ---

func (s *state) GetCourse(_ context.Context, id records.CourseID) (*records.Course, error) {
	c, ok := s.courses[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "course", ID: string(id)}
	}
	out := c.Clone()
	return &out, nil
}

func (s *state) SaveCourse(_ context.Context, c records.Course) error {
	s.courses[c.ID] = c.Clone()
	return nil
}

func (s *state) ListCourses(_ context.Context, filter records.CourseFilter) ([]records.Course, error) {
	var out []records.Course
	for _, c := range s.courses {
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// --- lectures ---

func (s *state) GetLecture(_ context.Context, id records.LectureID) (*records.Lecture, error) {
	l, ok := s.lectures[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "lecture", ID: string(id)}
	}
	out := l.Clone()
	return &out, nil
}

func (s *state) ListLectures(_ context.Context, courseID records.CourseID) ([]records.Lecture, error) {
	var out []records.Lecture
	for _, l := range s.lectures {
		if l.CourseID == courseID {
			out = append(out, l.Clone())
		}
	}
	sortLectures(out)
	return out, nil
}

func (s *state) FindMakeup(_ context.Context, originalID records.LectureID) (*records.Lecture, error) {
	for _, l := range s.lectures {
		if l.PostponedFrom != nil && *l.PostponedFrom == originalID {
			out := l.Clone()
			return &out, nil
		}
	}
	return nil, nil
}

func (s *state) TrainerLectures(_ context.Context, trainerID records.TrainerID, period generic.Period) ([]records.Lecture, error) {
	var out []records.Lecture
	for _, l := range s.lectures {
		c, ok := s.courses[l.CourseID]
		if !ok || c.TrainerID != trainerID || !period.Contains(l.Date) {
			continue
		}
		out = append(out, l.Clone())
	}
	sortLectures(out)
	return out, nil
}

// InsertLectures adds the batch or nothing. A course holds one regular
// lecture per sequence and a lecture has at most one makeup.
func (s *state) InsertLectures(_ context.Context, lectures []records.Lecture) error {
	type slot struct {
		course   records.CourseID
		sequence int
	}
	taken := make(map[slot]bool)
	madeUp := make(map[records.LectureID]bool)
	for _, l := range s.lectures {
		if !l.IsMakeup {
			taken[slot{l.CourseID, l.Sequence}] = true
		}
		if l.PostponedFrom != nil {
			madeUp[*l.PostponedFrom] = true
		}
	}

	seen := make(map[records.LectureID]bool, len(lectures))
	for _, l := range lectures {
		if _, exists := s.lectures[l.ID]; exists || seen[l.ID] {
			return &generic.ConflictError{Message: "lecture " + string(l.ID) + " already exists"}
		}
		if !l.IsMakeup {
			k := slot{l.CourseID, l.Sequence}
			if taken[k] {
				return &generic.ConflictError{Message: fmt.Sprintf("course %s already has lecture #%d", l.CourseID, l.Sequence)}
			}
			taken[k] = true
		}
		if l.PostponedFrom != nil {
			if madeUp[*l.PostponedFrom] {
				return &generic.ConflictError{Message: "lecture " + string(*l.PostponedFrom) + " already has a makeup"}
			}
			madeUp[*l.PostponedFrom] = true
		}
		seen[l.ID] = true
	}
	for _, l := range lectures {
		s.lectures[l.ID] = l.Clone()
	}
	return nil
}

func (s *state) UpdateLecture(_ context.Context, l records.Lecture) error {
	prev, ok := s.lectures[l.ID]
	if !ok {
		return &generic.NotFoundError{Kind: "lecture", ID: string(l.ID)}
	}
	if prev.Sequence != l.Sequence || prev.CourseID != l.CourseID {
		return &generic.ValidationError{Field: "sequence", Message: "lecture sequence and course are immutable"}
	}
	s.lectures[l.ID] = l.Clone()
	return nil
}

func (s *state) DeleteLecture(_ context.Context, id records.LectureID) error {
	if _, ok := s.lectures[id]; !ok {
		return &generic.NotFoundError{Kind: "lecture", ID: string(id)}
	}
	delete(s.lectures, id)
	return nil
}

func sortLectures(ls []records.Lecture) {
	sort.Slice(ls, func(i, j int) bool {
		a, b := ls[i], ls[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.ID < b.ID
	})
}

// --- trainers ---

func (s *state) GetTrainer(_ context.Context, id records.TrainerID) (*records.Trainer, error) {
	t, ok := s.trainers[id]
	if !ok {
		return nil, &generic.NotFoundError{Kind: "trainer", ID: string(id)}
	}
	return &t, nil
}

func (s *state) SaveTrainer(_ context.Context, t records.Trainer) error {
	s.trainers[t.ID] = t
	return nil
}

func (s *state) ListTrainers(_ context.Context) ([]records.Trainer, error) {
	out := make([]records.Trainer, 0, len(s.trainers))
	for _, t := range s.trainers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- payroll ---

func keyFor(trainerID records.TrainerID, period generic.Period) adjustmentKey {
	return adjustmentKey{TrainerID: trainerID, Year: period.Year(), Month: int(period.Month())}
}

func (s *state) GetAdjustment(_ context.Context, trainerID records.TrainerID, period generic.Period) (*records.PayrollAdjustment, error) {
	a, ok := s.adjustments[keyFor(trainerID, period)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *state) SaveAdjustment(_ context.Context, a records.PayrollAdjustment) error {
	s.adjustments[adjustmentKey{TrainerID: a.TrainerID, Year: a.Year, Month: int(a.Month)}] = a
	return nil
}

func (s *state) ListAdjustments(_ context.Context, period generic.Period) ([]records.PayrollAdjustment, error) {
	var out []records.PayrollAdjustment
	for k, a := range s.adjustments {
		if k.Year == period.Year() && k.Month == int(period.Month()) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrainerID < out[j].TrainerID })
	return out, nil
}

func (s *state) GetPaymentMethod(_ context.Context, trainerID records.TrainerID) (*records.PaymentMethod, error) {
	m, ok := s.paymentMethods[trainerID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *state) SavePaymentMethod(_ context.Context, m records.PaymentMethod) error {
	s.paymentMethods[m.TrainerID] = m
	return nil
}

// --- rules ---

func (s *state) GetRules(_ context.Context) (*records.RulesRecord, error) {
	if len(s.rules) == 0 {
		return nil, nil
	}
	r := s.rules[len(s.rules)-1]
	return &r, nil
}

func (s *state) SaveRules(_ context.Context, r records.RulesRecord) (records.RulesRecord, error) {
	r.Version = len(s.rules) + 1
	s.rules = append(s.rules, r)
	return r, nil
}

// --- audit ---

func (s *state) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	s.audit = append(s.audit, entry)
	return nil
}

func (s *state) QueryAudit(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	var out []generic.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if filter.Matches(s.audit[i]) {
			out = append(out, s.audit[i])
			if filter.Limit > 0 && len(out) == filter.Limit {
				break
			}
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// Memory is a records.TxStore kept entirely in process memory.
// Every exported method takes the store lock; the view handed to WithTx
// works on the locked state directly.
type Memory struct {
	mu sync.RWMutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(records.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) GetCourse(ctx context.Context, id records.CourseID) (*records.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetCourse(ctx, id)
}

func (m *Memory) SaveCourse(ctx context.Context, c records.Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveCourse(ctx, c)
}

func (m *Memory) ListCourses(ctx context.Context, filter records.CourseFilter) ([]records.Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListCourses(ctx, filter)
}

func (m *Memory) GetLecture(ctx context.Context, id records.LectureID) (*records.Lecture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetLecture(ctx, id)
}

func (m *Memory) ListLectures(ctx context.Context, courseID records.CourseID) ([]records.Lecture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListLectures(ctx, courseID)
}

func (m *Memory) FindMakeup(ctx context.Context, originalID records.LectureID) (*records.Lecture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.FindMakeup(ctx, originalID)
}

func (m *Memory) TrainerLectures(ctx context.Context, trainerID records.TrainerID, period generic.Period) ([]records.Lecture, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.TrainerLectures(ctx, trainerID, period)
}

func (m *Memory) InsertLectures(ctx context.Context, lectures []records.Lecture) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertLectures(ctx, lectures)
}

func (m *Memory) UpdateLecture(ctx context.Context, l records.Lecture) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateLecture(ctx, l)
}

func (m *Memory) DeleteLecture(ctx context.Context, id records.LectureID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteLecture(ctx, id)
}

func (m *Memory) GetTrainer(ctx context.Context, id records.TrainerID) (*records.Trainer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetTrainer(ctx, id)
}

func (m *Memory) SaveTrainer(ctx context.Context, t records.Trainer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveTrainer(ctx, t)
}

func (m *Memory) ListTrainers(ctx context.Context) ([]records.Trainer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListTrainers(ctx)
}

func (m *Memory) GetAdjustment(ctx context.Context, trainerID records.TrainerID, period generic.Period) (*records.PayrollAdjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetAdjustment(ctx, trainerID, period)
}

func (m *Memory) SaveAdjustment(ctx context.Context, a records.PayrollAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveAdjustment(ctx, a)
}

func (m *Memory) ListAdjustments(ctx context.Context, period generic.Period) ([]records.PayrollAdjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListAdjustments(ctx, period)
}

func (m *Memory) GetPaymentMethod(ctx context.Context, trainerID records.TrainerID) (*records.PaymentMethod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetPaymentMethod(ctx, trainerID)
}

func (m *Memory) SavePaymentMethod(ctx context.Context, pm records.PaymentMethod) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SavePaymentMethod(ctx, pm)
}

func (m *Memory) GetRules(ctx context.Context) (*records.RulesRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetRules(ctx)
}

func (m *Memory) SaveRules(ctx context.Context, r records.RulesRecord) (records.RulesRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveRules(ctx, r)
}

func (m *Memory) AppendAudit(ctx context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendAudit(ctx, entry)
}

func (m *Memory) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.QueryAudit(ctx, filter)
}

var _ records.TxStore = (*Memory)(nil)
