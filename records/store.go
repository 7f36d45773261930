/*
store.go - Persistence interfaces for courses, lectures, trainers and payroll

PURPOSE:
  Defines the interface between the engines and the external data store.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  CourseStore:  Course records
  LectureStore: Lecture records, trainer calendar queries
  TrainerStore: Trainer records
  PayrollStore: Adjustments and payment methods
  RulesStore:   Versioned business-rules document
  Store:        All of the above plus the audit log
  TxStore:      Store with atomic read-modify-write transactions

NOT FOUND CONTRACT:
  Get* methods return a *generic.NotFoundError when the record is missing,
  except lookups whose absence is a normal state (FindMakeup, GetAdjustment,
  GetPaymentMethod, GetRules) which return (nil, nil).

ATOMICITY:
  Every mutating engine operation runs inside WithTx. Reads made through the
  Store passed to fn observe the transaction's own writes, which is how the
  trainer conflict check and the postponement race check stay in the same
  transaction as the write.

IMPLEMENTATIONS:
  - store/sqlite: SQLite via database/sql
  - records/store: In-memory for tests and development

SEE ALSO:
  - lectures/service.go: Uses TxStore for every mutation
  - payroll/engine.go: Reads lectures, writes adjustments
*/
package records

import (
	"context"

	"github.com/warp/lecture-engine/generic"
)

// CourseFilter narrows ListCourses. Zero value lists everything.
type CourseFilter struct {
	TrainerID   *TrainerID
	StartedIn   *generic.Period
	RenewalOnly bool
	RenewedFrom *CourseID
	Statuses    []CourseStatus
}

// Matches reports whether c passes the filter.
func (f CourseFilter) Matches(c Course) bool {
	if f.TrainerID != nil && c.TrainerID != *f.TrainerID {
		return false
	}
	if f.StartedIn != nil && !f.StartedIn.Contains(c.StartDate) {
		return false
	}
	if f.RenewalOnly && !c.IsRenewal {
		return false
	}
	if f.RenewedFrom != nil && (c.RenewedFrom == nil || *c.RenewedFrom != *f.RenewedFrom) {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if c.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

type CourseStore interface {
	GetCourse(ctx context.Context, id CourseID) (*Course, error)
	SaveCourse(ctx context.Context, c Course) error
	ListCourses(ctx context.Context, filter CourseFilter) ([]Course, error)
}

type LectureStore interface {
	GetLecture(ctx context.Context, id LectureID) (*Lecture, error)

	// ListLectures returns a course's lectures ordered by date, time, sequence.
	ListLectures(ctx context.Context, courseID CourseID) ([]Lecture, error)

	// FindMakeup returns the makeup created for a postponed lecture, or nil.
	FindMakeup(ctx context.Context, originalID LectureID) (*Lecture, error)

	// TrainerLectures returns every lecture of the trainer's courses dated in period.
	TrainerLectures(ctx context.Context, trainerID TrainerID, period generic.Period) ([]Lecture, error)

	InsertLectures(ctx context.Context, lectures []Lecture) error
	UpdateLecture(ctx context.Context, l Lecture) error
	DeleteLecture(ctx context.Context, id LectureID) error
}

type TrainerStore interface {
	GetTrainer(ctx context.Context, id TrainerID) (*Trainer, error)
	SaveTrainer(ctx context.Context, t Trainer) error
	ListTrainers(ctx context.Context) ([]Trainer, error)
}

type PayrollStore interface {
	GetAdjustment(ctx context.Context, trainerID TrainerID, period generic.Period) (*PayrollAdjustment, error)
	SaveAdjustment(ctx context.Context, a PayrollAdjustment) error
	ListAdjustments(ctx context.Context, period generic.Period) ([]PayrollAdjustment, error)

	GetPaymentMethod(ctx context.Context, trainerID TrainerID) (*PaymentMethod, error)
	SavePaymentMethod(ctx context.Context, m PaymentMethod) error
}

type RulesStore interface {
	// GetRules returns the latest rules document or nil if none was saved.
	GetRules(ctx context.Context) (*RulesRecord, error)

	// SaveRules stores a new version and returns it.
	SaveRules(ctx context.Context, r RulesRecord) (RulesRecord, error)
}

// Store is the full persistence surface used by the engines.
type Store interface {
	CourseStore
	LectureStore
	TrainerStore
	PayrollStore
	RulesStore
	generic.AuditLog
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}
