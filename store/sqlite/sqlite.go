/*
Package sqlite provides a SQLite-backed implementation of the records interfaces.

PURPOSE:
  Implements records.TxStore (courses, lectures, trainers, payroll
  bookkeeping, business rules and the audit log) on SQLite through
  database/sql.

KEY TABLES:
  trainers:            Trainer directory
  courses:             Course records, one row per package purchase
  lectures:            Lecture slots and their makeups
  payroll_adjustments: Manual payroll fields per trainer and month
  payment_methods:     How each trainer is paid
  business_rules:      Versioned rules documents (append-only)
  audit_log:           Who did what when (append-only)

INDEXES:
  - idx_lectures_postponed_from: A lecture has at most one makeup. This is
    the last line of defence against two concurrent postponements.
  - idx_lectures_course_sequence: One regular lecture per sequence slot.
  - idx_courses_renewed_from: A course is renewed at most once.

CONCURRENCY:
  The pool is capped at one connection, so WithTx serializes writers and
  ":memory:" databases stay a single database. Inside WithTx only the Store
  handed to fn may be used.

MIGRATION:
  Schema is managed by goose with SQL migrations embedded in the binary and
  applied on New().

SEE ALSO:
  - records/store.go: Interface definitions
  - records/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/records"
)

//go:embed migrations/*.sql
var migrations embed.FS

const timeLayout = time.RFC3339Nano

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// Store implements records.TxStore using SQLite.
type Store struct {
	*repo
	db *sql.DB
	mu sync.Mutex
}

var _ records.TxStore = (*Store)(nil)

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{repo: &repo{q: db}, db: db}, nil
}

func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(records.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// =============================================================================
// REPO - Queries shared by the pooled store and transactions
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repo struct {
	q querier
}

// =============================================================================
// COURSES
// =============================================================================

const courseColumns = `id, title, package_id, trainer_id, student_ids, is_dual, start_date,
	lecture_time, weekdays, lecture_count, status, renewal_alert_status,
	last_evaluation_milestone, reported_completion, is_renewal, renewed_from, created_at`

func (r *repo) GetCourse(ctx context.Context, id records.CourseID) (*records.Course, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+courseColumns+" FROM courses WHERE id = ?", id)
	c, err := scanCourse(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "course", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repo) SaveCourse(ctx context.Context, c records.Course) error {
	students, err := json.Marshal(c.StudentIDs)
	if err != nil {
		return fmt.Errorf("encode student ids: %w", err)
	}
	weekdays := make([]int, len(c.Weekdays))
	for i, wd := range c.Weekdays {
		weekdays[i] = int(wd)
	}
	days, err := json.Marshal(weekdays)
	if err != nil {
		return fmt.Errorf("encode weekdays: %w", err)
	}

	var renewedFrom sql.NullString
	if c.RenewedFrom != nil {
		renewedFrom = nullString(string(*c.RenewedFrom))
	}
	var reported sql.NullInt64
	if c.ReportedCompletion != nil {
		reported = sql.NullInt64{Int64: int64(*c.ReportedCompletion), Valid: true}
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO courses (`+courseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			package_id = excluded.package_id,
			trainer_id = excluded.trainer_id,
			student_ids = excluded.student_ids,
			is_dual = excluded.is_dual,
			start_date = excluded.start_date,
			lecture_time = excluded.lecture_time,
			weekdays = excluded.weekdays,
			lecture_count = excluded.lecture_count,
			status = excluded.status,
			renewal_alert_status = excluded.renewal_alert_status,
			last_evaluation_milestone = excluded.last_evaluation_milestone,
			reported_completion = excluded.reported_completion,
			is_renewal = excluded.is_renewal,
			renewed_from = excluded.renewed_from
	`,
		c.ID, c.Title, c.PackageID, c.TrainerID, string(students), c.IsDual,
		c.StartDate.String(), int(c.LectureTime), string(days), c.LectureCount,
		c.Status, c.RenewalAlertStatus, c.LastEvaluationMilestone, reported,
		c.IsRenewal, renewedFrom, c.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) && c.RenewedFrom != nil {
			return &generic.ConflictError{Message: "course " + string(*c.RenewedFrom) + " is already renewed"}
		}
		return fmt.Errorf("failed to save course: %w", err)
	}
	return nil
}

func (r *repo) ListCourses(ctx context.Context, filter records.CourseFilter) ([]records.Course, error) {
	var (
		where []string
		args  []any
	)
	if filter.TrainerID != nil {
		where = append(where, "trainer_id = ?")
		args = append(args, *filter.TrainerID)
	}
	if filter.StartedIn != nil {
		where = append(where, "start_date >= ? AND start_date <= ?")
		args = append(args, filter.StartedIn.Start.String(), filter.StartedIn.End.String())
	}
	if filter.RenewalOnly {
		where = append(where, "is_renewal = 1")
	}
	if filter.RenewedFrom != nil {
		where = append(where, "renewed_from = ?")
		args = append(args, *filter.RenewedFrom)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT " + courseColumns + " FROM courses"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_date, id"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	defer rows.Close()

	var out []records.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCourse(row scanner) (records.Course, error) {
	var (
		c           records.Course
		students    string
		startDate   string
		lectureTime int
		weekdays    string
		reported    sql.NullInt64
		renewedFrom sql.NullString
		createdAt   string
	)
	err := row.Scan(
		&c.ID, &c.Title, &c.PackageID, &c.TrainerID, &students, &c.IsDual, &startDate,
		&lectureTime, &weekdays, &c.LectureCount, &c.Status, &c.RenewalAlertStatus,
		&c.LastEvaluationMilestone, &reported, &c.IsRenewal, &renewedFrom, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("failed to scan course: %w", err)
	}

	if err := json.Unmarshal([]byte(students), &c.StudentIDs); err != nil {
		return c, fmt.Errorf("decode student ids of course %s: %w", c.ID, err)
	}
	var days []int
	if err := json.Unmarshal([]byte(weekdays), &days); err != nil {
		return c, fmt.Errorf("decode weekdays of course %s: %w", c.ID, err)
	}
	for _, d := range days {
		c.Weekdays = append(c.Weekdays, time.Weekday(d))
	}
	if c.StartDate, err = generic.ParseDate(startDate); err != nil {
		return c, fmt.Errorf("decode start date of course %s: %w", c.ID, err)
	}
	c.LectureTime = generic.TimeOfDay(lectureTime)
	if reported.Valid {
		v := int(reported.Int64)
		c.ReportedCompletion = &v
	}
	if renewedFrom.Valid {
		id := records.CourseID(renewedFrom.String)
		c.RenewedFrom = &id
	}
	if c.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return c, fmt.Errorf("decode created_at of course %s: %w", c.ID, err)
	}
	return c, nil
}

// =============================================================================
// LECTURES
// =============================================================================

const lectureColumns = `l.id, l.course_id, l.sequence, l.date, l.time, l.is_makeup,
	l.postponed_from, l.postponement_count, l.postpone_reason, l.attendance,
	l.activity, l.homework, l.notes, l.is_completed, l.student_attendance,
	l.trainer_payment_status`

const lectureOrder = " ORDER BY l.date, l.time, l.sequence, l.id"

func (r *repo) GetLecture(ctx context.Context, id records.LectureID) (*records.Lecture, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+lectureColumns+" FROM lectures l WHERE l.id = ?", id)
	l, err := scanLecture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "lecture", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repo) ListLectures(ctx context.Context, courseID records.CourseID) ([]records.Lecture, error) {
	return r.queryLectures(ctx, "SELECT "+lectureColumns+" FROM lectures l WHERE l.course_id = ?"+lectureOrder, courseID)
}

func (r *repo) FindMakeup(ctx context.Context, originalID records.LectureID) (*records.Lecture, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+lectureColumns+" FROM lectures l WHERE l.postponed_from = ?", originalID)
	l, err := scanLecture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *repo) TrainerLectures(ctx context.Context, trainerID records.TrainerID, period generic.Period) ([]records.Lecture, error) {
	return r.queryLectures(ctx, `
		SELECT `+lectureColumns+`
		FROM lectures l JOIN courses c ON c.id = l.course_id
		WHERE c.trainer_id = ? AND l.date >= ? AND l.date <= ?`+lectureOrder,
		trainerID, period.Start.String(), period.End.String())
}

func (r *repo) InsertLectures(ctx context.Context, lectures []records.Lecture) error {
	for _, l := range lectures {
		if err := r.writeLecture(ctx, l, true); err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) UpdateLecture(ctx context.Context, l records.Lecture) error {
	prev, err := r.GetLecture(ctx, l.ID)
	if err != nil {
		return err
	}
	if prev.Sequence != l.Sequence || prev.CourseID != l.CourseID {
		return &generic.ValidationError{Field: "sequence", Message: "lecture sequence and course are immutable"}
	}
	return r.writeLecture(ctx, l, false)
}

func (r *repo) writeLecture(ctx context.Context, l records.Lecture, insert bool) error {
	var students sql.NullString
	if len(l.StudentAttendance) > 0 {
		raw, err := records.EncodeStudentAttendance(l.StudentAttendance)
		if err != nil {
			return fmt.Errorf("encode student attendance: %w", err)
		}
		students = nullString(string(raw))
	}
	var postponedFrom sql.NullString
	if l.PostponedFrom != nil {
		postponedFrom = nullString(string(*l.PostponedFrom))
	}
	payment := l.TrainerPaymentStatus
	if payment == "" {
		payment = records.LectureUnpaid
	}

	args := []any{
		l.Date.String(), int(l.Time), l.IsMakeup, postponedFrom, l.PostponementCount,
		l.PostponeReason, l.Attendance, l.Activity, l.Homework, l.Notes, l.IsCompleted,
		students, payment,
	}

	var err error
	if insert {
		_, err = r.q.ExecContext(ctx, `
			INSERT INTO lectures (date, time, is_makeup, postponed_from, postponement_count,
				postpone_reason, attendance, activity, homework, notes, is_completed,
				student_attendance, trainer_payment_status, id, course_id, sequence)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, append(args, l.ID, l.CourseID, l.Sequence)...)
	} else {
		_, err = r.q.ExecContext(ctx, `
			UPDATE lectures SET date = ?, time = ?, is_makeup = ?, postponed_from = ?,
				postponement_count = ?, postpone_reason = ?, attendance = ?, activity = ?,
				homework = ?, notes = ?, is_completed = ?, student_attendance = ?,
				trainer_payment_status = ?
			WHERE id = ?
		`, append(args, l.ID)...)
	}
	if err != nil {
		if isUniqueConstraintError(err) {
			if isMakeupUniquenessError(err) && l.PostponedFrom != nil {
				return &generic.ConflictError{Message: "lecture " + string(*l.PostponedFrom) + " already has a makeup"}
			}
			return &generic.ConflictError{Message: "lecture " + string(l.ID) + " already exists"}
		}
		return fmt.Errorf("failed to write lecture: %w", err)
	}
	return nil
}

func (r *repo) DeleteLecture(ctx context.Context, id records.LectureID) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM lectures WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete lecture: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &generic.NotFoundError{Kind: "lecture", ID: string(id)}
	}
	return nil
}

func (r *repo) queryLectures(ctx context.Context, query string, args ...any) ([]records.Lecture, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lectures: %w", err)
	}
	defer rows.Close()

	var out []records.Lecture
	for rows.Next() {
		l, err := scanLecture(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLecture(row scanner) (records.Lecture, error) {
	var (
		l             records.Lecture
		date          string
		lectureTime   int
		postponedFrom sql.NullString
		students      sql.NullString
	)
	err := row.Scan(
		&l.ID, &l.CourseID, &l.Sequence, &date, &lectureTime, &l.IsMakeup,
		&postponedFrom, &l.PostponementCount, &l.PostponeReason, &l.Attendance,
		&l.Activity, &l.Homework, &l.Notes, &l.IsCompleted, &students,
		&l.TrainerPaymentStatus,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return l, err
		}
		return l, fmt.Errorf("failed to scan lecture: %w", err)
	}

	if l.Date, err = generic.ParseDate(date); err != nil {
		return l, fmt.Errorf("decode date of lecture %s: %w", l.ID, err)
	}
	l.Time = generic.TimeOfDay(lectureTime)
	if postponedFrom.Valid {
		id := records.LectureID(postponedFrom.String)
		l.PostponedFrom = &id
	}
	if students.Valid && students.String != "" {
		l.StudentAttendance, err = records.NormalizeStudentAttendance([]byte(students.String))
		if err != nil {
			return l, fmt.Errorf("decode student attendance of lecture %s: %w", l.ID, err)
		}
	}
	return l, nil
}

// =============================================================================
// TRAINERS
// =============================================================================

func (r *repo) GetTrainer(ctx context.Context, id records.TrainerID) (*records.Trainer, error) {
	var t records.Trainer
	err := r.q.QueryRowContext(ctx,
		"SELECT id, name, level_min, level_max, notes FROM trainers WHERE id = ?", id,
	).Scan(&t.ID, &t.Name, &t.LevelMin, &t.LevelMax, &t.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &generic.NotFoundError{Kind: "trainer", ID: string(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trainer: %w", err)
	}
	return &t, nil
}

func (r *repo) SaveTrainer(ctx context.Context, t records.Trainer) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO trainers (id, name, level_min, level_max, notes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			level_min = excluded.level_min,
			level_max = excluded.level_max,
			notes = excluded.notes
	`, t.ID, t.Name, t.LevelMin, t.LevelMax, t.Notes)
	if err != nil {
		return fmt.Errorf("failed to save trainer: %w", err)
	}
	return nil
}

func (r *repo) ListTrainers(ctx context.Context) ([]records.Trainer, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT id, name, level_min, level_max, notes FROM trainers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query trainers: %w", err)
	}
	defer rows.Close()

	var out []records.Trainer
	for rows.Next() {
		var t records.Trainer
		if err := rows.Scan(&t.ID, &t.Name, &t.LevelMin, &t.LevelMax, &t.Notes); err != nil {
			return nil, fmt.Errorf("failed to scan trainer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYROLL
// =============================================================================

const adjustmentColumns = `trainer_id, year, month, renewal_bonus_enabled, renewal_total_override,
	volume_bonus_enabled, bonus_deduction, notes, status, paid_at, updated_at, updated_by`

func (r *repo) GetAdjustment(ctx context.Context, trainerID records.TrainerID, period generic.Period) (*records.PayrollAdjustment, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+adjustmentColumns+" FROM payroll_adjustments WHERE trainer_id = ? AND year = ? AND month = ?",
		trainerID, period.Year(), int(period.Month()))
	a, err := scanAdjustment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repo) SaveAdjustment(ctx context.Context, a records.PayrollAdjustment) error {
	var override sql.NullString
	if a.RenewalTotalOverride != nil {
		override = nullString(a.RenewalTotalOverride.String())
	}
	var paidAt sql.NullString
	if a.PaidAt != nil {
		paidAt = nullString(a.PaidAt.UTC().Format(timeLayout))
	}
	status := a.Status
	if status == "" {
		status = records.PayrollDraft
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payroll_adjustments (`+adjustmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trainer_id, year, month) DO UPDATE SET
			renewal_bonus_enabled = excluded.renewal_bonus_enabled,
			renewal_total_override = excluded.renewal_total_override,
			volume_bonus_enabled = excluded.volume_bonus_enabled,
			bonus_deduction = excluded.bonus_deduction,
			notes = excluded.notes,
			status = excluded.status,
			paid_at = excluded.paid_at,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by
	`,
		a.TrainerID, a.Year, int(a.Month), a.RenewalBonusEnabled, override,
		a.VolumeBonusEnabled, a.BonusDeduction.String(), a.Notes, status, paidAt,
		a.UpdatedAt.UTC().Format(timeLayout), a.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to save payroll adjustment: %w", err)
	}
	return nil
}

func (r *repo) ListAdjustments(ctx context.Context, period generic.Period) ([]records.PayrollAdjustment, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+adjustmentColumns+" FROM payroll_adjustments WHERE year = ? AND month = ? ORDER BY trainer_id",
		period.Year(), int(period.Month()))
	if err != nil {
		return nil, fmt.Errorf("failed to query payroll adjustments: %w", err)
	}
	defer rows.Close()

	var out []records.PayrollAdjustment
	for rows.Next() {
		a, err := scanAdjustment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAdjustment(row scanner) (records.PayrollAdjustment, error) {
	var (
		a         records.PayrollAdjustment
		month     int
		override  sql.NullString
		deduction string
		paidAt    sql.NullString
		updatedAt string
	)
	err := row.Scan(
		&a.TrainerID, &a.Year, &month, &a.RenewalBonusEnabled, &override,
		&a.VolumeBonusEnabled, &deduction, &a.Notes, &a.Status, &paidAt,
		&updatedAt, &a.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan payroll adjustment: %w", err)
	}

	a.Month = time.Month(month)
	if a.BonusDeduction, err = generic.ParseMoney(deduction); err != nil {
		return a, fmt.Errorf("decode bonus deduction: %w", err)
	}
	if override.Valid {
		m, err := generic.ParseMoney(override.String)
		if err != nil {
			return a, fmt.Errorf("decode renewal override: %w", err)
		}
		a.RenewalTotalOverride = &m
	}
	if paidAt.Valid {
		t, err := parseTimestamp(paidAt.String)
		if err != nil {
			return a, fmt.Errorf("decode paid_at: %w", err)
		}
		a.PaidAt = &t
	}
	if a.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return a, fmt.Errorf("decode updated_at: %w", err)
	}
	return a, nil
}

func (r *repo) GetPaymentMethod(ctx context.Context, trainerID records.TrainerID) (*records.PaymentMethod, error) {
	var (
		m         records.PaymentMethod
		pin       sql.NullString
		updatedAt string
	)
	err := r.q.QueryRowContext(ctx,
		"SELECT trainer_id, method, account_number, pin, updated_at FROM payment_methods WHERE trainer_id = ?",
		trainerID,
	).Scan(&m.TrainerID, &m.Method, &m.AccountNumber, &pin, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment method: %w", err)
	}
	if pin.Valid {
		m.PIN = &pin.String
	}
	if m.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("decode payment method updated_at: %w", err)
	}
	return &m, nil
}

func (r *repo) SavePaymentMethod(ctx context.Context, m records.PaymentMethod) error {
	var pin sql.NullString
	if m.PIN != nil {
		pin = sql.NullString{String: *m.PIN, Valid: true}
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payment_methods (trainer_id, method, account_number, pin, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(trainer_id) DO UPDATE SET
			method = excluded.method,
			account_number = excluded.account_number,
			pin = excluded.pin,
			updated_at = excluded.updated_at
	`, m.TrainerID, m.Method, m.AccountNumber, pin, m.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save payment method: %w", err)
	}
	return nil
}

// =============================================================================
// BUSINESS RULES
// =============================================================================

func (r *repo) GetRules(ctx context.Context) (*records.RulesRecord, error) {
	var (
		rr        records.RulesRecord
		updatedAt string
	)
	err := r.q.QueryRowContext(ctx,
		"SELECT version, config_json, updated_by, updated_at FROM business_rules ORDER BY version DESC LIMIT 1",
	).Scan(&rr.Version, &rr.ConfigJSON, &rr.UpdatedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load business rules: %w", err)
	}
	if rr.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("decode business rules updated_at: %w", err)
	}
	return &rr, nil
}

func (r *repo) SaveRules(ctx context.Context, rr records.RulesRecord) (records.RulesRecord, error) {
	res, err := r.q.ExecContext(ctx,
		"INSERT INTO business_rules (config_json, updated_by, updated_at) VALUES (?, ?, ?)",
		rr.ConfigJSON, rr.UpdatedBy, rr.UpdatedAt.UTC().Format(timeLayout))
	if err != nil {
		return rr, fmt.Errorf("failed to save business rules: %w", err)
	}
	version, err := res.LastInsertId()
	if err != nil {
		return rr, fmt.Errorf("failed to read rules version: %w", err)
	}
	rr.Version = int(version)
	return rr, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (r *repo) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	var payload sql.NullString
	if len(e.Payload) > 0 {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode audit payload: %w", err)
		}
		payload = nullString(string(data))
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, actor_id, actor_role, action, subject_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Timestamp.UTC().Format(timeLayout), e.ActorID, e.ActorRole, e.Action, e.SubjectID, payload)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (r *repo) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.SubjectID != nil {
		where = append(where, "subject_id = ?")
		args = append(args, *filter.SubjectID)
	}
	if filter.ActorID != nil {
		where = append(where, "actor_id = ?")
		args = append(args, *filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		marks := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			marks[i] = "?"
			args = append(args, a)
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.From != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.From.UTC().Format(timeLayout))
	}
	if filter.To != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, filter.To.UTC().Format(timeLayout))
	}

	query := "SELECT id, timestamp, actor_id, actor_role, action, subject_id, payload FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []generic.AuditEntry
	for rows.Next() {
		var (
			e       generic.AuditEntry
			ts      string
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.ActorID, &e.ActorRole, &e.Action, &e.SubjectID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		var err error
		if e.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("decode audit timestamp of %s: %w", e.ID, err)
		}
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isMakeupUniquenessError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "lectures.postponed_from")
}
