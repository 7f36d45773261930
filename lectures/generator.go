package lectures

import (
	"fmt"
	"time"

	"github.com/warp/lecture-engine/generic"
	"github.com/warp/lecture-engine/records"
)

// =============================================================================
// LECTURE GENERATOR
// =============================================================================

// GenerateSchedule walks forward day by day from start (inclusive) and
// returns the first count dates whose weekday is in weekdays.
func GenerateSchedule(start generic.Date, weekdays []time.Weekday, count int) ([]generic.Date, error) {
	if start.IsZero() {
		return nil, &generic.ValidationError{Field: "start_date", Message: "start date is required"}
	}
	if count <= 0 {
		return nil, &generic.ValidationError{Field: "lecture_count", Message: fmt.Sprintf("must be positive, got %d", count)}
	}
	if len(weekdays) == 0 {
		return nil, &generic.ValidationError{Field: "weekdays", Message: "at least one weekday is required"}
	}

	var selected [7]bool
	for _, wd := range weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return nil, &generic.ValidationError{Field: "weekdays", Message: fmt.Sprintf("invalid weekday %d", wd)}
		}
		selected[wd] = true
	}

	dates := make([]generic.Date, 0, count)
	for d := start; len(dates) < count; d = d.AddDays(1) {
		if selected[d.Weekday()] {
			dates = append(dates, d)
		}
	}
	return dates, nil
}

// GenerateLectures produces the planned lecture records of a course.
// Sequence numbers run 1..LectureCount in date order. Ids are left empty
// for the caller to assign.
func GenerateLectures(c records.Course) ([]records.Lecture, error) {
	dates, err := GenerateSchedule(c.StartDate, c.Weekdays, c.LectureCount)
	if err != nil {
		return nil, err
	}

	lectures := make([]records.Lecture, len(dates))
	for i, d := range dates {
		lectures[i] = records.Lecture{
			CourseID:             c.ID,
			Sequence:             i + 1,
			Date:                 d,
			Time:                 c.LectureTime,
			Attendance:           records.AttendancePending,
			TrainerPaymentStatus: records.LectureUnpaid,
		}
	}
	return lectures, nil
}
