package records

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StudentEntry is one student's record inside a dual-course lecture.
type StudentEntry struct {
	Attendance Attendance `json:"attendance"`
	Activity   Activity   `json:"activity,omitempty"`
	Homework   Homework   `json:"homework,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// Empty reports whether the entry carries no information.
func (e StudentEntry) Empty() bool {
	return (e.Attendance == "" || e.Attendance == AttendancePending) &&
		e.Activity == ActivityNone && e.Homework == HomeworkNone && e.Notes == ""
}

type studentEntryRow struct {
	StudentID StudentID `json:"student_id"`
	StudentEntry
}

// NormalizeStudentAttendance converts the stored per-student attendance into
// the canonical map form. Historical data holds either a JSON object keyed by
// student id or an array of {"student_id": ..., ...} rows; both decode to the
// same map. Business logic only ever sees the map.
func NormalizeStudentAttendance(raw []byte) (map[StudentID]StudentEntry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	out := make(map[StudentID]StudentEntry)
	switch raw[0] {
	case '{':
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("decode student attendance map: %w", err)
		}
	case '[':
		var rows []studentEntryRow
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode student attendance list: %w", err)
		}
		for _, r := range rows {
			if r.StudentID == "" {
				return nil, fmt.Errorf("student attendance row without student_id")
			}
			out[r.StudentID] = r.StudentEntry
		}
	default:
		return nil, fmt.Errorf("student attendance must be an object or an array")
	}

	for id, e := range out {
		if e.Attendance == "" {
			e.Attendance = AttendancePending
			out[id] = e
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// EncodeStudentAttendance writes the canonical map form.
func EncodeStudentAttendance(m map[StudentID]StudentEntry) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
