package models

import "time"

type SessionState string

const (
	SessionScheduled SessionState = "SCHEDULED"
	SessionOpen      SessionState = "OPEN"
	SessionClosed    SessionState = "CLOSED"
)

type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "PRESENT"
	AttendanceAbsent  AttendanceStatus = "ABSENT"
	AttendanceLate    AttendanceStatus = "LATE"
	AttendanceExcused AttendanceStatus = "EXCUSED"
)

func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceAbsent, AttendanceLate, AttendanceExcused:
		return true
	}
	return false
}

type MarkSource string

const (
	SourceTeacherBulk MarkSource = "TEACHER_BULK"
	SourceStudentGeo  MarkSource = "STUDENT_GEO"
	SourceCorrection  MarkSource = "CORRECTION"
)

type Session struct {
	ID             string       `db:"session_id"`
	BatchID        string       `db:"batch_id"`
	BranchID       string       `db:"branch_id"`
	TeacherID      string       `db:"teacher_id"`
	ScheduledStart time.Time    `db:"scheduled_start"`
	ScheduledEnd   time.Time    `db:"scheduled_end"`
	State          SessionState `db:"state"`
	OpenedAt       *time.Time   `db:"opened_at"`
	ClosedAt       *time.Time   `db:"closed_at"`
	AllowSelfMark  bool         `db:"allow_self_mark"`
	// Per-session override; nil falls back to the branch fence radius.
	SelfMarkRadiusM *float64 `db:"self_mark_radius_m"`
}

// AttendanceRecord is the single current row per (session, student).
// Superseded values live only in the correction ledger.
type AttendanceRecord struct {
	SessionID  string           `db:"session_id"`
	StudentID  string           `db:"student_id"`
	Status     AttendanceStatus `db:"status"`
	Source     MarkSource       `db:"source"`
	MarkedByID string           `db:"marked_by_id"`
	RecordedAt time.Time        `db:"recorded_at"`

	// Only filled when Source == STUDENT_GEO.
	Lat       *float64 `db:"lat"`
	Lng       *float64 `db:"lng"`
	AccuracyM *float64 `db:"accuracy_m"`
	DistanceM *float64 `db:"distance_m"`
}

// CorrectionEntry is immutable once written.
type CorrectionEntry struct {
	ID        int64  `db:"id"`
	SessionID string `db:"session_id"`
	StudentID string `db:"student_id"`
	// Empty when the student had no record before the correction.
	PrevStatus AttendanceStatus `db:"prev_status"`
	NewStatus  AttendanceStatus `db:"new_status"`
	ActorID    string           `db:"actor_id"`
	Reason     string           `db:"reason"`
	CreatedAt  time.Time        `db:"created_at"`
}

// SessionCounts is one row of a batch summary.
type SessionCounts struct {
	SessionID      string    `db:"session_id"`
	ScheduledStart time.Time `db:"scheduled_start"`
	Present        int       `db:"present"`
	Absent         int       `db:"absent"`
	Late           int       `db:"late"`
	Excused        int       `db:"excused"`
}

type GeoFence struct {
	BranchID string  `db:"branch_id"`
	Lat      float64 `db:"lat"`
	Lng      float64 `db:"lng"`
	RadiusM  float64 `db:"radius_m"`
}
