package api

import "time"

type SessionResponse struct {
	ID              string     `json:"session_id"`
	BatchID         string     `json:"batch_id"`
	BranchID        string     `json:"branch_id"`
	TeacherID       string     `json:"teacher_id"`
	ScheduledStart  time.Time  `json:"scheduled_start"`
	ScheduledEnd    time.Time  `json:"scheduled_end"`
	State           string     `json:"state"`
	OpenedAt        *time.Time `json:"opened_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
	AllowSelfMark   bool       `json:"allow_self_mark"`
	SelfMarkRadiusM *float64   `json:"self_mark_radius_m,omitempty"`
}

type BulkMarkRequest struct {
	SessionID string            `json:"session_id"`
	TeacherID string            `json:"teacher_id"`
	Records   map[string]string `json:"records"` // student_id -> status
}

type BulkMarkResponse struct {
	SessionID string `json:"session_id"`
	Saved     int    `json:"saved"`
}

type SelfMarkRequest struct {
	SessionID string   `json:"session_id"`
	StudentID string   `json:"student_id"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	AccuracyM *float64 `json:"accuracy_m,omitempty"`
}

type SelfMarkResponse struct {
	SessionID string  `json:"session_id"`
	StudentID string  `json:"student_id"`
	Status    string  `json:"status"`
	DistanceM float64 `json:"distance_m"`
}

type CorrectionRequest struct {
	SessionID string `json:"session_id"`
	StudentID string `json:"student_id"`
	NewStatus string `json:"new_status"`
	ActorID   string `json:"actor_id"`
	Reason    string `json:"reason"`
}

type CorrectionResponse struct {
	SessionID  string    `json:"session_id"`
	StudentID  string    `json:"student_id"`
	PrevStatus string    `json:"prev_status,omitempty"`
	NewStatus  string    `json:"new_status"`
	ActorID    string    `json:"actor_id"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

type AttendanceRecordResponse struct {
	SessionID  string    `json:"session_id"`
	StudentID  string    `json:"student_id"`
	Status     string    `json:"status"`
	Source     string    `json:"source"`
	MarkedByID string    `json:"marked_by_id,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	DistanceM  *float64  `json:"distance_m,omitempty"`
}

type StudentSummaryResponse struct {
	StudentID     string  `json:"student_id"`
	From          string  `json:"from"`
	To            string  `json:"to"`
	PresentCount  int     `json:"present_count"`
	TotalSessions int     `json:"total_sessions"`
	Percentage    float64 `json:"percentage"`
	NoData        bool    `json:"no_data"`
}

type SessionCountsResponse struct {
	SessionID      string    `json:"session_id"`
	ScheduledStart time.Time `json:"scheduled_start"`
	Present        int       `json:"present"`
	Absent         int       `json:"absent"`
	Late           int       `json:"late"`
	Excused        int       `json:"excused"`
}

type BatchSummaryResponse struct {
	BatchID  string                  `json:"batch_id"`
	From     string                  `json:"from"`
	To       string                  `json:"to"`
	Sessions []SessionCountsResponse `json:"sessions"`
}
