package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"coach-attendance/internal/models"
	"coach-attendance/pkg/response"

	"github.com/lib/pq"
)

type Storage struct {
	db *sql.DB
}

func New(storagePath string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("postgres", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// #### sessions ####

func (s *Storage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	const op = "storage.postgres.GetSession"

	var session models.Session

	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, batch_id, branch_id, teacher_id,
			scheduled_start, scheduled_end, state,
			opened_at, closed_at, allow_self_mark, self_mark_radius_m
		FROM att_class_session
		WHERE session_id=$1`, id).
		Scan(
			&session.ID,
			&session.BatchID,
			&session.BranchID,
			&session.TeacherID,
			&session.ScheduledStart,
			&session.ScheduledEnd,
			&session.State,
			&session.OpenedAt,
			&session.ClosedAt,
			&session.AllowSelfMark,
			&session.SelfMarkRadiusM,
		)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &session, nil
}

func (s *Storage) UpdateSessionState(ctx context.Context, session *models.Session) error {
	const op = "storage.postgres.UpdateSessionState"

	res, err := s.db.ExecContext(ctx,
		`UPDATE att_class_session
		SET state=$1, opened_at=$2, closed_at=$3
		WHERE session_id=$4`,
		string(session.State),
		session.OpenedAt,
		session.ClosedAt,
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return nil
}

func (s *Storage) ListSessions(ctx context.Context, batchID *string, state *models.SessionState, from, to *time.Time) ([]*models.Session, error) {
	const op = "storage.postgres.ListSessions"

	query := `SELECT session_id, batch_id, branch_id, teacher_id,
		scheduled_start, scheduled_end, state,
		opened_at, closed_at, allow_self_mark, self_mark_radius_m
	FROM att_class_session
	WHERE 1=1`

	var args []any
	i := 1

	if batchID != nil {
		query += fmt.Sprintf(" AND batch_id=$%d", i)
		args = append(args, *batchID)
		i++
	}
	if state != nil {
		query += fmt.Sprintf(" AND state=$%d", i)
		args = append(args, string(*state))
		i++
	}
	if from != nil {
		query += fmt.Sprintf(" AND scheduled_start >= $%d", i)
		args = append(args, *from)
		i++
	}
	if to != nil {
		query += fmt.Sprintf(" AND scheduled_start <= $%d", i)
		args = append(args, *to)
		i++
	}

	query += " ORDER BY scheduled_start DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var sessions []*models.Session

	for rows.Next() {
		var session models.Session

		err := rows.Scan(
			&session.ID,
			&session.BatchID,
			&session.BranchID,
			&session.TeacherID,
			&session.ScheduledStart,
			&session.ScheduledEnd,
			&session.State,
			&session.OpenedAt,
			&session.ClosedAt,
			&session.AllowSelfMark,
			&session.SelfMarkRadiusM,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		sessions = append(sessions, &session)
	}

	return sessions, nil
}

// #### attendance records ####

func (s *Storage) GetAttendance(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	const op = "storage.postgres.GetAttendance"

	var record models.AttendanceRecord

	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, student_id, status, source, marked_by_id,
			recorded_at, lat, lng, accuracy_m, distance_m
		FROM att_student_attendance
		WHERE session_id=$1 AND student_id=$2`, sessionID, studentID).
		Scan(
			&record.SessionID,
			&record.StudentID,
			&record.Status,
			&record.Source,
			&record.MarkedByID,
			&record.RecordedAt,
			&record.Lat,
			&record.Lng,
			&record.AccuracyM,
			&record.DistanceM,
		)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &record, nil
}

// BulkUpsertAttendance applies every record or none of them. The whole
// teacher payload rides one transaction so a failed row rolls back the rest.
func (s *Storage) BulkUpsertAttendance(ctx context.Context, records []*models.AttendanceRecord) error {
	const op = "storage.postgres.BulkUpsertAttendance"

	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	for _, record := range records {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO att_student_attendance
			(session_id, student_id, status, source, marked_by_id, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id, student_id)
			DO UPDATE
			SET status = EXCLUDED.status,
				source = EXCLUDED.source,
				marked_by_id = EXCLUDED.marked_by_id,
				recorded_at = EXCLUDED.recorded_at`,
			record.SessionID,
			record.StudentID,
			string(record.Status),
			string(record.Source),
			record.MarkedByID,
			record.RecordedAt,
		)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}

	return nil
}

func (s *Storage) InsertAttendance(ctx context.Context, record *models.AttendanceRecord) error {
	const op = "storage.postgres.InsertAttendance"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO att_student_attendance
		(session_id, student_id, status, source, marked_by_id, recorded_at,
			lat, lng, accuracy_m, distance_m)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.SessionID,
		record.StudentID,
		string(record.Status),
		string(record.Source),
		record.MarkedByID,
		record.RecordedAt,
		record.Lat,
		record.Lng,
		record.AccuracyM,
		record.DistanceM,
	)
	if err != nil {
		sqlErr, ok := err.(*pq.Error)
		if ok && sqlErr.Code == "23505" {
			return fmt.Errorf("%s: %w", op, response.ErrAlreadyMarked)
		}
		if ok && sqlErr.Code == "23503" {
			return fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) ListAttendance(ctx context.Context, sessionID, batchID *string, from, to *time.Time) ([]*models.AttendanceRecord, error) {
	const op = "storage.postgres.ListAttendance"

	query := `SELECT a.session_id, a.student_id, a.status, a.source, a.marked_by_id,
		a.recorded_at, a.lat, a.lng, a.accuracy_m, a.distance_m
	FROM att_student_attendance a
	JOIN att_class_session s ON s.session_id = a.session_id
	WHERE 1=1`

	var args []any
	i := 1

	if sessionID != nil {
		query += fmt.Sprintf(" AND a.session_id=$%d", i)
		args = append(args, *sessionID)
		i++
	}
	if batchID != nil {
		query += fmt.Sprintf(" AND s.batch_id=$%d", i)
		args = append(args, *batchID)
		i++
	}
	if from != nil {
		query += fmt.Sprintf(" AND a.recorded_at >= $%d", i)
		args = append(args, *from)
		i++
	}
	if to != nil {
		query += fmt.Sprintf(" AND a.recorded_at <= $%d", i)
		args = append(args, *to)
		i++
	}

	query += " ORDER BY a.recorded_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var records []*models.AttendanceRecord

	for rows.Next() {
		var record models.AttendanceRecord

		err := rows.Scan(
			&record.SessionID,
			&record.StudentID,
			&record.Status,
			&record.Source,
			&record.MarkedByID,
			&record.RecordedAt,
			&record.Lat,
			&record.Lng,
			&record.AccuracyM,
			&record.DistanceM,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		records = append(records, &record)
	}

	return records, nil
}

// #### correction ledger ####

// ApplyCorrection appends the ledger entry and updates the current record
// in one transaction. Ledger rows are never updated or deleted.
func (s *Storage) ApplyCorrection(ctx context.Context, entry *models.CorrectionEntry, record *models.AttendanceRecord) (*models.CorrectionEntry, error) {
	const op = "storage.postgres.ApplyCorrection"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin tx: %w", op, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	saved := *entry

	err = tx.QueryRowContext(ctx,
		`INSERT INTO att_correction_ledger
		(session_id, student_id, prev_status, new_status, actor_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		entry.SessionID,
		entry.StudentID,
		string(entry.PrevStatus),
		string(entry.NewStatus),
		entry.ActorID,
		entry.Reason,
		entry.CreatedAt,
	).Scan(&saved.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO att_student_attendance
		(session_id, student_id, status, source, marked_by_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, student_id)
		DO UPDATE
		SET status = EXCLUDED.status,
			source = EXCLUDED.source,
			marked_by_id = EXCLUDED.marked_by_id,
			recorded_at = EXCLUDED.recorded_at`,
		record.SessionID,
		record.StudentID,
		string(record.Status),
		string(record.Source),
		record.MarkedByID,
		record.RecordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	return &saved, nil
}

func (s *Storage) ListCorrections(ctx context.Context, sessionID, studentID string) ([]*models.CorrectionEntry, error) {
	const op = "storage.postgres.ListCorrections"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, student_id, prev_status, new_status, actor_id, reason, created_at
		FROM att_correction_ledger
		WHERE session_id=$1 AND student_id=$2
		ORDER BY created_at ASC, id ASC`, sessionID, studentID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var entries []*models.CorrectionEntry

	for rows.Next() {
		var entry models.CorrectionEntry

		err := rows.Scan(
			&entry.ID,
			&entry.SessionID,
			&entry.StudentID,
			&entry.PrevStatus,
			&entry.NewStatus,
			&entry.ActorID,
			&entry.Reason,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		entries = append(entries, &entry)
	}

	return entries, nil
}

// #### external collaborator reads ####

func (s *Storage) GetEnrolledStudents(ctx context.Context, batchID string) ([]string, error) {
	const op = "storage.postgres.GetEnrolledStudents"

	rows, err := s.db.QueryContext(ctx,
		`SELECT student_id FROM batch_enrollment
		WHERE batch_id=$1 AND status='ACTIVE'`, batchID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var students []string

	for rows.Next() {
		var studentID string

		if err := rows.Scan(&studentID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		students = append(students, studentID)
	}

	return students, nil
}

func (s *Storage) GetGeoFence(ctx context.Context, branchID string) (*models.GeoFence, error) {
	const op = "storage.postgres.GetGeoFence"

	var fence models.GeoFence

	err := s.db.QueryRowContext(ctx,
		`SELECT branch_id, lat, lng, radius_m
		FROM branch_geofence
		WHERE branch_id=$1`, branchID).
		Scan(&fence.BranchID, &fence.Lat, &fence.Lng, &fence.RadiusM)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &fence, nil
}

// #### aggregation ####

// StudentSummaryCounts returns the number of Present records and the number
// of eligible sessions for a student. Only CLOSED sessions of batches the
// student is actively enrolled in count.
func (s *Storage) StudentSummaryCounts(ctx context.Context, studentID string, from, to time.Time) (int, int, error) {
	const op = "storage.postgres.StudentSummaryCounts"

	var total int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		FROM att_class_session s
		JOIN batch_enrollment e ON e.batch_id = s.batch_id
		WHERE e.student_id=$1 AND e.status='ACTIVE'
			AND s.state='CLOSED'
			AND s.scheduled_start >= $2 AND s.scheduled_start <= $3`,
		studentID, from, to).Scan(&total)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	var present int

	// Same enrollment filter as the denominator, so both counts range over
	// the same session set.
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*)
		FROM att_student_attendance a
		JOIN att_class_session s ON s.session_id = a.session_id
		JOIN batch_enrollment e ON e.batch_id = s.batch_id AND e.student_id = a.student_id
		WHERE a.student_id=$1 AND a.status='PRESENT'
			AND e.status='ACTIVE'
			AND s.state='CLOSED'
			AND s.scheduled_start >= $2 AND s.scheduled_start <= $3`,
		studentID, from, to).Scan(&present)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	return present, total, nil
}

// BatchSessionCounts returns per-session status counts for the CLOSED
// sessions of a batch, oldest session first.
func (s *Storage) BatchSessionCounts(ctx context.Context, batchID string, from, to time.Time) ([]*models.SessionCounts, error) {
	const op = "storage.postgres.BatchSessionCounts"

	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.scheduled_start,
			COUNT(*) FILTER (WHERE a.status='PRESENT') AS present,
			COUNT(*) FILTER (WHERE a.status='ABSENT') AS absent,
			COUNT(*) FILTER (WHERE a.status='LATE') AS late,
			COUNT(*) FILTER (WHERE a.status='EXCUSED') AS excused
		FROM att_class_session s
		LEFT JOIN att_student_attendance a ON a.session_id = s.session_id
		WHERE s.batch_id=$1 AND s.state='CLOSED'
			AND s.scheduled_start >= $2 AND s.scheduled_start <= $3
		GROUP BY s.session_id, s.scheduled_start
		ORDER BY s.scheduled_start ASC`,
		batchID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	defer rows.Close()

	var counts []*models.SessionCounts

	for rows.Next() {
		var c models.SessionCounts

		err := rows.Scan(
			&c.SessionID,
			&c.ScheduledStart,
			&c.Present,
			&c.Absent,
			&c.Late,
			&c.Excused,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		counts = append(counts, &c)
	}

	return counts, nil
}
