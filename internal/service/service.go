package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"coach-attendance/api"
	"coach-attendance/internal/cache"
	"coach-attendance/internal/geo"
	"coach-attendance/internal/lock"
	"coach-attendance/internal/models"
	"coach-attendance/pkg/response"
)

type Service struct {
	store      Store
	locker     lock.Locker
	cache      cache.Cache
	lockTTL    time.Duration
	summaryTTL time.Duration
}

func NewService(store Store, locker lock.Locker, c cache.Cache, lockTTL, summaryTTL time.Duration) *Service {
	return &Service{
		store:      store,
		locker:     locker,
		cache:      c,
		lockTTL:    lockTTL,
		summaryTTL: summaryTTL,
	}
}

type Store interface {
	// Sessions
	GetSession(ctx context.Context, id string) (*models.Session, error)
	UpdateSessionState(ctx context.Context, session *models.Session) error
	ListSessions(ctx context.Context, batchID *string, state *models.SessionState, from, to *time.Time) ([]*models.Session, error)

	// Attendance records
	GetAttendance(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecord, error)
	BulkUpsertAttendance(ctx context.Context, records []*models.AttendanceRecord) error
	InsertAttendance(ctx context.Context, record *models.AttendanceRecord) error
	ListAttendance(ctx context.Context, sessionID, batchID *string, from, to *time.Time) ([]*models.AttendanceRecord, error)

	// Correction ledger
	ApplyCorrection(ctx context.Context, entry *models.CorrectionEntry, record *models.AttendanceRecord) (*models.CorrectionEntry, error)
	ListCorrections(ctx context.Context, sessionID, studentID string) ([]*models.CorrectionEntry, error)

	// External collaborator reads
	GetEnrolledStudents(ctx context.Context, batchID string) ([]string, error)
	GetGeoFence(ctx context.Context, branchID string) (*models.GeoFence, error)

	// Aggregation
	StudentSummaryCounts(ctx context.Context, studentID string, from, to time.Time) (int, int, error)
	BatchSessionCounts(ctx context.Context, batchID string, from, to time.Time) ([]*models.SessionCounts, error)
}

// Session lifecycle

func (s *Service) GetSession(ctx context.Context, id string) (*api.SessionResponse, error) {
	const op = "service.GetSession"

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return toSessionResponse(session), nil
}

func (s *Service) ListSessions(ctx context.Context, batchID, state *string, from, to *time.Time) ([]*api.SessionResponse, error) {
	const op = "service.ListSessions"

	var statePtr *models.SessionState
	if state != nil {
		st := models.SessionState(*state)
		if st != models.SessionScheduled && st != models.SessionOpen && st != models.SessionClosed {
			return nil, fmt.Errorf("%s: invalid state: %w", op, response.ErrValidation)
		}
		statePtr = &st
	}

	sessions, err := s.store.ListSessions(ctx, batchID, statePtr, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*api.SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		result = append(result, toSessionResponse(session))
	}

	return result, nil
}

// OpenSession moves a session from SCHEDULED to OPEN. Transitions are
// monotonic: a retry after success fails with ErrInvalidStateTransition,
// never silently no-ops.
func (s *Service) OpenSession(ctx context.Context, id string) (*api.SessionResponse, error) {
	const op = "service.OpenSession"

	unlock, err := s.lockSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if session.State != models.SessionScheduled {
		return nil, fmt.Errorf("%s: %w", op, response.ErrInvalidStateTransition)
	}

	now := time.Now().UTC()
	session.State = models.SessionOpen
	session.OpenedAt = &now

	if err := s.store.UpdateSessionState(ctx, session); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return toSessionResponse(session), nil
}

// CloseSession moves a session from OPEN to CLOSED and kicks off a
// background summary refresh without blocking the caller.
func (s *Service) CloseSession(ctx context.Context, id string) (*api.SessionResponse, error) {
	const op = "service.CloseSession"

	unlock, err := s.lockSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if session.State != models.SessionOpen {
		return nil, fmt.Errorf("%s: %w", op, response.ErrInvalidStateTransition)
	}

	now := time.Now().UTC()
	session.State = models.SessionClosed
	session.ClosedAt = &now

	if err := s.store.UpdateSessionState(ctx, session); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	go s.refreshBatchSummary(session)

	return toSessionResponse(session), nil
}

// Marking

// BulkMark applies a teacher's whole status map or nothing at all. A
// resubmission while the session is still open overwrites in place; only
// the correction path leaves a ledger entry.
func (s *Service) BulkMark(ctx context.Context, req *api.BulkMarkRequest) (*api.BulkMarkResponse, error) {
	const op = "service.BulkMark"

	if req.SessionID == "" || req.TeacherID == "" || len(req.Records) == 0 {
		return nil, fmt.Errorf("%s: %w", op, response.ErrValidation)
	}

	unlock, err := s.lockSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	session, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if session.State != models.SessionOpen {
		return nil, fmt.Errorf("%s: %w", op, response.ErrSessionNotOpen)
	}

	students, err := s.store.GetEnrolledStudents(ctx, session.BatchID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	enrolled := make(map[string]struct{}, len(students))
	for _, studentID := range students {
		enrolled[studentID] = struct{}{}
	}

	now := time.Now().UTC()
	records := make([]*models.AttendanceRecord, 0, len(req.Records))

	for studentID, status := range req.Records {
		if _, ok := enrolled[studentID]; !ok {
			return nil, fmt.Errorf("%s: student %s: %w", op, studentID, response.ErrStudentNotEnrolled)
		}

		attStatus := models.AttendanceStatus(status)
		if !attStatus.Valid() {
			return nil, fmt.Errorf("%s: invalid status %q: %w", op, status, response.ErrValidation)
		}

		records = append(records, &models.AttendanceRecord{
			SessionID:  session.ID,
			StudentID:  studentID,
			Status:     attStatus,
			Source:     models.SourceTeacherBulk,
			MarkedByID: req.TeacherID,
			RecordedAt: now,
		})
	}

	if err := s.store.BulkUpsertAttendance(ctx, records); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &api.BulkMarkResponse{
		SessionID: session.ID,
		Saved:     len(records),
	}, nil
}

// SelfMark records a student's own geolocated attendance. The state read,
// the existence check and the insert all share the session lock so a
// concurrent close cannot slip a record onto a closed session; only the
// coordinate sanity check runs before it.
func (s *Service) SelfMark(ctx context.Context, req *api.SelfMarkRequest) (*api.SelfMarkResponse, error) {
	const op = "service.SelfMark"

	if req.SessionID == "" || req.StudentID == "" {
		return nil, fmt.Errorf("%s: %w", op, response.ErrValidation)
	}

	if err := geo.CheckCoordinate(req.Lat, req.Lng); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	unlock, err := s.lockSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	session, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if session.State != models.SessionOpen {
		return nil, fmt.Errorf("%s: %w", op, response.ErrSessionNotOpen)
	}

	if !session.AllowSelfMark {
		return nil, fmt.Errorf("%s: %w", op, response.ErrSelfMarkDisabled)
	}

	distance, err := s.checkFence(ctx, session, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.store.GetAttendance(ctx, req.SessionID, req.StudentID)
	if err == nil {
		return nil, fmt.Errorf("%s: %w", op, response.ErrAlreadyMarked)
	}
	if !errors.Is(err, response.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	record := &models.AttendanceRecord{
		SessionID:  session.ID,
		StudentID:  req.StudentID,
		Status:     models.AttendancePresent,
		Source:     models.SourceStudentGeo,
		MarkedByID: req.StudentID,
		RecordedAt: time.Now().UTC(),
		Lat:        &req.Lat,
		Lng:        &req.Lng,
		AccuracyM:  req.AccuracyM,
		DistanceM:  distance,
	}

	if err := s.store.InsertAttendance(ctx, record); err != nil {
		if errors.Is(err, response.ErrAlreadyMarked) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrAlreadyMarked)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var distanceM float64
	if distance != nil {
		distanceM = *distance
	}

	return &api.SelfMarkResponse{
		SessionID: session.ID,
		StudentID: req.StudentID,
		Status:    string(record.Status),
		DistanceM: distanceM,
	}, nil
}

// checkFence validates the submitted coordinate against the branch fence.
// A branch without a configured fence skips the distance check.
func (s *Service) checkFence(ctx context.Context, session *models.Session, req *api.SelfMarkRequest) (*float64, error) {
	fence, err := s.store.GetGeoFence(ctx, session.BranchID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if session.SelfMarkRadiusM != nil {
		fence.RadiusM = *session.SelfMarkRadiusM
	}

	result, err := geo.Validate(geo.Coordinate{Lat: req.Lat, Lng: req.Lng, AccuracyM: req.AccuracyM}, fence)
	if err != nil {
		return nil, err
	}

	if !result.WithinRange {
		return nil, fmt.Errorf("%.0fm from branch, max %.0fm: %w",
			result.DistanceM, fence.RadiusM, response.ErrOutOfRange)
	}

	return &result.DistanceM, nil
}

// Corrections

// Correct supersedes the current status for a (session, student) pair and
// appends exactly one ledger entry. Permitted on OPEN and CLOSED sessions;
// a SCHEDULED session has nothing to correct yet.
func (s *Service) Correct(ctx context.Context, req *api.CorrectionRequest) (*api.CorrectionResponse, error) {
	const op = "service.Correct"

	if req.SessionID == "" || req.StudentID == "" || req.ActorID == "" || req.Reason == "" {
		return nil, fmt.Errorf("%s: %w", op, response.ErrValidation)
	}

	newStatus := models.AttendanceStatus(req.NewStatus)
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%s: invalid status %q: %w", op, req.NewStatus, response.ErrValidation)
	}

	unlock, err := s.lockSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	session, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, response.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if session.State == models.SessionScheduled {
		return nil, fmt.Errorf("%s: %w", op, response.ErrSessionNotClosed)
	}

	var prevStatus models.AttendanceStatus

	current, err := s.store.GetAttendance(ctx, req.SessionID, req.StudentID)
	if err == nil {
		prevStatus = current.Status
	} else if !errors.Is(err, response.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()

	entry := &models.CorrectionEntry{
		SessionID:  req.SessionID,
		StudentID:  req.StudentID,
		PrevStatus: prevStatus,
		NewStatus:  newStatus,
		ActorID:    req.ActorID,
		Reason:     req.Reason,
		CreatedAt:  now,
	}

	record := &models.AttendanceRecord{
		SessionID:  req.SessionID,
		StudentID:  req.StudentID,
		Status:     newStatus,
		Source:     models.SourceCorrection,
		MarkedByID: req.ActorID,
		RecordedAt: now,
	}

	saved, err := s.store.ApplyCorrection(ctx, entry, record)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return toCorrectionResponse(saved), nil
}

// CorrectionHistory returns the ledger for a pair, oldest entry first.
// Reading has no side effects and may be repeated.
func (s *Service) CorrectionHistory(ctx context.Context, sessionID, studentID string) ([]*api.CorrectionResponse, error) {
	const op = "service.CorrectionHistory"

	if sessionID == "" || studentID == "" {
		return nil, fmt.Errorf("%s: %w", op, response.ErrValidation)
	}

	entries, err := s.store.ListCorrections(ctx, sessionID, studentID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*api.CorrectionResponse, 0, len(entries))
	for _, entry := range entries {
		result = append(result, toCorrectionResponse(entry))
	}

	return result, nil
}

// Records

func (s *Service) ListAttendance(ctx context.Context, sessionID, batchID *string, from, to *time.Time) ([]*api.AttendanceRecordResponse, error) {
	const op = "service.ListAttendance"

	records, err := s.store.ListAttendance(ctx, sessionID, batchID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*api.AttendanceRecordResponse, 0, len(records))
	for _, record := range records {
		result = append(result, &api.AttendanceRecordResponse{
			SessionID:  record.SessionID,
			StudentID:  record.StudentID,
			Status:     string(record.Status),
			Source:     string(record.Source),
			MarkedByID: record.MarkedByID,
			RecordedAt: record.RecordedAt,
			DistanceM:  record.DistanceM,
		})
	}

	return result, nil
}

func (s *Service) lockSession(ctx context.Context, sessionID string) (func(), error) {
	key := lock.SessionKey(sessionID)

	locked, err := s.locker.Lock(ctx, key, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock error: %w", err)
	}
	if !locked {
		return nil, response.ErrLocked
	}

	return func() {
		_ = s.locker.Unlock(ctx, key)
	}, nil
}

func toSessionResponse(session *models.Session) *api.SessionResponse {
	return &api.SessionResponse{
		ID:              session.ID,
		BatchID:         session.BatchID,
		BranchID:        session.BranchID,
		TeacherID:       session.TeacherID,
		ScheduledStart:  session.ScheduledStart,
		ScheduledEnd:    session.ScheduledEnd,
		State:           string(session.State),
		OpenedAt:        session.OpenedAt,
		ClosedAt:        session.ClosedAt,
		AllowSelfMark:   session.AllowSelfMark,
		SelfMarkRadiusM: session.SelfMarkRadiusM,
	}
}

func toCorrectionResponse(entry *models.CorrectionEntry) *api.CorrectionResponse {
	return &api.CorrectionResponse{
		SessionID:  entry.SessionID,
		StudentID:  entry.StudentID,
		PrevStatus: string(entry.PrevStatus),
		NewStatus:  string(entry.NewStatus),
		ActorID:    entry.ActorID,
		Reason:     entry.Reason,
		CreatedAt:  entry.CreatedAt,
	}
}
