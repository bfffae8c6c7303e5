package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"coach-attendance/api"
	"coach-attendance/internal/cache"
	"coach-attendance/internal/models"
	"coach-attendance/pkg/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// #### fakes ####

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	records  map[string]*models.AttendanceRecord
	ledger   []*models.CorrectionEntry
	enrolled map[string][]string
	fences   map[string]*models.GeoFence

	batchCountsCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*models.Session),
		records:  make(map[string]*models.AttendanceRecord),
		enrolled: make(map[string][]string),
		fences:   make(map[string]*models.GeoFence),
	}
}

func recordKey(sessionID, studentID string) string {
	return sessionID + "|" + studentID
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[id]
	if !ok {
		return nil, response.ErrNotFound
	}

	copied := *session
	return &copied, nil
}

func (f *fakeStore) UpdateSessionState(_ context.Context, session *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.sessions[session.ID]; !ok {
		return response.ErrNotFound
	}

	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeStore) ListSessions(_ context.Context, batchID *string, state *models.SessionState, from, to *time.Time) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*models.Session
	for _, session := range f.sessions {
		if batchID != nil && session.BatchID != *batchID {
			continue
		}
		if state != nil && session.State != *state {
			continue
		}
		if from != nil && session.ScheduledStart.Before(*from) {
			continue
		}
		if to != nil && session.ScheduledStart.After(*to) {
			continue
		}
		copied := *session
		result = append(result, &copied)
	}

	return result, nil
}

func (f *fakeStore) GetAttendance(_ context.Context, sessionID, studentID string) (*models.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[recordKey(sessionID, studentID)]
	if !ok {
		return nil, response.ErrNotFound
	}

	copied := *record
	return &copied, nil
}

func (f *fakeStore) BulkUpsertAttendance(_ context.Context, records []*models.AttendanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, record := range records {
		copied := *record
		f.records[recordKey(record.SessionID, record.StudentID)] = &copied
	}

	return nil
}

func (f *fakeStore) InsertAttendance(_ context.Context, record *models.AttendanceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := recordKey(record.SessionID, record.StudentID)
	if _, ok := f.records[key]; ok {
		return response.ErrAlreadyMarked
	}

	copied := *record
	f.records[key] = &copied
	return nil
}

func (f *fakeStore) ListAttendance(_ context.Context, sessionID, batchID *string, from, to *time.Time) ([]*models.AttendanceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*models.AttendanceRecord
	for _, record := range f.records {
		if sessionID != nil && record.SessionID != *sessionID {
			continue
		}
		copied := *record
		result = append(result, &copied)
	}

	return result, nil
}

func (f *fakeStore) ApplyCorrection(_ context.Context, entry *models.CorrectionEntry, record *models.AttendanceRecord) (*models.CorrectionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	saved := *entry
	saved.ID = int64(len(f.ledger) + 1)
	f.ledger = append(f.ledger, &saved)

	copiedRecord := *record
	key := recordKey(record.SessionID, record.StudentID)
	if existing, ok := f.records[key]; ok {
		// Geo fields survive a correction; only the status moves.
		copiedRecord.Lat = existing.Lat
		copiedRecord.Lng = existing.Lng
		copiedRecord.DistanceM = existing.DistanceM
	}
	f.records[key] = &copiedRecord

	copiedEntry := saved
	return &copiedEntry, nil
}

func (f *fakeStore) ListCorrections(_ context.Context, sessionID, studentID string) ([]*models.CorrectionEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []*models.CorrectionEntry
	for _, entry := range f.ledger {
		if entry.SessionID == sessionID && entry.StudentID == studentID {
			copied := *entry
			result = append(result, &copied)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return result, nil
}

func (f *fakeStore) GetEnrolledStudents(_ context.Context, batchID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.enrolled[batchID]...), nil
}

func (f *fakeStore) GetGeoFence(_ context.Context, branchID string) (*models.GeoFence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fence, ok := f.fences[branchID]
	if !ok {
		return nil, response.ErrNotFound
	}

	copied := *fence
	return &copied, nil
}

func (f *fakeStore) StudentSummaryCounts(_ context.Context, studentID string, from, to time.Time) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	total := 0
	present := 0

	for _, session := range f.sessions {
		if session.State != models.SessionClosed {
			continue
		}
		if session.ScheduledStart.Before(from) || session.ScheduledStart.After(to) {
			continue
		}

		enrolled := false
		for _, id := range f.enrolled[session.BatchID] {
			if id == studentID {
				enrolled = true
				break
			}
		}
		if !enrolled {
			continue
		}

		total++

		if record, ok := f.records[recordKey(session.ID, studentID)]; ok && record.Status == models.AttendancePresent {
			present++
		}
	}

	return present, total, nil
}

func (f *fakeStore) BatchSessionCounts(_ context.Context, batchID string, from, to time.Time) ([]*models.SessionCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batchCountsCalls++

	var counts []*models.SessionCounts

	for _, session := range f.sessions {
		if session.BatchID != batchID || session.State != models.SessionClosed {
			continue
		}
		if session.ScheduledStart.Before(from) || session.ScheduledStart.After(to) {
			continue
		}

		c := &models.SessionCounts{
			SessionID:      session.ID,
			ScheduledStart: session.ScheduledStart,
		}

		for _, record := range f.records {
			if record.SessionID != session.ID {
				continue
			}
			switch record.Status {
			case models.AttendancePresent:
				c.Present++
			case models.AttendanceAbsent:
				c.Absent++
			case models.AttendanceLate:
				c.Late++
			case models.AttendanceExcused:
				c.Excused++
			}
		}

		counts = append(counts, c)
	}

	sort.Slice(counts, func(i, j int) bool {
		return counts[i].ScheduledStart.Before(counts[j].ScheduledStart)
	})

	return counts, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	deny bool
	// Runs before the lock is granted, standing in for work a competing
	// holder finished just before us.
	onLock func()
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (l *fakeLocker) Lock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.deny || l.held[key] {
		return false, nil
	}

	if l.onLock != nil {
		l.onLock()
	}

	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.held, key)
	return nil
}

type fakeCache struct {
	mu    sync.Mutex
	items map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[string]string)}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	val, ok := c.items[key]
	if !ok {
		return "", cache.ErrCacheMiss
	}

	return val, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = value
	return nil
}

// #### helpers ####

var sessionStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seedSession(store *fakeStore, id string, state models.SessionState) *models.Session {
	session := &models.Session{
		ID:             id,
		BatchID:        "batch-1",
		BranchID:       "branch-1",
		TeacherID:      "teacher-1",
		ScheduledStart: sessionStart,
		ScheduledEnd:   sessionStart.Add(time.Hour),
		State:          state,
		AllowSelfMark:  true,
	}
	store.sessions[id] = session
	return session
}

func newTestService(store *fakeStore) *Service {
	return NewService(store, newFakeLocker(), newFakeCache(), 10*time.Second, 5*time.Minute)
}

// #### session lifecycle ####

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionScheduled)
	s := newTestService(store)

	opened, err := s.OpenSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, string(models.SessionOpen), opened.State)
	assert.NotNil(t, opened.OpenedAt)

	// Opening twice is not a no-op.
	_, err = s.OpenSession(ctx, "s1")
	assert.True(t, errors.Is(err, response.ErrInvalidStateTransition))

	closed, err := s.CloseSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, string(models.SessionClosed), closed.State)
	assert.NotNil(t, closed.ClosedAt)
	assert.False(t, closed.ClosedAt.Before(*closed.OpenedAt))

	// No reopening a closed session.
	_, err = s.OpenSession(ctx, "s1")
	assert.True(t, errors.Is(err, response.ErrInvalidStateTransition))

	_, err = s.CloseSession(ctx, "s1")
	assert.True(t, errors.Is(err, response.ErrInvalidStateTransition))
	assert.Equal(t, models.SessionClosed, store.sessions["s1"].State)
}

func TestCloseBeforeOpen(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionScheduled)
	s := newTestService(store)

	_, err := s.CloseSession(ctx, "s1")
	assert.True(t, errors.Is(err, response.ErrInvalidStateTransition))
	assert.Equal(t, models.SessionScheduled, store.sessions["s1"].State)
}

func TestOpenSessionNotFound(t *testing.T) {
	s := newTestService(newFakeStore())

	_, err := s.OpenSession(context.Background(), "missing")
	assert.True(t, errors.Is(err, response.ErrNotFound))
}

func TestOpenSessionLocked(t *testing.T) {
	store := newFakeStore()
	seedSession(store, "s1", models.SessionScheduled)

	locker := newFakeLocker()
	locker.deny = true
	s := NewService(store, locker, newFakeCache(), 10*time.Second, 5*time.Minute)

	_, err := s.OpenSession(context.Background(), "s1")
	assert.True(t, errors.Is(err, response.ErrLocked))
}

// #### bulk mark ####

func TestBulkMark(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionOpen)
	store.enrolled["batch-1"] = []string{"stu-a", "stu-b"}
	s := newTestService(store)

	result, err := s.BulkMark(ctx, &api.BulkMarkRequest{
		SessionID: "s1",
		TeacherID: "teacher-1",
		Records: map[string]string{
			"stu-a": "PRESENT",
			"stu-b": "ABSENT",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Saved)

	record := store.records[recordKey("s1", "stu-a")]
	require.NotNil(t, record)
	assert.Equal(t, models.AttendancePresent, record.Status)
	assert.Equal(t, models.SourceTeacherBulk, record.Source)
	assert.Equal(t, "teacher-1", record.MarkedByID)
}

func TestBulkMarkAtomicOnUnenrolledStudent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionOpen)
	store.enrolled["batch-1"] = []string{"stu-a", "stu-b"}
	s := newTestService(store)

	_, err := s.BulkMark(ctx, &api.BulkMarkRequest{
		SessionID: "s1",
		TeacherID: "teacher-1",
		Records: map[string]string{
			"stu-a": "PRESENT",
			"stu-b": "ABSENT",
			"stu-c": "PRESENT", // not enrolled
		},
	})
	assert.True(t, errors.Is(err, response.ErrStudentNotEnrolled))
	assert.Empty(t, store.records, "no record may be written when any entry fails")
}

func TestBulkMarkAtomicOnInvalidStatus(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionOpen)
	store.enrolled["batch-1"] = []string{"stu-a", "stu-b"}
	s := newTestService(store)

	_, err := s.BulkMark(ctx, &api.BulkMarkRequest{
		SessionID: "s1",
		TeacherID: "teacher-1",
		Records: map[string]string{
			"stu-a": "PRESENT",
			"stu-b": "SLEEPING",
		},
	})
	assert.True(t, errors.Is(err, response.ErrValidation))
	assert.Empty(t, store.records)
}

func TestBulkMarkResubmissionOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionOpen)
	store.enrolled["batch-1"] = []string{"stu-a"}
	s := newTestService(store)

	_, err := s.BulkMark(ctx, &api.BulkMarkRequest{
		SessionID: "s1",
		TeacherID: "teacher-1",
		Records:   map[string]string{"stu-a": "ABSENT"},
	})
	require.NoError(t, err)

	_, err = s.BulkMark(ctx, &api.BulkMarkRequest{
		SessionID: "s1",
		TeacherID: "teacher-1",
		Records:   map[string]string{"stu-a": "LATE"},
	})
	require.NoError(t, err)

	record := store.records[recordKey("s1", "stu-a")]
	assert.Equal(t, models.AttendanceLate, record.Status)
	assert.Len(t, store.records, 1, "resubmission must not duplicate current rows")
	assert.Empty(t, store.ledger, "in-session resubmission is not a correction")
}

func TestBulkMarkRequiresOpenSession(t *testing.T) {
	ctx := context.Background()

	for _, state := range []models.SessionState{models.SessionScheduled, models.SessionClosed} {
		t.Run(string(state), func(t *testing.T) {
			store := newFakeStore()
			seedSession(store, "s1", state)
			store.enrolled["batch-1"] = []string{"stu-a"}
			s := newTestService(store)

			_, err := s.BulkMark(ctx, &api.BulkMarkRequest{
				SessionID: "s1",
				TeacherID: "teacher-1",
				Records:   map[string]string{"stu-a": "PRESENT"},
			})
			assert.True(t, errors.Is(err, response.ErrSessionNotOpen))
		})
	}
}

// #### self mark ####

// 49m north of the branch fence center.
func nearbyCoord(fence *models.GeoFence, meters float64) (float64, float64) {
	return fence.Lat + meters/111194.9, fence.Lng
}

func seedFence(store *fakeStore) *models.GeoFence {
	fence := &models.GeoFence{BranchID: "branch-1", Lat: 28.6139, Lng: 77.2090, RadiusM: 50}
	store.fences["branch-1"] = fence
	return fence
}

func TestSelfMark(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionOpen)
	fence := seedFence(store)
	s := newTestService(store)

	lat, lng := nearbyCoord(fence, 49)

	result, err := s.SelfMark(ctx, &api.SelfMarkRequest{
		SessionID: "s1",
		StudentID: "stu-a",
		Lat:       lat,
		Lng:       lng,
	})
	require.NoError(t, err)
	assert.Equal(t, string(models.AttendancePresent), result.Status)
	assert.InDelta(t, 49, result.DistanceM, 1)

	record := store.records[recordKey("s1", "stu-a")]
	require.NotNil(t, record)
	assert.Equal(t, models.SourceStudentGeo, record.Source)
	require.NotNil(t, record.DistanceM)
	assert.InDelta(t, 49, *record.DistanceM, 1)
}

func TestSelfMarkIsSingleShot(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionOpen)
	fence := seedFence(store)
	s := newTestService(store)

	lat, lng := nearbyCoord(fence, 10)

	first, err := s.SelfMark(ctx, &api.SelfMarkRequest{SessionID: "s1", StudentID: "stu-a", Lat: lat, Lng: lng})
	require.NoError(t, err)

	_, err = s.SelfMark(ctx, &api.SelfMarkRequest{SessionID: "s1", StudentID: "stu-a", Lat: lat, Lng: lng})
	assert.True(t, errors.Is(err, response.ErrAlreadyMarked))

	record := store.records[recordKey("s1", "stu-a")]
	require.NotNil(t, record)
	assert.Equal(t, models.AttendanceStatus(first.Status), record.Status)
	assert.Len(t, store.records, 1)
}

func TestSelfMarkOutOfRange(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionOpen)
	fence := seedFence(store)
	s := newTestService(store)

	lat, lng := nearbyCoord(fence, 120)

	_, err := s.SelfMark(ctx, &api.SelfMarkRequest{SessionID: "s1", StudentID: "stu-a", Lat: lat, Lng: lng})
	assert.True(t, errors.Is(err, response.ErrOutOfRange))
	assert.Empty(t, store.records, "rejected self-mark must record nothing")
}

func TestSelfMarkSessionRadiusOverride(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	session := seedSession(store, "s1", models.SessionOpen)
	radius := 200.0
	session.SelfMarkRadiusM = &radius
	fence := seedFence(store)
	s := newTestService(store)

	lat, lng := nearbyCoord(fence, 120)

	_, err := s.SelfMark(ctx, &api.SelfMarkRequest{SessionID: "s1", StudentID: "stu-a", Lat: lat, Lng: lng})
	require.NoError(t, err)
}

func TestSelfMarkInvalidCoordinate(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionOpen)
	seedFence(store)
	s := newTestService(store)

	_, err := s.SelfMark(ctx, &api.SelfMarkRequest{SessionID: "s1", StudentID: "stu-a", Lat: 91, Lng: 0})
	assert.True(t, errors.Is(err, response.ErrInvalidCoordinate))
	assert.Empty(t, store.records)
}

func TestSelfMarkDisabled(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	session := seedSession(store, "s1", models.SessionOpen)
	session.AllowSelfMark = false
	fence := seedFence(store)
	s := newTestService(store)

	lat, lng := nearbyCoord(fence, 10)

	_, err := s.SelfMark(ctx, &api.SelfMarkRequest{SessionID: "s1", StudentID: "stu-a", Lat: lat, Lng: lng})
	assert.True(t, errors.Is(err, response.ErrSelfMarkDisabled))
}

func TestSelfMarkRequiresOpenSession(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionClosed)
	fence := seedFence(store)
	s := newTestService(store)

	lat, lng := nearbyCoord(fence, 10)

	_, err := s.SelfMark(ctx, &api.SelfMarkRequest{SessionID: "s1", StudentID: "stu-a", Lat: lat, Lng: lng})
	assert.True(t, errors.Is(err, response.ErrSessionNotOpen))
}

func TestSelfMarkLosingRaceWithClose(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionOpen)
	fence := seedFence(store)

	// A concurrent close wins the session lock first and commits CLOSED;
	// the self-mark must observe that, not its stale pre-lock read.
	locker := newFakeLocker()
	locker.onLock = func() {
		store.mu.Lock()
		store.sessions["s1"].State = models.SessionClosed
		store.mu.Unlock()
	}
	s := NewService(store, locker, newFakeCache(), 10*time.Second, 5*time.Minute)

	lat, lng := nearbyCoord(fence, 10)

	_, err := s.SelfMark(ctx, &api.SelfMarkRequest{SessionID: "s1", StudentID: "stu-a", Lat: lat, Lng: lng})
	assert.True(t, errors.Is(err, response.ErrSessionNotOpen))
	assert.Empty(t, store.records, "no record may land on a closed session")
}

func TestSelfMarkNoFenceConfigured(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionOpen)
	s := newTestService(store)

	// Branch without a fence row skips the distance check.
	result, err := s.SelfMark(ctx, &api.SelfMarkRequest{SessionID: "s1", StudentID: "stu-a", Lat: 28.6139, Lng: 77.2090})
	require.NoError(t, err)
	assert.Equal(t, string(models.AttendancePresent), result.Status)
}

// #### corrections ####

func TestCorrectAppendsLedgerAndUpdatesRecord(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionClosed)
	store.records[recordKey("s1", "stu-b")] = &models.AttendanceRecord{
		SessionID: "s1",
		StudentID: "stu-b",
		Status:    models.AttendanceAbsent,
		Source:    models.SourceTeacherBulk,
	}
	s := newTestService(store)

	correction, err := s.Correct(ctx, &api.CorrectionRequest{
		SessionID: "s1",
		StudentID: "stu-b",
		NewStatus: "PRESENT",
		ActorID:   "teacher-1",
		Reason:    "marked absent by mistake",
	})
	require.NoError(t, err)
	assert.Equal(t, "ABSENT", correction.PrevStatus)
	assert.Equal(t, "PRESENT", correction.NewStatus)

	require.Len(t, store.ledger, 1)
	assert.Equal(t, models.AttendanceAbsent, store.ledger[0].PrevStatus)
	assert.Equal(t, models.AttendancePresent, store.ledger[0].NewStatus)

	record := store.records[recordKey("s1", "stu-b")]
	assert.Equal(t, models.AttendancePresent, record.Status)
	assert.Equal(t, models.SourceCorrection, record.Source)
}

func TestCorrectOnScheduledSession(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionScheduled)
	s := newTestService(store)

	_, err := s.Correct(ctx, &api.CorrectionRequest{
		SessionID: "s1",
		StudentID: "stu-b",
		NewStatus: "PRESENT",
		ActorID:   "teacher-1",
		Reason:    "test",
	})
	assert.True(t, errors.Is(err, response.ErrSessionNotClosed))
	assert.Empty(t, store.ledger)
}

func TestCorrectOnOpenSessionIsAllowed(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionOpen)
	store.records[recordKey("s1", "stu-a")] = &models.AttendanceRecord{
		SessionID: "s1",
		StudentID: "stu-a",
		Status:    models.AttendancePresent,
		Source:    models.SourceStudentGeo,
	}
	s := newTestService(store)

	// Corrections are the only path that can change a self-marked status.
	correction, err := s.Correct(ctx, &api.CorrectionRequest{
		SessionID: "s1",
		StudentID: "stu-a",
		NewStatus: "LATE",
		ActorID:   "teacher-1",
		Reason:    "arrived 20 minutes in",
	})
	require.NoError(t, err)
	assert.Equal(t, "PRESENT", correction.PrevStatus)

	record := store.records[recordKey("s1", "stu-a")]
	assert.Equal(t, models.AttendanceLate, record.Status)
	assert.Equal(t, models.SourceCorrection, record.Source)
}

func TestCorrectUnmarkedStudentCreatesRecord(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionClosed)
	s := newTestService(store)

	correction, err := s.Correct(ctx, &api.CorrectionRequest{
		SessionID: "s1",
		StudentID: "stu-x",
		NewStatus: "EXCUSED",
		ActorID:   "admin-1",
		Reason:    "medical leave approved after session",
	})
	require.NoError(t, err)
	assert.Empty(t, correction.PrevStatus)

	record := store.records[recordKey("s1", "stu-x")]
	require.NotNil(t, record)
	assert.Equal(t, models.AttendanceExcused, record.Status)
	require.Len(t, store.ledger, 1)
}

func TestCorrectValidation(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionClosed)
	s := newTestService(store)

	tests := []struct {
		name string
		req  *api.CorrectionRequest
	}{
		{name: "Missing reason", req: &api.CorrectionRequest{SessionID: "s1", StudentID: "stu-a", NewStatus: "PRESENT", ActorID: "t1"}},
		{name: "Missing actor", req: &api.CorrectionRequest{SessionID: "s1", StudentID: "stu-a", NewStatus: "PRESENT", Reason: "r"}},
		{name: "Bad status", req: &api.CorrectionRequest{SessionID: "s1", StudentID: "stu-a", NewStatus: "MAYBE", ActorID: "t1", Reason: "r"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Correct(ctx, tt.req)
			assert.True(t, errors.Is(err, response.ErrValidation))
		})
	}

	assert.Empty(t, store.ledger)
}

func TestCorrectionHistoryReplay(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionClosed)
	store.records[recordKey("s1", "stu-b")] = &models.AttendanceRecord{
		SessionID: "s1",
		StudentID: "stu-b",
		Status:    models.AttendanceAbsent,
		Source:    models.SourceTeacherBulk,
	}
	s := newTestService(store)

	steps := []string{"PRESENT", "LATE", "EXCUSED"}
	for i, status := range steps {
		_, err := s.Correct(ctx, &api.CorrectionRequest{
			SessionID: "s1",
			StudentID: "stu-b",
			NewStatus: status,
			ActorID:   "teacher-1",
			Reason:    fmt.Sprintf("correction %d", i+1),
		})
		require.NoError(t, err)
	}

	history, err := s.CorrectionHistory(ctx, "s1", "stu-b")
	require.NoError(t, err)
	require.Len(t, history, len(steps))

	// Replaying the ledger in order reconstructs every current status.
	prev := "ABSENT"
	for i, entry := range history {
		assert.Equal(t, prev, entry.PrevStatus)
		assert.Equal(t, steps[i], entry.NewStatus)
		prev = entry.NewStatus
	}

	// Re-reading has no side effects.
	again, err := s.CorrectionHistory(ctx, "s1", "stu-b")
	require.NoError(t, err)
	assert.Len(t, again, len(steps))
}

// #### end to end ####

func TestMarkAndSummarizeFlow(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	seedSession(store, "s1", models.SessionScheduled)
	store.enrolled["batch-1"] = []string{"stu-a", "stu-b"}
	s := newTestService(store)

	_, err := s.OpenSession(ctx, "s1")
	require.NoError(t, err)

	_, err = s.BulkMark(ctx, &api.BulkMarkRequest{
		SessionID: "s1",
		TeacherID: "teacher-1",
		Records: map[string]string{
			"stu-a": "PRESENT",
			"stu-b": "ABSENT",
		},
	})
	require.NoError(t, err)

	_, err = s.CloseSession(ctx, "s1")
	require.NoError(t, err)

	from := sessionStart.AddDate(0, 0, -1)
	to := sessionStart.AddDate(0, 0, 1)

	summary, err := s.StudentSummary(ctx, "stu-a", from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PresentCount)
	assert.Equal(t, 1, summary.TotalSessions)
	assert.Equal(t, 100.0, summary.Percentage)
	assert.False(t, summary.NoData)

	// Correction on the closed session changes what the summary reports.
	_, err = s.Correct(ctx, &api.CorrectionRequest{
		SessionID: "s1",
		StudentID: "stu-b",
		NewStatus: "PRESENT",
		ActorID:   "teacher-1",
		Reason:    "was present, marked absent in error",
	})
	require.NoError(t, err)

	summaryB, err := s.StudentSummary(ctx, "stu-b", from, to)
	require.NoError(t, err)
	assert.Equal(t, 1, summaryB.PresentCount)
	assert.Equal(t, 100.0, summaryB.Percentage)
}
