package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"coach-attendance/api"
	"coach-attendance/internal/cache"
	"coach-attendance/internal/models"
)

// Summaries are a pure function of the current record set: they read the
// post-correction status only and never the ledger, and can be recomputed
// from scratch at any time. Only CLOSED sessions count; attendance is not
// final until a session closes.

func (s *Service) StudentSummary(ctx context.Context, studentID string, from, to time.Time) (*api.StudentSummaryResponse, error) {
	const op = "service.StudentSummary"

	present, total, err := s.store.StudentSummaryCounts(ctx, studentID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	summary := &api.StudentSummaryResponse{
		StudentID:     studentID,
		From:          from.Format("2006-01-02"),
		To:            to.Format("2006-01-02"),
		PresentCount:  present,
		TotalSessions: total,
	}

	if total == 0 {
		summary.NoData = true
		return summary, nil
	}

	summary.Percentage = round1(float64(present) / float64(total) * 100)

	return summary, nil
}

func (s *Service) BatchSummary(ctx context.Context, batchID string, from, to time.Time) (*api.BatchSummaryResponse, error) {
	const op = "service.BatchSummary"

	key := summaryKey(batchID, from, to)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil {
			var summary api.BatchSummaryResponse
			if err := json.Unmarshal([]byte(cached), &summary); err == nil {
				return &summary, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return s.computeBatchSummary(ctx, batchID, from, to)
}

// computeBatchSummary recomputes from the store and rewrites the cache
// entry, bypassing any cached value.
func (s *Service) computeBatchSummary(ctx context.Context, batchID string, from, to time.Time) (*api.BatchSummaryResponse, error) {
	const op = "service.computeBatchSummary"

	counts, err := s.store.BatchSessionCounts(ctx, batchID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	summary := &api.BatchSummaryResponse{
		BatchID:  batchID,
		From:     from.Format("2006-01-02"),
		To:       to.Format("2006-01-02"),
		Sessions: make([]api.SessionCountsResponse, 0, len(counts)),
	}

	for _, c := range counts {
		summary.Sessions = append(summary.Sessions, api.SessionCountsResponse{
			SessionID:      c.SessionID,
			ScheduledStart: c.ScheduledStart,
			Present:        c.Present,
			Absent:         c.Absent,
			Late:           c.Late,
			Excused:        c.Excused,
		})
	}

	if s.cache != nil {
		if b, err := json.Marshal(summary); err == nil {
			_ = s.cache.Set(ctx, summaryKey(batchID, from, to), string(b), s.summaryTTL)
		}
	}

	return summary, nil
}

// refreshBatchSummary recomputes and caches the batch summary for the
// session's day. Runs detached from the closing request; a failed refresh
// only means the next read recomputes.
func (s *Service) refreshBatchSummary(session *models.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	day := session.ScheduledStart.UTC().Truncate(24 * time.Hour)
	from := day
	to := day.Add(24*time.Hour - time.Second)

	_, _ = s.computeBatchSummary(ctx, session.BatchID, from, to)
}

func summaryKey(batchID string, from, to time.Time) string {
	return fmt.Sprintf("summary:batch:%s:%s:%s",
		batchID, from.Format("2006-01-02"), to.Format("2006-01-02"))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
