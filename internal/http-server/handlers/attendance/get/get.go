package get

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"coach-attendance/api"
	"coach-attendance/pkg/response"
	"coach-attendance/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type AttendanceLister interface {
	ListAttendance(ctx context.Context, sessionID, batchID *string, from, to *time.Time) ([]*api.AttendanceRecordResponse, error)
}

type Response struct {
	response.Response
	Records []api.AttendanceRecordResponse `json:"records,omitempty"`
}

func New(log *slog.Logger, lister AttendanceLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attendance.get.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var sessionID, batchID *string
		if v := r.URL.Query().Get("session_id"); v != "" {
			sessionID = &v
		}
		if v := r.URL.Query().Get("batch_id"); v != "" {
			batchID = &v
		}

		var from, to *time.Time
		if fromStr := r.URL.Query().Get("from"); fromStr != "" {
			t, ok := parseTimeFlexible(fromStr)
			if !ok {
				log.Error("invalid from value", slog.String("from", fromStr))
				w.WriteHeader(http.StatusBadRequest)
				render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "from must be RFC3339 or YYYY-MM-DD"))
				return
			}
			from = &t
		}
		if toStr := r.URL.Query().Get("to"); toStr != "" {
			t, ok := parseTimeFlexible(toStr)
			if !ok {
				log.Error("invalid to value", slog.String("to", toStr))
				w.WriteHeader(http.StatusBadRequest)
				render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "to must be RFC3339 or YYYY-MM-DD"))
				return
			}
			to = &t
		}

		records, err := lister.ListAttendance(r.Context(), sessionID, batchID, from, to)

		if err != nil {
			log.Error("Failed to list attendance", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to list attendance"))
			return
		}

		log.Info("Attendance retrieved", slog.Int("count", len(records)))

		recordsResponse := make([]api.AttendanceRecordResponse, len(records))
		for i, record := range records {
			recordsResponse[i] = *record
		}
		render.JSON(w, r, Response{
			Records: recordsResponse,
		})
	}
}

func parseTimeFlexible(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}

	return time.Time{}, false
}
