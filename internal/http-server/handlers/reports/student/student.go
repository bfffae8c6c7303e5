package student

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"coach-attendance/api"
	"coach-attendance/pkg/response"
	"coach-attendance/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type StudentSummarizer interface {
	StudentSummary(ctx context.Context, studentID string, from, to time.Time) (*api.StudentSummaryResponse, error)
}

type Response struct {
	response.Response
	Summary api.StudentSummaryResponse `json:"summary,omitempty"`
}

func New(log *slog.Logger, summarizer StudentSummarizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.reports.student.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		studentID := chi.URLParam(r, "id")
		if studentID == "" {
			log.Error("student id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "student id is required"))
			return
		}

		from, to, ok := parseRange(r)
		if !ok {
			log.Error("from and to are required")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "from and to are required (YYYY-MM-DD)"))
			return
		}

		summary, err := summarizer.StudentSummary(r.Context(), studentID, from, to)

		if err != nil {
			log.Error("Failed to build student summary", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to build student summary"))
			return
		}

		log.Info("Student summary built",
			slog.String("student_id", studentID),
			slog.Int("total_sessions", summary.TotalSessions),
			slog.Bool("no_data", summary.NoData),
		)

		render.JSON(w, r, Response{
			Summary: *summary,
		})
	}
}

func parseRange(r *http.Request) (time.Time, time.Time, bool) {
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")

	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}

	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}

	// Make the range inclusive of the whole end day.
	to = to.Add(24*time.Hour - time.Second)

	return from, to, true
}
