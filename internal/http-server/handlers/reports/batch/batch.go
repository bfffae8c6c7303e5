package batch

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

type BatchSummarizer interface {
	BatchSummary(ctx context.Context, batchID string, from, to time.Time) (*api.BatchSummaryResponse, error)
}

type Response struct {
	response.Response
	Summary api.BatchSummaryResponse `json:"summary,omitempty"`
}

func New(log *slog.Logger, summarizer BatchSummarizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.reports.batch.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		batchID := chi.URLParam(r, "id")
		if batchID == "" {
			log.Error("batch id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "batch id is required"))
			return
		}

		from, to, ok := parseRange(r)
		if !ok {
			log.Error("from and to are required")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "from and to are required (YYYY-MM-DD)"))
			return
		}

		summary, err := summarizer.BatchSummary(r.Context(), batchID, from, to)

		if err != nil {
			log.Error("Failed to build batch summary", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to build batch summary"))
			return
		}

		log.Info("Batch summary built",
			slog.String("batch_id", batchID),
			slog.Int("sessions", len(summary.Sessions)),
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

	to = to.Add(24*time.Hour - time.Second)

	return from, to, true
}
