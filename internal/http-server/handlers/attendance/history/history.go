package history

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"coach-attendance/api"
	"coach-attendance/pkg/response"
	"coach-attendance/pkg/sl"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type HistoryGetter interface {
	CorrectionHistory(ctx context.Context, sessionID, studentID string) ([]*api.CorrectionResponse, error)
}

type Response struct {
	response.Response
	Corrections []api.CorrectionResponse `json:"corrections,omitempty"`
}

func New(log *slog.Logger, getter HistoryGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attendance.history.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		sessionID := r.URL.Query().Get("session_id")
		studentID := r.URL.Query().Get("student_id")

		if sessionID == "" || studentID == "" {
			log.Error("session_id and student_id are required")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "session_id and student_id are required"))
			return
		}

		corrections, err := getter.CorrectionHistory(r.Context(), sessionID, studentID)

		if errors.Is(err, response.ErrValidation) {
			log.Error("invalid history request")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.VALIDATION_ERROR), "invalid history request"))
			return
		}

		if err != nil {
			log.Error("Failed to get correction history", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to get correction history"))
			return
		}

		log.Info("Correction history retrieved", slog.Int("count", len(corrections)))

		correctionsResponse := make([]api.CorrectionResponse, len(corrections))
		for i, c := range corrections {
			correctionsResponse[i] = *c
		}
		render.JSON(w, r, Response{
			Corrections: correctionsResponse,
		})
	}
}
