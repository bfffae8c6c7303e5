package correct

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

type Corrector interface {
	Correct(ctx context.Context, req *api.CorrectionRequest) (*api.CorrectionResponse, error)
}

type Request struct {
	api.CorrectionRequest
}

type Response struct {
	response.Response
	Correction api.CorrectionResponse `json:"correction,omitempty"`
}

func New(log *slog.Logger, corrector Corrector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attendance.correct.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			log.Error("Failed to decode request body", sl.Err(err))
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "failed to decode request"))
			return
		}

		log.Info("Request body decoded",
			slog.String("session_id", req.SessionID),
			slog.String("student_id", req.StudentID),
			slog.String("new_status", req.NewStatus),
		)

		if req.SessionID == "" || req.StudentID == "" || req.NewStatus == "" {
			log.Error("session_id, student_id and new_status are required")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "session_id, student_id and new_status are required"))
			return
		}

		if req.ActorID == "" || req.Reason == "" {
			log.Error("actor_id and reason are required")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "actor_id and reason are required"))
			return
		}

		correction, err := corrector.Correct(r.Context(), &req.CorrectionRequest)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("session not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "session not found"))
			return
		}

		if errors.Is(err, response.ErrSessionNotClosed) {
			log.Error("session has not been started")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(response.SESSION_NOT_CLOSED), "cannot correct a session that never started"))
			return
		}

		if errors.Is(err, response.ErrValidation) {
			log.Error("invalid correction payload")
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error(string(response.VALIDATION_ERROR), "invalid correction payload"))
			return
		}

		if errors.Is(err, response.ErrLocked) {
			log.Error("session is locked")
			w.WriteHeader(http.StatusLocked)
			render.JSON(w, r, response.Error(string(response.LOCKED), "session is locked"))
			return
		}

		if err != nil {
			log.Error("Failed to apply correction", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to apply correction"))
			return
		}

		log.Info("Correction applied",
			slog.String("session_id", correction.SessionID),
			slog.String("student_id", correction.StudentID),
			slog.String("prev_status", correction.PrevStatus),
			slog.String("new_status", correction.NewStatus),
		)

		w.WriteHeader(http.StatusCreated)
		responseOK(w, r, correction)
	}
}

func responseOK(w http.ResponseWriter, r *http.Request, correction *api.CorrectionResponse) {
	render.JSON(w, r, Response{
		Correction: *correction,
	})
}
