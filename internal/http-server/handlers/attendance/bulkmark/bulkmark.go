package bulkmark

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

type BulkMarker interface {
	BulkMark(ctx context.Context, req *api.BulkMarkRequest) (*api.BulkMarkResponse, error)
}

type Request struct {
	api.BulkMarkRequest
}

type Response struct {
	response.Response
	Result api.BulkMarkResponse `json:"result,omitempty"`
}

func New(log *slog.Logger, marker BulkMarker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attendance.bulkmark.New"

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

		log.Info("Request body decoded", slog.String("session_id", req.SessionID), slog.Int("records", len(req.Records)))

		if req.SessionID == "" {
			log.Error("session_id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "session_id is required"))
			return
		}

		if req.TeacherID == "" {
			log.Error("teacher_id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "teacher_id is required"))
			return
		}

		if len(req.Records) == 0 {
			log.Error("records is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "records is required"))
			return
		}

		result, err := marker.BulkMark(r.Context(), &req.BulkMarkRequest)

		if errors.Is(err, response.ErrNotFound) {
			log.Error("session not found")
			w.WriteHeader(http.StatusNotFound)
			render.JSON(w, r, response.Error(string(response.NOT_FOUND), "session not found"))
			return
		}

		if errors.Is(err, response.ErrSessionNotOpen) {
			log.Error("session is not open")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(response.SESSION_NOT_OPEN), "session is not open"))
			return
		}

		if errors.Is(err, response.ErrStudentNotEnrolled) {
			log.Error("payload references unenrolled student")
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error(string(response.STUDENT_NOT_ENROLLED), "student is not enrolled in batch"))
			return
		}

		if errors.Is(err, response.ErrValidation) {
			log.Error("invalid status in payload")
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error(string(response.VALIDATION_ERROR), "invalid attendance status"))
			return
		}

		if errors.Is(err, response.ErrLocked) {
			log.Error("session is locked")
			w.WriteHeader(http.StatusLocked)
			render.JSON(w, r, response.Error(string(response.LOCKED), "session is locked"))
			return
		}

		if err != nil {
			log.Error("Failed to bulk mark attendance", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to bulk mark attendance"))
			return
		}

		log.Info("Attendance bulk marked", slog.String("session_id", result.SessionID), slog.Int("saved", result.Saved))

		responseOK(w, r, result)
	}
}

func responseOK(w http.ResponseWriter, r *http.Request, result *api.BulkMarkResponse) {
	render.JSON(w, r, Response{
		Result: *result,
	})
}
