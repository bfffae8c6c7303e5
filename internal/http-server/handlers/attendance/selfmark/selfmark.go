package selfmark

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

type SelfMarker interface {
	SelfMark(ctx context.Context, req *api.SelfMarkRequest) (*api.SelfMarkResponse, error)
}

type Request struct {
	api.SelfMarkRequest
}

type Response struct {
	response.Response
	Result api.SelfMarkResponse `json:"result,omitempty"`
}

func New(log *slog.Logger, marker SelfMarker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.attendance.selfmark.New"

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

		log.Info("Request body decoded", slog.String("session_id", req.SessionID), slog.String("student_id", req.StudentID))

		if req.SessionID == "" {
			log.Error("session_id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "session_id is required"))
			return
		}

		if req.StudentID == "" {
			log.Error("student_id is empty")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.BAD_REQUEST), "student_id is required"))
			return
		}

		result, err := marker.SelfMark(r.Context(), &req.SelfMarkRequest)

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

		if errors.Is(err, response.ErrSelfMarkDisabled) {
			log.Error("self-marking is disabled for session")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(response.SELF_MARK_DISABLED), "self-marking is disabled for this session"))
			return
		}

		if errors.Is(err, response.ErrInvalidCoordinate) {
			log.Error("invalid coordinate")
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error(string(response.INVALID_COORDINATE), "invalid coordinate"))
			return
		}

		if errors.Is(err, response.ErrOutOfRange) {
			log.Error("coordinate outside branch geofence")
			w.WriteHeader(http.StatusUnprocessableEntity)
			render.JSON(w, r, response.Error(string(response.OUT_OF_RANGE), "you are too far from the branch"))
			return
		}

		if errors.Is(err, response.ErrAlreadyMarked) {
			log.Error("attendance already marked")
			w.WriteHeader(http.StatusConflict)
			render.JSON(w, r, response.Error(string(response.ALREADY_MARKED), "attendance already marked"))
			return
		}

		if errors.Is(err, response.ErrLocked) {
			log.Error("session is locked")
			w.WriteHeader(http.StatusLocked)
			render.JSON(w, r, response.Error(string(response.LOCKED), "session is locked"))
			return
		}

		if err != nil {
			log.Error("Failed to self mark attendance", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to self mark attendance"))
			return
		}

		log.Info("Attendance self marked",
			slog.String("session_id", result.SessionID),
			slog.String("student_id", result.StudentID),
			slog.Float64("distance_m", result.DistanceM),
		)

		w.WriteHeader(http.StatusCreated)
		responseOK(w, r, result)
	}
}

func responseOK(w http.ResponseWriter, r *http.Request, result *api.SelfMarkResponse) {
	render.JSON(w, r, Response{
		Result: *result,
	})
}
