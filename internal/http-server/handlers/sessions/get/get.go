package get

import (
	"context"
	"errors"
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

type SessionGetter interface {
	GetSession(ctx context.Context, id string) (*api.SessionResponse, error)
	ListSessions(ctx context.Context, batchID, state *string, from, to *time.Time) ([]*api.SessionResponse, error)
}

type Response struct {
	response.Response
	Sessions []api.SessionResponse `json:"sessions,omitempty"`
	Session  *api.SessionResponse  `json:"session,omitempty"`
}

func New(log *slog.Logger, getter SessionGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.sessions.get.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		id := chi.URLParam(r, "id")

		if id != "" {
			session, err := getter.GetSession(r.Context(), id)

			if errors.Is(err, response.ErrNotFound) {
				log.Error("session not found")
				w.WriteHeader(http.StatusNotFound)
				render.JSON(w, r, response.Error(string(response.NOT_FOUND), "session not found"))
				return
			}

			if err != nil {
				log.Error("Failed to get session", sl.Err(err))
				w.WriteHeader(http.StatusInternalServerError)
				render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to get session"))
				return
			}

			log.Info("Session retrieved", slog.String("session_id", id))
			render.JSON(w, r, Response{Session: session})
			return
		}

		// List
		var batchID, state *string
		if v := r.URL.Query().Get("batch_id"); v != "" {
			batchID = &v
		}
		if v := r.URL.Query().Get("status"); v != "" {
			state = &v
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

		sessions, err := getter.ListSessions(r.Context(), batchID, state, from, to)

		if errors.Is(err, response.ErrValidation) {
			log.Error("invalid status filter")
			w.WriteHeader(http.StatusBadRequest)
			render.JSON(w, r, response.Error(string(response.VALIDATION_ERROR), "invalid status filter"))
			return
		}

		if err != nil {
			log.Error("Failed to list sessions", sl.Err(err))
			w.WriteHeader(http.StatusInternalServerError)
			render.JSON(w, r, response.Error(string(response.FAILED_REQUEST), "failed to list sessions"))
			return
		}

		log.Info("Sessions retrieved", slog.Int("count", len(sessions)))

		sessionsResponse := make([]api.SessionResponse, len(sessions))
		for i, s := range sessions {
			sessionsResponse[i] = *s
		}
		render.JSON(w, r, Response{
			Sessions: sessionsResponse,
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
