package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/notify"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	if s.notifications == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "notification store not available")
		return
	}
	list, err := s.notifications.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list notifications", "error", err)
		writeInternalError(w, "failed to list notifications")
		return
	}
	if list == nil {
		list = []notify.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list, "count": len(list)})
}

func (s *Server) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	if s.notifications == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "notification store not available")
		return
	}
	err := s.notifications.Dismiss(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, notify.ErrNotFound) {
		writeNotFound(w, "notification not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to dismiss notification", "error", err)
		writeInternalError(w, "failed to dismiss notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
