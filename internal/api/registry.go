package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/registry"
	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/snapshot"
)

// handleRegistry exposes the raw registry listings the exporter reads,
// for debugging a snapshot against its source.
func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	src := s.service.Source()
	ctx := r.Context()
	kind := chi.URLParam(r, "kind")

	var (
		items any
		err   error
	)
	switch kind {
	case "floors":
		items, err = registry.Floors(ctx, src)
	case "areas":
		items, err = src.ListAreas(ctx)
	case "devices":
		items, err = src.ListDevices(ctx)
	case "entities":
		items, err = src.ListEntities(ctx)
	case "config_entries":
		items, err = registry.ConfigEntries(ctx, src)
	default:
		writeNotFound(w, fmt.Sprintf("unknown registry %q", kind))
		return
	}
	if err != nil {
		s.logger.Warn("registry listing failed", "registry", kind, "error", err)
		if !errors.Is(err, snapshot.ErrRegistryUnavailable) {
			err = fmt.Errorf("%w: %w", snapshot.ErrRegistryUnavailable, err)
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{kind: items})
}
