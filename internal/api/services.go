package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/johnschieferleuhlenbrock/ha-snapshot/internal/service"
)

// uploadField is the multipart field carrying an import document.
const uploadField = "file"

// handleServiceCall runs POST /api/v1/services/{domain}/{service}.
func (s *Server) handleServiceCall(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if domain != service.Domain {
		writeNotFound(w, fmt.Sprintf("unknown domain %q", domain))
		return
	}
	s.callService(w, r, chi.URLParam(r, "service"))
}

// handleExport is shorthand for the export_data service call.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	s.callService(w, r, service.ServiceExport)
}

// handleImport accepts import_data call data as JSON, or a multipart
// upload with the document in the "file" field.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")) //nolint:errcheck // Empty type falls through to JSON
	if mediaType != "multipart/form-data" {
		s.callService(w, r, service.ServiceImport)
		return
	}

	if err := r.ParseMultipartForm(s.maxBody); err != nil {
		writeBodyError(w, err)
		return
	}
	file, _, err := r.FormFile(uploadField)
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("missing %q upload", uploadField))
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	req := service.ImportRequest{ImportJSON: string(raw)}
	if req.Notify, err = formBool(r, "notify"); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.DryRun, err = formBool(r, "dry_run"); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	res, err := s.service.Import(r.Context(), req, service.SourceAPI)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// callService decodes the request body as call data and dispatches it.
func (s *Server) callService(w http.ResponseWriter, r *http.Request, name string) {
	data, err := readCallData(r)
	if err != nil {
		writeBodyError(w, err)
		return
	}

	res, err := s.service.Call(r.Context(), name, data, service.SourceAPI)
	if err != nil {
		s.logger.Debug("service call failed", "service", name, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// readCallData decodes a JSON object body. An empty body is an empty
// call.
func readCallData(r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return data, nil
}

// writeBodyError reports an unreadable or oversized request body.
func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	writeBadRequest(w, err.Error())
}

// formBool parses an optional boolean form field.
func formBool(r *http.Request, key string) (bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q", key, v)
	}
	return b, nil
}
