package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sdlcboard/api/internal/export"
	"sdlcboard/api/internal/search"
	"sdlcboard/api/internal/store"
	"sdlcboard/api/internal/util"
	"sdlcboard/api/internal/workflow"
)

const maxBodyBytes = 10 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger.Named("http")}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch r.URL.Path {
	case "/api/health":
		if !allowMethod(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case "/api/ready":
		if !allowMethod(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		s.handleReady(w, r)

	case "/api/json", "/api/workflow":
		if !allowMethod(w, r, http.MethodGet, http.MethodHead) {
			return
		}
		doc, err := s.service.Current(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)

	case "/api/update", "/api/workflow/merge":
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		s.handleMerge(w, r)

	case "/api/save":
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		s.handleSave(w, r)

	case "/api/history":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		limit := parseLimit(r.URL.Query().Get("limit"), 20)
		history, err := s.service.History(r.Context(), limit)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "history": history})

	case "/api/search":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		query := r.URL.Query()
		text := strings.TrimSpace(query.Get("q"))
		if text == "" {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "Query parameter q is required", nil)
			return
		}
		writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
			Text:  text,
			Phase: strings.TrimSpace(query.Get("phase")),
			Limit: parseLimit(query.Get("limit"), 20),
		}))

	case "/api/export":
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		s.handleExport(w, r)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"store": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["store"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleMerge(w http.ResponseWriter, r *http.Request) {
	incoming, opts, err := decodeBoardBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	result, err := s.service.Merge(r.Context(), incoming, opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	message := "JSON file updated successfully"
	if !result.Changed {
		message = "No phase data to merge"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   message,
		"changed":   result.Changed,
		"timestamp": workflow.FormatTimestamp(result.Timestamp),
		"totals":    result.Totals,
	})
}

func (s *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request) {
	doc, opts, err := decodeBoardBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	result, err := s.service.Replace(r.Context(), doc, opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Data saved successfully",
		"version":   result.Document.Metadata.Version,
		"timestamp": workflow.FormatTimestamp(result.Timestamp),
		"totals":    result.Totals,
	})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
	if err != nil {
		writeError(w, http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Supported formats are html and pdf", nil)
		return
	}

	result, err := s.service.Export(r.Context(), format)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// decodeBoardBody reads a board document. The userEmail, userName and
// baseLastModified fields identify the caller and are not part of the board;
// the X-Board-User and X-Board-User-Name headers are used when they are
// absent.
func decodeBoardBody(r *http.Request) (*workflow.Document, MergeOptions, error) {
	opts := MergeOptions{
		User:     r.Header.Get("X-Board-User"),
		UserName: r.Header.Get("X-Board-User-Name"),
	}
	if r.Body == nil {
		return &workflow.Document{}, opts, nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, opts, fmt.Errorf("read body: %w", err)
	}
	if len(payload) > maxBodyBytes {
		return nil, opts, fmt.Errorf("body exceeds %d bytes", maxBodyBytes)
	}
	if strings.TrimSpace(string(payload)) == "" {
		return &workflow.Document{}, opts, nil
	}

	doc, err := workflow.Decode(payload)
	if err != nil {
		return nil, opts, fmt.Errorf("invalid JSON body")
	}

	if value, ok := takeString(doc, "userEmail"); ok && value != "" {
		opts.User = value
	}
	if value, ok := takeString(doc, "userName"); ok && value != "" {
		opts.UserName = value
	}
	if value, ok := takeString(doc, "baseLastModified"); ok && value != "" {
		parsed, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return nil, opts, fmt.Errorf("baseLastModified must be an RFC 3339 timestamp")
		}
		opts.BaseLastModified = parsed
	}
	return doc, opts, nil
}

// takeString removes key from the document's unknown fields and returns
// its string value.
func takeString(doc *workflow.Document, key string) (string, bool) {
	raw, ok := doc.Extra[key]
	if !ok {
		return "", false
	}
	delete(doc.Extra, key)
	if len(doc.Extra) == 0 {
		doc.Extra = nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, conflict.conflictBody())
		return
	}

	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, method := range methods {
		if r.Method == method {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(append(methods, http.MethodOptions), ", "))
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	return false
}

func parseLimit(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	if parsed > 200 {
		return 200
	}
	return parsed
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDKey{}).(string)
	return requestID
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Board-User, X-Board-User-Name")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var invariantErr *workflow.InvariantError
	if errors.As(err, &invariantErr) {
		return http.StatusUnprocessableEntity, "INVALID_BOARD", "Board document is inconsistent", invariantErr.Violations
	}
	var persistErr *store.PersistenceError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Workflow data not found", nil
	case errors.Is(err, workflow.ErrMissingMetadata):
		return http.StatusUnprocessableEntity, "MISSING_METADATA", "Stored board has no metadata", nil
	case errors.Is(err, ErrHistoryUnsupported):
		return http.StatusNotImplemented, "HISTORY_UNSUPPORTED", "The configured store does not keep history", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Supported formats are html and pdf", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, "PERSISTENCE_FAILED", "Failed to access workflow data", map[string]any{"backend": persistErr.Backend, "op": persistErr.Op}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
