package output

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pevans/plugcrawl/scenario"
)

// APIServer serves stored runs and records over HTTP. It never writes to the
// stores.
type APIServer struct {
	runs   *RunStore
	files  *FileStore
	logger *slog.Logger
}

// NewAPIServer creates an API server. Either store may be nil, in which case
// its routes answer 404.
func NewAPIServer(runs *RunStore, files *FileStore, logger *slog.Logger) *APIServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIServer{
		runs:   runs,
		files:  files,
		logger: logger,
	}
}

// SetupRouter configures the router with all result API routes.
func (s *APIServer) SetupRouter() chi.Router {
	router := chi.NewRouter()

	// Add CORS middleware
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	router.Route("/api/v1", func(api chi.Router) {
		api.Get("/runs", s.HandleListRuns)
		api.Get("/runs/{id}", s.HandleGetRun)
		api.Get("/runs/{id}/records", s.HandleListRunRecords)
		api.Get("/records", s.HandleListRecords)
		api.Post("/scenarios/validate", s.HandleValidateScenario)
	})

	return router
}

// ListRunsResponse represents the response for GET /api/v1/runs.
type ListRunsResponse struct {
	Runs  []Run `json:"runs"`
	Total int   `json:"total"`
}

// ListRunRecordsResponse represents the response for GET
// /api/v1/runs/{id}/records.
type ListRunRecordsResponse struct {
	Records []StoredRecord `json:"records"`
	Total   int            `json:"total"`
}

// ListRecordsResponse represents the response for GET /api/v1/records.
type ListRecordsResponse struct {
	Records []Entry  `json:"records"`
	Errors  []string `json:"errors,omitempty"`
	Total   int      `json:"total"`
}

// ValidateResponse represents the response for POST
// /api/v1/scenarios/validate.
type ValidateResponse struct {
	Name     string         `json:"name"`
	Root     int            `json:"root_fields"`
	Locators map[string]int `json:"locators"`
	Paginate bool           `json:"paginated"`
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("api: failed to write response", "error", err)
	}
}

// handleError maps domain errors to HTTP responses.
func (s *APIServer) handleError(w http.ResponseWriter, err error) {
	var verr *scenario.ValidationError
	switch {
	case errors.Is(err, ErrRunNotFound):
		s.writeJSON(w, http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.As(err, &verr):
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse("validation_error", err.Error()))
	default:
		s.logger.Error("api: request failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse("internal_error", "Failed to process request"))
	}
}

func (s *APIServer) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if s.runs == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse("not_found", "no run store configured"))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse("bad_request", "Invalid run ID"))
		return uuid.Nil, false
	}
	return id, true
}

// HandleListRuns handles GET /api/v1/runs.
func (s *APIServer) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse("not_found", "no run store configured"))
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse("bad_request", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(limit)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if runs == nil {
		runs = []Run{}
	}

	s.writeJSON(w, http.StatusOK, ListRunsResponse{Runs: runs, Total: len(runs)})
}

// HandleGetRun handles GET /api/v1/runs/{id}.
func (s *APIServer) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	run, err := s.runs.GetRun(id)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// HandleListRunRecords handles GET /api/v1/runs/{id}/records.
func (s *APIServer) HandleListRunRecords(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	records, err := s.runs.ListRecords(id)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if records == nil {
		records = []StoredRecord{}
	}
	s.writeJSON(w, http.StatusOK, ListRunRecordsResponse{Records: records, Total: len(records)})
}

// HandleListRecords handles GET /api/v1/records.
func (s *APIServer) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse("not_found", "no output directory configured"))
		return
	}

	result, err := s.files.List()
	if err != nil {
		s.handleError(w, err)
		return
	}

	resp := ListRecordsResponse{Records: result.Entries, Total: len(result.Entries)}
	if resp.Records == nil {
		resp.Records = []Entry{}
	}
	for _, rerr := range result.Errors {
		resp.Errors = append(resp.Errors, rerr.Error())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// HandleValidateScenario handles POST /api/v1/scenarios/validate. The body is
// a scenario document, parsed as YAML when the content type says so and as
// JSON otherwise.
func (s *APIServer) HandleValidateScenario(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse("bad_request", "Failed to read request body"))
		return
	}

	format := scenario.FormatJSON
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		format = scenario.FormatYAML
	}

	sc, err := scenario.Parse(body, format)
	if err != nil {
		s.handleError(w, err)
		return
	}

	resp := ValidateResponse{
		Name:     sc.Name,
		Root:     len(sc.Root),
		Locators: make(map[string]int, len(sc.Locators)),
		Paginate: sc.Pagination != nil,
	}
	for _, loc := range sc.Locators {
		resp.Locators[loc.Name] = len(loc.Fields)
	}
	s.writeJSON(w, http.StatusOK, resp)
}
