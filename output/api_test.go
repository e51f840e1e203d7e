package output

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pevans/plugcrawl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: create a router over fresh stores
func setupTestRouter(t *testing.T) (chi.Router, *RunStore, *FileStore) {
	runs := createTestRunStore(t)
	files, err := NewFileStore(filepath.Join(t.TempDir(), "records"))
	require.NoError(t, err)
	return NewAPIServer(runs, files, nil).SetupRouter(), runs, files
}

func doRequest(t *testing.T, router http.Handler, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// TestAPI_Runs verifies runs and their records are listed and fetched
func TestAPI_Runs(t *testing.T) {
	router, runs, _ := setupTestRouter(t)

	w := doRequest(t, router, http.MethodGet, "/api/v1/runs", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[ListRunsResponse](t, w).Total)

	run, err := runs.CreateRun([]string{"products"})
	require.NoError(t, err)
	_, err = runs.AddRecord(run.RunID, plugcrawl.Record{"url": "http://a.example", "title": "A"})
	require.NoError(t, err)
	_, err = runs.FinishRun(run.RunID)
	require.NoError(t, err)

	w = doRequest(t, router, http.MethodGet, "/api/v1/runs?limit=5", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListRunsResponse](t, w)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, run.RunID, list.Runs[0].RunID)
	assert.Equal(t, 1, list.Runs[0].Records)

	w = doRequest(t, router, http.MethodGet, "/api/v1/runs/"+run.RunID.String(), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[Run](t, w).IsFinished())

	w = doRequest(t, router, http.MethodGet, "/api/v1/runs/"+run.RunID.String()+"/records", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	recs := decode[ListRunRecordsResponse](t, w)
	require.Equal(t, 1, recs.Total)
	assert.Equal(t, "A", recs.Records[0].Payload["title"])
}

func TestAPI_RunErrors(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	tests := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"invalid id", "/api/v1/runs/not-a-uuid", http.StatusBadRequest, "bad_request"},
		{"unknown run", "/api/v1/runs/" + uuid.NewString(), http.StatusNotFound, "not_found"},
		{"unknown run records", "/api/v1/runs/" + uuid.NewString() + "/records", http.StatusNotFound, "not_found"},
		{"bad limit", "/api/v1/runs?limit=-1", http.StatusBadRequest, "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, http.MethodGet, tt.path, "", "")
			assert.Equal(t, tt.status, w.Code)
			body := decode[map[string]map[string]string](t, w)
			assert.Equal(t, tt.code, body["error"]["code"])
		})
	}
}

func TestAPI_Records(t *testing.T) {
	router, _, files := setupTestRouter(t)

	_, err := files.Add(plugcrawl.Record{"url": "http://a.example"})
	require.NoError(t, err)

	w := doRequest(t, router, http.MethodGet, "/api/v1/records", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ListRecordsResponse](t, w)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "http://a.example", resp.Records[0].URL)
}

// TestAPI_NoStores verifies routes of a missing store answer 404
func TestAPI_NoStores(t *testing.T) {
	router := NewAPIServer(nil, nil, nil).SetupRouter()

	for _, path := range []string{"/api/v1/runs", "/api/v1/runs/" + uuid.NewString(), "/api/v1/records"} {
		w := doRequest(t, router, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestAPI_ValidateScenario(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	yamlDoc := `name: products
root:
  fields:
    - name: title
      selector: {css: h1, attribute: text}
locators:
  - name: offers
    selector: {css: div.offer, attribute: text}
    fields:
      - name: price
        selector: {css: .price, attribute: text}
        options: {type: int}
`
	w := doRequest(t, router, http.MethodPost, "/api/v1/scenarios/validate", "application/yaml", yamlDoc)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[ValidateResponse](t, w)
	assert.Equal(t, "products", resp.Name)
	assert.Equal(t, 1, resp.Root)
	assert.Equal(t, map[string]int{"offers": 1}, resp.Locators)
	assert.False(t, resp.Paginate)

	w = doRequest(t, router, http.MethodPost, "/api/v1/scenarios/validate", "application/json",
		`{"root": {"fields": [{"name": "x", "selector": {"css": "h1", "attribute": "text"}, "options": {"type": "money"}}]}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[map[string]map[string]string](t, w)
	assert.Equal(t, "validation_error", body["error"]["code"])
	assert.Contains(t, body["error"]["message"], "money")
}

func TestAPI_CORS(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doRequest(t, router, http.MethodOptions, "/api/v1/runs", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
