package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubReporter struct{}

func (stubReporter) GetStatusReport() map[string]any {
	return map[string]any{
		"lock_manager": map[string]any{"total_resources": 2},
		"workers":      []string{"worker-1"},
	}
}

func TestStatusServer_Handle(t *testing.T) {
	s := &StatusServer{reporter: stubReporter{}}

	rec := httptest.NewRecorder()
	s.Handle(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Contains(t, doc, "lock_manager")
	assert.Contains(t, doc, "workers")
}

func TestHealthzServer_Handle(t *testing.T) {
	h := &HealthzServer{}

	rec := httptest.NewRecorder()
	h.Handle(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}
