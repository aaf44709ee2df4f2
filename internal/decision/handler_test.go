package decision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage/internal/logger"
	"triage/internal/rules"
)

type handlerRulesRepo struct {
	configs []rules.RuleConfig
}

func (r *handlerRulesRepo) GetActiveRuleConfigs(ctx context.Context) ([]rules.RuleConfig, error) {
	return r.configs, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *pipeline) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p := newPipeline(t)
	handler := NewHandler(p.service, &handlerRulesRepo{}, logger.NopLogger())

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, p
}

func TestHandler_DecideNotification(t *testing.T) {
	router, _ := newTestRouter(t)

	body := `{
		"user_id": "user-1",
		"event_type": "security",
		"title": "Login from new device",
		"channel": "push",
		"timestamp": "2025-06-01T12:00:00Z"
	}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/decide", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "NOW", response["classification"])
	assert.Equal(t, "No rule matched - default to immediate delivery.", response["explanation"])
	assert.NotEmpty(t, response["event_id"], "a missing event id is generated")
}

func TestHandler_DecideNotification_ValidationError(t *testing.T) {
	router, p := newTestRouter(t)

	body := `{
		"event_type": "security",
		"title": "Login from new device",
		"channel": "push",
		"timestamp": "2025-06-01T12:00:00Z"
	}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/decide", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "user_id", response["field"])
	assert.Empty(t, p.audit.records)
}

func TestHandler_DecideNotification_MissingTimestampRejected(t *testing.T) {
	router, p := newTestRouter(t)

	// Only the id is defaulted; the caller must supply the timestamp.
	body := `{
		"user_id": "user-1",
		"event_type": "security",
		"title": "Login from new device",
		"channel": "push"
	}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/decide", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "timestamp", response["field"])
	assert.Empty(t, p.audit.records)
}

func TestHandler_DecideNotification_MalformedBody(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/notifications/decide", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_RecentDecisions(t *testing.T) {
	router, p := newTestRouter(t)

	for i := 0; i < 3; i++ {
		_, err := p.service.Decide(context.Background(), decisionEvent())
		require.NoError(t, err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions/recent?limit=2", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var records []Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	assert.Len(t, records, 2)
}

func TestHandler_RecentDecisions_BadLimit(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions/recent?limit=abc", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ListRules_EmptyIsArray(t *testing.T) {
	router, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}
