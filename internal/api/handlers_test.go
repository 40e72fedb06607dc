package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/omnichannel-engine/internal/journey"
	"github.com/ignite/omnichannel-engine/internal/orchestrator"
	"github.com/ignite/omnichannel-engine/internal/personalize"
	"github.com/ignite/omnichannel-engine/internal/realtime"
)

func newTestServer(t *testing.T) (*Server, *orchestrator.Orchestrator) {
	t.Helper()
	o := orchestrator.New(orchestrator.Options{})
	o.RegisterJourneyTemplate("welcome", []journey.Step{
		{ID: "s1", Name: "welcome email", Type: journey.StepMessage, Channel: "email",
			Content: personalize.Content{Template: "Welcome {{first_name}}!"}},
	})
	return NewServer(o), o
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestCreateJourneyEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/journeys", map[string]any{
		"customer_id": "cust_1",
		"template":    "welcome",
		"profile":     map[string]any{"demographics": map[string]any{"first_name": "Ada"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var j journey.Journey
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &j))
	assert.Equal(t, "cust_1", j.CustomerID)
	assert.Equal(t, journey.StatusActive, j.Status)

	// Duplicate active journey conflicts.
	rec = doJSON(t, srv, http.MethodPost, "/api/journeys", map[string]any{
		"customer_id": "cust_1", "template": "welcome",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateJourneyValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/journeys", map[string]any{"customer_id": "cust_1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/journeys", map[string]any{
		"customer_id": "cust_1", "template": "missing",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJourneyEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	doJSON(t, srv, http.MethodPost, "/api/journeys", map[string]any{
		"customer_id": "cust_1", "template": "welcome",
	})

	rec := doJSON(t, srv, http.MethodGet, "/api/journeys/cust_1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/journeys/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseResumeCancelEndpoints(t *testing.T) {
	srv, o := newTestServer(t)
	doJSON(t, srv, http.MethodPost, "/api/journeys", map[string]any{
		"customer_id": "cust_1", "template": "welcome",
	})
	j, ok := o.GetCustomerJourney("cust_1")
	require.True(t, ok)

	rec := doJSON(t, srv, http.MethodPost, "/api/journeys/"+j.ID+"/pause", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Pausing a paused journey conflicts.
	rec = doJSON(t, srv, http.MethodPost, "/api/journeys/"+j.ID+"/pause", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/journeys/"+j.ID+"/resume", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/journeys/"+j.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/journeys/unknown/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterAndListTemplates(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPut, "/api/templates/promo", map[string]any{
		"steps": []map[string]any{
			{"id": "p1", "name": "promo email", "type": "message", "channel": "email"},
		},
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/templates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Templates []string `json:"templates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Templates, "promo")
	assert.Contains(t, body.Templates, "welcome")

	rec = doJSON(t, srv, http.MethodPut, "/api/templates/empty", map[string]any{"steps": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAttributionEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/attribution", map[string]any{
		"customer_id": "cust_1", "channel": "email",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/attribution", map[string]any{
		"customer_id": "cust_1", "channel": "sms", "conversion_value": 99.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var record struct {
		ChannelWeights map[string]float64 `json:"channel_weights"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	sum := 0.0
	for _, w := range record.ChannelWeights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-9)

	rec = doJSON(t, srv, http.MethodGet, "/api/attribution/cust_1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/attribution/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/attribution", map[string]any{
		"customer_id": "cust_2", "channel": "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPersonalizationEndpoint(t *testing.T) {
	srv, o := newTestServer(t)
	o.Realtime.SetCandidates([]realtime.Experience{
		{ID: "exp_email", Channel: "email", Timing: "queued"},
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/personalization", map[string]any{
		"customer_id": "cust_1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var p realtime.Personalization
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "cust_1", p.CustomerID)
	require.NotNil(t, p.NextBest)

	rec = doJSON(t, srv, http.MethodPost, "/api/personalization", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChannelsAndEngagement(t *testing.T) {
	srv, o := newTestServer(t)

	rec := doJSON(t, srv, http.MethodGet, "/api/channels", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/channels/email/engagement", map[string]any{
		"kind": "open",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	ch, ok := o.Registry.Get("email")
	require.True(t, ok)
	assert.EqualValues(t, 1, ch.Performance.Opens)

	rec = doJSON(t, srv, http.MethodPost, "/api/channels/fax/engagement", map[string]any{
		"kind": "open",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	doJSON(t, srv, http.MethodPost, "/api/journeys", map[string]any{
		"customer_id": "cust_1", "template": "welcome",
	})

	rec := doJSON(t, srv, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var m orchestrator.Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, 1, m.Journeys)
	assert.NotZero(t, m.ActiveChannels)
}
