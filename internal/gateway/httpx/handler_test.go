package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackvest/strategy-sagas/internal/audit"
	"github.com/stackvest/strategy-sagas/internal/clients/fake"
	"github.com/stackvest/strategy-sagas/internal/comms"
	"github.com/stackvest/strategy-sagas/internal/coordinator"
	"github.com/stackvest/strategy-sagas/internal/events"
)

func newTestServer(t *testing.T) (http.Handler, *comms.Communicator) {
	t.Helper()
	comm := comms.New(audit.NewLog(200), events.NewBus(100), comms.Config{
		DefaultTimeout: time.Second,
		DefaultRetries: 1,
	})
	set, _, _, _, _, _ := fake.NewSet()
	comm.RegisterClients(set)
	coord := coordinator.New(comm, 0)
	return NewRouter(NewHandler(coord, comm)), comm
}

func TestExecutePlanAccepted(t *testing.T) {
	srv, comm := newTestServer(t)

	body := `{"plan_id":"p1","user_id":"u1","strategy":"dca_weekly","amount_sats":100000}`
	req := httptest.NewRequest(http.MethodPost, "/plans/execute", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var res FlowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "p1", res.PlanID)
	assert.Equal(t, string(comms.FlowInProgress), res.Status)

	// The body is the registry's snapshot: the flow already exists and
	// its start time is real and RFC3339Nano-formatted.
	_, err := comm.Flow("p1")
	require.NoError(t, err)
	require.NotEmpty(t, res.StartedAt)
	_, err = time.Parse(time.RFC3339Nano, res.StartedAt)
	require.NoError(t, err)

	// The saga runs detached; wait for the flow to reach a terminal state.
	require.Eventually(t, func() bool {
		flow, err := comm.Flow("p1")
		return err == nil && flow.Status == comms.FlowCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecutePlanRejectsMissingFields(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/plans/execute", strings.NewReader(`{"plan_id":"p1"}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecutePlanRejectsMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/plans/execute", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFlowNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/flows/missing", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var res ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "not_found", res.Error)
}

func TestGetFlowReturnsRegisteredFlow(t *testing.T) {
	srv, comm := newTestServer(t)
	comm.StartExecutionFlow("p9", "u9")

	req := httptest.NewRequest(http.MethodGet, "/flows/p9", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var res FlowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "p9", res.PlanID)
	assert.Equal(t, comms.StepValidate, res.CurrentStep)
	assert.Empty(t, res.StepsCompleted)
}

func TestGetAuditTrailHonorsLimit(t *testing.T) {
	srv, comm := newTestServer(t)
	for i := 0; i < 5; i++ {
		comm.PublishEvent(context.Background(),
			events.Event{Type: events.TypeExecutionStarted, UserID: "u"}, "test")
	}

	req := httptest.NewRequest(http.MethodGet, "/audit?limit=2", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var res AuditTrailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Entries, 2)
}

func TestGetHealth(t *testing.T) {
	srv, comm := newTestServer(t)
	comm.StartExecutionFlow("p1", "u1")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var res coordinator.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.ActiveFlows)
}
