package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factorial-io/scotty-sub002/internal/appstate"
	"github.com/factorial-io/scotty-sub002/internal/blueprint"
	"github.com/factorial-io/scotty-sub002/internal/composedir"
	"github.com/factorial-io/scotty-sub002/internal/engine"
	"github.com/factorial-io/scotty-sub002/internal/identity"
	"github.com/factorial-io/scotty-sub002/internal/logging"
	"github.com/factorial-io/scotty-sub002/internal/model"
	"github.com/factorial-io/scotty-sub002/internal/taskmanager"
)

const operatorToken = "operator-token"

func testServer(t *testing.T) (*Server, *appstate.Registry) {
	t.Helper()

	policy := identity.NewPolicy(
		[]model.Assignment{{Subject: identity.ServiceAccountID("operator"), Role: "operator", Scopes: []string{model.AnyScope}}},
		[]model.Role{{Name: "operator", Permissions: map[model.Permission]bool{
			model.PermViewApp:    true,
			model.PermCreateApp:  true,
			model.PermRunApp:     true,
			model.PermStopApp:    true,
			model.PermRebuildApp: true,
			model.PermDestroyApp: true,
			model.PermRunAction:  true,
		}}},
	)
	resolver := identity.NewResolver(identity.NewBearerTable(map[string]string{operatorToken: "operator"}), nil, identity.NewStore(policy))

	registry := appstate.NewRegistry()
	fake := engine.NewFake()
	tasks := taskmanager.New(logging.New("test", "error", "text"), time.Minute)
	layout := composedir.Layout{Root: t.TempDir()}
	blueprints := blueprint.NewStore()
	machine := appstate.NewMachine(registry, fake, tasks, layout, blueprints, logging.New("test", "error", "text"), appstate.ReadinessConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Timeout:         200 * time.Millisecond,
	})

	s := NewServer(resolver, machine, registry, tasks, logging.New("test", "error", "text"), nil, "0.1.0-test", "bearer", nil, nil)
	return s, registry
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+operatorToken)
	return req
}

func TestInfo_UnauthenticatedAndReturnsVersion(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "0.1.0-test", body["version"])
}

func TestProtectedRoute_MissingBearerIsUnauthenticated(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/apps", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoute_UnrecognizedBearerIsUnauthenticated(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/apps", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateApp_ReturnsAcceptedWithTaskID(t *testing.T) {
	s, _ := testServer(t)
	body := `{"name":"demo","compose":"services:\n  web:\n    image: nginx\n","settings":{"scope":"acme"}}`
	req := authed(httptest.NewRequest(http.MethodPost, "/apps", strings.NewReader(body)))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp taskAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
}

func TestCreateApp_MalformedBodyIsValidationError(t *testing.T) {
	s, _ := testServer(t)
	req := authed(httptest.NewRequest(http.MethodPost, "/apps", strings.NewReader("not json")))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetApp_UnknownAppIsNotFound(t *testing.T) {
	s, _ := testServer(t)
	req := authed(httptest.NewRequest(http.MethodGet, "/apps/ghost", nil))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRun_OnRunningAppIsConflict(t *testing.T) {
	s, registry := testServer(t)
	registry.Hydrate(model.App{Name: "demo", Status: model.StatusRunning, Settings: model.AppSettings{Scope: "acme"}})

	req := authed(httptest.NewRequest(http.MethodPost, "/apps/demo/run", nil))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStop_OnStoppedAppIsAcceptedNoop(t *testing.T) {
	s, registry := testServer(t)
	registry.Hydrate(model.App{Name: "demo", Status: model.StatusStopped, Settings: model.AppSettings{Scope: "acme"}})

	req := authed(httptest.NewRequest(http.MethodPost, "/apps/demo/stop", nil))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestListTasks_FiltersByAppAndState(t *testing.T) {
	s, _ := testServer(t)
	req := authed(httptest.NewRequest(http.MethodGet, "/tasks?app=demo&state=Running", nil))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var tasks []taskmanager.TaskView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Empty(t, tasks)
}

func TestGetTask_UnknownIDIsNotFound(t *testing.T) {
	s, _ := testServer(t)
	req := authed(httptest.NewRequest(http.MethodGet, "/tasks/ghost", nil))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoveryMiddleware_PanicBecomesInternalError(t *testing.T) {
	s, _ := testServer(t)

	// Exercise the recovery middleware directly against a handler that
	// panics, since none of the real handlers do.
	panicking := s.recoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	rec := httptest.NewRecorder()
	panicking.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
