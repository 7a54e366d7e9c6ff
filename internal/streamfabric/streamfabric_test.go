package streamfabric

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/appstate"
	"github.com/factorial-io/scotty-sub002/internal/config"
	"github.com/factorial-io/scotty-sub002/internal/engine"
	"github.com/factorial-io/scotty-sub002/internal/identity"
	"github.com/factorial-io/scotty-sub002/internal/logging"
	"github.com/factorial-io/scotty-sub002/internal/model"
	"github.com/factorial-io/scotty-sub002/internal/taskmanager"
)

const viewerToken = "viewer-token"

func testHub(t *testing.T) (*httptest.Server, *appstate.Registry, *taskmanager.Manager, *engine.Fake) {
	t.Helper()

	policy := identity.NewPolicy(
		[]model.Assignment{{Subject: identity.ServiceAccountID("viewer"), Role: "viewer", Scopes: []string{"acme"}}},
		[]model.Role{{Name: "viewer", Permissions: map[model.Permission]bool{
			model.PermViewApp:   true,
			model.PermViewLogs:  true,
			model.PermOpenShell: true,
		}}},
	)
	resolver := identity.NewResolver(identity.NewBearerTable(map[string]string{viewerToken: "viewer"}), nil, identity.NewStore(policy))

	registry := appstate.NewRegistry()
	fake := engine.NewFake()
	tasks := taskmanager.New(logging.New("test", "error", "text"), time.Minute)

	srv := NewServer(resolver, registry, tasks, fake, logging.New("test", "error", "text"), config.StreamingConfig{
		IdleTimeout: time.Minute,
		MaxLifetime: time.Hour,
	})

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, registry, tasks, fake
}

func dial(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func dialWithAuthHeader(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_RejectsConnectionWithoutToken(t *testing.T) {
	ts, _, _, _ := testHub(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestSession_SubscribeStreamsOutputThenState(t *testing.T) {
	ts, registry, tasks, _ := testHub(t)
	registry.Hydrate(model.App{Name: "demo", Settings: model.AppSettings{Scope: "acme"}})

	started := make(chan struct{})
	taskID := tasks.Spawn(context.Background(), model.TaskRun, "demo", "", 0, func(ctx context.Context, h *taskmanager.Handle) error {
		h.Stdout("one")
		h.Stdout("two")
		close(started)
		return nil
	})
	<-started

	conn := dial(t, ts, viewerToken)
	require.NoError(t, conn.WriteJSON(inbound{Type: inSubscribe, Correlation: "c1", TaskID: taskID}))

	var gotOutput, gotState bool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !gotState {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var out outbound
		require.NoError(t, conn.ReadJSON(&out))
		switch out.Type {
		case outTaskOutput:
			gotOutput = true
		case outTaskState:
			gotState = true
			assert.Equal(t, model.TaskFinished, out.State)
		}
	}
	assert.True(t, gotOutput, "expected at least one TaskOutput envelope")
	assert.True(t, gotState, "expected a terminal TaskState envelope")
}

func TestHub_AuthenticatesViaAuthorizationHeader(t *testing.T) {
	ts, _, _, _ := testHub(t)
	conn := dialWithAuthHeader(t, ts, viewerToken)

	require.NoError(t, conn.WriteJSON(inbound{Type: inSubscribe, Correlation: "c1", TaskID: "ghost"}))

	var out outbound
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, outError, out.Type, "a recognized header-authenticated connection should reach the subscribe handler, not get rejected at upgrade")
}

func TestSession_SubscribeToUnknownTaskIsError(t *testing.T) {
	ts, _, _, _ := testHub(t)
	conn := dial(t, ts, viewerToken)

	require.NoError(t, conn.WriteJSON(inbound{Type: inSubscribe, Correlation: "c1", TaskID: "ghost"}))

	var out outbound
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, outError, out.Type)
	assert.Equal(t, "c1", out.Correlation)
}

func TestSession_OpenShellEchoesBinaryFrames(t *testing.T) {
	ts, registry, _, fake := testHub(t)
	registry.Hydrate(model.App{Name: "demo", Settings: model.AppSettings{Scope: "acme"}})
	fake.ExecScripts["demo-web-1:/bin/sh"] = engine.FakeExec{Lines: []string{"hello"}, ExitCode: 0}

	conn := dial(t, ts, viewerToken)
	require.NoError(t, conn.WriteJSON(inbound{Type: inOpenShell, Correlation: "c1", App: "demo", Service: "web"}))

	var opened outbound
	require.NoError(t, conn.ReadJSON(&opened))
	require.Equal(t, outOpened, opened.Type)
	require.NotEmpty(t, opened.SessionID)

	// Drain frames until the shell closes, since the fake's canned exec
	// finishes immediately.
	sawOutput := false
	sawClosed := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !sawClosed {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		msgType, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if msgType == websocket.BinaryMessage {
			_, sessionID, payload, derr := decodeShellFrame(data)
			require.NoError(t, derr)
			assert.Equal(t, opened.SessionID, sessionID)
			if len(payload) > 0 {
				sawOutput = true
			}
			continue
		}
		var out outbound
		require.NoError(t, json.Unmarshal(data, &out))
		if out.Type == outShellClosed {
			sawClosed = true
		}
	}
	assert.True(t, sawOutput, "expected at least one binary output frame")
	assert.True(t, sawClosed, "expected a ShellClosed envelope")
}

func TestSession_OpenLogForUnauthorizedAppScopeIsForbidden(t *testing.T) {
	ts, registry, _, _ := testHub(t)
	registry.Hydrate(model.App{Name: "other", Settings: model.AppSettings{Scope: "not-acme"}})

	conn := dial(t, ts, viewerToken)
	require.NoError(t, conn.WriteJSON(inbound{Type: inOpenLog, Correlation: "c1", App: "other", Service: "web"}))

	var out outbound
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, outError, out.Type)
	assert.Equal(t, string(apierr.Forbidden), out.Kind)
}
