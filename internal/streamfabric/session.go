package streamfabric

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/appstate"
	"github.com/factorial-io/scotty-sub002/internal/config"
	"github.com/factorial-io/scotty-sub002/internal/engine"
	"github.com/factorial-io/scotty-sub002/internal/identity"
	"github.com/factorial-io/scotty-sub002/internal/logging"
	"github.com/factorial-io/scotty-sub002/internal/model"
	"github.com/factorial-io/scotty-sub002/internal/taskmanager"
)

// Session is one authenticated client's duplex channel (spec.md §4.6): it
// owns every subscription, log tail and shell opened through it, and tears
// them all down when the underlying connection closes.
type Session struct {
	conn      *websocket.Conn
	principal model.Principal
	resolver  *identity.Resolver
	registry  *appstate.Registry
	tasks     *taskmanager.Manager
	eng       engine.Client
	log       *logging.Logger
	cfg       config.StreamingConfig

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]context.CancelFunc // task_id -> cancel
	logs   map[string]context.CancelFunc // stream_id -> cancel
	shells map[string]*shellSession

	lastActivity atomic.Int64
}

type shellSession struct {
	id      string
	cancel  context.CancelFunc
	stdinW  io.WriteCloser
	resize  func(rows, cols uint16) error
	limiter *rate.Limiter
}

func newSession(ctx context.Context, conn *websocket.Conn, principal model.Principal, resolver *identity.Resolver, registry *appstate.Registry, tasks *taskmanager.Manager, eng engine.Client, log *logging.Logger, cfg config.StreamingConfig) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		conn:      conn,
		principal: principal,
		resolver:  resolver,
		registry:  registry,
		tasks:     tasks,
		eng:       eng,
		log:       log,
		cfg:       cfg,
		ctx:       sctx,
		cancel:    cancel,
		subs:      make(map[string]context.CancelFunc),
		logs:      make(map[string]context.CancelFunc),
		shells:    make(map[string]*shellSession),
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// Run drives the session until the connection closes, the idle timeout
// elapses, or the absolute lifetime is reached (spec.md §4.6).
func (s *Session) Run() {
	defer s.closeAll()

	go s.watchLifetime()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.lastActivity.Store(time.Now().UnixNano())

		switch msgType {
		case websocket.TextMessage:
			s.handleText(data)
		case websocket.BinaryMessage:
			s.handleBinary(data)
		}
	}
}

func (s *Session) watchLifetime() {
	idle := s.cfg.IdleTimeout
	if idle <= 0 {
		idle = 15 * time.Minute
	}
	maxLife := s.cfg.MaxLifetime
	if maxLife <= 0 {
		maxLife = 12 * time.Hour
	}
	deadline := time.Now().Add(maxLife)
	ticker := time.NewTicker(idle / 4)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				s.log.WithContext(s.ctx).Info("session reached max lifetime")
				_ = s.conn.Close()
				return
			}
			last := time.Unix(0, s.lastActivity.Load())
			if now.Sub(last) > idle {
				s.log.WithContext(s.ctx).Info("session idle timeout")
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *Session) handleText(data []byte) {
	var req inbound
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendError("", apierr.Validation, "malformed envelope")
		return
	}

	switch req.Type {
	case inSubscribe:
		s.handleSubscribe(req)
	case inUnsubscribe:
		s.handleUnsubscribe(req)
	case inOpenLog:
		s.handleOpenLog(req)
	case inCloseLog:
		s.handleCloseLog(req)
	case inOpenShell:
		s.handleOpenShell(req)
	case inShellResize:
		s.handleShellResize(req)
	case inCloseShell:
		s.handleCloseShell(req)
	default:
		s.sendError(req.Correlation, apierr.Validation, fmt.Sprintf("unknown envelope type %q", req.Type))
	}
}

func (s *Session) handleBinary(data []byte) {
	t, sessionID, payload, err := decodeShellFrame(data)
	if err != nil || t != frameShellInput {
		return
	}
	s.mu.Lock()
	sh, ok := s.shells[sessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	_, _ = sh.stdinW.Write(payload)
}

// authorizeApp re-checks the principal against perm for app's scope,
// reading the app's scope fresh from the registry every call (spec.md
// §4.6: "the subscriber loop enforces (re-)authorization per request").
func (s *Session) authorizeApp(correlation, appName string, perm model.Permission) bool {
	app, ok := s.registry.Get(appName)
	scope := model.AnyScope
	if ok {
		scope = app.Settings.Scope
	}
	if err := s.resolver.Authorize(s.principal, perm, scope); err != nil {
		s.sendError(correlation, apierr.Forbidden, "not authorized")
		return false
	}
	return true
}

func (s *Session) handleSubscribe(req inbound) {
	task, err := s.tasks.Get(req.TaskID)
	if err != nil {
		s.sendError(req.Correlation, apierr.NotFound, "task not found")
		return
	}
	if task.AppName != "" && !s.authorizeApp(req.Correlation, task.AppName, model.PermViewApp) {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	if old, exists := s.subs[req.TaskID]; exists {
		old()
	}
	s.subs[req.TaskID] = cancel
	s.mu.Unlock()

	lines, err := s.tasks.SubscribeOutput(ctx, req.TaskID, req.FromSeq)
	if err != nil {
		cancel()
		s.sendError(req.Correlation, apierr.NotFound, "task not found")
		return
	}

	s.sendJSON(outbound{Type: outOpened, Correlation: req.Correlation, TaskID: req.TaskID})

	go func() {
		for line := range lines {
			l := line
			s.sendJSON(outbound{Type: outTaskOutput, TaskID: req.TaskID, Line: &l})
		}
		if final, err := s.tasks.Get(req.TaskID); err == nil {
			s.sendJSON(outbound{Type: outTaskState, TaskID: req.TaskID, State: final.State})
		}
	}()
}

func (s *Session) handleUnsubscribe(req inbound) {
	s.mu.Lock()
	cancel, ok := s.subs[req.TaskID]
	delete(s.subs, req.TaskID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Session) handleOpenLog(req inbound) {
	if !s.authorizeApp(req.Correlation, req.App, model.PermViewLogs) {
		return
	}
	container := containerName(req.App, req.Service)
	streamID := fmt.Sprintf("%s/%s", req.App, req.Service)

	ctx, cancel := context.WithCancel(s.ctx)
	reader, err := s.eng.LogsFollow(ctx, container, "")
	if err != nil {
		cancel()
		s.sendError(req.Correlation, apierr.EngineUnavailable, "log stream unavailable")
		return
	}

	s.mu.Lock()
	if old, exists := s.logs[streamID]; exists {
		old()
	}
	s.logs[streamID] = cancel
	s.mu.Unlock()

	s.sendJSON(outbound{Type: outOpened, Correlation: req.Correlation, StreamID: streamID})

	go func() {
		defer reader.Close()
		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			s.sendJSON(outbound{Type: outLogLine, StreamID: streamID, Text: scanner.Text()})
		}
	}()
}

func (s *Session) handleCloseLog(req inbound) {
	s.mu.Lock()
	cancel, ok := s.logs[req.StreamID]
	delete(s.logs, req.StreamID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Session) handleOpenShell(req inbound) {
	if !s.authorizeApp(req.Correlation, req.App, model.PermOpenShell) {
		return
	}
	container := containerName(req.App, req.Service)

	stdinR, stdinW := io.Pipe()
	ctx, cancel := context.WithCancel(s.ctx)
	res, err := s.eng.Exec(ctx, container, engine.ExecOptions{
		Argv:  []string{"/bin/sh"},
		TTY:   req.TTY,
		Rows:  req.Rows,
		Cols:  req.Cols,
		Stdin: stdinR,
	})
	if err != nil {
		cancel()
		s.sendError(req.Correlation, apierr.EngineUnavailable, "shell unavailable")
		return
	}

	rps := s.cfg.ShellOutputRPS
	if rps <= 0 {
		rps = 256
	}
	burst := s.cfg.ShellOutputBurst
	if burst <= 0 {
		burst = 1024
	}

	sessionID := fmt.Sprintf("%s-%d", req.App, time.Now().UnixNano())
	sh := &shellSession{
		id:      sessionID,
		cancel:  cancel,
		stdinW:  stdinW,
		resize:  res.Resize,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}

	s.mu.Lock()
	s.shells[sessionID] = sh
	s.mu.Unlock()

	s.sendJSON(outbound{Type: outOpened, Correlation: req.Correlation, SessionID: sessionID})

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() { defer pumps.Done(); s.pumpShellOutput(sh, res.Stdout) }()
	go func() { defer pumps.Done(); s.pumpShellOutput(sh, res.Stderr) }()
	go func() {
		code, _ := res.Wait(ctx)
		if ctx.Err() == nil {
			pumps.Wait()
		}
		s.removeShell(sessionID)
		_ = res.Close()
		reason := "Closed"
		if ctx.Err() != nil {
			reason = "Timeout"
		} else if code != 0 {
			reason = fmt.Sprintf("ExitCode:%d", code)
		}
		s.sendJSON(outbound{Type: outShellClosed, SessionID: sessionID, Reason: reason})
	}()
}

// pumpShellOutput streams r to the client as rate-limited binary frames;
// the fabric never interprets the bytes it forwards (spec.md §4.6).
func (s *Session) pumpShellOutput(sh *shellSession, r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_ = sh.limiter.WaitN(s.ctx, 1)
			s.sendBinary(encodeShellFrame(frameShellOutput, sh.id, buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) handleShellResize(req inbound) {
	s.mu.Lock()
	sh, ok := s.shells[req.SessionID]
	s.mu.Unlock()
	if !ok || sh.resize == nil {
		return
	}
	_ = sh.resize(req.Rows, req.Cols)
}

func (s *Session) handleCloseShell(req inbound) {
	s.removeShell(req.SessionID)
}

func (s *Session) removeShell(id string) {
	s.mu.Lock()
	sh, ok := s.shells[id]
	delete(s.shells, id)
	s.mu.Unlock()
	if ok {
		sh.cancel()
		_ = sh.stdinW.Close()
	}
}

func (s *Session) sendJSON(env outbound) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteJSON(env)
}

func (s *Session) sendBinary(frame []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *Session) sendError(correlation string, kind apierr.Kind, msg string) {
	s.sendJSON(outbound{Type: outError, Correlation: correlation, Kind: string(kind), Message: msg})
}

// closeAll cancels every subscription, log tail and shell opened through
// this session, per spec.md §4.6: "closing the channel cancels all
// subscriptions and sessions opened through it".
func (s *Session) closeAll() {
	s.cancel()

	s.mu.Lock()
	subs := s.subs
	logs := s.logs
	shells := s.shells
	s.subs = nil
	s.logs = nil
	s.shells = nil
	s.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	for _, cancel := range logs {
		cancel()
	}
	for _, sh := range shells {
		sh.cancel()
		_ = sh.stdinW.Close()
	}

	_ = s.conn.Close()
}

func containerName(app, service string) string {
	return fmt.Sprintf("%s-%s-1", app, service)
}
