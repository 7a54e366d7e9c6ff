package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
	"github.com/factorial-io/scotty-sub002/internal/model"
	"github.com/factorial-io/scotty-sub002/internal/taskmanager"
)

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version":   s.version,
		"auth_mode": s.authMode,
	})
}

type loginRequest struct {
	Token string `json:"token"`
}

type loginResponse struct {
	Principal model.Principal `json:"principal"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validationf("malformed login request"))
		return
	}
	principal, err := s.resolver.Resolve(req.Token)
	if err != nil {
		writeError(w, apierr.As(err))
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Principal: principal})
}

type createAppRequest struct {
	Name     string            `json:"name"`
	Compose  string            `json:"compose"`
	Settings model.AppSettings `json:"settings"`
}

func (s *Server) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, model.PermCreateApp, model.AnyScope) {
		return
	}
	var req createAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validationf("malformed create request"))
		return
	}
	taskID, err := s.machine.Create(r.Context(), req.Name, []byte(req.Compose), req.Settings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAccepted(w, taskID)
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, model.PermViewApp, model.AnyScope) {
		return
	}
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	app, ok := s.registry.Get(name)
	if !ok {
		writeError(w, apierr.NotFoundf("app %s not found", name))
		return
	}
	if !s.authorize(w, r, model.PermViewApp, app.Settings.Scope) {
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, model.PermRunApp, s.machine.Run)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, model.PermStopApp, s.machine.Stop)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, model.PermRebuildApp, s.machine.Rebuild)
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, model.PermDestroyApp, s.machine.Destroy)
}

// mutate is the common shape of run/stop/rebuild/destroy: resolve the app's
// scope, authorize, delegate to the state machine, return 202+task_id.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, perm model.Permission, transition func(ctx context.Context, name string) (string, *apierr.Error)) {
	name := mux.Vars(r)["name"]
	app, ok := s.registry.Get(name)
	if !ok {
		writeError(w, apierr.NotFoundf("app %s not found", name))
		return
	}
	if !s.authorize(w, r, perm, app.Settings.Scope) {
		return
	}
	taskID, err := transition(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAccepted(w, taskID)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name, action := vars["name"], vars["action"]
	app, ok := s.registry.Get(name)
	if !ok {
		writeError(w, apierr.NotFoundf("app %s not found", name))
		return
	}
	if !s.authorize(w, r, model.PermRunAction, app.Settings.Scope) {
		return
	}
	taskID, err := s.machine.Action(r.Context(), name, action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeAccepted(w, taskID)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r, model.PermViewApp, model.AnyScope) {
		return
	}
	q := r.URL.Query()
	filter := taskmanager.Filter{
		AppName: q.Get("app"),
		State:   model.TaskState(q.Get("state")),
	}
	writeJSON(w, http.StatusOK, s.tasks.List(filter))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.tasks.Get(id)
	if err != nil {
		writeError(w, apierr.As(err))
		return
	}
	if task.AppName != "" {
		app, ok := s.registry.Get(task.AppName)
		if ok && !s.authorize(w, r, model.PermViewApp, app.Settings.Scope) {
			return
		}
	}
	writeJSON(w, http.StatusOK, task)
}
