// Package model holds the core data types shared across Scotty's
// subsystems: apps, tasks, output lines, principals and policy records.
package model

import (
	"regexp"
	"time"

	"github.com/factorial-io/scotty-sub002/internal/secret"
)

// AppStatus is the app lifecycle state (spec.md §4.4).
type AppStatus string

const (
	StatusStopped     AppStatus = "Stopped"
	StatusStarting    AppStatus = "Starting"
	StatusRunning     AppStatus = "Running"
	StatusStopping    AppStatus = "Stopping"
	StatusFailed      AppStatus = "Failed"
	StatusUnsupported AppStatus = "Unsupported"
	StatusCreating    AppStatus = "Creating"
	StatusDestroying  AppStatus = "Destroying"
	StatusDestroyed   AppStatus = "Destroyed"
)

// nameRE enforces: slug, <=63 chars, [a-z0-9-], max two consecutive '-'.
var nameRE = regexp.MustCompile(`^[a-z0-9]([a-z0-9]|-{1,2}(?:[a-z0-9]))*$`)

// ValidAppName reports whether name satisfies spec.md §3's naming rule.
func ValidAppName(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}
	return nameRE.MatchString(name)
}

// TimeToLive is either Forever or a bounded duration expressed as hours/days.
type TimeToLive struct {
	Forever bool
	Hours   int
	Days    int
}

func (t TimeToLive) Duration() (time.Duration, bool) {
	if t.Forever {
		return 0, false
	}
	if t.Days > 0 {
		return time.Duration(t.Days) * 24 * time.Hour, true
	}
	if t.Hours > 0 {
		return time.Duration(t.Hours) * time.Hour, true
	}
	return 0, false
}

// PublicService maps a declared compose service to its ingress domains.
type PublicService struct {
	Service string   `json:"service" yaml:"service"`
	Port    int      `json:"port" yaml:"port"`
	Domains []string `json:"domains" yaml:"domains"`
}

// BasicAuth is HTTP basic-auth middleware configuration; credentials are masked.
type BasicAuth struct {
	Username string        `json:"username" yaml:"username"`
	Password secret.Masked `json:"password" yaml:"password"`
}

// RegistryAuth carries private-registry pull credentials for compose_up/build.
type RegistryAuth struct {
	Server   string        `json:"server" yaml:"server"`
	Username string        `json:"username" yaml:"username"`
	Password secret.Masked `json:"password" yaml:"password"`
}

// NotifyTarget is an out-of-band notification sink declared on an app.
type NotifyTarget struct {
	Kind   string `json:"kind" yaml:"kind"`
	Target string `json:"target" yaml:"target"`
}

// AppSettings is the persisted content of <root>/<app>/.scotty.yml.
type AppSettings struct {
	Domain          string                   `json:"domain" yaml:"domain"`
	DomainSuffix    string                   `json:"domain_suffix" yaml:"domain_suffix"`
	PublicServices  []PublicService          `json:"public_services" yaml:"public_services"`
	TimeToLive      TimeToLive               `json:"time_to_live" yaml:"time_to_live"`
	DestroyOnTTL    bool                     `json:"destroy_on_ttl" yaml:"destroy_on_ttl"`
	BasicAuth       *BasicAuth               `json:"basic_auth,omitempty" yaml:"basic_auth,omitempty"`
	DisallowRobots  bool                     `json:"disallow_robots" yaml:"disallow_robots"`
	Middlewares     []string                 `json:"middlewares" yaml:"middlewares"`
	Environment     map[string]secret.Masked `json:"environment" yaml:"environment"`
	AppBlueprint    string                   `json:"app_blueprint,omitempty" yaml:"app_blueprint,omitempty"`
	Registry        *RegistryAuth            `json:"registry,omitempty" yaml:"registry,omitempty"`
	Notify          []NotifyTarget           `json:"notify,omitempty" yaml:"notify,omitempty"`
	Scope           string                   `json:"scope" yaml:"scope"`
}

// Service is a declared compose service exposed on the App view.
type Service struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// App is a named compose deployment plus its Scotty metadata.
type App struct {
	Name        string      `json:"name"`
	RootPath    string      `json:"-"`
	Settings    AppSettings `json:"settings"`
	Services    []Service   `json:"services"`
	Status      AppStatus   `json:"status"`
	LastChecked time.Time   `json:"last_checked"`
	StartedAt   time.Time   `json:"started_at,omitempty"`
}

// PublicURL returns the first domain configured for svc, or "" if none.
func (a *App) PublicURL(svc string) string {
	for _, ps := range a.Settings.PublicServices {
		if ps.Service == svc && len(ps.Domains) > 0 {
			return "https://" + ps.Domains[0]
		}
	}
	return ""
}
