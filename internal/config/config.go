// Package config loads Scotty's layered configuration the way the teacher's
// pkg/config does: defaults, then a YAML file, then environment variables,
// following spec.md §6: "defaults < local < environment variables (prefix
// SCOTTY__, double-underscore as key separator)".
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host               string   `yaml:"host" env:"SCOTTY__SERVER__HOST"`
	Port               int      `yaml:"port" env:"SCOTTY__SERVER__PORT"`
	PublicSuffix       string   `yaml:"public_suffix" env:"SCOTTY__SERVER__PUBLIC_SUFFIX"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

type EngineConfig struct {
	DockerHost string `yaml:"docker_host" env:"SCOTTY__ENGINE__DOCKER_HOST"`
}

type PathsConfig struct {
	AppsRoot    string `yaml:"apps_root" env:"SCOTTY__PATHS__APPS_ROOT"`
	PolicyFile  string `yaml:"policy_file" env:"SCOTTY__PATHS__POLICY_FILE"`
	Blueprints  string `yaml:"blueprints_dir" env:"SCOTTY__PATHS__BLUEPRINTS_DIR"`
}

type SchedulerConfig struct {
	RunningAppCheck time.Duration `yaml:"running_app_check" env:"SCOTTY__SCHEDULER__RUNNING_APP_CHECK"`
	TTLCheck        time.Duration `yaml:"ttl_check" env:"SCOTTY__SCHEDULER__TTL_CHECK"`
	TaskCleanup     time.Duration `yaml:"task_cleanup" env:"SCOTTY__SCHEDULER__TASK_CLEANUP"`
}

type StreamingConfig struct {
	IdleTimeout      time.Duration `yaml:"idle_timeout" env:"SCOTTY__STREAMING__IDLE_TIMEOUT"`
	MaxLifetime      time.Duration `yaml:"max_lifetime" env:"SCOTTY__STREAMING__MAX_LIFETIME"`
	OutputBusWindow  int           `yaml:"output_bus_window" env:"SCOTTY__STREAMING__OUTPUT_BUS_WINDOW"`
	ShellOutputRPS   float64       `yaml:"shell_output_rps" env:"SCOTTY__STREAMING__SHELL_OUTPUT_RPS"`
	ShellOutputBurst int           `yaml:"shell_output_burst" env:"SCOTTY__STREAMING__SHELL_OUTPUT_BURST"`
}

type AuthConfig struct {
	BearerTokens map[string]string `yaml:"bearer_tokens"`
	JWTSecret    string            `yaml:"jwt_secret" env:"SCOTTY__AUTH__JWT_SECRET"`
	SessionTTL   time.Duration     `yaml:"session_ttl" env:"SCOTTY__AUTH__SESSION_TTL"`
	OIDCIssuer   string            `yaml:"oidc_issuer" env:"SCOTTY__AUTH__OIDC_ISSUER"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"SCOTTY__LOGGING__LEVEL"`
	Format string `yaml:"format" env:"SCOTTY__LOGGING__FORMAT"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Paths     PathsConfig     `yaml:"paths"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Streaming StreamingConfig `yaml:"streaming"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080, PublicSuffix: "apps.example.com"},
		Paths: PathsConfig{
			AppsRoot:   "/var/lib/scotty/apps",
			PolicyFile: "config/casbin/policy.yaml",
			Blueprints: "config/blueprints",
		},
		Scheduler: SchedulerConfig{
			RunningAppCheck: 30 * time.Second,
			TTLCheck:        time.Minute,
			TaskCleanup:     10 * time.Minute,
		},
		Streaming: StreamingConfig{
			IdleTimeout:      15 * time.Minute,
			MaxLifetime:      12 * time.Hour,
			OutputBusWindow:  4096,
			ShellOutputRPS:   256,
			ShellOutputBurst: 1024,
		},
		Auth: AuthConfig{SessionTTL: 24 * time.Hour},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads config/default.yaml, layers config/local.yaml over it when
// present, loads .env, then applies SCOTTY__-prefixed environment
// variables, mirroring the teacher's config.Load precedence.
func Load(configDir string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if err := mergeFile(cfg, fmt.Sprintf("%s/default.yaml", configDir)); err != nil {
		return nil, err
	}
	if err := mergeFile(cfg, fmt.Sprintf("%s/local.yaml", configDir)); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields") {
			return nil, fmt.Errorf("decode environment: %w", err)
		}
	}

	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}
