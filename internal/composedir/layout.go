// Package composedir manages the on-disk app bundle layout described in
// spec.md §6: <root>/<app>/docker-compose.yml, .scotty.yml, and the
// .scottyignore filtering applied to app upload bundles. This package is
// the "ground truth" side of spec.md §3: AppSettings on disk is
// authoritative except while a state-machine worker holds the in-memory
// copy during a transition.
package composedir

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/factorial-io/scotty-sub002/internal/model"
)

const (
	composeFileName  = "docker-compose.yml"
	settingsFileName = ".scotty.yml"
)

// Layout resolves paths under a single apps root directory.
type Layout struct {
	Root string
}

func (l Layout) AppDir(name string) string {
	return filepath.Join(l.Root, name)
}

func (l Layout) ComposeFile(name string) string {
	return filepath.Join(l.AppDir(name), composeFileName)
}

func (l Layout) SettingsFile(name string) string {
	return filepath.Join(l.AppDir(name), settingsFileName)
}

// Exists reports whether an app directory is present (spec.md §3: "root
// path exists iff status ≠ Destroyed").
func (l Layout) Exists(name string) bool {
	_, err := os.Stat(l.AppDir(name))
	return err == nil
}

// Write creates the app directory and persists the compose file plus
// settings. It is used by the create transition.
func (l Layout) Write(name string, composeYAML []byte, settings model.AppSettings) error {
	dir := l.AppDir(name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create app dir: %w", err)
	}
	if err := os.WriteFile(l.ComposeFile(name), composeYAML, 0o640); err != nil {
		return fmt.Errorf("write compose file: %w", err)
	}
	return l.WriteSettings(name, settings)
}

// WriteSettings persists only .scotty.yml, leaving the compose file as-is.
func (l Layout) WriteSettings(name string, settings model.AppSettings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(l.SettingsFile(name), data, 0o640); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

// ReadSettings loads .scotty.yml for name.
func (l Layout) ReadSettings(name string) (model.AppSettings, error) {
	data, err := os.ReadFile(l.SettingsFile(name))
	if err != nil {
		return model.AppSettings{}, fmt.Errorf("read settings file: %w", err)
	}
	var settings model.AppSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return model.AppSettings{}, fmt.Errorf("parse settings file: %w", err)
	}
	return settings, nil
}

// ReadCompose loads the raw compose file bytes for name.
func (l Layout) ReadCompose(name string) ([]byte, error) {
	return os.ReadFile(l.ComposeFile(name))
}

// Remove deletes the app directory entirely. Spec.md §8: "create then
// destroy leaves no files under <root>/<app>/."
func (l Layout) Remove(name string) error {
	return os.RemoveAll(l.AppDir(name))
}

// ListAppNames enumerates app directories under the root, used at startup
// to reconstruct the registry from disk.
func (l Layout) ListAppNames() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !model.ValidAppName(e.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(l.Root, e.Name(), composeFileName)); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
