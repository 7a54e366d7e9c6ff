// Package engine abstracts the container runtime behind the capability set
// spec.md §4.2 names: inspect, compose up/down/build, exec, logs-follow and
// attach. The client is reentrant and safe under concurrent use by
// distinct tasks; serializing concurrent mutations against the same
// compose directory is the Task Manager's job, not this package's.
package engine

import (
	"context"
	"io"
)

// ContainerStatus is a coarse health signal used by readiness polling and
// the scheduler's health probe.
type ContainerStatus struct {
	ID      string
	Name    string
	Running bool
	Healthy bool
	ExitCode int
}

// ExecOptions parametrizes an exec call.
type ExecOptions struct {
	Argv  []string
	Env   []string
	TTY   bool
	Rows  uint16
	Cols  uint16
	Stdin io.Reader
}

// ExecResult streams an exec session's output and resolves to an exit code.
type ExecResult struct {
	Stdout io.ReadCloser
	Stderr io.ReadCloser
	// Wait blocks until the process exits and returns its exit code.
	Wait func(ctx context.Context) (int, error)
	// Resize applies a new TTY size to a running exec session; a no-op for
	// non-TTY sessions.
	Resize func(rows, cols uint16) error
	// Close releases resources associated with the exec session.
	Close func() error
}

// Attachment is a raw duplex byte stream to a running container's primary
// process (used for interactive shells opened against an existing
// entrypoint rather than a fresh exec).
type Attachment struct {
	Reader io.Reader
	Writer io.Writer
	Close  func() error
}

// RegistryAuth carries private-registry pull credentials, threaded through
// from model.RegistryAuth without ever being logged.
type RegistryAuth struct {
	Server   string
	Username string
	Password string
}

// ComposeOptions parametrizes a compose invocation.
type ComposeOptions struct {
	ProjectDir string
	ProjectName string
	Registry   *RegistryAuth
	Env        []string
}

// Client is the capability surface every App State Machine transition
// drives. Implementations must be safe for concurrent use by distinct
// tasks against distinct (or, for read operations, the same) directories.
type Client interface {
	InspectContainer(ctx context.Context, nameOrID string) (ContainerStatus, error)
	ComposeUp(ctx context.Context, opts ComposeOptions) (<-chan string, error)
	ComposeDown(ctx context.Context, opts ComposeOptions) (<-chan string, error)
	ComposeBuild(ctx context.Context, opts ComposeOptions) (<-chan string, error)
	Exec(ctx context.Context, container string, opts ExecOptions) (*ExecResult, error)
	LogsFollow(ctx context.Context, container string, since string) (io.ReadCloser, error)
	Attach(ctx context.Context, container string) (*Attachment, error)
}
