package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Fake is an in-memory Client implementation for tests. Each method's
// behavior is driven by fields the test sets before invoking it; by
// default every call succeeds.
type Fake struct {
	mu sync.Mutex

	ComposeUpLines    []string
	ComposeUpExit     int
	ComposeDownLines  []string
	ComposeDownExit   int
	ComposeBuildLines []string
	ComposeBuildExit  int

	Containers map[string]ContainerStatus

	// ExecScripts maps "container:argv joined by space" to canned output
	// lines and an exit code, letting tests script a post-action.
	ExecScripts map[string]FakeExec

	Calls []string
}

// FakeExec scripts a single Exec invocation's outcome.
type FakeExec struct {
	Lines    []string
	ExitCode int
}

func NewFake() *Fake {
	return &Fake{
		Containers:  make(map[string]ContainerStatus),
		ExecScripts: make(map[string]FakeExec),
	}
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
}

func (f *Fake) InspectContainer(_ context.Context, nameOrID string) (ContainerStatus, error) {
	f.record("inspect:" + nameOrID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Containers[nameOrID]; ok {
		return s, nil
	}
	return ContainerStatus{ID: nameOrID, Name: nameOrID, Running: true, Healthy: true}, nil
}

func fakeStream(lines []string, exit int) <-chan string {
	out := make(chan string, len(lines)+1)
	for _, l := range lines {
		out <- l
	}
	out <- fmt.Sprintf("__EXIT__:%d", exit)
	close(out)
	return out
}

func (f *Fake) ComposeUp(_ context.Context, opts ComposeOptions) (<-chan string, error) {
	f.record("up:" + opts.ProjectName)
	return fakeStream(f.ComposeUpLines, f.ComposeUpExit), nil
}

func (f *Fake) ComposeDown(_ context.Context, opts ComposeOptions) (<-chan string, error) {
	f.record("down:" + opts.ProjectName)
	return fakeStream(f.ComposeDownLines, f.ComposeDownExit), nil
}

func (f *Fake) ComposeBuild(_ context.Context, opts ComposeOptions) (<-chan string, error) {
	f.record("build:" + opts.ProjectName)
	return fakeStream(f.ComposeBuildLines, f.ComposeBuildExit), nil
}

func (f *Fake) Exec(_ context.Context, containerName string, opts ExecOptions) (*ExecResult, error) {
	key := containerName + ":" + strings.Join(opts.Argv, " ")
	f.record("exec:" + key)
	f.mu.Lock()
	script, ok := f.ExecScripts[key]
	f.mu.Unlock()
	if !ok {
		script = FakeExec{ExitCode: 0}
	}

	stdoutR, stdoutW := io.Pipe()
	go func() {
		defer stdoutW.Close()
		for _, l := range script.Lines {
			_, _ = stdoutW.Write([]byte(l + "\n"))
		}
	}()
	stderrR, stderrW := io.Pipe()
	stderrW.Close()

	return &ExecResult{
		Stdout: stdoutR,
		Stderr: stderrR,
		Wait: func(ctx context.Context) (int, error) {
			return script.ExitCode, nil
		},
		Resize: func(rows, cols uint16) error { return nil },
		Close:  func() error { return nil },
	}, nil
}

func (f *Fake) LogsFollow(_ context.Context, containerName string, since string) (io.ReadCloser, error) {
	f.record("logs:" + containerName)
	r, w := io.Pipe()
	w.Close()
	return r, nil
}

func (f *Fake) Attach(_ context.Context, containerName string) (*Attachment, error) {
	f.record("attach:" + containerName)
	r, w := io.Pipe()
	return &Attachment{Reader: r, Writer: w, Close: func() error { return w.Close() }}, nil
}
