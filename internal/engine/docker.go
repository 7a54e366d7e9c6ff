package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"

	"github.com/factorial-io/scotty-sub002/internal/apierr"
)

// DockerClient implements Client against a local Docker Engine: container
// inspection/exec/logs/attach through the moby API client, and
// compose up/down/build by shelling out to the `docker compose` CLI plugin
// (the same split the upstream docker/compose project itself documents:
// the compose engine owns build graphs and service orchestration, callers
// that only need container-level primitives use the moby client directly).
type DockerClient struct {
	api     *dockerclient.Client
	breaker *engineBreaker
}

// NewDockerClient connects using the standard DOCKER_HOST/DOCKER_* env vars.
func NewDockerClient() (*DockerClient, error) {
	api, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apierr.Wrap(apierr.EngineUnavailable, "connect to docker engine", err)
	}
	return &DockerClient{api: api, breaker: newEngineBreaker()}, nil
}

// InspectContainer is polled by every app's readiness wait and by the
// running_app_check job, so a flaky or momentarily overloaded daemon gets a
// bounded retry here instead of failing the caller on the first hiccup; a
// daemon that's actually down trips the breaker so those same callers stop
// paying the retry latency on every tick until it recovers.
func (d *DockerClient) InspectContainer(ctx context.Context, nameOrID string) (ContainerStatus, error) {
	if !d.breaker.allow() {
		return ContainerStatus{}, apierr.Wrap(apierr.EngineUnavailable, "inspect container", errEngineCircuitOpen)
	}

	var status ContainerStatus
	err := withRetry(ctx, inspectRetry, func() error {
		info, err := d.api.ContainerInspect(ctx, nameOrID)
		if err != nil {
			if dockerclient.IsErrNotFound(err) {
				return notRetriable{apierr.NotFoundf("container %s not found", nameOrID)}
			}
			return apierr.Wrap(apierr.EngineUnavailable, "inspect container", err)
		}
		status = ContainerStatus{
			ID:      info.ID,
			Name:    info.Name,
			Running: info.State != nil && info.State.Running,
		}
		if info.State != nil {
			status.ExitCode = info.State.ExitCode
			if info.State.Health != nil {
				status.Healthy = info.State.Health.Status == dockertypes.Healthy
			} else {
				status.Healthy = status.Running
			}
		}
		return nil
	})

	if err != nil {
		d.breaker.recordFailure()
		return ContainerStatus{}, err
	}
	d.breaker.recordSuccess()
	return status, nil
}

func runCompose(ctx context.Context, args []string, opts ComposeOptions) (<-chan string, error) {
	cmdArgs := append([]string{"compose", "-p", opts.ProjectName}, args...)
	cmd := exec.CommandContext(ctx, "docker", cmdArgs...)
	cmd.Dir = opts.ProjectDir
	cmd.Env = opts.Env
	if opts.Registry != nil {
		cmd.Env = append(cmd.Env,
			"SCOTTY_REGISTRY_SERVER="+opts.Registry.Server,
			"SCOTTY_REGISTRY_USERNAME="+opts.Registry.Username,
			"SCOTTY_REGISTRY_PASSWORD="+opts.Registry.Password,
		)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apierr.Wrap(apierr.EngineUnavailable, "attach compose stdout", err)
	}
	cmd.Stderr = cmd.Stdout // compose interleaves progress on stderr; keep it one ordered stream

	out := make(chan string, 256)
	if err := cmd.Start(); err != nil {
		return nil, apierr.Wrap(apierr.EngineUnavailable, "start docker compose", err)
	}

	go func() {
		defer close(out)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			out <- scanner.Text()
		}
		if err := cmd.Wait(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				out <- fmt.Sprintf("__EXIT__:%d", exitErr.ExitCode())
				return
			}
			out <- "__EXIT__:-1"
			return
		}
		out <- "__EXIT__:0"
	}()

	return out, nil
}

func (d *DockerClient) ComposeUp(ctx context.Context, opts ComposeOptions) (<-chan string, error) {
	return runCompose(ctx, []string{"up", "-d", "--remove-orphans"}, opts)
}

func (d *DockerClient) ComposeDown(ctx context.Context, opts ComposeOptions) (<-chan string, error) {
	return runCompose(ctx, []string{"down"}, opts)
}

func (d *DockerClient) ComposeBuild(ctx context.Context, opts ComposeOptions) (<-chan string, error) {
	return runCompose(ctx, []string{"build"}, opts)
}

func (d *DockerClient) Exec(ctx context.Context, containerName string, opts ExecOptions) (*ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          opts.Argv,
		Env:          opts.Env,
		Tty:          opts.TTY,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  opts.Stdin != nil,
	}
	created, err := d.api.ContainerExecCreate(ctx, containerName, execCfg)
	if err != nil {
		return nil, apierr.Wrap(apierr.EngineUnavailable, "create exec", err)
	}

	attach, err := d.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: opts.TTY})
	if err != nil {
		return nil, apierr.Wrap(apierr.EngineUnavailable, "attach exec", err)
	}

	if opts.TTY && opts.Rows > 0 && opts.Cols > 0 {
		_ = d.api.ContainerExecResize(ctx, created.ID, container.ResizeOptions{
			Height: uint(opts.Rows),
			Width:  uint(opts.Cols),
		})
	}

	if opts.Stdin != nil {
		go func() {
			defer attach.CloseWrite()
			_, _ = io.Copy(attach.Conn, opts.Stdin)
		}()
	}

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		defer stdoutW.Close()
		defer stderrW.Close()
		if opts.TTY {
			// TTY execs multiplex stdout/stderr onto a single stream.
			_, _ = io.Copy(stdoutW, attach.Reader)
		} else {
			_, _ = demuxDockerStream(attach.Reader, stdoutW, stderrW)
		}
	}()

	return &ExecResult{
		Stdout: stdoutR,
		Stderr: stderrR,
		Wait: func(ctx context.Context) (int, error) {
			for {
				inspect, err := d.api.ContainerExecInspect(ctx, created.ID)
				if err != nil {
					return -1, apierr.Wrap(apierr.EngineUnavailable, "inspect exec", err)
				}
				if !inspect.Running {
					return inspect.ExitCode, nil
				}
				select {
				case <-ctx.Done():
					return -1, ctx.Err()
				default:
				}
			}
		},
		Resize: func(rows, cols uint16) error {
			if !opts.TTY {
				return nil
			}
			return d.api.ContainerExecResize(ctx, created.ID, container.ResizeOptions{
				Height: uint(rows),
				Width:  uint(cols),
			})
		},
		Close: func() error {
			attach.Close()
			return nil
		},
	}, nil
}

func (d *DockerClient) LogsFollow(ctx context.Context, containerName string, since string) (io.ReadCloser, error) {
	logs, err := d.api.ContainerLogs(ctx, containerName, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Since:      since,
		Timestamps: false,
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.EngineUnavailable, "follow logs", err)
	}
	return logs, nil
}

func (d *DockerClient) Attach(ctx context.Context, containerName string) (*Attachment, error) {
	hijacked, err := d.api.ContainerAttach(ctx, containerName, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.EngineUnavailable, "attach container", err)
	}
	return &Attachment{
		Reader: hijacked.Reader,
		Writer: hijacked.Conn,
		Close: func() error {
			hijacked.Close()
			return nil
		},
	}, nil
}

// demuxDockerStream splits the moby 8-byte-header multiplexed stream used
// by non-TTY exec/attach into separate stdout/stderr writers.
func demuxDockerStream(src io.Reader, stdout, stderr io.Writer) (int64, error) {
	var written int64
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(src, header); err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		dst := stdout
		if header[0] == 2 {
			dst = stderr
		}
		n, err := io.CopyN(dst, src, int64(size))
		written += n
		if err != nil {
			return written, err
		}
	}
}

// ParseExitMarker extracts the exit code appended by runCompose's scanner
// goroutine to the tail of its output channel.
func ParseExitMarker(line string) (int, bool) {
	const prefix = "__EXIT__:"
	if len(line) <= len(prefix) || line[:len(prefix)] != prefix {
		return 0, false
	}
	code, err := strconv.Atoi(line[len(prefix):])
	if err != nil {
		return 0, false
	}
	return code, true
}
