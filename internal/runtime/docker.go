package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"fhirstack/internal/config"
	"fhirstack/pkg/logging"
)

// For mocking in tests
var execCommandContext = exec.CommandContext

// DockerRuntime launches container-backed services through the docker CLI.
// Containers get deterministic names (<stack>-<service>) so that down and
// status can reattach to them from a fresh process.
type DockerRuntime struct{}

// NewDockerRuntime creates a docker backend.
func NewDockerRuntime() *DockerRuntime {
	return &DockerRuntime{}
}

type dockerHandle struct {
	containerID string
	name        string
	exited      chan struct{}
	exit        ExitEvent
}

// Launch pulls the image if it is not present locally, removes any stale
// container with the same name, then runs the container detached and waits
// for its exit in the background.
func (r *DockerRuntime) Launch(ctx context.Context, spec config.ServiceDefinition, stackName string) (Handle, error) {
	if spec.Image == "" {
		return nil, fmt.Errorf("service %s has no image", spec.Name)
	}

	name := ContainerName(stackName, spec.Name)

	if err := r.ensureImage(ctx, spec.Image); err != nil {
		return nil, fmt.Errorf("failed to pull image for %s: %w", spec.Name, err)
	}

	// All containers of a stack join one user-defined network so they can
	// reach each other by container name. The default bridge has no DNS.
	if err := r.ensureNetwork(ctx, stackName); err != nil {
		return nil, fmt.Errorf("failed to create network for %s: %w", spec.Name, err)
	}

	// A previous run may have left a container behind under the same name.
	_ = r.removeNamed(ctx, name)

	args := []string{"run", "-d", "--name", name, "--network", stackName}
	for _, port := range spec.Ports {
		args = append(args, "-p", port)
	}
	// Secrets resolve here and go straight into the container environment;
	// they must not appear in any log line.
	for k, v := range config.ResolveEnv(spec.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	for _, vol := range spec.Volumes {
		args = append(args, "-v", vol)
	}
	args = append(args, spec.Image)

	out, err := r.docker(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start container for %s: %w", spec.Name, err)
	}

	h := &dockerHandle{
		containerID: strings.TrimSpace(out),
		name:        name,
		exited:      make(chan struct{}),
	}
	logging.Debug("DockerRuntime", "Started container %s (%s)", name, shortID(h.containerID))

	go r.streamLogs(h.containerID, spec.Name)
	go r.waitForExit(h)

	return h, nil
}

// ensureImage checks for the image locally and pulls it when missing.
func (r *DockerRuntime) ensureImage(ctx context.Context, image string) error {
	if _, err := r.docker(ctx, "image", "inspect", image); err == nil {
		return nil
	}
	logging.Info("DockerRuntime", "Pulling image %s", image)
	_, err := r.docker(ctx, "pull", image)
	return err
}

// ensureNetwork creates the stack network if it does not exist yet.
func (r *DockerRuntime) ensureNetwork(ctx context.Context, name string) error {
	if _, err := r.docker(ctx, "network", "inspect", name); err == nil {
		return nil
	}
	logging.Debug("DockerRuntime", "Creating network %s", name)
	_, err := r.docker(ctx, "network", "create", name)
	return err
}

func (r *DockerRuntime) removeNamed(ctx context.Context, name string) error {
	_, err := r.docker(ctx, "rm", "-f", name)
	return err
}

// streamLogs follows the container's output into the structured log.
func (r *DockerRuntime) streamLogs(containerID, label string) {
	cmd := execCommandContext(context.Background(), "docker", "logs", "-f", containerID)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return
	}
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		logging.Info(label+"-logs", "%s", scanner.Text())
	}
	_ = cmd.Wait()
}

// waitForExit blocks on docker wait and records the container's exit code.
func (r *DockerRuntime) waitForExit(h *dockerHandle) {
	out, err := r.docker(context.Background(), "wait", h.containerID)
	event := ExitEvent{}
	if err != nil {
		event.ExitCode = -1
		event.Err = fmt.Errorf("docker wait for %s: %w", h.name, err)
	} else {
		code, parseErr := strconv.Atoi(strings.TrimSpace(out))
		if parseErr != nil {
			event.ExitCode = -1
			event.Err = fmt.Errorf("unparseable exit code from docker wait for %s: %q", h.name, out)
		} else {
			event.ExitCode = code
			if code != 0 {
				event.Err = fmt.Errorf("container %s exited with code %d", h.name, code)
			}
		}
	}
	h.exit = event
	close(h.exited)
}

// StopNamed stops and removes a container by name, for reattach-style
// teardown when no handle exists. Missing containers are not an error.
func (r *DockerRuntime) StopNamed(ctx context.Context, name string, grace time.Duration) error {
	status, err := r.InspectNamed(ctx, name)
	if err != nil {
		return err
	}
	if !status.Exists {
		return nil
	}
	if status.Running {
		if _, err := r.docker(ctx, "stop", "-t", strconv.Itoa(int(grace.Seconds())), name); err != nil {
			return fmt.Errorf("failed to stop container %s: %w", name, err)
		}
	}
	return r.removeNamed(ctx, name)
}

// InspectNamed reports the state of a named container.
func (r *DockerRuntime) InspectNamed(ctx context.Context, name string) (ContainerStatus, error) {
	out, err := r.docker(ctx, "inspect", "-f", "{{.State.Status}}", name)
	if err != nil {
		// docker inspect fails for unknown names; treat that as absent.
		return ContainerStatus{}, nil
	}
	state := strings.TrimSpace(out)
	return ContainerStatus{
		Exists:  true,
		Running: state == "running",
		State:   state,
	}, nil
}

func (h *dockerHandle) ID() string {
	return h.containerID
}

func (h *dockerHandle) Exited() <-chan struct{} {
	return h.exited
}

func (h *dockerHandle) ExitState() ExitEvent {
	return h.exit
}

// Stop asks docker to stop the container, which sends the stop signal and
// kills after the grace period, then removes it.
func (h *dockerHandle) Stop(ctx context.Context, grace time.Duration) error {
	r := &DockerRuntime{}
	select {
	case <-h.exited:
		// Already gone; just clean up the container object.
		return r.removeNamed(ctx, h.name)
	default:
	}

	if _, err := r.docker(ctx, "stop", "-t", strconv.Itoa(int(grace.Seconds())), h.containerID); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", h.name, err)
	}

	select {
	case <-h.exited:
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.removeNamed(ctx, h.name)
}

// docker runs a docker CLI command and returns its combined stdout.
func (r *DockerRuntime) docker(ctx context.Context, args ...string) (string, error) {
	cmd := execCommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("docker %s: %s: %w", args[0], msg, err)
		}
		return "", fmt.Errorf("docker %s: %w", args[0], err)
	}
	return stdout.String(), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
