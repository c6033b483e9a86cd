package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DockerRuntime implements Runtime using the docker CLI.
type DockerRuntime struct {
	dockerBin string
}

// NewDockerRuntime creates a Docker-backed workspace runtime.
func NewDockerRuntime() *DockerRuntime {
	return &DockerRuntime{dockerBin: findDocker()}
}

// findDocker locates the docker binary, checking PATH first and then
// well-known install locations.
func findDocker() string {
	if p, err := exec.LookPath("docker"); err == nil {
		return p
	}
	candidates := []string{
		"/Applications/Docker.app/Contents/Resources/bin/docker",
		"/usr/local/bin/docker",
		"/opt/homebrew/bin/docker",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return "docker"
}

func (r *DockerRuntime) docker(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, r.dockerBin, args...)
}

// editorHTTPPort is the port code-server listens on inside the container.
const editorHTTPPort = 8080

// Start creates and starts an editor container. Returns the container ID.
func (r *DockerRuntime) Start(ctx context.Context, opts StartOptions) (string, error) {
	args := []string{
		"run", "-d",
		"--name", fmt.Sprintf("proctord-%s-%d", opts.UserID, opts.Port),
		"--label", "proctord.user=" + opts.UserID,
		"--label", "proctord.language=" + string(opts.Language),
		"-p", fmt.Sprintf("%d:%d", opts.Port, editorHTTPPort),
	}

	// Resource limits to prevent runaway student containers.
	args = append(args, "--memory", "1024m", "--cpus", "1", "--pids-limit", "256")

	for _, e := range opts.Env {
		args = append(args, "-e", e)
	}
	args = append(args, opts.Image)

	cmd := r.docker(ctx, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("starting editor container: %w\noutput: %s", err, string(output))
	}

	return strings.TrimSpace(string(output)), nil
}

// Stop kills and removes an editor container. Already-stopped containers
// are treated as success.
func (r *DockerRuntime) Stop(ctx context.Context, instanceID string) error {
	_ = r.docker(ctx, "kill", instanceID).Run()
	cmd := r.docker(ctx, "rm", "-f", instanceID)
	if output, err := cmd.CombinedOutput(); err != nil {
		out := string(output)
		if strings.Contains(out, "No such container") {
			return nil
		}
		return fmt.Errorf("removing editor container: %w\noutput: %s", err, out)
	}
	return nil
}

// IsRunning checks if a container is still running.
func (r *DockerRuntime) IsRunning(ctx context.Context, instanceID string) bool {
	cmd := r.docker(ctx, "inspect", "-f", "{{.State.Running}}", instanceID)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) == "true"
}
