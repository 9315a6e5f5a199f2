// Package stack drives the docker compose deployment the password
// manager runs in: bring it up, take it down, and poll container health.
package stack

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ayoubh/wardenctl/internal/logger"
)

// ErrUnhealthy indicates a container did not report healthy within the
// health-check budget.
var ErrUnhealthy = errors.New("stack did not become healthy")

// Runner executes one external command and returns its combined output.
// The default runs docker; tests substitute a fake.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Stack is the compose deployment.
type Stack struct {
	composeFile string
	containers  []string
	log         logger.Logger
	run         Runner
}

// Option overrides Stack defaults.
type Option func(*Stack)

// WithRunner substitutes the command runner; used by tests.
func WithRunner(run Runner) Option {
	return func(s *Stack) { s.run = run }
}

// New returns a Stack for the compose file, with containers the core
// set that must be healthy after a restore.
func New(composeFile string, containers []string, log logger.Logger, opts ...Option) *Stack {
	s := &Stack{
		composeFile: composeFile,
		containers:  containers,
		log:         log,
		run:         execRunner,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Up brings the stack up detached.
func (s *Stack) Up(ctx context.Context) error {
	s.log.Info("starting stack", "compose_file", s.composeFile)
	out, err := s.run(ctx, "docker", "compose", "-f", s.composeFile, "up", "-d")
	if err != nil {
		return fmt.Errorf("docker compose up: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Down takes the stack down. Data files must never be replaced while a
// container may hold them open.
func (s *Stack) Down(ctx context.Context) error {
	s.log.Info("stopping stack", "compose_file", s.composeFile)
	out, err := s.run(ctx, "docker", "compose", "-f", s.composeFile, "down")
	if err != nil {
		return fmt.Errorf("docker compose down: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RunningServices lists the compose services currently running.
func (s *Stack) RunningServices(ctx context.Context) ([]string, error) {
	out, err := s.run(ctx, "docker", "compose", "-f", s.composeFile,
		"ps", "--services", "--filter", "status=running")
	if err != nil {
		return nil, fmt.Errorf("docker compose ps: %w", err)
	}
	var services []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			services = append(services, line)
		}
	}
	return services, nil
}

// Health returns the container's health status: "healthy", "unhealthy",
// "starting", or "none" when the container defines no healthcheck.
func (s *Stack) Health(ctx context.Context, container string) (string, error) {
	out, err := s.run(ctx, "docker", "inspect",
		"--format", "{{if .State.Health}}{{.State.Health.Status}}{{else}}none{{end}}",
		container)
	if err != nil {
		return "", fmt.Errorf("docker inspect %s: %w", container, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// WaitHealthy polls every core container at interval until all report
// healthy (containers without a healthcheck count as healthy once
// running), up to retries attempts. Exceeding the budget returns
// ErrUnhealthy; the stack is deliberately left running for the operator
// to inspect.
func (s *Stack) WaitHealthy(ctx context.Context, retries int, interval time.Duration) error {
	for attempt := 1; attempt <= retries; attempt++ {
		healthy := true
		for _, name := range s.containers {
			status, err := s.Health(ctx, name)
			if err != nil || (status != "healthy" && status != "none") {
				healthy = false
				s.log.Debug("container not ready",
					"container", name,
					"status", status,
					"attempt", attempt,
				)
				break
			}
		}
		if healthy {
			s.log.Info("all core containers healthy", "attempts", attempt)
			return nil
		}
		if attempt == retries {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w after %d attempts (%s apart): containers %s",
		ErrUnhealthy, retries, interval, strings.Join(s.containers, ", "))
}
