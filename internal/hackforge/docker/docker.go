// Package docker wraps the host container engine behind a small lifecycle
// API. The adapter is a stateless façade: every call shells out to the
// docker CLI with a bounded context and reports current runtime truth.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	hferrors "github.com/dimasma0305/hackforge/internal/hackforge/errors"
	"github.com/dimasma0305/hackforge/internal/log"
)

// Labels attached to every container hackforge creates. Status reconciliation
// matches containers back to machine records through these.
const (
	LabelMachine  = "hackforge.machine"
	LabelCampaign = "hackforge.campaign"
)

// Container is the runtime's view of one container
type Container struct {
	ID     string
	Name   string
	State  string
	Status string
	Image  string
	Ports  string
	Labels map[string]string
}

// MachineID returns the machine label value, or "" for foreign containers
func (c Container) MachineID() string {
	return c.Labels[LabelMachine]
}

// RunSpec describes a container to create and start
type RunSpec struct {
	Name          string
	Image         string
	HostPort      int
	ContainerPort int
	Env           map[string]string
	Labels        map[string]string
}

// Runtime is the container engine lifecycle contract
type Runtime interface {
	Run(ctx context.Context, spec RunSpec) (string, error)
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string) error
	Restart(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string, force bool) error
	Logs(ctx context.Context, containerID string, tail int) (string, error)
	List(ctx context.Context, labelFilters []string) ([]Container, error)
}

// CLI implements Runtime by exec-ing the docker binary
type CLI struct {
	binary        string
	runTimeout    time.Duration
	opTimeout     time.Duration
	statusTimeout time.Duration
}

// Options configures the CLI adapter timeouts
type Options struct {
	Binary        string
	RunTimeout    time.Duration
	OpTimeout     time.Duration
	StatusTimeout time.Duration
}

// NewCLI creates a docker CLI adapter
func NewCLI(opts Options) *CLI {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if opts.RunTimeout == 0 {
		opts.RunTimeout = 60 * time.Second
	}
	if opts.OpTimeout == 0 {
		opts.OpTimeout = 30 * time.Second
	}
	if opts.StatusTimeout == 0 {
		opts.StatusTimeout = 10 * time.Second
	}
	return &CLI{
		binary:        opts.Binary,
		runTimeout:    opts.RunTimeout,
		opTimeout:     opts.OpTimeout,
		statusTimeout: opts.StatusTimeout,
	}
}

// BuildRunArgs assembles the `docker run` argument list for a spec
func BuildRunArgs(spec RunSpec) []string {
	args := []string{"run", "-d", "--name", spec.Name}

	if spec.HostPort > 0 && spec.ContainerPort > 0 {
		args = append(args, "-p", fmt.Sprintf("%d:%d", spec.HostPort, spec.ContainerPort))
	}

	for _, k := range sortedKeys(spec.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}
	for _, k := range sortedKeys(spec.Labels) {
		args = append(args, "--label", fmt.Sprintf("%s=%s", k, spec.Labels[k]))
	}

	return append(args, spec.Image)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Run creates and starts a container, returning its id
func (c *CLI) Run(ctx context.Context, spec RunSpec) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	out, err := c.exec(ctx, BuildRunArgs(spec)...)
	if err != nil {
		return "", err
	}

	id := strings.TrimSpace(out)
	log.DebugH2("Started container %s (%s)", spec.Name, shortID(id))
	return id, nil
}

// Start starts a stopped container
func (c *CLI) Start(ctx context.Context, containerID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	_, err := c.exec(ctx, "start", containerID)
	return err
}

// Stop stops a running container
func (c *CLI) Stop(ctx context.Context, containerID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	_, err := c.exec(ctx, "stop", containerID)
	return err
}

// Restart restarts a container
func (c *CLI) Restart(ctx context.Context, containerID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	_, err := c.exec(ctx, "restart", containerID)
	return err
}

// Remove removes a container. With force, a running container is stopped
// first. An already-removed container is reported as ErrContainerNotFound so
// callers can treat it as success.
func (c *CLI) Remove(ctx context.Context, containerID string, force bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, containerID)

	_, err := c.exec(ctx, args...)
	return err
}

// Logs returns the last tail lines of a container's logs
func (c *CLI) Logs(ctx context.Context, containerID string, tail int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	args := []string{"logs"}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	args = append(args, containerID)

	return c.exec(ctx, args...)
}

// List returns all containers matching the given label filters
func (c *CLI) List(ctx context.Context, labelFilters []string) ([]Container, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	args := []string{"ps", "-a", "--no-trunc", "--format", "{{json .}}"}
	for _, f := range labelFilters {
		args = append(args, "--filter", "label="+f)
	}

	out, err := c.exec(ctx, args...)
	if err != nil {
		return nil, err
	}

	return ParsePSOutput(out)
}

// psLine matches the docker ps JSON format fields we consume
type psLine struct {
	ID     string `json:"ID"`
	Names  string `json:"Names"`
	State  string `json:"State"`
	Status string `json:"Status"`
	Image  string `json:"Image"`
	Ports  string `json:"Ports"`
	Labels string `json:"Labels"`
}

// ParsePSOutput parses line-delimited `docker ps --format "{{json .}}"` output
func ParsePSOutput(out string) ([]Container, error) {
	var containers []Container
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var p psLine
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			log.Debug("Failed to parse container JSON: %v", err)
			continue
		}
		containers = append(containers, Container{
			ID:     p.ID,
			Name:   p.Names,
			State:  p.State,
			Status: p.Status,
			Image:  p.Image,
			Ports:  p.Ports,
			Labels: ParseLabels(p.Labels),
		})
	}
	return containers, nil
}

// ParseLabels parses docker's "k1=v1,k2=v2" label string
func ParseLabels(raw string) map[string]string {
	labels := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		labels[k] = v
	}
	return labels
}

// exec runs the docker binary and classifies failures into the shared error
// taxonomy so callers can distinguish retryable from fatal conditions.
func (c *CLI) exec(ctx context.Context, args ...string) (string, error) {
	//nolint:gosec // G204: docker invocations with controlled arguments are intentional
	cmd := exec.CommandContext(ctx, c.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	return "", ClassifyError(err, ctx.Err(), stderr.String(), args)
}

// ClassifyError maps a failed docker invocation onto the error taxonomy
func ClassifyError(execErr, ctxErr error, stderr string, args []string) error {
	op := "docker"
	if len(args) > 0 {
		op = "docker " + args[0]
	}

	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return hferrors.Wrapf(hferrors.ErrRuntimeTimeout, "%s", op)
	}

	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "no such container"):
		return hferrors.Wrapf(hferrors.ErrContainerNotFound, "%s", op)
	case strings.Contains(lower, "cannot connect to the docker daemon"),
		strings.Contains(lower, "connection refused"),
		errors.Is(execErr, exec.ErrNotFound):
		return hferrors.Wrapf(hferrors.ErrRuntimeUnavailable, "%s", op)
	}

	return fmt.Errorf("%s failed: %w\nOutput: %s", op, execErr, strings.TrimSpace(stderr))
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
