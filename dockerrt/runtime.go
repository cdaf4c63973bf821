package dockerrt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/isdmx/codepool/sandbox"
)

// pidsLimit bounds the number of processes per container
const pidsLimit = 256

// dockerClient is the subset of the Docker API client used by Runtime
type dockerClient interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerStatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Runtime implements sandbox.ContainerRuntime using the Docker daemon
type Runtime struct {
	client dockerClient
	logger *zap.Logger
}

// New connects to the daemon configured by the DOCKER_* environment and
// verifies it is reachable
func New(logger *zap.Logger) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	rt := NewWithClient(cli, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, err
	}

	return rt, nil
}

// NewWithClient wraps an existing client
func NewWithClient(cli dockerClient, logger *zap.Logger) *Runtime {
	return &Runtime{client: cli, logger: logger}
}

// Ping checks that the daemon answers
func (r *Runtime) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return wrapErr("docker not reachable", err)
	}
	return nil
}

// Create creates a stopped container from spec
func (r *Runtime) Create(ctx context.Context, spec sandbox.ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		Env:             spec.Env,
		WorkingDir:      spec.WorkDir,
		Labels:          spec.Labels,
		NetworkDisabled: spec.NetworkDisabled,
		Tty:             false,
	}

	pids := int64(pidsLimit)
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemorySwapBytes,
			CPUPeriod:  spec.CPUPeriod,
			CPUQuota:   spec.CPUQuota,
			PidsLimit:  &pids,
		},
		SecurityOpt: []string{"no-new-privileges:true"},
	}
	if spec.NetworkDisabled {
		hostCfg.NetworkMode = network.NetworkNone
	}

	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", wrapErr("create container "+spec.Name, err)
	}
	for _, warning := range resp.Warnings {
		r.logger.Warn("container create warning", zap.String("name", spec.Name), zap.String("warning", warning))
	}

	return resp.ID, nil
}

// Start starts a container; starting a running container is a no-op
func (r *Runtime) Start(ctx context.Context, id string) error {
	if err := r.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return wrapErr("start container "+shortID(id), err)
	}
	return nil
}

// ExecAttached runs cmd in the container and streams its demultiplexed output
func (r *Runtime) ExecAttached(ctx context.Context, id string, cmd []string, workDir string) (sandbox.ExecStream, error) {
	execResp, err := r.client.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, wrapErr("create exec in "+shortID(id), err)
	}

	attachResp, err := r.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, wrapErr("attach exec in "+shortID(id), err)
	}

	return newExecStream(attachResp), nil
}

// StatsOnce returns the container's memory usage excluding reclaimable page cache
func (r *Runtime) StatsOnce(ctx context.Context, id string) (uint64, error) {
	resp, err := r.client.ContainerStatsOneShot(ctx, id)
	if err != nil {
		return 0, wrapErr("stats for "+shortID(id), err)
	}
	defer resp.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, fmt.Errorf("decode stats for %s: %w", shortID(id), err)
	}

	return memoryUsage(stats.MemoryStats), nil
}

// memoryUsage mirrors the docker CLI: cgroup v2 reports inactive_file, v1 total_inactive_file
func memoryUsage(m container.MemoryStats) uint64 {
	usage := m.Usage
	for _, key := range []string{"inactive_file", "total_inactive_file"} {
		if v, ok := m.Stats[key]; ok && v < usage {
			return usage - v
		}
	}
	return usage
}

// Remove removes a container; removing a missing container succeeds
func (r *Runtime) Remove(ctx context.Context, id string, force bool) error {
	err := r.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: force, RemoveVolumes: true})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return wrapErr("remove container "+shortID(id), err)
	}
	return nil
}

// Inspect reports whether the container is running; a missing container is not
func (r *Runtime) Inspect(ctx context.Context, id string) (bool, error) {
	info, err := r.client.ContainerInspect(ctx, id)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return false, nil
		}
		return false, wrapErr("inspect container "+shortID(id), err)
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return false, nil
	}
	return info.State.Running, nil
}

// Close releases the client's connections
func (r *Runtime) Close() error {
	return r.client.Close()
}

// wrapErr marks daemon connectivity failures as transient
func wrapErr(op string, err error) error {
	if client.IsErrConnectionFailed(err) || cerrdefs.IsUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, sandbox.ErrRuntimeUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
