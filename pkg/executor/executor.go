package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kaori-seasons/edgesched/pkg/apperr"
	"github.com/kaori-seasons/edgesched/pkg/log"
	"github.com/kaori-seasons/edgesched/pkg/metrics"
	"github.com/kaori-seasons/edgesched/pkg/types"
)

// Registry is the subset of pkg/registry.Registry the Executor needs.
type Registry interface {
	Lookup(name string) (types.PluginDescriptor, types.PluginImage, bool)
}

// ContainerManager is the subset of pkg/runtime.Manager the Executor needs.
type ContainerManager interface {
	Create(ctx context.Context, cfg types.ContainerConfig, algorithm string) (string, error)
	Stop(ctx context.Context, id string) error
	Destroy(ctx context.Context, id string) error
	State(ctx context.Context, id string) (types.ContainerState, error)
	Stats(ctx context.Context, id string) types.ContainerStats
}

// Config configures an Executor.
type Config struct {
	// WorkspaceDir is the host directory under which per-execution
	// input/output staging directories are created.
	WorkspaceDir string
	// PollInterval is how often Await checks for output/result.json.
	PollInterval time.Duration
	// CleanupDelay is how long after a run finishes its workspace
	// directory is removed, giving operators a debugging window.
	CleanupDelay time.Duration
	// DebugMode disables workspace cleanup entirely.
	DebugMode bool
}

func DefaultConfig(workspaceDir string) Config {
	return Config{
		WorkspaceDir: workspaceDir,
		PollInterval: 500 * time.Millisecond,
		CleanupDelay: 60 * time.Second,
		DebugMode:    false,
	}
}

// Executor runs one plugin invocation per Run call. Safe for concurrent use
// across distinct execution IDs; concurrency limits are the Scheduler's job.
type Executor struct {
	cfg      Config
	registry Registry
	manager  ContainerManager
	logger   zerolog.Logger

	mu          sync.Mutex
	avgDuration float64
	successes   int64
}

func New(cfg Config, registry Registry, manager ContainerManager) *Executor {
	return &Executor{cfg: cfg, registry: registry, manager: manager, logger: log.WithComponent("executor")}
}

// Run implements §4.C's Resolve -> Validate -> Stage -> Configure -> Run ->
// Await -> Parse -> Collect -> Cleanup -> Return pipeline. Satisfies
// pkg/scheduler.Executor.
func (e *Executor) Run(ctx context.Context, req types.Request) (types.Response, error) {
	executionID := "exec_" + uuid.NewString()
	logger := log.WithExecutionID(executionID)
	started := time.Now()

	descriptor, image, ok := e.registry.Lookup(req.Algorithm)
	if !ok {
		return types.Response{TaskID: req.ID, Status: types.StatusFailure}, apperr.New(apperr.KindValidation, "algorithm not found: "+req.Algorithm)
	}

	if err := validateRequest(descriptor, req); err != nil {
		return types.Response{TaskID: req.ID, Status: types.StatusFailure, Error: err.Error()}, err
	}

	execDir, err := e.stage(executionID, req, descriptor)
	if err != nil {
		return types.Response{TaskID: req.ID, Status: types.StatusFailure, Error: err.Error()}, err
	}
	if !e.cfg.DebugMode {
		defer e.scheduleCleanup(execDir)
	}

	containerCfg := buildContainerConfig(descriptor, image, execDir)

	containerID, err := e.manager.Create(ctx, containerCfg, req.Algorithm)
	if err != nil {
		wrapped := apperr.Wrap(apperr.KindContainer, "failed to create container", err)
		return types.Response{TaskID: req.ID, Status: types.StatusFailure, Error: wrapped.Error()}, wrapped
	}
	defer e.teardown(containerID, logger)

	result, runErr := e.await(ctx, containerID, execDir)

	resp := types.Response{
		TaskID:          req.ID,
		ExecutionTimeMs: time.Since(started).Milliseconds(),
		ResourceUsage:   toResourceUsage(e.manager.Stats(context.Background(), containerID)),
	}

	switch {
	case runErr != nil && ctx.Err() == context.DeadlineExceeded:
		resp.Status = types.StatusTimeout
		resp.Error = runErr.Error()
	case runErr != nil:
		resp.Status = types.StatusFailure
		resp.Error = runErr.Error()
	default:
		resp.Status = types.StatusSuccess
		resp.Result = result
		e.recordSuccess(req.Algorithm, time.Since(started))
	}

	logger.Info().Str("container_id", containerID).Str("status", string(resp.Status)).Msg("execution finished")
	return resp, runErr
}

func validateRequest(descriptor types.PluginDescriptor, req types.Request) error {
	if req.Algorithm != descriptor.Name {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("algorithm name mismatch: expected %s, got %s", descriptor.Name, req.Algorithm))
	}
	return nil
}

// stage creates workspace/executions/<id>/{input,output} and writes
// input/input.json, per §4.C step 3.
func (e *Executor) stage(executionID string, req types.Request, descriptor types.PluginDescriptor) (string, error) {
	execDir := filepath.Join(e.cfg.WorkspaceDir, "executions", executionID)
	inputDir := filepath.Join(execDir, "input")
	outputDir := filepath.Join(execDir, "output")

	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.KindIO, "failed to create input dir", err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", apperr.Wrap(apperr.KindIO, "failed to create output dir", err)
	}

	payload := map[string]any{
		"execution_id": executionID,
		"algorithm":    req.Algorithm,
		"parameters":   req.Parameters,
		"metadata": map[string]any{
			"submitted_at":    time.Now().UTC().Format(time.RFC3339),
			"timeout_seconds": int64(descriptor.Timeout.Seconds()),
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", apperr.Wrap(apperr.KindSerialization, "failed to marshal input payload", err)
	}
	if err := os.WriteFile(filepath.Join(inputDir, "input.json"), data, 0o644); err != nil {
		return "", apperr.Wrap(apperr.KindIO, "failed to write input.json", err)
	}

	return execDir, nil
}

func buildContainerConfig(descriptor types.PluginDescriptor, image types.PluginImage, execDir string) types.ContainerConfig {
	env := make(map[string]string, len(image.Environment)+4)
	for k, v := range image.Environment {
		env[k] = v
	}
	env["ALGORITHM_NAME"] = descriptor.Name
	env["ALGORITHM_VERSION"] = descriptor.Version
	env["EXECUTION_TIMEOUT"] = fmt.Sprintf("%d", int64(descriptor.Timeout.Seconds()))
	env["INPUT_FILE"] = "/input/input.json"
	env["OUTPUT_FILE"] = "/output/result.json"

	mounts := append([]types.Mount{}, image.Mounts...)
	mounts = append(mounts,
		types.Mount{HostPath: filepath.Join(execDir, "input"), ContainerPath: "/input", ReadOnly: true, Options: []string{"ro"}},
		types.Mount{HostPath: filepath.Join(execDir, "output"), ContainerPath: "/output", ReadOnly: false, Options: []string{"rw"}},
	)

	return types.ContainerConfig{
		Command:      image.Command,
		Environment:  env,
		Mounts:       mounts,
		CPUCores:     descriptor.ResourceRequirements.CPUCores,
		MemoryBytes:  descriptor.ResourceRequirements.MemoryMB * 1024 * 1024,
		RootfsSource: image.RootfsPath,
	}
}

// await polls output/result.json at cfg.PollInterval until it appears, the
// context's deadline fires, or the container transitions to Error — per
// §4.C step 6.
func (e *Executor) await(ctx context.Context, containerID, execDir string) (any, error) {
	outputFile := filepath.Join(execDir, "output", "result.json")
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if data, err := os.ReadFile(outputFile); err == nil {
			var result any
			if err := json.Unmarshal(data, &result); err != nil {
				return nil, apperr.Wrap(apperr.KindSerialization, "failed to parse result.json", err)
			}
			return result, nil
		}

		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindTimeout, "execution did not produce output before deadline", ctx.Err())
		case <-ticker.C:
			metrics.ExecutorPollsTotal.Inc()
			state, err := e.manager.State(ctx, containerID)
			if err == nil && state == types.ContainerStateError {
				return nil, apperr.New(apperr.KindAlgorithmExecution, "container exited with an error")
			}
		}
	}
}

func toResourceUsage(stats types.ContainerStats) types.ResourceUsage {
	return types.ResourceUsage{
		CPUTotal:       stats.CPUTotal,
		MemoryBytes:    stats.MemoryBytes,
		NetworkRxBytes: stats.NetworkRx,
		NetworkTxBytes: stats.NetworkTx,
	}
}

func (e *Executor) teardown(containerID string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.manager.Stop(ctx, containerID); err != nil {
		logger.Warn().Err(err).Str("container_id", containerID).Msg("failed to stop container")
	}
	if err := e.manager.Destroy(ctx, containerID); err != nil {
		logger.Warn().Err(err).Str("container_id", containerID).Msg("failed to destroy container")
	}
}

func (e *Executor) scheduleCleanup(execDir string) {
	go func() {
		time.Sleep(e.cfg.CleanupDelay)
		_ = os.RemoveAll(execDir)
	}()
}

// recordSuccess folds a Success execution's duration into the running mean
// (§9 Open Question 3, resolved: Success-only average).
func (e *Executor) recordSuccess(algorithm string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.successes++
	ms := float64(d.Milliseconds())
	e.avgDuration += (ms - e.avgDuration) / float64(e.successes)
	metrics.ExecutionDuration.WithLabelValues(algorithm).Observe(d.Seconds())
}

// AverageComputationTimeMs reports the running mean execution time over
// Success-only invocations, for the admin status surface.
func (e *Executor) AverageComputationTimeMs() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.avgDuration
}
