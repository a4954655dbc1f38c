package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/kaori-seasons/edgesched/pkg/apperr"
	"github.com/kaori-seasons/edgesched/pkg/log"
	"github.com/kaori-seasons/edgesched/pkg/metrics"
	"github.com/kaori-seasons/edgesched/pkg/types"
)

// Config configures a Manager.
type Config struct {
	// RuntimeDir is where per-container bundles are written.
	RuntimeDir string
	// RuntimeBinary is the OCI runtime executable, e.g. "runc".
	RuntimeBinary string
	// StopGraceAttempts/StopGracePoll bound how long stop() waits after
	// SIGTERM before escalating to SIGKILL.
	StopGraceAttempts int
	StopGracePoll     time.Duration
}

// DefaultConfig returns sensible defaults matching §4.B's stated grace
// period (100ms poll x 10 attempts).
func DefaultConfig(runtimeDir string) Config {
	return Config{
		RuntimeDir:        runtimeDir,
		RuntimeBinary:     "runc",
		StopGraceAttempts: 10,
		StopGracePoll:     100 * time.Millisecond,
	}
}

// Manager is the Container Manager: it owns the in-memory container table
// and drives the configured OCI runtime binary against bundles it writes
// under cfg.RuntimeDir.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	containers map[string]*types.Container

	breaker *gobreaker.CircuitBreaker[[]byte]
}

// New returns a Manager ready to create containers under cfg.RuntimeDir.
// RuntimeDir must already exist and be writable; callers should treat a
// failure to create it as a fatal startup condition (§7).
func New(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.RuntimeDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "runtime_dir is not writable", err).WithContext("runtime_dir", cfg.RuntimeDir)
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "oci-runtime",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithComponent("runtime").Warn().
				Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("oci runtime circuit breaker state change")
		},
	})

	return &Manager{
		cfg:        cfg,
		containers: make(map[string]*types.Container),
		breaker:    breaker,
	}, nil
}

// Create synthesizes a bundle and starts a container running cfg.Command.
func (m *Manager) Create(ctx context.Context, cfg types.ContainerConfig, algorithm string) (string, error) {
	timer := metrics.NewTimer()
	id := uuid.New().String()
	bundlePath := filepath.Join(m.cfg.RuntimeDir, id)

	m.setContainer(&types.Container{
		ID:            id,
		BundlePath:    bundlePath,
		Lifecycle:     types.ContainerStateCreating,
		AlgorithmName: algorithm,
		CreatedAt:     time.Now(),
	})

	if err := m.writeBundle(id, bundlePath, cfg); err != nil {
		m.setError(id, err.Error())
		metrics.ContainersFailed.Inc()
		return "", err
	}

	if _, err := m.runRuntime(ctx, "create", "--bundle", bundlePath, id); err != nil {
		m.setError(id, err.Error())
		metrics.ContainersFailed.Inc()
		return "", apperr.Wrap(apperr.KindContainer, "runtime create failed", err).WithContext("container_id", id)
	}
	if _, err := m.runRuntime(ctx, "start", id); err != nil {
		m.setError(id, err.Error())
		metrics.ContainersFailed.Inc()
		return "", apperr.Wrap(apperr.KindContainer, "runtime start failed", err).WithContext("container_id", id)
	}

	m.setState(id, types.ContainerStateRunning)
	metrics.ContainersScheduled.Inc()
	timer.ObserveDuration(metrics.ContainerCreateDuration)
	return id, nil
}

func (m *Manager) writeBundle(id, bundlePath string, cfg types.ContainerConfig) error {
	rootfsPath := filepath.Join(bundlePath, "rootfs")
	if err := createRootfs(rootfsPath, cfg.RootfsSource); err != nil {
		return apperr.Wrap(apperr.KindContainer, "rootfs synthesis failed", err).WithContext("container_id", id)
	}

	spec := buildSpec(id, cfg)
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.KindSerialization, "marshal OCI spec failed", err).WithContext("container_id", id)
	}
	if err := os.WriteFile(filepath.Join(bundlePath, "config.json"), data, 0o644); err != nil {
		return apperr.Wrap(apperr.KindIO, "write config.json failed", err).WithContext("container_id", id)
	}
	return nil
}

// Stop sends SIGTERM, polls for exit, and escalates to SIGKILL after the
// configured grace period. Always reports Stopped on success, even when
// SIGKILL was required (logged, not surfaced as a failure).
func (m *Manager) Stop(ctx context.Context, id string) error {
	if _, err := m.runRuntime(ctx, "kill", id, "SIGTERM"); err != nil {
		return apperr.Wrap(apperr.KindContainer, "send SIGTERM failed", err).WithContext("container_id", id)
	}

	logger := log.WithContainerID(id)
	for i := 0; i < m.cfg.StopGraceAttempts; i++ {
		state, err := m.State(ctx, id)
		if err == nil && state == types.ContainerStateStopped {
			m.setState(id, types.ContainerStateStopped)
			return nil
		}
		time.Sleep(m.cfg.StopGracePoll)
	}

	logger.Warn().Msg("container did not exit after SIGTERM grace period, escalating to SIGKILL")
	if _, err := m.runRuntime(ctx, "kill", id, "SIGKILL"); err != nil {
		// SIGKILL failed too: surface the error, but drop the table entry
		// so the ID is reusable rather than stuck in a stale state.
		m.forget(id)
		return apperr.Wrap(apperr.KindContainer, "send SIGKILL failed", err).WithContext("container_id", id)
	}
	m.setState(id, types.ContainerStateStopped)
	return nil
}

// Destroy stops (if needed), deletes the runtime's record of the container,
// and removes its bundle directory.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	state, _ := m.State(ctx, id)
	if state == types.ContainerStateRunning {
		if err := m.Stop(ctx, id); err != nil {
			m.forget(id)
			return err
		}
	}

	if _, err := m.runRuntime(ctx, "delete", "--force", id); err != nil {
		log.WithContainerID(id).Warn().Err(err).Msg("runtime delete failed, removing table entry anyway")
	}

	m.mu.Lock()
	bundlePath := ""
	if c, ok := m.containers[id]; ok {
		bundlePath = c.BundlePath
	}
	m.mu.Unlock()

	if bundlePath != "" {
		if err := os.RemoveAll(bundlePath); err != nil {
			log.WithContainerID(id).Warn().Err(err).Msg("failed to remove bundle directory")
		}
	}

	m.setState(id, types.ContainerStateDestroyed)
	return nil
}

// State returns the Container Manager's view of id's lifecycle state. It
// does not re-query the runtime binary for states that are already
// terminal in the in-memory table.
func (m *Manager) State(ctx context.Context, id string) (types.ContainerState, error) {
	m.mu.Lock()
	c, ok := m.containers[id]
	m.mu.Unlock()
	if !ok {
		return "", apperr.New(apperr.KindContainer, "unknown container").WithContext("container_id", id)
	}
	if c.Lifecycle == types.ContainerStateDestroyed || c.Lifecycle == types.ContainerStateError {
		return c.Lifecycle, nil
	}

	out, err := m.runRuntime(ctx, "state", id)
	if err != nil {
		return c.Lifecycle, apperr.Wrap(apperr.KindContainer, "state query failed", err).WithContext("container_id", id)
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return c.Lifecycle, apperr.Wrap(apperr.KindSerialization, "parse runtime state output failed", err)
	}

	switch parsed.Status {
	case "running":
		m.setState(id, types.ContainerStateRunning)
	case "stopped":
		m.setState(id, types.ContainerStateStopped)
	case "creating":
		m.setState(id, types.ContainerStateCreating)
	}
	return m.containers[id].Lifecycle, nil
}

// Stats returns a best-effort resource snapshot. Errors yield zeroed usage
// rather than propagating, per §4.B's failure semantics.
func (m *Manager) Stats(ctx context.Context, id string) types.ContainerStats {
	out, err := m.runRuntime(ctx, "events", "--stats", "--once", id)
	if err != nil {
		log.WithContainerID(id).Warn().Err(err).Msg("stats query failed, returning zeroed usage")
		return types.ContainerStats{}
	}

	var parsed struct {
		Data struct {
			CPU struct {
				Usage struct {
					Total uint64 `json:"total"`
				} `json:"usage"`
			} `json:"cpu"`
			Memory struct {
				Usage struct {
					Usage uint64 `json:"usage"`
				} `json:"usage"`
			} `json:"memory"`
		} `json:"data"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return types.ContainerStats{}
	}
	return types.ContainerStats{
		CPUTotal:    float64(parsed.Data.CPU.Usage.Total),
		MemoryBytes: int64(parsed.Data.Memory.Usage.Usage),
	}
}

// List returns a snapshot of all containers the Manager currently tracks.
func (m *Manager) List() []types.Container {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Container, 0, len(m.containers))
	for _, c := range m.containers {
		out = append(out, *c)
	}
	return out
}

func (m *Manager) runRuntime(ctx context.Context, args ...string) ([]byte, error) {
	result, err := m.breaker.Execute(func() ([]byte, error) {
		cmd := exec.CommandContext(ctx, m.cfg.RuntimeBinary, append([]string{"--root", filepath.Join(m.cfg.RuntimeDir, ".state")}, args...)...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("%s %v: %w: %s", m.cfg.RuntimeBinary, args, err, stderr.String())
		}
		return stdout.Bytes(), nil
	})
	return result, err
}

func (m *Manager) setContainer(c *types.Container) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containers[c.ID] = c
}

func (m *Manager) setState(id string, state types.ContainerState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.containers[id]; ok {
		c.Lifecycle = state
	}
}

func (m *Manager) setError(id, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.containers[id]; ok {
		c.Lifecycle = types.ContainerStateError
		c.ErrorMessage = message
	}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.containers, id)
}
