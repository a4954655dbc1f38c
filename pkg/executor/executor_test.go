package executor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaori-seasons/edgesched/pkg/apperr"
	"github.com/kaori-seasons/edgesched/pkg/types"
)

type fakeRegistry struct {
	descriptor types.PluginDescriptor
	image      types.PluginImage
	found      bool
}

func (r fakeRegistry) Lookup(name string) (types.PluginDescriptor, types.PluginImage, bool) {
	return r.descriptor, r.image, r.found
}

type fakeManager struct {
	state         types.ContainerState
	createErr     error
	stopCalled    bool
	destroyCalled bool
}

func (m *fakeManager) Create(ctx context.Context, cfg types.ContainerConfig, algorithm string) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	return "container-1", nil
}

func (m *fakeManager) Stop(ctx context.Context, id string) error {
	m.stopCalled = true
	return nil
}

func (m *fakeManager) Destroy(ctx context.Context, id string) error {
	m.destroyCalled = true
	return nil
}

func (m *fakeManager) State(ctx context.Context, id string) (types.ContainerState, error) {
	return m.state, nil
}

func (m *fakeManager) Stats(ctx context.Context, id string) types.ContainerStats {
	return types.ContainerStats{CPUTotal: 0.1, MemoryBytes: 1024}
}

func descriptor() types.PluginDescriptor {
	return types.PluginDescriptor{
		Name:    "echo",
		Version: "1.0.0",
		ResourceRequirements: types.ResourceRequirements{
			CPUCores: 1,
			MemoryMB: 128,
		},
		Timeout: 5 * time.Second,
	}
}

func newExecutor(t *testing.T, reg Registry, mgr ContainerManager) *Executor {
	t.Helper()
	cfg := DefaultConfig(t.TempDir())
	cfg.PollInterval = 10 * time.Millisecond
	cfg.DebugMode = true // skip async cleanup so the test dir stays put
	return New(cfg, reg, mgr)
}

// TestAwaitSucceedsWhenResultAppears exercises the Await step (§4.C step 6)
// directly: stage a real execution directory, drop output/result.json into
// it from a background goroutine, and confirm await picks it up before the
// context deadline.
func TestAwaitSucceedsWhenResultAppears(t *testing.T) {
	e := newExecutor(t, fakeRegistry{descriptor: descriptor(), found: true}, &fakeManager{state: types.ContainerStateRunning})
	req := types.Request{ID: "t1", Algorithm: "echo", Parameters: map[string]any{"x": 1}}

	execDir, err := e.stage("exec_ok", req, descriptor())
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		data, _ := json.Marshal(map[string]any{"echoed": true})
		_ = os.WriteFile(filepath.Join(execDir, "output", "result.json"), data, 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	result, err := e.await(ctx, "container-1", execDir)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echoed": true}, result)
}

// TestRunSucceedsEndToEnd exercises the full Run pipeline. Run mints its own
// execution ID internally, so the fake manager discovers the staged
// directory itself (via the workspace root) rather than the test passing it
// in, and drops result.json there on its first State poll.
func TestRunSucceedsEndToEnd(t *testing.T) {
	reg := fakeRegistry{descriptor: descriptor(), found: true}
	mgr := &selfWritingManager{fakeManager: fakeManager{state: types.ContainerStateRunning}}
	e := newExecutor(t, reg, mgr)
	mgr.workspaceDir = e.cfg.WorkspaceDir

	req := types.Request{ID: "t1", Algorithm: "echo", Parameters: map[string]any{"x": 1}, Timeout: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := e.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, resp.Status)
	assert.Equal(t, map[string]any{"echoed": true}, resp.Result)
	assert.True(t, mgr.stopCalled)
	assert.True(t, mgr.destroyCalled)
	assert.Equal(t, 1, int(e.successes))
}

// selfWritingManager writes output/result.json into every execution
// directory it finds under workspaceDir the first time its State method is
// polled, simulating a plugin container that finishes just after startup.
type selfWritingManager struct {
	fakeManager
	workspaceDir string
	written      bool
}

func (m *selfWritingManager) State(ctx context.Context, id string) (types.ContainerState, error) {
	if !m.written {
		m.written = true
		entries, _ := os.ReadDir(filepath.Join(m.workspaceDir, "executions"))
		for _, entry := range entries {
			outDir := filepath.Join(m.workspaceDir, "executions", entry.Name(), "output")
			data, _ := json.Marshal(map[string]any{"echoed": true})
			_ = os.WriteFile(filepath.Join(outDir, "result.json"), data, 0o644)
		}
	}
	return m.state, nil
}

func TestRunFailsWhenAlgorithmNotFound(t *testing.T) {
	reg := fakeRegistry{found: false}
	mgr := &fakeManager{state: types.ContainerStateRunning}
	e := newExecutor(t, reg, mgr)

	req := types.Request{ID: "t1", Algorithm: "missing", Timeout: time.Second}
	_, err := e.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRunFailsWhenAlgorithmNameMismatch(t *testing.T) {
	reg := fakeRegistry{descriptor: descriptor(), found: true}
	mgr := &fakeManager{state: types.ContainerStateRunning}
	e := newExecutor(t, reg, mgr)

	req := types.Request{ID: "t1", Algorithm: "not-echo", Timeout: time.Second}
	_, err := e.Run(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRunTimesOutWhenNoResultAppears(t *testing.T) {
	reg := fakeRegistry{descriptor: descriptor(), found: true}
	mgr := &fakeManager{state: types.ContainerStateRunning}
	e := newExecutor(t, reg, mgr)

	req := types.Request{ID: "t1", Algorithm: "echo", Timeout: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp, err := e.Run(ctx, req)
	require.Error(t, err)
	assert.Equal(t, types.StatusTimeout, resp.Status)
	assert.True(t, mgr.stopCalled)
	assert.True(t, mgr.destroyCalled)
}

func TestRunFailsWhenContainerEntersErrorState(t *testing.T) {
	reg := fakeRegistry{descriptor: descriptor(), found: true}
	mgr := &fakeManager{state: types.ContainerStateError}
	e := newExecutor(t, reg, mgr)

	req := types.Request{ID: "t1", Algorithm: "echo", Timeout: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := e.Run(ctx, req)
	require.Error(t, err)
	assert.Equal(t, types.StatusFailure, resp.Status)
	assert.Equal(t, apperr.KindAlgorithmExecution, apperr.KindOf(err))
}

func TestRunAlwaysTearsDownContainer(t *testing.T) {
	reg := fakeRegistry{descriptor: descriptor(), found: true}
	mgr := &fakeManager{state: types.ContainerStateError}
	e := newExecutor(t, reg, mgr)

	req := types.Request{ID: "t1", Algorithm: "echo", Timeout: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, _ = e.Run(ctx, req)
	assert.True(t, mgr.stopCalled)
	assert.True(t, mgr.destroyCalled)
}

func TestAverageComputationTimeOnlyReflectsSuccess(t *testing.T) {
	e := newExecutor(t, fakeRegistry{descriptor: descriptor(), found: true}, &fakeManager{state: types.ContainerStateError})
	assert.Equal(t, 0.0, e.AverageComputationTimeMs())

	e.recordSuccess("echo", 100*time.Millisecond)
	e.recordSuccess("echo", 200*time.Millisecond)
	assert.InDelta(t, 150.0, e.AverageComputationTimeMs(), 0.001)
}

func TestStageWritesInputJSON(t *testing.T) {
	e := newExecutor(t, fakeRegistry{descriptor: descriptor(), found: true}, &fakeManager{})
	req := types.Request{ID: "t1", Algorithm: "echo", Parameters: map[string]any{"a": 1}}

	execDir, err := e.stage("exec_abc", req, descriptor())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(execDir, "input", "input.json"))
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, "echo", payload["algorithm"])
	assert.Equal(t, "exec_abc", payload["execution_id"])

	_, err = os.Stat(filepath.Join(execDir, "output"))
	require.NoError(t, err)
}
