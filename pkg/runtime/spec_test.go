package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kaori-seasons/edgesched/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSpecResourceMath(t *testing.T) {
	cfg := types.ContainerConfig{
		Command:     []string{"/bin/echo", "hi"},
		Environment: map[string]string{"FOO": "bar"},
		CPUCores:    0.5,
		MemoryBytes: 256 * 1024 * 1024,
	}

	spec := buildSpec("container-1", cfg)

	require.NotNil(t, spec.Linux)
	require.NotNil(t, spec.Linux.Resources)
	require.NotNil(t, spec.Linux.Resources.CPU)
	require.NotNil(t, spec.Linux.Resources.Memory)

	assert.Equal(t, "1.0.2", spec.Version)
	assert.Equal(t, "container-1", spec.Hostname)
	assert.True(t, spec.Root.Readonly)
	assert.Equal(t, "rootfs", spec.Root.Path)
	assert.False(t, spec.Process.Terminal)
	assert.True(t, spec.Process.NoNewPrivileges)

	assert.EqualValues(t, int64(50000), *spec.Linux.Resources.CPU.Quota)
	assert.EqualValues(t, uint64(100000), *spec.Linux.Resources.CPU.Period)
	assert.EqualValues(t, uint64(512), *spec.Linux.Resources.CPU.Shares)

	assert.EqualValues(t, cfg.MemoryBytes, *spec.Linux.Resources.Memory.Limit)
	assert.EqualValues(t, cfg.MemoryBytes/2, *spec.Linux.Resources.Memory.Reservation)
}

func TestBuildSpecNamespaces(t *testing.T) {
	spec := buildSpec("c1", types.ContainerConfig{Command: []string{"/bin/true"}})

	nsTypes := make([]string, 0, len(spec.Linux.Namespaces))
	for _, ns := range spec.Linux.Namespaces {
		nsTypes = append(nsTypes, string(ns.Type))
	}
	assert.ElementsMatch(t, []string{"pid", "network", "mount", "uts", "ipc"}, nsTypes)
}

func TestBuildSpecMandatoryMounts(t *testing.T) {
	spec := buildSpec("c1", types.ContainerConfig{
		Command: []string{"/bin/true"},
		Mounts: []types.Mount{
			{HostPath: "/host/in", ContainerPath: "/input", ReadOnly: true},
		},
	})

	dests := make([]string, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		dests = append(dests, m.Destination)
	}
	assert.Contains(t, dests, "/proc")
	assert.Contains(t, dests, "/sys")
	assert.Contains(t, dests, "/dev")
	assert.Contains(t, dests, "/input")
}

func TestCreateRootfsSkeleton(t *testing.T) {
	dir := t.TempDir()
	rootfs := filepath.Join(dir, "rootfs")

	require.NoError(t, createRootfs(rootfs, ""))

	for _, sub := range []string{"proc", "sys", "dev", "etc", "tmp"} {
		info, err := os.Stat(filepath.Join(rootfs, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	passwd, err := os.ReadFile(filepath.Join(rootfs, "etc/passwd"))
	require.NoError(t, err)
	assert.Contains(t, string(passwd), "root:")
}

func TestCreateRootfsFromImageKeepsExistingStubs(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "etc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "etc/passwd"), []byte("custom-user:x:1000:1000::/home:/bin/sh\n"), 0o644))

	dst := filepath.Join(t.TempDir(), "rootfs")
	require.NoError(t, createRootfs(dst, src))

	data, err := os.ReadFile(filepath.Join(dst, "etc/passwd"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "custom-user")
}
