package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/kaori-seasons/edgesched/pkg/types"
)

const ociVersion = "1.0.2"

// buildSpec assembles the in-memory OCI runtime spec for cfg, bit-exact per
// SPEC_FULL.md §4.B / §6: process, root, namespaces, resources, mandatory
// mounts plus caller-supplied ones.
func buildSpec(containerID string, cfg types.ContainerConfig) *specs.Spec {
	env := make([]string, 0, len(cfg.Environment))
	for k, v := range cfg.Environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	memLimit := cfg.MemoryBytes
	memReservation := memLimit / 2
	cpuQuota := int64(cfg.CPUCores * 100000.0)
	cpuPeriod := uint64(100000)
	cpuShares := uint64(cfg.CPUCores * 1024.0)

	mounts := []specs.Mount{
		{Destination: "/proc", Type: "proc", Source: "proc"},
		{Destination: "/sys", Type: "sysfs", Source: "sysfs", Options: []string{"ro", "nosuid", "noexec", "nodev"}},
		{Destination: "/dev", Type: "tmpfs", Source: "tmpfs", Options: []string{"nosuid", "strictatime", "mode=755", "size=65536k"}},
	}
	for _, m := range cfg.Mounts {
		opts := m.Options
		if m.ReadOnly {
			opts = append(append([]string{}, opts...), "ro")
		}
		mounts = append(mounts, specs.Mount{
			Destination: m.ContainerPath,
			Type:        "bind",
			Source:      m.HostPath,
			Options:     append([]string{"bind"}, opts...),
		})
	}

	return &specs.Spec{
		Version: ociVersion,
		Process: &specs.Process{
			Terminal:        false,
			Args:            cfg.Command,
			Env:             env,
			Cwd:             "/",
			NoNewPrivileges: true,
		},
		Root: &specs.Root{
			Path:     "rootfs",
			Readonly: true,
		},
		Hostname: containerID,
		Mounts:   mounts,
		Linux: &specs.Linux{
			Namespaces: []specs.LinuxNamespace{
				{Type: specs.PIDNamespace},
				{Type: specs.NetworkNamespace},
				{Type: specs.MountNamespace},
				{Type: specs.UTSNamespace},
				{Type: specs.IPCNamespace},
			},
			Resources: &specs.LinuxResources{
				Memory: &specs.LinuxMemory{
					Limit:       &memLimit,
					Reservation: &memReservation,
				},
				CPU: &specs.LinuxCPU{
					Shares: &cpuShares,
					Quota:  &cpuQuota,
					Period: &cpuPeriod,
				},
			},
		},
	}
}

// standardRootfsDirs is the minimal Linux directory tree materialized for a
// plugin that doesn't supply a pre-built rootfs image.
var standardRootfsDirs = []string{
	"bin", "dev", "etc", "home", "lib", "lib64",
	"proc", "root", "sbin", "sys", "tmp", "usr", "var",
}

// createRootfs materializes rootfsPath: a skeleton directory tree plus stub
// /etc files, or a copy rooted at source when the plugin image supplies one.
func createRootfs(rootfsPath, source string) error {
	if err := os.MkdirAll(rootfsPath, 0o755); err != nil {
		return fmt.Errorf("create rootfs directory: %w", err)
	}
	for _, dir := range standardRootfsDirs {
		if err := os.MkdirAll(filepath.Join(rootfsPath, dir), 0o755); err != nil {
			return fmt.Errorf("create rootfs subdir %q: %w", dir, err)
		}
	}

	if source != "" {
		if err := copyTree(source, rootfsPath); err != nil {
			return fmt.Errorf("copy rootfs from image %q: %w", source, err)
		}
	}

	stubs := map[string]string{
		"etc/passwd":   "root:x:0:0:root:/root:/bin/sh\n",
		"etc/group":    "root:x:0:\n",
		"etc/hostname": "edge-container\n",
	}
	for rel, content := range stubs {
		path := filepath.Join(rootfsPath, rel)
		if _, err := os.Stat(path); err == nil {
			continue // image already supplied one
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return nil
}

// copyTree shallow-copies regular files and recreates directories from src
// into dst. It intentionally does not follow symlinks or preserve ownership
// — sufficient for plugin images assembled as plain directory trees.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
