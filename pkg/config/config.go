// Package config loads edgesched's YAML configuration file into the typed
// config structs each component package exposes, the way cmd/warren/apply.go
// reads a resource file with gopkg.in/yaml.v3.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kaori-seasons/edgesched/pkg/apperr"
	"github.com/kaori-seasons/edgesched/pkg/balancer"
	"github.com/kaori-seasons/edgesched/pkg/executor"
	"github.com/kaori-seasons/edgesched/pkg/log"
	"github.com/kaori-seasons/edgesched/pkg/runtime"
	"github.com/kaori-seasons/edgesched/pkg/scheduler"
	"github.com/kaori-seasons/edgesched/pkg/types"
)

// PluginEntry is one plugin/image pair loaded from a manifest file at
// startup, per §10's "plugin register/list ... against the in-memory
// registry at startup from a plugins manifest file".
type PluginEntry struct {
	Name          string            `yaml:"name"`
	Version       string            `yaml:"version"`
	Description   string            `yaml:"description"`
	Tags          []string          `yaml:"tags"`
	CPUCores      float64           `yaml:"cpu_cores"`
	MemoryMB      int64             `yaml:"memory_mb"`
	TimeoutSec    int               `yaml:"timeout_seconds"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	RootfsPath    string            `yaml:"rootfs_path"`
	Command       []string          `yaml:"command"`
	Environment   map[string]string `yaml:"environment"`
}

// Descriptor projects a PluginEntry into the types.PluginDescriptor half of
// a registry.Register call.
func (p PluginEntry) Descriptor() types.PluginDescriptor {
	return types.PluginDescriptor{
		Name:        p.Name,
		Version:     p.Version,
		Description: p.Description,
		Tags:        p.Tags,
		ResourceRequirements: types.ResourceRequirements{
			CPUCores: p.CPUCores,
			MemoryMB: p.MemoryMB,
		},
		Timeout:       time.Duration(p.TimeoutSec) * time.Second,
		MaxConcurrent: p.MaxConcurrent,
	}
}

// Image projects a PluginEntry into the types.PluginImage half of a
// registry.Register call.
func (p PluginEntry) Image() types.PluginImage {
	return types.PluginImage{
		ImageName:    p.Name,
		ImageVersion: p.Version,
		RootfsPath:   p.RootfsPath,
		Command:      p.Command,
		Environment:  p.Environment,
	}
}

// File is the root of edgesched's YAML configuration (§10 "Environment").
type File struct {
	Scheduler    SchedulerSection    `yaml:"scheduler"`
	LoadBalancer LoadBalancerSection `yaml:"load_balancer"`
	Runtime      RuntimeSection      `yaml:"runtime"`
	Limits       LimitsSection       `yaml:"limits"`
	HTTP         HTTPSection         `yaml:"http"`
	Metrics      MetricsSection      `yaml:"metrics"`
	Log          LogSection          `yaml:"log"`
	Plugins      []PluginEntry       `yaml:"plugins"`
}

type SchedulerSection struct {
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
	QueueSize          int `yaml:"queue_size"`
	TaskTimeoutSeconds int `yaml:"task_timeout_seconds"`
	DefaultMaxRetries  int `yaml:"default_max_retries"`
}

type LoadBalancerSection struct {
	Strategy                     string `yaml:"strategy"`
	UpdateIntervalMs             int    `yaml:"update_interval_ms"`
	IntelligentSchedulingEnabled bool   `yaml:"intelligent_scheduling_enabled"`
}

type RuntimeSection struct {
	RuntimeDir            string `yaml:"runtime_dir"`
	WorkspaceDir          string `yaml:"workspace_dir"`
	DefaultTimeoutSeconds int    `yaml:"default_timeout_seconds"`
	DebugMode             bool   `yaml:"debug_mode"`
	RuntimeBinary         string `yaml:"runtime_binary"`
}

type LimitsSection struct {
	DefaultMemoryBytes int64   `yaml:"default_memory_bytes"`
	DefaultCPUCores    float64 `yaml:"default_cpu_cores"`
}

type HTTPSection struct {
	ListenAddr string `yaml:"listen_addr"`
}

type MetricsSection struct {
	ListenAddr string `yaml:"listen_addr"`
}

type LogSection struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration edgesched starts with when no file is
// supplied, built from each component's own DefaultConfig.
func Default() File {
	sched := scheduler.DefaultConfig()
	bal := balancer.DefaultConfig()
	rt := runtime.DefaultConfig("./edgesched-data/runtime")

	return File{
		Scheduler: SchedulerSection{
			MaxConcurrentTasks: sched.MaxConcurrentTasks,
			QueueSize:          sched.QueueSize,
			TaskTimeoutSeconds: int(sched.DefaultTaskTimeout.Seconds()),
			DefaultMaxRetries:  sched.DefaultMaxRetries,
		},
		LoadBalancer: LoadBalancerSection{
			Strategy:                     string(bal.Strategy),
			UpdateIntervalMs:             int(sched.LoadBalancerUpdateInterval.Milliseconds()),
			IntelligentSchedulingEnabled: bal.IntelligentSchedulingEnabled,
		},
		Runtime: RuntimeSection{
			RuntimeDir:            rt.RuntimeDir,
			WorkspaceDir:          "./edgesched-data/workspace",
			DefaultTimeoutSeconds: 300,
			DebugMode:             false,
			RuntimeBinary:         rt.RuntimeBinary,
		},
		Limits: LimitsSection{
			DefaultMemoryBytes: 512 * 1024 * 1024,
			DefaultCPUCores:    1.0,
		},
		HTTP:    HTTPSection{ListenAddr: "0.0.0.0:8080"},
		Metrics: MetricsSection{ListenAddr: "127.0.0.1:9090"},
		Log:     LogSection{Level: "info", JSON: false},
	}
}

// Load reads and parses path, falling back to Default for any field the file
// omits. An empty path returns Default unmodified.
func Load(path string) (File, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, apperr.Wrap(apperr.KindConfig, "failed to read config file", err).WithContext("path", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return File{}, apperr.Wrap(apperr.KindConfig, "failed to parse config file", err).WithContext("path", path)
	}
	return cfg, nil
}

// SchedulerConfig projects File into pkg/scheduler.Config.
func (f File) SchedulerConfig() scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.MaxConcurrentTasks = f.Scheduler.MaxConcurrentTasks
	cfg.QueueSize = f.Scheduler.QueueSize
	cfg.DefaultTaskTimeout = time.Duration(f.Scheduler.TaskTimeoutSeconds) * time.Second
	cfg.DefaultMaxRetries = f.Scheduler.DefaultMaxRetries
	cfg.LoadBalancerUpdateInterval = time.Duration(f.LoadBalancer.UpdateIntervalMs) * time.Millisecond
	return cfg
}

// BalancerConfig projects File into pkg/balancer.Config.
func (f File) BalancerConfig() balancer.Config {
	cfg := balancer.DefaultConfig()
	if f.LoadBalancer.Strategy != "" {
		cfg.Strategy = types.Strategy(f.LoadBalancer.Strategy)
	}
	cfg.IntelligentSchedulingEnabled = f.LoadBalancer.IntelligentSchedulingEnabled
	return cfg
}

// RuntimeConfig projects File into pkg/runtime.Config.
func (f File) RuntimeConfig() runtime.Config {
	cfg := runtime.DefaultConfig(f.Runtime.RuntimeDir)
	if f.Runtime.RuntimeBinary != "" {
		cfg.RuntimeBinary = f.Runtime.RuntimeBinary
	}
	return cfg
}

// ExecutorConfig projects File into pkg/executor.Config.
func (f File) ExecutorConfig() executor.Config {
	cfg := executor.DefaultConfig(f.Runtime.WorkspaceDir)
	cfg.DebugMode = f.Runtime.DebugMode
	return cfg
}

// LogConfig projects File into pkg/log.Config.
func (f File) LogConfig() log.Config {
	level := log.InfoLevel
	switch f.Log.Level {
	case "debug":
		level = log.DebugLevel
	case "warn":
		level = log.WarnLevel
	case "error":
		level = log.ErrorLevel
	}
	return log.Config{Level: level, JSONOutput: f.Log.JSON}
}
