// Package types holds the domain entities shared by the registry, runtime,
// executor, balancer, learner and scheduler packages.
package types

import "time"

// Priority orders ScheduledTask admission. Higher values are dequeued first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Status is the terminal or in-flight outcome of a Request.
type Status string

const (
	StatusQueued            Status = "queued"
	StatusActive            Status = "active"
	StatusSuccess           Status = "success"
	StatusFailure           Status = "failure"
	StatusTimeout           Status = "timeout"
	StatusCancelled         Status = "cancelled"
	StatusResourceExhausted Status = "resource_exhausted"
)

// Request is created by the HTTP surface and consumed by the Scheduler. It is
// immutable once submitted.
type Request struct {
	ID         string
	Algorithm  string
	Parameters any
	Timeout    time.Duration
}

// ScheduledTask wraps a Request with scheduling metadata. Owned exclusively
// by the Scheduler; re-enqueued in place on retry.
type ScheduledTask struct {
	Request     Request
	Priority    Priority
	SubmittedAt time.Time
	RetryCount  int
	MaxRetries  int
	CancelCh    chan struct{}
}

// Response is returned to the caller once a task reaches a terminal state.
type Response struct {
	TaskID          string
	Status          Status
	Result          any
	Error           string
	ExecutionTimeMs int64
	ResourceUsage   ResourceUsage
}

// ResourceUsage reports per-invocation resource accounting. MemoryPeakBytes
// and the Rx/Tx fields supplement the distilled spec's single snapshot with
// the richer accounting original_source's type_converter.rs tracks.
type ResourceUsage struct {
	CPUTotal        float64
	MemoryBytes     int64
	MemoryPeakBytes int64
	NetworkRxBytes  int64
	NetworkTxBytes  int64
}

// ResourceRequirements describes what a plugin needs to run.
type ResourceRequirements struct {
	CPUCores    float64
	MemoryMB    int64
	DiskMB      int64
	NetworkMbps *int64
}

// PluginDescriptor is the schema/resource side of a registered plugin.
type PluginDescriptor struct {
	Name                 string
	Version              string
	Description          string
	Tags                 []string
	InputSchema          map[string]any
	OutputSchema         map[string]any
	ResourceRequirements ResourceRequirements
	Timeout              time.Duration
	MaxConcurrent        int
}

// Mount describes a bind mount into the container.
type Mount struct {
	HostPath      string
	ContainerPath string
	Options       []string
	ReadOnly      bool
}

// PluginImage is the execution side of a registered plugin, paired with a
// PluginDescriptor by Name.
type PluginImage struct {
	ImageName    string
	ImageVersion string
	RootfsPath   string
	Command      []string
	Environment  map[string]string
	Mounts       []Mount
}

// ContainerState is the Container Manager's lifecycle state machine.
type ContainerState string

const (
	ContainerStateCreating  ContainerState = "creating"
	ContainerStateRunning   ContainerState = "running"
	ContainerStateStopped   ContainerState = "stopped"
	ContainerStateDestroyed ContainerState = "destroyed"
	ContainerStateError     ContainerState = "error"
)

// ContainerConfig is what the Executor builds and hands to the Container
// Manager's create operation.
type ContainerConfig struct {
	Command      []string
	Environment  map[string]string
	Mounts       []Mount
	CPUCores     float64
	MemoryBytes  int64
	RootfsSource string // non-empty: copy/bind from a plugin image; empty: synthesize a minimal skeleton rootfs
}

// Container is owned by the Container Manager for its entire lifetime.
type Container struct {
	ID            string
	BundlePath    string
	Lifecycle     ContainerState
	ErrorMessage  string
	AlgorithmName string
	CreatedAt     time.Time
	PID           int
}

// ContainerStats is a best-effort resource snapshot for a running container.
type ContainerStats struct {
	CPUTotal    float64
	MemoryBytes int64
	NetworkRx   int64
	NetworkTx   int64
}

// ExecutionRecord is the Executor's full accounting of one invocation.
type ExecutionRecord struct {
	ExecutionID string
	ContainerID string
	Status      Status
	Result      any
	Error       string
	DurationMs  int64
	Usage       ResourceUsage
	StartedAt   time.Time
	FinishedAt  time.Time
}

// WorkerInfo is owned by the Load Balancer and mutated only through its API.
type WorkerInfo struct {
	ID                 string
	MaxConnections     int
	CurrentConnections int
	CPUUsage           float64
	MemoryUsage        float64
	AvgResponseTimeMs  float64
	SuccessCount       int64
	FailureCount       int64
	Weight             float64
	LastHeartbeat      time.Time
	IsHealthy          bool
}

// Strategy is one of the Load Balancer's worker-selection policies.
type Strategy string

const (
	StrategyRoundRobin        Strategy = "round_robin"
	StrategyLeastConnections  Strategy = "least_connections"
	StrategyWeighted          Strategy = "weighted"
	StrategyRandom            Strategy = "random"
	StrategyResponseTimeAware Strategy = "response_time_aware"
	StrategyResourceAware     Strategy = "resource_aware"
	StrategyLoadAware         Strategy = "load_aware"
	StrategyAdaptive          Strategy = "adaptive"
)

// DecisionLogEntry is a single Learned Selector decision, retained in a
// bounded ring buffer for later training and operator inspection.
type DecisionLogEntry struct {
	Timestamp           time.Time
	Strategy            Strategy
	ChosenWorker        string
	SystemStateSnapshot map[string]float64
	Success             bool
	ObservedResponseMs  float64
}

// QueueStatus is the Scheduler's point-in-time admission snapshot.
type QueueStatus struct {
	Queued        int
	Active        int
	MaxConcurrent int
}
