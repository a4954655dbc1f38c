package metrics

import (
	"time"

	"github.com/kaori-seasons/edgesched/pkg/types"
)

// SchedulerSource is the subset of the Scheduler's surface the collector
// needs. Defined here rather than imported to avoid a metrics->scheduler
// import cycle (the scheduler package imports metrics to record counters).
type SchedulerSource interface {
	QueueStatus() types.QueueStatus
}

// BalancerSource is the subset of the Load Balancer's surface the collector
// needs.
type BalancerSource interface {
	Workers() []types.WorkerInfo
}

// RuntimeSource is the subset of the Container Manager's surface the
// collector needs.
type RuntimeSource interface {
	List() []types.Container
}

// RegistrySource is the subset of the Plugin Registry's surface the
// collector needs.
type RegistrySource interface {
	List() []types.PluginDescriptor
}

// Collector periodically snapshots gauge-style state (queue depth, worker
// counts, container counts) into the package's Prometheus metrics. Counters
// and histograms are updated inline by their owning components; this only
// covers metrics better expressed as point-in-time snapshots.
type Collector struct {
	scheduler SchedulerSource
	balancer  BalancerSource
	runtime   RuntimeSource
	registry  RegistrySource
	interval  time.Duration
	stopCh    chan struct{}
}

// NewCollector creates a collector over the given component sources. Any
// source may be nil, in which case the corresponding metrics are skipped.
func NewCollector(scheduler SchedulerSource, balancer BalancerSource, rt RuntimeSource, registry RegistrySource) *Collector {
	return &Collector{
		scheduler: scheduler,
		balancer:  balancer,
		runtime:   rt,
		registry:  registry,
		interval:  15 * time.Second,
		stopCh:    make(chan struct{}),
	}
}

// Start begins collecting metrics on a ticker until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector's background ticker.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectSchedulerMetrics()
	c.collectWorkerMetrics()
	c.collectContainerMetrics()
}

func (c *Collector) collectSchedulerMetrics() {
	if c.scheduler == nil {
		return
	}
	status := c.scheduler.QueueStatus()
	QueueDepth.Set(float64(status.Queued))
	ActiveTasks.Set(float64(status.Active))
}

func (c *Collector) collectWorkerMetrics() {
	if c.balancer == nil {
		return
	}
	healthy, unhealthy := 0, 0
	for _, w := range c.balancer.Workers() {
		if w.IsHealthy {
			healthy++
		} else {
			unhealthy++
		}
	}
	WorkersTotal.WithLabelValues("true").Set(float64(healthy))
	WorkersTotal.WithLabelValues("false").Set(float64(unhealthy))
}

func (c *Collector) collectContainerMetrics() {
	if c.runtime == nil {
		return
	}
	counts := make(map[types.ContainerState]int)
	for _, ctr := range c.runtime.List() {
		counts[ctr.Lifecycle]++
	}
	for state, count := range counts {
		ContainersTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}
