// Package balancer implements the Load Balancer (worker selection across the
// 8 strategies, EWMA response-time tracking and dynamic strategy tuning).
package balancer

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaori-seasons/edgesched/pkg/apperr"
	"github.com/kaori-seasons/edgesched/pkg/log"
	"github.com/kaori-seasons/edgesched/pkg/metrics"
	"github.com/kaori-seasons/edgesched/pkg/types"
)

// ewmaAlpha weights new samples against AvgResponseTimeMs's running value.
const ewmaAlpha = 0.1

// workerExpiry is how long a worker may go without a heartbeat before
// cleanupExpiredWorkers removes it.
const workerExpiry = 90 * time.Second

// Thresholds drives AdjustStrategyDynamically's decision table.
type Thresholds struct {
	HighLoad            float64
	LowLoad             float64
	HighResponseTimeMs  float64
	LowResponseTimeMs   float64
	MinAdjustmentPeriod time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		HighLoad:            0.8,
		LowLoad:             0.3,
		HighResponseTimeMs:  200,
		LowResponseTimeMs:   50,
		MinAdjustmentPeriod: 60 * time.Second,
	}
}

// Config configures a Balancer.
type Config struct {
	Strategy                     types.Strategy
	MaxConnectionsPerWorker      int
	IntelligentSchedulingEnabled bool
	Thresholds                   Thresholds
}

func DefaultConfig() Config {
	return Config{
		Strategy:                     types.StrategyAdaptive,
		MaxConnectionsPerWorker:      10,
		IntelligentSchedulingEnabled: false,
		Thresholds:                   DefaultThresholds(),
	}
}

// Learner is satisfied by pkg/learner.Selector; optional, consulted first
// when IntelligentSchedulingEnabled is set, with fallback to the configured
// strategy on a miss.
type Learner interface {
	Predict(workers []types.WorkerInfo) (string, bool)
	RecordDecision(strategy types.Strategy, workerID string, w types.WorkerInfo, systemLoad float64, queueLength int, success bool, responseMs float64)
}

// Balancer selects a worker for each dispatched task and tracks worker
// health/performance between dispatches. Satisfies pkg/scheduler.Balancer.
type Balancer struct {
	mu              sync.RWMutex
	cfg             Config
	strategy        types.Strategy
	workers         map[string]*types.WorkerInfo
	roundRobinIndex int
	learner         Learner
	lastAdjustment  time.Time
	logger          zerolog.Logger
}

func New(cfg Config, learner Learner) *Balancer {
	return &Balancer{
		cfg:            cfg,
		strategy:       cfg.Strategy,
		workers:        make(map[string]*types.WorkerInfo),
		learner:        learner,
		lastAdjustment: time.Now(),
		logger:         log.WithComponent("balancer"),
	}
}

// RegisterWorker adds a worker with full capacity and health.
func (b *Balancer) RegisterWorker(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workers[id] = &types.WorkerInfo{
		ID:             id,
		MaxConnections: b.cfg.MaxConnectionsPerWorker,
		Weight:         1,
		LastHeartbeat:  time.Now(),
		IsHealthy:      true,
	}
}

// UnregisterWorker removes a worker immediately.
func (b *Balancer) UnregisterWorker(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.workers, id)
}

// Workers returns a snapshot of all known workers.
func (b *Balancer) Workers() []types.WorkerInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.WorkerInfo, 0, len(b.workers))
	for _, w := range b.workers {
		out = append(out, *w)
	}
	return out
}

// Update folds a fresh health-check sample into the worker's running
// metrics: CPU/memory are overwritten, AvgResponseTimeMs is updated via
// EWMA(alpha=0.1) exactly like original_source's update_metrics.
func (b *Balancer) Update(workerID string, cpuUsage, memUsage, responseMs float64, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.workers[workerID]
	if !ok {
		return
	}
	w.CPUUsage = cpuUsage
	w.MemoryUsage = memUsage
	if w.AvgResponseTimeMs == 0 {
		w.AvgResponseTimeMs = responseMs
	} else {
		w.AvgResponseTimeMs = ewmaAlpha*responseMs + (1-ewmaAlpha)*w.AvgResponseTimeMs
	}
	w.IsHealthy = healthy
	w.LastHeartbeat = time.Now()
}

// RecordOutcome folds a task's terminal success/failure into the worker's
// running counts, the input to successRate.
func (b *Balancer) RecordOutcome(workerID string, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.workers[workerID]
	if !ok {
		return
	}
	if success {
		w.SuccessCount++
	} else {
		w.FailureCount++
	}
	if b.learner != nil {
		// queue_length is unavailable at this layer (owned by the
		// Scheduler, not the Balancer) — passed as 0, same simplification
		// original_source's try_intelligent_selection leaves as a TODO.
		b.learner.RecordDecision(b.strategy, workerID, *w, b.systemLoad(), 0, success, w.AvgResponseTimeMs)
	}
}

// Release decrements a worker's in-flight connection count after dispatch
// completes, mirroring decrement_connections.
func (b *Balancer) Release(workerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.workers[workerID]; ok && w.CurrentConnections > 0 {
		w.CurrentConnections--
	}
}

// Select picks a worker using the configured strategy, falling back to the
// Learner (if enabled) first and the traditional strategies on a miss.
// algorithm is accepted for parity with the Scheduler's Balancer interface
// but does not affect selection: worker placement is algorithm-agnostic.
func (b *Balancer) Select(algorithm string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	available := b.availableWorkersLocked()
	if len(available) == 0 {
		return "", apperr.New(apperr.KindResourceExhausted, "no available workers")
	}

	strategy := b.strategy
	var chosen string
	if b.cfg.IntelligentSchedulingEnabled && b.learner != nil {
		snapshot := make([]types.WorkerInfo, len(available))
		for i, w := range available {
			snapshot[i] = *w
		}
		if id, ok := b.learner.Predict(snapshot); ok {
			chosen = id
		} else {
			b.logger.Debug().Msg("learner declined, falling back to traditional strategy")
		}
	}
	if chosen == "" {
		chosen = b.selectTraditional(strategy, available)
	}

	w, ok := b.workers[chosen]
	if !ok {
		return "", apperr.New(apperr.KindResourceExhausted, "no available workers")
	}
	w.CurrentConnections++
	metrics.StrategySelectionsTotal.WithLabelValues(string(strategy)).Inc()
	return chosen, nil
}

// availableWorkersLocked returns healthy, non-saturated workers sorted by
// ID so every strategy's tie-break (lowest worker_id) falls out of a plain
// strict "<" comparison over a deterministic iteration order.
func (b *Balancer) availableWorkersLocked() []*types.WorkerInfo {
	out := make([]*types.WorkerInfo, 0, len(b.workers))
	for _, w := range b.workers {
		if w.IsHealthy && w.CurrentConnections < w.MaxConnections {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Balancer) selectTraditional(strategy types.Strategy, workers []*types.WorkerInfo) string {
	switch strategy {
	case types.StrategyRoundRobin:
		return b.selectRoundRobinLocked(workers)
	case types.StrategyLeastConnections:
		return selectLeastConnections(workers)
	case types.StrategyWeighted:
		return selectWeighted(workers)
	case types.StrategyRandom:
		return selectRandom(workers)
	case types.StrategyLoadAware:
		return selectLoadAware(workers)
	case types.StrategyResponseTimeAware:
		return selectResponseTimeAware(workers)
	case types.StrategyResourceAware:
		return selectResourceAware(workers)
	case types.StrategyAdaptive:
		fallthrough
	default:
		return selectAdaptive(workers)
	}
}

func (b *Balancer) selectRoundRobinLocked(workers []*types.WorkerInfo) string {
	w := workers[b.roundRobinIndex%len(workers)]
	b.roundRobinIndex++
	return w.ID
}

func selectLeastConnections(workers []*types.WorkerInfo) string {
	best := workers[0]
	for _, w := range workers[1:] {
		if w.CurrentConnections < best.CurrentConnections {
			best = w
		}
	}
	return best.ID
}

func selectWeighted(workers []*types.WorkerInfo) string {
	var total float64
	for _, w := range workers {
		total += w.Weight
	}
	if total <= 0 {
		return workers[0].ID
	}
	r := rand.Float64() * total
	for _, w := range workers {
		if r < w.Weight {
			return w.ID
		}
		r -= w.Weight
	}
	return workers[0].ID
}

func selectRandom(workers []*types.WorkerInfo) string {
	return workers[rand.Intn(len(workers))].ID
}

func selectResponseTimeAware(workers []*types.WorkerInfo) string {
	best := workers[0]
	for _, w := range workers[1:] {
		if w.AvgResponseTimeMs < best.AvgResponseTimeMs {
			best = w
		}
	}
	return best.ID
}

func selectResourceAware(workers []*types.WorkerInfo) string {
	best := workers[0]
	bestUtil := (best.CPUUsage + best.MemoryUsage) / 2
	for _, w := range workers[1:] {
		util := (w.CPUUsage + w.MemoryUsage) / 2
		if util < bestUtil {
			best, bestUtil = w, util
		}
	}
	return best.ID
}

// selectAdaptive picks the arg-min adaptiveScore, matching SPEC_FULL.md
// §4.D's strategy table and original_source's select_adaptive (both take
// min_by over a score that rewards high capacity/low load/high success/low
// latency — counterintuitive for a "higher is better" score, but preserved
// deliberately rather than silently inverted).
func selectAdaptive(workers []*types.WorkerInfo) string {
	best := workers[0]
	bestScore := adaptiveScore(best)
	for _, w := range workers[1:] {
		if s := adaptiveScore(w); s < bestScore {
			best, bestScore = w, s
		}
	}
	return best.ID
}

func selectLoadAware(workers []*types.WorkerInfo) string {
	best := workers[0]
	bestLoad := predictLoad(best)
	for _, w := range workers[1:] {
		if l := predictLoad(w); l < bestLoad {
			best, bestLoad = w, l
		}
	}
	return best.ID
}

// loadScore blends connection saturation with CPU/memory utilization into a
// single 0..1 figure: the fraction of capacity in use across all three
// dimensions, averaged.
func loadScore(w *types.WorkerInfo) float64 {
	connLoad := 0.0
	if w.MaxConnections > 0 {
		connLoad = float64(w.CurrentConnections) / float64(w.MaxConnections)
	}
	return clamp01((connLoad + w.CPUUsage + w.MemoryUsage) / 3)
}

// capacityScore is the complement of loadScore: how much headroom remains.
func capacityScore(w *types.WorkerInfo) float64 {
	return 1 - loadScore(w)
}

// successRate is SuccessCount / total completed tasks, defaulting to 1.0
// (optimistic) for a worker with no completed tasks yet.
func successRate(w *types.WorkerInfo) float64 {
	total := w.SuccessCount + w.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(w.SuccessCount) / float64(total)
}

// isExpired reports whether a worker has gone silent past workerExpiry.
func isExpired(w *types.WorkerInfo) bool {
	return time.Since(w.LastHeartbeat) > workerExpiry
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// adaptiveScore mirrors calculate_adaptive_score: capacity weighted 40%,
// inverse load 30%, success rate 20%, inverse response-time penalty 10%.
// selectAdaptive takes the arg-min of this score, per SPEC_FULL.md §4.D.
func adaptiveScore(w *types.WorkerInfo) float64 {
	responseTimePenalty := w.AvgResponseTimeMs / 1000
	if responseTimePenalty > 1 {
		responseTimePenalty = 1
	}
	return capacityScore(w)*0.4 +
		(1-loadScore(w))*0.3 +
		successRate(w)*0.2 +
		(1-responseTimePenalty)*0.1
}

// predictLoad extrapolates current load by a trend factor derived from
// recent success rate and response time, mirroring predict_worker_load /
// calculate_load_trend.
func predictLoad(w *types.WorkerInfo) float64 {
	trend := loadTrend(w)
	predicted := loadScore(w) + trend
	if predicted > 1 {
		return 1
	}
	return predicted
}

func loadTrend(w *types.WorkerInfo) float64 {
	sr := successRate(w)
	switch {
	case sr > 0.95 && w.AvgResponseTimeMs < 100:
		return -0.1
	case sr < 0.85 || w.AvgResponseTimeMs > 200:
		return 0.1
	default:
		return 0
	}
}

// systemLoad averages loadScore across all known workers.
func (b *Balancer) systemLoad() float64 {
	if len(b.workers) == 0 {
		return 0
	}
	var total float64
	for _, w := range b.workers {
		total += loadScore(w)
	}
	return total / float64(len(b.workers))
}

func (b *Balancer) averageResponseTime() float64 {
	if len(b.workers) == 0 {
		return 0
	}
	var total float64
	for _, w := range b.workers {
		total += w.AvgResponseTimeMs
	}
	return total / float64(len(b.workers))
}

// AdjustStrategyDynamically re-evaluates the active strategy against
// current system load and average response time, mirroring
// adjust_strategy_dynamically/determine_optimal_strategy.
func (b *Balancer) AdjustStrategyDynamically() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if time.Since(b.lastAdjustment) < b.cfg.Thresholds.MinAdjustmentPeriod {
		return
	}

	load := b.systemLoad()
	respMs := b.averageResponseTime()
	next := b.determineOptimalStrategy(load, respMs)

	if next != b.strategy {
		b.logger.Info().
			Str("from", string(b.strategy)).
			Str("to", string(next)).
			Float64("system_load", load).
			Float64("avg_response_ms", respMs).
			Msg("dynamically adjusted load balancing strategy")
		b.strategy = next
		b.lastAdjustment = time.Now()
	}
}

func (b *Balancer) determineOptimalStrategy(load, respMs float64) types.Strategy {
	th := b.cfg.Thresholds
	switch {
	case load > th.HighLoad:
		if respMs > th.HighResponseTimeMs {
			return types.StrategyResourceAware
		}
		return types.StrategyLeastConnections
	case load > th.LowLoad:
		if respMs > th.HighResponseTimeMs {
			return types.StrategyResponseTimeAware
		}
		return types.StrategyAdaptive
	default:
		if respMs < th.LowResponseTimeMs {
			return types.StrategyLoadAware
		}
		return types.StrategyRoundRobin
	}
}

// CleanupExpiredWorkers removes any worker whose last heartbeat is older
// than workerExpiry, mirroring cleanup_expired_workers.
func (b *Balancer) CleanupExpiredWorkers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, w := range b.workers {
		if isExpired(w) {
			delete(b.workers, id)
			b.logger.Warn().Str("worker_id", id).Msg("removed expired worker")
		}
	}
}

// Status is a point-in-time snapshot for the HTTP admin surface.
type Status struct {
	Strategy         types.Strategy
	TotalWorkers     int
	AvailableWorkers int
	Workers          []types.WorkerInfo
}

func (b *Balancer) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Status{Strategy: b.strategy, TotalWorkers: len(b.workers)}
	for _, w := range b.workers {
		s.Workers = append(s.Workers, *w)
		if w.IsHealthy && w.CurrentConnections < w.MaxConnections {
			s.AvailableWorkers++
		}
	}
	return s
}
