// Package learner implements the optional Learned Selector: a linear
// regressor trained online over observed scheduling outcomes, consulted by
// the Load Balancer before falling back to its configured strategy.
package learner

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaori-seasons/edgesched/pkg/log"
	"github.com/kaori-seasons/edgesched/pkg/types"
)

// Config configures a Selector.
type Config struct {
	LearningRate        float64
	HistoryWindowSize   int
	MinTrainingSamples  int
	ModelUpdateInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		LearningRate:        0.01,
		HistoryWindowSize:   1000,
		MinTrainingSamples:  100,
		ModelUpdateInterval: time.Hour,
	}
}

// decision is one recorded scheduling outcome: the feature vector observed
// at selection time plus what actually happened.
type decision struct {
	entry    types.DecisionLogEntry
	features map[string]float64
}

// Selector is a linear scorer over a fixed 10-feature vector, fit online by
// stochastic gradient descent against observed task outcomes. Safe for
// concurrent use.
type Selector struct {
	mu              sync.Mutex
	cfg             Config
	weights         map[string]float64
	bias            float64
	decisions       []decision
	next            int
	trainingSamples int
	lastUpdate      time.Time
	logger          zerolog.Logger
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

func New(cfg Config) *Selector {
	return &Selector{
		cfg:        cfg,
		weights:    make(map[string]float64),
		decisions:  make([]decision, 0, cfg.HistoryWindowSize),
		lastUpdate: time.Now(),
		logger:     log.WithComponent("learner"),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the periodic model-update loop.
func (s *Selector) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.ModelUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.updateModel()
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts the update loop and waits for it to exit.
func (s *Selector) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// features builds the 10-element vector SPEC_FULL.md §4.E names, in a
// stable key set so weights accumulate consistently across calls.
func features(w types.WorkerInfo, systemLoad float64, queueLength int) map[string]float64 {
	connLoad := 0.0
	if w.MaxConnections > 0 {
		connLoad = float64(w.CurrentConnections) / float64(w.MaxConnections)
	}
	load := clamp01((connLoad + w.CPUUsage + w.MemoryUsage) / 3)
	total := w.SuccessCount + w.FailureCount
	successRate := 1.0
	if total > 0 {
		successRate = float64(w.SuccessCount) / float64(total)
	}
	return map[string]float64{
		"cpu_usage":           w.CPUUsage,
		"memory_usage":        w.MemoryUsage,
		"current_connections": float64(w.CurrentConnections),
		"load_score":          load,
		"capacity_score":      1 - load,
		"success_rate":        successRate,
		"response_time":       w.AvgResponseTimeMs,
		"system_load":         systemLoad,
		"queue_length":        float64(queueLength),
		"weight":              w.Weight,
	}
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

func (s *Selector) predictLocked(f map[string]float64) float64 {
	score := s.bias
	for name, value := range f {
		score += s.weights[name] * value
	}
	return score
}

// Predict scores every worker and returns the arg-max, or ("", false) if the
// model hasn't seen enough training samples yet — the Balancer interprets
// false as "fall back to the configured strategy".
func (s *Selector) Predict(workers []types.WorkerInfo) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(workers) == 0 || s.trainingSamples < s.cfg.MinTrainingSamples {
		return "", false
	}

	systemLoad := averageLoad(workers)
	best := workers[0]
	bestScore := s.predictLocked(features(best, systemLoad, 0))
	for _, w := range workers[1:] {
		score := s.predictLocked(features(w, systemLoad, 0))
		if score > bestScore {
			best, bestScore = w, score
		}
	}
	return best.ID, true
}

func averageLoad(workers []types.WorkerInfo) float64 {
	if len(workers) == 0 {
		return 0
	}
	var total float64
	for _, w := range workers {
		connLoad := 0.0
		if w.MaxConnections > 0 {
			connLoad = float64(w.CurrentConnections) / float64(w.MaxConnections)
		}
		total += clamp01((connLoad + w.CPUUsage + w.MemoryUsage) / 3)
	}
	return total / float64(len(workers))
}

// RecordDecision appends a scheduling outcome to the ring buffer, trained on
// by the next model update — both Success and Failure outcomes contribute,
// unlike original_source's intelligent_scheduler.rs which silently drops
// Failure outcomes from training (SPEC_FULL.md §4.E calls this out
// explicitly as a deliberate behavioral change, not an oversight).
func (s *Selector) RecordDecision(strategy types.Strategy, workerID string, w types.WorkerInfo, systemLoad float64, queueLength int, success bool, responseMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := decision{
		entry: types.DecisionLogEntry{
			Timestamp:           time.Now(),
			Strategy:            strategy,
			ChosenWorker:        workerID,
			SystemStateSnapshot: map[string]float64{"system_load": systemLoad},
			Success:             success,
			ObservedResponseMs:  responseMs,
		},
		features: features(w, systemLoad, queueLength),
	}

	if len(s.decisions) < s.cfg.HistoryWindowSize {
		s.decisions = append(s.decisions, d)
	} else {
		s.decisions[s.next] = d
		s.next = (s.next + 1) % s.cfg.HistoryWindowSize
	}
}

// RecentDecisions returns up to n of the most recently recorded decisions,
// newest first, for the admin decision-log inspection endpoint.
func (s *Selector) RecentDecisions(n int) []types.DecisionLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.decisions)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]types.DecisionLogEntry, 0, n)
	for i := total - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.decisions[i].entry)
	}
	return out
}

// updateModel runs one online-SGD pass over the whole ring buffer, mirroring
// intelligent_scheduler.rs's update_model: target is 1/(1+response_time_sec)
// on success, 0 on failure; weights and bias nudge toward (target-score) by
// learning_rate each step.
func (s *Selector) updateModel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.decisions) < s.cfg.MinTrainingSamples {
		return
	}

	for _, d := range s.decisions {
		target := 0.0
		if d.entry.Success {
			target = 1.0 / (1.0 + d.entry.ObservedResponseMs/1000)
		}

		prediction := s.predictLocked(d.features)
		errTerm := target - prediction

		s.bias += s.cfg.LearningRate * errTerm
		for name, value := range d.features {
			s.weights[name] += s.cfg.LearningRate * errTerm * value
		}
	}

	s.trainingSamples = len(s.decisions)
	s.lastUpdate = time.Now()
	s.logger.Info().Int("training_samples", s.trainingSamples).Msg("updated learned selector model")
}
