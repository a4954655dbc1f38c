package learner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kaori-seasons/edgesched/pkg/types"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinTrainingSamples = 5
	cfg.HistoryWindowSize = 20
	return cfg
}

func TestPredictDeclinesBeforeMinSamples(t *testing.T) {
	s := New(testConfig())
	workers := []types.WorkerInfo{{ID: "w0"}, {ID: "w1"}}

	_, ok := s.Predict(workers)
	assert.False(t, ok)
}

func TestPredictAfterTrainingPrefersFasterWorker(t *testing.T) {
	s := New(testConfig())

	fast := types.WorkerInfo{ID: "fast", MaxConnections: 10, AvgResponseTimeMs: 20, SuccessCount: 9, FailureCount: 1}
	slow := types.WorkerInfo{ID: "slow", MaxConnections: 10, AvgResponseTimeMs: 800, SuccessCount: 5, FailureCount: 5}

	for i := 0; i < 10; i++ {
		s.RecordDecision(types.StrategyAdaptive, "fast", fast, 0.3, 0, true, 20)
		s.RecordDecision(types.StrategyAdaptive, "slow", slow, 0.3, 0, false, 800)
	}
	s.updateModel()

	id, ok := s.Predict([]types.WorkerInfo{fast, slow})
	assert.True(t, ok)
	assert.Equal(t, "fast", id)
}

func TestRecordDecisionWrapsRingBuffer(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryWindowSize = 3
	s := New(cfg)
	w := types.WorkerInfo{ID: "w0"}

	for i := 0; i < 5; i++ {
		s.RecordDecision(types.StrategyRoundRobin, "w0", w, 0, 0, true, 10)
	}

	assert.Len(t, s.decisions, 3)
}

func TestRecentDecisionsReturnsNewestFirst(t *testing.T) {
	s := New(testConfig())
	w := types.WorkerInfo{ID: "w0"}
	s.RecordDecision(types.StrategyRoundRobin, "a", w, 0, 0, true, 1)
	s.RecordDecision(types.StrategyRoundRobin, "b", w, 0, 0, true, 1)
	s.RecordDecision(types.StrategyRoundRobin, "c", w, 0, 0, true, 1)

	got := s.RecentDecisions(2)
	assert := assert.New(t)
	assert.Len(got, 2)
	assert.Equal("c", got[0].ChosenWorker)
	assert.Equal("b", got[1].ChosenWorker)
}

func TestUpdateModelNoopBelowMinSamples(t *testing.T) {
	s := New(testConfig())
	w := types.WorkerInfo{ID: "w0"}
	s.RecordDecision(types.StrategyRoundRobin, "w0", w, 0, 0, true, 10)

	s.updateModel()
	assert.Equal(t, 0, s.trainingSamples)
}

func TestStartStopDoesNotBlock(t *testing.T) {
	cfg := testConfig()
	cfg.ModelUpdateInterval = time.Millisecond
	s := New(cfg)
	s.Start()
	time.Sleep(5 * time.Millisecond)
	s.Stop()
}
