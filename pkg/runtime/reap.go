package runtime

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/kaori-seasons/edgesched/pkg/log"
)

// BundleRetention is how long a bundle directory under RuntimeDir is kept
// after its container leaves the in-memory table before Reap considers it
// stale. Debug mode (which skips the Executor's workspace cleanup) is the
// main source of bundles that outlive their container record, e.g. across a
// process restart.
const BundleRetention = time.Hour

// Reap removes bundle directories under cfg.RuntimeDir that no longer
// correspond to a tracked container and are older than BundleRetention.
// Satisfies pkg/scheduler.BundleReaper. Best-effort: a directory that fails
// to remove is logged and skipped rather than aborting the sweep, per §9
// Open Question 4 ("bundle GC under debug mode is best-effort, not a
// guarantee").
func (m *Manager) Reap(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.cfg.RuntimeDir)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	tracked := make(map[string]struct{}, len(m.containers))
	for id := range m.containers {
		tracked[id] = struct{}{}
	}
	m.mu.Unlock()

	logger := log.WithComponent("runtime")
	reaped := 0
	cutoff := time.Now().Add(-BundleRetention)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := tracked[entry.Name()]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.cfg.RuntimeDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn().Err(err).Str("bundle_path", path).Msg("failed to reap stale bundle")
			continue
		}
		reaped++
	}

	if reaped > 0 {
		logger.Info().Int("count", reaped).Msg("reaped stale bundles")
	}
	return reaped, nil
}
