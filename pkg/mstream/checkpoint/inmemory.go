package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/makarski/mstream/pkg/mstream/merr"
)

// maxCheckpointsPerJob caps retention, per
// original_source/src/mongodb/checkpoint.rs's MAX_CHECKPOINTS_PER_JOB,
// applied here too so the in-memory and MongoDB-backed implementations
// behave identically (P4).
const maxCheckpointsPerJob = 20

// InMemory is a process-local Checkpointer, primarily useful for tests and
// single-process deployments.
type InMemory struct {
	mu    sync.RWMutex
	byJob map[string][]Checkpoint
}

func NewInMemory() *InMemory {
	return &InMemory{byJob: map[string][]Checkpoint{}}
}

func (m *InMemory) Load(_ context.Context, jobName string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps := m.byJob[jobName]
	if len(cps) == 0 {
		return Checkpoint{}, merr.CheckpointError(merr.SubNotFound, "checkpoint not found: %s", jobName)
	}
	return cps[0], nil
}

func (m *InMemory) LoadAll(_ context.Context, jobName string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cps := m.byJob[jobName]
	out := make([]Checkpoint, len(cps))
	copy(out, cps)
	return out, nil
}

func (m *InMemory) Save(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cps := append(m.byJob[cp.JobName], cp)
	sort.Slice(cps, func(i, j int) bool { return cps[i].UpdatedAt > cps[j].UpdatedAt })
	if len(cps) > maxCheckpointsPerJob {
		cps = cps[:maxCheckpointsPerJob]
	}
	m.byJob[cp.JobName] = cps
	return nil
}
