package job

import (
	"context"
	"testing"

	"github.com/makarski/mstream/pkg/mstream/config"
	"github.com/makarski/mstream/pkg/mstream/merr"
	"github.com/makarski/mstream/pkg/mstream/metrics"
	"github.com/makarski/mstream/pkg/mstream/registry"
)

// fakeStorage lets DependentJobs be controlled independently of the
// InMemoryStore's automatic reverse index, to exercise Manager.RemoveService
// in isolation.
type fakeStorage struct {
	jobs    map[string]Metadata
	depsFor map[string][]string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{jobs: map[string]Metadata{}, depsFor: map[string][]string{}}
}

func (s *fakeStorage) ListAll(_ context.Context) ([]Metadata, error) {
	out := make([]Metadata, 0, len(s.jobs))
	for _, m := range s.jobs {
		out = append(out, m)
	}
	return out, nil
}

func (s *fakeStorage) Save(_ context.Context, metadata Metadata) error {
	s.jobs[metadata.Name] = metadata
	return nil
}

func (s *fakeStorage) Get(_ context.Context, name string) (Metadata, bool, error) {
	m, ok := s.jobs[name]
	return m, ok, nil
}

func (s *fakeStorage) DependentJobs(_ context.Context, serviceName string) ([]string, error) {
	return s.depsFor[serviceName], nil
}

func newTestRegistry() *registry.Registry {
	return registry.New(registry.NewInMemoryStorage(), nil)
}

func TestRemoveServiceRefusedWhenJobDependsOnIt(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	storage.depsFor["mongo-a"] = []string{"orders-sync"}

	m := New(newTestRegistry(), storage, nil, nil)

	err := m.RemoveService(ctx, "mongo-a")
	if err == nil {
		t.Fatal("expected service-in-use error")
	}
	cause := merr.Cause(err)
	if cause == nil || cause.Sub != merr.SubServiceInUse {
		t.Fatalf("expected service_in_use error, got %v", err)
	}
}

func TestRemoveServiceDelegatesToRegistryWhenNoDependents(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()
	if err := reg.RegisterService(ctx, config.Service{Name: "http-a", Provider: config.ProviderHTTP, HostURL: "http://example.invalid"}); err != nil {
		t.Fatalf("register service: %v", err)
	}

	m := New(reg, newFakeStorage(), nil, nil)

	if err := m.RemoveService(ctx, "http-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := reg.HTTPClient("http-a"); err == nil {
		t.Fatal("expected http client to be gone after removal")
	}
}

func TestRemoveServiceUnknownServicePropagatesFromRegistry(t *testing.T) {
	ctx := context.Background()
	m := New(newTestRegistry(), newFakeStorage(), nil, nil)

	err := m.RemoveService(ctx, "never-registered")
	if err == nil {
		t.Fatal("expected unknown service error")
	}
	cause := merr.Cause(err)
	if cause == nil || cause.Sub != merr.SubUnknownService {
		t.Fatalf("expected unknown_service error, got %v", err)
	}
}

func TestJobStateCountsGroupsByState(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	storage.jobs["a"] = Metadata{Name: "a", State: StateRunning}
	storage.jobs["b"] = Metadata{Name: "b", State: StateRunning}
	storage.jobs["c"] = Metadata{Name: "c", State: StateStopped}
	storage.jobs["d"] = Metadata{Name: "d", State: StateFailed}

	m := New(newTestRegistry(), storage, nil, nil)

	counts, err := m.JobStateCounts(ctx)
	if err != nil {
		t.Fatalf("job state counts: %v", err)
	}
	if counts[StateRunning] != 2 || counts[StateStopped] != 1 || counts[StateFailed] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestGetJobUnknown(t *testing.T) {
	m := New(newTestRegistry(), newFakeStorage(), nil, nil)
	_, err := m.GetJob(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected unknown job error")
	}
	cause := merr.Cause(err)
	if cause == nil || cause.Sub != merr.SubUnknownJob {
		t.Fatalf("expected unknown_job error, got %v", err)
	}
}

func TestListJobsDelegatesToStorage(t *testing.T) {
	ctx := context.Background()
	storage := newFakeStorage()
	storage.jobs["a"] = Metadata{Name: "a", State: StateRunning}

	m := New(newTestRegistry(), storage, nil, nil)
	jobs, err := m.ListJobs(ctx)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "a" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
}

func TestAggregateMetricsSumsRunningJobs(t *testing.T) {
	m := New(newTestRegistry(), newFakeStorage(), nil, nil)

	counterA := metrics.NewJobMetricsCounter("job-a", nil)
	counterA.RecordSuccess(100)
	counterB := metrics.NewJobMetricsCounter("job-b", nil)
	counterB.RecordSuccess(50)
	counterB.RecordError()

	m.mu.Lock()
	m.running["job-a"] = &running{metrics: counterA}
	m.running["job-b"] = &running{metrics: counterB}
	m.mu.Unlock()

	snap := m.AggregateMetrics()
	if snap.EventsSucceeded != 2 {
		t.Fatalf("expected 2 successful events, got %d", snap.EventsSucceeded)
	}
	if snap.EventsFailed != 1 {
		t.Fatalf("expected 1 failed event, got %d", snap.EventsFailed)
	}
	if snap.BytesProcessed != 150 {
		t.Fatalf("expected 150 bytes processed, got %d", snap.BytesProcessed)
	}
}

func TestHandleJobExitMarksFailedOnUnexpectedExit(t *testing.T) {
	storage := newFakeStorage()
	m := New(newTestRegistry(), storage, nil, nil)

	jobCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.mu.Lock()
	m.running["crashy"] = &running{
		cancel:   func() {},
		done:     make(chan struct{}),
		metadata: Metadata{Name: "crashy", State: StateRunning},
		metrics:  metrics.NewJobMetricsCounter("crashy", nil),
	}
	m.mu.Unlock()

	m.handleJobExit(jobCtx, "crashy", assertErr("source exploded"))

	m.mu.Lock()
	_, stillRunning := m.running["crashy"]
	m.mu.Unlock()
	if stillRunning {
		t.Fatal("expected job to be removed from the running table")
	}

	saved, found, _ := storage.Get(context.Background(), "crashy")
	if !found {
		t.Fatal("expected failed state to be persisted")
	}
	if saved.State != StateFailed {
		t.Fatalf("expected state failed, got %s", saved.State)
	}
	if saved.StoppedAt == nil {
		t.Fatal("expected stopped_at to be set")
	}
}

func TestHandleJobExitNoopWhenContextAlreadyCancelled(t *testing.T) {
	storage := newFakeStorage()
	m := New(newTestRegistry(), storage, nil, nil)

	jobCtx, cancel := context.WithCancel(context.Background())
	cancel()

	m.mu.Lock()
	m.running["stopping"] = &running{
		cancel:   func() {},
		done:     make(chan struct{}),
		metadata: Metadata{Name: "stopping", State: StateRunning},
		metrics:  metrics.NewJobMetricsCounter("stopping", nil),
	}
	m.mu.Unlock()

	m.handleJobExit(jobCtx, "stopping", context.Canceled)

	if _, found, _ := storage.Get(context.Background(), "stopping"); found {
		t.Fatal("expected no state to be persisted when cancellation is deliberate")
	}

	m.mu.Lock()
	_, stillRunning := m.running["stopping"]
	m.mu.Unlock()
	if stillRunning {
		t.Fatal("expected job to still be removed from the running table")
	}
}

func TestHandleJobExitNoopWhenJobAlreadyRemoved(t *testing.T) {
	storage := newFakeStorage()
	m := New(newTestRegistry(), storage, nil, nil)

	// should not panic and should not write anything
	m.handleJobExit(context.Background(), "never-started", assertErr("boom"))

	jobs, _ := storage.ListAll(context.Background())
	if len(jobs) != 0 {
		t.Fatalf("expected no jobs persisted, got %+v", jobs)
	}
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
