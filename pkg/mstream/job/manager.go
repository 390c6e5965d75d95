package job

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/makarski/mstream/pkg/mstream/checkpoint"
	"github.com/makarski/mstream/pkg/mstream/config"
	"github.com/makarski/mstream/pkg/mstream/event"
	"github.com/makarski/mstream/pkg/mstream/merr"
	"github.com/makarski/mstream/pkg/mstream/metrics"
	"github.com/makarski/mstream/pkg/mstream/pipeline"
	"github.com/makarski/mstream/pkg/mstream/registry"
)

// running is the live state for one started job: everything the Rust
// original's JobContainer holds (join handle, cancel token, metadata) plus
// the metrics counter the Event Processor records into.
type running struct {
	cancel   context.CancelFunc
	done     chan struct{}
	metadata Metadata
	metrics  *metrics.JobMetricsCounter
}

// Manager is the Job Manager (C12): owns every running pipeline, persists
// JobMetadata via Storage, and enforces the service-in-use guard (I6).
// Grounded on original_source/src/job_manager/mod.rs's JobManager.
type Manager struct {
	registry        *registry.Registry
	storage         Storage
	checkpointer    checkpoint.Checkpointer
	metricsRegistry *prometheus.Registry

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu      sync.Mutex
	running map[string]*running
}

// New builds a Manager. metricsRegistry may be nil, matching
// metrics.NewJobMetricsCounter's nil-safe behavior.
func New(reg *registry.Registry, storage Storage, checkpointer checkpoint.Checkpointer, metricsRegistry *prometheus.Registry) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:        reg,
		storage:         storage,
		checkpointer:    checkpointer,
		metricsRegistry: metricsRegistry,
		rootCtx:         ctx,
		rootCancel:      cancel,
		running:         map[string]*running{},
	}
}

func nowMillis() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// StartJob builds connector into a Pipeline and spawns its source listener
// and event processor as cooperating goroutines under a job-scoped child
// context, matching original_source/src/job_manager/mod.rs's start_job.
func (m *Manager) StartJob(ctx context.Context, connector config.Connector) (Metadata, error) {
	m.mu.Lock()
	if _, exists := m.running[connector.Name]; exists {
		m.mu.Unlock()
		return Metadata{}, merr.JobLifecycleError(merr.SubDuplicateJob, "job already running: %s", connector.Name)
	}
	m.mu.Unlock()

	p, err := pipeline.Build(ctx, m.registry, connector, m.checkpointer)
	if err != nil {
		return Metadata{}, err
	}

	m.mu.Lock()
	if _, exists := m.running[connector.Name]; exists {
		m.mu.Unlock()
		return Metadata{}, merr.JobLifecycleError(merr.SubDuplicateJob, "job already running: %s", connector.Name)
	}

	jobCtx, cancel := context.WithCancel(m.rootCtx)
	metadata := Metadata{
		Name:        connector.Name,
		Pipeline:    connector,
		ServiceDeps: p.ServiceDeps,
		State:       StateRunning,
		StartedAt:   nowMillis(),
	}

	metricsCounter := metrics.NewJobMetricsCounter(connector.Name, m.metricsRegistry)
	rj := &running{
		cancel:   cancel,
		done:     make(chan struct{}),
		metadata: metadata,
		metrics:  metricsCounter,
	}
	m.running[connector.Name] = rj
	m.mu.Unlock()

	if err := m.storage.Save(ctx, metadata); err != nil {
		m.mu.Lock()
		delete(m.running, connector.Name)
		m.mu.Unlock()
		cancel()
		return Metadata{}, err
	}

	go m.runJob(jobCtx, connector.Name, p, metricsCounter, rj.done)

	log.Info("job started", zap.String("job_name", connector.Name))
	return metadata, nil
}

// runJob pairs the source listener task with the event processor task:
// when the source exhausts or errors it closes the channel, which drains
// the processor; both outcomes funnel into handleJobExit.
func (m *Manager) runJob(jobCtx context.Context, name string, p *pipeline.Pipeline, mc *metrics.JobMetricsCounter, done chan struct{}) {
	defer close(done)

	eventsCh := make(chan event.SourceEvent, p.BatchSize)
	sourceErrCh := make(chan error, 1)

	// srcCtx lets a processor that returns first stop the source without
	// cancelling jobCtx, which handleJobExit reads as a deliberate stop.
	srcCtx, stopSource := context.WithCancel(jobCtx)
	defer stopSource()

	go func() {
		info := p.Source.Listen(srcCtx, eventsCh)
		close(eventsCh)
		sourceErrCh <- info
	}()

	processor := pipeline.NewEventProcessor(p, mc)
	procErr := processor.Run(jobCtx, eventsCh)
	stopSource()
	srcErr := <-sourceErrCh

	m.handleJobExit(jobCtx, name, procErr, srcErr)
}

// handleJobExit maps an unexpected source/processor exit to Failed,
// matching spec.md §4.10's handle_job_exit. A job whose context was
// cancelled by StopJob is already removed from the table by the time this
// runs, so it is a no-op for deliberate stops.
func (m *Manager) handleJobExit(jobCtx context.Context, name string, errs ...error) {
	m.mu.Lock()
	rj, ok := m.running[name]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.running, name)
	m.mu.Unlock()

	if jobCtx.Err() != nil {
		return
	}

	var cause error
	for _, err := range errs {
		if err != nil {
			cause = err
			break
		}
	}
	log.Error("job failed", zap.String("job_name", name), zap.Error(cause))

	stoppedAt := nowMillis()
	rj.metadata.State = StateFailed
	rj.metadata.StoppedAt = &stoppedAt

	if err := m.storage.Save(context.Background(), rj.metadata); err != nil {
		log.Error("failed to persist failed job state", zap.String("job_name", name), zap.Error(err))
	}
}

// StopJob cancels the job's context and waits for both its tasks to exit
// before persisting the Stopped state, matching start_job's counterpart
// stop_job.
func (m *Manager) StopJob(ctx context.Context, name string) (Metadata, error) {
	m.mu.Lock()
	rj, ok := m.running[name]
	if !ok {
		m.mu.Unlock()
		return Metadata{}, merr.JobLifecycleError(merr.SubUnknownJob, "job not found: %s", name)
	}
	delete(m.running, name)
	m.mu.Unlock()

	log.Info("stopping job", zap.String("job_name", name))
	rj.cancel()
	<-rj.done
	log.Info("job stopped", zap.String("job_name", name))

	stoppedAt := nowMillis()
	rj.metadata.State = StateStopped
	rj.metadata.StoppedAt = &stoppedAt

	if err := m.storage.Save(ctx, rj.metadata); err != nil {
		return Metadata{}, err
	}
	return rj.metadata, nil
}

// RestartJob stops a currently running job (if any) and starts it again
// from its last persisted Connector definition.
func (m *Manager) RestartJob(ctx context.Context, name string) (Metadata, error) {
	existing, found, err := m.storage.Get(ctx, name)
	if err != nil {
		return Metadata{}, err
	}
	if !found {
		return Metadata{}, merr.JobLifecycleError(merr.SubUnknownJob, "job not found: %s", name)
	}

	m.mu.Lock()
	_, isRunning := m.running[name]
	m.mu.Unlock()

	if isRunning {
		if _, err := m.StopJob(ctx, name); err != nil {
			return Metadata{}, err
		}
	}

	return m.StartJob(ctx, existing.Pipeline)
}

// ListJobs returns every job the manager knows about, running or not.
func (m *Manager) ListJobs(ctx context.Context) ([]Metadata, error) {
	return m.storage.ListAll(ctx)
}

// GetJob returns one job's metadata.
func (m *Manager) GetJob(ctx context.Context, name string) (Metadata, error) {
	metadata, found, err := m.storage.Get(ctx, name)
	if err != nil {
		return Metadata{}, err
	}
	if !found {
		return Metadata{}, merr.JobLifecycleError(merr.SubUnknownJob, "job not found: %s", name)
	}
	return metadata, nil
}

// ListCheckpoints returns a job's saved checkpoints, newest first.
func (m *Manager) ListCheckpoints(ctx context.Context, name string) ([]checkpoint.Checkpoint, error) {
	return m.checkpointer.LoadAll(ctx, name)
}

// AggregateMetrics sums the metrics counters of every currently running
// job.
func (m *Manager) AggregateMetrics() metrics.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total metrics.Snapshot
	for _, rj := range m.running {
		snap := rj.metrics.Snapshot()
		total.EventsSucceeded += snap.EventsSucceeded
		total.EventsFailed += snap.EventsFailed
		total.BytesProcessed += snap.BytesProcessed
	}
	return total
}

// JobStateCounts tallies every known job (not only running ones) by state.
func (m *Manager) JobStateCounts(ctx context.Context) (map[State]int, error) {
	all, err := m.storage.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[State]int, 3)
	for _, j := range all {
		counts[j.State]++
	}
	return counts, nil
}

// RemoveService enforces the service-in-use guard (I6) before delegating
// to the Service Registry.
func (m *Manager) RemoveService(ctx context.Context, name string) error {
	deps, err := m.storage.DependentJobs(ctx, name)
	if err != nil {
		return err
	}
	if len(deps) > 0 {
		return merr.JobLifecycleError(merr.SubServiceInUse,
			"service '%s' is in use by jobs: %s", name, strings.Join(deps, ", "))
	}
	return m.registry.RemoveService(ctx, name)
}

// Shutdown cancels every running job and waits for all of them to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	names := make([]string, 0, len(m.running))
	for name := range m.running {
		names = append(names, name)
	}
	m.mu.Unlock()

	m.rootCancel()

	var g errgroup.Group
	for _, name := range names {
		name := name
		g.Go(func() error {
			_, err := m.StopJob(ctx, name)
			if cause := merr.Cause(err); cause != nil && cause.Sub == merr.SubUnknownJob {
				// already reaped by handleJobExit between the snapshot above
				// and this call; not a shutdown failure.
				return nil
			}
			return err
		})
	}
	return g.Wait()
}
