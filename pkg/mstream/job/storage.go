package job

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/makarski/mstream/pkg/mstream/merr"
)

// Storage is the pluggable job-metadata store the Job Manager depends on.
// DependentJobs backs the service-in-use guard (I6): it must return every
// job currently declaring serviceName in its ServiceDeps.
type Storage interface {
	ListAll(ctx context.Context) ([]Metadata, error)
	Save(ctx context.Context, metadata Metadata) error
	Get(ctx context.Context, name string) (Metadata, bool, error)
	DependentJobs(ctx context.Context, serviceName string) ([]string, error)
}

// InMemoryStore keeps a reverse index from service name to dependent job
// names, updated on every save by diffing against the previous
// ServiceDeps. Grounded on
// original_source/src/job_manager/in_memory.rs's InMemoryJobStore.
type InMemoryStore struct {
	mu            sync.RWMutex
	jobs          map[string]Metadata
	jobsByService map[string]map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs:          map[string]Metadata{},
		jobsByService: map[string]map[string]struct{}{},
	}
}

func (s *InMemoryStore) addDeps(jobName string, deps []string) {
	for _, svc := range deps {
		set, ok := s.jobsByService[svc]
		if !ok {
			set = map[string]struct{}{}
			s.jobsByService[svc] = set
		}
		set[jobName] = struct{}{}
	}
}

func (s *InMemoryStore) clearDeps(jobName string) {
	existing, ok := s.jobs[jobName]
	if !ok {
		return
	}
	for _, svc := range existing.ServiceDeps {
		set, ok := s.jobsByService[svc]
		if !ok {
			continue
		}
		delete(set, jobName)
		if len(set) == 0 {
			delete(s.jobsByService, svc)
		}
	}
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Metadata, 0, len(s.jobs))
	for _, m := range s.jobs {
		out = append(out, m)
	}
	return out, nil
}

func (s *InMemoryStore) Save(_ context.Context, metadata Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[metadata.Name]; ok && !stringsEqual(existing.ServiceDeps, metadata.ServiceDeps) {
		s.clearDeps(metadata.Name)
	}
	if len(metadata.ServiceDeps) > 0 {
		s.addDeps(metadata.Name, metadata.ServiceDeps)
	}
	s.jobs[metadata.Name] = metadata
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, name string) (Metadata, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.jobs[name]
	return m, ok, nil
}

func (s *InMemoryStore) DependentJobs(_ context.Context, serviceName string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.jobsByService[serviceName]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out, nil
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

// MongoDBStore persists job metadata to a single collection keyed by name.
// Grounded on original_source/src/job_manager/mongodb_store.rs's
// MongoDBJobStore — but, unlike that file, DependentJobs filters on the
// actual `service_deps` field rather than the mismatched `linked_services`
// literal the original queries by, which would silently return nothing
// against documents saved with the `service_deps` field name.
type MongoDBStore struct {
	Collection *mongo.Collection
}

func (s *MongoDBStore) ListAll(ctx context.Context) ([]Metadata, error) {
	cur, err := s.Collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, merr.JobLifecycleError(merr.SubUnknownJob, "list jobs: %v", err)
	}
	defer cur.Close(ctx)

	var out []Metadata
	if err := cur.All(ctx, &out); err != nil {
		return nil, merr.JobLifecycleError(merr.SubUnknownJob, "decode jobs: %v", err)
	}
	return out, nil
}

func (s *MongoDBStore) Save(ctx context.Context, metadata Metadata) error {
	_, err := s.Collection.UpdateOne(ctx,
		bson.M{"name": metadata.Name},
		bson.M{"$set": metadata},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return merr.JobLifecycleError(merr.SubUnknownJob, "save job %s: %v", metadata.Name, err)
	}
	return nil
}

func (s *MongoDBStore) Get(ctx context.Context, name string) (Metadata, bool, error) {
	var m Metadata
	err := s.Collection.FindOne(ctx, bson.M{"name": name}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, merr.JobLifecycleError(merr.SubUnknownJob, "get job %s: %v", name, err)
	}
	return m, true, nil
}

func (s *MongoDBStore) DependentJobs(ctx context.Context, serviceName string) ([]string, error) {
	cur, err := s.Collection.Find(ctx, bson.M{"service_deps": serviceName})
	if err != nil {
		return nil, merr.JobLifecycleError(merr.SubUnknownJob, "find dependent jobs for %s: %v", serviceName, err)
	}
	defer cur.Close(ctx)

	var docs []Metadata
	if err := cur.All(ctx, &docs); err != nil {
		return nil, merr.JobLifecycleError(merr.SubUnknownJob, "decode dependent jobs for %s: %v", serviceName, err)
	}

	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	return names, nil
}
