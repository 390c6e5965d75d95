package job

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	md := Metadata{Name: "orders-sync", ServiceDeps: []string{"mongo-a", "kafka-b"}, State: StateRunning, StartedAt: 100}
	if err := store.Save(ctx, md); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, found, err := store.Get(ctx, "orders-sync")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected job to be found")
	}
	if got.State != StateRunning {
		t.Fatalf("expected state running, got %s", got.State)
	}
}

func TestInMemoryStoreGetUnknownJob(t *testing.T) {
	store := NewInMemoryStore()
	_, found, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected job not to be found")
	}
}

func TestInMemoryStoreDependentJobs(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	store.Save(ctx, Metadata{Name: "job-a", ServiceDeps: []string{"mongo-a"}, State: StateRunning})
	store.Save(ctx, Metadata{Name: "job-b", ServiceDeps: []string{"mongo-a", "kafka-b"}, State: StateRunning})
	store.Save(ctx, Metadata{Name: "job-c", ServiceDeps: []string{"kafka-b"}, State: StateRunning})

	deps, err := store.DependentJobs(ctx, "mongo-a")
	if err != nil {
		t.Fatalf("dependent jobs: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("expected 2 dependent jobs on mongo-a, got %d: %v", len(deps), deps)
	}

	noDeps, err := store.DependentJobs(ctx, "unused-service")
	if err != nil {
		t.Fatalf("dependent jobs: %v", err)
	}
	if len(noDeps) != 0 {
		t.Fatalf("expected no dependents, got %v", noDeps)
	}
}

// TestInMemoryStoreSaveDiffsServiceDeps exercises the clear-then-add
// diffing in InMemoryStore.Save: a job that drops a dependency on restart
// must no longer appear in that service's reverse index.
func TestInMemoryStoreSaveDiffsServiceDeps(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	store.Save(ctx, Metadata{Name: "job-a", ServiceDeps: []string{"mongo-a", "kafka-b"}, State: StateRunning})

	deps, _ := store.DependentJobs(ctx, "kafka-b")
	if len(deps) != 1 {
		t.Fatalf("expected job-a to depend on kafka-b, got %v", deps)
	}

	// restart without the kafka-b dependency
	store.Save(ctx, Metadata{Name: "job-a", ServiceDeps: []string{"mongo-a"}, State: StateRunning})

	deps, err := store.DependentJobs(ctx, "kafka-b")
	if err != nil {
		t.Fatalf("dependent jobs: %v", err)
	}
	if len(deps) != 0 {
		t.Fatalf("expected kafka-b to have no dependents after update, got %v", deps)
	}

	deps, _ = store.DependentJobs(ctx, "mongo-a")
	if len(deps) != 1 {
		t.Fatalf("expected job-a to still depend on mongo-a, got %v", deps)
	}
}

// TestInMemoryStoreSaveIgnoresDepOrder confirms the reorder-only case is not
// treated as a dependency change (stringsEqual is a multiset comparison).
func TestInMemoryStoreSaveIgnoresDepOrder(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	store.Save(ctx, Metadata{Name: "job-a", ServiceDeps: []string{"mongo-a", "kafka-b"}, State: StateRunning})
	store.Save(ctx, Metadata{Name: "job-a", ServiceDeps: []string{"kafka-b", "mongo-a"}, State: StateRunning})

	for _, svc := range []string{"mongo-a", "kafka-b"} {
		deps, err := store.DependentJobs(ctx, svc)
		if err != nil {
			t.Fatalf("dependent jobs for %s: %v", svc, err)
		}
		if len(deps) != 1 {
			t.Fatalf("expected job-a to still depend on %s, got %v", svc, deps)
		}
	}
}

func TestStringsEqual(t *testing.T) {
	cases := []struct {
		a, b []string
		want bool
	}{
		{nil, nil, true},
		{[]string{"a"}, []string{"a"}, true},
		{[]string{"a", "b"}, []string{"b", "a"}, true},
		{[]string{"a", "a"}, []string{"a"}, false},
		{[]string{"a"}, []string{"b"}, false},
		{[]string{"a"}, nil, false},
	}
	for _, c := range cases {
		if got := stringsEqual(c.a, c.b); got != c.want {
			t.Fatalf("stringsEqual(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
