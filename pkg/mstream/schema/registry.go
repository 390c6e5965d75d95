package schema

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/makarski/mstream/pkg/mstream/merr"
)

// Entry is a persisted schema record, per spec.md §3's SchemaEntry and
// original_source/src/schema/mod.rs's SchemaEntry.
type Entry struct {
	ID         string   `bson:"id" json:"id"`
	Name       *string  `bson:"name,omitempty" json:"name,omitempty"`
	Encoding   Encoding `bson:"encoding" json:"encoding"`
	Definition string   `bson:"definition" json:"definition"`
	CreatedAt  int64    `bson:"created_at" json:"created_at"`
	UpdatedAt  int64    `bson:"updated_at" json:"updated_at"`
}

// ToSchema parses e's textual definition under its declared encoding.
func (e Entry) ToSchema() (Schema, error) {
	return Parse(e.Definition, e.Encoding)
}

// EntrySummary is the list-view projection, dropping the definition text.
type EntrySummary struct {
	ID       string   `json:"id"`
	Name     *string  `json:"name,omitempty"`
	Encoding Encoding `json:"encoding"`
}

// Registry stores and resolves SchemaEntry records by id, the persisted
// store the Pipeline Builder's schema resolution step reads from. Grounded
// on original_source/src/schema/mod.rs's SchemaRegistry trait.
type Registry interface {
	Get(ctx context.Context, id string) (Entry, error)
	List(ctx context.Context) ([]EntrySummary, error)
	Save(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, id string) error
}

// NoopRegistry is the default when no schema store is configured; every
// lookup fails, matching original_source/src/schema/mod.rs's
// NoopSchemaRegistry.
type NoopRegistry struct{}

func (NoopRegistry) Get(_ context.Context, id string) (Entry, error) {
	return Entry{}, merr.ConfigError("schema not found: %s", id)
}

func (NoopRegistry) List(_ context.Context) ([]EntrySummary, error) { return nil, nil }

func (NoopRegistry) Save(_ context.Context, _ Entry) error { return nil }

func (NoopRegistry) Delete(_ context.Context, _ string) error { return nil }

// InMemoryRegistry is a process-local Registry, used in tests and
// single-process deployments.
type InMemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{entries: map[string]Entry{}}
}

func (r *InMemoryRegistry) Get(_ context.Context, id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, merr.ConfigError("schema not found: %s", id)
	}
	return e, nil
}

func (r *InMemoryRegistry) List(_ context.Context) ([]EntrySummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EntrySummary, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, EntrySummary{ID: e.ID, Name: e.Name, Encoding: e.Encoding})
	}
	return out, nil
}

func (r *InMemoryRegistry) Save(_ context.Context, entry Entry) error {
	now := time.Now().UnixNano() / int64(time.Millisecond)
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.ID] = entry
	return nil
}

func (r *InMemoryRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	return nil
}

// MongoDBRegistry is a Registry backed by a single collection, one per
// configured schema service/resource pair, matching
// original_source/src/schema/mongo.rs's MongoDbSchemaProvider. Entries are
// keyed by their `id` field rather than Mongo's `_id`, preserving the
// original's lookup shape.
type MongoDBRegistry struct {
	Collection *mongo.Collection
}

func (r *MongoDBRegistry) Get(ctx context.Context, id string) (Entry, error) {
	var e Entry
	err := r.Collection.FindOne(ctx, bson.M{"id": id}).Decode(&e)
	if err == mongo.ErrNoDocuments {
		return Entry{}, merr.ConfigError("schema not found: %s", id)
	}
	if err != nil {
		return Entry{}, merr.ConfigError("load schema %s: %v", id, err)
	}
	return e, nil
}

func (r *MongoDBRegistry) List(ctx context.Context) ([]EntrySummary, error) {
	cur, err := r.Collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, merr.ConfigError("list schemas: %v", err)
	}
	defer cur.Close(ctx)

	var entries []Entry
	if err := cur.All(ctx, &entries); err != nil {
		return nil, merr.ConfigError("decode schemas: %v", err)
	}
	out := make([]EntrySummary, len(entries))
	for i, e := range entries {
		out[i] = EntrySummary{ID: e.ID, Name: e.Name, Encoding: e.Encoding}
	}
	return out, nil
}

func (r *MongoDBRegistry) Save(ctx context.Context, entry Entry) error {
	now := time.Now().UnixNano() / int64(time.Millisecond)
	if entry.CreatedAt == 0 {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now

	_, err := r.Collection.UpdateOne(ctx,
		bson.M{"id": entry.ID},
		bson.M{"$set": entry},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return merr.ConfigError("save schema %s: %v", entry.ID, err)
	}
	return nil
}

func (r *MongoDBRegistry) Delete(ctx context.Context, id string) error {
	if _, err := r.Collection.DeleteOne(ctx, bson.M{"id": id}); err != nil {
		return merr.ConfigError("delete schema %s: %v", id, err)
	}
	return nil
}
