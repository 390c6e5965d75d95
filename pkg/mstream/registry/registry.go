// Package registry implements the Service Registry (C4): cached live
// clients for each configured service plus a pluggable Storage for service
// definitions. Grounded on
// original_source/src/provision/registry/mod.rs's ServiceRegistry.
package registry

import (
	"context"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/pingcap/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/makarski/mstream/pkg/mstream/config"
	"github.com/makarski/mstream/pkg/mstream/httpx"
	"github.com/makarski/mstream/pkg/mstream/merr"
	"github.com/makarski/mstream/pkg/mstream/schema"
	"github.com/makarski/mstream/pkg/mstream/udf"
)

// UDFMiddlewareBuilder mirrors RhaiMiddlewareBuilder: a closure that, given a
// script filename, produces a compiled sandbox bound to a UDF service's
// script directory.
type UDFMiddlewareBuilder func(filename string) (*udf.Sandbox, error)

// Registry caches live clients keyed by service name and keeps service
// definitions in Storage.
type Registry struct {
	mu sync.RWMutex

	storage  Storage
	systemCfg *config.SystemConfig

	mongoClients    map[string]*mongo.Client
	httpClients     map[string]*httpx.Client
	kafkaConfigs    map[string]*sarama.Config
	udfMiddlewares  map[string]UDFMiddlewareBuilder
}

// New builds a Registry against storage; systemCfg may be nil when no
// system-critical component bindings are declared.
func New(storage Storage, systemCfg *config.SystemConfig) *Registry {
	return &Registry{
		storage:        storage,
		systemCfg:      systemCfg,
		mongoClients:   map[string]*mongo.Client{},
		httpClients:    map[string]*httpx.Client{},
		kafkaConfigs:   map[string]*sarama.Config{},
		udfMiddlewares: map[string]UDFMiddlewareBuilder{},
	}
}

// Init seeds caches from every service definition already in Storage,
// matching ServiceRegistry::init's "replay all persisted services" startup
// behavior.
func (r *Registry) Init(ctx context.Context) error {
	services, err := r.storage.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, svc := range services {
		log.Info("registering service", zap.String("name", svc.Name), zap.String("provider", string(svc.Provider)))
		if err := r.RegisterService(ctx, svc); err != nil {
			return err
		}
	}
	return nil
}

// RegisterService initializes the live client for svc (if its provider
// requires one) and persists the definition.
func (r *Registry) RegisterService(ctx context.Context, svc config.Service) error {
	switch svc.Provider {
	case config.ProviderMongoDB:
		if err := r.initMongo(ctx, svc); err != nil {
			return err
		}
	case config.ProviderPubSub:
		// PubSub client construction requires a context.Context scoped to
		// the lifetime of the pipeline using it; the registry caches only
		// the resolved Service definition here and constructs the
		// *pubsub.Client lazily in pkg/mstream/pipeline at job-start time,
		// since pubsub.NewClient is itself context-bound.
	case config.ProviderHTTP:
		if err := r.initHTTP(svc); err != nil {
			return err
		}
	case config.ProviderKafka:
		r.initKafka(svc)
	case config.ProviderUDF:
		if err := r.initUDF(svc); err != nil {
			return err
		}
	}

	return r.storage.Save(ctx, svc)
}

func (r *Registry) initMongo(ctx context.Context, svc config.Service) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(svc.ConnectionURI))
	if err != nil {
		return merr.ConfigError("connect mongodb service %s: %v", svc.Name, err)
	}
	r.mu.Lock()
	r.mongoClients[svc.Name] = client
	r.mu.Unlock()
	return nil
}

func (r *Registry) initHTTP(svc config.Service) error {
	client, err := httpx.New(svc.HostURL, httpx.Options{
		MaxRetries:    svc.MaxRetries,
		BaseBackoffMs: svc.BaseBackoffMs,
	})
	if err != nil {
		return merr.ConfigError("init http service %s: %v", svc.Name, err)
	}
	r.mu.Lock()
	r.httpClients[svc.Name] = client
	r.mu.Unlock()
	return nil
}

func (r *Registry) initKafka(svc config.Service) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if svc.KafkaVersion != "" {
		if v, err := sarama.ParseKafkaVersion(svc.KafkaVersion); err == nil {
			cfg.Version = v
		}
	}
	r.mu.Lock()
	r.kafkaConfigs[svc.Name] = cfg
	r.mu.Unlock()
}

func (r *Registry) initUDF(svc config.Service) error {
	if svc.ScriptPath == "" {
		return merr.ConfigError("udf service '%s' has no script_path", svc.Name)
	}
	scriptPath := svc.ScriptPath
	builder := func(filename string) (*udf.Sandbox, error) {
		if err := udf.ValidateScriptFilename(filename); err != nil {
			return nil, err
		}
		return udf.NewFromPath(scriptPath + "/" + filename)
	}
	r.mu.Lock()
	r.udfMiddlewares[svc.Name] = builder
	r.mu.Unlock()
	return nil
}

// RemoveService clears all cached clients for name and deletes its
// definition, refusing when name backs a system-critical component.
func (r *Registry) RemoveService(ctx context.Context, name string) error {
	if r.systemCfg != nil {
		if used := r.systemCfg.HasSystemComponent(name); len(used) > 0 {
			return merr.JobLifecycleError(merr.SubServiceInUse,
				"cannot remove service '%s' as it is used by system components: %v", name, used)
		}
	}

	removed, err := r.storage.Remove(ctx, name)
	if err != nil {
		return err
	}
	if !removed {
		return merr.JobLifecycleError(merr.SubUnknownService, "service with name '%s' not found", name)
	}

	r.mu.Lock()
	delete(r.mongoClients, name)
	delete(r.httpClients, name)
	delete(r.kafkaConfigs, name)
	delete(r.udfMiddlewares, name)
	r.mu.Unlock()
	return nil
}

// IsSystemService reports whether name backs any system-critical component.
func (r *Registry) IsSystemService(name string) bool {
	if r.systemCfg == nil {
		return false
	}
	return len(r.systemCfg.HasSystemComponent(name)) > 0
}

func (r *Registry) MongoDBClient(name string) (*mongo.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.mongoClients[name]
	if !ok {
		return nil, merr.JobLifecycleError(merr.SubUnknownService, "mongodb client not found for service name: %s", name)
	}
	return c, nil
}

func (r *Registry) HTTPClient(name string) (*httpx.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.httpClients[name]
	if !ok {
		return nil, merr.JobLifecycleError(merr.SubUnknownService, "http service not found for service name: %s", name)
	}
	return c, nil
}

func (r *Registry) KafkaConfig(name string) (*sarama.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.kafkaConfigs[name]
	if !ok {
		return nil, merr.JobLifecycleError(merr.SubUnknownService, "kafka config not found for service name: %s", name)
	}
	return c, nil
}

func (r *Registry) UDFMiddlewareBuilder(name string) (UDFMiddlewareBuilder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.udfMiddlewares[name]
	if !ok {
		return nil, merr.JobLifecycleError(merr.SubUnknownService, "udf middleware builder not found for service name: %s", name)
	}
	return b, nil
}

// ServiceDefinition returns the stored definition for name.
func (r *Registry) ServiceDefinition(ctx context.Context, name string) (config.Service, error) {
	return r.storage.GetByName(ctx, name)
}

// AllServiceDefinitions returns every stored definition.
func (r *Registry) AllServiceDefinitions(ctx context.Context) ([]config.Service, error) {
	return r.storage.GetAll(ctx)
}

// MongoDatabaseFor resolves the *mongo.Database backing a MongoDB service,
// used by the pipeline builder to wire a MongoDB source/schema
// introspector and by system-component initialization (checkpoints,
// schema registry).
func (r *Registry) MongoDatabaseFor(ctx context.Context, serviceName string) (*mongo.Database, error) {
	svc, err := r.storage.GetByName(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	if svc.Provider != config.ProviderMongoDB {
		return nil, merr.ConfigError("service '%s' must be a mongodb service", serviceName)
	}
	client, err := r.MongoDBClient(serviceName)
	if err != nil {
		return nil, err
	}
	return client.Database(svc.DBName), nil
}

// SchemaRegistryFor resolves the Schema Registry backing a schema reference's
// service, matching original_source/src/provision/registry/mod.rs's
// schema_registry_for. Unlike the original (which ignores the reference's
// resource in favor of a fixed system-config collection name), collection is
// taken directly from the config.SchemaRef's Resource field, so
// one MongoDB service can back several independently-named schema
// collections.
func (r *Registry) SchemaRegistryFor(ctx context.Context, serviceName, collection string) (schema.Registry, error) {
	svc, err := r.storage.GetByName(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	if svc.Provider != config.ProviderMongoDB {
		return nil, merr.ConfigError("service '%s' does not support schema operations", serviceName)
	}
	db, err := r.MongoDatabaseFor(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	return &schema.MongoDBRegistry{Collection: db.Collection(collection)}, nil
}
