package pipeline

import (
	"context"
	"os"

	"cloud.google.com/go/pubsub"
	"github.com/pingcap/errors"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/makarski/mstream/pkg/mstream/adapter"
	"github.com/makarski/mstream/pkg/mstream/checkpoint"
	"github.com/makarski/mstream/pkg/mstream/config"
	"github.com/makarski/mstream/pkg/mstream/merr"
	"github.com/makarski/mstream/pkg/mstream/registry"
	"github.com/makarski/mstream/pkg/mstream/schema"
)

// Build resolves connector against reg into a runnable Pipeline. Build order
// is leaves first, to fail fast, matching
// original_source/src/provision/pipeline/mod.rs's PipelineBuilder::build:
// schemas -> middlewares -> source -> sinks.
func Build(ctx context.Context, reg *registry.Registry, connector config.Connector, checkpointer checkpoint.Checkpointer) (*Pipeline, error) {
	batchSize, batching := connector.BatchConfigValues()

	p := &Pipeline{
		Name:              connector.Name,
		SourceOutEncoding: connector.Source.OutputEncoding,
		BatchSize:         batchSize,
		IsBatchingEnabled: batching,
		WithCheckpoints:   checkpointer != nil,
		Checkpointer:      checkpointer,
	}
	if p.Checkpointer == nil {
		p.Checkpointer = checkpoint.NoopCheckpointer{}
		p.WithCheckpoints = false
	}

	schemas, err := buildSchemas(ctx, reg, connector.Schemas)
	if err != nil {
		return nil, errors.Annotatef(err, "pipeline %q: build schemas", connector.Name)
	}
	p.Schemas = schemas

	middlewares, deps, err := buildMiddlewares(ctx, reg, connector.Middlewares, schemas)
	if err != nil {
		return nil, errors.Annotatef(err, "pipeline %q: build middlewares", connector.Name)
	}
	p.Middlewares = middlewares
	p.ServiceDeps = append(p.ServiceDeps, deps...)

	source, sourceSchema, sourceDep, err := buildSource(ctx, reg, connector.Source, schemas, connector.Name, p.Checkpointer)
	if err != nil {
		return nil, errors.Annotatef(err, "pipeline %q: build source", connector.Name)
	}
	p.Source = source
	p.SourceSchema = sourceSchema
	p.ServiceDeps = append(p.ServiceDeps, sourceDep)

	sinks, sinkDeps, err := buildSinks(ctx, reg, connector.Sinks, schemas)
	if err != nil {
		return nil, errors.Annotatef(err, "pipeline %q: build sinks", connector.Name)
	}
	p.Sinks = sinks
	p.ServiceDeps = append(p.ServiceDeps, sinkDeps...)

	return p, nil
}

func buildSchemas(ctx context.Context, reg *registry.Registry, refs []config.SchemaRef) ([]SchemaDefinition, error) {
	defs := make([]SchemaDefinition, 0, len(refs))
	for _, ref := range refs {
		schemaReg, err := reg.SchemaRegistryFor(ctx, ref.ServiceName, ref.Resource)
		if err != nil {
			return nil, errors.Annotatef(err, "schema %q", ref.ID)
		}
		entry, err := schemaReg.Get(ctx, ref.ID)
		if err != nil {
			return nil, errors.Annotatef(err, "schema %q", ref.ID)
		}
		sch, err := entry.ToSchema()
		if err != nil {
			return nil, errors.Annotatef(err, "schema %q", ref.ID)
		}
		defs = append(defs, SchemaDefinition{SchemaID: ref.ID, Schema: sch})
	}
	return defs, nil
}

func buildMiddlewares(ctx context.Context, reg *registry.Registry, refs []config.ServiceRef, schemas []SchemaDefinition) ([]MiddlewareDefinition, []string, error) {
	defs := make([]MiddlewareDefinition, 0, len(refs))
	deps := make([]string, 0, len(refs))

	for _, ref := range refs {
		svc, err := reg.ServiceDefinition(ctx, ref.ServiceName)
		if err != nil {
			return nil, nil, errors.Annotatef(err, "middleware %s/%s", ref.ServiceName, ref.Resource)
		}

		var mw adapter.Middleware
		switch svc.Provider {
		case config.ProviderHTTP:
			client, err := reg.HTTPClient(svc.Name)
			if err != nil {
				return nil, nil, err
			}
			mw = &adapter.HTTPMiddleware{Client: client, Resource: ref.Resource, OutputEncoding: ref.OutputEncoding}
		case config.ProviderUDF:
			builder, err := reg.UDFMiddlewareBuilder(svc.Name)
			if err != nil {
				return nil, nil, err
			}
			sandbox, err := builder(ref.Resource)
			if err != nil {
				return nil, nil, errors.Annotatef(err, "udf middleware %s/%s", ref.ServiceName, ref.Resource)
			}
			mw = &adapter.UDFMiddleware{Sandbox: sandbox}
		default:
			return nil, nil, merr.ConfigError("middleware: unsupported provider %q for service %q", svc.Provider, svc.Name)
		}

		defs = append(defs, MiddlewareDefinition{
			Config:     ref,
			Schema:     findSchema(ref.SchemaID, schemas),
			Middleware: mw,
		})
		deps = append(deps, ref.ServiceName)
	}
	return defs, deps, nil
}

func buildSource(ctx context.Context, reg *registry.Registry, ref config.SourceRef, schemas []SchemaDefinition, jobName string, checkpointer checkpoint.Checkpointer) (adapter.Source, schema.Schema, string, error) {
	svc, err := reg.ServiceDefinition(ctx, ref.ServiceName)
	if err != nil {
		return nil, schema.Schema{}, "", errors.Annotatef(err, "source %s/%s", ref.ServiceName, ref.Resource)
	}

	inputEncoding, err := resolveSourceEncoding(svc, ref)
	if err != nil {
		return nil, schema.Schema{}, "", err
	}

	var src adapter.Source
	switch svc.Provider {
	case config.ProviderMongoDB:
		db, err := reg.MongoDatabaseFor(ctx, svc.Name)
		if err != nil {
			return nil, schema.Schema{}, "", err
		}
		mongoSrc := &adapter.MongoDBSource{Collection: db.Collection(ref.Resource)}
		if cp, err := checkpointer.Load(ctx, jobName); err == nil {
			mongoSrc.ResumeToken = resumeTokenFromCheckpoint(cp)
		}
		src = mongoSrc
	case config.ProviderKafka:
		cfg, err := reg.KafkaConfig(svc.Name)
		if err != nil {
			return nil, schema.Schema{}, "", err
		}
		src = &adapter.KafkaSource{
			Brokers:         svc.Brokers,
			Topic:           ref.Resource,
			InputEncoding:   inputEncoding,
			SeekBackSeconds: svc.SeekBackSeconds,
			Config:          cfg,
		}
	case config.ProviderPubSub:
		client, err := newPubSubClient(ctx, svc)
		if err != nil {
			return nil, schema.Schema{}, "", err
		}
		src = &adapter.PubSubSource{Subscription: client.Subscription(ref.Resource), InputEncoding: inputEncoding}
	default:
		return nil, schema.Schema{}, "", merr.ConfigError("source: unsupported provider %q for service %q", svc.Provider, svc.Name)
	}

	return src, findSchema(ref.SchemaID, schemas), ref.ServiceName, nil
}

// resolveSourceEncoding matches
// original_source/src/provision/pipeline/source.rs's
// SourceBuilder::resolve_source_encoding: broker sources require an
// explicit input_encoding; MongoDB is fixed to BSON; HTTP/UDF cannot be a
// source at all.
func resolveSourceEncoding(svc config.Service, ref config.SourceRef) (schema.Encoding, error) {
	switch svc.Provider {
	case config.ProviderKafka, config.ProviderPubSub:
		if ref.InputEncoding == nil {
			return 0, merr.ConfigError("initializing source provider: input encoding not found for: %s:%s", ref.ServiceName, ref.Resource)
		}
		return *ref.InputEncoding, nil
	case config.ProviderMongoDB:
		return schema.EncodingBSON, nil
	default:
		return 0, merr.ConfigError("initializing source provider: unsupported service: %s", svc.Name)
	}
}

func buildSinks(ctx context.Context, reg *registry.Registry, refs []config.ServiceRef, schemas []SchemaDefinition) ([]SinkDefinition, []string, error) {
	defs := make([]SinkDefinition, 0, len(refs))
	deps := make([]string, 0, len(refs))

	for _, ref := range refs {
		svc, err := reg.ServiceDefinition(ctx, ref.ServiceName)
		if err != nil {
			return nil, nil, errors.Annotatef(err, "sink %s/%s", ref.ServiceName, ref.Resource)
		}

		var sink adapter.Sink
		switch svc.Provider {
		case config.ProviderHTTP:
			client, err := reg.HTTPClient(svc.Name)
			if err != nil {
				return nil, nil, err
			}
			sink = &adapter.HTTPSink{Client: client}
		case config.ProviderKafka:
			cfg, err := reg.KafkaConfig(svc.Name)
			if err != nil {
				return nil, nil, err
			}
			kafkaSink, err := adapter.NewKafkaSink(svc.Brokers, svc.KafkaVersion)
			if err != nil {
				return nil, nil, err
			}
			kafkaSink.Config = cfg
			sink = kafkaSink
		case config.ProviderPubSub:
			client, err := newPubSubClient(ctx, svc)
			if err != nil {
				return nil, nil, err
			}
			sink = &adapter.PubSubSink{Client: client}
		default:
			return nil, nil, merr.ConfigError("sink: unsupported provider %q for service %q", svc.Provider, svc.Name)
		}

		defs = append(defs, SinkDefinition{
			Config: ref,
			Schema: findSchema(ref.SchemaID, schemas),
			Sink:   sink,
		})
		deps = append(deps, ref.ServiceName)
	}
	return defs, deps, nil
}

// newPubSubClient builds a *pubsub.Client from a PubSub service definition.
// Construction is deferred here (rather than cached in the registry, see
// pkg/mstream/registry's RegisterService) because pubsub.NewClient is bound
// to the caller's context.Context, whose lifetime here is the pipeline
// build call, not the registry's.
func newPubSubClient(ctx context.Context, svc config.Service) (*pubsub.Client, error) {
	var opts []option.ClientOption

	switch svc.GCPAuthMode {
	case "service_account":
		opts = append(opts, option.WithCredentialsFile(svc.AccountKeyPath))
	case "static_token":
		token, ok := os.LookupEnv(svc.EnvTokenName)
		if !ok {
			return nil, merr.ConfigError("pubsub service %q: env var %q is not set", svc.Name, svc.EnvTokenName)
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		opts = append(opts, option.WithTokenSource(ts))
	default:
		return nil, merr.ConfigError("pubsub service %q: unknown gcp_auth_mode %q", svc.Name, svc.GCPAuthMode)
	}

	client, err := pubsub.NewClient(ctx, svc.ProjectID, opts...)
	if err != nil {
		return nil, errors.Annotatef(err, "pubsub service %q: new client", svc.Name)
	}
	return client, nil
}

// resumeTokenFromCheckpoint decodes a MongoDB change-stream resume token
// previously saved as a Cursor, used when starting a MongoDB source from a
// prior checkpoint rather than the current moment.
func resumeTokenFromCheckpoint(cp checkpoint.Checkpoint) bson.Raw {
	if len(cp.Cursor) == 0 {
		return nil
	}
	return bson.Raw(cp.Cursor)
}
