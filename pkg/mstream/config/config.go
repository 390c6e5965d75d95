// Package config holds the data shapes for Connector and Service
// definitions (spec.md §3, §6). Loading a config file is an external
// collaborator concern per spec.md §1; this package exposes the shape and a
// thin BurntSushi/toml-backed loader for tests and example binaries.
package config

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"

	"github.com/makarski/mstream/pkg/mstream/schema"
)

// Provider discriminates the Service definition's tagged variant, per
// spec.md §6: provider ∈ {pubsub, kafka, mongodb, http, udf}.
type Provider string

const (
	ProviderPubSub  Provider = "pubsub"
	ProviderKafka   Provider = "kafka"
	ProviderMongoDB Provider = "mongodb"
	ProviderHTTP    Provider = "http"
	ProviderUDF     Provider = "udf"
)

// Service is a tagged record for one external service definition. Only the
// fields relevant to its Provider are meaningful; the rest are zero.
// Grounded on original_source/src/config/mod.rs's `Service` enum.
type Service struct {
	Name     string   `toml:"name"`
	Provider Provider `toml:"provider"`

	// MongoDB
	ConnectionURI string `toml:"connection_uri,omitempty"`
	DBName        string `toml:"db_name,omitempty"`

	// Kafka
	Brokers         []string `toml:"brokers,omitempty"`
	KafkaVersion    string   `toml:"kafka_version,omitempty"`
	SeekBackSeconds int64    `toml:"seek_back_seconds,omitempty"`

	// PubSub
	ProjectID      string `toml:"project_id,omitempty"`
	GCPAuthMode    string `toml:"gcp_auth_mode,omitempty"` // "service_account" | "static_token"
	AccountKeyPath string `toml:"account_key_path,omitempty"`
	EnvTokenName   string `toml:"env_token_name,omitempty"`

	// HTTP
	HostURL         string `toml:"host_url,omitempty"`
	MaxRetries      uint32 `toml:"max_retries,omitempty"`
	BaseBackoffMs   uint64 `toml:"base_backoff_ms,omitempty"`

	// UDF
	ScriptPath string   `toml:"script_path,omitempty"`
	Engine     string   `toml:"engine,omitempty"` // e.g. "goja" (ex-"rhai"); not checked when the UDF is built
	Sources    []string `toml:"sources,omitempty"`

	// Credential-shaped fields, redacted by Masked().
	Password string `toml:"password,omitempty"`
	APIKey   string `toml:"api_key,omitempty"`
	Token    string `toml:"token,omitempty"`
	Secret   string `toml:"secret,omitempty"`
}

// Masked returns a copy of s with credential-shaped fields replaced, so
// service definitions can be logged safely. Grounded on
// original_source/src/config/mod.rs's Masked trait.
func (s Service) Masked() Service {
	m := s
	if m.Password != "" {
		m.Password = "***"
	}
	if m.APIKey != "" {
		m.APIKey = "***"
	}
	if m.Token != "" {
		m.Token = "***"
	}
	if m.Secret != "" {
		m.Secret = "***"
	}
	if m.ConnectionURI != "" {
		m.ConnectionURI = "***"
	}
	return m
}

const envSecretPrefix = "env:"

// ResolveSecrets resolves the Password, APIKey, Token, Secret and
// ConnectionURI fields against the process environment when they begin with
// "env:", per spec.md §3 ("Secrets: values beginning with `env:` are resolved
// against process environment at load"). Other string fields are returned
// unchanged.
func ResolveSecrets(s Service) (Service, error) {
	resolve := func(v string) (string, error) {
		if !strings.HasPrefix(v, envSecretPrefix) {
			return v, nil
		}
		name := strings.TrimPrefix(v, envSecretPrefix)
		val, ok := os.LookupEnv(name)
		if !ok {
			return "", errors.Errorf("env secret %q is not set", name)
		}
		return val, nil
	}

	var err error
	if s.Password, err = resolve(s.Password); err != nil {
		return s, err
	}
	if s.APIKey, err = resolve(s.APIKey); err != nil {
		return s, err
	}
	if s.Token, err = resolve(s.Token); err != nil {
		return s, err
	}
	if s.Secret, err = resolve(s.Secret); err != nil {
		return s, err
	}
	if s.ConnectionURI, err = resolve(s.ConnectionURI); err != nil {
		return s, err
	}
	return s, nil
}

// BatchConfig enables batching with a fixed count, per spec.md §3 ("optional
// batch {size} (absent ⇒ per-event mode)").
type BatchConfig struct {
	Size int `toml:"size"`
}

// ServiceRef is the shared shape for middleware/sink hops, per spec.md §3.
type ServiceRef struct {
	ServiceName    string          `toml:"service_name"`
	Resource       string          `toml:"resource"`
	SchemaID       *string         `toml:"schema_id,omitempty"`
	OutputEncoding schema.Encoding `toml:"-"`
	OutputEncodingName string      `toml:"output_encoding"`
}

// SourceRef adds the source-only input_encoding field.
type SourceRef struct {
	ServiceRef
	InputEncodingName string           `toml:"input_encoding,omitempty"`
	InputEncoding     *schema.Encoding `toml:"-"`
}

// ParseEncodingName maps the lowercase wire names from spec.md §3
// ("Encoding... enumeration over {Avro, JSON, BSON}") to schema.Encoding.
func ParseEncodingName(name string) (schema.Encoding, error) {
	switch strings.ToLower(name) {
	case "avro":
		return schema.EncodingAvro, nil
	case "json":
		return schema.EncodingJSON, nil
	case "bson":
		return schema.EncodingBSON, nil
	default:
		return 0, errors.Errorf("unrecognized encoding: %s", name)
	}
}

// ResolveEncodings fills OutputEncoding/InputEncoding from their textual
// counterparts after TOML decode, since schema.Encoding has no native TOML
// unmarshaler.
func (r *ServiceRef) ResolveEncodings() error {
	enc, err := ParseEncodingName(r.OutputEncodingName)
	if err != nil {
		return err
	}
	r.OutputEncoding = enc
	return nil
}

// ResolveEncodings fills both input and output encodings for a source hop.
func (r *SourceRef) ResolveEncodings() error {
	if err := r.ServiceRef.ResolveEncodings(); err != nil {
		return err
	}
	if r.InputEncodingName == "" {
		return nil
	}
	enc, err := ParseEncodingName(r.InputEncodingName)
	if err != nil {
		return err
	}
	r.InputEncoding = &enc
	return nil
}

// SchemaRef names one schema entry a connector pulls in.
type SchemaRef struct {
	ID          string `toml:"id"`
	ServiceName string `toml:"service_name"`
	Resource    string `toml:"resource"`
}

// Connector is the pipeline definition, per spec.md §3.
type Connector struct {
	Name        string       `toml:"name"`
	Enabled     bool         `toml:"enabled"`
	Batch       *BatchConfig `toml:"batch,omitempty"`
	Source      SourceRef    `toml:"source"`
	Middlewares []ServiceRef `toml:"middlewares,omitempty"`
	Schemas     []SchemaRef  `toml:"schemas,omitempty"`
	Sinks       []ServiceRef `toml:"sinks"`
}

// BatchConfigValues returns (size, isBatchingEnabled), matching
// original_source/src/config/mod.rs's Connector::batch_config.
func (c Connector) BatchConfigValues() (int, bool) {
	if c.Batch == nil {
		return 1, false
	}
	return c.Batch.Size, true
}

// SystemConfig names the services used by system-critical components
// (job lifecycle storage, checkpoints, schema registry), used by the
// Service Registry's is_system_service guard.
type SystemConfig struct {
	JobLifecycleService string `toml:"job_lifecycle_service,omitempty"`
	CheckpointService    string `toml:"checkpoint_service,omitempty"`
	SchemaRegistryService string `toml:"schema_registry_service,omitempty"`
}

// HasSystemComponent returns the names of the system components that use
// the service name; the result is empty when none does.
func (sc SystemConfig) HasSystemComponent(name string) []string {
	var used []string
	if sc.JobLifecycleService == name {
		used = append(used, "job_lifecycle")
	}
	if sc.CheckpointService == name {
		used = append(used, "checkpoints")
	}
	if sc.SchemaRegistryService == name {
		used = append(used, "schema_registry")
	}
	return used
}

// Config is the top-level loaded document.
type Config struct {
	System     *SystemConfig `toml:"system,omitempty"`
	Services   []Service     `toml:"services"`
	Connectors []Connector   `toml:"connectors"`
}

// Load decodes a TOML config file, mirroring
// original_source/src/config/mod.rs's Config::load.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.Annotate(err, "config.Load")
	}
	for ci := range cfg.Connectors {
		conn := &cfg.Connectors[ci]
		if err := conn.Source.ResolveEncodings(); err != nil {
			return nil, errors.Annotatef(err, "connector %q source", conn.Name)
		}
		for mi := range conn.Middlewares {
			if err := conn.Middlewares[mi].ResolveEncodings(); err != nil {
				return nil, errors.Annotatef(err, "connector %q middleware[%d]", conn.Name, mi)
			}
		}
		for si := range conn.Sinks {
			if err := conn.Sinks[si].ResolveEncodings(); err != nil {
				return nil, errors.Annotatef(err, "connector %q sink[%d]", conn.Name, si)
			}
		}
	}
	return &cfg, nil
}

// ServiceByName looks up a service definition by name.
func (c *Config) ServiceByName(name string) (Service, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Service{}, false
}
