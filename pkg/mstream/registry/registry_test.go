package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makarski/mstream/pkg/mstream/config"
)

func TestRegisterHTTPServiceInitializesClient(t *testing.T) {
	storage := NewInMemoryStorage()
	reg := New(storage, nil)

	svc := config.Service{Name: "http-alpha", Provider: config.ProviderHTTP, HostURL: "http://example.com"}
	require.NoError(t, reg.RegisterService(context.Background(), svc))

	_, err := reg.HTTPClient("http-alpha")
	assert.NoError(t, err)

	def, err := reg.ServiceDefinition(context.Background(), "http-alpha")
	require.NoError(t, err)
	assert.Equal(t, "http-alpha", def.Name)
}

func TestRemoveServiceClearsCachedClients(t *testing.T) {
	storage := NewInMemoryStorage()
	reg := New(storage, nil)

	svc := config.Service{Name: "http-remove", Provider: config.ProviderHTTP, HostURL: "http://example.com"}
	require.NoError(t, reg.RegisterService(context.Background(), svc))
	require.NoError(t, reg.RemoveService(context.Background(), "http-remove"))

	_, err := reg.HTTPClient("http-remove")
	assert.Error(t, err)

	_, err = reg.ServiceDefinition(context.Background(), "http-remove")
	assert.Error(t, err)
}

func TestRemoveUnknownServiceFails(t *testing.T) {
	reg := New(NewInMemoryStorage(), nil)
	err := reg.RemoveService(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestIsSystemServiceGuardsRemoval(t *testing.T) {
	sysCfg := &config.SystemConfig{CheckpointService: "system-db"}
	reg := New(NewInMemoryStorage(), sysCfg)

	svc := config.Service{Name: "system-db", Provider: config.ProviderMongoDB, ConnectionURI: "mongodb://localhost", DBName: "mstream"}
	require.NoError(t, reg.storage.Save(context.Background(), svc))

	assert.True(t, reg.IsSystemService("system-db"))
	assert.False(t, reg.IsSystemService("other"))

	err := reg.RemoveService(context.Background(), "system-db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoints")
}

func TestUDFMiddlewareBuilderRejectsBadFilename(t *testing.T) {
	storage := NewInMemoryStorage()
	reg := New(storage, nil)

	svc := config.Service{Name: "udf-alpha", Provider: config.ProviderUDF, ScriptPath: "/tmp/scripts"}
	require.NoError(t, reg.RegisterService(context.Background(), svc))

	builder, err := reg.UDFMiddlewareBuilder("udf-alpha")
	require.NoError(t, err)

	_, err = builder("../escape.js")
	assert.Error(t, err)
}
