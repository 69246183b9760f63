package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitWithoutEndpointOnlyInstallsPropagators(t *testing.T) {
	p, err := Init(context.Background(), ForService("pharmacy-api", "", "test", ""))
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestForService(t *testing.T) {
	cfg := ForService("stock-alerts", "", "", "collector:4317")
	assert.Equal(t, "stock-alerts", cfg.ServiceName)
	assert.Equal(t, "1.0.0", cfg.ServiceVersion)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
}
