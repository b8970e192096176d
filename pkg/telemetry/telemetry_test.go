package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupExportsSpans(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	shutdown, err := Setup(ctx, Config{ServiceName: "otcdesk-test", Tracing: true, Writer: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry_test").Start(ctx, "settle-deal")
	span.End()

	require.NoError(t, shutdown(ctx))
	assert.Contains(t, buf.String(), "settle-deal")
	assert.Contains(t, buf.String(), "otcdesk-test")
}

func TestSetupWithoutTracing(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
