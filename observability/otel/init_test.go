package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization = Bearer abc ,bad, =x,tenant=pool")
	require.Equal(t, map[string]string{"authorization": "Bearer abc", "tenant": "pool"}, got)
	require.Empty(t, ParseHeaders(""))
}

func TestInitWithoutExporters(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestResourceAttributes(t *testing.T) {
	attrs := resourceAttributes(Config{
		ServiceName: "lendingd",
		Environment: "test",
		Attributes:  map[string]string{"aethos.pool": "0xabc", " ": "skip"},
	})
	require.Len(t, attrs, 3)
	require.Contains(t, attrs, attribute.String("aethos.pool", "0xabc"))
}
