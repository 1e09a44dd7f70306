//go:build integration

package cache

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemcached(t *testing.T) {
	ctx := context.Background()

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "memcached:1.6-alpine",
			ExposedPorts: []string{"11211/tcp"},
			WaitingFor:   wait.ForListeningPort("11211/tcp"),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	store, err := NewMemcached([]string{endpoint}, time.Hour)
	require.NoError(t, err)
	defer store.Close()

	testStore(t, store, nil)
}
