package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := New(context.Background(), srv.Addr(), Options{DB: 2})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	srv.Select(2)
	require.True(t, srv.Exists("k"))
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	_, err := New(context.Background(), "127.0.0.1:1", Options{DialTimeout: 100 * time.Millisecond})
	require.ErrorContains(t, err, "platform/cache: ping")
}
