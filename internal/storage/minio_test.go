package storage_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/horse-sheet/internal/testutil"
)

func TestObjectStore(t *testing.T) {
	store := testutil.SetupTestMinIO(t, "exports-test")
	ctx := context.Background()
	key := "statements/a/2024-03-01_2024-03-31.csv"

	require.NoError(t, store.Ping(ctx))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	body := []byte("date,time\n2024-03-01,10:00\n")
	require.NoError(t, store.Upload(ctx, key, body, "text/csv"))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.Download(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	link, err := store.PresignedURL(ctx, key, time.Minute)
	require.NoError(t, err)
	resp, err := http.Get(link)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	fetched, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, fetched)
}
