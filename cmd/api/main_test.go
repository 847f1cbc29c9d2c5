package main

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/datachat/backend/internal/config"
)

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestOpenThreadStore(t *testing.T) {
	store, err := openThreadStore(context.Background(), config.StoreConfig{})
	require.NoError(t, err)
	assert.NoError(t, store.Close())

	store, err = openThreadStore(context.Background(), config.StoreConfig{ThreadDSN: ":memory:"})
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}

func TestLoadProfilesDefaultsToSeed(t *testing.T) {
	profiles, err := loadProfiles(config.StoreConfig{})
	require.NoError(t, err)
	assert.Len(t, profiles.List(), 2)
}

func clearServiceEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AI_PROVIDER", "ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "Model",
		"ANALYST_BASE_URL", "THREAD_STORE_DSN", "ASSISTANT_PROFILES_PATH",
	} {
		t.Setenv(key, "")
	}
}

func TestRun(t *testing.T) {
	t.Run("Should return configuration errors", func(t *testing.T) {
		clearServiceEnv(t)
		t.Setenv("AI_PROVIDER", "bedrock")

		err := run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load configuration")
	})

	t.Run("Should return profile errors", func(t *testing.T) {
		clearServiceEnv(t)
		t.Setenv("ASSISTANT_PROFILES_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

		err := run(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "assistant profiles")
	})

	t.Run("Should shut down cleanly when the context ends", func(t *testing.T) {
		clearServiceEnv(t)
		t.Setenv("PORT", "127.0.0.1:0")
		t.Setenv("THREAD_STORE_DSN", ":memory:")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.NoError(t, run(ctx))
	})
}
