package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tiendapos/internal/cart"
	"tiendapos/internal/config"
	"tiendapos/internal/events"
	"tiendapos/internal/objectstore"
	"tiendapos/internal/store/memory"
)

const strongAuthSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "short"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: strongAuthSecret, AdminSecret: "tooshort"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: strongAuthSecret, AdminSecret: "aaaaaaaaaaaaaaaaaaaa"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: strongAuthSecret, AdminSecret: "passwordpassword"}))
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	require.NoError(t, validateSecurityConfig(config.Config{AuthSecret: strongAuthSecret}))
	require.NoError(t, validateSecurityConfig(config.Config{AuthSecret: strongAuthSecret, AdminSecret: "k7#Qm2!vLp9@xR4z"}))
}

func TestOpenRepositoryFallsBackToMemory(t *testing.T) {
	repo, closeFn, err := openRepository(context.Background(), config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, closeFn)
	assert.IsType(t, &memory.Store{}, repo)
}

func TestOpenPublisherSelectsBackend(t *testing.T) {
	publisher, err := openPublisher(config.Config{EventsBackend: config.EventsNone}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, events.Noop{}, publisher)

	_, err = openPublisher(config.Config{EventsBackend: config.EventsRedis, RedisAddr: "localhost:6379"}, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenImagesDefaultsToMemory(t *testing.T) {
	images, err := openImages(context.Background(), config.Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &objectstore.MemoryStore{}, images)
}

func TestSweepCartsStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweepCarts(ctx, cart.NewRegistry(time.Hour), time.Minute, zap.NewNop())
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
