package main

import (
	"context"
	"testing"
	"time"

	"atlas-consolidation/internal/config"

	"github.com/stretchr/testify/require"
)

func TestBuildStoreInitializesQdrantStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Qdrant.Host = "127.0.0.1"
	cfg.Qdrant.Port = 1 // unreachable, exercises the error path deterministically

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := buildStore(ctx, cfg)
	require.Error(t, err, "no Qdrant instance is running in this test environment")
}
