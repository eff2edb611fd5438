// Package bootstrap wires the control plane from environment configuration:
// store, queue, blob backend, evaluator, and the coordinator on top.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/futurisms/overlay-platform-sub000/internal/agents"
	"github.com/futurisms/overlay-platform-sub000/internal/api"
	"github.com/futurisms/overlay-platform-sub000/internal/blob"
	"github.com/futurisms/overlay-platform-sub000/internal/coordinator"
	"github.com/futurisms/overlay-platform-sub000/internal/models"
	"github.com/futurisms/overlay-platform-sub000/internal/overlay"
	"github.com/futurisms/overlay-platform-sub000/internal/planner"
	"github.com/futurisms/overlay-platform-sub000/internal/state"
	"github.com/futurisms/overlay-platform-sub000/internal/usage"
)

// ControlPlane bundles everything the api-gateway process runs.
type ControlPlane struct {
	Store       state.Store
	Queue       state.Queue
	Blobs       blob.Store
	Coordinator *coordinator.Coordinator
	Server      *api.Server
}

func NewControlPlaneFromEnv(ctx context.Context) (*ControlPlane, error) {
	store, err := newStore(getenv("OVERLAY_STORE", "memory"))
	if err != nil {
		return nil, err
	}
	queue, err := newQueue(getenv("OVERLAY_QUEUE", "memory"))
	if err != nil {
		return nil, err
	}
	blobs, err := newBlobStore(ctx, getenv("OVERLAY_BLOB_BACKEND", "memory"))
	if err != nil {
		return nil, err
	}
	evaluator, err := newEvaluator(getenv("OVERLAY_EVALUATOR", "openai"))
	if err != nil {
		return nil, err
	}
	rates, err := usage.RateTableFromEnv()
	if err != nil {
		return nil, err
	}

	coord := coordinator.New(store, queue, blobs, overlay.FromEnv(), evaluator, coordinator.Options{
		Workers:           getenvInt("OVERLAY_WORKERS", 4),
		VisibilityTimeout: time.Duration(getenvInt("OVERLAY_VISIBILITY_SECONDS", 300)) * time.Second,
		Planner: planner.Options{
			AgentTimeoutSec: getenvInt("OVERLAY_AGENT_TIMEOUT_SECONDS", 60),
			MaxAttempts:     getenvInt("OVERLAY_AGENT_MAX_ATTEMPTS", 3),
		},
	})

	return &ControlPlane{
		Store:       store,
		Queue:       queue,
		Blobs:       blobs,
		Coordinator: coord,
		Server:      api.NewServer(store, queue, blobs, rates),
	}, nil
}

func newStore(kind string) (state.Store, error) {
	switch kind {
	case "memory":
		return state.NewMemoryStore(), nil
	case "postgres":
		dsn := os.Getenv("OVERLAY_POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("OVERLAY_POSTGRES_DSN is required when OVERLAY_STORE=postgres")
		}
		return state.NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported OVERLAY_STORE value %q", kind)
	}
}

func newQueue(kind string) (state.Queue, error) {
	switch kind {
	case "memory":
		return state.NewMemoryQueue(), nil
	case "redis":
		return state.NewRedisQueue(state.RedisQueueConfig{
			Addr:          getenv("OVERLAY_REDIS_ADDR", "127.0.0.1:6379"),
			Password:      os.Getenv("OVERLAY_REDIS_PASSWORD"),
			DB:            getenvInt("OVERLAY_REDIS_DB", 0),
			Key:           getenv("OVERLAY_REDIS_KEY", "overlay:submissions"),
			Timeout:       3 * time.Second,
			DeadLetterMax: getenvInt("OVERLAY_REDIS_DEADLETTER_MAX", 5),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported OVERLAY_QUEUE value %q", kind)
	}
}

func newBlobStore(ctx context.Context, kind string) (blob.Store, error) {
	switch kind {
	case "memory":
		return blob.NewMemoryStore(), nil
	case "minio":
		return blob.NewMinIOStore(ctx, blob.MinIOConfigFromEnv())
	default:
		return nil, fmt.Errorf("unsupported OVERLAY_BLOB_BACKEND value %q", kind)
	}
}

func newEvaluator(kind string) (agents.Evaluator, error) {
	switch kind {
	case "mock":
		return agents.NewMockEvaluator(), nil
	case "openai":
		router, err := models.LoadFromEnv()
		if err != nil {
			return nil, err
		}
		return agents.NewOpenAIEvaluator(agents.OpenAISettings{
			APIKey:  os.Getenv("OVERLAY_OPENAI_API_KEY"),
			BaseURL: os.Getenv("OVERLAY_OPENAI_BASE_URL"),
		}, router)
	default:
		return nil, fmt.Errorf("unsupported OVERLAY_EVALUATOR value %q", kind)
	}
}

func getenv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
