//go:build integration

package worker

// Run with: go test -tags integration ./internal/worker/... -v

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"turnopos/internal/dto"
	"turnopos/internal/infra"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	rdC, err := tcRedis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdC.Terminate(ctx) })

	url, err := rdC.ConnectionString(ctx)
	require.NoError(t, err)

	rdb, err := infra.NewRedis(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestWorkerPool_DeliversAndDeadLetters(t *testing.T) {
	rdb := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan dto.PagoFacturaJob, 4)
	handlers := WorkerHandlers{
		JobPagoFactura: func(_ context.Context, raw json.RawMessage) error {
			var job dto.PagoFacturaJob
			if err := json.Unmarshal(raw, &job); err != nil {
				return err
			}
			received <- job
			if job.FacturaID == "F-mala" {
				return &JobError{Attempts: 3, Err: errors.New("storage failure")}
			}
			return nil
		},
	}

	done := make(chan error, 1)
	go func() { done <- RunWorkerPool(ctx, rdb, handlers, 2) }()

	d := NewDispatcher(rdb)
	require.NoError(t, d.EnqueuePagoFactura(ctx, dto.PagoFacturaJob{
		PagoFacturaRequest: dto.PagoFacturaRequest{FacturaID: "F-buena"},
		UsuarioID:          "u1",
	}))
	require.NoError(t, d.EnqueuePagoFactura(ctx, dto.PagoFacturaJob{
		PagoFacturaRequest: dto.PagoFacturaRequest{FacturaID: "F-mala"},
		UsuarioID:          "u1",
	}))

	seen := map[string]bool{}
	for len(seen) < 2 {
		select {
		case job := <-received:
			seen[job.FacturaID] = true
		case <-time.After(10 * time.Second):
			t.Fatalf("jobs not delivered, seen=%v", seen)
		}
	}

	require.Eventually(t, func() bool {
		n, err := DLQLength(ctx, rdb, QueuePagosFactura)
		return err == nil && n == 1
	}, 5*time.Second, 50*time.Millisecond)

	raw, err := rdb.LIndex(ctx, DLQPrefix+QueuePagosFactura, 0).Result()
	require.NoError(t, err)
	var entry DLQEntry
	require.NoError(t, json.Unmarshal([]byte(raw), &entry))
	assert.Equal(t, JobPagoFactura, entry.JobType)
	assert.Equal(t, 3, entry.Attempts)

	pending, err := d.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
}

func TestWorkerPool_UnknownJobTypeIsDeadLettered(t *testing.T) {
	rdb := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = RunWorkerPool(ctx, rdb, WorkerHandlers{}, 1) }()
	require.NoError(t, NewDispatcher(rdb).EnqueuePagoFactura(ctx, dto.PagoFacturaJob{UsuarioID: "x"}))

	require.Eventually(t, func() bool {
		n, err := DLQLength(ctx, rdb, QueuePagosFactura)
		return err == nil && n == 1
	}, 5*time.Second, 50*time.Millisecond)
}
