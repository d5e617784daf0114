package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"turnopos/internal/dto"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	QueuePagosFactura = "jobs:pagos_factura"

	JobPagoFactura = "pago_factura"
)

// Job is the generic envelope for all async tasks.
type Job struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt string          `json:"enqueued_at"`
}

// Handler processes one job payload. A returned error moves the job to the
// dead letter queue; retrying is the handler's business.
type Handler func(ctx context.Context, payload json.RawMessage) error

// JobError carries how many attempts a handler spent before giving up.
type JobError struct {
	Attempts int
	Err      error
}

func (e *JobError) Error() string { return e.Err.Error() }
func (e *JobError) Unwrap() error { return e.Err }

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb *redis.Client
}

func NewDispatcher(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

// EnqueuePagoFactura pushes an invoice payment received from billing.
func (d *Dispatcher) EnqueuePagoFactura(ctx context.Context, job dto.PagoFacturaJob) error {
	return d.enqueue(ctx, QueuePagosFactura, JobPagoFactura, job)
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	job := Job{Type: jobType, Payload: data, EnqueuedAt: time.Now().UTC().Format(time.RFC3339)}
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return d.rdb.LPush(ctx, queue, encoded).Err()
}

// Pending returns the queue length, for health reporting.
func (d *Dispatcher) Pending(ctx context.Context) (int64, error) {
	return d.rdb.LLen(ctx, QueuePagosFactura).Result()
}

// WorkerHandlers maps job types to their handler.
type WorkerHandlers map[string]Handler

// RunWorkerPool blocks running numWorkers consumers until ctx is cancelled.
// Each goroutine blocks on BRPOP, so idle workers cost nothing.
func RunWorkerPool(ctx context.Context, rdb *redis.Client, handlers WorkerHandlers, numWorkers int) error {
	if numWorkers < 1 {
		numWorkers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < numWorkers; i++ {
		g.Go(func() error {
			runWorker(ctx, rdb, handlers, i)
			return nil
		})
	}
	log.Info().Int("workers", numWorkers).Msg("worker pool started")
	return g.Wait()
}

func runWorker(ctx context.Context, rdb *redis.Client, handlers WorkerHandlers, id int) {
	for {
		if ctx.Err() != nil {
			log.Info().Int("worker", id).Msg("worker shutting down")
			return
		}
		// waits up to 2s then loops to check ctx
		result, err := rdb.BRPop(ctx, 2*time.Second, QueuePagosFactura).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				log.Warn().Err(err).Int("worker", id).Msg("worker: brpop failed")
				sleep(ctx, time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}
		processJob(ctx, rdb, handlers, result[0], result[1])
	}
}

func processJob(ctx context.Context, rdb *redis.Client, handlers WorkerHandlers, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		SendToDLQ(ctx, rdb, queue, "unknown", json.RawMessage(`null`), "malformed envelope: "+err.Error(), 0)
		return
	}
	handle, ok := handlers[job.Type]
	if !ok {
		SendToDLQ(ctx, rdb, queue, job.Type, job.Payload, "no handler for job type", 0)
		return
	}
	if err := handle(ctx, job.Payload); err != nil {
		attempts := 1
		var je *JobError
		if errors.As(err, &je) {
			attempts = je.Attempts
		}
		SendToDLQ(ctx, rdb, queue, job.Type, job.Payload, err.Error(), attempts)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
