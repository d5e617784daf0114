package worker

// pago_factura_worker.go
// Turns invoice payments queued by billing into income movements.
// Storage failures are retried with exponential backoff (max 3 attempts)
// through the circuit breaker; domain rejections go straight to the DLQ.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"turnopos/internal/dto"
	"turnopos/internal/infra"
	"turnopos/internal/model"
	"turnopos/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const maxPagoAttempts = 3

type PagoFacturaWorker struct {
	pagos   service.PagoFacturaService
	cb      *infra.CircuitBreaker
	backoff func(attempt int) time.Duration
}

func NewPagoFacturaWorker(pagos service.PagoFacturaService, cb *infra.CircuitBreaker) *PagoFacturaWorker {
	return &PagoFacturaWorker{pagos: pagos, cb: cb, backoff: exponentialBackoff}
}

// Handle processes one pago_factura payload.
func (w *PagoFacturaWorker) Handle(ctx context.Context, raw json.RawMessage) error {
	var job dto.PagoFacturaJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return &JobError{Attempts: 0, Err: fmt.Errorf("invalid payload: %w", err)}
	}
	usuarioID, err := uuid.Parse(job.UsuarioID)
	if err != nil {
		return &JobError{Attempts: 0, Err: fmt.Errorf("invalid actorId %q", job.UsuarioID)}
	}

	var resp *dto.PagoFacturaResponse
	attempts, err := withRetry(ctx, maxPagoAttempts, w.backoff, func(attempt int) error {
		err := w.cb.Execute(func() error {
			r, err := w.pagos.RegistrarPago(ctx, usuarioID, job.PagoFacturaRequest)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil && retryable(err) {
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("factura_id", job.FacturaID).
				Msg("pago_factura_worker: attempt failed, retrying")
		}
		return err
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("factura_id", job.FacturaID).
			Int("attempts", attempts).
			Msg("pago_factura_worker: giving up")
		return &JobError{Attempts: attempts, Err: err}
	}

	ev := log.Info().Str("factura_id", job.FacturaID).Bool("skipped", resp.Skipped)
	if resp.Movimiento != nil {
		ev = ev.Str("movimiento_id", resp.Movimiento.ID).Bool("replayed", resp.Movimiento.Replayed)
	}
	ev.Msg("pago_factura_worker: processed")
	return nil
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	return errors.Is(err, infra.ErrCircuitOpen) || model.KindOf(err) == model.KindStorage
}

// withRetry calls fn up to maxAttempts times while its error is retryable.
// It returns the number of attempts made and the last error.
func withRetry(ctx context.Context, maxAttempts int, backoff func(int) time.Duration, fn func(attempt int) error) (int, error) {
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(backoff(i)):
			}
		}
		err := fn(i)
		if err == nil {
			return i + 1, nil
		}
		lastErr = err
		if !retryable(err) {
			return i + 1, err
		}
	}
	return maxAttempts, lastErr
}

// 1s, 2s, 4s …
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * time.Second
}
