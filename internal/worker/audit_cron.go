package worker

// audit_cron.go
// Background loop that replays the ledger of every open register and
// compares it with the cached balance. Divergences are logged and
// counted; the cron never repairs, that stays an explicit supervisor action.

import (
	"context"
	"time"

	"turnopos/internal/dto"

	"github.com/rs/zerolog/log"
)

// Auditor is the slice of CajaService the cron needs.
type Auditor interface {
	AuditarAbiertas(ctx context.Context) ([]dto.AuditoriaCajaResponse, error)
}

// RunAuditCron ticks every interval until ctx is cancelled.
func RunAuditCron(ctx context.Context, auditor Auditor, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("audit_cron: started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("audit_cron: shutting down")
			return nil
		case <-ticker.C:
			auditTick(ctx, auditor)
		}
	}
}

// auditTick runs one pass and returns how many registers diverged.
func auditTick(ctx context.Context, auditor Auditor) int {
	informes, err := auditor.AuditarAbiertas(ctx)
	if err != nil {
		log.Error().Err(err).Msg("audit_cron: failed to audit open registers")
		return 0
	}
	divergentes := 0
	for _, inf := range informes {
		if inf.Consistente {
			continue
		}
		divergentes++
		log.Error().
			Str("kind", "storage_failure").
			Str("caja_id", inf.CajaID).
			Str("saldo_cache", inf.SaldoCache.String()).
			Str("saldo_replay", inf.SaldoReplay.String()).
			Msg("audit_cron: cached balance diverges from ledger")
	}
	log.Debug().Int("auditadas", len(informes)).Int("divergentes", divergentes).Msg("audit_cron: tick")
	return divergentes
}
