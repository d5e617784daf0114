//go:build integration

package repository

// Run with: go test -tags integration ./internal/repository/... -v

import (
	"context"
	"sync"
	"testing"
	"time"

	"turnopos/internal/infra"
	"turnopos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"
)

func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	ctx := context.Background()

	pgC, err := tcPostgres.Run(ctx, "postgres:16-alpine",
		tcPostgres.WithDatabase("turnopos_test"),
		tcPostgres.WithUsername("turnopos"),
		tcPostgres.WithPassword("turnopos"),
		testcontainers.WithWaitStrategy(tcPostgres.BasicWaitStrategies()...),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := infra.NewDatabase(ctx, dsn)
	require.NoError(t, err)
	return db
}

func TestCajaRepository_Postgres(t *testing.T) {
	db := startPostgres(t)
	runContract(t, func(*testing.T) CajaRepository { return NewCajaRepository(db) })

	t.Run("FOR UPDATE serializa escrituras concurrentes", func(t *testing.T) {
		ctx := context.Background()
		repo := NewCajaRepository(db)
		c := seedCaja(t, repo, uuid.New(), "Concurrente")

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.Transaction(ctx, func(tx CajaRepository) error {
					locked, err := tx.LockCaja(ctx, c.ID)
					if err != nil {
						return err
					}
					locked.SaldoActual = locked.SaldoActual.Add(decimal.NewFromInt(1))
					return tx.UpdateCaja(ctx, locked)
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := repo.FindCajaByID(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, got.SaldoActual.Equal(decimal.NewFromInt(20)), got.SaldoActual.String())
	})

	t.Run("el ledger rechaza UPDATE y DELETE", func(t *testing.T) {
		ctx := context.Background()
		repo := NewCajaRepository(db)
		c := seedCaja(t, repo, uuid.New(), "Inmutable")
		s := seedSesion(t, repo, c.ID, time.Now().UTC())
		m := newMovimiento(s.ID, model.MovimientoIngreso, "10", "efectivo")
		require.NoError(t, repo.CreateMovimiento(ctx, m))

		assert.Error(t, db.Exec("UPDATE movimientos_caja SET monto = 1 WHERE id = ?", m.ID).Error)
		assert.Error(t, db.Exec("DELETE FROM movimientos_caja WHERE id = ?", m.ID).Error)
	})
}
