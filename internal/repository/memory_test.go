package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"turnopos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCajaRepository_Contract(t *testing.T) {
	runContract(t, func(*testing.T) CajaRepository { return NewMemoryCajaRepository() })
}

func TestMemoryCajaRepository_TransaccionesSerializadas(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCajaRepository()
	c := seedCaja(t, repo, uuid.New(), "Caja")

	// read-modify-write through UpdateCaja loses updates unless transactions serialize
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
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
	assert.True(t, got.SaldoActual.Equal(decimal.NewFromInt(50)), got.SaldoActual.String())
}

func TestMemoryCajaRepository_LecturasFueraDeTransaccionNoVenCambiosPendientes(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCajaRepository()
	c := seedCaja(t, repo, uuid.New(), "Caja")

	err := repo.Transaction(ctx, func(tx CajaRepository) error {
		require.NoError(t, tx.AjustarSaldo(ctx, c.ID, decimal.NewFromInt(5)))
		outside, err := repo.FindCajaByID(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, outside.SaldoActual.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryCajaRepository_ContextoCancelado(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewMemoryCajaRepository().Transaction(ctx, func(CajaRepository) error { return nil })
	assert.ErrorIs(t, err, model.ErrStorage)
	assert.True(t, errors.Is(err, context.Canceled))
}
