package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"turnopos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises the behaviour every CajaRepository implementation must share.
func runContract(t *testing.T, newRepo func(t *testing.T) CajaRepository) {
	ctx := context.Background()

	t.Run("caja por nombre único en sucursal", func(t *testing.T) {
		repo := newRepo(t)
		suc := uuid.New()
		c := &model.Caja{SucursalID: suc, Nombre: "Caja 1"}
		require.NoError(t, repo.CreateCaja(ctx, c))
		assert.NotEqual(t, uuid.Nil, c.ID)

		err := repo.CreateCaja(ctx, &model.Caja{SucursalID: suc, Nombre: "caja 1"})
		assert.ErrorIs(t, err, model.ErrValidation)

		// same name in another branch is fine
		require.NoError(t, repo.CreateCaja(ctx, &model.Caja{SucursalID: uuid.New(), Nombre: "Caja 1"}))

		exists, err := repo.ExisteNombreCaja(ctx, suc, "CAJA 1")
		require.NoError(t, err)
		assert.True(t, exists)

		got, err := repo.FindCajaByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CajaCerrada, got.Estado)
		assert.True(t, got.SaldoActual.IsZero())
	})

	t.Run("caja inexistente", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.FindCajaByID(ctx, uuid.New())
		assert.ErrorIs(t, err, model.ErrNotFound)
		assert.ErrorIs(t, repo.AjustarSaldo(ctx, uuid.New(), decimal.NewFromInt(1)), model.ErrNotFound)
	})

	t.Run("listado por sucursal excluye inactivas", func(t *testing.T) {
		repo := newRepo(t)
		suc := uuid.New()
		b := seedCaja(t, repo, suc, "B")
		seedCaja(t, repo, suc, "A")
		b.Activa = false
		require.NoError(t, repo.UpdateCaja(ctx, b))

		activas, err := repo.ListCajasPorSucursal(ctx, suc, false)
		require.NoError(t, err)
		require.Len(t, activas, 1)
		assert.Equal(t, "A", activas[0].Nombre)

		todas, err := repo.ListCajasPorSucursal(ctx, suc, true)
		require.NoError(t, err)
		require.Len(t, todas, 2)
		assert.Equal(t, "A", todas[0].Nombre)
		assert.Equal(t, "B", todas[1].Nombre)
	})

	t.Run("una sola sesión abierta por caja", func(t *testing.T) {
		repo := newRepo(t)
		c := seedCaja(t, repo, uuid.New(), "Caja")
		s := seedSesion(t, repo, c.ID, time.Now().UTC())

		err := repo.CreateSesion(ctx, &model.SesionCaja{
			CajaID: c.ID, AbiertaPor: uuid.New(), MontoInicial: decimal.Zero,
			Estado: model.CajaAbierta, OpenedAt: time.Now().UTC(),
		})
		assert.ErrorIs(t, err, model.ErrInvalidState)

		got, err := repo.FindSesionAbierta(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, s.ID, got.ID)
	})

	t.Run("cerrar sesión es definitivo", func(t *testing.T) {
		repo := newRepo(t)
		c := seedCaja(t, repo, uuid.New(), "Caja")
		s := seedSesion(t, repo, c.ID, time.Now().UTC())

		closeSesion(s, decimal.NewFromInt(100))
		require.NoError(t, repo.CerrarSesion(ctx, s))
		assert.ErrorIs(t, repo.CerrarSesion(ctx, s), model.ErrInvalidState)

		_, err := repo.FindSesionAbierta(ctx, c.ID)
		assert.ErrorIs(t, err, model.ErrNotFound)

		got, err := repo.FindSesionByID(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CajaCerrada, got.Estado)
		require.NotNil(t, got.MontoDeclarado)
		assert.True(t, got.MontoDeclarado.Equal(decimal.NewFromInt(100)))

		// a new session may open after the close
		seedSesion(t, repo, c.ID, time.Now().UTC())
	})

	t.Run("montos fuera de rango se rechazan sin persistir", func(t *testing.T) {
		repo := newRepo(t)
		c := seedCaja(t, repo, uuid.New(), "Caja")
		s := seedSesion(t, repo, c.ID, time.Now().UTC())

		grande := model.MontoMaximo.Add(decimal.NewFromInt(1)).String()
		err := repo.CreateMovimiento(ctx, newMovimiento(s.ID, model.MovimientoIngreso, grande, "efectivo"))
		assert.ErrorIs(t, err, model.ErrValidation)
		assert.ErrorIs(t, repo.AjustarSaldo(ctx, c.ID, model.MontoMaximo.Add(decimal.NewFromInt(1))), model.ErrValidation)

		movs, err := repo.ListMovimientos(ctx, s.ID)
		require.NoError(t, err)
		assert.Empty(t, movs)
		got, err := repo.FindCajaByID(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, got.SaldoActual.IsZero())
	})

	t.Run("cierre con desvío porcentual muy grande", func(t *testing.T) {
		repo := newRepo(t)
		c := seedCaja(t, repo, uuid.New(), "Caja")
		s := seedSesion(t, repo, c.ID, time.Now().UTC())

		// computed 1.00, counted 2000.00: 199900 %
		s.MontoInicial = decimal.NewFromInt(1)
		closeSesion(s, decimal.NewFromInt(2000))
		pct := decimal.NewFromInt(199900)
		s.DesvioPct = &pct
		require.NoError(t, repo.CerrarSesion(ctx, s))

		got, err := repo.FindSesionByID(ctx, s.ID)
		require.NoError(t, err)
		require.NotNil(t, got.DesvioPct)
		assert.True(t, got.DesvioPct.Equal(pct))
	})

	t.Run("movimientos en orden de alta e idempotency key única", func(t *testing.T) {
		repo := newRepo(t)
		c := seedCaja(t, repo, uuid.New(), "Caja")
		s := seedSesion(t, repo, c.ID, time.Now().UTC())

		key := "invoices:42"
		m1 := newMovimiento(s.ID, model.MovimientoIngreso, "300", "efectivo")
		m1.IdempotencyKey = &key
		require.NoError(t, repo.CreateMovimiento(ctx, m1))
		require.NoError(t, repo.CreateMovimiento(ctx, newMovimiento(s.ID, model.MovimientoEgreso, "50", "efectivo")))
		require.NoError(t, repo.CreateMovimiento(ctx, newMovimiento(s.ID, model.MovimientoIngreso, "20.5", "debito")))

		dup := newMovimiento(s.ID, model.MovimientoIngreso, "1", "efectivo")
		dup.IdempotencyKey = &key
		assert.ErrorIs(t, repo.CreateMovimiento(ctx, dup), model.ErrValidation)

		movs, err := repo.ListMovimientos(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, movs, 3)
		assert.Equal(t, m1.ID, movs[0].ID)
		assert.Equal(t, model.MovimientoEgreso, movs[1].Tipo)
		assert.Less(t, movs[0].Secuencia, movs[1].Secuencia)
		assert.Less(t, movs[1].Secuencia, movs[2].Secuencia)

		found, err := repo.FindMovimientoByIdempotencyKey(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, m1.ID, found.ID)

		_, err = repo.FindMovimientoByIdempotencyKey(ctx, "otra")
		assert.ErrorIs(t, err, model.ErrNotFound)

		tot, err := repo.TotalesPorSesion(ctx, []uuid.UUID{s.ID, uuid.New()})
		require.NoError(t, err)
		require.Len(t, tot, 2)
		assert.True(t, tot[s.ID].Ingresos.Equal(decimal.RequireFromString("320.5")))
		assert.True(t, tot[s.ID].Egresos.Equal(decimal.NewFromInt(50)))
		assert.Equal(t, 3, tot[s.ID].Cantidad)
		assert.True(t, tot[s.ID].PorMetodo["efectivo"].Equal(decimal.NewFromInt(250)))
		assert.True(t, tot[s.ID].PorMetodo["debito"].Equal(decimal.RequireFromString("20.5")))
	})

	t.Run("transacción revierte todo ante error", func(t *testing.T) {
		repo := newRepo(t)
		c := seedCaja(t, repo, uuid.New(), "Caja")
		s := seedSesion(t, repo, c.ID, time.Now().UTC())
		boom := errors.New("boom")

		err := repo.Transaction(ctx, func(tx CajaRepository) error {
			locked, err := tx.LockCaja(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, c.ID, locked.ID)
			require.NoError(t, tx.CreateMovimiento(ctx, newMovimiento(s.ID, model.MovimientoIngreso, "10", "efectivo")))
			require.NoError(t, tx.AjustarSaldo(ctx, c.ID, decimal.NewFromInt(10)))
			return boom
		})
		require.Error(t, err)

		movs, err := repo.ListMovimientos(ctx, s.ID)
		require.NoError(t, err)
		assert.Empty(t, movs)
		got, err := repo.FindCajaByID(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, got.SaldoActual.IsZero())
	})

	t.Run("transacción confirmada es visible", func(t *testing.T) {
		repo := newRepo(t)
		c := seedCaja(t, repo, uuid.New(), "Caja")
		s := seedSesion(t, repo, c.ID, time.Now().UTC())

		err := repo.Transaction(ctx, func(tx CajaRepository) error {
			if err := tx.CreateMovimiento(ctx, newMovimiento(s.ID, model.MovimientoIngreso, "10", "efectivo")); err != nil {
				return err
			}
			return tx.AjustarSaldo(ctx, c.ID, decimal.NewFromInt(10))
		})
		require.NoError(t, err)

		got, err := repo.FindCajaByID(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, got.SaldoActual.Equal(decimal.NewFromInt(10)))
	})

	t.Run("errores de dominio atraviesan la transacción", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.Transaction(ctx, func(tx CajaRepository) error {
			return model.InvalidState("la caja está cerrada")
		})
		assert.ErrorIs(t, err, model.ErrInvalidState)
		assert.Equal(t, "la caja está cerrada", model.Message(err))
	})

	t.Run("sesiones por rango, más recientes primero", func(t *testing.T) {
		repo := newRepo(t)
		c := seedCaja(t, repo, uuid.New(), "Caja")
		base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		var ids []uuid.UUID
		for i := 0; i < 3; i++ {
			s := seedSesion(t, repo, c.ID, base.AddDate(0, 0, i))
			closeSesion(s, decimal.Zero)
			require.NoError(t, repo.CerrarSesion(ctx, s))
			ids = append(ids, s.ID)
		}

		all, err := repo.ListSesiones(ctx, c.ID, nil, nil)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ids[2], all[0].ID)
		assert.Equal(t, ids[0], all[2].ID)

		desde := base.AddDate(0, 0, 1)
		hasta := base.AddDate(0, 0, 1).Add(time.Hour)
		one, err := repo.ListSesiones(ctx, c.ID, &desde, &hasta)
		require.NoError(t, err)
		require.Len(t, one, 1)
		assert.Equal(t, ids[1], one[0].ID)
	})

	t.Run("sesiones abiertas por sucursal en orden de apertura", func(t *testing.T) {
		repo := newRepo(t)
		suc := uuid.New()
		a := seedCaja(t, repo, suc, "A")
		b := seedCaja(t, repo, suc, "B")
		inactiva := seedCaja(t, repo, suc, "C")
		now := time.Now().UTC()
		sb := seedSesion(t, repo, b.ID, now.Add(-2*time.Hour))
		sa := seedSesion(t, repo, a.ID, now.Add(-time.Hour))
		seedSesion(t, repo, inactiva.ID, now.Add(-3*time.Hour))
		inactiva.Activa = false
		require.NoError(t, repo.UpdateCaja(ctx, inactiva))

		abiertas, err := repo.ListSesionesAbiertasPorSucursal(ctx, suc)
		require.NoError(t, err)
		require.Len(t, abiertas, 2)
		assert.Equal(t, sb.ID, abiertas[0].ID)
		assert.Equal(t, sa.ID, abiertas[1].ID)
	})
}

// ── Fixtures ──────────────────────────────────────────────────────────────────

func seedCaja(t *testing.T, repo CajaRepository, suc uuid.UUID, nombre string) *model.Caja {
	t.Helper()
	c := &model.Caja{SucursalID: suc, Nombre: nombre, Activa: true, SaldoActual: decimal.Zero}
	require.NoError(t, repo.CreateCaja(context.Background(), c))
	return c
}

// seedSesion opens a session the way the ledger service does: session row plus caja state.
func seedSesion(t *testing.T, repo CajaRepository, cajaID uuid.UUID, openedAt time.Time) *model.SesionCaja {
	t.Helper()
	ctx := context.Background()
	s := &model.SesionCaja{
		CajaID:       cajaID,
		AbiertaPor:   uuid.New(),
		MontoInicial: decimal.Zero,
		Estado:       model.CajaAbierta,
		OpenedAt:     openedAt,
	}
	require.NoError(t, repo.CreateSesion(ctx, s))
	c, err := repo.FindCajaByID(ctx, cajaID)
	require.NoError(t, err)
	c.Estado = model.CajaAbierta
	require.NoError(t, repo.UpdateCaja(ctx, c))
	return s
}

func closeSesion(s *model.SesionCaja, declarado decimal.Decimal) {
	now := time.Now().UTC()
	calc := s.MontoInicial
	desvio := declarado.Sub(calc)
	pct := decimal.Zero
	clas := model.DesvioNormal
	cerradaPor := uuid.New()
	s.MontoCalculado = &calc
	s.MontoDeclarado = &declarado
	s.Desvio = &desvio
	s.DesvioPct = &pct
	s.ClasificacionDesvio = &clas
	s.CerradaPor = &cerradaPor
	s.Estado = model.CajaCerrada
	s.ClosedAt = &now
}

func newMovimiento(sesionID uuid.UUID, tipo model.TipoMovimiento, monto, metodo string) *model.MovimientoCaja {
	return &model.MovimientoCaja{
		SesionCajaID: sesionID,
		UsuarioID:    uuid.New(),
		Tipo:         tipo,
		Monto:        decimal.RequireFromString(monto),
		Motivo:       "test",
		MetodoPago:   metodo,
	}
}
