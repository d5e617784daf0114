package service

import (
	"context"
	"strings"
	"testing"

	"turnopos/internal/dto"
	"turnopos/internal/model"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pagoReq(suc uuid.UUID, factura, monto string) dto.PagoFacturaRequest {
	return dto.PagoFacturaRequest{
		SucursalID: suc.String(),
		FacturaID:  factura,
		Monto:      decPtr(monto),
		MetodoPago: "efectivo",
	}
}

func TestPagoFactura_RegistraIngresoEnCajaAbierta(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CajaOptions{})
	pagos := NewPagoFacturaService(f.svc, f.repo, f.metrics)
	suc := uuid.New()
	id := f.caja(t, suc, "Caja")
	f.abrir(t, id, "100")

	resp, err := pagos.RegistrarPago(ctx, f.cajero, pagoReq(suc, "F-0001", "250.50"))
	require.NoError(t, err)
	assert.False(t, resp.Skipped)
	require.NotNil(t, resp.Movimiento)
	assert.Equal(t, "income", resp.Movimiento.Tipo)
	require.NotNil(t, resp.Movimiento.Origen)
	assert.Equal(t, "invoices", resp.Movimiento.Origen.Tabla)
	assert.Equal(t, "F-0001", resp.Movimiento.Origen.ID)
	assertDec(t, "350.50", f.saldo(t, id))

	mov, err := f.repo.FindMovimientoByIdempotencyKey(ctx, "invoices:F-0001")
	require.NoError(t, err)
	assert.Equal(t, resp.Movimiento.ID, mov.ID.String())
}

func TestPagoFactura_SinCajaAbiertaSeOmite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CajaOptions{})
	pagos := NewPagoFacturaService(f.svc, f.repo, f.metrics)
	suc := uuid.New()
	f.caja(t, suc, "Cerrada")

	resp, err := pagos.RegistrarPago(ctx, f.cajero, pagoReq(suc, "F-2", "10"))
	require.NoError(t, err)
	assert.True(t, resp.Skipped)
	assert.NotEmpty(t, resp.Motivo)
	assert.Nil(t, resp.Movimiento)

	expected := `
# HELP cajas_pagos_factura_total Invoice payments received from billing, by outcome.
# TYPE cajas_pagos_factura_total counter
cajas_pagos_factura_total{resultado="omitido"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry, strings.NewReader(expected), "cajas_pagos_factura_total"))
}

func TestPagoFactura_EligeLaSesionMasAntigua(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CajaOptions{})
	pagos := NewPagoFacturaService(f.svc, f.repo, f.metrics)
	suc := uuid.New()
	primera := f.caja(t, suc, "Z primera")
	segunda := f.caja(t, suc, "A segunda")
	f.abrir(t, primera, "0")
	f.abrir(t, segunda, "0")

	_, err := pagos.RegistrarPago(ctx, f.cajero, pagoReq(suc, "F-3", "10"))
	require.NoError(t, err)
	assertDec(t, "10", f.saldo(t, primera))
	assertDec(t, "0", f.saldo(t, segunda))
}

func TestPagoFactura_CajaIndicada(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CajaOptions{})
	pagos := NewPagoFacturaService(f.svc, f.repo, f.metrics)
	suc := uuid.New()
	a := f.caja(t, suc, "A")
	b := f.caja(t, suc, "B")
	f.abrir(t, a, "0")
	f.abrir(t, b, "0")

	req := pagoReq(suc, "F-4", "10")
	req.CajaID = strPtr(b.String())
	_, err := pagos.RegistrarPago(ctx, f.cajero, req)
	require.NoError(t, err)
	assertDec(t, "10", f.saldo(t, b))
	assertDec(t, "0", f.saldo(t, a))

	ajena := f.caja(t, uuid.New(), "Ajena")
	req = pagoReq(suc, "F-5", "10")
	req.CajaID = strPtr(ajena.String())
	_, err = pagos.RegistrarPago(ctx, f.cajero, req)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestPagoFactura_Idempotente(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CajaOptions{})
	pagos := NewPagoFacturaService(f.svc, f.repo, f.metrics)
	suc := uuid.New()
	id := f.caja(t, suc, "Caja")
	f.abrir(t, id, "0")

	first, err := pagos.RegistrarPago(ctx, f.cajero, pagoReq(suc, "F-6", "99"))
	require.NoError(t, err)

	// still answered after the register closed
	_, err = f.svc.Cerrar(ctx, id, f.cajero, dto.CerrarCajaRequest{MontoDeclarado: decPtr("99")})
	require.NoError(t, err)

	again, err := pagos.RegistrarPago(ctx, f.cajero, pagoReq(suc, "F-6", "99"))
	require.NoError(t, err)
	assert.False(t, again.Skipped)
	require.NotNil(t, again.Movimiento)
	assert.True(t, again.Movimiento.Replayed)
	assert.Equal(t, first.Movimiento.ID, again.Movimiento.ID)
}

func TestPagoFactura_Validaciones(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, CajaOptions{})
	pagos := NewPagoFacturaService(f.svc, f.repo, f.metrics)
	suc := uuid.New()

	bad := pagoReq(suc, "F-7", "0")
	_, err := pagos.RegistrarPago(ctx, f.cajero, bad)
	assert.ErrorIs(t, err, model.ErrValidation)

	bad = pagoReq(suc, "F-7", "1")
	bad.SucursalID = "no-uuid"
	_, err = pagos.RegistrarPago(ctx, f.cajero, bad)
	assert.ErrorIs(t, err, model.ErrValidation)

	bad = pagoReq(suc, "", "1")
	_, err = pagos.RegistrarPago(ctx, f.cajero, bad)
	assert.ErrorIs(t, err, model.ErrValidation)
}
