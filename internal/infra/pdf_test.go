package infra

import (
	"bytes"
	"testing"

	"turnopos/internal/dto"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateArqueoPDF(t *testing.T) {
	d := func(s string) *decimal.Decimal { v := decimal.RequireFromString(s); return &v }
	closedAt := "2026-03-01T20:00:00Z"
	clas := "advertencia"
	notas := "faltó cambio"

	caja := dto.CajaResponse{ID: "c1", Nombre: "Caja recepción"}
	sesion := dto.SesionResponse{
		ID:             "s1",
		Estado:         "closed",
		OpenedAt:       "2026-03-01T08:00:00Z",
		ClosedAt:       &closedAt,
		MontoInicial:   decimal.RequireFromString("100"),
		MontoCalculado: d("150"),
		MontoDeclarado: d("148"),
		Desvio:         d("-2"),
		DesvioPct:      d("-1.33"),
		Clasificacion:  &clas,
		Observaciones:  &notas,
		Totales: dto.TotalesResponse{
			Ingresos:  decimal.RequireFromString("80"),
			Egresos:   decimal.RequireFromString("30"),
			Neto:      decimal.RequireFromString("50"),
			Cantidad:  2,
			PorMetodo: map[string]decimal.Decimal{"efectivo": decimal.RequireFromString("50")},
		},
	}
	movs := []dto.MovimientoResponse{
		{Tipo: "income", Monto: decimal.RequireFromString("80"), Motivo: "Turno 14:00 corte y peinado con tratamiento"},
		{Tipo: "expense", Monto: decimal.RequireFromString("30"), Motivo: "Insumos"},
	}

	var buf bytes.Buffer
	require.NoError(t, GenerateArqueoPDF(&buf, caja, sesion, movs))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestGenerateArqueoPDF_OpenSession(t *testing.T) {
	var buf bytes.Buffer
	err := GenerateArqueoPDF(&buf, dto.CajaResponse{Nombre: "Caja"}, dto.SesionResponse{ID: "s", Estado: "open"}, nil)
	require.NoError(t, err)
	assert.NotZero(t, buf.Len())
}
