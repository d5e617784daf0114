// Package arqueo holds the reconciliation arithmetic for cash register sessions.
// Every function here is pure and uses exact decimal arithmetic.
package arqueo

import (
	"turnopos/internal/model"

	"github.com/shopspring/decimal"
)

var (
	cien          = decimal.NewFromInt(100)
	umbralNormal  = decimal.NewFromInt(1)
	umbralCritico = decimal.NewFromInt(5)
)

// Resultado is the outcome of reconciling one session.
type Resultado struct {
	MontoInicial   decimal.Decimal
	Ingresos       decimal.Decimal
	Egresos        decimal.Decimal
	MontoCalculado decimal.Decimal
	MontoDeclarado decimal.Decimal
	Desvio         decimal.Decimal
	DesvioPct      decimal.Decimal
	Clasificacion  model.ClasificacionDesvio
}

// SaldoCalculado replays movs on top of montoInicial:
// montoInicial + Σingresos − Σegresos. Order does not change the result.
func SaldoCalculado(montoInicial decimal.Decimal, movs []model.MovimientoCaja) decimal.Decimal {
	saldo := montoInicial
	for _, m := range movs {
		saldo = saldo.Add(m.Firmado())
	}
	return saldo
}

// Desvio is declarado − calculado. Positive = surplus, negative = shortage.
func Desvio(calculado, declarado decimal.Decimal) decimal.Decimal {
	return declarado.Sub(calculado)
}

// DesvioPct is desvio / calculado × 100 rounded to 2 places; 0 when calculado is 0.
func DesvioPct(desvio, calculado decimal.Decimal) decimal.Decimal {
	if calculado.IsZero() {
		return decimal.Zero
	}
	return desvio.Div(calculado).Mul(cien).Round(2)
}

// Clasificar returns normal (|pct| ≤ 1), advertencia (≤ 5) or critico (> 5).
func Clasificar(pct decimal.Decimal) model.ClasificacionDesvio {
	abs := pct.Abs()
	switch {
	case abs.LessThanOrEqual(umbralNormal):
		return model.DesvioNormal
	case abs.LessThanOrEqual(umbralCritico):
		return model.DesvioAdvertencia
	default:
		return model.DesvioCritico
	}
}

// Totales aggregates movs into income/expense sums and a signed per-method breakdown.
func Totales(movs []model.MovimientoCaja) model.TotalesSesion {
	t := model.TotalesSesion{
		Ingresos:  decimal.Zero,
		Egresos:   decimal.Zero,
		PorMetodo: make(map[string]decimal.Decimal),
	}
	for _, m := range movs {
		switch m.Tipo {
		case model.MovimientoIngreso:
			t.Ingresos = t.Ingresos.Add(m.Monto)
		case model.MovimientoEgreso:
			t.Egresos = t.Egresos.Add(m.Monto)
		}
		t.PorMetodo[m.MetodoPago] = t.PorMetodo[m.MetodoPago].Add(m.Firmado())
		t.Cantidad++
	}
	return t
}

// Conciliar runs the full close arithmetic for a session.
func Conciliar(montoInicial decimal.Decimal, movs []model.MovimientoCaja, declarado decimal.Decimal) Resultado {
	t := Totales(movs)
	calculado := montoInicial.Add(t.Neto())
	desvio := Desvio(calculado, declarado)
	pct := DesvioPct(desvio, calculado)
	return Resultado{
		MontoInicial:   montoInicial,
		Ingresos:       t.Ingresos,
		Egresos:        t.Egresos,
		MontoCalculado: calculado,
		MontoDeclarado: declarado,
		Desvio:         desvio,
		DesvioPct:      pct,
		Clasificacion:  Clasificar(pct),
	}
}
