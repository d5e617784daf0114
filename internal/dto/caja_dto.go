package dto

import "github.com/shopspring/decimal"

// ─── Request DTOs ────────────────────────────────────────────────────────────

type CrearCajaRequest struct {
	Nombre      string  `json:"name"        validate:"required,min=1,max=80"`
	Descripcion *string `json:"description" validate:"omitempty,max=500"`
}

type AbrirCajaRequest struct {
	MontoInicial *decimal.Decimal `json:"startingFloat" validate:"required,min=0"`
}

type CerrarCajaRequest struct {
	MontoDeclarado *decimal.Decimal `json:"countedClosingBalance" validate:"required,min=0"`
	Observaciones  *string          `json:"notes"                 validate:"omitempty,max=1000"`
}

type OrigenRef struct {
	Tabla string `json:"table" validate:"required,max=40"`
	ID    string `json:"id"    validate:"required,max=64"`
}

type MovimientoRequest struct {
	Tipo       string           `json:"kind"          validate:"required,oneof=income expense"`
	Monto      *decimal.Decimal `json:"amount"        validate:"required,gt=0"`
	Motivo     string           `json:"reason"        validate:"required,min=1,max=500"`
	MetodoPago string           `json:"paymentMethod" validate:"required,oneof=efectivo debito credito transferencia"`
	Origen     *OrigenRef       `json:"sourceRef"     validate:"omitempty"`
	// IdempotencyKey may also arrive in the Idempotency-Key header; the body wins.
	IdempotencyKey *string `json:"idempotencyKey" validate:"omitempty,min=1,max=128"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type CajaResponse struct {
	ID            string          `json:"id"`
	SucursalID    string          `json:"branchId"`
	Nombre        string          `json:"name"`
	Descripcion   *string         `json:"description"`
	Estado        string          `json:"state"` // open | closed
	SaldoActual   decimal.Decimal `json:"currentBalance"`
	Activa        bool            `json:"active"`
	SesionAbierta *SesionResponse `json:"openSession,omitempty"`
	CreatedAt     string          `json:"createdAt"`
}

type AbrirCajaResponse struct {
	SesionID     string          `json:"sessionId"`
	CajaID       string          `json:"registerId"`
	MontoInicial decimal.Decimal `json:"startingFloat"`
	OpenedAt     string          `json:"openedAt"`
}

type CierreCajaResponse struct {
	SesionID         string          `json:"sessionId"`
	CajaID           string          `json:"registerId"`
	MontoInicial     decimal.Decimal `json:"startingFloat"`
	Ingresos         decimal.Decimal `json:"totalIncome"`
	Egresos          decimal.Decimal `json:"totalExpense"`
	MontoCalculado   decimal.Decimal `json:"computedClosingBalance"`
	MontoDeclarado   decimal.Decimal `json:"countedClosingBalance"`
	Desvio           decimal.Decimal `json:"variance"`
	DesvioPct        decimal.Decimal `json:"variancePct"`
	Clasificacion    string          `json:"varianceClass"` // normal | advertencia | critico
	DivergenciaCache bool            `json:"cacheDivergence"`
	ClosedAt         string          `json:"closedAt"`
}

type MovimientoResponse struct {
	ID         string          `json:"movementId"`
	SesionID   string          `json:"sessionId"`
	Tipo       string          `json:"kind"`
	Monto      decimal.Decimal `json:"amount"`
	Motivo     string          `json:"reason"`
	MetodoPago string          `json:"paymentMethod"`
	Origen     *OrigenRef      `json:"sourceRef,omitempty"`
	UsuarioID  string          `json:"actorId"`
	CreatedAt  string          `json:"createdAt"`
	Replayed   bool            `json:"replayed"`
}

type TotalesResponse struct {
	Ingresos  decimal.Decimal            `json:"income"`
	Egresos   decimal.Decimal            `json:"expense"`
	Neto      decimal.Decimal            `json:"net"`
	Cantidad  int                        `json:"movementCount"`
	PorMetodo map[string]decimal.Decimal `json:"byPaymentMethod,omitempty"`
}

type SesionResponse struct {
	ID               string           `json:"id"`
	CajaID           string           `json:"registerId"`
	Estado           string           `json:"state"`
	AbiertaPor       string           `json:"openedBy"`
	OpenedAt         string           `json:"openedAt"`
	MontoInicial     decimal.Decimal  `json:"startingFloat"`
	CerradaPor       *string          `json:"closedBy"`
	ClosedAt         *string          `json:"closedAt"`
	MontoCalculado   *decimal.Decimal `json:"computedClosingBalance"`
	MontoDeclarado   *decimal.Decimal `json:"countedClosingBalance"`
	Desvio           *decimal.Decimal `json:"variance"`
	DesvioPct        *decimal.Decimal `json:"variancePct"`
	Clasificacion    *string          `json:"varianceClass"`
	Observaciones    *string          `json:"notes"`
	DivergenciaCache bool             `json:"cacheDivergence"`
	SaldoCache       *decimal.Decimal `json:"cachedBalance,omitempty"`
	Totales          TotalesResponse  `json:"totals"`
}

type ReporteCajaResponse struct {
	CajaID           string                     `json:"registerId"`
	Desde            string                     `json:"from"`
	Hasta            string                     `json:"to"`
	Sesiones         int                        `json:"sessionCount"`
	SesionesAbiertas int                        `json:"openSessionCount"`
	MontoInicial     decimal.Decimal            `json:"startingFloats"`
	Ingresos         decimal.Decimal            `json:"income"`
	Egresos          decimal.Decimal            `json:"expense"`
	Neto             decimal.Decimal            `json:"net"`
	DesvioTotal      decimal.Decimal            `json:"totalVariance"`
	Movimientos      int                        `json:"movementCount"`
	PorMetodo        map[string]decimal.Decimal `json:"byPaymentMethod"`
	PorClasificacion map[string]int             `json:"byVarianceClass"`
}

type AuditoriaCajaResponse struct {
	CajaID      string          `json:"registerId"`
	Estado      string          `json:"state"`
	SesionID    *string         `json:"sessionId,omitempty"`
	SaldoCache  decimal.Decimal `json:"cachedBalance"`
	SaldoReplay decimal.Decimal `json:"replayedBalance"`
	Diferencia  decimal.Decimal `json:"difference"` // cached − replayed
	Consistente bool            `json:"consistent"`
	Reparada    bool            `json:"repaired,omitempty"`
}
