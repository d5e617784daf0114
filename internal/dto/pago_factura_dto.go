package dto

import "github.com/shopspring/decimal"

// PagoFacturaRequest is posted by the billing collaborator when an invoice becomes paid.
type PagoFacturaRequest struct {
	SucursalID string           `json:"branchId"      validate:"required,uuid"`
	FacturaID  string           `json:"invoiceId"     validate:"required,min=1,max=64"`
	Monto      *decimal.Decimal `json:"amount"        validate:"required,gt=0"`
	MetodoPago string           `json:"paymentMethod" validate:"required,oneof=efectivo debito credito transferencia"`
	CajaID     *string          `json:"registerId"    validate:"omitempty,uuid"`
}

// PagoFacturaJob is the queued form of a PagoFacturaRequest; it carries the
// authenticated actor because workers run outside the request.
type PagoFacturaJob struct {
	PagoFacturaRequest
	UsuarioID string `json:"actorId"`
}

type PagoFacturaResponse struct {
	FacturaID  string              `json:"invoiceId"`
	Skipped    bool                `json:"skipped"`
	Motivo     string              `json:"skipReason,omitempty"`
	Movimiento *MovimientoResponse `json:"movement,omitempty"`
}

type PagoFacturaEncoladoResponse struct {
	FacturaID string `json:"invoiceId"`
	Estado    string `json:"status"` // queued
}
