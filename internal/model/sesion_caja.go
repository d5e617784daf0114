package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SesionCaja is one open → close lifecycle of a Caja.
// Immutable once Estado is CajaCerrada.
type SesionCaja struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	CajaID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	AbiertaPor   uuid.UUID       `gorm:"type:uuid;not null"`
	MontoInicial decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	// MontoCalculado is computed on close by replaying the movements: MontoInicial + Σingresos − Σegresos
	MontoCalculado      *decimal.Decimal     `gorm:"type:decimal(14,2)"`
	MontoDeclarado      *decimal.Decimal     `gorm:"type:decimal(14,2)"`
	Desvio              *decimal.Decimal     `gorm:"type:decimal(15,2)"`
	// DesvioPct is unbounded: a tiny computed balance yields arbitrarily large percentages.
	DesvioPct           *decimal.Decimal     `gorm:"type:numeric"`
	ClasificacionDesvio *ClasificacionDesvio `gorm:"type:varchar(20)"`
	Observaciones       *string
	// DivergenciaCache is set when Caja.SaldoActual disagreed with the replay at close.
	DivergenciaCache bool             `gorm:"not null;default:false"`
	SaldoCache       *decimal.Decimal `gorm:"type:decimal(14,2)"`
	CerradaPor       *uuid.UUID       `gorm:"type:uuid"`
	Estado           EstadoCaja       `gorm:"type:varchar(10);not null;default:'open'"`
	OpenedAt         time.Time        `gorm:"not null"`
	ClosedAt         *time.Time
}

func (SesionCaja) TableName() string { return "sesiones_caja" }

// MovimientoCaja is an immutable entry in the cash register ledger.
// Movements are NEVER modified or deleted.
type MovimientoCaja struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SesionCajaID uuid.UUID       `gorm:"type:uuid;index;not null"`
	UsuarioID    uuid.UUID       `gorm:"type:uuid;not null"`
	Tipo         TipoMovimiento  `gorm:"type:varchar(10);not null"`
	Monto        decimal.Decimal `gorm:"type:decimal(14,2);not null"` // always > 0
	Motivo       string          `gorm:"not null"`
	MetodoPago   string          `gorm:"type:varchar(20);not null"`
	// OrigenTabla/OrigenID is a non-owning back-reference (e.g. "invoices", <id>)
	OrigenTabla    *string `gorm:"type:varchar(40)"`
	OrigenID       *string `gorm:"type:varchar(64)"`
	IdempotencyKey *string `gorm:"type:varchar(128);uniqueIndex"`
	// Secuencia is assigned by the store and defines append order.
	Secuencia int64 `gorm:"autoIncrement;not null"`
	CreatedAt time.Time
}

func (MovimientoCaja) TableName() string { return "movimientos_caja" }

// Firmado returns the amount with the sign implied by Tipo.
func (m MovimientoCaja) Firmado() decimal.Decimal {
	if m.Tipo == MovimientoEgreso {
		return m.Monto.Neg()
	}
	return m.Monto
}

// TotalesSesion is the derived read-side aggregate of one session's movements.
type TotalesSesion struct {
	Ingresos  decimal.Decimal
	Egresos   decimal.Decimal
	Cantidad  int
	PorMetodo map[string]decimal.Decimal // signed net per payment method
}

// Neto is Ingresos − Egresos.
func (t TotalesSesion) Neto() decimal.Decimal { return t.Ingresos.Sub(t.Egresos) }

// MetodosPago lists the accepted payment methods of a movement.
var MetodosPago = []string{"efectivo", "debito", "credito", "transferencia"}

func MetodoPagoValido(m string) bool { return slices.Contains(MetodosPago, m) }
