package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Caja is a physical cash register scoped to a branch (sucursal).
// SaldoActual is a cache of the open session's replayed balance; the movement
// ledger is ground truth. Cajas are never deleted, only deactivated.
type Caja struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SucursalID  uuid.UUID       `gorm:"type:uuid;not null;index"`
	Nombre      string          `gorm:"type:varchar(80);not null"`
	Descripcion *string
	Estado      EstadoCaja      `gorm:"type:varchar(10);not null;default:'closed'"`
	SaldoActual decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0"`
	Activa      bool            `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Caja) TableName() string { return "cajas" }

// Largest magnitudes the ledger's decimal columns hold: decimal(14,2) for
// amounts and balances, decimal(15,2) for a close variance.
var (
	MontoMaximo  = decimal.RequireFromString("999999999999.99")
	DesvioMaximo = decimal.RequireFromString("9999999999999.99")
)

// MontoEnRango reports whether d fits an amount or balance column.
func MontoEnRango(d decimal.Decimal) bool { return d.Abs().LessThanOrEqual(MontoMaximo) }
