package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ── EstadoCaja ────────────────────────────────────────────────────────────────
// Shared by Caja and SesionCaja. Persisted and serialized as "open" | "closed".

type EstadoCaja uint8

const (
	CajaCerrada EstadoCaja = iota // zero value: a new register starts closed
	CajaAbierta
)

func (e EstadoCaja) String() string {
	switch e {
	case CajaCerrada:
		return "closed"
	case CajaAbierta:
		return "open"
	default:
		return fmt.Sprintf("EstadoCaja(%d)", uint8(e))
	}
}

// ParseEstadoCaja is the inverse of String.
func ParseEstadoCaja(s string) (EstadoCaja, error) {
	switch s {
	case "closed":
		return CajaCerrada, nil
	case "open":
		return CajaAbierta, nil
	default:
		return 0, fmt.Errorf("estado de caja desconocido: %q", s)
	}
}

func (e EstadoCaja) MarshalJSON() ([]byte, error) { return json.Marshal(e.String()) }

func (e *EstadoCaja) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseEstadoCaja(s)
	if err != nil {
		return err
	}
	*e = v
	return nil
}

func (e EstadoCaja) Value() (driver.Value, error) { return e.String(), nil }

func (e *EstadoCaja) Scan(src any) error {
	s, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseEstadoCaja(s)
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// ── TipoMovimiento ────────────────────────────────────────────────────────────
// Persisted and serialized as "income" | "expense". Amounts are always stored
// positive; the sign comes from the kind.

type TipoMovimiento uint8

const (
	MovimientoIngreso TipoMovimiento = iota + 1
	MovimientoEgreso
)

func (t TipoMovimiento) String() string {
	switch t {
	case MovimientoIngreso:
		return "income"
	case MovimientoEgreso:
		return "expense"
	default:
		return fmt.Sprintf("TipoMovimiento(%d)", uint8(t))
	}
}

func ParseTipoMovimiento(s string) (TipoMovimiento, error) {
	switch s {
	case "income":
		return MovimientoIngreso, nil
	case "expense":
		return MovimientoEgreso, nil
	default:
		return 0, fmt.Errorf("tipo de movimiento desconocido: %q", s)
	}
}

// Valid reports whether t is one of the declared kinds.
func (t TipoMovimiento) Valid() bool {
	switch t {
	case MovimientoIngreso, MovimientoEgreso:
		return true
	default:
		return false
	}
}

func (t TipoMovimiento) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

func (t *TipoMovimiento) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTipoMovimiento(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t TipoMovimiento) Value() (driver.Value, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("tipo de movimiento inválido: %d", uint8(t))
	}
	return t.String(), nil
}

func (t *TipoMovimiento) Scan(src any) error {
	s, err := scanString(src)
	if err != nil {
		return err
	}
	v, err := ParseTipoMovimiento(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ── ClasificacionDesvio ───────────────────────────────────────────────────────

type ClasificacionDesvio string

const (
	DesvioNormal      ClasificacionDesvio = "normal"
	DesvioAdvertencia ClasificacionDesvio = "advertencia"
	DesvioCritico     ClasificacionDesvio = "critico"
)

func scanString(src any) (string, error) {
	switch v := src.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", fmt.Errorf("tipo no soportado para enum: %T", src)
	}
}
