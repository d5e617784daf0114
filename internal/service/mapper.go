package service

import (
	"time"

	"turnopos/internal/dto"
	"turnopos/internal/model"

	"github.com/shopspring/decimal"
)

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func toCajaResponse(c *model.Caja, abierta *dto.SesionResponse) dto.CajaResponse {
	return dto.CajaResponse{
		ID:            c.ID.String(),
		SucursalID:    c.SucursalID.String(),
		Nombre:        c.Nombre,
		Descripcion:   c.Descripcion,
		Estado:        c.Estado.String(),
		SaldoActual:   c.SaldoActual,
		Activa:        c.Activa,
		SesionAbierta: abierta,
		CreatedAt:     formatTime(c.CreatedAt),
	}
}

func toSesionResponse(s *model.SesionCaja, t model.TotalesSesion) dto.SesionResponse {
	r := dto.SesionResponse{
		ID:               s.ID.String(),
		CajaID:           s.CajaID.String(),
		Estado:           s.Estado.String(),
		AbiertaPor:       s.AbiertaPor.String(),
		OpenedAt:         formatTime(s.OpenedAt),
		MontoInicial:     s.MontoInicial,
		MontoCalculado:   s.MontoCalculado,
		MontoDeclarado:   s.MontoDeclarado,
		Desvio:           s.Desvio,
		DesvioPct:        s.DesvioPct,
		Observaciones:    s.Observaciones,
		DivergenciaCache: s.DivergenciaCache,
		SaldoCache:       s.SaldoCache,
		Totales:          toTotalesResponse(t),
	}
	if s.CerradaPor != nil {
		id := s.CerradaPor.String()
		r.CerradaPor = &id
	}
	if s.ClosedAt != nil {
		ts := formatTime(*s.ClosedAt)
		r.ClosedAt = &ts
	}
	if s.ClasificacionDesvio != nil {
		c := string(*s.ClasificacionDesvio)
		r.Clasificacion = &c
	}
	return r
}

func toTotalesResponse(t model.TotalesSesion) dto.TotalesResponse {
	r := dto.TotalesResponse{
		Ingresos:  t.Ingresos,
		Egresos:   t.Egresos,
		Neto:      t.Neto(),
		Cantidad:  t.Cantidad,
		PorMetodo: t.PorMetodo,
	}
	if r.PorMetodo == nil {
		r.PorMetodo = map[string]decimal.Decimal{}
	}
	return r
}

func toMovimientoResponse(m *model.MovimientoCaja) dto.MovimientoResponse {
	r := dto.MovimientoResponse{
		ID:         m.ID.String(),
		SesionID:   m.SesionCajaID.String(),
		Tipo:       m.Tipo.String(),
		Monto:      m.Monto,
		Motivo:     m.Motivo,
		MetodoPago: m.MetodoPago,
		UsuarioID:  m.UsuarioID.String(),
		CreatedAt:  formatTime(m.CreatedAt),
	}
	if m.OrigenTabla != nil && m.OrigenID != nil {
		r.Origen = &dto.OrigenRef{Tabla: *m.OrigenTabla, ID: *m.OrigenID}
	}
	return r
}
