package service

import (
	"context"

	"turnopos/internal/dto"
	"turnopos/internal/infra"
	"turnopos/internal/model"
	"turnopos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// OrigenFacturas is the sourceRef table of billing-originated movements.
const OrigenFacturas = "invoices"

// PagoFacturaService is the billing collaborator's entry point into the ledger.
// A paid invoice becomes an income movement on an open register of its branch.
// When no register is open the payment is skipped, never rejected.
type PagoFacturaService interface {
	RegistrarPago(ctx context.Context, usuarioID uuid.UUID, req dto.PagoFacturaRequest) (*dto.PagoFacturaResponse, error)
}

type pagoFacturaService struct {
	cajas   CajaService
	repo    repository.CajaRepository
	metrics *infra.Metrics
}

func NewPagoFacturaService(cajas CajaService, repo repository.CajaRepository, metrics *infra.Metrics) PagoFacturaService {
	return &pagoFacturaService{cajas: cajas, repo: repo, metrics: metrics}
}

// IdempotencyKeyFactura is the ledger key of an invoice payment.
func IdempotencyKeyFactura(facturaID string) string { return OrigenFacturas + ":" + facturaID }

func (s *pagoFacturaService) RegistrarPago(ctx context.Context, usuarioID uuid.UUID, req dto.PagoFacturaRequest) (*dto.PagoFacturaResponse, error) {
	resp, err := s.registrar(ctx, usuarioID, req)
	switch {
	case err != nil:
		s.metrics.PagoFactura("error")
	case resp.Skipped:
		s.metrics.PagoFactura("omitido")
		log.Info().Str("factura_id", req.FacturaID).Str("motivo", resp.Motivo).Msg("pago de factura omitido en caja")
	case resp.Movimiento != nil && resp.Movimiento.Replayed:
		s.metrics.PagoFactura("replay")
	default:
		s.metrics.PagoFactura("registrado")
	}
	return resp, err
}

func (s *pagoFacturaService) registrar(ctx context.Context, usuarioID uuid.UUID, req dto.PagoFacturaRequest) (*dto.PagoFacturaResponse, error) {
	sucursalID, err := uuid.Parse(req.SucursalID)
	if err != nil {
		return nil, model.Validation("branchId inválido")
	}
	if req.FacturaID == "" {
		return nil, model.Validation("invoiceId es obligatorio")
	}
	if req.Monto == nil || !req.Monto.IsPositive() {
		return nil, model.Validation("el monto debe ser mayor a cero")
	}
	if !model.MontoEnRango(*req.Monto) {
		return nil, model.Validation("el monto supera el máximo de %s", model.MontoMaximo.StringFixed(2))
	}
	if !model.MetodoPagoValido(req.MetodoPago) {
		return nil, model.Validation("método de pago inválido: %q", req.MetodoPago)
	}
	key := IdempotencyKeyFactura(req.FacturaID)
	out := &dto.PagoFacturaResponse{FacturaID: req.FacturaID}

	// already recorded: answer with the original regardless of current register state
	if prev, err := s.repo.FindMovimientoByIdempotencyKey(ctx, key); err == nil {
		sesion, err := s.repo.FindSesionByID(ctx, prev.SesionCajaID)
		if err != nil {
			return nil, err
		}
		movReq := s.movimiento(req, key)
		mov, err := s.cajas.RegistrarMovimiento(ctx, sesion.CajaID, usuarioID, movReq)
		if err != nil {
			return nil, err
		}
		out.Movimiento = mov
		return out, nil
	} else if model.KindOf(err) != model.KindNotFound {
		return nil, err
	}

	candidatas, err := s.candidatas(ctx, sucursalID, req.CajaID)
	if err != nil {
		return nil, err
	}
	if len(candidatas) == 0 {
		out.Skipped = true
		out.Motivo = "no hay una caja abierta en la sucursal"
		return out, nil
	}

	movReq := s.movimiento(req, key)
	for _, cajaID := range candidatas {
		mov, err := s.cajas.RegistrarMovimiento(ctx, cajaID, usuarioID, movReq)
		if err == nil {
			out.Movimiento = mov
			return out, nil
		}
		// the register closed between selection and posting
		if model.KindOf(err) == model.KindInvalidState {
			continue
		}
		return nil, err
	}
	out.Skipped = true
	out.Motivo = "la caja se cerró antes de registrar el pago"
	return out, nil
}

// candidatas returns the registers to try, in order: the requested one, or
// every open register of the branch oldest session first.
func (s *pagoFacturaService) candidatas(ctx context.Context, sucursalID uuid.UUID, cajaID *string) ([]uuid.UUID, error) {
	if cajaID != nil && *cajaID != "" {
		id, err := uuid.Parse(*cajaID)
		if err != nil {
			return nil, model.Validation("registerId inválido")
		}
		caja, err := s.repo.FindCajaByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if caja.SucursalID != sucursalID {
			return nil, model.Validation("la caja no pertenece a la sucursal")
		}
		if caja.Estado != model.CajaAbierta {
			return nil, nil
		}
		return []uuid.UUID{id}, nil
	}

	sesiones, err := s.repo.ListSesionesAbiertasPorSucursal(ctx, sucursalID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(sesiones))
	for _, ses := range sesiones {
		ids = append(ids, ses.CajaID)
	}
	return ids, nil
}

func (s *pagoFacturaService) movimiento(req dto.PagoFacturaRequest, key string) dto.MovimientoRequest {
	return dto.MovimientoRequest{
		Tipo:           model.MovimientoIngreso.String(),
		Monto:          req.Monto,
		Motivo:         "Pago de factura " + req.FacturaID,
		MetodoPago:     req.MetodoPago,
		Origen:         &dto.OrigenRef{Tabla: OrigenFacturas, ID: req.FacturaID},
		IdempotencyKey: &key,
	}
}
