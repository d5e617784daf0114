package handler

import (
	"context"
	"net/http"

	"turnopos/internal/dto"
	"turnopos/internal/model"
	"turnopos/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// PagoFacturaQueue is implemented by worker.Dispatcher.
type PagoFacturaQueue interface {
	EnqueuePagoFactura(ctx context.Context, job dto.PagoFacturaJob) error
}

type PagoFacturaHandler struct {
	svc   service.PagoFacturaService
	queue PagoFacturaQueue
}

// NewPagoFacturaHandler builds the billing endpoint. With a nil queue every
// payment is processed inline.
func NewPagoFacturaHandler(svc service.PagoFacturaService, queue PagoFacturaQueue) *PagoFacturaHandler {
	return &PagoFacturaHandler{svc: svc, queue: queue}
}

// Registrar godoc
// @Summary Recibe el pago de una factura desde facturacion
// @Description Encola el pago (202). Con sync=true lo registra en linea y devuelve el resultado.
// @Tags facturacion
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param sync query bool false "Procesar en linea"
// @Param body body dto.PagoFacturaRequest true "Pago de factura"
// @Success 200 {object} dto.PagoFacturaResponse
// @Success 202 {object} dto.PagoFacturaEncoladoResponse
// @Failure 422 {object} apierror.APIError
// @Failure 503 {object} apierror.APIError
// @Router /v1/billing/invoice-payments [post]
func (h *PagoFacturaHandler) Registrar(c *gin.Context) {
	usuarioID, ok := actorID(c)
	if !ok {
		return
	}
	var req dto.PagoFacturaRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if h.queue == nil || c.Query("sync") == "true" {
		resp, err := h.svc.RegistrarPago(c.Request.Context(), usuarioID, req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	job := dto.PagoFacturaJob{PagoFacturaRequest: req, UsuarioID: usuarioID.String()}
	if err := h.queue.EnqueuePagoFactura(c.Request.Context(), job); err != nil {
		respondError(c, model.Storage("no se pudo encolar el pago", err))
		return
	}
	log.Info().Str("factura_id", req.FacturaID).Msg("pago de factura encolado")
	c.JSON(http.StatusAccepted, dto.PagoFacturaEncoladoResponse{FacturaID: req.FacturaID, Estado: "queued"})
}
