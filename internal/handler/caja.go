package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"turnopos/internal/dto"
	"turnopos/internal/infra"
	"turnopos/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CajaHandler struct {
	svc service.CajaService
	now func() time.Time
}

func NewCajaHandler(svc service.CajaService) *CajaHandler {
	return &CajaHandler{svc: svc, now: time.Now}
}

// ── Registers ────────────────────────────────────────────────────────────────

// Listar godoc
// @Summary Lista las cajas de una sucursal
// @Tags cajas
// @Produce json
// @Security BearerAuth
// @Param branchId path string true "ID de sucursal"
// @Param all query bool false "Incluir cajas desactivadas"
// @Success 200 {array} dto.CajaResponse
// @Failure 422 {object} apierror.APIError
// @Router /v1/branches/{branchId}/registers [get]
func (h *CajaHandler) Listar(c *gin.Context) {
	sucursalID, ok := paramUUID(c, "branchId")
	if !ok {
		return
	}
	resp, err := h.svc.ListarCajas(c.Request.Context(), sucursalID, c.Query("all") == "true")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Crear godoc
// @Summary Crea una caja en una sucursal
// @Tags cajas
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param branchId path string true "ID de sucursal"
// @Param body body dto.CrearCajaRequest true "Datos de la caja"
// @Success 201 {object} dto.CajaResponse
// @Failure 422 {object} apierror.APIError
// @Router /v1/branches/{branchId}/registers [post]
func (h *CajaHandler) Crear(c *gin.Context) {
	sucursalID, ok := paramUUID(c, "branchId")
	if !ok {
		return
	}
	var req dto.CrearCajaRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.CrearCaja(c.Request.Context(), sucursalID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Obtener godoc
// @Summary Obtiene una caja y su sesion abierta
// @Tags cajas
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de caja"
// @Success 200 {object} dto.CajaResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/registers/{id} [get]
func (h *CajaHandler) Obtener(c *gin.Context) {
	cajaID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.ObtenerCaja(c.Request.Context(), cajaID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Desactivar godoc
// @Summary Desactiva una caja cerrada
// @Tags cajas
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de caja"
// @Success 200 {object} dto.CajaResponse
// @Failure 400 {object} apierror.APIError
// @Router /v1/registers/{id}/deactivate [post]
func (h *CajaHandler) Desactivar(c *gin.Context) {
	cajaID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.DesactivarCaja(c.Request.Context(), cajaID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ── Session lifecycle ────────────────────────────────────────────────────────

// Abrir godoc
// @Summary Abre una nueva sesion de caja
// @Tags cajas
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de caja"
// @Param body body dto.AbrirCajaRequest true "Monto inicial"
// @Success 200 {object} dto.AbrirCajaResponse
// @Failure 400 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/registers/{id}/open [post]
func (h *CajaHandler) Abrir(c *gin.Context) {
	cajaID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	usuarioID, ok := actorID(c)
	if !ok {
		return
	}
	var req dto.AbrirCajaRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Abrir(c.Request.Context(), cajaID, usuarioID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Cerrar godoc
// @Summary Realiza el arqueo y cierra la sesion abierta
// @Tags cajas
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de caja"
// @Param body body dto.CerrarCajaRequest true "Monto contado y observaciones"
// @Success 200 {object} dto.CierreCajaResponse
// @Failure 400 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/registers/{id}/close [post]
func (h *CajaHandler) Cerrar(c *gin.Context) {
	cajaID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	usuarioID, ok := actorID(c)
	if !ok {
		return
	}
	var req dto.CerrarCajaRequest
	if !bindAndValidate(c, &req) {
		return
	}
	resp, err := h.svc.Cerrar(c.Request.Context(), cajaID, usuarioID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RegistrarMovimiento godoc
// @Summary Registra un ingreso o egreso en la sesion abierta
// @Tags cajas
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de caja"
// @Param Idempotency-Key header string false "Clave de idempotencia"
// @Param body body dto.MovimientoRequest true "Movimiento"
// @Success 200 {object} dto.MovimientoResponse
// @Failure 400 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/registers/{id}/movements [post]
func (h *CajaHandler) RegistrarMovimiento(c *gin.Context) {
	cajaID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	usuarioID, ok := actorID(c)
	if !ok {
		return
	}
	var req dto.MovimientoRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if req.IdempotencyKey == nil {
		if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" {
			req.IdempotencyKey = &key
		}
	}
	resp, err := h.svc.RegistrarMovimiento(c.Request.Context(), cajaID, usuarioID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ── Read side ────────────────────────────────────────────────────────────────

// ListarSesiones godoc
// @Summary Lista las sesiones de una caja con sus totales
// @Tags sesiones
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de caja"
// @Param from query string false "Desde (YYYY-MM-DD o RFC3339)"
// @Param to query string false "Hasta, inclusive"
// @Success 200 {array} dto.SesionResponse
// @Router /v1/registers/{id}/sessions [get]
func (h *CajaHandler) ListarSesiones(c *gin.Context) {
	cajaID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	desde, hasta, ok := optionalRange(c)
	if !ok {
		return
	}
	resp, err := h.svc.ListarSesiones(c.Request.Context(), cajaID, desde, hasta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Reporte godoc
// @Summary Totales agregados de las sesiones abiertas en un rango
// @Tags sesiones
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de caja"
// @Param from query string false "Desde (default: hace 30 dias)"
// @Param to query string false "Hasta, inclusive (default: ahora)"
// @Success 200 {object} dto.ReporteCajaResponse
// @Router /v1/registers/{id}/report [get]
func (h *CajaHandler) Reporte(c *gin.Context) {
	cajaID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	desde, hasta, ok := reportRange(c, h.now())
	if !ok {
		return
	}
	resp, err := h.svc.Reporte(c.Request.Context(), cajaID, desde, hasta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ObtenerSesion godoc
// @Summary Detalle de una sesion con totales por metodo de pago
// @Tags sesiones
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Success 200 {object} dto.SesionResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/sessions/{id} [get]
func (h *CajaHandler) ObtenerSesion(c *gin.Context) {
	sesionID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.ObtenerSesion(c.Request.Context(), sesionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListarMovimientos godoc
// @Summary Movimientos de una sesion en orden de registro
// @Tags sesiones
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Success 200 {array} dto.MovimientoResponse
// @Router /v1/sessions/{id}/movements [get]
func (h *CajaHandler) ListarMovimientos(c *gin.Context) {
	sesionID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.ListarMovimientos(c.Request.Context(), sesionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DescargarPDF godoc
// @Summary Reporte de arqueo de la sesion en PDF
// @Tags sesiones
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Success 200 {file} binary
// @Failure 404 {object} apierror.APIError
// @Router /v1/sessions/{id}/pdf [get]
func (h *CajaHandler) DescargarPDF(c *gin.Context) {
	sesionID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	sesion, err := h.svc.ObtenerSesion(ctx, sesionID)
	if err != nil {
		respondError(c, err)
		return
	}
	movs, err := h.svc.ListarMovimientos(ctx, sesionID)
	if err != nil {
		respondError(c, err)
		return
	}
	cajaID, err := uuid.Parse(sesion.CajaID)
	if err != nil {
		respondError(c, err)
		return
	}
	caja, err := h.svc.ObtenerCaja(ctx, cajaID)
	if err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := infra.GenerateArqueoPDF(&buf, *caja, *sesion, movs); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="arqueo-%s.pdf"`, sesion.ID))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// ── Audit ────────────────────────────────────────────────────────────────────

// Auditar godoc
// @Summary Compara el saldo en cache con el replay del ledger
// @Tags auditoria
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de caja"
// @Success 200 {object} dto.AuditoriaCajaResponse
// @Router /v1/registers/{id}/audit [get]
func (h *CajaHandler) Auditar(c *gin.Context) {
	cajaID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Auditar(c.Request.Context(), cajaID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Reparar godoc
// @Summary Reconstruye el saldo en cache desde el ledger
// @Tags auditoria
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de caja"
// @Success 200 {object} dto.AuditoriaCajaResponse
// @Router /v1/registers/{id}/repair [post]
func (h *CajaHandler) Reparar(c *gin.Context) {
	cajaID, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	resp, err := h.svc.Reparar(c.Request.Context(), cajaID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
