package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"turnopos/internal/arqueo"
	"turnopos/internal/dto"
	"turnopos/internal/guard"
	"turnopos/internal/infra"
	"turnopos/internal/model"
	"turnopos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type CajaService interface {
	CrearCaja(ctx context.Context, sucursalID uuid.UUID, req dto.CrearCajaRequest) (*dto.CajaResponse, error)
	DesactivarCaja(ctx context.Context, cajaID uuid.UUID) (*dto.CajaResponse, error)
	ObtenerCaja(ctx context.Context, cajaID uuid.UUID) (*dto.CajaResponse, error)
	ListarCajas(ctx context.Context, sucursalID uuid.UUID, incluirInactivas bool) ([]dto.CajaResponse, error)

	Abrir(ctx context.Context, cajaID, usuarioID uuid.UUID, req dto.AbrirCajaRequest) (*dto.AbrirCajaResponse, error)
	Cerrar(ctx context.Context, cajaID, usuarioID uuid.UUID, req dto.CerrarCajaRequest) (*dto.CierreCajaResponse, error)
	RegistrarMovimiento(ctx context.Context, cajaID, usuarioID uuid.UUID, req dto.MovimientoRequest) (*dto.MovimientoResponse, error)

	ListarSesiones(ctx context.Context, cajaID uuid.UUID, desde, hasta *time.Time) ([]dto.SesionResponse, error)
	ObtenerSesion(ctx context.Context, sesionID uuid.UUID) (*dto.SesionResponse, error)
	ListarMovimientos(ctx context.Context, sesionID uuid.UUID) ([]dto.MovimientoResponse, error)
	Reporte(ctx context.Context, cajaID uuid.UUID, desde, hasta time.Time) (*dto.ReporteCajaResponse, error)

	// Auditar compares the cached balance against the movement replay. Read-only.
	Auditar(ctx context.Context, cajaID uuid.UUID) (*dto.AuditoriaCajaResponse, error)
	// Reparar rewrites the cached balance from the replay when they differ.
	Reparar(ctx context.Context, cajaID uuid.UUID) (*dto.AuditoriaCajaResponse, error)
	// AuditarAbiertas audits every open register. Used by the audit cron.
	AuditarAbiertas(ctx context.Context) ([]dto.AuditoriaCajaResponse, error)
}

type CajaOptions struct {
	// DesvioCriticoRequiereObservaciones rejects a critico close without notes.
	DesvioCriticoRequiereObservaciones bool
	// LockTimeout bounds the wait for a register's guard slot.
	LockTimeout time.Duration
}

type cajaService struct {
	repo    repository.CajaRepository
	guard   *guard.Guard
	metrics *infra.Metrics
	opts    CajaOptions
}

// NewCajaService wires the ledger. g and metrics may be nil.
func NewCajaService(repo repository.CajaRepository, g *guard.Guard, metrics *infra.Metrics, opts CajaOptions) CajaService {
	if g == nil {
		g = guard.New()
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	return &cajaService{repo: repo, guard: g, metrics: metrics, opts: opts}
}

// conCaja runs fn in a store transaction while holding the register's guard
// slot. The caja row is read FOR UPDATE before fn sees it, so the state check
// and the writes inside fn form one serialized unit per register. LockTimeout
// bounds both waits: the guard here and the row lock held by another instance.
func (s *cajaService) conCaja(ctx context.Context, cajaID uuid.UUID, fn func(tx repository.CajaRepository, caja *model.Caja) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	defer cancel()
	unlock, err := s.guard.Lock(lockCtx, cajaID)
	if err != nil {
		return model.Storage("la caja está ocupada, reintente", err)
	}
	defer unlock()

	return s.repo.Transaction(ctx, func(tx repository.CajaRepository) error {
		caja, err := tx.LockCaja(lockCtx, cajaID)
		if err != nil {
			return err
		}
		return fn(tx, caja)
	})
}

// ── Administración ────────────────────────────────────────────────────────────

func (s *cajaService) CrearCaja(ctx context.Context, sucursalID uuid.UUID, req dto.CrearCajaRequest) (*dto.CajaResponse, error) {
	nombre := strings.TrimSpace(req.Nombre)
	if nombre == "" || utf8.RuneCountInString(nombre) > 80 {
		return nil, model.Validation("el nombre de la caja debe tener entre 1 y 80 caracteres")
	}
	existe, err := s.repo.ExisteNombreCaja(ctx, sucursalID, nombre)
	if err != nil {
		return nil, err
	}
	if existe {
		return nil, model.Validation("ya existe una caja con ese nombre en la sucursal")
	}

	caja := &model.Caja{
		SucursalID:  sucursalID,
		Nombre:      nombre,
		Descripcion: trimOrNil(req.Descripcion),
		Estado:      model.CajaCerrada,
		SaldoActual: decimal.Zero,
		Activa:      true,
	}
	if err := s.repo.CreateCaja(ctx, caja); err != nil {
		return nil, err
	}
	log.Info().Str("caja_id", caja.ID.String()).Str("sucursal_id", sucursalID.String()).Msg("caja creada")
	resp := toCajaResponse(caja, nil)
	return &resp, nil
}

func (s *cajaService) DesactivarCaja(ctx context.Context, cajaID uuid.UUID) (*dto.CajaResponse, error) {
	var out *model.Caja
	err := s.conCaja(ctx, cajaID, func(tx repository.CajaRepository, caja *model.Caja) error {
		out = caja
		if caja.Estado == model.CajaAbierta {
			return model.InvalidState("no se puede desactivar una caja abierta")
		}
		if !caja.Activa {
			return nil
		}
		caja.Activa = false
		return tx.UpdateCaja(ctx, caja)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("caja_id", cajaID.String()).Msg("caja desactivada")
	resp := toCajaResponse(out, nil)
	return &resp, nil
}

func (s *cajaService) ObtenerCaja(ctx context.Context, cajaID uuid.UUID) (*dto.CajaResponse, error) {
	caja, err := s.repo.FindCajaByID(ctx, cajaID)
	if err != nil {
		return nil, err
	}
	var abierta *dto.SesionResponse
	if caja.Estado == model.CajaAbierta {
		sesion, err := s.repo.FindSesionAbierta(ctx, cajaID)
		switch {
		case err == nil:
			r, err := s.sesionConTotales(ctx, sesion)
			if err != nil {
				return nil, err
			}
			abierta = r
		case model.KindOf(err) != model.KindNotFound:
			return nil, err
		}
	}
	resp := toCajaResponse(caja, abierta)
	return &resp, nil
}

func (s *cajaService) ListarCajas(ctx context.Context, sucursalID uuid.UUID, incluirInactivas bool) ([]dto.CajaResponse, error) {
	cajas, err := s.repo.ListCajasPorSucursal(ctx, sucursalID, incluirInactivas)
	if err != nil {
		return nil, err
	}
	out := make([]dto.CajaResponse, 0, len(cajas))
	for i := range cajas {
		out = append(out, toCajaResponse(&cajas[i], nil))
	}
	return out, nil
}

// ── Abrir ─────────────────────────────────────────────────────────────────────

func (s *cajaService) Abrir(ctx context.Context, cajaID, usuarioID uuid.UUID, req dto.AbrirCajaRequest) (*dto.AbrirCajaResponse, error) {
	if req.MontoInicial == nil {
		return nil, model.Validation("el monto inicial es obligatorio")
	}
	monto := *req.MontoInicial
	if monto.IsNegative() {
		return nil, model.Validation("el monto inicial no puede ser negativo")
	}
	if !esMonetario(monto) {
		return nil, model.Validation("el monto inicial admite a lo sumo 2 decimales")
	}
	if !model.MontoEnRango(monto) {
		return nil, model.Validation("el monto inicial supera el máximo de %s", model.MontoMaximo.StringFixed(2))
	}

	var sesion *model.SesionCaja
	err := s.conCaja(ctx, cajaID, func(tx repository.CajaRepository, caja *model.Caja) error {
		if !caja.Activa {
			return model.InvalidState("la caja está desactivada")
		}
		switch caja.Estado {
		case model.CajaAbierta:
			return model.InvalidState("la caja ya está abierta")
		case model.CajaCerrada:
		default:
			return fmt.Errorf("estado de caja desconocido: %v", caja.Estado)
		}
		// the register row says closed; the session table must agree
		if _, err := tx.FindSesionAbierta(ctx, cajaID); err == nil {
			return model.InvalidState("la caja ya tiene una sesión abierta")
		} else if model.KindOf(err) != model.KindNotFound {
			return err
		}

		sesion = &model.SesionCaja{
			ID:           uuid.New(),
			CajaID:       cajaID,
			AbiertaPor:   usuarioID,
			MontoInicial: monto,
			Estado:       model.CajaAbierta,
			OpenedAt:     time.Now().UTC(),
		}
		if err := tx.CreateSesion(ctx, sesion); err != nil {
			return err
		}
		caja.Estado = model.CajaAbierta
		caja.SaldoActual = monto
		return tx.UpdateCaja(ctx, caja)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.SesionAbierta()
	log.Info().
		Str("caja_id", cajaID.String()).
		Str("sesion_id", sesion.ID.String()).
		Str("monto_inicial", monto.String()).
		Msg("caja abierta")

	return &dto.AbrirCajaResponse{
		SesionID:     sesion.ID.String(),
		CajaID:       cajaID.String(),
		MontoInicial: monto,
		OpenedAt:     formatTime(sesion.OpenedAt),
	}, nil
}

// ── Cerrar ────────────────────────────────────────────────────────────────────
// The computed balance always comes from replaying the movements. The cached
// Caja.SaldoActual is only compared against it.

func (s *cajaService) Cerrar(ctx context.Context, cajaID, usuarioID uuid.UUID, req dto.CerrarCajaRequest) (*dto.CierreCajaResponse, error) {
	if req.MontoDeclarado == nil {
		return nil, model.Validation("el monto contado es obligatorio")
	}
	declarado := *req.MontoDeclarado
	if declarado.IsNegative() {
		return nil, model.Validation("el monto contado no puede ser negativo")
	}
	if !esMonetario(declarado) {
		return nil, model.Validation("el monto contado admite a lo sumo 2 decimales")
	}
	if !model.MontoEnRango(declarado) {
		return nil, model.Validation("el monto contado supera el máximo de %s", model.MontoMaximo.StringFixed(2))
	}
	observaciones := trimOrNil(req.Observaciones)

	var (
		sesion     *model.SesionCaja
		res        arqueo.Resultado
		saldoCache decimal.Decimal
	)
	err := s.conCaja(ctx, cajaID, func(tx repository.CajaRepository, caja *model.Caja) error {
		switch caja.Estado {
		case model.CajaCerrada:
			return model.InvalidState("la caja no está abierta")
		case model.CajaAbierta:
		default:
			return fmt.Errorf("estado de caja desconocido: %v", caja.Estado)
		}
		var err error
		sesion, err = tx.FindSesionAbierta(ctx, cajaID)
		if model.KindOf(err) == model.KindNotFound {
			return model.InvalidState("la caja no tiene una sesión abierta")
		}
		if err != nil {
			return err
		}
		movs, err := tx.ListMovimientos(ctx, sesion.ID)
		if err != nil {
			return err
		}

		res = arqueo.Conciliar(sesion.MontoInicial, movs, declarado)
		if res.Clasificacion == model.DesvioCritico && s.opts.DesvioCriticoRequiereObservaciones && observaciones == nil {
			return model.Validation("desvío crítico: se requieren observaciones")
		}

		saldoCache = caja.SaldoActual
		calculado, contado := res.MontoCalculado, res.MontoDeclarado
		desvio, pct, clas := res.Desvio, res.DesvioPct, res.Clasificacion
		now := time.Now().UTC()

		sesion.MontoCalculado = &calculado
		sesion.MontoDeclarado = &contado
		sesion.Desvio = &desvio
		sesion.DesvioPct = &pct
		sesion.ClasificacionDesvio = &clas
		sesion.Observaciones = observaciones
		sesion.DivergenciaCache = !saldoCache.Equal(calculado)
		sesion.SaldoCache = nil
		if sesion.DivergenciaCache {
			cached := saldoCache
			sesion.SaldoCache = &cached
		}
		sesion.CerradaPor = &usuarioID
		sesion.Estado = model.CajaCerrada
		sesion.ClosedAt = &now
		if err := tx.CerrarSesion(ctx, sesion); err != nil {
			return err
		}

		caja.Estado = model.CajaCerrada
		caja.SaldoActual = decimal.Zero
		return tx.UpdateCaja(ctx, caja)
	})
	if err != nil {
		return nil, err
	}

	if sesion.DivergenciaCache {
		s.metrics.Divergencia()
		log.Error().
			Str("kind", model.KindStorage.String()).
			Str("caja_id", cajaID.String()).
			Str("sesion_id", sesion.ID.String()).
			Str("saldo_cache", saldoCache.String()).
			Str("saldo_replay", res.MontoCalculado.String()).
			Msg("divergencia entre saldo en caché y replay de movimientos")
	}
	s.metrics.SesionCerrada(string(res.Clasificacion))
	ev := log.Info()
	if res.Clasificacion == model.DesvioCritico {
		ev = log.Warn()
	}
	ev.Str("caja_id", cajaID.String()).
		Str("sesion_id", sesion.ID.String()).
		Str("calculado", res.MontoCalculado.String()).
		Str("declarado", res.MontoDeclarado.String()).
		Str("desvio", res.Desvio.String()).
		Str("clasificacion", string(res.Clasificacion)).
		Msg("caja cerrada")

	return &dto.CierreCajaResponse{
		SesionID:         sesion.ID.String(),
		CajaID:           cajaID.String(),
		MontoInicial:     res.MontoInicial,
		Ingresos:         res.Ingresos,
		Egresos:          res.Egresos,
		MontoCalculado:   res.MontoCalculado,
		MontoDeclarado:   res.MontoDeclarado,
		Desvio:           res.Desvio,
		DesvioPct:        res.DesvioPct,
		Clasificacion:    string(res.Clasificacion),
		DivergenciaCache: sesion.DivergenciaCache,
		ClosedAt:         formatTime(*sesion.ClosedAt),
	}, nil
}

// ── RegistrarMovimiento ───────────────────────────────────────────────────────
// The append and the balance adjustment share one transaction.

func (s *cajaService) RegistrarMovimiento(ctx context.Context, cajaID, usuarioID uuid.UUID, req dto.MovimientoRequest) (*dto.MovimientoResponse, error) {
	mov, err := nuevoMovimiento(usuarioID, req)
	if err != nil {
		return nil, err
	}

	if mov.IdempotencyKey != nil {
		prev, err := s.buscarReplay(ctx, s.repo, cajaID, *mov.IdempotencyKey)
		if err != nil || prev != nil {
			return prev, err
		}
	}

	var replay *dto.MovimientoResponse
	err = s.conCaja(ctx, cajaID, func(tx repository.CajaRepository, caja *model.Caja) error {
		// a concurrent submission with the same key may have committed while we waited
		if mov.IdempotencyKey != nil {
			prev, err := s.buscarReplay(ctx, tx, cajaID, *mov.IdempotencyKey)
			if err != nil || prev != nil {
				replay = prev
				return err
			}
		}
		switch caja.Estado {
		case model.CajaCerrada:
			return model.InvalidState("la caja no está abierta")
		case model.CajaAbierta:
		default:
			return fmt.Errorf("estado de caja desconocido: %v", caja.Estado)
		}
		sesion, err := tx.FindSesionAbierta(ctx, cajaID)
		if model.KindOf(err) == model.KindNotFound {
			return model.InvalidState("la caja no tiene una sesión abierta")
		}
		if err != nil {
			return err
		}
		if !model.MontoEnRango(caja.SaldoActual.Add(mov.Firmado())) {
			return model.Validation("el movimiento deja el saldo de la caja fuera del rango admitido")
		}

		mov.ID = uuid.New()
		mov.SesionCajaID = sesion.ID
		mov.CreatedAt = time.Now().UTC()
		if err := tx.CreateMovimiento(ctx, mov); err != nil {
			return err
		}
		return tx.AjustarSaldo(ctx, cajaID, mov.Firmado())
	})
	if err != nil {
		return nil, err
	}
	if replay != nil {
		return replay, nil
	}

	s.metrics.MovimientoRegistrado(mov.Tipo.String())
	log.Info().
		Str("caja_id", cajaID.String()).
		Str("sesion_id", mov.SesionCajaID.String()).
		Str("movimiento_id", mov.ID.String()).
		Str("tipo", mov.Tipo.String()).
		Str("monto", mov.Monto.String()).
		Msg("movimiento registrado")

	resp := toMovimientoResponse(mov)
	return &resp, nil
}

// buscarReplay returns the movement already recorded under key, marked as a
// replay, or nil when the key is unused.
func (s *cajaService) buscarReplay(ctx context.Context, repo repository.CajaRepository, cajaID uuid.UUID, key string) (*dto.MovimientoResponse, error) {
	prev, err := repo.FindMovimientoByIdempotencyKey(ctx, key)
	if model.KindOf(err) == model.KindNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sesion, err := repo.FindSesionByID(ctx, prev.SesionCajaID)
	if err != nil {
		return nil, err
	}
	if sesion.CajaID != cajaID {
		return nil, model.Validation("idempotency key ya utilizada en otra caja")
	}
	resp := toMovimientoResponse(prev)
	resp.Replayed = true
	return &resp, nil
}

func nuevoMovimiento(usuarioID uuid.UUID, req dto.MovimientoRequest) (*model.MovimientoCaja, error) {
	tipo, err := model.ParseTipoMovimiento(req.Tipo)
	if err != nil {
		return nil, model.Validation("kind debe ser income o expense")
	}
	if req.Monto == nil || !req.Monto.IsPositive() {
		return nil, model.Validation("el monto debe ser mayor a cero")
	}
	if !esMonetario(*req.Monto) {
		return nil, model.Validation("el monto admite a lo sumo 2 decimales")
	}
	if !model.MontoEnRango(*req.Monto) {
		return nil, model.Validation("el monto supera el máximo de %s", model.MontoMaximo.StringFixed(2))
	}
	motivo := strings.TrimSpace(req.Motivo)
	if motivo == "" {
		return nil, model.Validation("el motivo es obligatorio")
	}
	if !model.MetodoPagoValido(req.MetodoPago) {
		return nil, model.Validation("método de pago inválido: %q", req.MetodoPago)
	}

	mov := &model.MovimientoCaja{
		UsuarioID:  usuarioID,
		Tipo:       tipo,
		Monto:      *req.Monto,
		Motivo:     motivo,
		MetodoPago: req.MetodoPago,
	}
	if req.Origen != nil {
		tabla, id := strings.TrimSpace(req.Origen.Tabla), strings.TrimSpace(req.Origen.ID)
		if tabla == "" || id == "" {
			return nil, model.Validation("sourceRef requiere table e id")
		}
		mov.OrigenTabla, mov.OrigenID = &tabla, &id
	}
	if req.IdempotencyKey != nil {
		key := strings.TrimSpace(*req.IdempotencyKey)
		if key == "" || len(key) > 128 {
			return nil, model.Validation("idempotency key inválida")
		}
		mov.IdempotencyKey = &key
	}
	return mov, nil
}

// ── Consultas ─────────────────────────────────────────────────────────────────

func (s *cajaService) ListarSesiones(ctx context.Context, cajaID uuid.UUID, desde, hasta *time.Time) ([]dto.SesionResponse, error) {
	if _, err := s.repo.FindCajaByID(ctx, cajaID); err != nil {
		return nil, err
	}
	if desde != nil && hasta != nil && hasta.Before(*desde) {
		return nil, model.Validation("el rango de fechas es inválido")
	}
	sesiones, err := s.repo.ListSesiones(ctx, cajaID, desde, hasta)
	if err != nil {
		return nil, err
	}
	totales, err := s.repo.TotalesPorSesion(ctx, sesionIDs(sesiones))
	if err != nil {
		return nil, err
	}
	out := make([]dto.SesionResponse, 0, len(sesiones))
	for i := range sesiones {
		r := toSesionResponse(&sesiones[i], totales[sesiones[i].ID])
		r.Totales.PorMetodo = nil
		out = append(out, r)
	}
	return out, nil
}

func (s *cajaService) ObtenerSesion(ctx context.Context, sesionID uuid.UUID) (*dto.SesionResponse, error) {
	sesion, err := s.repo.FindSesionByID(ctx, sesionID)
	if err != nil {
		return nil, err
	}
	return s.sesionConTotales(ctx, sesion)
}

func (s *cajaService) sesionConTotales(ctx context.Context, sesion *model.SesionCaja) (*dto.SesionResponse, error) {
	totales, err := s.repo.TotalesPorSesion(ctx, []uuid.UUID{sesion.ID})
	if err != nil {
		return nil, err
	}
	resp := toSesionResponse(sesion, totales[sesion.ID])
	return &resp, nil
}

func (s *cajaService) ListarMovimientos(ctx context.Context, sesionID uuid.UUID) ([]dto.MovimientoResponse, error) {
	if _, err := s.repo.FindSesionByID(ctx, sesionID); err != nil {
		return nil, err
	}
	movs, err := s.repo.ListMovimientos(ctx, sesionID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.MovimientoResponse, 0, len(movs))
	for i := range movs {
		out = append(out, toMovimientoResponse(&movs[i]))
	}
	return out, nil
}

// Reporte aggregates the sessions opened within [desde, hasta].
func (s *cajaService) Reporte(ctx context.Context, cajaID uuid.UUID, desde, hasta time.Time) (*dto.ReporteCajaResponse, error) {
	if hasta.Before(desde) {
		return nil, model.Validation("el rango de fechas es inválido")
	}
	if _, err := s.repo.FindCajaByID(ctx, cajaID); err != nil {
		return nil, err
	}
	sesiones, err := s.repo.ListSesiones(ctx, cajaID, &desde, &hasta)
	if err != nil {
		return nil, err
	}
	totales, err := s.repo.TotalesPorSesion(ctx, sesionIDs(sesiones))
	if err != nil {
		return nil, err
	}

	rep := &dto.ReporteCajaResponse{
		CajaID:       cajaID.String(),
		Desde:        formatTime(desde),
		Hasta:        formatTime(hasta),
		Sesiones:     len(sesiones),
		MontoInicial: decimal.Zero,
		Ingresos:     decimal.Zero,
		Egresos:      decimal.Zero,
		DesvioTotal:  decimal.Zero,
		PorMetodo:    make(map[string]decimal.Decimal),
		PorClasificacion: map[string]int{
			string(model.DesvioNormal):      0,
			string(model.DesvioAdvertencia): 0,
			string(model.DesvioCritico):     0,
		},
	}
	for _, ses := range sesiones {
		t := totales[ses.ID]
		rep.MontoInicial = rep.MontoInicial.Add(ses.MontoInicial)
		rep.Ingresos = rep.Ingresos.Add(t.Ingresos)
		rep.Egresos = rep.Egresos.Add(t.Egresos)
		rep.Movimientos += t.Cantidad
		for metodo, v := range t.PorMetodo {
			rep.PorMetodo[metodo] = rep.PorMetodo[metodo].Add(v)
		}
		switch ses.Estado {
		case model.CajaAbierta:
			rep.SesionesAbiertas++
		case model.CajaCerrada:
			if ses.Desvio != nil {
				rep.DesvioTotal = rep.DesvioTotal.Add(*ses.Desvio)
			}
			if ses.ClasificacionDesvio != nil {
				rep.PorClasificacion[string(*ses.ClasificacionDesvio)]++
			}
		}
	}
	rep.Neto = rep.Ingresos.Sub(rep.Egresos)
	return rep, nil
}

// ── Auditoría ─────────────────────────────────────────────────────────────────

func (s *cajaService) Auditar(ctx context.Context, cajaID uuid.UUID) (*dto.AuditoriaCajaResponse, error) {
	caja, err := s.repo.FindCajaByID(ctx, cajaID)
	if err != nil {
		return nil, err
	}
	return auditar(ctx, s.repo, caja)
}

func (s *cajaService) Reparar(ctx context.Context, cajaID uuid.UUID) (*dto.AuditoriaCajaResponse, error) {
	var out *dto.AuditoriaCajaResponse
	err := s.conCaja(ctx, cajaID, func(tx repository.CajaRepository, caja *model.Caja) error {
		a, err := auditar(ctx, tx, caja)
		if err != nil {
			return err
		}
		out = a
		if a.Consistente {
			return nil
		}
		caja.SaldoActual = a.SaldoReplay
		if err := tx.UpdateCaja(ctx, caja); err != nil {
			return err
		}
		a.Reparada = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out.Reparada {
		log.Warn().
			Str("caja_id", cajaID.String()).
			Str("saldo_cache", out.SaldoCache.String()).
			Str("saldo_replay", out.SaldoReplay.String()).
			Msg("saldo en caché reconstruido desde el ledger")
	}
	return out, nil
}

func (s *cajaService) AuditarAbiertas(ctx context.Context) ([]dto.AuditoriaCajaResponse, error) {
	cajas, err := s.repo.ListCajasAbiertas(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]dto.AuditoriaCajaResponse, 0, len(cajas))
	for i := range cajas {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		a, err := auditar(ctx, s.repo, &cajas[i])
		if err != nil {
			return out, err
		}
		if !a.Consistente {
			s.metrics.Divergencia()
		}
		out = append(out, *a)
	}
	return out, nil
}

// auditar replays the open session of caja. A closed caja must cache zero.
func auditar(ctx context.Context, repo repository.CajaRepository, caja *model.Caja) (*dto.AuditoriaCajaResponse, error) {
	a := &dto.AuditoriaCajaResponse{
		CajaID:      caja.ID.String(),
		Estado:      caja.Estado.String(),
		SaldoCache:  caja.SaldoActual,
		SaldoReplay: decimal.Zero,
	}
	if caja.Estado == model.CajaAbierta {
		sesion, err := repo.FindSesionAbierta(ctx, caja.ID)
		if err != nil {
			return nil, err
		}
		movs, err := repo.ListMovimientos(ctx, sesion.ID)
		if err != nil {
			return nil, err
		}
		id := sesion.ID.String()
		a.SesionID = &id
		a.SaldoReplay = arqueo.SaldoCalculado(sesion.MontoInicial, movs)
	}
	a.Diferencia = a.SaldoCache.Sub(a.SaldoReplay)
	a.Consistente = a.Diferencia.IsZero()
	return a, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// esMonetario reports whether d has at most two decimal places.
func esMonetario(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

func trimOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

func sesionIDs(sesiones []model.SesionCaja) []uuid.UUID {
	ids := make([]uuid.UUID, len(sesiones))
	for i := range sesiones {
		ids[i] = sesiones[i].ID
	}
	return ids
}
