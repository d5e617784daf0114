package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"turnopos/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Constraint names declared in infra/migrations.
const (
	constraintSesionAbierta  = "uq_sesiones_caja_abierta"
	constraintIdempotencyKey = "uq_movimientos_caja_idempotency_key"
	constraintNombreCaja     = "uq_cajas_sucursal_nombre"
)

// CajaRepository is the ledger store. Every method returns *model.Error
// (NotFound / InvalidState / Validation / Storage) on failure.
type CajaRepository interface {
	// Transaction runs fn atomically: either every write inside fn commits or none does.
	// Row locks taken by LockCaja are held until fn returns.
	Transaction(ctx context.Context, fn func(tx CajaRepository) error) error

	CreateCaja(ctx context.Context, c *model.Caja) error
	FindCajaByID(ctx context.Context, id uuid.UUID) (*model.Caja, error)
	// LockCaja reads the caja with an exclusive row lock (SELECT … FOR UPDATE).
	// When ctx carries a deadline the lock wait ends there with a Storage error.
	LockCaja(ctx context.Context, id uuid.UUID) (*model.Caja, error)
	ListCajasPorSucursal(ctx context.Context, sucursalID uuid.UUID, incluirInactivas bool) ([]model.Caja, error)
	ListCajasAbiertas(ctx context.Context) ([]model.Caja, error)
	ExisteNombreCaja(ctx context.Context, sucursalID uuid.UUID, nombre string) (bool, error)
	UpdateCaja(ctx context.Context, c *model.Caja) error
	// AjustarSaldo applies saldo_actual = saldo_actual + delta in the store.
	AjustarSaldo(ctx context.Context, cajaID uuid.UUID, delta decimal.Decimal) error

	CreateSesion(ctx context.Context, s *model.SesionCaja) error
	FindSesionByID(ctx context.Context, id uuid.UUID) (*model.SesionCaja, error)
	// FindSesionAbierta returns NotFound when the caja has no open session.
	FindSesionAbierta(ctx context.Context, cajaID uuid.UUID) (*model.SesionCaja, error)
	// ListSesionesAbiertasPorSucursal returns open sessions of active cajas, oldest first.
	ListSesionesAbiertasPorSucursal(ctx context.Context, sucursalID uuid.UUID) ([]model.SesionCaja, error)
	// ListSesiones returns sessions opened in [desde, hasta], newest first. Nil bounds are open.
	ListSesiones(ctx context.Context, cajaID uuid.UUID, desde, hasta *time.Time) ([]model.SesionCaja, error)
	// CerrarSesion persists the closing fields. It is the only update a session ever
	// receives and fails with InvalidState if the session is already closed.
	CerrarSesion(ctx context.Context, s *model.SesionCaja) error

	CreateMovimiento(ctx context.Context, m *model.MovimientoCaja) error
	FindMovimientoByIdempotencyKey(ctx context.Context, key string) (*model.MovimientoCaja, error)
	// ListMovimientos returns the session's movements in append order.
	ListMovimientos(ctx context.Context, sesionID uuid.UUID) ([]model.MovimientoCaja, error)
	TotalesPorSesion(ctx context.Context, sesionIDs []uuid.UUID) (map[uuid.UUID]model.TotalesSesion, error)
}

type cajaRepo struct {
	db   *gorm.DB
	inTx bool
}

func NewCajaRepository(db *gorm.DB) CajaRepository { return &cajaRepo{db: db} }

// txRetryDelays bounds the re-runs of a transaction aborted by the server with
// serialization_failure or deadlock_detected. Both codes guarantee a rollback.
var txRetryDelays = []time.Duration{50 * time.Millisecond, 150 * time.Millisecond, 300 * time.Millisecond}

func (r *cajaRepo) Transaction(ctx context.Context, fn func(tx CajaRepository) error) error {
	if r.inTx {
		return fn(r)
	}
	var err error
	for i := 0; i <= len(txRetryDelays); i++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(&cajaRepo{db: tx, inTx: true})
		})
		if err == nil || !isRetryable(err) || i == len(txRetryDelays) {
			break
		}
		select {
		case <-ctx.Done():
			return translate(ctx.Err(), "transacción")
		case <-time.After(txRetryDelays[i]):
		}
	}
	return translate(err, "transacción")
}

// ── Cajas ─────────────────────────────────────────────────────────────────────

func (r *cajaRepo) CreateCaja(ctx context.Context, c *model.Caja) error {
	return translate(r.db.WithContext(ctx).Create(c).Error, "caja")
}

func (r *cajaRepo) FindCajaByID(ctx context.Context, id uuid.UUID) (*model.Caja, error) {
	var c model.Caja
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err, "caja")
	}
	return &c, nil
}

func (r *cajaRepo) LockCaja(ctx context.Context, id uuid.UUID) (*model.Caja, error) {
	if deadline, ok := ctx.Deadline(); ok && r.inTx {
		ms := time.Until(deadline).Milliseconds()
		if ms < 1 {
			return nil, model.Storage("la caja está ocupada, reintente", context.DeadlineExceeded)
		}
		// SET takes no bind parameters.
		if err := r.db.WithContext(ctx).Exec(fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)).Error; err != nil {
			return nil, translate(err, "caja")
		}
	}
	var c model.Caja
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&c, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "caja")
	}
	return &c, nil
}

func (r *cajaRepo) ListCajasPorSucursal(ctx context.Context, sucursalID uuid.UUID, incluirInactivas bool) ([]model.Caja, error) {
	var cajas []model.Caja
	q := r.db.WithContext(ctx).Where("sucursal_id = ?", sucursalID)
	if !incluirInactivas {
		q = q.Where("activa = ?", true)
	}
	err := q.Order("nombre ASC").Find(&cajas).Error
	return cajas, translate(err, "cajas")
}

func (r *cajaRepo) ListCajasAbiertas(ctx context.Context) ([]model.Caja, error) {
	var cajas []model.Caja
	err := r.db.WithContext(ctx).Where("estado = ?", model.CajaAbierta).Order("id").Find(&cajas).Error
	return cajas, translate(err, "cajas")
}

func (r *cajaRepo) ExisteNombreCaja(ctx context.Context, sucursalID uuid.UUID, nombre string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Caja{}).
		Where("sucursal_id = ? AND lower(nombre) = lower(?)", sucursalID, nombre).
		Count(&n).Error
	return n > 0, translate(err, "caja")
}

func (r *cajaRepo) UpdateCaja(ctx context.Context, c *model.Caja) error {
	return translate(r.db.WithContext(ctx).Save(c).Error, "caja")
}

func (r *cajaRepo) AjustarSaldo(ctx context.Context, cajaID uuid.UUID, delta decimal.Decimal) error {
	res := r.db.WithContext(ctx).Model(&model.Caja{}).
		Where("id = ?", cajaID).
		Updates(map[string]any{
			"saldo_actual": gorm.Expr("saldo_actual + ?", delta),
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return translate(res.Error, "caja")
	}
	if res.RowsAffected != 1 {
		return model.NotFound("caja no encontrada")
	}
	return nil
}

// ── Sesiones ──────────────────────────────────────────────────────────────────

func (r *cajaRepo) CreateSesion(ctx context.Context, s *model.SesionCaja) error {
	return translate(r.db.WithContext(ctx).Create(s).Error, "sesión de caja")
}

func (r *cajaRepo) FindSesionByID(ctx context.Context, id uuid.UUID) (*model.SesionCaja, error) {
	var s model.SesionCaja
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, translate(err, "sesión de caja")
	}
	return &s, nil
}

func (r *cajaRepo) FindSesionAbierta(ctx context.Context, cajaID uuid.UUID) (*model.SesionCaja, error) {
	var s model.SesionCaja
	err := r.db.WithContext(ctx).
		Where("caja_id = ? AND closed_at IS NULL", cajaID).
		First(&s).Error
	if err != nil {
		return nil, translate(err, "sesión abierta")
	}
	return &s, nil
}

func (r *cajaRepo) ListSesionesAbiertasPorSucursal(ctx context.Context, sucursalID uuid.UUID) ([]model.SesionCaja, error) {
	var sesiones []model.SesionCaja
	err := r.db.WithContext(ctx).
		Joins("JOIN cajas ON cajas.id = sesiones_caja.caja_id").
		Where("cajas.sucursal_id = ? AND cajas.activa = ? AND sesiones_caja.closed_at IS NULL", sucursalID, true).
		Order("sesiones_caja.opened_at ASC").
		Find(&sesiones).Error
	return sesiones, translate(err, "sesiones de caja")
}

func (r *cajaRepo) ListSesiones(ctx context.Context, cajaID uuid.UUID, desde, hasta *time.Time) ([]model.SesionCaja, error) {
	var sesiones []model.SesionCaja
	q := r.db.WithContext(ctx).Where("caja_id = ?", cajaID)
	if desde != nil {
		q = q.Where("opened_at >= ?", *desde)
	}
	if hasta != nil {
		q = q.Where("opened_at <= ?", *hasta)
	}
	err := q.Order("opened_at DESC").Find(&sesiones).Error
	return sesiones, translate(err, "sesiones de caja")
}

func (r *cajaRepo) CerrarSesion(ctx context.Context, s *model.SesionCaja) error {
	res := r.db.WithContext(ctx).Model(&model.SesionCaja{}).
		Where("id = ? AND closed_at IS NULL", s.ID).
		Updates(map[string]any{
			"monto_calculado":      s.MontoCalculado,
			"monto_declarado":      s.MontoDeclarado,
			"desvio":               s.Desvio,
			"desvio_pct":           s.DesvioPct,
			"clasificacion_desvio": s.ClasificacionDesvio,
			"observaciones":        s.Observaciones,
			"divergencia_cache":    s.DivergenciaCache,
			"saldo_cache":          s.SaldoCache,
			"cerrada_por":          s.CerradaPor,
			"estado":               s.Estado,
			"closed_at":            s.ClosedAt,
		})
	if res.Error != nil {
		return translate(res.Error, "sesión de caja")
	}
	if res.RowsAffected != 1 {
		return model.InvalidState("la sesión ya está cerrada")
	}
	return nil
}

// ── Movimientos ───────────────────────────────────────────────────────────────
// Append-only: there is no Update or Delete.

func (r *cajaRepo) CreateMovimiento(ctx context.Context, m *model.MovimientoCaja) error {
	return translate(r.db.WithContext(ctx).Create(m).Error, "movimiento de caja")
}

func (r *cajaRepo) FindMovimientoByIdempotencyKey(ctx context.Context, key string) (*model.MovimientoCaja, error) {
	var m model.MovimientoCaja
	if err := r.db.WithContext(ctx).First(&m, "idempotency_key = ?", key).Error; err != nil {
		return nil, translate(err, "movimiento de caja")
	}
	return &m, nil
}

func (r *cajaRepo) ListMovimientos(ctx context.Context, sesionID uuid.UUID) ([]model.MovimientoCaja, error) {
	var movs []model.MovimientoCaja
	err := r.db.WithContext(ctx).
		Where("sesion_caja_id = ?", sesionID).
		Order("secuencia ASC").
		Find(&movs).Error
	return movs, translate(err, "movimientos de caja")
}

type totalRow struct {
	SesionCajaID uuid.UUID
	Tipo         model.TipoMovimiento
	MetodoPago   string
	Total        decimal.Decimal
	Cantidad     int
}

func (r *cajaRepo) TotalesPorSesion(ctx context.Context, sesionIDs []uuid.UUID) (map[uuid.UUID]model.TotalesSesion, error) {
	out := make(map[uuid.UUID]model.TotalesSesion, len(sesionIDs))
	if len(sesionIDs) == 0 {
		return out, nil
	}
	var rows []totalRow
	err := r.db.WithContext(ctx).Model(&model.MovimientoCaja{}).
		Select("sesion_caja_id, tipo, metodo_pago, SUM(monto) AS total, COUNT(*) AS cantidad").
		Where("sesion_caja_id IN ?", sesionIDs).
		Group("sesion_caja_id, tipo, metodo_pago").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "totales de sesión")
	}
	for _, id := range sesionIDs {
		out[id] = model.TotalesSesion{
			Ingresos:  decimal.Zero,
			Egresos:   decimal.Zero,
			PorMetodo: make(map[string]decimal.Decimal),
		}
	}
	for _, row := range rows {
		t := out[row.SesionCajaID]
		firmado := row.Total
		switch row.Tipo {
		case model.MovimientoIngreso:
			t.Ingresos = t.Ingresos.Add(row.Total)
		case model.MovimientoEgreso:
			t.Egresos = t.Egresos.Add(row.Total)
			firmado = row.Total.Neg()
		}
		t.PorMetodo[row.MetodoPago] = t.PorMetodo[row.MetodoPago].Add(firmado)
		t.Cantidad += row.Cantidad
		out[row.SesionCajaID] = t
	}
	return out, nil
}

// ── Error translation ─────────────────────────────────────────────────────────

func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	var domErr *model.Error
	if errors.As(err, &domErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.NotFound("no se encontró %s", what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			switch pgErr.ConstraintName {
			case constraintSesionAbierta:
				return model.InvalidState("ya existe una sesión abierta para esta caja")
			case constraintIdempotencyKey:
				return model.Validation("idempotency key ya utilizada por otro movimiento")
			case constraintNombreCaja:
				return model.Validation("ya existe una caja con ese nombre en la sucursal")
			}
		case pgerrcode.NumericValueOutOfRange:
			// the same input fails on every retry
			return model.Validation("valor fuera de rango al persistir %s", what)
		case pgerrcode.LockNotAvailable:
			return model.Storage("la caja está ocupada, reintente", err)
		}
	}
	return model.Storage("error de almacenamiento al persistir "+what, err)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return false
}
