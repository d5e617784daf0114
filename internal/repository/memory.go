package repository

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"turnopos/internal/arqueo"
	"turnopos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memoryState is one snapshot of the in-memory ledger. Stored structs are
// values; pointer fields inside them are never mutated in place, so a shallow
// copy of each map/slice is a full snapshot.
type memoryState struct {
	cajas    map[uuid.UUID]model.Caja
	sesiones map[uuid.UUID]model.SesionCaja
	movs     []model.MovimientoCaja
	seq      int64
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		cajas:    maps.Clone(s.cajas),
		sesiones: maps.Clone(s.sesiones),
		movs:     slices.Clone(s.movs),
		seq:      s.seq,
	}
}

type memoryRoot struct {
	txMu  sync.Mutex   // held by the single writer (transaction or standalone write)
	mu    sync.RWMutex // guards state
	state *memoryState
}

// memoryRepo implements CajaRepository without a database. A transaction works
// on a private snapshot which replaces the shared state only when fn succeeds.
// Transactions are fully serialized, which subsumes LockCaja.
type memoryRepo struct {
	root *memoryRoot
	tx   *memoryState
}

// NewMemoryCajaRepository returns an empty in-memory ledger store.
func NewMemoryCajaRepository() CajaRepository {
	return &memoryRepo{root: &memoryRoot{state: &memoryState{
		cajas:    make(map[uuid.UUID]model.Caja),
		sesiones: make(map[uuid.UUID]model.SesionCaja),
	}}}
}

func (r *memoryRepo) Transaction(ctx context.Context, fn func(tx CajaRepository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	if err := ctx.Err(); err != nil {
		return model.Storage("transacción cancelada", err)
	}
	r.root.txMu.Lock()
	defer r.root.txMu.Unlock()

	r.root.mu.RLock()
	work := r.root.state.clone()
	r.root.mu.RUnlock()

	if err := fn(&memoryRepo{root: r.root, tx: work}); err != nil {
		return translate(err, "transacción")
	}

	r.root.mu.Lock()
	r.root.state = work
	r.root.mu.Unlock()
	return nil
}

// enRango mirrors the decimal(14,2) amount columns of the SQL schema, with the
// error translate returns for numeric_value_out_of_range.
func enRango(what string, montos ...*decimal.Decimal) error {
	for _, m := range montos {
		if m != nil && !model.MontoEnRango(*m) {
			return model.Validation("valor fuera de rango al persistir %s", what)
		}
	}
	return nil
}

func (r *memoryRepo) read(fn func(st *memoryState)) {
	if r.tx != nil {
		fn(r.tx)
		return
	}
	r.root.mu.RLock()
	defer r.root.mu.RUnlock()
	fn(r.root.state)
}

func (r *memoryRepo) write(fn func(st *memoryState) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.root.txMu.Lock()
	defer r.root.txMu.Unlock()
	r.root.mu.Lock()
	defer r.root.mu.Unlock()
	return fn(r.root.state)
}

// ── Cajas ─────────────────────────────────────────────────────────────────────

func (r *memoryRepo) CreateCaja(_ context.Context, c *model.Caja) error {
	return r.write(func(st *memoryState) error {
		if err := enRango("caja", &c.SaldoActual); err != nil {
			return err
		}
		for _, other := range st.cajas {
			if other.SucursalID == c.SucursalID && strings.EqualFold(other.Nombre, c.Nombre) {
				return model.Validation("ya existe una caja con ese nombre en la sucursal")
			}
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		now := time.Now().UTC()
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		st.cajas[c.ID] = *c
		return nil
	})
}

func (r *memoryRepo) FindCajaByID(_ context.Context, id uuid.UUID) (*model.Caja, error) {
	var (
		c  model.Caja
		ok bool
	)
	r.read(func(st *memoryState) { c, ok = st.cajas[id] })
	if !ok {
		return nil, model.NotFound("no se encontró caja")
	}
	return &c, nil
}

func (r *memoryRepo) LockCaja(ctx context.Context, id uuid.UUID) (*model.Caja, error) {
	return r.FindCajaByID(ctx, id)
}

func (r *memoryRepo) ListCajasPorSucursal(_ context.Context, sucursalID uuid.UUID, incluirInactivas bool) ([]model.Caja, error) {
	var out []model.Caja
	r.read(func(st *memoryState) {
		for _, c := range st.cajas {
			if c.SucursalID == sucursalID && (incluirInactivas || c.Activa) {
				out = append(out, c)
			}
		}
	})
	slices.SortFunc(out, func(a, b model.Caja) int { return strings.Compare(a.Nombre, b.Nombre) })
	return out, nil
}

func (r *memoryRepo) ListCajasAbiertas(_ context.Context) ([]model.Caja, error) {
	var out []model.Caja
	r.read(func(st *memoryState) {
		for _, c := range st.cajas {
			if c.Estado == model.CajaAbierta {
				out = append(out, c)
			}
		}
	})
	slices.SortFunc(out, func(a, b model.Caja) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	return out, nil
}

func (r *memoryRepo) ExisteNombreCaja(_ context.Context, sucursalID uuid.UUID, nombre string) (bool, error) {
	var found bool
	r.read(func(st *memoryState) {
		for _, c := range st.cajas {
			if c.SucursalID == sucursalID && strings.EqualFold(c.Nombre, nombre) {
				found = true
				return
			}
		}
	})
	return found, nil
}

func (r *memoryRepo) UpdateCaja(_ context.Context, c *model.Caja) error {
	return r.write(func(st *memoryState) error {
		if _, ok := st.cajas[c.ID]; !ok {
			return model.NotFound("no se encontró caja")
		}
		if err := enRango("caja", &c.SaldoActual); err != nil {
			return err
		}
		c.UpdatedAt = time.Now().UTC()
		st.cajas[c.ID] = *c
		return nil
	})
}

func (r *memoryRepo) AjustarSaldo(_ context.Context, cajaID uuid.UUID, delta decimal.Decimal) error {
	return r.write(func(st *memoryState) error {
		c, ok := st.cajas[cajaID]
		if !ok {
			return model.NotFound("caja no encontrada")
		}
		saldo := c.SaldoActual.Add(delta)
		if err := enRango("caja", &saldo); err != nil {
			return err
		}
		c.SaldoActual = saldo
		c.UpdatedAt = time.Now().UTC()
		st.cajas[cajaID] = c
		return nil
	})
}

// ── Sesiones ──────────────────────────────────────────────────────────────────

func (r *memoryRepo) CreateSesion(_ context.Context, s *model.SesionCaja) error {
	return r.write(func(st *memoryState) error {
		if _, ok := st.cajas[s.CajaID]; !ok {
			return model.NotFound("no se encontró caja")
		}
		if err := enRango("sesión de caja", &s.MontoInicial); err != nil {
			return err
		}
		for _, other := range st.sesiones {
			if other.CajaID == s.CajaID && other.ClosedAt == nil {
				return model.InvalidState("ya existe una sesión abierta para esta caja")
			}
		}
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if s.OpenedAt.IsZero() {
			s.OpenedAt = time.Now().UTC()
		}
		st.sesiones[s.ID] = *s
		return nil
	})
}

func (r *memoryRepo) FindSesionByID(_ context.Context, id uuid.UUID) (*model.SesionCaja, error) {
	var (
		s  model.SesionCaja
		ok bool
	)
	r.read(func(st *memoryState) { s, ok = st.sesiones[id] })
	if !ok {
		return nil, model.NotFound("no se encontró sesión de caja")
	}
	return &s, nil
}

func (r *memoryRepo) FindSesionAbierta(_ context.Context, cajaID uuid.UUID) (*model.SesionCaja, error) {
	var (
		s     model.SesionCaja
		found bool
	)
	r.read(func(st *memoryState) {
		for _, other := range st.sesiones {
			if other.CajaID == cajaID && other.ClosedAt == nil {
				s, found = other, true
				return
			}
		}
	})
	if !found {
		return nil, model.NotFound("no se encontró sesión abierta")
	}
	return &s, nil
}

func (r *memoryRepo) ListSesionesAbiertasPorSucursal(_ context.Context, sucursalID uuid.UUID) ([]model.SesionCaja, error) {
	var out []model.SesionCaja
	r.read(func(st *memoryState) {
		for _, s := range st.sesiones {
			c, ok := st.cajas[s.CajaID]
			if ok && c.SucursalID == sucursalID && c.Activa && s.ClosedAt == nil {
				out = append(out, s)
			}
		}
	})
	slices.SortFunc(out, func(a, b model.SesionCaja) int { return a.OpenedAt.Compare(b.OpenedAt) })
	return out, nil
}

func (r *memoryRepo) ListSesiones(_ context.Context, cajaID uuid.UUID, desde, hasta *time.Time) ([]model.SesionCaja, error) {
	var out []model.SesionCaja
	r.read(func(st *memoryState) {
		for _, s := range st.sesiones {
			if s.CajaID != cajaID {
				continue
			}
			if desde != nil && s.OpenedAt.Before(*desde) {
				continue
			}
			if hasta != nil && s.OpenedAt.After(*hasta) {
				continue
			}
			out = append(out, s)
		}
	})
	slices.SortFunc(out, func(a, b model.SesionCaja) int { return b.OpenedAt.Compare(a.OpenedAt) })
	return out, nil
}

func (r *memoryRepo) CerrarSesion(_ context.Context, s *model.SesionCaja) error {
	return r.write(func(st *memoryState) error {
		cur, ok := st.sesiones[s.ID]
		if !ok {
			return model.NotFound("no se encontró sesión de caja")
		}
		if cur.ClosedAt != nil {
			return model.InvalidState("la sesión ya está cerrada")
		}
		if err := enRango("sesión de caja", s.MontoCalculado, s.MontoDeclarado, s.SaldoCache); err != nil {
			return err
		}
		if s.Desvio != nil && s.Desvio.Abs().GreaterThan(model.DesvioMaximo) {
			return model.Validation("valor fuera de rango al persistir sesión de caja")
		}
		st.sesiones[s.ID] = *s
		return nil
	})
}

// ── Movimientos ───────────────────────────────────────────────────────────────

func (r *memoryRepo) CreateMovimiento(_ context.Context, m *model.MovimientoCaja) error {
	return r.write(func(st *memoryState) error {
		if _, ok := st.sesiones[m.SesionCajaID]; !ok {
			return model.NotFound("no se encontró sesión de caja")
		}
		if !m.Tipo.Valid() || !m.Monto.IsPositive() {
			return model.Storage("movimiento rechazado por el almacenamiento", nil)
		}
		if err := enRango("movimiento de caja", &m.Monto); err != nil {
			return err
		}
		if m.IdempotencyKey != nil {
			for _, other := range st.movs {
				if other.IdempotencyKey != nil && *other.IdempotencyKey == *m.IdempotencyKey {
					return model.Validation("idempotency key ya utilizada por otro movimiento")
				}
			}
		}
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		st.seq++
		m.Secuencia = st.seq
		st.movs = append(st.movs, *m)
		return nil
	})
}

func (r *memoryRepo) FindMovimientoByIdempotencyKey(_ context.Context, key string) (*model.MovimientoCaja, error) {
	var (
		m     model.MovimientoCaja
		found bool
	)
	r.read(func(st *memoryState) {
		for _, other := range st.movs {
			if other.IdempotencyKey != nil && *other.IdempotencyKey == key {
				m, found = other, true
				return
			}
		}
	})
	if !found {
		return nil, model.NotFound("no se encontró movimiento de caja")
	}
	return &m, nil
}

func (r *memoryRepo) ListMovimientos(_ context.Context, sesionID uuid.UUID) ([]model.MovimientoCaja, error) {
	var out []model.MovimientoCaja
	r.read(func(st *memoryState) {
		for _, m := range st.movs {
			if m.SesionCajaID == sesionID {
				out = append(out, m)
			}
		}
	})
	return out, nil
}

func (r *memoryRepo) TotalesPorSesion(ctx context.Context, sesionIDs []uuid.UUID) (map[uuid.UUID]model.TotalesSesion, error) {
	out := make(map[uuid.UUID]model.TotalesSesion, len(sesionIDs))
	for _, id := range sesionIDs {
		movs, err := r.ListMovimientos(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = arqueo.Totales(movs)
	}
	return out, nil
}
