package infra

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the cash register ledger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Registry is not the global default, so tests can build as many Metrics as they like.
	Registry *prometheus.Registry

	httpDuration     *prometheus.HistogramVec
	sesionesAbiertas prometheus.Counter
	sesionesCerradas *prometheus.CounterVec
	movimientos      *prometheus.CounterVec
	divergencias     prometheus.Counter
	pagosFactura     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cajas_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		sesionesAbiertas: factory.NewCounter(prometheus.CounterOpts{
			Name: "cajas_sesiones_abiertas_total",
			Help: "Cash register sessions opened.",
		}),
		sesionesCerradas: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cajas_sesiones_cerradas_total",
				Help: "Cash register sessions closed, by variance classification.",
			},
			[]string{"clasificacion"},
		),
		movimientos: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cajas_movimientos_total",
				Help: "Movements appended to the ledger, by kind.",
			},
			[]string{"kind"},
		),
		divergencias: factory.NewCounter(prometheus.CounterOpts{
			Name: "cajas_divergencias_total",
			Help: "Times the cached register balance disagreed with the movement replay.",
		}),
		pagosFactura: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cajas_pagos_factura_total",
				Help: "Invoice payments received from billing, by outcome.",
			},
			[]string{"resultado"},
		),
	}
}

// Handler serves the private registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) SesionAbierta() {
	if m == nil {
		return
	}
	m.sesionesAbiertas.Inc()
}

func (m *Metrics) SesionCerrada(clasificacion string) {
	if m == nil {
		return
	}
	m.sesionesCerradas.WithLabelValues(clasificacion).Inc()
}

func (m *Metrics) MovimientoRegistrado(kind string) {
	if m == nil {
		return
	}
	m.movimientos.WithLabelValues(kind).Inc()
}

func (m *Metrics) Divergencia() {
	if m == nil {
		return
	}
	m.divergencias.Inc()
}

// PagoFactura counts billing events: registrado | replay | omitido | error.
func (m *Metrics) PagoFactura(resultado string) {
	if m == nil {
		return
	}
	m.pagosFactura.WithLabelValues(resultado).Inc()
}
