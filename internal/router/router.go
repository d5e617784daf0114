package router

import (
	"time"

	"turnopos/internal/config"
	"turnopos/internal/handler"
	"turnopos/internal/infra"
	"turnopos/internal/middleware"
	"turnopos/internal/service"
	"turnopos/internal/worker"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps are built by the composition root and shared with the worker pool.
type Deps struct {
	DB      *gorm.DB      // nil with STORE=memory
	Redis   *redis.Client // nil processes invoice payments inline
	Cajas   service.CajaService
	Pagos   service.PagoFacturaService
	Metrics *infra.Metrics
	Breaker *infra.CircuitBreaker
}

// New wires all handlers and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
func New(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.Metrics(deps.Metrics))
	r.Use(middleware.CORS())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RateLimiter(cfg.RateLimitPerMinute, time.Minute))

	// ── Handlers ─────────────────────────────────────────────────────────────
	var queue handler.PagoFacturaQueue
	if deps.Redis != nil {
		queue = worker.NewDispatcher(deps.Redis)
	}
	cajaH := handler.NewCajaHandler(deps.Cajas)
	pagosH := handler.NewPagoFacturaHandler(deps.Pagos, queue)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(deps.DB, deps.Redis, deps.Breaker))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// Protected routes
	// Roles: cajero, supervisor, administrador, declared per-endpoint
	todos := middleware.RequireRole(middleware.RolCajero, middleware.RolSupervisor, middleware.RolAdministrador)
	gestion := middleware.RequireRole(middleware.RolSupervisor, middleware.RolAdministrador)

	v1 := r.Group("/v1", middleware.JWTAuth(cfg.JWTSecret))
	{
		v1.GET("/branches/:branchId/registers", todos, cajaH.Listar)
		v1.POST("/branches/:branchId/registers", gestion, cajaH.Crear)

		regs := v1.Group("/registers")
		{
			regs.GET("/:id", todos, cajaH.Obtener)
			regs.POST("/:id/deactivate", gestion, cajaH.Desactivar)
			regs.POST("/:id/open", todos, cajaH.Abrir)
			regs.POST("/:id/close", todos, cajaH.Cerrar)
			regs.POST("/:id/movements", todos, cajaH.RegistrarMovimiento)
			regs.GET("/:id/sessions", todos, cajaH.ListarSesiones)
			regs.GET("/:id/report", todos, cajaH.Reporte)
			regs.GET("/:id/audit", gestion, cajaH.Auditar)
			regs.POST("/:id/repair", gestion, cajaH.Reparar)
		}

		ses := v1.Group("/sessions")
		{
			ses.GET("/:id", todos, cajaH.ObtenerSesion)
			ses.GET("/:id/movements", todos, cajaH.ListarMovimientos)
			ses.GET("/:id/pdf", todos, cajaH.DescargarPDF)
		}

		v1.POST("/billing/invoice-payments", todos, pagosH.Registrar)
	}

	// Swagger UI, only outside production
	if !cfg.IsProduction() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
