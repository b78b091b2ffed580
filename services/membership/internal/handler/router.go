package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/membership-system/pkg/metrics"
	"example.com/membership-system/services/membership/internal/middleware"
	"example.com/membership-system/services/membership/internal/service"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Service        service.MembershipService
	Sweeper        SweepRunner             // nil — ручной запуск недоступен
	Redirects      RedirectURLs            // страницы результата оплаты
	AdminAuth      *middleware.AdminAuth   // nil — админские маршруты не регистрируются
	RateLimit      *middleware.RateLimiter // nil — без ограничения
	CORSOrigins    []string
	ReadinessCheck ReadinessChecker
	ServiceName    string
	Debug          bool
}

// Router — HTTP роутер сервиса членства.
type Router struct {
	engine         *gin.Engine
	cfg            RouterConfig
	readinessCheck ReadinessChecker
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "membership"
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.CORSOrigins))
	engine.Use(middleware.SecurityHeaders())
	engine.Use(otelgin.Middleware(cfg.ServiceName))
	engine.Use(metrics.GinMiddleware(cfg.ServiceName))
	engine.Use(middleware.RequestIDs())

	r := &Router{engine: engine, cfg: cfg, readinessCheck: cfg.ReadinessCheck}
	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	membership := NewMembershipHandler(r.cfg.Service, r.cfg.Redirects)
	donation := NewDonationHandler(r.cfg.Service)

	// Callback шлюза приходит редиректом браузера, без rate limiting
	r.engine.GET("/membership/payment/status/:transactionId", membership.PaymentCallback)
	r.engine.POST("/membership/payment/status/:transactionId", membership.PaymentCallback)
	r.engine.GET("/donation/payment/status/:transactionId", membership.PaymentCallback)
	r.engine.POST("/donation/payment/status/:transactionId", membership.PaymentCallback)

	// === Публичные маршруты, создающие платежи ===
	public := r.engine.Group("")
	if r.cfg.RateLimit != nil {
		public.Use(r.cfg.RateLimit.Handle())
	}
	{
		public.POST("/membership", membership.CreateFeePayment)
		public.POST("/membership/renew", membership.Renew)
		public.POST("/member/check-membership", membership.CheckMembership)
		public.POST("/donation", donation.Create)
	}

	// === Админские маршруты (JWT) ===
	if r.cfg.AdminAuth == nil {
		return
	}
	admin := NewAdminHandler(r.cfg.Service, r.cfg.Sweeper)

	r.engine.POST("/membership/cancel", r.cfg.AdminAuth.Handle(), membership.Cancel)

	adm := r.engine.Group("/admin")
	adm.Use(r.cfg.AdminAuth.Handle())
	{
		adm.GET("/transactions/:transactionId", admin.GetTransaction)
		adm.POST("/transactions/:transactionId/reconcile", admin.Reconcile)
		adm.GET("/memberships/:memberId", admin.GetMembership)
		adm.POST("/sweeper/run", admin.RunSweeper)
	}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// livenessCheck возвращает 200, пока процесс отвечает.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler возвращает 200, если все зависимости доступны.
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
