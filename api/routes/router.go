package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/settlement-engine/api/controllers"
	ordercontrollers "github.com/angelmondragon/settlement-engine/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/settlement-engine/api/controllers/webhooks"
	"github.com/angelmondragon/settlement-engine/api/middleware"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
	pkgredis "github.com/angelmondragon/settlement-engine/pkg/redis"
)

// Dependencies are the services the HTTP surface is wired to.
type Dependencies struct {
	DB               controllers.Pinger
	Redis            controllers.Pinger
	IdempotencyStore pkgredis.IdempotencyStore
	Orders           ordercontrollers.OrderService
	Webhooks         webhookcontrollers.ProcessorWebhookService
	Processor        controllers.ProcessorAccount
	Metrics          *metrics.SettlementMetrics
	Gatherer         prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/processor", webhookcontrollers.ProcessorWebhook(deps.Webhooks, cfg.Processor, deps.Metrics, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.IdempotencyStore, logg))
		r.Post("/", ordercontrollers.Create(deps.Orders, logg))
		r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
		r.Post("/{orderId}/shipping-address", ordercontrollers.ShippingAddress(deps.Orders, logg))
		r.Post("/{orderId}/payment", ordercontrollers.Payment(deps.Orders, logg))
		r.Post("/{orderId}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
		r.Use(middleware.Idempotency(deps.IdempotencyStore, logg))
		r.Post("/orders/{orderId}/cancel", ordercontrollers.AdminCancel(deps.Orders, logg))
		r.Get("/processor/balance", controllers.AdminProcessorBalance(deps.Processor, logg))
		r.Post("/processor/withdraw", controllers.AdminProcessorWithdraw(deps.Processor, logg))
	})

	return r
}
