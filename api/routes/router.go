package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/tradeloop-backend/api/controllers"
	admincontrollers "github.com/angelmondragon/tradeloop-backend/api/controllers/admin"
	offercontrollers "github.com/angelmondragon/tradeloop-backend/api/controllers/offers"
	ordercontrollers "github.com/angelmondragon/tradeloop-backend/api/controllers/orders"
	paymentcontrollers "github.com/angelmondragon/tradeloop-backend/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/tradeloop-backend/api/controllers/webhooks"
	"github.com/angelmondragon/tradeloop-backend/api/middleware"
	"github.com/angelmondragon/tradeloop-backend/internal/orders"
	"github.com/angelmondragon/tradeloop-backend/pkg/config"
	"github.com/angelmondragon/tradeloop-backend/pkg/enums"
	"github.com/angelmondragon/tradeloop-backend/pkg/logger"
)

// Services groups what the router mounts. A nil service answers 500 on its routes.
type Services struct {
	Orders     orders.Service
	Delivery   ordercontrollers.DeliveryService
	Offers     offercontrollers.Service
	Payments   PaymentsService
	FeeConfigs admincontrollers.FeeConfigService
}

type PaymentsService interface {
	paymentcontrollers.IntentService
	paymentcontrollers.MethodService
}

// RedisStore is the slice of *redis.Client the HTTP layer relies on.
type RedisStore interface {
	middleware.ReplayStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

type StripeSigner interface {
	SigningSecret() string
}

type WebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// Infra carries the shared clients behind health checks, throttling and webhooks.
// Leave a field nil rather than assigning a nil pointer to it.
type Infra struct {
	DB      controllers.Pinger
	Redis   RedisStore
	PubSub  controllers.Pinger
	Metrics http.Handler

	StripeSigner       StripeSigner
	StripeWebhook      webhookcontrollers.StripeWebhookService
	StripeWebhookGuard WebhookGuard
}

func NewRouter(cfg *config.Config, logg *logger.Logger, infra Infra, svc Services) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	apiPolicy := middleware.NewRateLimitPolicy("api", cfg.RateLimit.Window, cfg.RateLimit.APILimit)
	offerPolicy := middleware.NewRateLimitPolicy("offers", cfg.RateLimit.Window, cfg.RateLimit.OfferLimit)

	deps := map[string]controllers.Pinger{}
	if infra.DB != nil {
		deps["db"] = infra.DB
	}
	if infra.Redis != nil {
		deps["redis"] = infra.Redis
	}
	if infra.PubSub != nil {
		deps["pubsub"] = infra.PubSub
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})
	if infra.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", infra.Metrics)
	}

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(infra.StripeWebhook, infra.StripeSigner, infra.StripeWebhookGuard, logg))
	})

	var (
		idempotencyStore middleware.ReplayStore
		rateStore        middleware.RateLimiterStore
	)
	if infra.Redis != nil {
		idempotencyStore = infra.Redis
		rateStore = infra.Redis
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(apiPolicy, rateStore, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(svc.Orders, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(svc.Orders, logg))
				r.Post("/cancel", ordercontrollers.CancelOrder(svc.Orders, logg))
				r.Post("/status", ordercontrollers.UpdateStatus(svc.Orders, logg))
				r.Post("/delivery/notify", ordercontrollers.NotifyDeliveryPartners(svc.Delivery, logg))
				r.Post("/delivery/respond", ordercontrollers.RespondToDeliveryRequest(svc.Delivery, logg))
				r.Post("/delivery/verify", ordercontrollers.VerifyDeliveryToken(svc.Delivery, logg))
			})
		})

		r.Route("/offers", func(r chi.Router) {
			r.With(middleware.RateLimit(offerPolicy, rateStore, logg)).Post("/", offercontrollers.Create(svc.Offers, logg))
			r.Post("/{offerId}/respond", offercontrollers.Respond(svc.Offers, logg))
			r.Post("/{offerId}/withdraw", offercontrollers.Withdraw(svc.Offers, logg))
		})

		r.Post("/payments/intents", paymentcontrollers.CreateOrderIntent(svc.Payments, logg))
		r.Post("/p2p/payments/intents", paymentcontrollers.CreateP2PIntent(svc.Payments, logg))
		r.Route("/payment-methods", func(r chi.Router) {
			r.Post("/", paymentcontrollers.AttachPaymentMethod(svc.Payments, logg))
			r.Delete("/{id}", paymentcontrollers.DetachPaymentMethod(svc.Payments, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.UserRoleAdmin, logg))
			r.Get("/fee-configurations", admincontrollers.ListFeeConfigurations(svc.FeeConfigs, logg))
			r.Post("/fee-configurations", admincontrollers.CreateFeeConfiguration(svc.FeeConfigs, logg))
			r.Post("/fee-configurations/{id}/activate", admincontrollers.ActivateFeeConfiguration(svc.FeeConfigs, logg))
		})
	})

	return r
}
