package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-engine/api/controllers"
	authcontrollers "github.com/angelmondragon/storefront-engine/api/controllers/auth"
	cartcontrollers "github.com/angelmondragon/storefront-engine/api/controllers/cart"
	regioncontrollers "github.com/angelmondragon/storefront-engine/api/controllers/regions"
	"github.com/angelmondragon/storefront-engine/api/middleware"
	"github.com/angelmondragon/storefront-engine/pkg/config"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	sessions middleware.SessionResolver,
	attempts middleware.AttemptCounter,
	replays middleware.ReplayStore,
	gatherer prometheus.Gatherer,
	readiness map[string]controllers.Pinger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins, cfg.Storefront.SessionHeader),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthLimit.Window,
		cfg.AuthLimit.IPLimit,
		cfg.AuthLimit.EmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthLimit.Window,
		cfg.AuthLimit.IPLimit,
		cfg.AuthLimit.EmailLimit,
	)

	paymentReplay := middleware.Idempotency(replays, middleware.DefaultIdempotencyTTL, logg)
	checkoutReplay := middleware.Idempotency(replays, middleware.CriticalIdempotencyTTL, logg)

	r.Get("/health", controllers.HealthLive(cfg))
	r.Get("/health/live", controllers.HealthLive(cfg))
	r.Get("/health/ready", controllers.HealthReady(cfg, logg, readiness))

	if cfg.FeatureFlags.Metrics && gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Session(sessions, cfg.Storefront.SessionHeader, logg))

		r.Route("/regions", func(r chi.Router) {
			r.Get("/", regioncontrollers.RegionsList(logg))
			r.Post("/reload", regioncontrollers.RegionsReload(logg))
			r.Get("/selection", regioncontrollers.SelectionFetch(logg))
			r.Put("/selection", regioncontrollers.SelectionUpdate(logg))
		})

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartcontrollers.CartFetch(logg))
			r.Post("/", cartcontrollers.CartEnsure(logg))
			r.Delete("/", cartcontrollers.CartClear(logg))
			r.Post("/refresh", cartcontrollers.CartRefresh(logg))
			r.Get("/status", cartcontrollers.CartStatus(logg))

			r.Post("/line-items", cartcontrollers.LineItemAdd(logg))
			r.Patch("/line-items/{lineItemId}", cartcontrollers.LineItemUpdate(logg))
			r.Delete("/line-items/{lineItemId}", cartcontrollers.LineItemRemove(logg))

			r.Put("/shipping-address", cartcontrollers.ShippingAddressSet(logg))
			r.Put("/billing-address", cartcontrollers.BillingAddressSet(logg))
			r.Put("/email", cartcontrollers.EmailSet(logg))
			r.Post("/promotions", cartcontrollers.PromotionApply(logg))
			r.Post("/customer", cartcontrollers.CustomerAssociate(logg))

			r.Get("/shipping-options", cartcontrollers.ShippingOptionsList(logg))
			r.Post("/shipping-methods", cartcontrollers.ShippingMethodAttach(logg))
			r.Get("/payment-providers", cartcontrollers.PaymentProvidersList(logg))
			r.With(paymentReplay).Post("/payment-collection", cartcontrollers.PaymentCollectionEnsure(logg))
			r.With(paymentReplay).Post("/payment-sessions", cartcontrollers.PaymentSessionSelect(logg))
			r.With(checkoutReplay).Post("/complete", cartcontrollers.CheckoutComplete(logg))
		})

		r.Route("/auth", func(r chi.Router) {
			r.With(middleware.AuthRateLimit(loginPolicy, attempts, logg)).Post("/login", authcontrollers.AuthLogin(logg))
			r.With(middleware.AuthRateLimit(registerPolicy, attempts, logg)).Post("/register", authcontrollers.AuthRegister(logg))
			r.Post("/logout", authcontrollers.AuthLogout(logg))
			r.Get("/me", authcontrollers.AuthMe(logg))
		})
	})

	return r
}
