package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kaledukampelis/internal/discord"
	"github.com/xenking/kaledukampelis/internal/domain/guard"
	"github.com/xenking/kaledukampelis/internal/domain/newsletter"
	"github.com/xenking/kaledukampelis/internal/domain/notify"
	"github.com/xenking/kaledukampelis/internal/domain/order"
	"github.com/xenking/kaledukampelis/internal/domain/payment"
	"github.com/xenking/kaledukampelis/internal/domain/webhook"
	"github.com/xenking/kaledukampelis/internal/handler"
	"github.com/xenking/kaledukampelis/internal/paypal"
	"github.com/xenking/kaledukampelis/internal/resend"
	"github.com/xenking/kaledukampelis/internal/storage/memory"
	"github.com/xenking/kaledukampelis/internal/storage/postgres"
	"github.com/xenking/kaledukampelis/internal/storage/redis"
	"github.com/xenking/kaledukampelis/internal/storage/upstash"
	"github.com/xenking/kaledukampelis/internal/stripe"
	"github.com/xenking/kaledukampelis/pkg/health"
	"github.com/xenking/kaledukampelis/pkg/httpmiddleware"
)

const serviceName = "kaledukampelis-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	svc, err := build(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gCtx.Done()
		svc.health.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		return nil
	})
	return g.Wait()
}

// service is the wired application: the HTTP handler with its middleware,
// the probes, and the cleanup for opened backends.
type service struct {
	handler http.Handler
	health  *health.Health
	closers []func()
}

func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// build creates every dependency and the HTTP handler. Nothing listens yet.
func build(ctx context.Context, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider, cfg *Config) (_ *service, rerr error) {
	svc := &service{health: health.New()}
	defer func() {
		if rerr != nil {
			svc.close()
		}
	}()

	healthSvc := svc.health
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second), health.Thresholds(3, 1))

	// Dedup state.
	store, closeStore, err := openStore(ctx, lg, cfg, healthSvc)
	if err != nil {
		return nil, err
	}
	svc.closers = append(svc.closers, closeStore)

	claims := guard.New(store, cfg.Timeouts.Store)
	limiter := guard.NewLimiter(store, "rl:nl", guard.NewsletterWindows, cfg.Timeouts.Store)

	// Optional order ledger.
	var (
		ledger order.Repository
		orders order.Finder
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		svc.closers = append(svc.closers, pool.Close)

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
		repo := postgres.NewOrderRepository(pool)
		ledger, orders = repo, repo
		healthSvc.AddReadinessCheck("postgres", cfg.Timeouts.Store, health.PingCheck(pool), health.Soft())
		lg.Info("Order ledger enabled")
	}

	// Staff notifications.
	var (
		orderSender notify.Sender
		announcer   newsletter.Announcer
	)
	if cfg.Discord.WebhookURL != "" {
		orderSender = discord.New(discord.Config{WebhookURL: cfg.Discord.WebhookURL, Timeout: cfg.Timeouts.Notify})
	} else {
		lg.Warn("DISCORD_WEBHOOK_URL not set, order notifications disabled")
	}
	if u := firstNonEmpty(cfg.Discord.NewsletterWebhookURL, cfg.Discord.WebhookURL); u != "" {
		announcer = discord.New(discord.Config{WebhookURL: u, Timeout: cfg.Timeouts.Notify})
	}

	notifyOpts := []notify.Option{
		notify.WithMeter(mp.Meter("notify")),
		notify.WithTimeout(cfg.Timeouts.Notify),
	}
	if ledger != nil {
		notifyOpts = append(notifyOpts, notify.WithLedger(ledger))
	}
	dispatcher, err := notify.NewDispatcher(claims, orderSender, cfg.Dedup.NotifyTTL, notifyOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create dispatcher")
	}

	// Payment providers. Nil interfaces mark a provider as not configured.
	var (
		stripeGateway  payment.StripeGateway
		stripeVerifier webhook.StripeVerifier
		paypalGateway  payment.PayPalGateway
		paypalAPI      webhook.PayPalAPI
	)
	if cfg.Stripe.SecretKey != "" {
		stripeGateway = stripe.New(stripe.Config{
			SecretKey: cfg.Stripe.SecretKey,
			Timeout:   cfg.Timeouts.Provider,
			Logger:    lg,
		})
	} else {
		lg.Warn("STRIPE_SECRET_KEY not set, card payments disabled")
	}
	if cfg.Stripe.WebhookSecret != "" {
		stripeVerifier = stripe.NewVerifier(cfg.Stripe.WebhookSecret)
	}
	if cfg.PayPal.Configured() {
		pp, err := paypal.New(paypal.Config{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			WebhookID:    cfg.PayPal.WebhookID,
			BaseURL:      cfg.PayPal.BaseURL(),
			Timeout:      cfg.Timeouts.Provider,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create paypal client")
		}
		paypalGateway, paypalAPI = pp, pp
	} else {
		lg.Warn("PayPal credentials not set, PayPal payments disabled")
	}

	fee, err := cfg.PayPal.Fee()
	if err != nil {
		return nil, err
	}
	payments := payment.NewService(payment.Config{
		Pricing:   cfg.Pricing.Policy(),
		Fee:       fee,
		PublicURL: cfg.PublicURL,
		Timeout:   cfg.Timeouts.Provider,
	}, stripeGateway, paypalGateway)

	webhooks, err := webhook.NewService(webhook.Config{
		EventTTL: cfg.Dedup.EventTTL,
		Timeout:  cfg.Timeouts.Provider,
		Tracer:   tp.Tracer("webhook"),
		Meter:    mp.Meter("webhook"),
	}, stripeVerifier, paypalAPI, claims, dispatcher)
	if err != nil {
		return nil, errors.Wrap(err, "create webhook service")
	}

	// Newsletter.
	var mailer newsletter.Mailer
	if cfg.Resend.APIKey != "" {
		rc, err := resend.New(resend.Config{
			APIKey:  cfg.Resend.APIKey,
			From:    cfg.Resend.From,
			To:      cfg.Newsletter.Inbox,
			Timeout: cfg.Timeouts.Provider,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create resend client")
		}
		mailer = rc
	}
	subscriptions, err := newsletter.NewService(newsletter.Config{
		DedupTTL: cfg.Dedup.NewsletterTTL,
		Timeout:  cfg.Timeouts.Provider,
		Meter:    mp.Meter("newsletter"),
	}, mailer, announcer, limiter, claims)
	if err != nil {
		return nil, errors.Wrap(err, "create newsletter service")
	}

	// HTTP.
	h := handler.NewHandler(
		handler.HandlerConfig{DevEndpoints: cfg.DevEndpoints},
		payments,
		webhooks,
		dispatcher,
		subscriptions,
		orders,
	)
	router := h.Router()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	svc.handler = middleware(ctx, lg, cfg, tp, mp, router)
	return svc, nil
}

// openStore picks the dedup backend: Redis, then Upstash REST, then process
// memory.
func openStore(ctx context.Context, lg *zap.Logger, cfg *Config, healthSvc *health.Health) (guard.Store, func(), error) {
	switch {
	case cfg.RedisURL != "":
		client, err := redis.NewClient(ctx, cfg.RedisURL, cfg.Timeouts.Store)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect redis")
		}
		s := redis.New(client)
		healthSvc.AddReadinessCheck("redis", cfg.Timeouts.Store, health.PingCheck(s), health.Soft())
		lg.Info("Using Redis dedup store")
		return s, func() { _ = client.Close() }, nil
	case cfg.Upstash.URL != "":
		s := upstash.New(upstash.Config{
			URL:     cfg.Upstash.URL,
			Token:   cfg.Upstash.Token,
			Timeout: cfg.Timeouts.Store,
		})
		healthSvc.AddReadinessCheck("upstash", cfg.Timeouts.Store, health.PingCheck(s), health.Soft())
		lg.Info("Using Upstash dedup store")
		return s, func() {}, nil
	default:
		s := memory.New()
		s.StartJanitor(ctx, time.Minute)
		lg.Warn("No shared store configured, dedup state is per process")
		return s, func() {}, nil
	}
}

// middleware wraps the router. The first middleware is outermost.
func middleware(ctx context.Context, lg *zap.Logger, cfg *Config, tp trace.TracerProvider, mp metric.MeterProvider, router *chi.Mux) http.Handler {
	find := httpmiddleware.MakeRouteFinder(router)
	return httpmiddleware.Wrap(router,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.Instrument(serviceName, find, tp, mp),
		httpmiddleware.LogRequests(find),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", httpmiddleware.RequestIDHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   skipRateLimit,
		}),
	)
}

// skipRateLimit exempts provider webhooks, which retry on 429, and probes.
func skipRateLimit(r *http.Request) bool {
	switch {
	case strings.HasSuffix(r.URL.Path, "-webhook"):
		return true
	case r.URL.Path == "/livez", r.URL.Path == "/readyz":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
