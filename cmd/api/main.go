package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cartforge/commerce/internal/events"
	"github.com/cartforge/commerce/internal/handlers"
	"github.com/cartforge/commerce/internal/payments"
	"github.com/cartforge/commerce/internal/platform/config"
	"github.com/cartforge/commerce/internal/platform/observability"
	"github.com/cartforge/commerce/internal/repositories/postgres"
	"github.com/cartforge/commerce/internal/services"
	"github.com/cartforge/commerce/internal/stream"
)

const sweepInterval = 5 * time.Minute

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("commerce")
	ctx = observability.WithLogger(ctx, logger)
	eventLog := observability.EventLogger(logger)

	cfg, err := config.Load()
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Error(validation))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer func() {
		_ = db.Close()
	}()

	metrics, err := observability.NewMetrics()
	if err != nil {
		logger.Fatal("failed to initialise metrics", zap.Error(err))
	}

	uow, err := postgres.NewUnitOfWork(db)
	if err != nil {
		logger.Fatal("failed to initialise unit of work", zap.Error(err))
	}
	cartRepo := postgres.NewCartRepository(db)
	couponRepo := postgres.NewCouponRepository(db)
	taxRateRepo := postgres.NewTaxRateRepository(db)
	sessionRepo := postgres.NewCheckoutSessionRepository(db)
	orderRepo := postgres.NewOrderRepository(db)
	variantRepo := postgres.NewVariantRepository(db)
	reservationRepo := postgres.NewReservationRepository(db)
	addressRepo := postgres.NewAddressRepository(db)
	intentRepo := postgres.NewPaymentIntentRepository(db)

	var publisher services.CommerceEventPublisher
	var streamPublisher *stream.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		streamPublisher, err = stream.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Fatal("failed to initialise stream publisher", zap.Error(err))
		}
		defer func() {
			_ = streamPublisher.Close()
		}()
		publisher = streamPublisher
	}

	taxEngine, err := services.NewTaxEngine(services.TaxEngineDeps{
		Rates:  taxRateRepo,
		Logger: eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise tax engine", zap.Error(err))
	}

	discountEngine, err := services.NewDiscountEngine(services.DiscountEngineDeps{
		Coupons: couponRepo,
		UoW:     uow,
		Logger:  eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise discount engine", zap.Error(err))
	}

	pricingEngine, err := services.NewPricingEngine(services.PricingEngineDeps{
		Taxes:     taxEngine,
		Discounts: discountEngine,
		Variants:  variantRepo,
		Coupons:   couponRepo,
		Policy: services.PricingPolicy{
			RoundingMode:    services.RoundingMode(cfg.Pricing.RoundingMode),
			RoundingStep:    cfg.Pricing.RoundingStep,
			FallbackTaxRate: cfg.Pricing.FallbackTaxRate,
			DefaultCurrency: cfg.Pricing.DefaultCurrency,
		},
		Metrics: metrics,
		Logger:  eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}

	cartState, err := services.NewCartStateMachine(cartRepo, nil)
	if err != nil {
		logger.Fatal("failed to initialise cart state machine", zap.Error(err))
	}

	paymentState, err := services.NewPaymentIntentStateMachine(services.PaymentIntentStateMachineDeps{
		Intents:      intentRepo,
		Orders:       orderRepo,
		Reservations: reservationRepo,
		Logger:       eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment intent state machine", zap.Error(err))
	}

	gateways := map[string]payments.Gateway{
		services.PaymentMethodCOD: payments.NewCODGateway(payments.CODGatewayConfig{Logger: eventLog}),
	}
	if cfg.Stripe.APIKey != "" {
		stripeGateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey: cfg.Stripe.APIKey,
			Logger: eventLog,
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
		}
		gateways["card"] = stripeGateway
	}

	paymentProcessor, err := services.NewPaymentProcessor(services.PaymentProcessorDeps{
		Intents:  paymentState,
		Gateways: gateways,
		Logger:   eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment processor", zap.Error(err))
	}

	staticShipping, err := services.NewStaticShippingProvider(services.DefaultShippingMethods(), 0)
	if err != nil {
		logger.Fatal("failed to initialise shipping provider", zap.Error(err))
	}
	shipping, err := services.NewBreakerShippingProvider(staticShipping, eventLog)
	if err != nil {
		logger.Fatal("failed to initialise shipping breaker", zap.Error(err))
	}

	checkoutManager, err := services.NewCheckoutSessionManager(services.CheckoutSessionManagerDeps{
		Sessions:   sessionRepo,
		Carts:      cartRepo,
		Addresses:  addressRepo,
		Pricing:    pricingEngine,
		CartState:  cartState,
		Shipping:   shipping,
		SessionTTL: cfg.Checkout.SessionTTL,
		MaxCOD:     cfg.Pricing.MaxCODAmount,
		Logger:     eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout session manager", zap.Error(err))
	}

	inventoryListener, err := services.NewInventoryReservationListener(services.InventoryReservationListenerDeps{
		Variants:     variantRepo,
		Reservations: reservationRepo,
		Publisher:    publisher,
		TTL:          cfg.Inventory.ReservationTTL,
		Logger:       eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise inventory listener", zap.Error(err))
	}

	bus := events.NewBus(eventLog)
	if err := bus.Subscribe("order.created", inventoryListener); err != nil {
		logger.Fatal("failed to subscribe inventory listener", zap.Error(err))
	}

	createOrder, err := services.NewCreateOrderAction(services.CreateOrderActionDeps{
		UoW:       uow,
		Orders:    orderRepo,
		Carts:     cartRepo,
		Coupons:   couponRepo,
		Addresses: addressRepo,
		Pricing:   pricingEngine,
		Discounts: discountEngine,
		CartState: cartState,
		Bus:       bus,
		Publisher: publisher,
		Metrics:   metrics,
		MaxCOD:    cfg.Pricing.MaxCODAmount,
		Currency:  cfg.Pricing.DefaultCurrency,
		Logger:    eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise create order action", zap.Error(err))
	}

	checkoutHandlers, err := handlers.NewCheckoutHandlers(handlers.CheckoutHandlersDeps{
		Carts:       cartRepo,
		Sessions:    sessionRepo,
		Orders:      orderRepo,
		Checkout:    checkoutManager,
		CreateOrder: createOrder,
		Payments:    paymentProcessor,
		Logger:      eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout handlers", zap.Error(err))
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	var sweepWG sync.WaitGroup
	sweepTicker := time.NewTicker(sweepInterval)
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		sweepLogger := logger.Named("sweep")
		for {
			select {
			case <-sweepTicker.C:
				runCtx, cancel := context.WithTimeout(sweepCtx, time.Minute)
				now := time.Now().UTC()
				if expired, err := checkoutManager.ExpireSessions(runCtx, now); err != nil {
					sweepLogger.Error("checkout session sweep error", zap.Error(err))
				} else if expired > 0 {
					sweepLogger.Info("expired checkout sessions", zap.Int("count", expired))
				}
				if released, err := inventoryListener.ReleaseExpired(runCtx, now, 100); err != nil {
					sweepLogger.Error("reservation sweep error", zap.Error(err))
				} else if released > 0 {
					sweepLogger.Info("released expired reservations", zap.Int("count", released))
				}
				cancel()
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	healthHandlers := handlers.NewHealthHandlers(map[string]handlers.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return db.PingContext(ctx) },
	})
	router := handlers.NewRouter(handlers.RouterDeps{
		Health:   healthHandlers,
		Checkout: checkoutHandlers,
		Logger:   logger.Named("http"),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("commerce api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	sweepTicker.Stop()
	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
