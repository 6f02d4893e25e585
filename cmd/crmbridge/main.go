package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fencecraft/crmbridge/cmd/crmbridge/cli"
	"github.com/fencecraft/crmbridge/internal/app"
	"github.com/fencecraft/crmbridge/internal/bitrix"
	"github.com/fencecraft/crmbridge/internal/calculator"
	"github.com/fencecraft/crmbridge/internal/catalog"
	"github.com/fencecraft/crmbridge/internal/comarch"
	"github.com/fencecraft/crmbridge/internal/observability"
	"github.com/fencecraft/crmbridge/internal/orders"
	"github.com/fencecraft/crmbridge/internal/placement"
	"github.com/fencecraft/crmbridge/internal/platform/cache"
	"github.com/fencecraft/crmbridge/internal/platform/db"
	"github.com/fencecraft/crmbridge/internal/platform/idempotency"
	"github.com/fencecraft/crmbridge/internal/pricing"
	"github.com/fencecraft/crmbridge/internal/sqlsvc"
	"github.com/fencecraft/crmbridge/jobs"
	"github.com/fencecraft/crmbridge/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		jobsCLI := cli.NewJobsCLI(redisOpts)
		defer jobsCLI.Close()
		if err := jobsCLI.Run(ctx, os.Stdout, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var pool *pgxpool.Pool
	if cfg.SideStore == app.SideStorePostgres || cfg.IdempotencyStore == app.SideStorePostgres {
		pool, err = db.New(ctx, cfg.PGDSN, cfg.PGMaxConn)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		if err := migrate(ctx, cfg, pool); err != nil {
			logger.Error("migrate postgres", slog.Any("error", err))
			os.Exit(1)
		}
	}

	metrics := observability.NewMetrics()

	portals := bitrix.ParseOrigins(cfg.BitrixPortalOrigin)
	if len(portals) == 0 {
		logger.Warn("BITRIX_PORTAL_ORIGIN is empty, every placement launch will be rejected")
	}
	crm := bitrix.NewClient(cfg.BitrixWebhookURL, bitrix.WithObserver(metrics), bitrix.WithAllowedPortals(portals...))
	tokens := comarch.NewTokenSource(comarch.TokenConfig{
		BaseURL:  cfg.ComarchURL,
		Username: cfg.ComarchUsername,
		Password: cfg.ComarchPassword,
		Margin:   cfg.ComarchTokenMargin,
		Cache:    comarch.NewRedisTokenCache(redisClient, "crmbridge:comarch:token"),
	})
	erp := comarch.NewClient(cfg.ComarchURL, tokens, metrics)
	sqlService := sqlsvc.NewClient(cfg.SQLServiceURL, cfg.SQLServiceToken, metrics)
	pdfClient := report.NewClient(cfg.GotenbergURL)

	catalogService := catalog.NewService(catalog.Config{
		ERP:           erp,
		PriceBook:     sqlService,
		CRM:           crm,
		Cache:         cache.NewJSONCache(redisClient, "catalog", cfg.CatalogCacheTTL),
		Logger:        logger,
		DiscountField: cfg.DiscountField,
	})

	table := calculator.DefaultPriceTable()
	if cfg.PriceTablePath != "" {
		table, err = calculator.LoadPriceTable(cfg.PriceTablePath)
		if err != nil {
			logger.Error("load price table", slog.Any("error", err))
			os.Exit(1)
		}
	}
	jobsClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	calculatorService := calculator.NewService(calculator.NewEngine(table), jobsClient, logger)

	idem, err := idempotencyStore(ctx, cfg, redisClient, pool)
	if err != nil {
		logger.Error("init idempotency store", slog.Any("error", err))
		os.Exit(1)
	}
	ordersService := orders.NewService(orders.Config{
		CRM:         crm,
		Side:        sideStore(cfg, crm, pool, logger),
		Catalog:     catalogService,
		ERP:         erp,
		Credit:      sqlService,
		Renderer:    pdfClient,
		Idempotency: idem,
		Fields: orders.QuoteFields{
			Document:   cfg.DocumentField,
			CompanyNIP: cfg.CompanyNIPField,
		},
		DiskFolderID: cfg.BitrixDiskFolderID,
		Warehouse:    cfg.ComarchWarehouse,
		Logger:       logger,
	})

	csrf := placement.NewCSRFManager(cfg.CSRFSecret)
	sessions := placement.NewStore(redisClient, csrf, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		Sessions:          sessions,
		CSRF:              csrf,
		PlacementHandler:  placement.NewHandler(sessions, placement.NewPortalVerifier(crm, portals, cfg.BitrixMemberID), logger),
		PricingHandler:    pricing.NewHandler(),
		CalculatorHandler: calculator.NewHandler(logger, calculatorService),
		CatalogHandler:    catalog.NewHandler(logger, catalogService),
		OrdersHandler:     orders.NewHandler(logger, ordersService),
		ReportHandler:     report.NewHandler(pdfClient, logger),
		JobHandler:        jobs.NewHandler(inspector, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("side_store", cfg.SideStore))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// migrate creates the tables of the postgres-backed stores in one transaction.
func migrate(ctx context.Context, cfg *app.Config, pool *pgxpool.Pool) error {
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		if cfg.SideStore == app.SideStorePostgres {
			if err := orders.NewPGSideStore(tx).EnsureSchema(ctx); err != nil {
				return err
			}
		}
		if cfg.IdempotencyStore == app.SideStorePostgres {
			return idempotency.NewPGStore(tx).EnsureSchema(ctx)
		}
		return nil
	})
}

func sideStore(cfg *app.Config, crm *bitrix.Client, pool *pgxpool.Pool, logger *slog.Logger) orders.SideStore {
	if cfg.SideStore == app.SideStorePostgres {
		return orders.NewPGSideStore(pool)
	}
	return orders.NewCRMSideStore(crm, orders.FieldSet{
		Packaging:    cfg.PackagingField,
		Verification: cfg.VerificationField,
		Returns:      cfg.ReturnsField,
		Additional:   cfg.AdditionalField,
	}, logger)
}

// idempotencyStore picks the invoice key store. The postgres store drops keys
// past the retention window on startup; Redis expires them itself.
func idempotencyStore(ctx context.Context, cfg *app.Config, client *redis.Client, pool *pgxpool.Pool) (idempotency.Store, error) {
	if cfg.IdempotencyStore == app.SideStorePostgres {
		store := idempotency.NewPGStore(pool)
		if err := store.Cleanup(ctx, cfg.IdempotencyTTL); err != nil {
			return nil, err
		}
		return store, nil
	}
	return idempotency.NewRedisStore(client, cfg.IdempotencyTTL), nil
}
