package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"equipment-maintops/internal/audit"
	"equipment-maintops/internal/config"
	"equipment-maintops/internal/eventing"
	eventingrepo "equipment-maintops/internal/eventing/infrastructure/postgres"
	"equipment-maintops/internal/maintops/application"
	maintops "equipment-maintops/internal/maintops/domain"
	"equipment-maintops/internal/maintops/infrastructure/memory"
	maintopsrepo "equipment-maintops/internal/maintops/infrastructure/postgres"
	"equipment-maintops/internal/maintops/interfaces/export"
	"equipment-maintops/internal/maintops/notify"
	"equipment-maintops/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := eventing.NewInMemoryBus()
	bus.Subscribe(eventing.EventTypeOf[application.CorrelationUpdated](), logCorrelationWarnings(logger.Named("events")))

	var (
		store       maintops.Store
		publisher   eventing.Publisher = bus
		db          *sql.DB
		dispatcher  *eventing.Dispatcher
		outboxStore *eventingrepo.OutboxStore
		auditLog    audit.Logger
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db open error", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("db ping error", zap.Error(err))
		}

		pgStore, err := maintopsrepo.NewStore(db, maintopsrepo.WithLogger(logger.Named("store")))
		if err != nil {
			logger.Fatal("store error", zap.Error(err))
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			logger.Fatal("schema error", zap.Error(err))
		}
		outboxStore = eventingrepo.NewOutboxStore(db)
		if err := outboxStore.EnsureTable(ctx); err != nil {
			logger.Fatal("outbox table error", zap.Error(err))
		}
		auditRepo := audit.NewRepository(db)
		if err := auditRepo.EnsureTable(ctx); err != nil {
			logger.Fatal("audit table error", zap.Error(err))
		}
		dispatcher = eventing.NewDispatcher(bus, outboxStore, logger.Named("outbox"))
		outboxPublisher, err := eventing.NewOutboxPublisher(outboxStore, dispatcher)
		if err != nil {
			logger.Fatal("outbox publisher error", zap.Error(err))
		}
		store, publisher, auditLog = pgStore, outboxPublisher, auditRepo
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store = memory.NewStore()
	}

	audit.NewRecorder(auditLog, logger.Named("audit")).Subscribe(bus)
	if cfg.Notify.WebhookURL != "" {
		notifier, err := newNotifier(cfg.Notify, logger.Named("notify"))
		if err != nil {
			logger.Fatal("notifier error", zap.Error(err))
		}
		notifier.Subscribe(bus)
	}
	// Drain whatever a previous run left pending.
	if err := dispatcher.Dispatch(ctx, 0); err != nil {
		logger.Warn("outbox dispatch error", zap.Error(err))
	}
	if outboxStore != nil {
		if counts, err := outboxStore.CountByState(ctx); err != nil {
			logger.Warn("outbox count error", zap.Error(err))
		} else {
			logger.Info("outbox state", zap.Any("counts", counts))
		}
	}

	metrics.Init(db, logger.Named("metrics"))

	service, err := application.NewService(store,
		application.WithLogger(logger.Named("maintops")),
		application.WithPublisher(publisher),
		application.WithRecomputeConcurrency(cfg.Recompute.Concurrency),
	)
	if err != nil {
		logger.Fatal("service error", zap.Error(err))
	}

	if err := seedCatalog(ctx, service, cfg, logger); err != nil {
		logger.Fatal("catalog seed error", zap.Error(err))
	}

	if cfg.Recompute.Enabled {
		if err := service.RecomputeInstances(ctx, cfg.Recompute.Instances...); err != nil {
			logger.Error("recompute error", zap.Error(err))
		}
	}

	if len(cfg.Reports.Formats) > 0 {
		if err := writeReports(ctx, service, cfg.Reports, logger); err != nil {
			logger.Error("report error", zap.Error(err))
		}
	}

	if cfg.MetricsAddr == "" {
		return
	}
	if err := serveMetrics(ctx, cfg.MetricsAddr, logger); err != nil {
		logger.Fatal("metrics server error", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(parsed)
	return logConfig.Build()
}

func newNotifier(cfg config.NotifyConfig, logger *zap.Logger) (*notify.Notifier, error) {
	channel, err := notify.NewWebhookChannel(cfg.WebhookURL)
	if err != nil {
		return nil, err
	}
	template, err := notify.NewTemplate(cfg.Template)
	if err != nil {
		return nil, err
	}
	return notify.NewNotifier(channel, template,
		notify.WithLogger(logger),
		notify.WithCooldown(cfg.Cooldown),
		notify.WithDedupeWindow(cfg.DedupeWindow),
	)
}

func seedCatalog(ctx context.Context, service *application.Service, cfg config.Config, logger *zap.Logger) error {
	for _, instance := range cfg.EquipmentInstances {
		if err := service.RegisterEquipmentInstance(ctx, instance); err != nil {
			return err
		}
	}
	for _, name := range cfg.ProblemTypes {
		if _, err := service.RegisterProblemType(ctx, name); err != nil {
			return err
		}
	}
	problemTypes, err := service.ListProblemTypes(ctx)
	if err != nil {
		return err
	}
	logger.Info("problem type catalog ready", zap.Int("problem_types", len(problemTypes)))
	status, err := service.EnsureDefaultStatus(ctx)
	if err != nil {
		return err
	}
	logger.Info("default diagnosis status ready", zap.Int64("status_id", status.ID), zap.String("name", status.Name))
	for _, stage := range cfg.Statuses {
		if _, err := service.RegisterStatus(ctx, stage.Index, stage.Name); err != nil {
			return err
		}
	}
	return nil
}

func writeReports(ctx context.Context, service *application.Service, cfg config.ReportConfig, logger *zap.Logger) error {
	instances := cfg.Instances
	if len(instances) == 0 {
		registered, err := service.ListEquipmentInstances(ctx)
		if err != nil {
			return err
		}
		for _, instance := range registered {
			instances = append(instances, instance.ID)
		}
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, instanceID := range instances {
		report, err := export.Collect(ctx, service, instanceID, now)
		if err != nil {
			return err
		}
		for _, format := range cfg.Formats {
			var data []byte
			switch format {
			case "xlsx":
				data, err = export.BuildAlertReportXLSX(report)
			case "pdf":
				data, err = export.BuildAlertReportPDF(report)
			default:
				err = fmt.Errorf("unsupported report format %q", format)
			}
			if err != nil {
				return err
			}
			path := filepath.Join(cfg.Dir, fmt.Sprintf("%s-alert-report.%s", instanceID, format))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			logger.Info("report written", zap.String("equipment_instance", instanceID), zap.String("path", path))
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func logCorrelationWarnings(logger *zap.Logger) eventing.EventHandler {
	return func(ctx context.Context, env eventing.Envelope) error {
		event, err := eventing.DecodePayload[application.CorrelationUpdated](env)
		if err != nil {
			return err
		}
		for _, warning := range event.Warnings {
			logger.Warn("correlation consistency warning",
				zap.String("event_id", env.EventID),
				zap.String("correlation_id", env.CorrelationID),
				zap.String("warning", warning))
		}
		return nil
	}
}
