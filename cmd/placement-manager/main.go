// cmd/placement-manager/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"placement-broker/internal/api"
	"placement-broker/internal/audit"
	"placement-broker/internal/availability"
	"placement-broker/internal/balancegate"
	"placement-broker/internal/common/aws"
	"placement-broker/internal/common/camunda"
	"placement-broker/internal/common/config"
	"placement-broker/internal/common/database"
	"placement-broker/internal/common/logger"
	"placement-broker/internal/common/observability"
	"placement-broker/internal/common/retry"
	"placement-broker/internal/common/zoho"
	"placement-broker/internal/escrow"
	"placement-broker/internal/ledger"
	"placement-broker/internal/notify"
	"placement-broker/internal/store/memory"
	"placement-broker/internal/store/postgres"
	"placement-broker/internal/workflow"
	"placement-broker/pkg/registry"

	cab "placement-broker/internal/workers/credits/check-agency-balance"
	df "placement-broker/internal/workers/credits/deposit-funds"
	cp "placement-broker/internal/workers/placement/create-placement"
	rcr "placement-broker/internal/workers/placement/resolve-candidate-return"
	rva "placement-broker/internal/workers/placement/resolve-visa-approval"
	tp "placement-broker/internal/workers/placement/transition-placement"
)

// stores groups the record stores behind the selected storage driver.
type stores struct {
	credits interface {
		ledger.Store
		workflow.ReservedLister
	}
	placements workflow.PlacementStore
	fees       escrow.Store
	contacts   notify.ContactDirectory
}

func connectPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting placement manager",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
		zap.String("storage", cfg.Storage.Driver),
	)

	if err := run(cfg, log); err != nil {
		zapLog.Fatal("placement manager stopped with error", zap.Error(err))
	}
	zapLog.Info("placement manager stopped")
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs := observability.New(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint, log)
	defer obs.Shutdown(context.Background())

	checks := map[string]api.ReadinessCheck{}

	// --- Redis (maid availability) ---
	rdb := database.NewRedis(cfg.Database.Redis)
	if err := retry.WithBackoff(ctx, connectPolicy(10), log, "redis connection", rdb.Ping); err != nil {
		return fmt.Errorf("redis unavailable: %w", err)
	}
	defer rdb.Close()
	checks["redis"] = rdb.Ping
	log.Info("redis connected", nil)

	// --- Record stores ---
	st, closeStores, err := openStores(ctx, cfg, log, checks)
	if err != nil {
		return err
	}
	defer closeStores()

	// --- Ledger audit trail ---
	var auditSink *audit.Sink
	if cfg.Database.Elasticsearch.Enabled() {
		auditSink, err = openAuditSink(ctx, cfg, log, checks)
		if err != nil {
			return err
		}
	}

	ledgerOpts := ledger.Options{
		Store:              st.credits,
		Logger:             log,
		MaxConflictRetries: cfg.Ledger.MaxConflictRetries,
		HistoryLimit:       cfg.Ledger.HistoryLimit,
	}
	if auditSink != nil {
		ledgerOpts.Audit = auditSink
	}
	creditLedger := ledger.New(ledgerOpts)

	gate, err := balancegate.NewFromConfig(creditLedger, cfg.Fees, log)
	if err != nil {
		return fmt.Errorf("invalid fee configuration: %w", err)
	}

	tracker := escrow.NewTracker(escrow.Options{
		Store:         st.fees,
		Ledger:        creditLedger,
		Logger:        log,
		HoldingPeriod: cfg.EscrowHoldingPeriod(),
	})

	maids := availability.NewGate(rdb.Client, cfg.Database.Redis.KeyPrefix, log)

	dispatcher, err := newDispatcher(ctx, cfg, st.contacts, log)
	if err != nil {
		return err
	}

	threshold, err := decimal.NewFromString(cfg.Ledger.LowBalanceThreshold)
	if err != nil {
		return fmt.Errorf("invalid ledger.low_balance_threshold %q: %w", cfg.Ledger.LowBalanceThreshold, err)
	}

	wfOpts := workflow.Options{
		Placements:          st.placements,
		Ledger:              creditLedger,
		Escrow:              tracker,
		Availability:        maids,
		Balance:             gate,
		Logger:              log,
		Observability:       obs,
		LowBalanceThreshold: threshold,
		StepRetry: retry.Policy{
			MaxAttempts:  cfg.Workflow.StepRetries,
			InitialDelay: config.GetDuration(cfg.Workflow.StepRetryDelay),
			MaxDelay:     10 * config.GetDuration(cfg.Workflow.StepRetryDelay),
		},
	}
	if dispatcher != nil {
		wfOpts.Notifier = dispatcher
	}
	service := workflow.NewService(wfOpts)

	sweeper := workflow.NewSweeper(workflow.SweeperOptions{
		Service:       service,
		Credits:       st.credits,
		Logger:        log,
		TrialDuration: cfg.TrialDuration(),
		ExpiryPolicy:  cfg.Escrow.ExpiryPolicy,
		BatchSize:     cfg.Sweeps.BatchSize,
		Schedules:     cfg.Sweeps,
	})

	// --- Zeebe job workers ---
	var workers []*camunda.CamundaWorker
	if cfg.Camunda.Enabled {
		zeebe, err := camunda.Connect(ctx, camunda.ConfigFrom(cfg.Camunda), log)
		if err != nil {
			return fmt.Errorf("zeebe unavailable: %w", err)
		}
		defer zeebe.Close()
		checks["zeebe"] = zeebe.HealthCheck

		workers, err = startWorkers(cfg, zeebe, service, creditLedger, gate, log)
		if err != nil {
			return err
		}
	} else {
		log.Info("zeebe workers disabled", nil)
	}

	// --- HTTP surface ---
	server := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           api.NewRouter(api.NewHandler(creditLedger, gate, checks, log), log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", map[string]interface{}{"address": cfg.HTTP.Address})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.HTTP.ShutdownTimeout))
		defer cancel()
		err := server.Shutdown(shutdownCtx)

		for _, w := range workers {
			w.Stop()
		}
		sweeper.Stop()
		if dispatcher != nil {
			dispatcher.Wait()
		}
		if auditSink != nil {
			auditSink.Close()
		}
		return err
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg *config.Config, log logger.Logger, checks map[string]api.ReadinessCheck) (*stores, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("using in-memory record stores; state is lost on restart", nil)
		mem := memory.NewStores()
		return &stores{
			credits:    mem.Credits,
			placements: mem.Placements,
			fees:       mem.Fees,
			contacts:   mem.Contacts,
		}, func() {}, nil

	case "postgres":
		var pg *database.PostgresClient
		err := retry.WithBackoff(ctx, connectPolicy(15), log, "postgres connection", func(ctx context.Context) error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		if cfg.Database.Postgres.AutoMigrate {
			if err := postgres.Migrate(ctx, pg.DB); err != nil {
				pg.Close()
				return nil, nil, err
			}
			log.Info("postgres schema migrated", nil)
		}
		checks["postgres"] = pg.Ping
		log.Info("postgres connected", nil)
		return &stores{
			credits:    postgres.NewCreditStore(pg.DB),
			placements: postgres.NewPlacementStore(pg.DB),
			fees:       postgres.NewFeeStore(pg.DB),
			contacts:   postgres.NewContactStore(pg.DB),
		}, func() { pg.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func openAuditSink(ctx context.Context, cfg *config.Config, log logger.Logger, checks map[string]api.ReadinessCheck) (*audit.Sink, error) {
	es, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
	if err != nil {
		return nil, err
	}
	if err := retry.WithBackoff(ctx, connectPolicy(15), log, "elasticsearch connection", es.Ping); err != nil {
		return nil, fmt.Errorf("elasticsearch unavailable: %w", err)
	}
	checks["elasticsearch"] = es.Ping

	sink := audit.NewSink(audit.Options{
		Client: es.Client,
		Index:  cfg.Database.Elasticsearch.AuditIndex,
		Logger: log,
	})
	if err := sink.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	go sink.Run()
	log.Info("ledger audit sink started", map[string]interface{}{"index": cfg.Database.Elasticsearch.AuditIndex})
	return sink, nil
}

// newDispatcher returns nil when notifications are switched off.
func newDispatcher(ctx context.Context, cfg *config.Config, contacts notify.ContactDirectory, log logger.Logger) (*notify.Dispatcher, error) {
	if !cfg.Notifications.Enabled {
		log.Info("agency notifications disabled", nil)
		return nil, nil
	}

	if cfg.Integrations.Zoho.Enabled {
		contacts = zoho.NewCRMClient(
			cfg.Integrations.Zoho.BaseURL,
			cfg.Integrations.Zoho.OAuthToken,
			config.GetDuration(cfg.Integrations.Zoho.Timeout),
			log,
		)
		log.Info("agency contacts read from zoho crm", nil)
	}

	opts := notify.Options{
		Contacts:  contacts,
		FromEmail: cfg.Integrations.AWS.SES.FromEmail,
		TopicARN:  cfg.Integrations.AWS.SNS.TopicARN,
		Timeout:   config.GetDuration(cfg.Notifications.Timeout),
		Logger:    log,
	}
	if cfg.Integrations.AWS.SES.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("ses client: %w", err)
		}
		opts.SES = sesClient
	}
	if cfg.Integrations.AWS.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("sns client: %w", err)
		}
		opts.SNS = snsClient
	}
	return notify.NewDispatcher(opts), nil
}

func startWorkers(cfg *config.Config, zeebe *camunda.Client, service *workflow.Service, credits *ledger.Ledger, gate *balancegate.Gate, log logger.Logger) ([]*camunda.CamundaWorker, error) {
	timeout := func(taskType string) time.Duration {
		return config.GetDuration(config.GetWorkerConfig(cfg, taskType).Timeout)
	}

	handlers := map[string]camunda.JobHandler{
		cab.TaskType: cab.NewHandler(&cab.Config{Timeout: timeout(cab.TaskType)}, gate, log).Handle,
		df.TaskType:  df.NewHandler(&df.Config{Timeout: timeout(df.TaskType)}, credits, log).Handle,
		cp.TaskType:  cp.NewHandler(&cp.Config{Timeout: timeout(cp.TaskType)}, service, log).Handle,
		tp.TaskType:  tp.NewHandler(&tp.Config{Timeout: timeout(tp.TaskType)}, service, log).Handle,
		rva.TaskType: rva.NewHandler(&rva.Config{Timeout: timeout(rva.TaskType)}, service, log).Handle,
		rcr.TaskType: rcr.NewHandler(&rcr.Config{Timeout: timeout(rcr.TaskType)}, service, log).Handle,
	}

	catalog := registry.Placement()
	var workers []*camunda.CamundaWorker
	for _, taskType := range catalog.TaskTypes() {
		handler, ok := handlers[taskType]
		if !ok {
			return nil, fmt.Errorf("no handler bound for task type %q", taskType)
		}
		if !config.IsWorkerEnabled(cfg, taskType) {
			log.Info("worker disabled", map[string]interface{}{"taskType": taskType})
			continue
		}
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), taskType, config.GetWorkerConfig(cfg, taskType), handler, log))
	}

	log.Info("zeebe workers started", map[string]interface{}{
		"count":          len(workers),
		"catalogVersion": catalog.Version(),
	})
	return workers, nil
}
