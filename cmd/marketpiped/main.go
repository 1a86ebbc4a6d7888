package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/marketpipe/internal/api/ws"
	"github.com/quantfold/marketpipe/internal/dataset"
	"github.com/quantfold/marketpipe/internal/infrastructure/config"
	"github.com/quantfold/marketpipe/internal/infrastructure/logging"
	"github.com/quantfold/marketpipe/internal/infrastructure/monitoring"
	"github.com/quantfold/marketpipe/internal/infrastructure/server"
	"github.com/quantfold/marketpipe/internal/persist"
	"github.com/quantfold/marketpipe/internal/resilience"
)

func main() {
	cfg := config.LoadOrDefault()

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		log = logging.NewDefault()
	}
	defer log.Sync()

	log.Info("starting marketpipe",
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.String("port", cfg.Server.Port),
	)

	metrics := monitoring.NewMetrics()
	hub := ws.NewHub(log)

	manager, err := buildManager(cfg, metrics, hub, log)
	if err != nil {
		log.Fatal("failed to build resilience manager", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		log.Fatal("failed to create data dir", zap.Error(err))
	}
	records, err := persist.LoadRecords(filepath.Join(cfg.Storage.DataDir, cfg.Storage.RecordsFile))
	if err != nil {
		log.Fatal("failed to load integrity records", zap.Error(err))
	}

	verifier := persist.NewVerifier()
	writer := persist.NewWriter(verifier, records, log, persist.WithObserver(func(res persist.WriteResult) {
		metrics.RecordWrite(res.Success, res.BytesWritten)
		metrics.RecordLockWait(res.LockWait)
	}))
	store, err := dataset.NewStore(cfg.Storage.DataDir, writer)
	if err != nil {
		log.Fatal("failed to open dataset store", zap.Error(err))
	}
	recovery := persist.NewRecovery(verifier, records, log)
	recovery.OnResult(metrics.RecordRecovery)
	sweep := persist.NewSweep(
		cfg.Storage.DataDir,
		cfg.Storage.SweepPatterns,
		cfg.Storage.SweepInterval,
		recovery,
		log,
	)
	sweep.OnReport(func(r persist.SweepReport) {
		metrics.RecordSweep(r.Checked, r.Corrupted)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweep.Run(ctx)
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.UpdateUptime()
			}
		}
	}()

	srv := server.New(cfg, server.Deps{
		Manager:  manager,
		Store:    store,
		Records:  records,
		Sweep:    sweep,
		Recovery: recovery,
		Hub:      hub,
		Metrics:  metrics,
	}, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Close(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	hub.Close()
	log.Info("marketpipe stopped")
}

// buildManager wires the resilience registry with env defaults, the optional
// policy file, and the metrics/stream fanout on breaker transitions.
func buildManager(cfg *config.Config, metrics *monitoring.Metrics, hub *ws.Hub, log *logging.Logger) (*resilience.Manager, error) {
	opts := []resilience.Option{
		resilience.WithDefaults(resilience.BreakerConfig{
			FailureThreshold: cfg.Resilience.FailureThreshold,
			RecoveryTimeout:  cfg.Resilience.RecoveryTimeout,
			SuccessThreshold: cfg.Resilience.SuccessThreshold,
			CallTimeout:      cfg.Resilience.CallTimeout,
		}),
		resilience.WithRetry(resilience.RetryConfig{
			MaxRetries:   cfg.Resilience.MaxRetries,
			InitialDelay: cfg.Resilience.InitialDelay,
			MaxDelay:     cfg.Resilience.MaxDelay,
		}),
		resilience.WithStateChange(func(name string, from, to resilience.State) {
			log.Warn("breaker state change",
				zap.String("resource", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetBreakerState(name, stateGauge(to))
			hub.Broadcast(ws.Event{
				Type:     "state_change",
				Resource: name,
				From:     from.String(),
				To:       to.String(),
				At:       time.Now().UTC(),
			})
		}),
	}

	if cfg.Resilience.PolicyFile != "" {
		policies, err := resilience.LoadPolicies(cfg.Resilience.PolicyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, resilience.WithPolicies(policies))
	}

	return resilience.NewManager(opts...), nil
}

func stateGauge(s resilience.State) float64 {
	switch s {
	case resilience.StateHalfOpen:
		return 1
	case resilience.StateOpen:
		return 2
	default:
		return 0
	}
}
