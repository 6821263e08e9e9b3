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

	"github.com/stackvest/strategy-sagas/internal/audit"
	auditsqlite "github.com/stackvest/strategy-sagas/internal/audit/sqlite"
	"github.com/stackvest/strategy-sagas/internal/clients"
	"github.com/stackvest/strategy-sagas/internal/clients/fake"
	"github.com/stackvest/strategy-sagas/internal/clients/httpc"
	"github.com/stackvest/strategy-sagas/internal/comms"
	"github.com/stackvest/strategy-sagas/internal/consistency"
	"github.com/stackvest/strategy-sagas/internal/coordinator"
	"github.com/stackvest/strategy-sagas/internal/events"
	"github.com/stackvest/strategy-sagas/internal/gateway/httpx"
	"github.com/stackvest/strategy-sagas/internal/pkg/cache"
	"github.com/stackvest/strategy-sagas/internal/pkg/telemetry"
)

func main() {
	telemetry.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "strategy-orchestrator"))
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	auditLog := audit.NewLog(2000)
	if path := os.Getenv("AUDIT_DB_PATH"); path != "" {
		repo, err := auditsqlite.Open(path)
		if err != nil {
			slog.Error("failed to open audit database", "path", path, "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		auditLog.WithRepository(repo)
	}

	bus := events.NewBus(1000)
	comm := comms.New(auditLog, bus, comms.Config{
		DefaultTimeout: envDuration("CALL_TIMEOUT", 5*time.Second),
		DefaultRetries: 2,
	})
	comm.RegisterClients(buildClients())

	coord := coordinator.New(comm, envDuration("STALL_THRESHOLD", 10*time.Minute))

	consist := consistency.New(comm, auditLog, consistency.Config{
		DefaultTxTTL: envDuration("TX_TTL", 5*time.Minute),
	})
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		redisCache := cache.NewRedisCache(redisAddr, "strategy-sagas")
		consist.WithOpStore(consistency.NewRedisOpStore(redisCache))
	}
	for _, svc := range []string{
		clients.ServiceStrategy,
		clients.ServicePortfolio,
		clients.ServiceExecution,
		clients.ServiceRisk,
		clients.ServiceAccount,
	} {
		// Collaborators expose no real prepare/commit endpoint yet.
		consist.RegisterParticipant(svc, consistency.StubParticipant{})
	}

	go runCleanup(ctx, consist)

	addr := ":" + getEnv("PORT", "8080")
	server := &http.Server{
		Addr:    addr,
		Handler: httpx.NewRouter(httpx.NewHandler(coord, comm)),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("strategy orchestrator running", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

// buildClients picks fakes for local mode or HTTP clients when the
// collaborator URLs are configured.
func buildClients() clients.Set {
	if getEnv("SERVICE_MODE", "fake") == "fake" {
		set, _, _, _, _, _ := fake.NewSet()
		slog.Info("using in-memory fake collaborator services")
		return set
	}

	timeout := envDuration("SERVICE_TIMEOUT", 10*time.Second)
	return clients.Set{
		Strategy:  httpc.NewStrategy(getEnv("STRATEGY_SERVICE_URL", "http://localhost:9091"), timeout),
		Portfolio: httpc.NewPortfolio(getEnv("PORTFOLIO_SERVICE_URL", "http://localhost:9092"), timeout),
		Execution: httpc.NewExecution(getEnv("EXECUTION_SERVICE_URL", "http://localhost:9093"), timeout),
		Risk:      httpc.NewRisk(getEnv("RISK_SERVICE_URL", "http://localhost:9094"), timeout),
		Account:   httpc.NewAccount(getEnv("ACCOUNT_SERVICE_URL", "http://localhost:9095"), timeout),
	}
}

// runCleanup sweeps expired idempotent operations and old terminal
// transactions every 10 minutes.
func runCleanup(ctx context.Context, consist *consistency.Coordinator) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ops, txs := consist.CleanupExpired(ctx)
			if ops > 0 || txs > 0 {
				slog.Info("cleanup pass finished", "operations", ops, "transactions", txs)
			}
		}
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			return d
		}
	}
	return fallback
}
