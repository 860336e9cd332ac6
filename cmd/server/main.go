package main

import (
	"context"
	"database/sql"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"arbor/internal/audit"
	escalationmetrics "arbor/internal/escalation/metrics"
	escalationservice "arbor/internal/escalation/service"
	escalationstore "arbor/internal/escalation/store"
	evaluationmetrics "arbor/internal/evaluation/metrics"
	evaluationservice "arbor/internal/evaluation/service"
	evaluationstore "arbor/internal/evaluation/store"
	"arbor/internal/gardener"
	"arbor/internal/gardener/tracer"
	"arbor/internal/member"
	"arbor/internal/platform/config"
	"arbor/internal/platform/database"
	"arbor/internal/platform/logger"
	proposalmetrics "arbor/internal/proposal/metrics"
	proposalservice "arbor/internal/proposal/service"
	proposalstore "arbor/internal/proposal/store"
	httptransport "arbor/internal/transport/http"
	zonemetrics "arbor/internal/zone/metrics"
	"arbor/internal/zone/resolver"
	zoneservice "arbor/internal/zone/service"
	zonestore "arbor/internal/zone/store"
	"arbor/migrations"
)

const (
	sweepInterval   = time.Minute
	applyBatchLimit = 100
	shutdownTimeout = 10 * time.Second
)

// main wires the governance engine's dependencies and keeps the server
// lifecycle small. Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	log.Info("initializing arbor", "addr", cfg.Addr, "database_configured", cfg.DatabaseURL != "")

	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.DatabaseURL
	pool, err := database.New(dbCfg)
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		if err := applyMigrations(context.Background(), pool.DB()); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close() //nolint:errcheck // best-effort close on shutdown
	}

	deps := buildServices(cfg, pool, log)
	proposalSvc, escalationSvc := deps.proposals, deps.escalations

	var health httptransport.HealthChecker
	if pool != nil {
		health = pool
	}
	handler := httptransport.NewHandler(deps.zones, proposalSvc, escalationSvc,
		deps.evaluations, deps.auditTrail, health, log)
	router := httptransport.NewRouter(handler, []byte(cfg.JWTSigningKey), log)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	go runSweeps(bgCtx, proposalSvc, escalationSvc, log)
	go runSignalApplier(bgCtx, deps.applier, cfg.SignalRetryInterval, log)

	go func() {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server gracefully")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// services groups the wired domain services.
type services struct {
	zones       *zoneservice.Service
	proposals   *proposalservice.Service
	escalations *escalationservice.Service
	evaluations *evaluationservice.Service
	auditTrail  *audit.Recorder
	applier     *evaluationservice.Applier
}

// buildServices wires stores and services, backed by postgres when a database
// is configured and by in-memory stores otherwise. The proposal and
// escalation engines reference each other; the escalator side binds last.
func buildServices(cfg config.Server, pool *database.Pool, log *slog.Logger) services {
	var (
		zones        zonestore.ZoneStore
		assignments  zonestore.AssignmentStore
		proposals    proposalstore.ProposalStore
		approvals    proposalstore.ApprovalStore
		escalations  escalationstore.EscalationStore
		cosigners    escalationstore.CosignerStore
		evaluations  evaluationstore.EvaluationStore
		scores       evaluationstore.ScoreStore
		signals      evaluationstore.SignalStore
		auditStore   audit.Store
		reputations  member.ReputationStore
		stats        gardener.StatsStore
		zoneOpts     []zoneservice.Option
		proposalOpts []proposalservice.Option
		escOpts      []escalationservice.Option
		evalOpts     []evaluationservice.Option
	)

	if pool != nil {
		db := pool.DB()
		zones = zonestore.NewPostgresZoneStore(db)
		assignments = zonestore.NewPostgresAssignmentStore(db)
		proposals = proposalstore.NewPostgresProposalStore(db)
		approvals = proposalstore.NewPostgresApprovalStore(db)
		escalations = escalationstore.NewPostgresEscalationStore(db)
		cosigners = escalationstore.NewPostgresCosignerStore(db)
		evaluations = evaluationstore.NewPostgresEvaluationStore(db)
		scores = evaluationstore.NewPostgresScoreStore(db)
		signals = evaluationstore.NewPostgresSignalStore(db)
		auditStore = audit.NewPostgres(db)
		reputations = member.NewPostgresReputation(db)
		stats = gardener.NewPostgresStatsStore(db)

		zoneOpts = append(zoneOpts, zoneservice.WithStoreTx(newPostgresTx(db)))
		proposalOpts = append(proposalOpts, proposalservice.WithStoreTx(newPostgresTx(db)))
		escOpts = append(escOpts, escalationservice.WithStoreTx(newPostgresTx(db)))
		evalOpts = append(evalOpts, evaluationservice.WithStoreTx(newPostgresTx(db)))
	} else {
		zones = zonestore.NewInMemoryZoneStore()
		assignments = zonestore.NewInMemoryAssignmentStore()
		proposals = proposalstore.NewInMemoryProposalStore()
		approvals = proposalstore.NewInMemoryApprovalStore()
		escalations = escalationstore.NewInMemoryEscalationStore()
		cosigners = escalationstore.NewInMemoryCosignerStore()
		evaluations = evaluationstore.NewInMemoryEvaluationStore()
		scores = evaluationstore.NewInMemoryScoreStore()
		signals = evaluationstore.NewInMemorySignalStore()
		auditStore = audit.NewInMemoryStore()
		reputations = member.NewInMemoryReputationStore()
		stats = gardener.NewInMemoryStatsStore()
	}

	recorder := audit.NewRecorder(auditStore, audit.WithLogger(log))
	perm := resolver.New(zones, assignments)
	candidatePool := gardener.NewPoolBuilder(perm, stats, reputations)

	selectorOpts := []gardener.SelectorOption{gardener.WithSelectorLogger(log)}
	if cfg.ScorerURL != "" {
		scorer := gardener.NewHTTPScorer(cfg.ScorerURL, cfg.ScorerAPIKey,
			gardener.WithScorerTimeout(cfg.ScorerTimeout),
			gardener.WithScorerTracer(tracer.NewOTel()),
		)
		selectorOpts = append(selectorOpts,
			gardener.WithScorer(scorer),
			gardener.WithTracer(tracer.NewOTel()),
		)
	}
	selector := gardener.NewSelector(stats, selectorOpts...)

	zoneSvc := zoneservice.New(zones, assignments, recorder,
		append(zoneOpts,
			zoneservice.WithLogger(log),
			zoneservice.WithMetrics(zonemetrics.New()),
			zoneservice.WithProposalCounter(proposals),
		)...)

	proposalSvc := proposalservice.New(proposals, approvals, zones, perm, candidatePool, selector, recorder,
		append(proposalOpts,
			proposalservice.WithLogger(log),
			proposalservice.WithMetrics(proposalmetrics.New()),
			proposalservice.WithOutcomeSink(stats),
			proposalservice.WithExecutor(proposalservice.NewZoneExecutor(zoneSvc)),
		)...)

	escalationSvc := escalationservice.New(escalations, cosigners, zones, perm, proposalSvc, recorder,
		append(escOpts,
			escalationservice.WithLogger(log),
			escalationservice.WithMetrics(escalationmetrics.New()),
		)...)
	proposalSvc.BindDeadlockEscalator(escalationSvc)

	evaluationSvc := evaluationservice.New(evaluations, scores, signals, zones, assignments, perm, recorder,
		append(evalOpts,
			evaluationservice.WithLogger(log),
			evaluationservice.WithMetrics(evaluationmetrics.New()),
			evaluationservice.WithProposalReader(proposalSvc),
		)...)

	return services{
		zones:       zoneSvc,
		proposals:   proposalSvc,
		escalations: escalationSvc,
		evaluations: evaluationSvc,
		auditTrail:  recorder,
		applier:     evaluationSvc.NewApplier(reputations),
	}
}

// runSweeps expires overdue proposals and re-targets stale escalations.
func runSweeps(ctx context.Context, proposals *proposalservice.Service, escalations *escalationservice.Service, log *slog.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := proposals.SweepExpired(ctx); err != nil {
				log.Warn("proposal sweep failed", "error", err)
			} else if n > 0 {
				log.Info("expired overdue proposals", "count", n)
			}
			if n, err := escalations.SweepStale(ctx); err != nil {
				log.Warn("escalation sweep failed", "error", err)
			} else if n > 0 {
				log.Info("re-targeted stale escalations", "count", n)
			}
		}
	}
}

// runSignalApplier periodically retries unapplied incentive signals.
func runSignalApplier(ctx context.Context, applier *evaluationservice.Applier, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := applier.ApplyPending(ctx, applyBatchLimit); err != nil {
				log.Warn("signal application run failed", "error", err)
			} else if n > 0 {
				log.Info("applied incentive signals", "count", n)
			}
		}
	}
}

// applyMigrations runs the embedded schema files in lexical order. Statements
// are idempotent, so re-running on startup is safe.
func applyMigrations(ctx context.Context, db *sql.DB) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return err
		}
	}
	return nil
}
