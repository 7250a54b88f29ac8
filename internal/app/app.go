// Package app wires the five Custodes pillars — Dextera, Aedituus,
// Obsidian, Atlas, and Tutela — into a running service.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/custodes-trust/custodes/internal/auth"
	"github.com/custodes-trust/custodes/internal/config"
	"github.com/custodes-trust/custodes/internal/httpserver"
	"github.com/custodes-trust/custodes/internal/platform"
	"github.com/custodes-trust/custodes/internal/telemetry"
	"github.com/custodes-trust/custodes/pkg/detector"
	"github.com/custodes-trust/custodes/pkg/ledger"
	"github.com/custodes-trust/custodes/pkg/notify"
	"github.com/custodes-trust/custodes/pkg/passport"
	"github.com/custodes-trust/custodes/pkg/policy"
	"github.com/custodes-trust/custodes/pkg/registry"
)

// Run starts Custodes in the mode named by cfg.Mode: "api" serves the HTTP
// surface for all five pillars, "worker" runs the background sealers and
// watchdogs with no HTTP surface at all.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	p, err := wirePillars(pool, rdb, cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring pillars: %w", err)
	}

	if err := p.detectorStore.SeedDefaultRules(ctx); err != nil {
		logger.Warn("seeding default detection rules", "error", err)
	}

	switch cfg.Mode {
	case "worker":
		return runWorker(ctx, p, logger)
	default:
		return runAPI(ctx, cfg, pool, rdb, p, logger)
	}
}

// pillars holds every constructed service, plus the raw stores the worker
// mode's background loops need direct access to.
type pillars struct {
	passportSvc *passport.Service
	policySvc   *policy.Service
	ledgerSvc   *ledger.Ledger
	registrySvc *registry.Service
	detectorSvc *detector.Service
	notifier    *notify.Notifier

	detectorStore *detector.DBStore
	watchdog      *registry.Watchdog
}

// ledgerCommitAdapter satisfies every pillar's narrow, flat-signature
// ObsidianSink by wrapping the real Ledger's structured Commit, keeping
// pillars decoupled from the ledger's concrete types.
type ledgerCommitAdapter struct {
	l *ledger.Ledger
}

func (a ledgerCommitAdapter) Commit(ctx context.Context, eventType, subjectID, passportID, institutionID, targetID, targetType string, metadata map[string]string) error {
	_, err := a.l.Commit(ctx, ledger.CommitEventRequest{
		EventType:     eventType,
		SubjectID:     subjectID,
		PassportID:    passportID,
		InstitutionID: institutionID,
		TargetID:      targetID,
		TargetType:    targetType,
		Metadata:      metadata,
	})
	return err
}

// detectorLedgerAdapter extends ledgerCommitAdapter with the evidence-package
// generation Tutela's ObsidianSink additionally requires.
type detectorLedgerAdapter struct {
	ledgerCommitAdapter
}

func (a detectorLedgerAdapter) GenerateEvidencePackage(ctx context.Context, kind, id string) (string, error) {
	pkg, err := a.l.GenerateEvidencePackage(ctx, kind, id)
	if err != nil {
		return "", err
	}
	return pkg.PackageID.String(), nil
}

// dexteraSinkAdapter satisfies detector.DextraSink by delegating to Dextera's
// Ban, without Tutela importing pkg/passport directly.
type dexteraSinkAdapter struct {
	svc *passport.Service
}

func (a dexteraSinkAdapter) BanSubject(ctx context.Context, subjectID, reason, by string) error {
	return a.svc.Ban(ctx, subjectID, reason, by, true)
}

// incidentSinkAdapter satisfies notify.IncidentSink by delegating to Tutela,
// converting its []Incident into notify's primitive-typed summaries.
type incidentSinkAdapter struct {
	svc *detector.Service
}

func (a incidentSinkAdapter) MarkFalsePositive(ctx context.Context, incidentID, by, notes string) error {
	return a.svc.MarkFalsePositive(ctx, incidentID, by, notes)
}

func (a incidentSinkAdapter) ActiveIncidents(ctx context.Context) ([]notify.IncidentSummary, error) {
	incidents, err := a.svc.ActiveIncidents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]notify.IncidentSummary, len(incidents))
	for i, inc := range incidents {
		out[i] = notify.IncidentSummary{
			IncidentID:  inc.IncidentID,
			JobID:       inc.JobID,
			Severity:    string(inc.Severity),
			ActionTaken: string(inc.ActionTaken),
		}
	}
	return out, nil
}

func wirePillars(pool *pgxpool.Pool, rdb *redis.Client, cfg *config.Config, logger *slog.Logger) (*pillars, error) {
	ledgerStore := ledger.NewStore(pool)
	ledgerSigner := ledger.NewHMACSigner(cfg.LedgerSigningKeyPEM)
	ledgerSvc := ledger.New(ledgerStore, pool, ledgerSigner, cfg.LedgerInstanceID, cfg.LedgerMerkleBlockSize, logger)
	commitSink := ledgerCommitAdapter{l: ledgerSvc}

	passportSigner, err := passportTokenSigner(cfg)
	if err != nil {
		return nil, fmt.Errorf("building passport token signer: %w", err)
	}
	subjects := passport.NewSubjectStore(pool)
	institutions := passport.NewInstitutionStore(pool)
	revocations := passport.NewRevocationStore(rdb)
	signals := passport.NewDBSignalSource(pool)
	passportSvc := passport.NewService(subjects, institutions, revocations, passportSigner, signals, commitSink, passport.Config{
		PassportTTL: time.Duration(cfg.PassportTTLSeconds) * time.Second,
		RefreshTTL:  time.Duration(cfg.PassportRefreshTTLSecs) * time.Second,
		DefaultAud:  cfg.PassportAudience,
	})

	policyStore := policy.NewDBStore(pool)
	policyLimiter := policy.NewRateLimiter(rdb)
	policySvc := policy.NewService(policyStore, policyLimiter, commitSink, policy.Config{
		InstanceID:      cfg.PolicyInstanceID,
		DefaultPolicyID: cfg.PolicyDefaultPolicyID,
		CacheTTL:        time.Duration(cfg.PolicyCacheTTLSeconds) * time.Second,
		RateLimitConfigs: []policy.RateLimitConfig{
			{WindowSeconds: 60, MaxRequests: 120, Scope: policy.RateLimitSubject},
			{WindowSeconds: 60, MaxRequests: 600, Scope: policy.RateLimitInstitution},
		},
	})

	registryStore := registry.NewStore(pool)
	registrySvc := registry.NewService(registryStore, commitSink, registry.Config{
		MaxDiscoveryResults:   cfg.RegistryMaxDiscoveryResults,
		DefaultHeartbeatEvery: time.Duration(cfg.RegistryHeartbeatTimeoutSeconds) * time.Second,
	})
	watchdog := registry.NewWatchdog(registrySvc, registryStore, 15*time.Second, logger)

	notifier := notify.NewNotifier(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)

	detectorStore := detector.NewDBStore(pool)
	detectorSvc := detector.NewService(detectorStore, detectorLedgerAdapter{commitSink}, registrySvc, dexteraSinkAdapter{svc: passportSvc}, notifier, detector.Config{
		SignalEvalInterval:     time.Duration(cfg.DetectorSignalEvalIntervalSeconds) * time.Second,
		RiskScoreWindow:        time.Duration(cfg.DetectorRiskScoreWindowSeconds) * time.Second,
		PowerGracePct:          cfg.DetectorPowerGracePct,
		NetworkBaselineBytesPS: cfg.DetectorNetworkBaselineBytesPerS,
		CryptoPoolDomains:      cfg.DetectorCryptoPoolDomains,
		TorExitIPs:             cfg.DetectorTorExitIPs,
		EnableEmergencyHalt:    cfg.DetectorEnableEmergencyHalt,
	})

	return &pillars{
		passportSvc:   passportSvc,
		policySvc:     policySvc,
		ledgerSvc:     ledgerSvc,
		registrySvc:   registrySvc,
		detectorSvc:   detectorSvc,
		notifier:      notifier,
		detectorStore: detectorStore,
		watchdog:      watchdog,
	}, nil
}

func passportTokenSigner(cfg *config.Config) (*passport.TokenSigner, error) {
	if cfg.PassportSigningAlg == "RS256" {
		return passport.NewRSATokenSigner(cfg.PassportPrivateKeyPEM, cfg.PassportPublicKeyPEM, cfg.PassportIssuer, cfg.PassportAudience)
	}
	return passport.NewHMACTokenSigner(cfg.PassportPrivateKeyPEM, cfg.PassportIssuer, cfg.PassportAudience)
}

// runAPI mounts every pillar's HTTP surface and serves it until ctx is
// cancelled.
func runAPI(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, p *pillars, logger *slog.Logger) error {
	sessionMaxAge, err := time.ParseDuration(cfg.SessionMaxAge)
	if err != nil {
		sessionMaxAge = 24 * time.Hour
	}
	sessionSecret := cfg.SessionSecret
	if sessionSecret == "" {
		sessionSecret = auth.GenerateDevSecret()
		logger.Warn("CUSTODES_SESSION_SECRET not set, generated an ephemeral dev secret")
	}
	sessionMgr, err := auth.NewSessionManager(sessionSecret, sessionMaxAge)
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	operators := auth.NewOperatorStore(pool)
	loginLimiter := auth.NewRateLimiter(rdb, 10, 15*time.Minute)
	authenticator := auth.NewLocalAuthenticator(operators, sessionMgr, loginLimiter, sessionMaxAge)

	metrics := telemetry.NewMetricsRegistry(telemetry.All()...)
	srv := httpserver.NewServer(httpserver.ServerConfig{CORSAllowedOrigins: cfg.CORSAllowedOrigins}, logger, pool, rdb, metrics, sessionMgr)
	srv.MountAuthRoutes(authenticator, sessionMgr, false)

	srv.Router.Mount("/api/v1/passport", passport.NewHandler(p.passportSvc).Routes())
	srv.Router.Mount("/api/v1/policy", policy.NewHandler(p.policySvc).Routes())
	srv.Router.Mount("/api/v1/ledger", ledger.NewHandler(p.ledgerSvc).Routes())
	srv.Router.Mount("/api/v1/registry", registry.NewHandler(p.registrySvc).Routes())
	srv.Router.Mount("/api/v1/detector", detector.NewHandler(p.detectorSvc).Routes())

	notifyHandler := notify.NewHandler(p.notifier, incidentSinkAdapter{svc: p.detectorSvc}, logger, cfg.SlackSigningSecret)
	srv.Router.Mount("/integrations/slack", notifyHandler.Routes())

	srv.AdminRouter.Group(func(r chi.Router) {
		r.Use(auth.RequireMinRole(auth.RoleOperator))
		r.Post("/subjects/{subjectID}/ban", adminBanSubjectHandler(p.passportSvc))
	})

	go p.watchdog.Run(ctx)
	go sealLoop(ctx, p.ledgerSvc, logger)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runWorker runs the ledger sealer and registry watchdog with no HTTP
// surface, for a deployment that splits API and background processing into
// separate processes.
func runWorker(ctx context.Context, p *pillars, logger *slog.Logger) error {
	if err := p.ledgerSvc.RecoverSealer(ctx); err != nil {
		logger.Error("recovering ledger sealer state", "error", err)
	}

	go p.watchdog.Run(ctx)
	sealLoop(ctx, p.ledgerSvc, logger)
	return nil
}

// adminBanSubjectHandler is the operator-facing counterpart to Tutela's
// automated BanSubject response: a platform admin or operator can ban a
// subject directly through the admin API.
func adminBanSubjectHandler(svc *passport.Service) http.HandlerFunc {
	type request struct {
		Reason string `json:"reason"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		subjectID := chi.URLParam(r, "subjectID")
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
		id := auth.FromContext(r.Context())
		by := "unknown"
		if id != nil {
			by = id.Subject
		}
		if err := svc.Ban(r.Context(), subjectID, req.Reason, by, true); err != nil {
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]string{"status": "banned"})
	}
}

// sealLoop periodically seals any buffered ledger entries into a Merkle
// block on a fixed cadence.
func sealLoop(ctx context.Context, l *ledger.Ledger, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.SealBlock(ctx); err != nil {
				logger.Error("sealing ledger block", "error", err)
			}
		}
	}
}
