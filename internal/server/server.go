// Package server sets up the HTTP server with all routes.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/paymesh/paymesh/internal/audit"
	"github.com/paymesh/paymesh/internal/channel"
	"github.com/paymesh/paymesh/internal/circuitbreaker"
	"github.com/paymesh/paymesh/internal/config"
	"github.com/paymesh/paymesh/internal/coordinator"
	"github.com/paymesh/paymesh/internal/health"
	"github.com/paymesh/paymesh/internal/logging"
	"github.com/paymesh/paymesh/internal/metrics"
	"github.com/paymesh/paymesh/internal/oracle"
	"github.com/paymesh/paymesh/internal/payment"
	"github.com/paymesh/paymesh/internal/pending"
	"github.com/paymesh/paymesh/internal/pipeline"
	"github.com/paymesh/paymesh/internal/realtime"
	"github.com/paymesh/paymesh/internal/scamgraph"
	"github.com/paymesh/paymesh/internal/traces"
	"github.com/paymesh/paymesh/internal/trust"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db           *sql.DB // nil if using in-memory stores
	trustStore   trust.Store
	auditQuerier audit.Querier
	auditWriter  *audit.Writer
	natsSink     *audit.NATSSink
	pendingStore pending.Store
	replayer     *pending.Replayer
	baseline     *oracle.BaselineAnomalyOracle // nil when a remote fraud oracle is configured
	scamGraph    scamgraph.Client
	coordinator  *coordinator.Coordinator
	hub          *realtime.Hub
	healthReg    *health.Registry

	router       *gin.Engine
	httpSrv      *http.Server
	cancelRunCtx context.CancelFunc
	tracesStop   func(context.Context) error

	// Test seams: transports and oracles injected before New wires defaults.
	transports []channel.Transport
	phishing   oracle.ScoringOracle
	fraud      oracle.ScoringOracle
	challenger pipeline.Challenger

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTransports injects the channel transports (for testing).
func WithTransports(transports ...channel.Transport) Option {
	return func(s *Server) { s.transports = transports }
}

// WithOracles injects the phishing and fraud oracles (for testing).
func WithOracles(phishing, fraud oracle.ScoringOracle) Option {
	return func(s *Server) {
		s.phishing = phishing
		s.fraud = fraud
	}
}

// WithChallenger injects the SMS challenger (for testing).
func WithChallenger(c pipeline.Challenger) Option {
	return func(s *Server) { s.challenger = c }
}

// New creates a server instance with all subsystems wired.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		healthReg: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL is set, otherwise in-memory.
	var auditPrimary audit.Sink
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		s.db = db
		s.trustStore = trust.NewPostgresStore(db)
		pgSink := audit.NewPostgresSink(db)
		auditPrimary = pgSink
		s.auditQuerier = pgSink
		s.pendingStore = pending.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := db.PingContext(pingCtx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.trustStore = trust.NewMemoryStore()
		memSink := audit.NewMemorySink()
		auditPrimary = memSink
		s.auditQuerier = memSink
		s.pendingStore = pending.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Realtime audit feed.
	s.hub = realtime.NewHub(s.logger)

	// Audit writer: durable primary plus best-effort fan-out.
	fanout := []audit.Sink{realtime.NewFeedSink(s.hub)}
	if cfg.NATSURL != "" {
		natsSink, err := audit.NewNATSSink(cfg.NATSURL, s.logger)
		if err != nil {
			s.logger.Warn("NATS audit fan-out disabled", "error", err)
		} else {
			s.natsSink = natsSink
			fanout = append(fanout, natsSink)
		}
	}
	s.auditWriter = audit.NewWriter(auditPrimary, cfg.AuditBufferSize, s.logger,
		audit.WithFanout(fanout...))
	s.healthReg.Register("audit", s.auditWriter.HealthCheck())

	// Scoring oracles: remote model endpoints when configured, built-in
	// heuristics otherwise.
	if s.phishing == nil {
		if cfg.PhishingOracleURL != "" {
			s.phishing = oracle.NewHTTPOracle(cfg.PhishingOracleURL, cfg.OracleTimeout)
			s.logger.Info("phishing oracle: remote", "url", cfg.PhishingOracleURL)
		} else {
			s.phishing = oracle.NewLexicalPhishingOracle()
			s.logger.Info("phishing oracle: built-in lexical scorer")
		}
	}
	if s.fraud == nil {
		if cfg.FraudOracleURL != "" {
			s.fraud = oracle.NewHTTPOracle(cfg.FraudOracleURL, cfg.OracleTimeout)
			s.logger.Info("fraud oracle: remote", "url", cfg.FraudOracleURL)
		} else {
			baseline := oracle.NewBaselineAnomalyOracle()
			s.baseline = baseline
			s.fraud = baseline
			s.logger.Info("fraud oracle: built-in baseline scorer")
		}
	}
	if s.challenger == nil && cfg.SMSProviderURL != "" {
		s.challenger = pipeline.NewHTTPChallenger(cfg.SMSProviderURL)
		s.logger.Info("sms verification enabled", "provider", cfg.SMSProviderURL)
	}

	// Pipeline.
	params := pipeline.Params{
		WeightPhishing:     cfg.WeightPhishing,
		WeightFraudAnomaly: cfg.WeightFraudAnomaly,
		WeightTrust:        cfg.WeightTrust,
		WeightSms:          cfg.WeightSms,
		ApproveThreshold:   cfg.ApproveThreshold,
		RejectThreshold:    cfg.RejectThreshold,
		CriticalScore:      cfg.CriticalScore,
		OracleTimeout:      cfg.OracleTimeout,
		ChallengeTimeout:   cfg.SmsChallengeTimeout,
	}
	evalOpts := []pipeline.EvaluatorOption{pipeline.WithAuditLog(s.auditWriter)}
	if s.challenger != nil {
		evalOpts = append(evalOpts, pipeline.WithChallenger(s.challenger))
	}
	evaluator := pipeline.NewEvaluator(s.phishing, s.fraud, trust.NewCalculator(), params, s.logger, evalOpts...)

	// Channel stack. The local queue is always last so exhaustion of real
	// channels parks the transaction instead of failing it.
	if s.transports == nil {
		s.transports = []channel.Transport{
			channel.NewInternetTransport(cfg.GatewayURL),
			channel.NewBluetoothTransport(cfg.BluetoothAgentURL),
			channel.NewSMSTransport(cfg.SMSProviderURL),
			channel.NewLocalStoreTransport(s.pendingStore),
		}
	}
	breaker := circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerOpenFor)
	channelRouter := channel.NewRouter(s.transports, cfg.ProbeTimeout, cfg.SendTimeout, s.logger,
		channel.WithBreaker(breaker),
		channel.WithAuditLog(s.auditWriter),
	)

	// Scam graph: Neo4j when configured, in-memory otherwise.
	if cfg.Neo4jURI != "" {
		graphCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		graph, err := scamgraph.NewNeo4jClient(graphCtx, scamgraph.Options{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUser,
			Password: cfg.Neo4jPass,
			Database: cfg.Neo4jDB,
		})
		cancel()
		if err != nil {
			s.logger.Warn("neo4j scam graph unavailable, using in-memory graph", "error", err)
			s.scamGraph = scamgraph.NewMemoryClient()
		} else {
			s.scamGraph = graph
			s.logger.Info("scam graph: neo4j", "uri", cfg.Neo4jURI)
		}
	} else {
		s.scamGraph = scamgraph.NewMemoryClient()
	}

	// Coordinator.
	s.coordinator = coordinator.New(evaluator, s.trustStore, cfg.TrustAlpha, channelRouter, s.logger,
		coordinator.WithScamGraph(s.scamGraph),
		coordinator.WithAuditLog(s.auditWriter),
	)
	s.coordinator.OnSettled = s.recordBaseline

	// Replayer drains the offline queue once connectivity returns.
	s.replayer = pending.NewReplayer(s.pendingStore, channelRouter, cfg.ReplayInterval, s.logger, s.auditWriter)
	s.replayer.OnDelivered = func(_ context.Context, tx *payment.Transaction, _ payment.ChannelType) {
		s.recordBaseline(tx)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) recordBaseline(tx *payment.Transaction) {
	if s.baseline != nil {
		s.baseline.Record(tx.Sender, tx.Amount, tx.CreatedAt)
	}
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(metrics.Middleware())
	s.router.Use(s.contextMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// contextMiddleware seeds the request context with the server logger so
// handlers and downstream packages log consistently.
func (s *Server) contextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := logging.WithLogger(c.Request.Context(), s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method, "path", path, "status", status,
				"latency_ms", latency.Milliseconds(), "client_ip", c.ClientIP())
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method, "path", path, "status", status,
				"latency_ms", latency.Milliseconds())
		default:
			logger.Info("request completed",
				"method", c.Request.Method, "path", path, "status", status,
				"latency_ms", latency.Milliseconds())
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket audit feed for dashboards.
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")
	{
		v1.POST("/transactions", s.submitTransaction)
		v1.GET("/transactions/:id/audit", s.transactionAudit)
		v1.GET("/audit/recent", s.recentAudit)
		v1.GET("/users/:id/trust", s.trustProfile)
		v1.GET("/users/:id/graph", s.scamNeighborhood)
		v1.GET("/pending", s.listPending)
		v1.POST("/pending/replay", s.triggerReplay)
		v1.GET("/feed/stats", s.feedStats)
	}
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	report := s.healthReg.Check(ctx)
	httpStatus := http.StatusOK
	if !report.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, report)
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "PayMesh",
		"description": "Resilient multi-channel payment router with layered security screening",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing init failed", "error", err)
	} else {
		s.tracesStop = stopTraces
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.auditWriter.Run(runCtx)
	go s.hub.Run(runCtx)
	go s.replayer.Run(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Stops the audit writer (which drains its buffer), hub, and replayer.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.natsSink != nil {
		_ = s.natsSink.Close()
	}
	if s.scamGraph != nil {
		if err := s.scamGraph.Close(ctx); err != nil {
			s.logger.Error("scam graph close error", "error", err)
		}
	}
	if s.tracesStop != nil {
		if err := s.tracesStop(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
