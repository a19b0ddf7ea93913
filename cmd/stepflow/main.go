package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/stepflow/internal/analytics"
	"github.com/djlord-it/stepflow/internal/api"
	"github.com/djlord-it/stepflow/internal/catalog"
	"github.com/djlord-it/stepflow/internal/circuitbreaker"
	"github.com/djlord-it/stepflow/internal/config"
	"github.com/djlord-it/stepflow/internal/dispatcher"
	"github.com/djlord-it/stepflow/internal/domain"
	"github.com/djlord-it/stepflow/internal/leaderelection"
	"github.com/djlord-it/stepflow/internal/metrics"
	"github.com/djlord-it/stepflow/internal/recovery"
	"github.com/djlord-it/stepflow/internal/scheduler"
	"github.com/djlord-it/stepflow/internal/stats"
	"github.com/djlord-it/stepflow/internal/store/postgres"
	"github.com/djlord-it/stepflow/internal/transport/channel"
	"github.com/djlord-it/stepflow/internal/trigger"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`stepflow - delayed multi-step communication workflows

Usage:
  stepflow <command>

Commands:
  serve      Start the trigger API, step scheduler and recovery sweep
  validate   Validate configuration and the sequence catalog
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for outcome analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")
  SEQUENCES_PATH            Sequence catalog file (default: "sequences.json")

  POLL_INTERVAL             Due-step poll interval (default: "5s")
  BATCH_SIZE                Max steps claimed per poll (default: "50")
  WAKE_BUFFER_SIZE          Wake notice buffer size (default: "100")

  CHANNEL_EMAIL_URL         Email delivery webhook endpoint
  CHANNEL_SMS_URL           SMS delivery webhook endpoint
  CHANNEL_CHAT_URL          Chat delivery webhook endpoint
  WEBHOOK_SECRET            HMAC signing secret for deliveries (required)
  WEBHOOK_TIMEOUT           Delivery request timeout (default: "30s")
  CIRCUIT_BREAKER_THRESHOLD Consecutive failures to open a circuit; 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open-circuit cooldown (default: "2m")

  CLAIM_STALE_AFTER         Age before a claim is considered abandoned (default: "10m")
  RECOVERY_ENABLED          Enable the stale-claim recovery sweep (default: "true")
  RECOVERY_CRON             Recovery sweep schedule (default: "*/5 * * * *")
  RECOVERY_BATCH_SIZE       Max claims requeued per cycle (default: "100")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  ANALYTICS_WINDOW          Outcome counter bucket size (default: "1h")
  ANALYTICS_RETENTION       Outcome counter TTL (default: "720h")

  LEADER_LOCK_KEY           Advisory lock key shared by all instances (default: "7420001")
  LEADER_RETRY_INTERVAL     Follower lock retry interval (default: "15s")
  LEADER_HEARTBEAT_INTERVAL Leader connection heartbeat (default: "5s")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	cat, err := catalog.LoadFile(cfg.SequencesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load sequence catalog: %v\n", err)
		return exitInvalidConfig
	}
	log.Printf("stepflow: catalog loaded (%d sequences from %s)", cat.Len(), cfg.SequencesPath)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("stepflow: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	// Metrics sink (optional).
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("stepflow: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("stepflow: METRICS_ENABLED not set; metrics disabled")
	}

	// Wake bus nudges the scheduler when a trigger lands a due step.
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewWakeBus(cfg.WakeBufferSize, busOpts...)

	// Delivery dispatcher with per-channel webhook endpoints.
	endpoints := make(map[domain.Channel]string)
	if cfg.ChannelEmailURL != "" {
		endpoints[domain.ChannelEmail] = cfg.ChannelEmailURL
	}
	if cfg.ChannelSMSURL != "" {
		endpoints[domain.ChannelSMS] = cfg.ChannelSMSURL
	}
	if cfg.ChannelChatURL != "" {
		endpoints[domain.ChannelChat] = cfg.ChannelChatURL
	}
	disp := dispatcher.NewWebhookDispatcher(endpoints, cfg.WebhookSecret, cfg.WebhookTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("stepflow: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	gateway := trigger.New(cat, store).WithWakeEmitter(bus)
	if metricsSink != nil {
		gateway = gateway.WithMetrics(metricsSink)
	}

	sched := scheduler.New(
		scheduler.Config{PollInterval: cfg.PollInterval, BatchSize: cfg.BatchSize},
		store,
		cat,
		disp,
	).WithWakeChannel(bus.Channel())
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	// Outcome analytics if Redis is configured.
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient, analytics.Config{
			Window:    cfg.AnalyticsWindow,
			Retention: cfg.AnalyticsRetention,
		})
		sched = sched.WithAnalytics(sink)
		log.Printf("stepflow: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("stepflow: REDIS_ADDR not set; analytics disabled")
	}

	reporter := stats.New(store)
	apiHandler := api.NewHandler(gateway, store, reporter).WithHealthChecker(db)

	mux := http.NewServeMux()
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("stepflow: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("stepflow: http server error: %v", err)
		}
	}()

	// Separate contexts per component for ordered shutdown.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())

	var schedulerWg sync.WaitGroup
	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		if err := sched.Run(schedulerCtx); err != nil && err != context.Canceled {
			log.Printf("stepflow: scheduler exited: %v", err)
		}
	}()

	// The recovery sweep is a singleton duty: only the elected leader
	// runs it, so overlapping sweeps across nodes never happen.
	var electorWg sync.WaitGroup
	var cancelElector context.CancelFunc

	if cfg.RecoveryEnabled {
		sweeper, err := recovery.New(recovery.Config{
			Schedule:   cfg.RecoveryCron,
			StaleAfter: cfg.ClaimStaleAfter,
			BatchSize:  cfg.RecoveryBatchSize,
		}, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build recovery sweep: %v\n", err)
			cancelScheduler()
			schedulerWg.Wait()
			return exitInvalidConfig
		}
		if metricsSink != nil {
			sweeper = sweeper.WithMetrics(metricsSink)
		}

		var sweepWg sync.WaitGroup
		elector := leaderelection.New(db,
			leaderelection.Config{
				LockKey:           cfg.LeaderLockKey,
				RetryInterval:     cfg.LeaderRetryInterval,
				HeartbeatInterval: cfg.LeaderHeartbeatInterval,
			},
			func(leaderCtx context.Context) {
				sweepWg.Add(1)
				go func() {
					defer sweepWg.Done()
					sweeper.Run(leaderCtx)
				}()
			},
			func() {
				sweepWg.Wait()
			},
		)
		if metricsSink != nil {
			elector = elector.WithMetrics(metricsSink)
		}

		var electorCtx context.Context
		electorCtx, cancelElector = context.WithCancel(context.Background())
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(electorCtx)
		}()
		log.Printf("stepflow: recovery sweep enabled (schedule=%q, stale_after=%s, batch=%d)",
			cfg.RecoveryCron, cfg.ClaimStaleAfter, cfg.RecoveryBatchSize)
	} else {
		log.Println("stepflow: RECOVERY_ENABLED=false; recovery sweep disabled")
	}

	log.Printf("stepflow: started (poll=%s, http=%s)", cfg.PollInterval, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("stepflow: received signal %v, shutting down", received)

	// Phase 1: stop the HTTP server so no new triggers land.
	log.Println("stepflow: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("stepflow: http server shutdown error: %v", err)
	}
	log.Println("stepflow: http server stopped")

	// Phase 2: stop the elector, which demotes and drains the sweep.
	if cancelElector != nil {
		log.Println("stepflow: stopping recovery sweep...")
		cancelElector()
		electorWg.Wait()
		log.Println("stepflow: recovery sweep stopped")
	}

	// Phase 3: stop the scheduler. In-flight steps finish; anything
	// left claimed is picked up by the next leader's sweep.
	log.Println("stepflow: stopping scheduler...")
	cancelScheduler()
	schedulerWg.Wait()
	log.Println("stepflow: scheduler stopped")

	log.Println("stepflow: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	cat, err := catalog.LoadFile(cfg.SequencesPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sequence catalog: %v\n", err)
		return exitInvalidConfig
	}

	fmt.Printf("configuration valid (%d sequences)\n", cat.Len())
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("stepflow version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
