package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nexodus-io/fleetops/internal/auth"
	"github.com/nexodus-io/fleetops/internal/database"
	"github.com/nexodus-io/fleetops/internal/database/migrations"
	"github.com/nexodus-io/fleetops/internal/email"
	"github.com/nexodus-io/fleetops/internal/fflags"
	"github.com/nexodus-io/fleetops/internal/fleet"
	"github.com/nexodus-io/fleetops/internal/handlers"
	"github.com/nexodus-io/fleetops/internal/mutation"
	"github.com/nexodus-io/fleetops/internal/notify"
	"github.com/nexodus-io/fleetops/internal/reports"
	"github.com/nexodus-io/fleetops/internal/routers"
	"github.com/nexodus-io/fleetops/internal/signalbus"
	"github.com/nexodus-io/fleetops/internal/store"
	"github.com/nexodus-io/fleetops/internal/trigger"
	"github.com/nexodus-io/fleetops/internal/util"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.18.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/credentials"
	"gorm.io/gorm"

	"github.com/urfave/cli/v3"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("fleetapi")
}

func main() {
	// Override to capitalize "Show"
	cli.HelpFlag.(*cli.BoolFlag).Usage = "Show help"
	app := &cli.Command{
		Name:  "fleetapi",
		Usage: "Generator fleet maintenance API server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "debug",
				Value:   false,
				Usage:   "Enable debug logging",
				Sources: cli.EnvVars("FLEET_DEBUG"),
			},
			&cli.StringFlag{
				Name:    "listen",
				Value:   "0.0.0.0:8080",
				Usage:   "The address and port to listen for HTTP requests on",
				Sources: cli.EnvVars("FLEET_LISTEN"),
			},
			&cli.StringFlag{
				Name:    "db-driver",
				Value:   database.DriverSqlite,
				Usage:   "Database driver: sqlite or postgres",
				Sources: cli.EnvVars("FLEET_DB_DRIVER"),
			},
			&cli.StringFlag{
				Name:    "sqlite-path",
				Value:   "fleet.db",
				Usage:   "Path of the sqlite database file",
				Sources: cli.EnvVars("FLEET_SQLITE_PATH"),
			},
			&cli.StringFlag{
				Name:    "db-host",
				Value:   "fleet-db",
				Usage:   "Database host name",
				Sources: cli.EnvVars("FLEET_DB_HOST"),
			},
			&cli.StringFlag{
				Name:    "db-port",
				Value:   "5432",
				Usage:   "Database port",
				Sources: cli.EnvVars("FLEET_DB_PORT"),
			},
			&cli.StringFlag{
				Name:    "db-user",
				Value:   "fleet",
				Usage:   "Database user",
				Sources: cli.EnvVars("FLEET_DB_USER"),
			},
			&cli.StringFlag{
				Name:    "db-password",
				Value:   "secret",
				Usage:   "Database password",
				Sources: cli.EnvVars("FLEET_DB_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "db-name",
				Value:   "fleet",
				Usage:   "Database name",
				Sources: cli.EnvVars("FLEET_DB_NAME"),
			},
			&cli.StringFlag{
				Name:    "db-sslmode",
				Value:   "disable",
				Usage:   "Database ssl mode",
				Sources: cli.EnvVars("FLEET_DB_SSLMODE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Value:   "redis://redis:6379/1",
				Usage:   "Redis url, used for record counters when the redis-counters flag is on",
				Sources: cli.EnvVars("FLEET_REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "jwt-key",
				Usage:   "Shared key used to verify HS256 tokens when no OIDC issuer is configured",
				Sources: cli.EnvVars("FLEET_JWT_KEY"),
			},
			&cli.StringFlag{
				Name:    "jwt-issuer",
				Value:   "fleetops",
				Usage:   "Expected issuer of HS256 tokens",
				Sources: cli.EnvVars("FLEET_JWT_ISSUER"),
			},
			&cli.StringFlag{
				Name:    "oidc-issuer",
				Usage:   "OIDC issuer url, tokens are verified against its keys",
				Sources: cli.EnvVars("FLEET_OIDC_ISSUER"),
			},
			&cli.StringFlag{
				Name:    "oidc-client-id",
				Usage:   "Expected audience of OIDC tokens",
				Sources: cli.EnvVars("FLEET_OIDC_CLIENT_ID"),
			},
			&cli.BoolFlag{
				Name:    "insecure-tls",
				Value:   false,
				Usage:   "Trust any TLS certificate",
				Sources: cli.EnvVars("FLEET_INSECURE_TLS"),
			},
			&cli.StringFlag{
				Name:    "keycloak-url",
				Usage:   "Keycloak base url, role and account claims are pushed there when set",
				Sources: cli.EnvVars("FLEET_KEYCLOAK_URL"),
			},
			&cli.StringFlag{
				Name:    "keycloak-realm",
				Value:   "fleetops",
				Usage:   "Keycloak realm holding fleet users",
				Sources: cli.EnvVars("FLEET_KEYCLOAK_REALM"),
			},
			&cli.StringFlag{
				Name:    "keycloak-admin-realm",
				Value:   "master",
				Usage:   "Keycloak realm of the admin account",
				Sources: cli.EnvVars("FLEET_KEYCLOAK_ADMIN_REALM"),
			},
			&cli.StringFlag{
				Name:    "keycloak-admin-user",
				Value:   "admin",
				Usage:   "Keycloak admin user",
				Sources: cli.EnvVars("FLEET_KEYCLOAK_ADMIN_USER"),
			},
			&cli.StringFlag{
				Name:    "keycloak-admin-password",
				Usage:   "Keycloak admin password",
				Sources: cli.EnvVars("FLEET_KEYCLOAK_ADMIN_PASSWORD"),
			},
			&cli.StringFlag{
				Name:     "smtp-host-port",
				Usage:    "SMTP server host:port address",
				Required: false,
				Sources:  cli.EnvVars("FLEET_SMTP_HOST_PORT"),
			},
			&cli.StringFlag{
				Name:     "smtp-user",
				Usage:    "SMTP server user name",
				Required: false,
				Sources:  cli.EnvVars("FLEET_SMTP_USER"),
			},
			&cli.StringFlag{
				Name:     "smtp-password",
				Usage:    "SMTP server password",
				Required: false,
				Sources:  cli.EnvVars("FLEET_SMTP_PASSWORD"),
			},
			&cli.BoolFlag{
				Name:     "smtp-tls",
				Usage:    "Use TLS to connect to the SMTP server",
				Required: false,
				Sources:  cli.EnvVars("FLEET_SMTP_TLS"),
			},
			&cli.StringFlag{
				Name:     "smtp-from",
				Usage:    "The from address to use for emails",
				Required: false,
				Sources:  cli.EnvVars("FLEET_SMTP_FROM"),
			},
			&cli.BoolFlag{
				Name:    "trace-insecure",
				Value:   false,
				Usage:   "Set OTLP endpoint to insecure mode",
				Sources: cli.EnvVars("FLEET_TRACE_INSECURE"),
			},
			&cli.StringFlag{
				Name:    "trace-endpoint",
				Value:   "",
				Usage:   "OTLP endpoint for trace data",
				Sources: cli.EnvVars("FLEET_TRACE_ENDPOINT_OTLP"),
			},
			&cli.StringFlag{
				Name:    "report-timezone",
				Value:   reports.DefaultTimezone,
				Usage:   "Time zone that report days and months are computed in",
				Sources: cli.EnvVars("FLEET_REPORT_TIMEZONE"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Value:   4,
				Usage:   "Number of change trigger workers",
				Sources: cli.EnvVars("FLEET_WORKERS"),
			},
			&cli.IntFlag{
				Name:    "max-watches-per-user",
				Value:   4,
				Usage:   "Concurrent notification watches allowed per user",
				Sources: cli.EnvVars("FLEET_MAX_WATCHES_PER_USER"),
			},
			&cli.FloatFlag{
				Name:    "calls-per-second",
				Value:   0,
				Usage:   "Per user call rate limit, 0 disables it",
				Sources: cli.EnvVars("FLEET_CALLS_PER_SECOND"),
			},
			&cli.IntFlag{
				Name:    "call-burst",
				Value:   20,
				Usage:   "Burst size for the per user call rate limit",
				Sources: cli.EnvVars("FLEET_CALL_BURST"),
			},
			&cli.StringSliceFlag{
				Name:    "origins",
				Usage:   "Trusted Origins for CORS",
				Sources: cli.EnvVars("FLEET_ORIGINS"),
			},
		},

		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, _ = signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
			ctx, span := tracer.Start(ctx, "Run")
			defer span.End()
			withLoggerAndDB(ctx, command, func(logger *zap.Logger, db *gorm.DB, dbConfig database.Config) {
				pprof_init(ctx, command, logger)
				serve(ctx, command, logger, db, dbConfig)
			})
			return nil
		},
	}
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations and exit",
		Action: func(ctx context.Context, command *cli.Command) error {
			// opening the database migrates it
			withLoggerAndDB(ctx, command, func(logger *zap.Logger, db *gorm.DB, _ database.Config) {
				logger.Info("database migrated")
			})
			return nil
		},
	})
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "rollback",
		Usage: "Rollback the last database migration",
		Action: func(ctx context.Context, command *cli.Command) error {

			withLoggerAndDB(ctx, command, func(logger *zap.Logger, db *gorm.DB, _ database.Config) {
				if err := migrations.New().RollbackLast(ctx, db); err != nil {
					log.Fatal(err)
				}
			})
			return nil
		},
	})

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(ctx context.Context, command *cli.Command, logger *zap.Logger, db *gorm.DB, dbConfig database.Config) {
	sugar := logger.Sugar()
	flags := fflags.NewFFlags(sugar)
	wg := &sync.WaitGroup{}

	var signalBus signalbus.SignalBus = signalbus.NewSignalBus()
	if dbConfig.Driver == database.DriverPostgres {
		pgBus := signalbus.NewPgSignalBus(signalBus, db, dbConfig.DSN(), sugar)
		pgBus.Start(ctx, wg)
		signalBus = pgBus
	}

	var storeOpts []store.Option
	if flags.Enabled(fflags.RedisCounters) {
		redisOpts, err := redis.ParseURL(command.String("redis-url"))
		if err != nil {
			log.Fatal(fmt.Errorf("invalid redis-url: %w", err))
		}
		redisClient := redis.NewClient(redisOpts)
		defer util.IgnoreError(redisClient.Close)
		storeOpts = append(storeOpts, store.WithCounters(store.NewRedisCounters(redisClient, "fleet:")))
	}

	dispatcher := store.NewDispatcher(sugar, int(command.Int("workers")))
	st, err := store.NewGormStore(sugar, db, dispatcher, storeOpts...)
	if err != nil {
		log.Fatal(err)
	}

	smtpServer := email.SmtpServer{
		HostPort: command.String("smtp-host-port"),
		User:     command.String("smtp-user"),
		Password: command.String("smtp-password"),
	}
	if command.Bool("smtp-tls") { // #nosec G402
		smtpServer.Tls = &tls.Config{
			InsecureSkipVerify: command.Bool("insecure-tls"),
		}
	}
	mailer := email.SmtpMailer{Server: smtpServer, From: command.String("smtp-from")}
	notifier := notify.NewService(sugar, st, signalBus, notify.WithMailer(mailer, func() bool {
		return flags.Enabled(fflags.EmailCopy)
	}))

	trigger.New(sugar, st, notifier).RegisterAll()
	dispatcher.Start(ctx, wg)
	util.GoWithWaitGroup(wg, func() {
		dispatcher.ReportBacklog(ctx, 15*time.Second, 1000)
	})

	var claims auth.ClaimsManager = auth.NewLocalClaims(sugar)
	if command.String("keycloak-url") != "" {
		claims = auth.NewKeycloakClaims(
			sugar,
			command.String("keycloak-url"),
			command.String("keycloak-realm"),
			command.String("keycloak-admin-realm"),
			command.String("keycloak-admin-user"),
			command.String("keycloak-admin-password"),
		)
	}

	pipeline := mutation.NewPipeline(sugar, st, time.Now)
	fleetService := fleet.NewService(sugar, pipeline, notifier, claims)

	loc, err := time.LoadLocation(command.String("report-timezone"))
	if err != nil {
		log.Fatal(fmt.Errorf("invalid report-timezone: %w", err))
	}
	reportService, err := reports.NewService(sugar, st, loc, time.Now)
	if err != nil {
		log.Fatal(err)
	}

	jobsEnabled := func() bool { return flags.Enabled(fflags.ScheduledJobs) }
	reportService.Schedule(ctx, wg, jobsEnabled)
	scheduleOverdueJobs(ctx, wg, sugar, fleetService, loc, jobsEnabled)

	verifier, err := newVerifier(ctx, command)
	if err != nil {
		log.Fatal(err)
	}

	api := handlers.NewAPI(sugar, flags, signalBus, notifier, fleetService, reportService)
	api.ReadyCheck = func(ctx context.Context) error {
		return database.Ping(ctx, db)
	}
	router, err := routers.NewAPIRouter(ctx, routers.APIRouterOptions{
		Logger:            sugar,
		Api:               api,
		Verifier:          verifier,
		TrustedOrigins:    command.StringSlice("origins"),
		MaxWatchesPerUser: int(command.Int("max-watches-per-user")),
		CallsPerSecond:    command.Float("calls-per-second"),
		CallBurst:         int(command.Int("call-burst")),
	})
	if err != nil {
		log.Fatal(err)
	}

	httpServer := &http.Server{
		Addr:              command.String("listen"),
		Handler:           router,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// long enough for a notification watch to time out on its own
		WriteTimeout: api.WatchTimeout + 10*time.Second,
	}
	defer util.IgnoreError(httpServer.Close)

	serveErrors := make(chan error, 1)
	util.GoWithWaitGroup(wg, func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrors <- err
		}
	})
	sugar.Infow("fleetapi started", "listen", httpServer.Addr, "db", dbConfig.Driver)

	// Wait for a shutdown signal or a server has an error
	beginShutdown := &sync.WaitGroup{}
	util.GoWithWaitGroup(beginShutdown, func() {
		select {
		case err := <-serveErrors:
			serveErrors <- err // put it back
		case <-ctx.Done():
		}
	})
	beginShutdown.Wait()

	// Try to do a graceful shutdown of the server for 5 seconds...
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	serversDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(serversDone)
	}()

	// Wait for the server and background workers to stop or timeout...
	err = nil
forLoop:
	for {
		select {
		case err = <-serveErrors: // save any errors
		case <-shutdownCtx.Done():
			break forLoop
		case <-serversDone:
			break forLoop
		}
	}

	if err != nil {
		log.Fatal(err)
	}
}

func scheduleOverdueJobs(ctx context.Context, wg *sync.WaitGroup, logger *zap.SugaredLogger, fleetService *fleet.Service, loc *time.Location, enabled func() bool) {
	jobs := map[string]func(context.Context) (int, error){
		"markOverdueInvoices": fleetService.MarkOverdueInvoicesJob,
		"markOverdueServices": fleetService.MarkOverdueServicesJob,
	}
	for name, job := range jobs {
		name, job := name, job
		util.GoWithWaitGroup(wg, func() {
			util.RunOnSchedule(ctx, util.Daily(loc, 0, 5), func(at time.Time) {
				if !enabled() {
					return
				}
				jobCtx, span := tracer.Start(ctx, name)
				defer span.End()
				updated, err := job(jobCtx)
				if err != nil {
					logger.Errorw("scheduled job failed", "job", name, "error", err)
					return
				}
				logger.Infow("scheduled job finished", "job", name, "updated", updated, "at", at)
			})
		})
	}
}

func newVerifier(ctx context.Context, command *cli.Command) (auth.TokenVerifier, error) {
	if issuer := command.String("oidc-issuer"); issuer != "" {
		return auth.NewOIDCVerifier(ctx, issuer, command.String("oidc-client-id"), command.Bool("insecure-tls"))
	}
	key := command.String("jwt-key")
	if key == "" {
		return nil, fmt.Errorf("either --oidc-issuer or --jwt-key must be set")
	}
	return auth.NewHMACVerifier([]byte(key), command.String("jwt-issuer")), nil
}

func getLogger(command *cli.Command) *zap.Logger {
	var logger *zap.Logger
	var err error
	// set the log level
	if command.Bool("debug") {
		logConfig := zap.NewProductionConfig()
		logConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		logger, err = logConfig.Build()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}
	return logger
}

func withLoggerAndDB(ctx context.Context, command *cli.Command, f func(logger *zap.Logger, db *gorm.DB, dbConfig database.Config)) {
	logger := getLogger(command)
	defer util.IgnoreError(logger.Sync)
	cleanup := initTracer(logger.Sugar(), command.Bool("trace-insecure"), command.String("trace-endpoint"))
	defer func() {
		if cleanup == nil {
			return
		}
		if err := cleanup(ctx); err != nil {
			logger.Error(err.Error())
		}
	}()

	dbConfig := database.Config{
		Driver:     command.String("db-driver"),
		SqlitePath: command.String("sqlite-path"),
		Host:       command.String("db-host"),
		Port:       command.String("db-port"),
		User:       command.String("db-user"),
		Password:   command.String("db-password"),
		Name:       command.String("db-name"),
		SSLMode:    command.String("db-sslmode"),
	}
	db, err := database.NewDatabase(ctx, logger.Sugar(), dbConfig)
	if err != nil {
		log.Fatal(err)
	}

	f(logger, db, dbConfig)
}

func initTracer(logger *zap.SugaredLogger, insecure bool, collector string) func(context.Context) error {
	if collector == "" {
		logger.Info("No collector endpoint configured")
		otel.SetTracerProvider(
			sdktrace.NewTracerProvider(
				sdktrace.WithSampler(sdktrace.AlwaysSample()),
			),
		)
		return nil
	}
	secureOption := otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, ""))
	if insecure {
		secureOption = otlptracegrpc.WithInsecure()
	}
	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(
			secureOption,
			otlptracegrpc.WithEndpoint(collector),
		),
	)
	if err != nil {
		logger.Errorf("Unable to create open telemetry exporter: %s", err.Error())
		return nil
	}
	resources, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", "fleetapi"),
			attribute.String("library.language", "go"),
		),
	)
	if err != nil {
		logger.Errorf("Unable to create resources: %s", err.Error())
		return nil
	}

	deployEnvironment := util.Getenv("FLEET_ENVIRONMENT", "development")

	otel.SetTracerProvider(
		sdktrace.NewTracerProvider(
			sdktrace.WithResource(resource.NewWithAttributes(
				semconv.SchemaURL,
				semconv.ServiceName("fleetapi"),
				semconv.DeploymentEnvironment(deployEnvironment),
			)),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(resources),
		),
	)
	return exporter.Shutdown
}
