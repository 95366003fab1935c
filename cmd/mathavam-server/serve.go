package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"mathavam/backend/internal/auth"
	"mathavam/backend/internal/config"
	"mathavam/backend/internal/conflict"
	"mathavam/backend/internal/directory"
	"mathavam/backend/internal/notify"
	"mathavam/backend/internal/policy"
	"mathavam/backend/internal/service/appointments"
	"mathavam/backend/internal/service/availability"
	"mathavam/backend/internal/store"
	"mathavam/backend/internal/store/memory"
	"mathavam/backend/internal/store/postgres"
	"mathavam/backend/internal/telemetry"
	grpcTransport "mathavam/backend/internal/transport/grpc"
	"mathavam/backend/internal/transport/rest"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// backend is everything that depends on the configured store driver.
type backend struct {
	appointments  store.AppointmentRepository
	availability  store.AvailabilityStore
	practitioners directory.Practitioners
	patients      directory.Patients
	ready         rest.Pinger
	close         func()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.LogLevel)
	log.Info("starting",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("store", cfg.StoreDriver),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracer shutdown failed", slog.Any("err", err))
		}
	}()

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	practitioners := be.practitioners
	if cfg.RedisAddr != "" && practitioners != nil {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("redis close failed", slog.Any("err", err))
			}
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable; directory reads fall through", slog.Any("err", err), slog.String("redis_addr", cfg.RedisAddr))
		}
		practitioners = directory.NewCachedPractitioners(practitioners, rdb, cfg.CacheTTL, log)
	}

	sinks := notify.Multi{notify.NewLogSink(log)}
	if brokers := notify.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		kafkaSink := notify.NewKafkaSink(brokers, cfg.KafkaTopic)
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				log.Warn("kafka writer close failed", slog.Any("err", err))
			}
		}()
		sinks = append(sinks, kafkaSink)
		log.Info("status events published to kafka", slog.String("topic", cfg.KafkaTopic))
	}

	opts := []appointments.Option{
		appointments.WithNotifier(sinks),
		appointments.WithLogger(log),
		appointments.WithSlotStep(cfg.SlotStep),
	}
	if practitioners != nil {
		opts = append(opts, appointments.WithPractitioners(practitioners))
	}
	apptSvc := appointments.NewService(be.appointments, conflict.NewResolver(be.availability), opts...)
	availSvc := availability.NewService(be.availability, log)

	enforcer, err := policy.New(log)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	guard := policy.NewGuard(enforcer, apptSvc, availSvc)

	verifier, err := auth.NewVerifier(auth.Config{
		SigningKey: []byte(cfg.JWTSigningKey),
		Issuer:     cfg.JWTIssuer,
		DevMode:    cfg.AuthDevMode,
	})
	if err != nil {
		return fmt.Errorf("auth setup: %w", err)
	}
	if cfg.AuthDevMode {
		log.Warn("auth dev mode enabled; x-actor headers are trusted")
	}

	e := rest.NewEcho(log, verifier, rest.NewHandler(guard, be.patients, log), be.ready)

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcTransport.RecoveryInterceptor(log),
			defaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout),
			grpcTransport.AuthInterceptor(verifier, log),
		),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcTransport.RegisterAppointmentsServiceServer(grpcServer, grpcTransport.NewAppointmentsServer(guard, log))
	healthServer.SetServingStatus(grpcTransport.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", cfg.GRPCAddr(), err)
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("servers started", slog.String("http_addr", cfg.HTTPAddr), slog.String("grpc_addr", cfg.GRPCAddr()))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("server stopped with error", slog.Any("err", err))
			healthServer.Shutdown()
			shutdown(log, e, grpcServer, cfg.ShutdownTimeout)
			return err
		}
	}
	healthServer.Shutdown()
	shutdown(log, e, grpcServer, cfg.ShutdownTimeout)
	return nil
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (backend, error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("using in-memory store; data is lost on restart and no directory is attached")
		return backend{
			appointments: memory.NewAppointmentStore(),
			availability: memory.NewAvailabilityStore(),
			close:        func() {},
		}, nil
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(ctx, cfg.DatabaseURL, postgres.Options{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		SlowQuery:       cfg.DBSlowQuery,
		Log:             log,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return backend{}, fmt.Errorf("open database: %w", err)
	}
	dir := postgres.NewDirectoryRepo(db)
	return backend{
		appointments:  postgres.NewAppointmentRepo(db),
		availability:  postgres.NewAvailabilityRepo(db),
		practitioners: dir,
		patients:      dir,
		ready:         postgres.NewPinger(db),
		close: func() {
			if err := postgres.Close(db); err != nil {
				log.Warn("database close failed", slog.Any("err", err))
			}
		},
	}, nil
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

// shutdown drains both servers within timeout, forcing the gRPC server
// closed if it has not stopped by then.
func shutdown(log *slog.Logger, e *echo.Echo, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down servers", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}
