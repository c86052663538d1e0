package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"campushub.org/internal/auth"
	"campushub.org/internal/config"
	"campushub.org/internal/event"
	"campushub.org/internal/eventbus"
	"campushub.org/internal/httpapi"
	"campushub.org/internal/migrate"
	"campushub.org/internal/obs"
	"campushub.org/internal/permission"
	"campushub.org/internal/registration"
	"campushub.org/internal/store/memory"
	"campushub.org/internal/store/pg"
	"campushub.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is what both the Postgres and in-memory stores provide.
type backend interface {
	auth.Store
	permission.GrantStore
	permission.UserLookup
	event.Store
	registration.Store
	registration.EventReader
	httpapi.Pinger
}

func main() {
	var (
		runMigrations = flag.Bool("migrate", false, "apply embedded migrations before serving (also MIGRATE_ON_START)")
		demoPassword  = flag.String("seed-demo", "", "create demo accounts with this password (development only)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger().With(slog.String("module", "main"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.SetupTracing(ctx, cfg.OTLPEndpoint, "campushub-api")
	if err != nil {
		fatal("setup tracing", err)
	}

	store, closeStore, err := openStore(ctx, cfg, *runMigrations || cfg.MigrateOnStart)
	if err != nil {
		fatal("open store", err)
	}

	authSvc, err := auth.NewService(store, cfg.JWTSecret,
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithAccessTTL(cfg.AccessTTL()),
		auth.WithRefreshTTL(cfg.RefreshTTL()),
		auth.WithHasher(auth.NewHasher(cfg.BcryptCost)),
	)
	if err != nil {
		fatal("auth service", err)
	}
	if *demoPassword != "" {
		if cfg.IsProduction() {
			fatal("seed demo", errors.New("refusing to create demo accounts in production"))
		}
		if err := seedDemo(ctx, authSvc, *demoPassword); err != nil {
			fatal("seed demo", err)
		}
	}

	live := stream.New()
	kafka := eventbus.NewKafkaPublisher(cfg.KafkaBrokerList(), cfg.KafkaTopic)
	publishers := eventbus.Fanout{live}
	if kafka != nil {
		publishers = append(publishers, kafka)
		log.Info("kafka notices enabled", slog.String("event", "eventbus.kafka"), slog.String("topic", cfg.KafkaTopic))
	}

	proxies, err := cfg.TrustedProxyList()
	if err != nil {
		fatal("trusted proxies", err)
	}

	perms := permission.NewService(store, store)
	probe := httpapi.ReadyProbe{Store: store}
	api := httpapi.New(httpapi.Deps{
		Auth:            authSvc,
		Permissions:     perms,
		Events:          event.NewService(store, perms, event.WithPublisher(publishers)),
		Registrations:   registration.NewLedger(store, store, perms, registration.WithPublisher(publishers)),
		Stream:          live,
		Ready:           probe,
		Version:         version,
		CookieSecure:    cfg.CookieSecure,
		LoginRateBurst:  cfg.LoginRateBurst,
		LoginRatePerSec: cfg.LoginRatePerSec,
		TrustedProxies:  proxies,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// SSE responses stay open, so no WriteTimeout.
		IdleTimeout: 60 * time.Second,
	}

	errs := make(chan error, 2)
	go func() {
		log.Info("http listening", slog.String("event", "server.start"), slog.String("addr", srv.Addr), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			fatal("grpc listen", err)
		}
		health := httpapi.NewGRPCHealth(probe)
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, health.Server)
		go health.Poll(ctx, 5*time.Second)
		go func() {
			log.Info("grpc health listening", slog.String("event", "server.start"), slog.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errs <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errs:
		log.Error("server failed", slog.String("event", "server.error"), slog.String("error", err.Error()))
	}
	log.Info("shutting down", slog.String("event", "server.stop"))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", slog.String("error", err.Error()))
	}
	if err := kafka.Close(); err != nil {
		log.Warn("kafka close", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown", slog.String("error", err.Error()))
	}
	closeStore()
	log.Info("stopped", slog.String("event", "server.stopped"))
}

// openStore selects Postgres when DATABASE_URL is set, otherwise an
// in-memory store that lives as long as the process.
func openStore(ctx context.Context, cfg *config.Config, migrateFirst bool) (backend, func(), error) {
	if cfg.DatabaseURL == "" {
		obs.Logger().Warn("DATABASE_URL empty, using in-memory store",
			slog.String("event", "store.memory"),
			slog.String("module", "main"),
		)
		return memory.New(), func() {}, nil
	}

	st, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	if migrateFirst {
		applied, err := migrate.NewManager(st.DB(), pg.Migrations, pg.MigrationsDir).Up(ctx)
		if err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		obs.Logger().Info("migrations applied",
			slog.String("event", "store.migrated"),
			slog.String("module", "main"),
			slog.Int("count", len(applied)),
		)
	}
	return st, func() { _ = st.Close() }, nil
}

func fatal(msg string, err error) {
	obs.Logger().Error(msg, slog.String("module", "main"), slog.String("error", err.Error()))
	os.Exit(1)
}
