package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/goscan/internal/authbridge"
	"github.com/nextlevelbuilder/goscan/internal/bus"
	"github.com/nextlevelbuilder/goscan/internal/config"
	"github.com/nextlevelbuilder/goscan/internal/gateway"
	"github.com/nextlevelbuilder/goscan/internal/gateway/methods"
	httpapi "github.com/nextlevelbuilder/goscan/internal/http"
	"github.com/nextlevelbuilder/goscan/internal/objstore"
	"github.com/nextlevelbuilder/goscan/internal/scansession"
	"github.com/nextlevelbuilder/goscan/internal/store"
	"github.com/nextlevelbuilder/goscan/internal/store/pg"
	"github.com/nextlevelbuilder/goscan/internal/store/sqlite"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scan gateway (sessions, auth bridge, realtime channel, image storage)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfgPath := resolveConfigPath()
	cfg := mustLoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := initOTelExporter(ctx, cfg)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownTracing(sctx)
	}()

	st, err := openScanSessionStore(ctx, store.StoreConfig{
		Mode:        cfg.Database.Mode,
		PostgresDSN: cfg.Database.PostgresDSN,
		SQLitePath:  cfg.Database.SQLitePath,
	})
	if err != nil {
		return err
	}
	defer st.Close()

	images, err := openImageStore(ctx, cfg)
	if err != nil {
		return err
	}

	if cfg.Auth.JWTSecret == "" {
		slog.Warn("auth.jwt_secret not set; tokens will not survive a restart")
	}
	if cfg.Gateway.Token == "" {
		slog.Warn("gateway.token not set; POST /v1/auth/token is disabled")
	}
	tokens := authbridge.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL.Std(), cfg.Auth.RefreshTTL.Std())
	sessions := scansession.NewService(st, cfg.PublicBaseURL())
	bridge := authbridge.NewBridge(sessions, tokens, authbridge.Config{
		PublicURL:        cfg.PublicBaseURL(),
		CallbackURL:      cfg.Auth.CallbackURL,
		AllowedRedirects: cfg.Auth.AllowedRedirects,
		LinkTTL:          cfg.Auth.LinkTTL.Std(),
	})

	g, ctx := errgroup.WithContext(ctx)

	msgBus := bus.New()
	defer msgBus.Close()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		relay := bus.NewRedisRelay(client)
		defer relay.Close()
		msgBus.SetRelay(relay)
		g.Go(func() error { return relay.Run(ctx, msgBus.Deliver) })
		slog.Info("cross-instance fan-out enabled", "redis", cfg.Redis.Addr)
	}

	rl := gateway.NewRateLimiter(cfg.Gateway.RateLimitRPM, cfg.Gateway.RateBurst)
	defer rl.Stop()
	gw := gateway.NewServer(msgBus, tokens, rl)
	gw.SetBaseContext(ctx)
	methods.NewChannelMethods(gw, sessions).Register(gw.Router())

	watcher, err := config.NewWatcher(cfgPath, cfg)
	if err == nil {
		watcher.OnChange(func(next *config.Config) {
			rl.SetLimit(next.Gateway.RateLimitRPM, next.Gateway.RateBurst)
			applyLogLevel(next.Log.Level)
			slog.Info("config reloaded", "rate_limit_rpm", next.Gateway.RateLimitRPM, "log_level", next.Log.Level)
		})
		if err := watcher.Start(); err != nil {
			slog.Debug("config watcher not started", "path", cfgPath, "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	srv := &http.Server{
		Addr: net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port)),
		Handler: httpapi.NewRouter(httpapi.Deps{
			Gateway:      gw,
			Sessions:     sessions,
			Bridge:       bridge,
			Images:       images,
			GatewayToken: cfg.Gateway.Token,
			MaxImageSize: cfg.Storage.MaxBytes,
			SecureCookie: strings.HasPrefix(cfg.PublicBaseURL(), "https://"),
			Version:      Version,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		slog.Info("goscan gateway listening", "addr", srv.Addr, "public_url", cfg.PublicBaseURL(),
			"database", cfg.Database.Mode, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down gateway")
		gw.Shutdown()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openScanSessionStore returns the Postgres store in managed mode (after
// applying migrations) and the embedded SQLite store otherwise.
func openScanSessionStore(ctx context.Context, sc store.StoreConfig) (store.ScanSessionStore, error) {
	if sc.IsManaged() {
		db, err := pg.OpenDB(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
		return pg.NewPGScanSessionStore(db), nil
	}
	st, err := sqlite.Open(config.ExpandHome(sc.SQLitePath))
	if err != nil {
		return nil, err
	}
	return st, nil
}

func openImageStore(ctx context.Context, cfg *config.Config) (objstore.Store, error) {
	if cfg.Storage.Backend == "s3" {
		s3, err := objstore.NewS3Store(ctx, objstore.S3Config{
			Bucket:     cfg.Storage.Bucket,
			Region:     cfg.Storage.Region,
			Endpoint:   cfg.Storage.Endpoint,
			Prefix:     cfg.Storage.Prefix,
			AccessKey:  cfg.Storage.AccessKey,
			SecretKey:  cfg.Storage.SecretKey,
			PresignTTL: cfg.Storage.PresignTTL.Std(),
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	}
	local, err := objstore.NewLocalStore(config.ExpandHome(cfg.Storage.LocalDir), cfg.PublicBaseURL())
	if err != nil {
		return nil, err
	}
	return local, nil
}
