package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"rusunawa.app/internal/auth"
	"rusunawa.app/internal/config"
	"rusunawa.app/internal/httpapi"
	"rusunawa.app/internal/obs"
	"rusunawa.app/internal/revoke"
	"rusunawa.app/internal/store"
	"rusunawa.app/internal/store/pg"
	"rusunawa.app/internal/store/sqlite"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	rp := httpapi.ReadyProbe{DB: st}
	var denylist auth.Denylist
	if cfg.Redis.URL != "" {
		rd, err := revoke.Open(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rd.Close()
		denylist = rd
		rp.Denylist = rd
	}

	svc, err := buildServices(cfg, st, denylist)
	if err != nil {
		return err
	}

	var admin *auth.BootstrapAdmin
	if cfg.Seed.Enabled() {
		admin = &auth.BootstrapAdmin{
			Username: cfg.Seed.Username,
			Email:    cfg.Seed.Email,
			Password: cfg.Seed.Password,
		}
	}
	if err := svc.RBAC.EnsureBuiltins(ctx, admin); err != nil {
		return fmt.Errorf("seed builtins: %w", err)
	}

	api, err := httpapi.New(rp, version, svc,
		httpapi.WithDevelopment(cfg.App.Development()),
		httpapi.WithAllowedOrigins(cfg.CORS.AllowedOrigins),
		httpapi.WithRateLimit(cfg.RateLimit.Burst, cfg.RateLimit.PerSecond),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		obs.Info("server_starting", map[string]any{
			"version": version,
			"addr":    srv.Addr,
			"env":     cfg.App.Env,
			"driver":  cfg.Database.Driver,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		obs.Info("server_stopping", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	obs.Info("server_stopped", nil)
	return nil
}

func openStore(ctx context.Context, db config.DatabaseConfig) (*store.Store, error) {
	switch db.Driver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, db.SQLitePath)
	default:
		st, err := pg.Open(db.URL)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("ping db: %w", err)
		}
		return st, nil
	}
}

func buildServices(cfg *config.Config, st *store.Store, denylist auth.Denylist) (httpapi.Services, error) {
	codec, err := auth.NewTokenCodec(cfg.JWT.Secret,
		auth.WithIssuer(cfg.JWT.Issuer),
		auth.WithTokenTTL(cfg.JWT.ExpiresIn),
	)
	if err != nil {
		return httpapi.Services{}, err
	}

	var resolverOpts []auth.ResolverOption
	if cfg.Cache.Enabled() {
		resolverOpts = append(resolverOpts, auth.WithPermissionCache(auth.NewPermissionCache(cfg.Cache.Size, cfg.Cache.TTL)))
	}
	resolver, err := auth.NewResolver(st, resolverOpts...)
	if err != nil {
		return httpapi.Services{}, err
	}

	authn, err := auth.NewAuthenticator(codec, denylist)
	if err != nil {
		return httpapi.Services{}, err
	}
	accounts, err := auth.NewAccountService(st, codec, resolver)
	if err != nil {
		return httpapi.Services{}, err
	}
	rbac, err := auth.NewRBACService(st, resolver)
	if err != nil {
		return httpapi.Services{}, err
	}
	imp, err := auth.NewImpersonator(st, resolver, codec)
	if err != nil {
		return httpapi.Services{}, err
	}
	return httpapi.Services{
		Authenticator: authn,
		Resolver:      resolver,
		Accounts:      accounts,
		RBAC:          rbac,
		Impersonator:  imp,
	}, nil
}
