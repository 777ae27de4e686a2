package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/beout-auth/internal/auth"
	"github.com/dropDatabas3/beout-auth/internal/cache"
	"github.com/dropDatabas3/beout-auth/internal/config"
	"github.com/dropDatabas3/beout-auth/internal/email"
	httpserver "github.com/dropDatabas3/beout-auth/internal/http"
	"github.com/dropDatabas3/beout-auth/internal/http/controllers/health"
	"github.com/dropDatabas3/beout-auth/internal/http/router"
	"github.com/dropDatabas3/beout-auth/internal/identity"
	"github.com/dropDatabas3/beout-auth/internal/jwt"
	"github.com/dropDatabas3/beout-auth/internal/login"
	"github.com/dropDatabas3/beout-auth/internal/oauth"
	"github.com/dropDatabas3/beout-auth/internal/observability/logger"
	"github.com/dropDatabas3/beout-auth/internal/rate"
	"github.com/dropDatabas3/beout-auth/internal/sessionstore"
	"github.com/dropDatabas3/beout-auth/internal/verifier"
)

// version se setea con -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config (opcional)")
	flag.Parse()

	// .env es opcional; el entorno real siempre gana
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.App.Version == "" {
		cfg.App.Version = version
	}
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: cfg.App.Name, Version: cfg.App.Version})
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.L().Fatal("invalid configuration", logger.Err(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.L().Fatal("service stopped with error", logger.Err(err))
	}
	logger.L().Info("bye")
}

type closer interface{ Close() error }

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.L().With(logger.Component("main"))
	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	// ─── storage ───
	var (
		repo identity.Repository
		pool func() *pgxpool.Pool
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := identity.OpenPG(ctx, cfg.Storage.DSN, true)
		if err != nil {
			return err
		}
		repo, pool = pg, pg.Pool
	default:
		lite, err := identity.OpenSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		repo = lite
	}
	closers = append(closers, repo)
	log.Info("storage ready", logger.String("driver", cfg.Storage.Driver))

	// ─── session store, cache y rate limit ───
	var redisClient rdb.UniversalClient
	if cfg.SessionStore.Driver == "redis" {
		redisClient = rdb.NewClient(&rdb.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: ping: %w", err)
		}
		closers = append(closers, redisClient)
	}

	var store sessionstore.Store
	if redisClient != nil {
		store = sessionstore.NewRedis(redisClient, cfg.Redis.Prefix, sessionstore.WithTTL(cfg.SessionStore.TTL))
	} else {
		store = sessionstore.NewMemory(sessionstore.WithTTL(cfg.SessionStore.TTL))
	}

	cacheDriver := "memory"
	if redisClient != nil {
		cacheDriver = "redis"
	}
	stateCache, err := cache.New(cache.Config{
		Driver:     cacheDriver,
		Prefix:     cfg.Redis.Prefix + ":",
		DefaultTTL: cfg.SessionStore.TTL,
		Redis:      redisClient,
	})
	if err != nil {
		return err
	}

	var limits rate.Set
	if cfg.Rate.Enabled {
		limits = rate.NewSet(redisClient, cfg.Redis.Prefix, cfg.Rate.PollPerWindow, cfg.Rate.TokenPerWindow, cfg.Rate.Window)
	}

	// ─── notificaciones de re-link ───
	var (
		notifier identity.LinkNotifier = identity.LogNotifier{}
		mailQ    *email.Queue
	)
	if cfg.SMTPEnabled() {
		mailQ = email.NewQueue(email.NewSMTPSender(email.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			TLSMode:  cfg.SMTP.TLSMode,
		}), 256)
		notifier = identity.MultiNotifier{notifier, &identity.MailNotifier{Queue: mailQ, SupportURL: cfg.Server.PublicURL}}
	}
	resolver := identity.NewResolver(identity.ResolverDeps{Repo: repo, Notifier: notifier})

	// ─── providers y verifiers ───
	providers := oauth.Registry{}
	providers.Register(oauth.NewGoogle(oauth.GoogleConfig{
		ClientID:        cfg.Google.ClientID,
		ClientSecret:    cfg.Google.ClientSecret,
		RedirectURL:     login.WebCallbackURL(cfg.Server.PublicURL, auth.ProviderGoogle),
		NativeClientIDs: cfg.Google.NativeClientIDs,
	}))
	if cfg.FacebookEnabled() {
		providers.Register(oauth.NewFacebook(oauth.FacebookConfig{
			AppID:       cfg.Facebook.AppID,
			AppSecret:   cfg.Facebook.AppSecret,
			RedirectURL: login.WebCallbackURL(cfg.Server.PublicURL, auth.ProviderFacebook),
		}))
	}

	verifiers := map[auth.Provider]verifier.IDTokenVerifier{}
	googleV, err := verifier.NewGoogle(ctx, cfg.GoogleAudiences())
	if err != nil {
		return err
	}
	verifiers[auth.ProviderGoogle] = googleV
	if len(cfg.Apple.Audiences) > 0 {
		appleV, err := verifier.NewApple(ctx, cfg.Apple.Audiences)
		if err != nil {
			return err
		}
		verifiers[auth.ProviderApple] = appleV
	} else {
		log.Warn("apple sign-in disabled: APPLE_AUDIENCES is empty")
	}

	var issuerOpts []jwt.SessionIssuerOption
	if cfg.IsProd() {
		issuerOpts = append(issuerOpts, jwt.RequireStrongSecret())
	}
	issuer, err := jwt.NewSessionIssuer([]byte(cfg.JWT.Secret), cfg.JWT.SessionTTL, cfg.JWT.Issuer, issuerOpts...)
	if err != nil {
		return err
	}

	svc := login.NewService(login.Deps{
		Providers: providers,
		Verifiers: verifiers,
		Resolver:  resolver,
		Issuer:    issuer,
		Store:     store,
		Cache:     stateCache,
		Policy: oauth.RedirectPolicy{
			Exact: append([]string{
				login.MobileCallbackURL(cfg.Server.PublicURL),
				login.WebCallbackURL(cfg.Server.PublicURL, auth.ProviderGoogle),
			}, cfg.Client.AllowedRedirectURIs...),
			AppScheme: cfg.Client.AppScheme,
			ClientIDs: cfg.GoogleAudiences(),
		},
		PublicURL: cfg.Server.PublicURL,
		StateTTL:  cfg.SessionStore.TTL,
	})

	// ─── http ───
	metricsHandler, err := httpserver.RegisterMetrics(httpserver.MetricsConfig{
		Registry: prometheus.DefaultRegisterer,
		Pool:     pool,
	})
	if err != nil {
		return err
	}

	checks := map[string]health.Pinger{
		"db":            health.PingFunc(repo.Ping),
		"session_store": health.PingFunc(store.Ping),
	}
	if redisClient != nil {
		checks["cache"] = health.PingFunc(stateCache.Ping)
	}

	srv := httpserver.NewServer(httpserver.ServerConfig{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, router.Deps{
		Login:           svc,
		Sessions:        issuer,
		Health:          health.NewController(cfg.App.Version, checks),
		MetricsHandler:  metricsHandler,
		Rate:            limits,
		CORSOrigins:     cfg.Server.CORSAllowedOrigins,
		AppRedirectBase: cfg.Client.AppRedirectBase,
		AppScheme:       cfg.Client.AppScheme,
		SecureCookies:   cfg.IsProd(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return sweep(gctx, store, cfg.SessionStore.SweepInterval) })
	if mailQ != nil {
		g.Go(func() error { return mailQ.Run(gctx) })
	}

	log.Info("beout-auth started",
		logger.String("addr", cfg.Server.Addr),
		logger.String("public_url", cfg.Server.PublicURL),
		logger.String("session_store", cfg.SessionStore.Driver),
		logger.Bool("facebook", cfg.FacebookEnabled()),
		logger.Bool("smtp", mailQ != nil),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// sweep barre records vencidos hasta que ctx se cancela.
func sweep(ctx context.Context, store sessionstore.Store, every time.Duration) error {
	if every <= 0 {
		every = time.Minute
	}
	log := logger.L().With(logger.Component("sessionstore.sweeper"))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := store.Sweep(ctx)
			if err != nil {
				log.Warn("sweep failed", logger.Err(err))
				continue
			}
			if n > 0 {
				log.Debug("expired sessions swept", logger.Int("removed", n))
			}
		}
	}
}
