package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"authgrid.org/internal/auth"
	"authgrid.org/internal/config"
	"authgrid.org/internal/httpapi"
	"authgrid.org/internal/mail"
	"authgrid.org/internal/obs"
	"authgrid.org/internal/session"
	"authgrid.org/internal/store/pg"
	"authgrid.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Component("main")

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}
	if cfg.PostgresDSN == "" {
		log.Error("AUTHGRID_PG_DSN is required")
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		log.Error("AUTHGRID_JWT_SECRET is required")
		os.Exit(1)
	}

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Error("open postgres", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() { _ = rdb.Close() }()

	registry, err := session.New(rdb,
		session.WithLimit(cfg.SessionLimitPerUser),
		session.WithTimeout(cfg.SessionOpTimeout),
	)
	if err != nil {
		log.Error("session registry", "error", err)
		os.Exit(1)
	}

	issuer, err := token.New([]byte(cfg.JWTSecret), registry,
		token.WithIssuer(cfg.Issuer),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Error("token issuer", "error", err)
		os.Exit(1)
	}

	rbac := auth.NewRBAC(store)
	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	if err := rbac.Bootstrap(bootCtx); err != nil {
		cancelBoot()
		log.Error("bootstrap rbac", "error", err)
		os.Exit(1)
	}
	if cfg.BootstrapAdminEmail != "" {
		if err := rbac.GrantAdmin(bootCtx, cfg.BootstrapAdminEmail); err != nil {
			log.Warn("bootstrap admin grant failed, register the account and restart",
				"email", cfg.BootstrapAdminEmail, "error", err)
		}
	}
	cancelBoot()

	accountOpts := []auth.AccountsOption{auth.WithResetTTL(cfg.PasswordResetTTL)}
	if cfg.SMTPHost != "" {
		mailer, err := mail.New(mail.Config{
			Host:    cfg.SMTPHost,
			Port:    cfg.SMTPPort,
			User:    cfg.SMTPUser,
			Pass:    cfg.SMTPPass,
			Sender:  cfg.MailSender,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			log.Error("configure mailer", "error", err)
			os.Exit(1)
		}
		accountOpts = append(accountOpts, auth.WithMailer(mailer))
	} else {
		log.Warn("SMTP not configured, verification and reset mails are disabled")
	}

	accounts := auth.NewAccounts(store, rbac, issuer, registry, accountOpts...)
	appTokens := auth.NewAppTokens(store)

	api := httpapi.New(httpapi.Deps{
		Ready:      httpapi.ReadyProbe{DB: store.DB()},
		Accounts:   accounts,
		RBAC:       rbac,
		AppTokens:  appTokens,
		Verifier:   issuer,
		RateBurst:  cfg.RateBurst,
		RatePerSec: cfg.RatePerSec,
	}, version)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("starting authgrid-api", "version", version, "addr", srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Info("stopped")
}
