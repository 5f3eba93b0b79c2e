package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"authcore.org/internal/audit"
	"authcore.org/internal/authn"
	"authcore.org/internal/config"
	"authcore.org/internal/httpapi"
	"authcore.org/internal/identity"
	"authcore.org/internal/lockout"
	"authcore.org/internal/notify"
	"authcore.org/internal/oauth"
	"authcore.org/internal/obs"
	"authcore.org/internal/session"
	"authcore.org/internal/token"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("AUTHCORE_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	if cfg.DatabaseDSN != "" {
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	// Stores: PostgreSQL when configured, in-memory otherwise.
	var (
		idStore    identity.Store
		sessStore  session.Store
		blacklist  session.BlacklistStore
		auditSink  audit.Sink
		stateStore oauth.StateStore
	)
	if db != nil {
		idStore = identity.NewPGStore(db)
		sessStore = session.NewPGStore(db)
		blacklist = session.NewPGBlacklist(db)
		auditSink = audit.NewPGSink(db)
	} else {
		log.Println("no database configured, using in-memory stores")
		idStore = identity.NewMemoryStore()
		sessStore = session.NewMemoryStore()
		blacklist = session.NewMemoryBlacklist()
		auditSink = audit.LogSink{}
	}
	if rdb != nil {
		idStore = identity.NewCachedStore(idStore, rdb, 5*time.Minute)
		stateStore = oauth.NewRedisStateStore(rdb)
	} else {
		stateStore = oauth.NewMemoryStateStore()
	}

	recorder := audit.NewRecorder(auditSink)
	notifier := notify.NewDispatcher(notify.LogMailer{From: cfg.MailFrom})

	codec, err := token.NewCodec(cfg.TokenSecret)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}

	guard := lockout.NewGuard(idStore, recorder,
		lockout.WithThreshold(cfg.LockoutThreshold),
		lockout.WithWindow(cfg.LockoutDuration),
		lockout.WithNotifier(notifier),
	)
	sessions := session.NewService(sessStore, blacklist, codec, recorder,
		session.WithAccessTTL(cfg.AccessTokenTTL),
		session.WithRefreshTTL(cfg.RefreshTokenTTL),
	)
	if cfg.AllowUnverifiedLogin {
		log.Println("WARNING: unverified accounts are allowed to log in")
	}
	authSvc := authn.NewService(idStore, guard, sessions, codec, recorder,
		authn.WithAllowUnverified(cfg.AllowUnverifiedLogin),
		authn.WithBaseURL(cfg.BaseURL),
		authn.WithNotifier(notifier),
	)

	coordinator := oauth.NewCoordinator(stateStore, idStore, guard, sessions, recorder, cfg.BaseURL,
		oauth.WithStateTTL(cfg.OAuthStateTTL))
	if creds := (oauth.Credentials{ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret}); creds.Configured() {
		coordinator.RegisterProvider(oauth.NewGoogle(creds))
	}
	if creds := (oauth.Credentials{ClientID: cfg.GitHubClientID, ClientSecret: cfg.GitHubClientSecret}); creds.Configured() {
		coordinator.RegisterProvider(oauth.NewGitHub(creds))
	}

	api := httpapi.New(httpapi.Options{
		Authn:              authSvc,
		Sessions:           sessions,
		OAuth:              coordinator,
		ReadyProbe:         httpapi.ReadyProbe{DB: db},
		Version:            version,
		RateLimitBurst:     cfg.RateLimitBurst,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Housekeeping: expired sessions, dead blacklist entries, elapsed locks.
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(sweepCtx, 30*time.Second)
				sessionsSwept, tokensPurged, err := sessions.Sweep(ctx)
				if err != nil {
					log.Printf("sweep: %v", err)
				}
				unlocked, err := guard.UnlockExpired(ctx)
				if err != nil {
					log.Printf("unlock expired: %v", err)
				}
				cancel()
				if sessionsSwept > 0 || tokensPurged > 0 || unlocked > 0 {
					obs.Log(map[string]any{
						"msg":      "housekeeping sweep",
						"sessions": sessionsSwept,
						"tokens":   tokensPurged,
						"unlocked": unlocked,
					})
				}
			}
		}
	}()

	log.Printf("Starting authcore-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	stopSweep()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	notifier.Close()
	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
