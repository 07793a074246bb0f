package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/redis/go-redis/v9"

	"github.com/abdulaziz-uzb777/library-project/internal/ratelimit"
	"github.com/abdulaziz-uzb777/library-project/internal/security"
	"github.com/abdulaziz-uzb777/library-project/internal/util"
	"github.com/abdulaziz-uzb777/library-project/pkg/adminsession"
	"github.com/abdulaziz-uzb777/library-project/pkg/auth"
	"github.com/abdulaziz-uzb777/library-project/pkg/identity"
	"github.com/abdulaziz-uzb777/library-project/pkg/kv"
	"github.com/abdulaziz-uzb777/library-project/pkg/storage"
	"github.com/abdulaziz-uzb777/library-project/pkg/store"
	"github.com/abdulaziz-uzb777/library-project/services/library/internal/app"
	"github.com/abdulaziz-uzb777/library-project/services/library/internal/config"
	"github.com/abdulaziz-uzb777/library-project/services/library/internal/server"
)

const adminSweepInterval = time.Hour

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kvStore, err := kv.Open(cfg.KVOptions())
	if err != nil {
		log.Fatalf("failed to open kv store: %v", err)
	}
	defer kvStore.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	err = kv.Ping(pingCtx, kvStore)
	cancelPing()
	if err != nil {
		log.Fatalf("kv store unreachable: %v", err)
	}
	records := store.New(kvStore)

	objects, err := openObjects(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, auth.TokenOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.AccessTokenTTL(),
	})
	if err != nil {
		log.Fatalf("failed to init token issuer: %v", err)
	}
	admin := adminsession.NewManager(records, adminsession.Config{
		PasswordDigest: cfg.AdminPasswordHash,
		TTL:            cfg.AdminTokenTTL(),
		Clock:          clock.WallClock,
	})
	if cfg.AdminPasswordHash == "" {
		logger.Warn("adminPasswordHash not set, using the factory admin password")
	}

	appCore, err := app.New(app.Config{
		Store:           records,
		Objects:         objects,
		Identity:        identity.NewProvider(records, tokens),
		Admin:           admin,
		SignedURLExpiry: cfg.SignedURLExpiry(),
		MaxPDFBytes:     cfg.MaxPDFBytes,
		MaxCoverBytes:   cfg.MaxCoverBytes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	} else {
		slog.Warn("redisAddr not set, rate limiting and security alerts disabled")
	}
	limiters, err := newLimiters(redisClient, cfg)
	if err != nil {
		log.Fatalf("failed to init rate limiters: %v", err)
	}
	var alerter *security.AuditAlerter
	if redisClient != nil {
		alerter = security.NewAuditAlerter(redisClient, "")
	}

	httpServer, err := server.New(server.Config{
		App:             appCore,
		PathPrefix:      cfg.PathPrefix,
		AnonKey:         cfg.AnonKey,
		TrustedProxies:  trusted,
		SignupLimiter:   limiters.signup,
		SigninLimiter:   limiters.signin,
		FeedbackLimiter: limiters.feedback,
		Alerter:         alerter,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	go sweepAdminTokens(ctx, admin)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "err", err)
		}
	}()

	slog.Info("library server listening", "addr", addr, "prefix", cfg.PathPrefix, "kv", cfg.KVBackend, "objects", cfg.ObjectBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

func openObjects(ctx context.Context, cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.ObjectBackend != config.ObjectBackendMinio {
		slog.Warn("using in-memory object store, uploads are lost on restart")
		return storage.NewMemoryStore(), nil
	}
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return storage.NewMinioStore(initCtx, storage.MinioConfig{
		Endpoint:       cfg.MinioEndpoint,
		PublicEndpoint: cfg.MinioPublicEndpoint,
		AccessKey:      cfg.MinioAccessKey,
		SecretKey:      cfg.MinioSecretKey,
		Bucket:         cfg.MinioBucket,
		UseSSL:         cfg.MinioUseSSL,
	})
}

type limiterSet struct {
	signup   *ratelimit.FixedWindowLimiter
	signin   *ratelimit.FixedWindowLimiter
	feedback *ratelimit.FixedWindowLimiter
}

// newLimiters builds the per-IP limiters. Without a client every limiter
// is disabled.
func newLimiters(client *redis.Client, cfg config.FileConfig) (limiterSet, error) {
	var set limiterSet
	if client == nil {
		return set, nil
	}
	build := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			return nil, nil
		}
		l, err := ratelimit.New(client, ratelimit.Options{Name: name, Limit: limit, Window: time.Minute})
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return l, nil
	}
	var err error
	if set.signup, err = build("signup", cfg.SignupRateLimitPerMinute); err != nil {
		return set, err
	}
	if set.signin, err = build("signin", cfg.SigninRateLimitPerMinute); err != nil {
		return set, err
	}
	if set.feedback, err = build("feedback", cfg.FeedbackRateLimitPerMinute); err != nil {
		return set, err
	}
	return set, nil
}

// sweepAdminTokens removes expired admin tokens that were never presented
// again after expiry.
func sweepAdminTokens(ctx context.Context, admin *adminsession.Manager) {
	ticker := time.NewTicker(adminSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := admin.SweepExpired(ctx)
			if err != nil {
				slog.Warn("admin token sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("admin tokens swept", "removed", n)
			}
		}
	}
}
