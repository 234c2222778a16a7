package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"tripdeck/backend/internal/audit"
	auditrepo "tripdeck/backend/internal/audit/repository"
	authservice "tripdeck/backend/internal/auth/service"
	"tripdeck/backend/internal/config"
	"tripdeck/backend/internal/db"
	"tripdeck/backend/internal/events"
	"tripdeck/backend/internal/notification"
	resetrepo "tripdeck/backend/internal/passwordreset/repository"
	"tripdeck/backend/internal/ratelimit"
	"tripdeck/backend/internal/security"
	"tripdeck/backend/internal/server"
	"tripdeck/backend/internal/server/middleware"
	sessionrepo "tripdeck/backend/internal/session/repository"
	"tripdeck/backend/internal/telemetry/otel"
	userrepo "tripdeck/backend/internal/user/repository"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "tripdeck-backend", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("jwt private key: %v", err)
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("jwt public key: %v", err)
	}
	tokens := security.NewTokenProvider(privateKey, publicKey,
		cfg.JWTIssuer, cfg.JWTAudience,
		cfg.AccessTTL(), cfg.RefreshTTL(), cfg.Leeway())

	var limiterStore ratelimit.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		limiterStore = ratelimit.NewRedisStore(client)
		log.Printf("ratelimit: using redis at %s", cfg.RedisAddr)
	} else {
		memStore := ratelimit.NewMemoryStore()
		go sweepLoop(memStore)
		limiterStore = memStore
		log.Printf("ratelimit: using in-memory buckets")
	}
	limiter := ratelimit.NewLimiter(limiterStore)

	var notifier notification.Sender
	if cfg.MailAPIKey != "" {
		notifier = notification.NewMailAPIClient(cfg.MailAPIKey, cfg.MailAPIBaseURL, cfg.MailFrom)
	} else {
		notifier = notification.LogSender{}
		log.Printf("notification: MAIL_API_KEY not set, reset mails are logged only")
	}

	emitter := events.NewKafkaEmitter(cfg.EventsKafkaBrokersList(), cfg.EventsKafkaTopic)
	if emitter != nil {
		log.Printf("events: publishing to kafka topic %s", cfg.EventsKafkaTopic)
	}

	auditor := audit.NewLogger(auditrepo.NewPostgresRepository(database), middleware.ClientIPFrom)

	sessions := sessionrepo.NewPostgresRepository(database)
	resets := resetrepo.NewPostgresRepository(database)
	go cleanupLoop(sessions, resets)

	authSvc := authservice.NewAuthService(authservice.Deps{
		Users:        userrepo.NewPostgresRepository(database),
		Sessions:     sessions,
		Resets:       resets,
		Hasher:       security.NewHasher(cfg.BcryptCost),
		Tokens:       tokens,
		Limiter:      limiter,
		Policies:     ratePolicies(cfg),
		Notifier:     notifier,
		Auditor:      auditor,
		Emitter:      emitter,
		SessionTTL:   cfg.SessionTTL(),
		ResetTTL:     cfg.ResetTTL(),
		StoreTimeout: cfg.StoreCallTimeout(),
		ResetURLBase: cfg.ResetURLBase,
	})

	router := server.NewRouter(server.Deps{
		Auth:         authSvc,
		Tokens:       tokens,
		Limiter:      limiter,
		APIPolicy:    apiPolicy(cfg),
		HealthPinger: database,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("http server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down http server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	if emitter != nil {
		// Give in-flight async emits time to land before the writer closes.
		time.Sleep(events.ShutdownDrainDuration)
		if err := emitter.Close(); err != nil {
			log.Printf("events: close: %v", err)
		}
	}
	log.Println("http server stopped")
}

// ratePolicies returns the per-operation attempt budgets, with config
// overrides applied over the defaults.
func ratePolicies(cfg *config.Config) authservice.Policies {
	p := authservice.Policies{
		Login:         ratelimit.Policy{Name: "login", Limit: 5, Window: 15 * time.Minute},
		Register:      ratelimit.Policy{Name: "register", Limit: 3, Window: time.Hour},
		PasswordReset: ratelimit.Policy{Name: "password_reset", Limit: 3, Window: time.Hour},
	}
	if cfg.RateLoginLimit > 0 {
		p.Login.Limit = cfg.RateLoginLimit
	}
	if cfg.RateRegisterLimit > 0 {
		p.Register.Limit = cfg.RateRegisterLimit
	}
	if cfg.RateResetLimit > 0 {
		p.PasswordReset.Limit = cfg.RateResetLimit
	}
	return p
}

func apiPolicy(cfg *config.Config) ratelimit.Policy {
	p := ratelimit.Policy{Name: "api", Limit: 100, Window: time.Minute}
	if cfg.RateAPILimit > 0 {
		p.Limit = cfg.RateAPILimit
	}
	return p
}

// cleanupLoop lazily deletes expired sessions and reset tokens. Expired rows
// are already treated as dead by every read path; this only reclaims space.
func cleanupLoop(sessions *sessionrepo.PostgresRepository, resets *resetrepo.PostgresRepository) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if n, err := sessions.DeleteExpired(ctx, time.Now()); err != nil {
			log.Printf("cleanup: sessions: %v", err)
		} else if n > 0 {
			log.Printf("cleanup: removed %d expired sessions", n)
		}
		if n, err := resets.DeleteExpired(ctx, time.Now()); err != nil {
			log.Printf("cleanup: resets: %v", err)
		} else if n > 0 {
			log.Printf("cleanup: removed %d expired reset tokens", n)
		}
		cancel()
	}
}

// sweepLoop evicts expired in-memory rate-limit windows.
func sweepLoop(store *ratelimit.MemoryStore) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		store.Sweep()
	}
}
