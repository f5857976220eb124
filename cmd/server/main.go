package main // Entry point package

import (
	"log" // Logging library

	"github.com/joho/godotenv"    // Loads .env files in development
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/iliyamo/event-registration/internal/config"
	"github.com/iliyamo/event-registration/internal/database"
	"github.com/iliyamo/event-registration/internal/handler"
	"github.com/iliyamo/event-registration/internal/mailer"
	"github.com/iliyamo/event-registration/internal/middleware"
	"github.com/iliyamo/event-registration/internal/payment"
	"github.com/iliyamo/event-registration/internal/queue"
	"github.com/iliyamo/event-registration/internal/repository"
	"github.com/iliyamo/event-registration/internal/router"
	"github.com/iliyamo/event-registration/internal/service"
)

func main() {
	// Load .env when present; production supplies real environment variables
	// and the file is simply absent there.
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	defer db.Close()

	// Redis backs the rate limiter and the response cache.  A nil client
	// disables both rather than blocking startup.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable: rate limiting and response caching disabled")
	}
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	// Repositories share the single connection pool.  The registration repo
	// embeds the session repo so payment finalization can decrement seats
	// inside its own transaction.
	users := repository.NewUserRepo(db)
	sessions := repository.NewSessionRepo(db)
	registrations := repository.NewRegistrationRepo(db, sessions)
	speakers := repository.NewSpeakerRepo(db)
	verifications := repository.NewVerificationRepo(db)

	mail := mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	if !mail.Enabled() {
		log.Printf("SMTP_HOST not set: outgoing mail disabled")
	}

	provider := payment.NewClient(cfg.ProviderBase, cfg.ProviderAPIKey)

	payments := handler.NewPaymentHandler(cfg, provider, registrations, users, sessions, mail, queue_publisher.PublishRegistrationPaid)
	verification := handler.NewVerificationHandler(cfg, verifications, sessions, users, registrations, mail)
	sessionH := handler.NewSessionHandler(sessions, speakers)
	speakerH := handler.NewSpeakerHandler(speakers)
	admin := handler.NewAdminHandler(cfg, verifications, users, mail)

	// The paid-registration consumer appends an audit line per finalized
	// payment.  It reconnects on its own; a hard failure only loses the
	// audit trail, never a payment.
	go func() {
		if err := queue.StartPaidConsumer(); err != nil {
			log.Printf("paid consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterPublic(e, sessionH, speakerH, cache)
	router.RegisterPayments(e, payments, limit)
	router.RegisterVerification(e, verification, limit)
	router.RegisterAdmin(e, admin, sessionH, speakerH, cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
