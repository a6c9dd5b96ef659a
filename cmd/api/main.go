package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/FilipeAphrody/estate-auth/internal/config"
	delivery "github.com/FilipeAphrody/estate-auth/internal/delivery/http"
	"github.com/FilipeAphrody/estate-auth/internal/domain"
	"github.com/FilipeAphrody/estate-auth/internal/logger"
	"github.com/FilipeAphrody/estate-auth/internal/mailer"
	"github.com/FilipeAphrody/estate-auth/internal/repository"
	"github.com/FilipeAphrody/estate-auth/internal/usecase"
	"github.com/FilipeAphrody/estate-auth/pkg/security"
)

const version = "1.0.0"

// stores bundles the selected persistence adapters.
type stores struct {
	users   domain.UserRepository
	seed    repository.SeedRepo
	refresh domain.RefreshTokenRepository
	ledger  domain.InvalidatedTokenRepository
	checks  []delivery.HealthCheck
	closers []io.Closer
}

func main() {
	logger.Init()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("estate-auth stopped")
	}
}

func run() error {
	// 1. Load configuration from the environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Initialize infrastructure (persistence)
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range st.closers {
			_ = c.Close()
		}
	}()

	hasher := security.NewPasswordHasher(security.DefaultParams)
	if err := repository.Seed(ctx, st.seed, hasher, cfg.AdminPassword); err != nil {
		return err
	}

	// 3. Outbound email
	sender, err := openSender(cfg)
	if err != nil {
		return err
	}
	if c, ok := sender.(io.Closer); ok {
		defer c.Close()
	}
	mail := mailer.NewAsync(sender, 5*time.Second)
	defer mail.Wait()

	// 4. Initialize business logic (usecases)
	authUsecase := usecase.NewAuthUsecase(
		st.users, st.refresh, st.ledger,
		security.NewTokenSigner(cfg.JWTSecret), hasher, mail,
		usecase.Config{
			Issuer:         cfg.JWTIssuer,
			AccessTTL:      cfg.AccessTokenTTL,
			RefreshTTL:     cfg.RefreshTokenTTL,
			OTPTTL:         cfg.OTPTTL,
			OTPLockout:     cfg.OTPLockout,
			OTPMaxAttempts: cfg.OTPMaxAttempts,
		},
	)

	cleanup := usecase.NewCleanupUsecase(st.ledger, st.refresh, cfg.CleanupInterval)
	go cleanup.Run(ctx)

	// 5. Routes and server
	e := delivery.NewRouter(delivery.RouterConfig{
		Service:       authUsecase,
		Version:       version,
		AuthRateLimit: cfg.AuthRateLimit,
		Checks:        st.checks,
	})
	e.Server.ReadTimeout = cfg.HTTPReadTimeout
	e.Server.WriteTimeout = cfg.HTTPWriteTimeout

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("env", cfg.Env).
			Str("storage", cfg.Storage).Str("revocation_store", cfg.RevocationStore).
			Str("mail_transport", cfg.MailTransport).
			Msg("starting estate-auth server")
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 6. Wait for a signal or a listener failure, then shut down gracefully
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server exiting")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}

	switch cfg.Storage {
	case "memory":
		users := repository.NewMemoryUserRepo()
		tokens := repository.NewMemoryTokenRepo()
		st.users, st.seed, st.refresh, st.ledger = users, users, tokens, tokens
		log.Warn().Msg("using in-memory storage; state is lost on restart")

	default:
		db, err := repository.OpenPostgres(ctx, cfg.DBURL)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, db)

		if err := repository.Migrate(ctx, db); err != nil {
			return nil, err
		}

		users := repository.NewPostgresUserRepo(db)
		tokens := repository.NewPostgresTokenRepo(db)
		st.users, st.seed, st.refresh, st.ledger = users, users, tokens, tokens
		st.checks = append(st.checks, delivery.HealthCheck{Name: "database", Ping: db.PingContext})
	}

	if cfg.RevocationStore == "redis" {
		client, err := repository.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, client)

		ledger := repository.NewRedisTokenRepo(client)
		if err := ledger.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		st.ledger = ledger
		st.checks = append(st.checks, delivery.HealthCheck{Name: "redis", Ping: ledger.Ping})
	}

	return st, nil
}

func openSender(cfg *config.Config) (mailer.Sender, error) {
	if cfg.MailTransport == "rabbitmq" {
		s, err := mailer.NewRabbitSender(cfg.RabbitURL, cfg.MailQueue)
		if err != nil {
			return nil, fmt.Errorf("mail transport: %w", err)
		}
		return s, nil
	}
	return mailer.NewLogSender(log.Logger), nil
}
