package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/fettsack/geschmackstest/internal"
	"github.com/fettsack/geschmackstest/internal/config"
	"github.com/fettsack/geschmackstest/internal/logging"
	"github.com/fettsack/geschmackstest/internal/storage"
	"github.com/fettsack/geschmackstest/pkg"
)

const devAdminPassword = "fettbeharrt"

func main() {
	fmt.Println("starting ...")

	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	flag.Parse()

	log.Warnf("---->> running in [%s] environment", *env)

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    cfg.LogFormatJSON,
		Environment:      cfg.Environment,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        sentryDSN,
		SentryServerName: "geschmackstest-service",
	})

	log.Debugf("using port: %d", cfg.Port)
	log.Debugf("using server logs path: [%s]", cfg.LogsPath)

	databaseURL := os.Getenv("DATABASE_URL")

	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		if cfg.Environment == "production" {
			log.Fatalln("session secret not set. use SESSION_SECRET")
		}
		log.Errorf("session secret not set. use SESSION_SECRET, falling back to a random one")
		sessionSecret, err = pkg.GenerateRandomString(32)
		if err != nil {
			log.Fatalf("generate session secret: %s", err)
		}
	}

	adminPassword := os.Getenv("GESCHMACKSTEST_ADMIN_PASSWORD")
	if adminPassword == "" {
		if cfg.Environment == "production" {
			log.Fatalln("admin password not set. use GESCHMACKSTEST_ADMIN_PASSWORD")
		}
		log.Warnf("admin password not set. use GESCHMACKSTEST_ADMIN_PASSWORD, using the development default")
		adminPassword = devAdminPassword
	}
	adminPasswordHash, err := pkg.HashPassword(adminPassword)
	if err != nil {
		log.Fatalf("hash admin password: %s", err)
	}

	redisPassword := os.Getenv("REDIS_PASS")
	if cfg.RedisEnabled && redisPassword == "" {
		log.Errorf("redis password not set. use REDIS_PASS")
	}

	honeycombEnabled := os.Getenv("HONEYCOMB_ENABLED") == "true"
	if honeycombEnabled {
		if honeycombApiKey := os.Getenv("HONEYCOMB_API_KEY"); honeycombApiKey == "" {
			log.Warnln("HONEYCOMB_API_KEY env var not set")
		}
	} else {
		log.Debugln("honeycomb tracing disabled")
	}

	chOsInterrupt := make(chan os.Signal, 1)
	signal.Notify(chOsInterrupt, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	server, err := internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:        cfg,
			DatabaseURL:   databaseURL,
			SessionSecret: sessionSecret,
			RedisPassword: redisPassword,
			Seed: storage.SeedUser{
				Username:     cfg.SeedUsername,
				PasswordHash: adminPasswordHash,
			},
			HoneycombTracingEnabled: honeycombEnabled,
		},
	)
	if err != nil {
		if errors.Is(err, storage.ErrMissingDatabaseURL) {
			log.Fatalf("postgres storage selected but DATABASE_URL is empty: %s", err)
		}
		log.Fatalf("new server: %s", err)
	}

	server.Serve(cfg.Host, cfg.Port)

	receivedSig := <-chOsInterrupt
	log.Warnf("signal [%s] received, killing everything ...", receivedSig)
	cancel()

	if err := server.GracefulShutdown(); err != nil {
		log.Errorf("graceful shutdown: %s", err)
	}
}
