package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/backtrack-hq/chatcore/internal/auth"
	"github.com/backtrack-hq/chatcore/internal/chat"
	"github.com/backtrack-hq/chatcore/internal/config"
	"github.com/backtrack-hq/chatcore/internal/hub"
	"github.com/backtrack-hq/chatcore/internal/identity"
	"github.com/backtrack-hq/chatcore/internal/message"
	"github.com/backtrack-hq/chatcore/internal/read"
	"github.com/backtrack-hq/chatcore/internal/room"
	"github.com/backtrack-hq/chatcore/internal/server"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := newLogger(cfg.DebugLogs)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	var (
		messages message.Store = message.NewMemStore()
		reads    read.Tracker  = read.NewMemTracker()
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis unreachable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		logger.Info("using redis storage", zap.String("addr", cfg.RedisAddr))
		messages = message.NewRedisStore(rdb)
		reads = read.NewRedisTracker(rdb)
	}

	users := identity.NewStore()
	rooms := room.NewDirectory()
	h := hub.NewHub(logger)
	svc := chat.NewService(users, rooms, messages, reads, h, cfg.MessageRetentionDays, cfg.RequireAuth, logger)

	var verifier auth.Verifier
	if cfg.JWKSURL != "" {
		jwks, err := auth.NewJWKSVerifier(cfg.JWKSURL, cfg.JWTIssuer, logger)
		if err != nil {
			logger.Fatal("init jwks verifier", zap.String("url", cfg.JWKSURL), zap.Error(err))
		}
		defer jwks.Close()
		verifier = jwks
	} else if cfg.RequireAuth {
		logger.Fatal("require_auth is set but no jwks_url is configured")
	}
	authn := auth.NewAuthenticator(users, verifier, cfg.RequireAuth, logger)

	srv := server.New(cfg, svc, authn, h, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
