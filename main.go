package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatkeeper/internal/api"
	"chatkeeper/internal/config"
	"chatkeeper/internal/logging"
	"chatkeeper/internal/redis"
	"chatkeeper/internal/service/article"
	"chatkeeper/internal/storage"
	"chatkeeper/internal/whitelist"
)

func main() {
	if err := config.LoadEnvFile(os.Getenv("CHATKEEPER_ENV_FILE")); err != nil {
		log.Fatalf("load env file: %v", err)
	}
	cfg, err := config.Load(os.Getenv("CHATKEEPER_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("database", zap.String("driver", cfg.Database.Driver))
	db, err := storage.Open(cfg.Database)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	// Create necessary tables: chat_history, reminders, accounts
	if err := storage.Migrate(db, cfg.Database.Driver); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	filter := whitelist.New(cfg.Whitelist.Rooms, cfg.Whitelist.Contacts, logger.Named("whitelist"))
	rooms, contacts := filter.Size()
	logger.Info("whitelist loaded",
		zap.Strings("rooms", cfg.Whitelist.Rooms),
		zap.Strings("contacts", cfg.Whitelist.Contacts),
		zap.Int("room_count", rooms),
		zap.Int("contact_count", contacts),
	)

	fetcherOpts := []article.Option{article.WithLogger(logger.Named("article"))}
	handlerOpts := []api.Option{
		api.WithLogger(logger),
		api.WithHistoryLimit(cfg.BasicConfig.HistoryLimit),
	}
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewRedisClient(cfg.Redis)
		if err != nil {
			// the cache is optional; run without it
			logger.Warn("redis unavailable, article cache disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		} else {
			defer rdb.Close()
			fetcherOpts = append(fetcherOpts, article.WithCache(rdb))
			handlerOpts = append(handlerOpts, api.WithCachePing(rdb))
		}
	}

	fetcher := article.NewFetcher(article.Config{
		SearchURL: cfg.Article.SearchURL,
		Origin:    cfg.Article.Origin,
		Timeout:   time.Duration(cfg.Article.TimeoutSeconds) * time.Second,
		CacheTTL:  time.Duration(cfg.Article.CacheTTLSeconds) * time.Second,
	}, fetcherOpts...)

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.NewHandler(db, filter, fetcher, handlerOpts...))

	addr := cfg.BasicConfig.ServerAddress
	logger.Info("listening", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
