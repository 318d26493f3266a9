package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jmigdelacruz/dlcmeals/api"
	"github.com/jmigdelacruz/dlcmeals/board"
	"github.com/jmigdelacruz/dlcmeals/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	cleanupQueueName := os.Getenv("CLEANUP_QUEUE")
	imagesContainerName := os.Getenv("IMAGES_CONTAINER")
	if connStr == "" || tasksTableName == "" || cleanupQueueName == "" || imagesContainerName == "" {
		log.Fatal("missing storage config")
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)

	updatesChannel := os.Getenv("UPDATES_CHANNEL")
	if updatesChannel == "" {
		updatesChannel = "task-updates"
	}
	cacheTTL := 5 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cleanupInterval := 30 * time.Second
	if v := os.Getenv("CLEANUP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid CLEANUP_INTERVAL: %v", err)
		}
		cleanupInterval = d
	}

	logger := log.New()

	feed := storage.NewFeed(rc, updatesChannel, logger)
	store, err := storage.New(connStr, tasksTableName, cleanupQueueName, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	cached := storage.NewCache(store, rc, cacheTTL, feed, logger)
	boards := board.NewManager(cached, feed, os.Getenv("DEFAULT_VIEW"), logger)

	images, err := storage.NewImageStore(connStr, imagesContainerName)
	if err != nil {
		log.Fatalf("image store: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker := storage.NewCleanupWorker(store.CleanupQueue(), images, cleanupInterval, logger)
	go worker.Run(ctx)

	var auth api.Authenticator
	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		secret := os.Getenv("AUTH_TEST_SECRET")
		if secret == "" {
			log.Fatal("AUTH0_TEST_MODE requires AUTH_TEST_SECRET")
		}
		auth = api.NewTestAuth([]byte(secret))
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Errorf("Unable to shut down tracer provider, err: %s", err)
		}
	}()

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(api.CSPMiddleware())
	e.Use(echoprometheus.NewMiddleware("dlcmeals"))
	e.GET("/metrics", echoprometheus.NewHandler())

	assetGeneration := os.Getenv("ASSET_CACHE_GENERATION")
	if assetGeneration == "" {
		assetGeneration = "v1"
	}
	assetTTL := 24 * time.Hour
	if v := os.Getenv("ASSET_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid ASSET_CACHE_TTL: %v", err)
		}
		assetTTL = d
	}
	assets := api.NewAssetCache(rc, assetGeneration, assetTTL, logger)
	if err := assets.EvictStale(ctx); err != nil {
		logger.Errorf("Unable to evict stale asset cache generations, err: %s", err)
	}
	e.Use(assets.Middleware())

	webRoot := os.Getenv("WEB_ROOT")
	if webRoot == "" {
		webRoot = "public"
	}
	e.Static("/", webRoot)

	api.Register(e, boards, images, auth, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
