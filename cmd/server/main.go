package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geochat/internal/auth"
	"geochat/internal/chat"
	"geochat/internal/config"
	"geochat/internal/group"
	"geochat/internal/identity"
	"geochat/internal/middleware"
	"geochat/internal/ratelimit"
	"geochat/internal/realtime"
	"geochat/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	config.LoadConfig(".env")
	if config.Cfg == nil {
		log.Fatal("Error: Configuration not loaded.")
	}

	log.Println("Geochat Backend Starting...")
	log.Printf("Server will run on port: %s", config.Cfg.ServerPort)

	dbCtx := context.Background()
	dbpool, err := pgxpool.New(dbCtx, config.Cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to create connection pool: %v\n", err)
	}
	defer dbpool.Close()

	if err = dbpool.Ping(dbCtx); err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	log.Println("Successfully connected to the database!")

	userStore := store.NewPostgresUserStore(dbpool)
	groupStore := store.NewPostgresGroupStore(dbpool)
	messageStore := store.NewPostgresMessageStore(dbpool)
	identityStore := store.NewPostgresIdentityStore(dbpool)
	membershipStore := store.NewPostgresMembershipStore(dbpool)
	log.Println("Stores initialized.")

	limiter := buildLimiter(messageStore)

	hub := realtime.NewHub()
	log.Println("Realtime hub initialized.")

	authHandler := auth.NewAuthHandler(userStore)
	identityHandler := identity.NewHandler(identityStore)
	groupHandler := group.NewRestHandler(groupStore, membershipStore)
	chatHandler := chat.NewRestHandler(messageStore, membershipStore, groupStore, userStore, limiter, hub)
	wsHandler := realtime.NewWSHandler(hub)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Device-ID", "Upgrade", "Connection"}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})

	r.GET("/realtime", wsHandler.HandleConnection)

	apiV1 := r.Group("/api/v1")
	{
		publicAuthRoutes := apiV1.Group("/auth")
		{
			publicAuthRoutes.POST("/register", authHandler.Register)
			publicAuthRoutes.POST("/login", authHandler.Login)
		}

		// Discovery and identity upsert are open to unauthenticated
		// devices; onboarding happens before any credential exists.
		apiV1.GET("/groups", groupHandler.ListGroups)
		apiV1.GET("/groups/:id", groupHandler.GetGroup)
		apiV1.PUT("/identities", identityHandler.UpsertIdentity)

		userOnly := apiV1.Group("/")
		userOnly.Use(middleware.AuthMiddleware())
		{
			userOnly.GET("/auth/me", authHandler.GetMe)
			userOnly.POST("/auth/logout", authHandler.Logout)
			userOnly.POST("/groups", groupHandler.CreateGroup)
			userOnly.DELETE("/groups/:id", groupHandler.DeactivateGroup)
		}

		sender := apiV1.Group("/")
		sender.Use(middleware.SenderMiddleware())
		{
			sender.POST("/groups/:id/join", groupHandler.JoinGroup)
			sender.POST("/groups/:id/leave", groupHandler.LeaveGroup)
			sender.GET("/messages", chatHandler.GetMessages)
			sender.POST("/messages", chatHandler.PostMessage)
			sender.POST("/messages/:id/vote", chatHandler.PostVote)
			sender.GET("/rate-limit/check", chatHandler.CheckRateLimit)
		}
	}

	srv := &http.Server{
		Addr:    ":" + config.Cfg.ServerPort,
		Handler: r,
	}

	go func() {
		log.Printf("Listening and serving HTTP on :%s\n", config.Cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

// buildLimiter picks the Redis sliding-window limiter when REDIS_URL is
// set, otherwise the SQL COUNT fallback over the messages table.
func buildLimiter(messageStore store.MessageStore) ratelimit.Limiter {
	window := time.Minute
	if config.Cfg.RedisURL != "" {
		opts, err := redis.ParseURL(config.Cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Unable to connect to Redis: %v", err)
		}
		log.Println("Rate limiter: Redis sliding window.")
		return ratelimit.NewRedisLimiter(client, config.Cfg.RateLimitPerMinute, window)
	}
	log.Println("Rate limiter: SQL fallback (no REDIS_URL configured).")
	return ratelimit.NewPostgresLimiter(messageStore, config.Cfg.RateLimitPerMinute, window)
}
