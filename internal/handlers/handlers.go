package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pixbin/internal/auth"
	"pixbin/internal/cache"
	"pixbin/internal/config"
	"pixbin/internal/ids"
	"pixbin/internal/middleware"
	"pixbin/internal/models"
	"pixbin/internal/queue"
	"pixbin/internal/repository"
	"pixbin/internal/service"
	"pixbin/internal/storage"
)

type Uploader interface {
	Upload(ctx context.Context, input service.UploadInput) (service.UploadResult, error)
	TooLargeError() error
	MaxBytes() int64
}

type ImageService interface {
	Open(ctx context.Context, id string) (service.ImageContent, error)
	Delete(ctx context.Context, identity *service.Identity, id string) error
	List(ctx context.Context) ([]models.Image, error)
}

type Authenticator interface {
	middleware.SessionResolver
	BeginLogin(ctx context.Context, next string) (string, error)
	CompleteLogin(ctx context.Context, input service.CallbackInput) (service.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

// HealthCheck probes one dependency for /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HandlerSet struct {
	log     zerolog.Logger
	cfg     *config.AppConfig
	uploads Uploader
	images  ImageService
	auth    Authenticator
	checks  []HealthCheck
}

func NewHandlerSet(log zerolog.Logger, cfg *config.AppConfig, uploads Uploader, images ImageService, authenticator Authenticator, checks ...HealthCheck) HandlerSet {
	return HandlerSet{
		log:     log,
		cfg:     cfg,
		uploads: uploads,
		images:  images,
		auth:    authenticator,
		checks:  checks,
	}
}

// Wire builds the handler set and the services behind it from live
// connections.
func Wire(log zerolog.Logger, cfg *config.AppConfig, db *pgxpool.Pool, redisClient *redis.Client, store *storage.ObjectStore) HandlerSet {
	imageRepo := repository.NewImageRepository(db)
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	producer := queue.NewProducer(redisClient, cfg.Maintenance.Stream)

	uploads := service.NewUploadService(imageRepo, store, producer, ids.NewGenerator(), cfg.Upload.MaxBytes, log)
	images := service.NewImageService(imageRepo, store, log)
	authService := service.NewAuthService(
		auth.NewGoogleProvider(cfg.OAuth),
		userRepo,
		sessionRepo,
		cache.NewStateStore(redisClient),
		service.AuthConfig{
			Secret:     cfg.Session.Secret,
			SessionTTL: cfg.Session.TTL,
			StateTTL:   cfg.Session.StateTTL,
		},
		log,
	)

	return NewHandlerSet(log, cfg, uploads, images, authService,
		HealthCheck{Name: "database", Check: db.Ping},
		HealthCheck{Name: "cache", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		HealthCheck{Name: "storage", Check: store.Ping},
	)
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	api := router.Group("")
	api.Use(middleware.Identity(h.auth, h.cfg.Session.CookieName, h.log))
	{
		api.GET("/images", h.ListImages)
		api.POST("/images", middleware.BodyLimit(h.uploads.MaxBytes()), h.UploadImage)
		api.GET("/images/:id", h.GetImage)
		api.DELETE("/images/:id", h.DeleteImage)

		api.GET("/user", h.CurrentUser)

		authGroup := api.Group("/auth")
		authGroup.GET("/login", h.Login)
		authGroup.GET("/callback", h.Callback)
		authGroup.POST("/logout", h.Logout)
	}
}

// RegisterShortLinks serves images at the site root, /<id>.
func (h HandlerSet) RegisterShortLinks(engine *gin.Engine) {
	engine.GET("/:id", h.GetImage)
	engine.HEAD("/:id", h.GetImage)
}

const healthTimeout = 2 * time.Second
