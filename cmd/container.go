// cmd/container.go
//
// Composition root. Owns infrastructure (DB, Redis, email, signing key)
// and wires the auth module together.
package main

import (
	"context"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	awsses "github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/parvai/authcore/pkg/config"
	"github.com/parvai/authcore/pkg/iam/auth"
	"github.com/parvai/authcore/pkg/iam/auth/authhttp"
	"github.com/parvai/authcore/pkg/iam/auth/authinfra"
	"github.com/parvai/authcore/pkg/iam/auth/authsrv"
	"github.com/parvai/authcore/pkg/iam/otp/otpinfra"
	"github.com/parvai/authcore/pkg/iam/user/userinfra"
	"github.com/parvai/authcore/pkg/logx"
	"github.com/parvai/authcore/pkg/notifx"
	"github.com/parvai/authcore/pkg/notifx/notifxconsole"
	"github.com/parvai/authcore/pkg/notifx/notifxses"
	"github.com/redis/go-redis/v9"
)

// Container holds shared infrastructure and the composed auth module.
type Container struct {
	Config *config.Config

	DB    *sqlx.DB
	Redis *redis.Client

	AuthService    *authsrv.Service
	AuthHandlers   *authhttp.Handlers
	AuthMiddleware *auth.TokenMiddleware
}

func NewContainer(cfg *config.Config) *Container {
	logx.Info("Initializing application container...")

	c := &Container{Config: cfg}

	c.initInfrastructure()
	c.initModules()

	logx.Info("Application container initialized")
	return c
}

func (c *Container) initInfrastructure() {
	db, err := sqlx.Connect("postgres", c.Config.Database.DSN())
	if err != nil {
		logx.Fatalf("Failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
	c.DB = db
	logx.Info("Database connected")

	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Address(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if _, err := c.Redis.Ping(context.Background()).Result(); err != nil {
		logx.Fatalf("Failed to connect to Redis: %v (Redis is required)", err)
	}
	logx.Info("Redis connected")
}

func (c *Container) initModules() {
	key, err := auth.LoadPrivateKey(c.Config.JWT.PrivateKeyPath)
	if err != nil {
		logx.Fatalf("Failed to load signing key: %v", err)
	}

	tokens := auth.NewJWTService(
		key,
		c.Config.JWT.AccessTokenTTL,
		c.Config.JWT.RefreshTokenTTL,
		c.Config.JWT.Issuer,
	)

	users := userinfra.NewPostgresUserRepository(c.DB)
	refreshLedger := authinfra.NewPostgresRefreshTokenRepository(c.DB)
	challenges := otpinfra.NewPostgresChallengeRepository(c.DB)
	hasher := authinfra.NewBcryptHasher(0)

	loginLimiter := authinfra.NewRedisRateLimiter(c.Redis, "login", 10, time.Minute)
	forgotLimiter := authinfra.NewRedisRateLimiter(c.Redis, "forgot", 3, 10*time.Minute)

	c.AuthService = authsrv.NewService(
		users,
		refreshLedger,
		challenges,
		tokens,
		hasher,
		c.initMailer(),
		c.Config.JWT.RefreshTokenTTL,
		authsrv.WithLoginLimiter(loginLimiter),
		authsrv.WithForgotPasswordLimiter(forgotLimiter),
	)
	c.AuthMiddleware = auth.NewTokenMiddleware(tokens)
	c.AuthHandlers = authhttp.NewHandlers(c.AuthService, c.AuthMiddleware)
}

func (c *Container) initMailer() notifx.EmailSender {
	switch c.Config.Email.Provider {
	case "ses":
		awsCfg, err := awsConfig.LoadDefaultConfig(context.Background(),
			awsConfig.WithRegion(c.Config.Email.AWSRegion))
		if err != nil {
			logx.Fatalf("Unable to load AWS SDK config: %v", err)
		}
		logx.Infof("SES email provider configured (region: %s)", c.Config.Email.AWSRegion)
		return notifxses.NewSESProvider(awsses.NewFromConfig(awsCfg), c.Config.Email.FromAddress)
	default:
		logx.Info("Console email provider configured (dev mode)")
		return notifxconsole.NewConsoleProvider()
	}
}

func (c *Container) Cleanup() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		}
	}
}
