package router

import (
	"time"

	"github.com/agistaffers/backoffice/app/controllers"
	"github.com/agistaffers/backoffice/internal/pkg/env"
	"github.com/gofiber/fiber/v2"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

type Config struct {
	AdminKeyHash string
	// PublicRateMax is requests per PublicRateWindow per client on the
	// checkout and bank deposit forms. Zero disables the limiter.
	PublicRateMax    int
	PublicRateWindow time.Duration
	CheckRedis       bool
}

func ConfigFromEnv() Config {
	return Config{
		AdminKeyHash:     env.GetEnv("ADMIN_API_KEY_HASH", ""),
		PublicRateMax:    env.GetEnvInt("PUBLIC_RATE_LIMIT", 20),
		PublicRateWindow: env.GetEnvDuration("PUBLIC_RATE_WINDOW", time.Minute),
		CheckRedis:       env.GetEnvBool("HEALTH_CHECK_REDIS", true),
	}
}

// InstallRouter registers the public routes first, then the key protected
// operator routes.
func InstallRouter(app *fiber.App, cfg Config, h *controllers.Handlers) {
	setup(app, NewHttpRouter(cfg, h), NewAdminRouter(cfg, h))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
