package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/crypto/bcrypt"
)

// AdminAPIKey guards operator endpoints with a key compared against a bcrypt
// hash. An empty hash locks the routes instead of opening them.
func AdminAPIKey(hash string) fiber.Handler {
	hashed := []byte(strings.TrimSpace(hash))
	if len(hashed) == 0 {
		log.Warn("[Auth] ADMIN_API_KEY_HASH is not set; admin endpoints will reject every request")
	}

	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "Missing API key"})
		}
		if len(hashed) == 0 || bcrypt.CompareHashAndPassword(hashed, []byte(apiKey)) != nil {
			log.Warnf("[Auth] rejected admin key from %s for %s", c.IP(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "error": "Invalid API key"})
		}
		c.Locals(LocalAdmin, true)
		return c.Next()
	}
}

// LocalAdmin is set for requests that passed AdminAPIKey.
const LocalAdmin = "admin_authenticated"

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// HashAPIKey is used by the key generator command.
func HashAPIKey(key string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	return string(out), err
}
