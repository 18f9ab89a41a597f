package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CORSConfig defines the config for CORS middleware
type CORSConfig struct {
	// AllowedOrigins is a list of origins a cross-domain request can be executed from
	AllowedOrigins []string

	AllowCredentials bool
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string

	// MaxAge is how long, in seconds, a preflight result may be cached
	MaxAge int
}

// DefaultCORSConfig returns a default CORS config for the given dashboard origins
func DefaultCORSConfig(origins ...string) CORSConfig {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return CORSConfig{
		AllowedOrigins:   origins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", RequestIDHeader},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition", RequestIDHeader},
		MaxAge:           3600,
	}
}

// CORS creates a new CORS middleware handler
func CORS(config ...CORSConfig) fiber.Handler {
	cfg := DefaultCORSConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	allowedOrigins := make(map[string]struct{})
	for _, origin := range cfg.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}
	_, wildcard := allowedOrigins["*"]

	allowedMethods := strings.Join(cfg.AllowedMethods, ",")
	allowedHeaders := strings.Join(cfg.AllowedHeaders, ",")
	exposedHeaders := strings.Join(cfg.ExposedHeaders, ",")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(c *fiber.Ctx) error {
		origin := c.Get("Origin")

		if _, ok := allowedOrigins[origin]; ok && origin != "" {
			c.Set("Access-Control-Allow-Origin", origin)
			c.Vary("Origin")
		} else if wildcard {
			c.Set("Access-Control-Allow-Origin", "*")
		}

		if cfg.AllowCredentials && !wildcard {
			c.Set("Access-Control-Allow-Credentials", "true")
		}
		c.Set("Access-Control-Expose-Headers", exposedHeaders)

		// Preflight
		if c.Method() == fiber.MethodOptions {
			c.Set("Access-Control-Allow-Methods", allowedMethods)
			c.Set("Access-Control-Allow-Headers", allowedHeaders)
			c.Set("Access-Control-Max-Age", maxAge)
			return c.SendStatus(fiber.StatusNoContent)
		}

		return c.Next()
	}
}
