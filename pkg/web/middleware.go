package web

import (
	"crypto/subtle"
	"strings"

	"github.com/dukex/flowpages/pkg/models"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/keyauth"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUsername = "X-User-Name"

	userLocalsKey = "flowpages.user"
)

// publicPaths skip bearer authentication: workflows post their callbacks
// without the page's token.
var publicPaths = []string{"/workflows/updates", "/health", "/livez", "/readyz"}

// BearerAuth rejects requests without the static token. An empty token
// disables authentication.
func BearerAuth(token string) fiber.Handler {
	return keyauth.New(keyauth.Config{
		Next: func(c fiber.Ctx) bool {
			if token == "" {
				return true
			}

			path := strings.TrimRight(c.Path(), "/")
			for _, public := range publicPaths {
				if path == public {
					return true
				}
			}

			return false
		},
		Validator: func(_ fiber.Ctx, key string) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1 {
				return true, nil
			}

			return false, keyauth.ErrMissingOrMalformedAPIKey
		},
		ErrorHandler: func(c fiber.Ctx, _ error) error {
			return unauthorized(c)
		},
	})
}

// Identify records the caller forwarded by a fronting proxy. Requests
// without identity headers are anonymous.
func Identify() fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Locals(userLocalsKey, models.UserContext{
			UserID:   strings.TrimSpace(c.Get(HeaderUserID)),
			Username: strings.TrimSpace(c.Get(HeaderUsername)),
		})

		return c.Next()
	}
}

func currentUser(c fiber.Ctx) models.UserContext {
	user, _ := c.Locals(userLocalsKey).(models.UserContext)

	return user
}
