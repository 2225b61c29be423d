package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/session"
	"github.com/ManuelReschke/PixelBoost/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the user context for every request from the
// session. The session is trusted as is; logging users in is done elsewhere.
func UserContextMiddleware(c *fiber.Ctx) error {
	store := session.GetSessionStore()
	if store == nil {
		return anonymous(c)
	}

	sess, err := store.Get(c)
	if err != nil {
		return anonymous(c)
	}

	userID := sessionString(sess.Get(usercontext.KeyUserID))
	if userID == "" {
		return anonymous(c)
	}

	userCtx := usercontext.UserContext{
		UserID:     userID,
		Email:      sessionString(sess.Get(usercontext.KeyEmail)),
		IsLoggedIn: true,
	}
	c.Locals(usercontext.LocalsKey, userCtx)
	c.Locals(usercontext.KeyFromProtected, true)
	c.Locals(usercontext.KeyUserID, userID)

	return c.Next()
}

func anonymous(c *fiber.Ctx) error {
	c.Locals(usercontext.LocalsKey, usercontext.UserContext{IsLoggedIn: false})
	c.Locals(usercontext.KeyFromProtected, false)
	return c.Next()
}

func sessionString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case uint, uint64, int, int64:
		// sessions written by older releases store numeric ids
		return fmt.Sprintf("%d", val)
	default:
		return ""
	}
}
