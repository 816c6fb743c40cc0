package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// RequireAction rejects callers whose role is not granted action.
func RequireAction(action Action) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
		}
		if err := Authorize(principal.User, action); err != nil {
			return err
		}
		return c.Next()
	}
}

// RequireAnyRole ensures the caller is authenticated.
func RequireAnyRole() fiber.Handler {
	return RequireAction(ActionViewTickets)
}
