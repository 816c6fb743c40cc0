package handlers

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/ticketdesk/ticket-service/internal/api/dto"
	"github.com/ticketdesk/ticket-service/internal/service"
	apperrors "github.com/ticketdesk/ticket-service/pkg/util/errorutil"
)

// UsersHandler exposes account administration to admins.
type UsersHandler struct {
	auth *service.AuthService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService) *UsersHandler {
	return &UsersHandler{auth: authService}
}

// CreateUser handles POST /api/admin/users.
func (h *UsersHandler) CreateUser(c *fiber.Ctx) error {
	admin, err := currentUser(c)
	if err != nil {
		return err
	}
	var req dto.CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	user, err := h.auth.CreateUser(c.UserContext(), admin, service.CreateUserInput{
		RegisterInput: registerInput(req.UserRegisterRequest),
		Role:          req.Role,
		Level:         req.Level,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}

// ListUsers handles GET /api/admin/users.
func (h *UsersHandler) ListUsers(c *fiber.Ctx) error {
	admin, err := currentUser(c)
	if err != nil {
		return err
	}
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}
	users, err := h.auth.ListUsers(c.UserContext(), admin, c.Query("role"), parseInt(c.Query("limit"), 50), offset)
	if err != nil {
		return err
	}
	items := make([]dto.UserResponse, 0, len(users))
	for i := range users {
		items = append(items, dto.NewUserResponse(&users[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}
