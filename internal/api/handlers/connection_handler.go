package handlers

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	config "github.com/postloom/postloom/configs"
	"github.com/postloom/postloom/internal/platform"
	"github.com/postloom/postloom/internal/service"
	"github.com/postloom/postloom/pkg/utils"
)

const verifierCookie = "pkce_verifier"

type ConnectionHandler struct {
	s   service.ConnectionService
	cfg config.Config
}

func NewConnectionHandler(cfg config.Config, service service.ConnectionService) *ConnectionHandler {
	return &ConnectionHandler{s: service, cfg: cfg}
}

// Connect starts the authorization flow for a platform. State is a short
// lived token carrying the user id so the callback can attribute the grant
// without a session lookup; the PKCE verifier rides in a cookie.
func (h *ConnectionHandler) Connect(c *fiber.Ctx) error {
	userID := GetUserID(c)

	state, err := utils.GenerateToken(h.cfg.SecretKey, fmt.Sprintf("%d", userID), 10*time.Minute)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "something went wrong",
		})
	}

	verifier, err := platform.PKCEVerifier()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "something went wrong",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:     verifierCookie,
		Value:    verifier,
		HTTPOnly: true,
		Path:     "/",
		Expires:  time.Now().Add(10 * time.Minute),
	})

	authURL, err := h.s.ConnectURL(c.Params("platform"), state, verifier)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown platform",
		})
	}
	return c.Redirect(authURL)
}

func (h *ConnectionHandler) Callback(c *fiber.Ctx) error {
	claims, err := utils.ValidateToken(h.cfg.SecretKey, c.Query("state"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}

	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}

	_, err = h.s.Callback(c.Context(), userID, c.Params("platform"), c.Query("code"), c.Cookies(verifierCookie))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "something went wrong",
		})
	}

	c.Cookie(&fiber.Cookie{
		Name:   verifierCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	return c.Redirect(h.cfg.FrontendURL, fiber.StatusTemporaryRedirect)
}

func (h *ConnectionHandler) List(c *fiber.Ctx) error {
	connections, err := h.s.List(c.Context(), GetUserID(c))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list connections",
		})
	}
	return c.Status(fiber.StatusOK).JSON(connections)
}

func (h *ConnectionHandler) Disconnect(c *fiber.Ctx) error {
	connectionID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid connection id",
		})
	}

	err = h.s.Disconnect(c.Context(), GetUserID(c), int64(connectionID))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
