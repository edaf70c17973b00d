package handler

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"boardsync/internal/model"
	"boardsync/internal/room"
)

// BoardHandler serves board metadata and invites over REST
type BoardHandler struct {
	db  *gorm.DB
	hub *room.Hub
}

// NewBoardHandler creates a BoardHandler
func NewBoardHandler(db *gorm.DB, hub *room.Hub) *BoardHandler {
	return &BoardHandler{db: db, hub: hub}
}

// GetBoard returns board metadata for a board code, with the live member
// count when a room is currently open
func (h *BoardHandler) GetBoard(c *fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "board code is required"})
	}

	var board model.Board
	if err := h.db.Where("code = ?", code).First(&board).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "board not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch board"})
	}

	members := 0
	if rm, ok := h.hub.GetRoom(code); ok {
		members = rm.MemberCount()
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"board":       board,
		"liveMembers": members,
	})
}

// InviteRequest is the invite payload
type InviteRequest struct {
	Email string `json:"email"`
}

// Invite records an email invitation to a board. Consumed fire-and-forget
// by the UI; failure comes back as a status message, nothing more.
func (h *BoardHandler) Invite(c *fiber.Ctx) error {
	userID, ok := c.Locals("userID").(int64)
	if !ok || userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	code := c.Params("code")
	var req InviteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "valid email is required"})
	}

	var board model.Board
	if err := h.db.Select("id").Where("code = ?", code).First(&board).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "board not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch board"})
	}

	invite := model.BoardInvite{
		BoardID:   board.ID,
		Email:     email,
		InvitedBy: userID,
		Status:    model.InviteStatusPending,
	}
	if err := h.db.Create(&invite).Error; err != nil {
		log.Printf("[Board] invite create failed for %s: %v", code, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create invite"})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"invite":  invite,
	})
}
