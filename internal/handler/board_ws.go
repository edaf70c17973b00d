package handler

import (
	"context"
	"errors"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"boardsync/internal/auth"
	"boardsync/internal/config"
	"boardsync/internal/model"
	"boardsync/internal/protocol"
	"boardsync/internal/room"
	"boardsync/internal/template"
)

// BoardWSHandler is the connection gateway for the board sync channel
type BoardWSHandler struct {
	hub *room.Hub
	db  *gorm.DB
	jwt *auth.JWTManager
	cfg *config.Config
}

// NewBoardWSHandler creates the gateway
func NewBoardWSHandler(hub *room.Hub, db *gorm.DB, jwt *auth.JWTManager, cfg *config.Config) *BoardWSHandler {
	return &BoardWSHandler{hub: hub, db: db, jwt: jwt, cfg: cfg}
}

// Upgrade authenticates the channel request before the websocket upgrade.
// Admission fails closed: no token or a bad token rejects the connection
// before any room state is touched.
func (h *BoardWSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	boardID := c.Params("boardId")
	if boardID == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	token := auth.TokenFromRequest(c)
	if token == "" {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	nickname, avatar := h.resolveIdentity(claims)

	c.Locals("boardId", boardID)
	c.Locals("userId", claims.UserID)
	c.Locals("nickname", nickname)
	c.Locals("avatar", avatar)
	c.Locals("template", h.templateHint(boardID))

	return c.Next()
}

// resolveIdentity looks the display identity up in the users table, falling
// back to the token claims when the row is missing or the DB is down.
func (h *BoardWSHandler) resolveIdentity(claims *auth.Claims) (nickname, avatar string) {
	nickname = claims.Nickname
	if h.db == nil {
		return nickname, ""
	}

	var user model.User
	if err := h.db.Select("nickname", "profile_img").
		Where("id = ?", claims.UserID).First(&user).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[BoardWS] identity lookup for user %d failed: %v", claims.UserID, err)
		}
		return nickname, ""
	}

	if user.Nickname != "" {
		nickname = user.Nickname
	}
	if user.ProfileImg != nil {
		avatar = *user.ProfileImg
	}
	return nickname, avatar
}

// templateHint fetches the board description and matches it against the
// known template keywords. Best-effort with a bounded timeout; any failure
// just means no bootstrap template.
func (h *BoardWSHandler) templateHint(boardID string) string {
	if h.db == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.Board.MetadataTimeout)
	defer cancel()

	var board model.Board
	if err := h.db.WithContext(ctx).Select("description").
		Where("code = ?", boardID).First(&board).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[BoardWS] metadata lookup for %s failed: %v", boardID, err)
		}
		return ""
	}

	if board.Description == nil {
		return ""
	}
	return template.Match(*board.Description)
}

// HandleWebSocket runs one client's session: join, read loop, teardown
func (h *BoardWSHandler) HandleWebSocket(c *websocket.Conn) {
	boardID, ok1 := c.Locals("boardId").(string)
	userID, ok2 := c.Locals("userId").(int64)
	nickname, ok3 := c.Locals("nickname").(string)
	if !ok1 || !ok2 || !ok3 {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"invalid session"}`))
		c.Close()
		return
	}
	avatar, _ := c.Locals("avatar").(string)
	templateKind, _ := c.Locals("template").(string)

	// Fresh id per connection: the same user in two tabs is two clients.
	client := room.NewClient(uuid.NewString(), userID, nickname, avatar, c)

	var seed []model.Element
	if templateKind != "" {
		seed = template.Generate(templateKind, nickname)
	}

	// Resolution and registration happen in one step under the hub lock
	// so the teardown of an emptying room cannot strand this client.
	rm := h.hub.Join(boardID, client, seed)

	// Disconnect, however it happens, synchronously removes the client
	// from membership, presence and both media sets.
	defer func() {
		rm.Leave(client.ID)
		h.hub.ReleaseIfEmpty(boardID)
		client.Close()
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			break
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed or unknown frames are dropped, never fatal.
			log.Printf("[BoardWS %s] dropping frame from %s: %v", boardID, client.ID, err)
			continue
		}

		rm.Dispatch(client, msg)
	}
}
