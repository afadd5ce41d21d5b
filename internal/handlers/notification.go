package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/realtime"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

type NotificationHandler struct {
	DB        *gorm.DB
	Hub       *realtime.Hub
	JWTSecret string
	Log       *zap.Logger
}

func NewNotificationHandler(db *gorm.DB, hub *realtime.Hub, secret string, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{DB: db, Hub: hub, JWTSecret: secret, Log: log}
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	f, err := pageFilter(c)
	if err != nil {
		return fail(c, h.Log, err)
	}

	q := h.DB.WithContext(c.UserContext()).Model(&models.Notification{}).Where("user_id = ?", uid)
	if c.QueryBool("unread", false) {
		q = q.Where("read_at IS NULL")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fail(c, h.Log, err)
	}
	items := []models.Notification{}
	if err := q.Order("created_at DESC").Offset((f.Page - 1) * f.Limit).Limit(f.Limit).Find(&items).Error; err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "", paged(items, total, f))
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return fail(c, h.Log, err)
	}

	res := h.DB.WithContext(c.UserContext()).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, uid).
		Where("read_at IS NULL").
		Update("read_at", time.Now())
	if res.Error != nil {
		return fail(c, h.Log, res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		h.DB.Model(&models.Notification{}).Where("id = ? AND user_id = ?", id, uid).Count(&n)
		if n == 0 {
			return fail(c, h.Log, apperr.NotFound("notification not found"))
		}
	}
	return ok(c, fiber.StatusOK, "Notification marked as read", nil)
}

// Upgrade authenticates the websocket handshake with the token query param
// and rejects non-websocket requests.
func (h *NotificationHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	claims, err := utils.ParseJWT(h.JWTSecret, c.Query("token"))
	if err != nil {
		return fiber.ErrUnauthorized
	}
	uid, err := uuid.Parse(claims.UserID)
	if err != nil {
		return fiber.ErrUnauthorized
	}
	c.Locals("wsUserId", uid)
	return c.Next()
}

// Stream pushes the user's notifications until the socket closes.
func (h *NotificationHandler) Stream(c *websocket.Conn) {
	uid, _ := c.Locals("wsUserId").(uuid.UUID)

	client := &realtime.Client{
		ID:     uuid.New().String(),
		UserID: uid,
		Conn:   realtime.NewWebSocketConn(c),
		Send:   make(chan []byte, 256),
	}

	h.Hub.RegisterClient(client)
	h.Log.Debug("Notification stream opened", zap.String("user_id", uid.String()))
	defer func() {
		h.Hub.UnregisterClient(client)
		h.Log.Debug("Notification stream closed", zap.String("user_id", uid.String()))
	}()

	go client.Conn.WritePump(client.Send)

	client.Conn.ReadPump()
}

type BroadcastReq struct {
	Title   string `json:"title" validate:"required,max=120"`
	Message string `json:"message" validate:"required,max=1000"`
}

// Broadcast pushes an announcement to every open notification stream. It is
// not persisted; users who are offline never see it.
func (h *NotificationHandler) Broadcast(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}
	var req BroadcastReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Message = strings.TrimSpace(req.Message)
	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}

	msg := realtime.Message{Kind: "announcement", Title: req.Title, Message: req.Message}
	h.Hub.BroadcastJSON(msg)
	h.Log.Info("Announcement broadcast", zap.String("admin_id", uid.String()), zap.String("title", req.Title))
	return ok(c, fiber.StatusAccepted, "Announcement sent", msg)
}
