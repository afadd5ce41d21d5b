package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
)

// Message is one user-facing notification.
type Message struct {
	Kind    string                 `json:"kind"`
	Title   string                 `json:"title"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Notifier persists a notification, pushes it to live websocket clients and
// publishes it on the user's Redis channel. Failures are logged, never returned:
// notifications must not affect the operation that produced them.
type Notifier struct {
	DB  *gorm.DB
	Hub *Hub
	RDB *redis.Client
	Log *zap.Logger
}

func NewNotifier(db *gorm.DB, hub *Hub, rdb *redis.Client, log *zap.Logger) *Notifier {
	return &Notifier{DB: db, Hub: hub, RDB: rdb, Log: log}
}

func (n *Notifier) Notify(ctx context.Context, userID uuid.UUID, msg Message) {
	row := models.Notification{
		UserID:  userID,
		Kind:    msg.Kind,
		Title:   msg.Title,
		Message: msg.Message,
	}
	if msg.Data != nil {
		if b, err := json.Marshal(msg.Data); err == nil {
			row.Data = datatypes.JSON(b)
		}
	}

	if n.DB != nil {
		if err := n.DB.WithContext(ctx).Create(&row).Error; err != nil {
			n.Log.Warn("Failed to persist notification",
				zap.String("user_id", userID.String()), zap.String("kind", msg.Kind), zap.Error(err))
		}
	}

	payload := map[string]interface{}{
		"type":         "notification",
		"notification": row,
		"data":         msg.Data,
	}

	if n.Hub != nil {
		n.Hub.SendToUser(userID, payload)
	}

	if n.RDB != nil {
		b, _ := json.Marshal(payload)
		if err := n.RDB.Publish(ctx, NotificationChannel(userID.String()), b).Err(); err != nil {
			n.Log.Warn("Failed to publish notification",
				zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, uuid.UUID, Message) {}

// Recorder keeps notifications in memory, for tests.
type Recorder struct {
	Sent map[uuid.UUID][]Message
}

func NewRecorder() *Recorder { return &Recorder{Sent: map[uuid.UUID][]Message{}} }

func (r *Recorder) Notify(_ context.Context, userID uuid.UUID, msg Message) {
	r.Sent[userID] = append(r.Sent[userID], msg)
}

// Sender is what services depend on to notify users.
type Sender interface {
	Notify(ctx context.Context, userID uuid.UUID, msg Message)
}
