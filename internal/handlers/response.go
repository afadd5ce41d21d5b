package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/middleware"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

func ok(c *fiber.Ctx, status int, msg string, data interface{}) error {
	body := fiber.Map{"success": true, "data": data}
	if msg != "" {
		body["message"] = msg
	}
	return c.Status(status).JSON(body)
}

func validationFail(c *fiber.Ctx, errs utils.FieldErrors) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": "Validation error",
		"errors":  errs,
	})
}

func badBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": "Invalid request body",
	})
}

// fail writes err with the status it carries. Unknown errors are logged and
// reported as a generic 500.
func fail(c *fiber.Ctx, log *zap.Logger, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return c.Status(apperr.Status(err)).JSON(fiber.Map{"success": false, "message": apperr.Message(err)})
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"success": false, "message": fe.Message})
	}

	log.Error("Unhandled error",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"message": "Internal server error",
	})
}

// ErrorHandler is the app-wide fallback for errors returned by middleware.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		return fail(c, log, err)
	}
}

func currentUser(c *fiber.Ctx) (uuid.UUID, error) {
	uid, ok := middleware.UserID(c)
	if !ok {
		return uuid.Nil, apperr.ErrUnauthorized
	}
	return uid, nil
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, apperr.BadRequest("invalid " + name)
	}
	return id, nil
}

// pageFilter reads page, limit, type, status, from and to (RFC 3339 or
// YYYY-MM-DD) from the query string.
func pageFilter(c *fiber.Ctx) (ledger.Filter, error) {
	f := ledger.Filter{
		Page:   c.QueryInt("page", 1),
		Limit:  c.QueryInt("limit", ledger.DefaultPageSize),
		Type:   models.TransactionType(c.Query("type")),
		Status: models.TransactionStatus(c.Query("status")),
	}
	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := parseTime(raw)
		if err != nil {
			return f, apperr.BadRequest("invalid " + name + " date")
		}
		*dst = &t
	}
	f.Normalize()
	return f, nil
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func paged(items interface{}, total int64, f ledger.Filter) fiber.Map {
	return fiber.Map{
		"items": items,
		"total": total,
		"page":  f.Page,
		"limit": f.Limit,
		"pages": (total + int64(f.Limit) - 1) / int64(f.Limit),
	}
}
