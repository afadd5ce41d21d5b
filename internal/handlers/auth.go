package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/apperr"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/middleware"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/ledger"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/referral"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

type AuthHandler struct {
	DB        *gorm.DB
	Ledger    *ledger.Service
	Referrals *referral.Engine
	JWTSecret string
	Expires   int
	Secure    bool
	Log       *zap.Logger
}

type RegisterReq struct {
	Name         string `json:"name" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required,min=6"`
	Phone        string `json:"phone" validate:"omitempty,min=8"`
	ReferralCode string `json:"referralCode"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	req.Password = strings.TrimSpace(req.Password)

	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}

	var existing models.User
	if err := h.DB.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		errs := utils.FieldErrors{}
		errs.Add("email", "Email is already registered")
		return validationFail(c, errs)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, h.Log, err)
	}

	pw, err := utils.HashPassword(req.Password)
	if err != nil {
		return fail(c, h.Log, err)
	}

	u := models.User{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		Password:     pw,
		Role:         models.RoleUser,
		IsActive:     true,
		ReferralCode: utils.NewReferralCode(),
	}

	err = h.DB.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&u).Error; err != nil {
			return err
		}
		if _, err := h.Ledger.FindOrCreateWallet(tx, u.ID); err != nil {
			return err
		}
		return h.Referrals.Register(tx, req.ReferralCode, &u)
	})
	if errors.Is(err, referral.ErrInvalidReferralCode) {
		errs := utils.FieldErrors{}
		errs.Add("referralCode", "Referral code is not valid")
		return validationFail(c, errs)
	}
	if err != nil {
		return fail(c, h.Log, err)
	}

	h.Log.Info("User registered", zap.String("user_id", u.ID.String()), zap.Bool("referred", u.ReferredBy != nil))

	token, err := h.issue(c, &u)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusCreated, "Registration successful", fiber.Map{
		"token": token,
		"user":  userView(&u),
	})
}

type LoginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginReq
	if err := c.BodyParser(&req); err != nil {
		return badBody(c)
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Password = strings.TrimSpace(req.Password)

	if errs := utils.ValidateStruct(req); errs != nil {
		return validationFail(c, errs)
	}

	var u models.User
	if err := h.DB.Where("email = ?", req.Email).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(c, h.Log, apperr.Unauthorized("Invalid email or password"))
		}
		return fail(c, h.Log, err)
	}
	if !u.IsActive || u.Role == models.RoleSystem {
		return fail(c, h.Log, apperr.Forbidden("Account is not active"))
	}
	if !utils.CheckPassword(u.Password, req.Password) {
		return fail(c, h.Log, apperr.Unauthorized("Invalid email or password"))
	}

	token, err := h.issue(c, &u)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return ok(c, fiber.StatusOK, "Login successful", fiber.Map{
		"token": token,
		"user":  userView(&u),
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     middleware.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HTTPOnly: true,
		Secure:   h.Secure,
		SameSite: "Lax",
	})
	return ok(c, fiber.StatusOK, "Logout successful", nil)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	uid, err := currentUser(c)
	if err != nil {
		return fail(c, h.Log, err)
	}

	var u models.User
	if err := h.DB.Preload("Wallet").First(&u, "id = ?", uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fail(c, h.Log, apperr.ErrUserNotFound)
		}
		return fail(c, h.Log, err)
	}

	view := userView(&u)
	view["wallet"] = u.Wallet
	return ok(c, fiber.StatusOK, "", view)
}

// issue signs a token for u and sets it as the session cookie.
func (h *AuthHandler) issue(c *fiber.Ctx, u *models.User) (string, error) {
	token, err := utils.SignJWT(h.JWTSecret, u.ID.String(), string(u.Role), h.Expires)
	if err != nil {
		return "", err
	}
	c.Cookie(&fiber.Cookie{
		Name:     middleware.TokenCookie,
		Value:    token,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.Secure,
		SameSite: "Lax",
		MaxAge:   h.Expires * 60,
	})
	return token, nil
}

func userView(u *models.User) fiber.Map {
	return fiber.Map{
		"id":            u.ID,
		"name":          u.Name,
		"email":         u.Email,
		"phone":         u.Phone,
		"role":          u.Role,
		"rank":          u.Rank,
		"referral_code": u.ReferralCode,
		"referred_by":   u.ReferredBy,
	}
}
