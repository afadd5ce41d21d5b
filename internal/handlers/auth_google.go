package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/models"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/services/referral"
	"github.com/Windi-Fikriyansyah/platform_be_estate/internal/utils"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleOAuthHandler signs users in with Google. New accounts get a wallet
// and, when the start URL carried ?ref=, a referral edge.
type GoogleOAuthHandler struct {
	Auth            *AuthHandler
	GoogleClientID  string
	GoogleSecret    string
	GoogleRedirect  string
	FrontendBaseURL string

	// overridable for tests
	Endpoint    oauth2.Endpoint
	UserInfoURL string
}

func (h *GoogleOAuthHandler) oauthCfg() *oauth2.Config {
	ep := h.Endpoint
	if ep.TokenURL == "" {
		ep = google.Endpoint
	}
	return &oauth2.Config{
		ClientID:     h.GoogleClientID,
		ClientSecret: h.GoogleSecret,
		RedirectURL:  h.GoogleRedirect,
		Endpoint:     ep,
		Scopes:       []string{"openid", "email", "profile"},
	}
}

func randomState(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (h *GoogleOAuthHandler) tempCookie(c *fiber.Ctx, name, value string, maxAge int) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HTTPOnly: true,
		Secure:   h.Auth.Secure,
		SameSite: "Lax",
		MaxAge:   maxAge,
	})
}

func (h *GoogleOAuthHandler) GoogleStart(c *fiber.Ctx) error {
	st := randomState(32)

	h.tempCookie(c, "oauth_state", st, 10*60)
	h.tempCookie(c, "oauth_next", c.Query("next", "/"), 10*60)
	if ref := strings.TrimSpace(c.Query("ref")); ref != "" {
		h.tempCookie(c, "oauth_ref", ref, 10*60)
	}

	return c.Redirect(h.oauthCfg().AuthCodeURL(st), http.StatusTemporaryRedirect)
}

type googleUserInfo struct {
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
}

func (h *GoogleOAuthHandler) GoogleCallback(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return c.Status(fiber.StatusBadRequest).SendString("Missing code/state")
	}
	if st := c.Cookies("oauth_state"); st == "" || st != state {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid state")
	}

	gu, err := h.fetchUser(c, code)
	if err != nil {
		h.Auth.Log.Warn("Google sign-in failed", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).SendString("Google sign-in failed")
	}

	u, err := h.upsert(c, gu, c.Cookies("oauth_ref"))
	if err != nil {
		return fail(c, h.Auth.Log, err)
	}

	next := c.Cookies("oauth_next")
	h.tempCookie(c, "oauth_state", "", -1)
	h.tempCookie(c, "oauth_next", "", -1)
	h.tempCookie(c, "oauth_ref", "", -1)

	if !u.IsActive {
		return c.Redirect(h.FrontendBaseURL+"/auth/login?err="+url.QueryEscape("Account is not active"), http.StatusTemporaryRedirect)
	}
	if _, err := h.Auth.issue(c, u); err != nil {
		return fail(c, h.Auth.Log, err)
	}

	// only same-site paths
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		next = "/"
	}
	return c.Redirect(h.FrontendBaseURL+next, http.StatusTemporaryRedirect)
}

func (h *GoogleOAuthHandler) fetchUser(c *fiber.Ctx, code string) (*googleUserInfo, error) {
	cfg := h.oauthCfg()
	tok, err := cfg.Exchange(c.UserContext(), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	infoURL := h.UserInfoURL
	if infoURL == "" {
		infoURL = googleUserInfoURL
	}
	resp, err := cfg.Client(c.UserContext(), tok).Get(infoURL)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var gu googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&gu); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	gu.Email = strings.ToLower(strings.TrimSpace(gu.Email))
	if gu.Email == "" || !gu.VerifiedEmail {
		return nil, errors.New("no verified email on google account")
	}
	return &gu, nil
}

// upsert finds the user by email or registers one. A bad referral code is
// ignored here since the user cannot correct it mid-redirect.
func (h *GoogleOAuthHandler) upsert(c *fiber.Ctx, gu *googleUserInfo, ref string) (*models.User, error) {
	var u models.User
	err := h.Auth.DB.Where("email = ?", gu.Email).First(&u).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// password is required; a random one disables password login until reset
	hashed, err := utils.HashPassword(randomState(24))
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(gu.Name)
	if name == "" {
		name = strings.Split(gu.Email, "@")[0]
	}
	u = models.User{
		Name:         name,
		Email:        gu.Email,
		Password:     hashed,
		Role:         models.RoleUser,
		IsActive:     true,
		ReferralCode: utils.NewReferralCode(),
	}

	err = h.Auth.DB.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&u).Error; err != nil {
			return err
		}
		if _, err := h.Auth.Ledger.FindOrCreateWallet(tx, u.ID); err != nil {
			return err
		}
		err := h.Auth.Referrals.Register(tx, ref, &u)
		if errors.Is(err, referral.ErrInvalidReferralCode) {
			h.Auth.Log.Info("Ignoring referral code on Google sign-up", zap.String("code", ref))
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	h.Auth.Log.Info("User registered with Google", zap.String("user_id", u.ID.String()))
	return &u, nil
}
