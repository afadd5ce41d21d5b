package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
)

// Transaction statuses reported by the verify endpoint.
const (
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusReversed   = "reversed"
	StatusAbandoned  = "abandoned"
	StatusOngoing    = "ongoing"
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusQueued     = "queued"
)

type PaystackService struct {
	Client        *http.Client
	BaseURL       string
	CallbackURL   string
	WebhookSecret string
}

// NewPaystackService builds a client whose requests carry the secret key as a
// bearer token.
func NewPaystackService(secretKey, webhookSecret, baseURL, callbackURL string) *PaystackService {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: secretKey, TokenType: "Bearer"})
	client := oauth2.NewClient(context.Background(), src)
	client.Timeout = 15 * time.Second

	if webhookSecret == "" {
		webhookSecret = secretKey
	}
	return &PaystackService{
		Client:        client,
		BaseURL:       strings.TrimRight(baseURL, "/"),
		CallbackURL:   callbackURL,
		WebhookSecret: webhookSecret,
	}
}

type InitializeRequest struct {
	Email       string                 `json:"email"`
	Amount      int64                  `json:"amount"` // kobo
	Reference   string                 `json:"reference"`
	CallbackURL string                 `json:"callback_url,omitempty"`
	Currency    string                 `json:"currency,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type InitializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

type VerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID              int64  `json:"id"`
		Status          string `json:"status"`
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"`
		Currency        string `json:"currency"`
		Channel         string `json:"channel"`
		GatewayResponse string `json:"gateway_response"`
		PaidAt          string `json:"paid_at"`
		Customer        struct {
			Email string `json:"email"`
		} `json:"customer"`
	} `json:"data"`
}

// Verification is the gateway's view of one payment.
type Verification struct {
	Reference       string
	Status          string
	Amount          decimal.Decimal // naira
	Currency        string
	Channel         string
	GatewayResponse string
	CustomerEmail   string
}

func (v *Verification) Succeeded() bool { return v.Status == StatusSuccess }

// InProgress reports a checkout the customer may still complete. An abandoned
// checkout stays payable until the gateway expires it.
func (v *Verification) InProgress() bool {
	switch v.Status {
	case StatusAbandoned, StatusOngoing, StatusPending, StatusProcessing, StatusQueued:
		return true
	}
	return false
}

// Initialize starts a checkout for amount naira and returns the authorization URL.
func (s *PaystackService) Initialize(ctx context.Context, email string, amount decimal.Decimal, reference string, metadata map[string]interface{}) (*InitializeResponse, error) {
	reqBody := InitializeRequest{
		Email:       email,
		Amount:      ToKobo(amount),
		Reference:   reference,
		CallbackURL: s.CallbackURL,
		Currency:    "NGN",
		Metadata:    metadata,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/transaction/initialize", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var apiResp InitializeResponse
	if err := s.do(req, &apiResp); err != nil {
		return nil, err
	}
	if !apiResp.Status {
		return nil, fmt.Errorf("paystack error: %s", apiResp.Message)
	}
	return &apiResp, nil
}

// Verify asks the gateway for the final state of reference. A non-nil error
// means the gateway could not be reached or answered garbage; a payment that
// did not succeed is reported through Verification.Status.
func (s *PaystackService) Verify(ctx context.Context, reference string) (*Verification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	var apiResp VerifyResponse
	if err := s.do(req, &apiResp); err != nil {
		return nil, err
	}

	status := apiResp.Data.Status
	if !apiResp.Status && status == "" {
		status = StatusFailed
	}
	return &Verification{
		Reference:       reference,
		Status:          status,
		Amount:          FromKobo(apiResp.Data.Amount),
		Currency:        apiResp.Data.Currency,
		Channel:         apiResp.Data.Channel,
		GatewayResponse: apiResp.Data.GatewayResponse,
		CustomerEmail:   apiResp.Data.Customer.Email,
	}, nil
}

func (s *PaystackService) do(req *http.Request, out interface{}) error {
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("paystack returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to parse response: %v", err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA512 of body under the webhook secret.
func (s *PaystackService) Sign(body []byte) string {
	h := hmac.New(sha512.New, []byte(s.WebhookSecret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateSignature checks the x-paystack-signature header against the raw body.
func (s *PaystackService) ValidateSignature(incomingSig string, body []byte) bool {
	if incomingSig == "" {
		return false
	}
	return hmac.Equal([]byte(s.Sign(body)), []byte(strings.ToLower(incomingSig)))
}

func ToKobo(naira decimal.Decimal) int64 {
	return naira.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func FromKobo(kobo int64) decimal.Decimal {
	return decimal.New(kobo, -2)
}

// WebhookEvent is the envelope Paystack posts to the webhook URL.
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
	} `json:"data"`
}
