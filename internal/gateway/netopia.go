package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/decodorul-oficial/billing/internal/crypto"
)

// DefaultTimeout is the fixed per-request timeout policy for charge
// submissions.
const DefaultTimeout = 30 * time.Second

// Config contains configuration for the Netopia client.
type Config struct {
	// APIKey is the bearer credential sent with every request. It is also
	// embedded in the order envelope as the merchant signature, per the
	// provider's protocol.
	APIKey string

	// SecretKey is the shared secret used to derive the payload
	// encryption key and to sign requests.
	SecretKey string

	// BaseURL is the provider endpoint (e.g. "https://sandboxsecure.mobilpay.ro").
	BaseURL string

	// ReturnURL and ConfirmURL are where the provider redirects and
	// posts IPN confirmations. Both live on our public API, outside this
	// engine.
	ReturnURL  string
	ConfirmURL string

	// ContactDomain is the domain used for the derived billing-contact
	// email on recurring charges.
	ContactDomain string

	// Timeout for one charge request. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("netopia: API key is required")
	}
	if c.SecretKey == "" {
		return errors.New("netopia: secret key is required")
	}
	if c.BaseURL == "" {
		return errors.New("netopia: base URL is required")
	}
	return nil
}

// NetopiaClient implements Client against the Netopia payments API.
// It is stateless: every call builds one authenticated, encrypted request
// and interprets the response.
type NetopiaClient struct {
	cfg    Config
	cipher *crypto.PayloadCipher
	http   *http.Client
	logger *slog.Logger
}

// NewNetopiaClient creates a Netopia gateway client.
func NewNetopiaClient(cfg Config, logger *slog.Logger) (*NetopiaClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ContactDomain == "" {
		cfg.ContactDomain = "decodoruloficial.ro"
	}

	cipher, err := crypto.NewPayloadCipher(cfg.SecretKey)
	if err != nil {
		return nil, err
	}

	return &NetopiaClient{
		cfg:    cfg,
		cipher: cipher,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

// chargeRequest is the outer request body: the encrypted order envelope,
// its HMAC signature, and the timestamp the signature covers.
type chargeRequest struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// chargeResponse is the provider's JSON response. On error only Message is
// populated.
type chargeResponse struct {
	NetopiaOrderID string `json:"netopia_order_id"`
	Status         string `json:"status"`
	Message        string `json:"message"`
}

// ChargeStoredToken implements Client.
func (c *NetopiaClient) ChargeStoredToken(ctx context.Context, params ChargeParams) (*ChargeResult, error) {
	if params.Token == "" {
		return nil, ErrMissingToken
	}

	envelope := c.buildEnvelope(params)

	plaintext, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("netopia: failed to marshal order envelope: %w", err)
	}

	encrypted, err := c.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("netopia: failed to encrypt payload: %w", err)
	}

	timestamp := time.Now().Unix()
	body, err := json.Marshal(chargeRequest{
		Payload:   encrypted,
		Signature: c.cipher.Sign(encrypted, timestamp),
		Timestamp: timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("netopia: failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("netopia: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	var parsed chargeResponse
	// A non-JSON body on an error status still classifies as a rejection;
	// keep whatever message we could parse.
	_ = json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("charge rejected by gateway",
			"order_id", params.OrderID,
			"http_status", resp.StatusCode,
			"message", parsed.Message,
		)
		return nil, &RejectedError{Reason: parsed.Message, HTTPStatus: resp.StatusCode}
	}

	c.logger.Info("charge accepted by gateway",
		"order_id", params.OrderID,
		"gateway_order_id", parsed.NetopiaOrderID,
		"status", parsed.Status,
	)

	return &ChargeResult{
		GatewayOrderID: parsed.NetopiaOrderID,
		Status:         parsed.Status,
		RawPayload:     json.RawMessage(raw),
	}, nil
}

// buildEnvelope constructs the provider's order envelope for a recurring
// charge. The billing contact is a stub re-derived from the subscription,
// as the provider only requires a syntactically valid contact for
// token-based charges.
func (c *NetopiaClient) buildEnvelope(params ChargeParams) map[string]any {
	return map[string]any{
		"order": map[string]any{
			"$": map[string]any{
				"id":        params.OrderID.String(),
				"timestamp": time.Now().UnixMilli(),
				"type":      "card",
			},
			"signature": c.cfg.APIKey,
			"token":     params.Token,
			"url": map[string]any{
				"return":  c.cfg.ReturnURL,
				"confirm": c.cfg.ConfirmURL,
			},
			"invoice": map[string]any{
				"$": map[string]any{
					"currency": params.Currency,
					"amount":   float64(params.AmountCents) / 100,
				},
				"details": fmt.Sprintf("Recurring payment for subscription %s", params.SubscriptionID),
				"contact_info": map[string]any{
					"billing": map[string]any{
						"$":            map[string]any{"type": "person"},
						"first_name":   "Recurring",
						"last_name":    "Payment",
						"email":        fmt.Sprintf("recurring-%s@%s", params.SubscriptionID, c.cfg.ContactDomain),
						"mobile_phone": "0000000000",
					},
				},
			},
			"ipn_cipher": "aes-256-cbc",
		},
	}
}

// classifyTransportError maps a transport failure onto the typed gateway
// errors. Timeouts and context deadlines become ErrTimeout; everything
// else that prevented a response is ErrUnreachable.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
