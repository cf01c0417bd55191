package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/meter/pkg/entitlement"
)

// userRefKey is the custom data field carrying the initiating user id.
const userRefKey = "user_id"

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string   `env:"PADDLE_API_KEY,required"`
	WebhookSecret string   `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string   `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	ProPriceIDs   []string `env:"PADDLE_PRO_PRICE_IDS" envSeparator:","`
}

// PaddleProvider implements Provider for Paddle Billing.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a Paddle provider.
func NewPaddleProvider(cfg PaddleConfig) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
	}, nil
}

// CreateCheckout creates a Paddle transaction with a hosted checkout.
func (p *PaddleProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutLink, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	if req.UserID == "" {
		return nil, entitlement.ErrUnauthenticated
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	txReq := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{userRefKey: req.UserID},
	}
	if req.Email != "" {
		txReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(req.SuccessURL)}
	}

	tx, err := p.client.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutLink{
		URL:       *tx.Checkout.URL,
		Ref:       tx.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// GetCheckout fetches the Paddle transaction identified by ref.
func (p *PaddleProvider) GetCheckout(ctx context.Context, ref string) (*Checkout, error) {
	tx, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{TransactionID: ref})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch paddle transaction: %w", err)
	}

	c := &Checkout{
		Ref:       tx.ID,
		UserID:    customString(tx.CustomData, userRefKey),
		Completed: transactionPaid(string(tx.Status)),
	}
	if tx.CustomerID != nil {
		c.CustomerRef = *tx.CustomerID
	}
	if tx.SubscriptionID != nil {
		c.SubscriptionRef = *tx.SubscriptionID
	}
	if len(tx.Items) > 0 {
		c.PriceID = tx.Items[0].Price.ID
	}
	if tx.BillingPeriod != nil {
		c.PeriodEnd = parseTime(tx.BillingPeriod.EndsAt)
	}
	return c, nil
}

// ParseWebhook verifies the Paddle-Signature header and decodes the event.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrWebhookVerificationFailed, err)
	}
	if !valid {
		return nil, ErrWebhookVerificationFailed
	}
	return parsePaddleEvent(payload)
}

type paddlePeriod struct {
	EndsAt string `json:"ends_at"`
}

type paddleItem struct {
	PriceID string `json:"price_id"`
	Price   *struct {
		ID string `json:"id"`
	} `json:"price"`
}

type paddleEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID                   string         `json:"id"`
		Status               string         `json:"status"`
		CustomerID           string         `json:"customer_id"`
		SubscriptionID       string         `json:"subscription_id"`
		CustomData           map[string]any `json:"custom_data"`
		CurrentBillingPeriod *paddlePeriod  `json:"current_billing_period"`
		BillingPeriod        *paddlePeriod  `json:"billing_period"`
		Items                []paddleItem   `json:"items"`
	} `json:"data"`
}

func parsePaddleEvent(payload []byte) (*Event, error) {
	var pe paddleEvent
	if err := json.Unmarshal(payload, &pe); err != nil {
		return nil, errors.Join(ErrInvalidWebhookPayload, err)
	}
	if pe.EventType == "" {
		return nil, ErrInvalidWebhookPayload
	}

	d := pe.Data
	e := &Event{
		ID:            pe.EventID,
		Type:          mapPaddleEventType(pe.EventType, d.Status),
		ProviderEvent: pe.EventType,
		UserID:        customString(d.CustomData, userRefKey),
		CustomerRef:   d.CustomerID,
	}
	if len(d.Items) > 0 {
		e.PriceID = d.Items[0].PriceID
		if d.Items[0].Price != nil && d.Items[0].Price.ID != "" {
			e.PriceID = d.Items[0].Price.ID
		}
	}

	switch {
	case strings.HasPrefix(pe.EventType, "subscription."):
		e.SubscriptionRef = d.ID
		e.Status = mapPaddleStatus(d.Status)
		if d.CurrentBillingPeriod != nil {
			e.PeriodEnd = parseTime(d.CurrentBillingPeriod.EndsAt)
		}
	case strings.HasPrefix(pe.EventType, "transaction."):
		e.CheckoutRef = d.ID
		e.SubscriptionRef = d.SubscriptionID
		if d.BillingPeriod != nil {
			e.PeriodEnd = parseTime(d.BillingPeriod.EndsAt)
		}
	}
	return e, nil
}

func mapPaddleEventType(eventType, status string) EventType {
	switch eventType {
	case "transaction.completed", "transaction.paid":
		return EventCheckoutCompleted
	case "subscription.created", "subscription.activated":
		return EventSubscriptionCreated
	case "subscription.updated", "subscription.resumed":
		if mapPaddleStatus(status) == entitlement.StatusPastDue {
			return EventSubscriptionPastDue
		}
		return EventSubscriptionUpdated
	case "subscription.past_due":
		return EventSubscriptionPastDue
	case "subscription.canceled", "subscription.paused":
		return EventSubscriptionCancelled
	default:
		return EventType(eventType)
	}
}

// mapPaddleStatus folds Paddle's subscription statuses onto ours.
// Trialing counts as active; paused subscriptions grant nothing.
func mapPaddleStatus(status string) entitlement.SubscriptionStatus {
	switch strings.ToLower(status) {
	case "active", "trialing":
		return entitlement.StatusActive
	case "past_due":
		return entitlement.StatusPastDue
	case "canceled", "cancelled", "paused":
		return entitlement.StatusCanceled
	default:
		return entitlement.StatusNone
	}
}

func transactionPaid(status string) bool {
	return status == "completed" || status == "paid"
}

func customString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	v, _ := data[key].(string)
	return v
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
