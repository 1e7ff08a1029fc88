package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrSMSDisabled signals that SMS delivery is disabled via configuration.
var ErrSMSDisabled = errors.New("sms: delivery disabled")

// Message represents an outbound text message.
type Message struct {
	To   string
	Body string
}

// Result reports the provider outcome for a single message.
type Result struct {
	MessageID string
}

// Sender defines behaviour for sending SMS messages.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// GatewaySettings capture the runtime configuration for the HTTP SMS gateway.
type GatewaySettings struct {
	Enabled bool
	APIURL  string
	APIKey  string
	Sender  string
	Timeout time.Duration
}

type doFunc func(req *http.Request) (*http.Response, error)

type gatewaySender struct {
	cfg GatewaySettings
	do  doFunc
}

// NewGatewaySender constructs a Sender backed by a JSON-over-HTTP SMS gateway.
func NewGatewaySender(cfg GatewaySettings) (Sender, error) {
	if err := validateGatewayConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: cfg.Timeout}
	return &gatewaySender{cfg: cfg, do: client.Do}, nil
}

func validateGatewayConfig(cfg GatewaySettings) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.APIURL) == "" {
		return errors.New("sms: api url is required when enabled")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return errors.New("sms: api key is required when enabled")
	}
	return nil
}

type gatewayRequest struct {
	To   string `json:"to"`
	From string `json:"from,omitempty"`
	Body string `json:"body"`
}

type gatewayResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

func (s *gatewaySender) Send(ctx context.Context, msg Message) (Result, error) {
	if !s.cfg.Enabled {
		return Result{}, ErrSMSDisabled
	}

	to := strings.TrimSpace(msg.To)
	if to == "" {
		return Result{}, errors.New("sms: recipient phone number is required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return Result{}, errors.New("sms: message body is required")
	}

	payload, err := json.Marshal(gatewayRequest{
		To:   to,
		From: s.cfg.Sender,
		Body: msg.Body,
	})
	if err != nil {
		return Result{}, fmt.Errorf("sms: marshal request: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.do(req)
	if err != nil {
		return Result{}, fmt.Errorf("sms: gateway request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed gatewayResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parsed.Error != "" {
			return Result{}, fmt.Errorf("sms: gateway rejected message: %s", parsed.Error)
		}
		return Result{}, fmt.Errorf("sms: gateway returned status %d", resp.StatusCode)
	}

	return Result{MessageID: parsed.MessageID}, nil
}
