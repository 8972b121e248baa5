package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/multierr"

	"prtgalert/internal/config"
	"prtgalert/internal/logger"
	"prtgalert/internal/models"
)

const probeTimeout = 5 * time.Second

// WhatsApp delivers push messages through a Baileys-style HTTP gateway
// exposing GET /status and POST /send.
type WhatsApp struct {
	client      *resty.Client
	recipients  []string
	countryCode string
}

type gatewayStatus struct {
	Connected bool `json:"connected"`
}

type sendRequest struct {
	Number  string `json:"number"`
	Message string `json:"message"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// NewWhatsApp creates a gateway client for the configured recipients.
func NewWhatsApp(cfg config.WhatsAppConfig) *WhatsApp {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	var recipients []string
	for _, r := range cfg.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}

	return &WhatsApp{
		client:      client,
		recipients:  recipients,
		countryCode: cfg.CountryCode,
	}
}

// Name implements Channel.
func (w *WhatsApp) Name() string { return "whatsapp" }

// Recipients returns the configured recipient count.
func (w *WhatsApp) Recipients() int { return len(w.recipients) }

// Probe asks the gateway whether its session is connected.
func (w *WhatsApp) Probe(ctx context.Context) (bool, error) {
	log := logger.WithComponent("whatsapp")
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := w.client.R().SetContext(ctx).Get("/status")
	if err != nil {
		log.Error().Err(err).Msg("cannot reach push gateway")
		return false, fmt.Errorf("%w: status: %v", ErrDelivery, err)
	}
	if resp.IsError() {
		log.Error().Int("status", resp.StatusCode()).Msg("push gateway not responding")
		return false, fmt.Errorf("%w: status returned %d", ErrDelivery, resp.StatusCode())
	}

	var st gatewayStatus
	if err := json.Unmarshal(resp.Body(), &st); err != nil {
		return false, fmt.Errorf("%w: decode status: %v", ErrDelivery, err)
	}
	if !st.Connected {
		log.Warn().Msg("push gateway is running but not connected, scan the QR code")
	}
	return st.Connected, nil
}

// Send delivers the notification text to every recipient. The gateway is
// probed first; each recipient is attempted even if another fails.
func (w *WhatsApp) Send(ctx context.Context, env *models.Envelope) error {
	if len(w.recipients) == 0 {
		return nil
	}
	ready, err := w.Probe(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return ErrGatewayNotReady
	}
	return w.SendText(ctx, env.Notification.Text())
}

// SendText posts a raw message to every recipient.
func (w *WhatsApp) SendText(ctx context.Context, message string) error {
	log := logger.WithComponent("whatsapp")
	var errs error
	for _, recipient := range w.recipients {
		number := NormalizeNumber(recipient, w.countryCode)
		if number == "" {
			log.Warn().Str("recipient", recipient).Msg("recipient has no digits, skipping")
			continue
		}
		if err := w.sendOne(ctx, number, message); err != nil {
			log.Error().Err(err).Str("recipient", recipient).Msg("push delivery failed")
			errs = multierr.Append(errs, fmt.Errorf("recipient %s: %w", recipient, err))
			continue
		}
		log.Info().Str("recipient", recipient).Msg("push alert sent")
	}
	return errs
}

func (w *WhatsApp) sendOne(ctx context.Context, number, message string) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(sendRequest{Number: number, Message: message}).
		Post("/send")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: gateway returned %d: %s", ErrDelivery, resp.StatusCode(), resp.String())
	}

	var out sendResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrDelivery, err)
	}
	if !out.Success {
		return fmt.Errorf("%w: gateway rejected message: %s", ErrDelivery, resp.String())
	}
	return nil
}

// NormalizeNumber strips everything but digits and prefixes the country
// code when it is missing.
func NormalizeNumber(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	number := b.String()
	if number == "" {
		return ""
	}
	if countryCode != "" && !strings.HasPrefix(number, countryCode) {
		number = countryCode + number
	}
	return number
}
