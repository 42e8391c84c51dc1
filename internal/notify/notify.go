// Package notify delivers WhatsApp messages to field staff and customers. Delivery is best-effort:
// callers log failures and carry on.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"channelhub/backend/internal/logging"
)

type Receipt struct {
	Phone     string    `json:"phone"`
	Delivered bool      `json:"delivered"`
	SentAt    time.Time `json:"sent_at"`
}

type Gateway interface {
	Send(ctx context.Context, phone string, message string) (Receipt, error)
}

// WhatsAppConfig configures the HTTP gateway. CountryPrefix is prepended to bare national numbers.
type WhatsAppConfig struct {
	APIURL        string
	APIToken      string
	CountryPrefix string
	Timeout       time.Duration
}

type WhatsApp struct {
	cfg    WhatsAppConfig
	client *http.Client
	logger *zap.Logger
}

func NewWhatsApp(cfg WhatsAppConfig, logger *zap.Logger) *WhatsApp {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WhatsApp{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.Or(logger).Named("notify"),
	}
}

func (w *WhatsApp) Send(ctx context.Context, phone string, message string) (Receipt, error) {
	mobile := w.formatMobile(phone)
	receipt := Receipt{Phone: mobile, SentAt: time.Now().UTC()}
	if mobile == "" {
		return receipt, fmt.Errorf("notify: empty phone number")
	}

	endpoint, err := url.Parse(w.cfg.APIURL)
	if err != nil {
		return receipt, fmt.Errorf("notify: parse api url: %w", err)
	}
	query := endpoint.Query()
	query.Set("api_token", w.cfg.APIToken)
	query.Set("mobile", mobile)
	query.Set("message", message)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return receipt, fmt.Errorf("notify: build request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return receipt, fmt.Errorf("notify: send to %s: %w", mobile, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return receipt, fmt.Errorf("notify: gateway returned %d for %s", resp.StatusCode, mobile)
	}

	receipt.Delivered = true
	w.logger.Debug("whatsapp message sent", zap.String("mobile", mobile))
	return receipt, nil
}

func (w *WhatsApp) formatMobile(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return ""
	}
	if w.cfg.CountryPrefix != "" && len(digits) == 10 {
		return w.cfg.CountryPrefix + digits
	}
	return digits
}

// Noop accepts every message without sending it.
type Noop struct{}

func (Noop) Send(_ context.Context, phone string, _ string) (Receipt, error) {
	return Receipt{Phone: phone, SentAt: time.Now().UTC()}, nil
}

type Message struct {
	Phone string
	Text  string
}

// Recorder keeps every message it is given. Set Err to simulate a delivery failure.
type Recorder struct {
	mu       sync.Mutex
	Err      error
	messages []Message
}

func (r *Recorder) Send(_ context.Context, phone string, message string) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Phone: phone, Text: message})
	if r.Err != nil {
		return Receipt{Phone: phone, SentAt: time.Now().UTC()}, r.Err
	}
	return Receipt{Phone: phone, Delivered: true, SentAt: time.Now().UTC()}, nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
