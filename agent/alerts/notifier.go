package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"sync"
	"time"

	"printwatch/common/logger"
	"printwatch/common/settings"
	"printwatch/common/storage"

	"golang.org/x/time/rate"
)

// SendMailFunc matches smtp.SendMail.
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// NotifierConfig configures the notification dispatcher.
type NotifierConfig struct {
	HTTPClient *http.Client
	// SendMail delivers email; smtp.SendMail when nil.
	SendMail   SendMailFunc
	MaxRetries int
	RetryDelay time.Duration
	Logger     *logger.Logger
}

// Notifier sends alert notifications by email and webhook. Channel settings
// are read on every send.
type Notifier struct {
	settings func() settings.NotificationSettings
	config   NotifierConfig
	client   *http.Client
	sendMail SendMailFunc
	log      *logger.Logger

	mu        sync.Mutex
	limiter   *rate.Limiter
	perMinute int
}

// NewNotifier creates a notifier.
func NewNotifier(current func() settings.NotificationSettings, config NotifierConfig) *Notifier {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = 5 * time.Second
	}
	send := config.SendMail
	if send == nil {
		send = smtp.SendMail
	}
	log := config.Logger
	if log == nil {
		log = logger.Global
	}
	return &Notifier{
		settings: current,
		config:   config,
		client:   client,
		sendMail: send,
		log:      log,
	}
}

// Enabled reports whether email or webhook delivery is switched on.
func (n *Notifier) Enabled() bool {
	cfg := n.settings()
	return cfg.Email.Enabled || cfg.Webhook.Enabled
}

// Dispatch sends one alert notification through every enabled channel,
// waiting for the rate limiter first.
func (n *Notifier) Dispatch(ctx context.Context, subject, message string, alertType storage.AlertType) error {
	cfg := n.settings()
	if !cfg.Email.Enabled && !cfg.Webhook.Enabled {
		return ErrDispatchDisabled
	}
	if err := n.limiterFor(cfg.RatePerMinute).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return n.send(ctx, cfg, subject, message, string(alertType))
}

// TestSend sends a test notification through every enabled channel,
// bypassing the rate limiter and schedule, and reports every failure.
func (n *Notifier) TestSend(ctx context.Context) error {
	cfg := n.settings()
	if !cfg.Email.Enabled && !cfg.Webhook.Enabled {
		return ErrDispatchDisabled
	}
	return n.send(ctx, cfg, "PrintWatch test notification",
		"This is a test notification from PrintWatch. If you received it, delivery works.", "test")
}

func (n *Notifier) send(ctx context.Context, cfg settings.NotificationSettings, subject, message, kind string) error {
	var errs []error
	if cfg.Email.Enabled {
		if err := n.sendEmail(ctx, cfg.Email, subject, message, kind); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		}
	}
	if cfg.Webhook.Enabled {
		if err := n.sendWebhook(ctx, cfg.Webhook, subject, message, kind); err != nil {
			errs = append(errs, fmt.Errorf("webhook: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) limiterFor(perMinute int) *rate.Limiter {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.limiter == nil || perMinute != n.perMinute {
		n.perMinute = perMinute
		if perMinute <= 0 {
			n.limiter = rate.NewLimiter(rate.Inf, 1)
		} else {
			n.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		}
	}
	return n.limiter
}

// sanitizeHeader removes CR, LF and NUL characters from header values
// to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}

func validateEmailAddress(email string) error {
	if strings.ContainsAny(email, "\r\n") {
		return fmt.Errorf("email address contains invalid characters")
	}
	if !strings.Contains(email, "@") || len(email) < 3 {
		return fmt.Errorf("invalid email address format")
	}
	return nil
}

func (n *Notifier) sendEmail(ctx context.Context, cfg settings.EmailSettings, subject, message, kind string) error {
	if cfg.SMTPHost == "" || cfg.From == "" || len(cfg.To) == 0 {
		return fmt.Errorf("incomplete email configuration")
	}
	if err := validateEmailAddress(cfg.From); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	from := sanitizeHeader(cfg.From)

	var to []string
	for _, addr := range cfg.To {
		if err := validateEmailAddress(addr); err != nil {
			if n.log != nil {
				n.log.Warn("Skipping invalid recipient address", "address", addr, "error", err)
			}
			continue
		}
		to = append(to, sanitizeHeader(addr))
	}
	if len(to) == 0 {
		return fmt.Errorf("no valid recipient addresses")
	}

	body := fmt.Sprintf("%s\r\n\r\nType: %s\r\nTime: %s\r\n\r\n---\r\nThis is an automated notification from PrintWatch.\r\n",
		message, kind, time.Now().Format(time.RFC3339))
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		from, strings.Join(to, ", "), sanitizeHeader(subject), body))

	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}
	addr := fmt.Sprintf("%s:%d", cfg.SMTPHost, port)

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPHost)
	}

	var lastErr error
	for i := 0; i < n.config.MaxRetries; i++ {
		if i > 0 {
			if err := n.pause(ctx); err != nil {
				return err
			}
		}
		if lastErr = n.sendMail(addr, auth, from, to, msg); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("email send failed after %d attempts: %w", n.config.MaxRetries, lastErr)
}

// checkWebhookURL accepts absolute http(s) URLs only.
func checkWebhookURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("URL must have a hostname")
	}
	return nil
}

type webhookPayload struct {
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	AlertType string `json:"alert_type"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

func (n *Notifier) sendWebhook(ctx context.Context, cfg settings.WebhookSettings, subject, message, kind string) error {
	if cfg.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}
	if err := checkWebhookURL(cfg.URL); err != nil {
		return err
	}
	data, err := json.Marshal(webhookPayload{
		Subject:   subject,
		Message:   message,
		AlertType: kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Source:    "printwatch",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var lastErr error
	for i := 0; i < n.config.MaxRetries; i++ {
		if i > 0 {
			if err := n.pause(ctx); err != nil {
				return err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(sanitizeHeader(k), sanitizeHeader(v))
		}

		resp, err := n.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return fmt.Errorf("request failed after %d attempts: %w", n.config.MaxRetries, lastErr)
}

func (n *Notifier) pause(ctx context.Context) error {
	t := time.NewTimer(n.config.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
