package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wneessen/go-mail"
)

// FailureEvent describes a print task that ended in the failed state.
type FailureEvent struct {
	UploaderEmail string
	TaskId        uint
	Filename      string
	Reason        string
}

// Notifier delivers failure notifications to the uploader. Delivery is best
// effort: callers log a returned error and move on, the task's terminal
// state never depends on it.
type Notifier interface {
	NotifyFailure(ctx context.Context, event FailureEvent) error
}

// NoopNotifier serves tests and deployments with no transport configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyFailure(ctx context.Context, event FailureEvent) error {
	slog.Info("failure notification suppressed, no notifier configured", "task_id", event.TaskId)
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string
}

// EmailNotifier sends a plain-text failure mail over SMTP with STARTTLS.
type EmailNotifier struct {
	cfg SMTPConfig
}

var _ Notifier = (*EmailNotifier)(nil)

func NewEmailNotifier(cfg SMTPConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

func (n *EmailNotifier) NotifyFailure(ctx context.Context, event FailureEvent) error {
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.Sender); err != nil {
		return fmt.Errorf("invalid sender address %q: %w", n.cfg.Sender, err)
	}
	if err := msg.To(event.UploaderEmail); err != nil {
		return fmt.Errorf("invalid recipient address %q: %w", event.UploaderEmail, err)
	}

	msg.Subject(fmt.Sprintf("Print Task Failed: %s", event.Filename))
	msg.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Hello,\n\nThe file '%s' scheduled for printing could not be processed.\nError: %s\n\nYou may need to print this file manually.\nTask ID: %d\n",
		event.Filename, event.Reason, event.TaskId,
	))

	client, err := mail.NewClient(n.cfg.Host,
		mail.WithPort(n.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.Username),
		mail.WithPassword(n.cfg.Password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("could not create SMTP client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("could not send failure mail to %s: %w", event.UploaderEmail, err)
	}

	slog.Info("failure mail sent", "task_id", event.TaskId, "email", event.UploaderEmail)
	return nil
}

type taskFailedPayload struct {
	Event         string    `json:"event"`
	Timestamp     time.Time `json:"timestamp"`
	TaskId        uint      `json:"task_id"`
	Filename      string    `json:"filename"`
	UploaderEmail string    `json:"uploader_email"`
	Reason        string    `json:"reason"`
}

// WebhookNotifier POSTs a task_failed event to a configured endpoint, for
// deployments that feed failures into chat or monitoring instead of (or next
// to) mail.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

var _ Notifier = (*WebhookNotifier)(nil)

func NewWebhookNotifier(url string) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &WebhookNotifier{client: client, url: url}
}

func (n *WebhookNotifier) NotifyFailure(ctx context.Context, event FailureEvent) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(taskFailedPayload{
			Event:         "task_failed",
			Timestamp:     time.Now().UTC(),
			TaskId:        event.TaskId,
			Filename:      event.Filename,
			UploaderEmail: event.UploaderEmail,
			Reason:        event.Reason,
		}).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("could not deliver webhook to %s: %w", n.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook endpoint %s returned status %d", n.url, resp.StatusCode())
	}
	return nil
}

// MultiNotifier fans one event out to several transports and reports the
// last error; every transport gets its attempt regardless of earlier
// failures.
type MultiNotifier []Notifier

func (m MultiNotifier) NotifyFailure(ctx context.Context, event FailureEvent) error {
	var lastErr error
	for _, n := range m {
		if err := n.NotifyFailure(ctx, event); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
