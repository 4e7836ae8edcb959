package email

import (
	"context"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/notify-engine/internal/config"
	"github.com/jwalitptl/notify-engine/internal/transport"
)

// Client is the email fallback transport for "email:" channels.
type Client struct {
	dialer *gomail.Dialer
	from   string
}

func NewClient(cfg config.EmailConfig) *Client {
	return &Client{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   cfg.From,
	}
}

func (c *Client) Send(ctx context.Context, target, text string) (transport.Result, error) {
	if err := ctx.Err(); err != nil {
		return transport.Result{}, &transport.Error{Code: "timeout", Message: err.Error()}
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", c.from)
	msg.SetHeader("To", target)
	msg.SetHeader("Subject", "Notification")
	msg.SetBody("text/plain", text)

	if err := c.dialer.DialAndSend(msg); err != nil {
		// SMTP failures are transient from the engine's point of view;
		// address problems surface as bounces, not dial errors.
		return transport.Result{ErrorCode: "connection_error"},
			&transport.Error{Code: "connection_error", Message: err.Error()}
	}
	return transport.Result{Success: true, Timestamp: time.Now().UTC()}, nil
}
