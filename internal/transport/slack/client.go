package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwalitptl/notify-engine/internal/config"
	"github.com/jwalitptl/notify-engine/internal/transport"
	"github.com/jwalitptl/notify-engine/pkg/logger"
)

// Client posts messages through the chat platform's Web API. The API is not
// transactional: a timed-out call may still have delivered, which is why the
// engine only promises at-least-once to the platform.
type Client struct {
	apiURL  string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *logger.Logger
}

func NewClient(cfg config.SlackConfig, logger *logger.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		apiURL:  cfg.APIURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger.WithComponent("slack"),
	}
}

type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (c *Client) Send(ctx context.Context, target, text string) (transport.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return transport.Result{}, &transport.Error{Code: "timeout", Message: err.Error()}
	}

	body, err := json.Marshal(postMessageRequest{Channel: target, Text: text})
	if err != nil {
		return transport.Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return transport.Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return transport.Result{}, &transport.Error{Code: "timeout", Message: err.Error()}
		}
		return transport.Result{}, &transport.Error{Code: "connection_error", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return transport.Result{ErrorCode: "rate_limited"},
			&transport.Error{Code: "rate_limited", Message: "platform rate limit hit"}
	}
	if resp.StatusCode >= 500 {
		return transport.Result{ErrorCode: "service_unavailable"},
			&transport.Error{Code: "service_unavailable", Message: resp.Status}
	}

	var parsed postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return transport.Result{}, &transport.Error{Code: "internal_error", Message: err.Error()}
	}
	if !parsed.OK {
		c.logger.Debug("platform rejected message", "code", parsed.Error, "target", target)
		return transport.Result{ErrorCode: parsed.Error},
			&transport.Error{Code: parsed.Error, Message: "platform rejected message"}
	}

	return transport.Result{Success: true, Timestamp: time.Now().UTC()}, nil
}
