package policy

import (
	"fmt"
	"time"

	"github.com/jwalitptl/notify-engine/internal/config"
	"github.com/jwalitptl/notify-engine/internal/model"
)

// Classification decides whether a delivery failure may ever be retried.
type Classification int

const (
	Retryable Classification = iota
	Permanent
)

// elevatedMinAttempts is the retry ceiling floor for urgent/critical messages.
const elevatedMinAttempts = 6

// permanentCodes are transport error codes that retrying can never fix.
var permanentCodes = map[string]struct{}{
	"channel_not_found": {},
	"user_not_found":    {},
	"not_in_channel":    {},
	"access_denied":     {},
	"msg_too_long":      {},
	"invalid_auth":      {},
	"token_revoked":     {},
	"account_inactive":  {},
}

// retryableCodes are transient transport error codes.
var retryableCodes = map[string]struct{}{
	"rate_limited":        {},
	"service_unavailable": {},
	"internal_error":      {},
	"timeout":             {},
	"connection_error":    {},
}

// failureReasons translates permanent codes into the human-readable text
// recorded on the aggregate.
var failureReasons = map[string]string{
	"channel_not_found": "the target channel does not exist",
	"user_not_found":    "the target user does not exist",
	"not_in_channel":    "the bot is not a member of the target channel",
	"access_denied":     "not authorized to post to the target",
	"msg_too_long":      "the rendered message exceeds the platform limit",
	"invalid_auth":      "the delivery credentials were rejected",
	"token_revoked":     "the delivery credentials have been revoked",
	"account_inactive":  "the delivery account is inactive",
}

// Service is the pure delivery policy: error classification, retry ceilings
// and backoff computation. It performs no I/O.
type Service struct {
	cfg config.DeliveryConfig
}

func NewService(cfg config.DeliveryConfig) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.UnknownErrorCap <= 0 {
		cfg.UnknownErrorCap = 10
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 2 * time.Second
	}
	if cfg.ElevatedBackoff <= 0 {
		cfg.ElevatedBackoff = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	return &Service{cfg: cfg}
}

func (s *Service) MaxAttempts() int {
	return s.cfg.MaxAttempts
}

// ClassifyError maps a transport error code to Permanent or Retryable.
// Unknown codes default to Retryable so a misclassified error never silently
// loses a message.
func (s *Service) ClassifyError(code string) Classification {
	if _, ok := permanentCodes[code]; ok {
		return Permanent
	}
	return Retryable
}

// known reports whether the code appears in either classification table.
func (s *Service) known(code string) bool {
	if _, ok := permanentCodes[code]; ok {
		return true
	}
	_, ok := retryableCodes[code]
	return ok
}

// ShouldRetry reports whether another attempt is allowed. Urgent and critical
// priorities get an effective ceiling of at least elevatedMinAttempts.
func (s *Service) ShouldRetry(attempt, maxAttempts int, priority model.Priority) bool {
	effective := maxAttempts
	if priority.Elevated() && effective < elevatedMinAttempts {
		effective = elevatedMinAttempts
	}
	return attempt < effective
}

// ShouldRetryCode applies ShouldRetry plus the unknown-error cap: codes absent
// from both tables stop retrying after UnknownErrorCap attempts regardless of
// priority, so a persistently misclassified error cannot loop forever.
func (s *Service) ShouldRetryCode(code string, attempt, maxAttempts int, priority model.Priority) bool {
	if !s.known(code) && attempt >= s.cfg.UnknownErrorCap {
		return false
	}
	return s.ShouldRetry(attempt, maxAttempts, priority)
}

// ComputeBackoff returns base * 2^attempt capped at the configured ceiling,
// with a smaller base for elevated priorities.
func (s *Service) ComputeBackoff(attempt int, priority model.Priority) time.Duration {
	base := s.cfg.BaseBackoff
	if priority.Elevated() {
		base = s.cfg.ElevatedBackoff
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffCap {
			return s.cfg.BackoffCap
		}
	}
	if delay > s.cfg.BackoffCap {
		return s.cfg.BackoffCap
	}
	return delay
}

// TranslateFailure returns the human-readable reason recorded on a permanent
// failure.
func (s *Service) TranslateFailure(code string) string {
	if reason, ok := failureReasons[code]; ok {
		return reason
	}
	return fmt.Sprintf("delivery failed with code %q", code)
}
