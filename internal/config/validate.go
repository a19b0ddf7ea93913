package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	errs = appendDurationErrors(errs, "POLL_INTERVAL", cfg.PollIntervalStr)
	errs = appendDurationErrors(errs, "CLAIM_STALE_AFTER", cfg.ClaimStaleAfterStr)
	errs = appendDurationErrors(errs, "WEBHOOK_TIMEOUT", cfg.WebhookTimeoutStr)

	// A claim must outlive the slowest possible delivery, otherwise the
	// recovery sweep requeues steps that are still in flight.
	if cfg.ClaimStaleAfter > 0 && cfg.WebhookTimeout > 0 && cfg.ClaimStaleAfter <= cfg.WebhookTimeout {
		errs = append(errs, ValidationError{
			Field:   "CLAIM_STALE_AFTER",
			Message: fmt.Sprintf("must exceed WEBHOOK_TIMEOUT (%s)", cfg.WebhookTimeoutStr),
		})
	}

	if _, err := cron.ParseStandard(cfg.RecoveryCron); err != nil {
		errs = append(errs, ValidationError{
			Field:   "RECOVERY_CRON",
			Message: fmt.Sprintf("invalid cron expression: %v", err),
		})
	}

	if cfg.ChannelEmailURL == "" && cfg.ChannelSMSURL == "" && cfg.ChannelChatURL == "" {
		errs = append(errs, ValidationError{
			Field:   "CHANNEL_EMAIL_URL",
			Message: "at least one channel endpoint is required (CHANNEL_EMAIL_URL, CHANNEL_SMS_URL or CHANNEL_CHAT_URL)",
		})
	}

	if cfg.WebhookSecret == "" {
		errs = append(errs, ValidationError{
			Field:   "WEBHOOK_SECRET",
			Message: "required",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func appendDurationErrors(errs ValidationErrors, field, value string) ValidationErrors {
	if value == "" {
		return errs
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %v", err),
		})
	}
	if d <= 0 {
		return append(errs, ValidationError{
			Field:   field,
			Message: "must be positive",
		})
	}
	return errs
}
