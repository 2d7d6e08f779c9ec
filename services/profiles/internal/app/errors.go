package app

import "errors"

var (
	ErrWebhookDisabled  = errors.New("webhook not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidEvent     = errors.New("invalid webhook event")
	ErrPublishFailed    = errors.New("publish failed")
)
